package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/nudgehq/nudge-api/internal/model"
)

// ErrEnded is returned by Next when the rule's end policy leaves no further
// occurrence.
var ErrEnded = errors.New("recurrence has ended")

// Rule is the validated, timezone-resolved recurrence definition of a nudge.
// All computations are pure functions of their inputs.
type Rule struct {
	Frequency model.Frequency
	Interval  int

	// Weekly
	DayOfWeek time.Weekday

	// Monthly
	MonthlyType   model.MonthlyType
	DayOfMonth    int
	NthOccurrence int
	NthWeekday    time.Weekday

	Hour   int
	Minute int
	Loc    *time.Location

	EndType             model.EndType
	EndDate             time.Time
	EndAfterOccurrences int

	StartDate time.Time
}

// FromNudge resolves a nudge's stored schedule fields into a Rule. It is the
// single place where the timezone and time-of-day strings are parsed.
func FromNudge(n *model.Nudge) (Rule, error) {
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid timezone %q: %w", n.Timezone, err)
	}

	var hour, minute int
	if _, err := fmt.Sscanf(n.TimeOfDay, "%d:%d", &hour, &minute); err != nil {
		return Rule{}, fmt.Errorf("invalid time of day %q: %w", n.TimeOfDay, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("time of day %q out of range", n.TimeOfDay)
	}

	r := Rule{
		Frequency: n.Frequency,
		Interval:  n.Interval,
		Hour:      hour,
		Minute:    minute,
		Loc:       loc,
		EndType:   n.EndType,
		StartDate: n.StartDate,
	}
	if r.Interval < 1 {
		return Rule{}, fmt.Errorf("interval must be positive, got %d", n.Interval)
	}

	switch n.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if n.DayOfWeek == nil {
			return Rule{}, errors.New("weekly nudge missing day of week")
		}
		r.DayOfWeek = time.Weekday(*n.DayOfWeek)
	case model.FrequencyMonthly:
		if n.MonthlyType == nil {
			return Rule{}, errors.New("monthly nudge missing monthly type")
		}
		r.MonthlyType = *n.MonthlyType
		switch *n.MonthlyType {
		case model.MonthlyDayOfMonth:
			if n.DayOfMonth == nil {
				return Rule{}, errors.New("monthly nudge missing day of month")
			}
			r.DayOfMonth = *n.DayOfMonth
		case model.MonthlyNthDayOfWeek:
			if n.NthOccurrence == nil || n.DayOfWeekForMonthly == nil {
				return Rule{}, errors.New("monthly nudge missing nth-weekday selector")
			}
			r.NthOccurrence = *n.NthOccurrence
			r.NthWeekday = time.Weekday(*n.DayOfWeekForMonthly)
		default:
			return Rule{}, fmt.Errorf("unknown monthly type %q", *n.MonthlyType)
		}
	default:
		return Rule{}, fmt.Errorf("unknown frequency %q", n.Frequency)
	}

	switch n.EndType {
	case model.EndNever:
	case model.EndOnDate:
		if n.EndDate == nil {
			return Rule{}, errors.New("nudge ends on date but end date is missing")
		}
		r.EndDate = *n.EndDate
	case model.EndAfterOccurrences:
		if n.EndAfterOccurrences == nil || *n.EndAfterOccurrences < 1 {
			return Rule{}, errors.New("nudge ends after occurrences but count is missing")
		}
		r.EndAfterOccurrences = *n.EndAfterOccurrences
	default:
		return Rule{}, fmt.Errorf("unknown end type %q", n.EndType)
	}

	return r, nil
}

// First computes the rule's first occurrence, on or after StartDate.
func (r Rule) First() (time.Time, error) {
	start := r.StartDate.In(r.Loc)
	y, m, d := start.Date()

	var first time.Time
	switch r.Frequency {
	case model.FrequencyDaily:
		first = r.at(y, m, d)
	case model.FrequencyWeekly:
		shift := (int(r.DayOfWeek) - int(start.Weekday()) + 7) % 7
		first = r.at(y, m, d+shift)
	case model.FrequencyMonthly:
		first = r.inMonth(y, m)
		if first.Before(r.at(y, m, d)) {
			first = r.inMonth(y, m+1)
		}
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", r.Frequency)
	}

	if r.EndType == model.EndOnDate && first.After(r.EndDate) {
		return time.Time{}, ErrEnded
	}
	return first, nil
}

// Next computes the occurrence following from, given how many occurrences
// have already happened. Calendar arithmetic runs on civil fields in the
// rule's timezone so a DST transition between occurrences never shifts the
// local time of day.
func (r Rule) Next(from time.Time, occurrences int) (time.Time, error) {
	if r.EndType == model.EndAfterOccurrences && occurrences >= r.EndAfterOccurrences {
		return time.Time{}, ErrEnded
	}

	local := from.In(r.Loc)
	y, m, d := local.Date()

	var next time.Time
	switch r.Frequency {
	case model.FrequencyDaily:
		next = r.at(y, m, d+r.Interval)
	case model.FrequencyWeekly:
		// Step in calendar days, then re-anchor to the configured weekday
		// with the minimal shift. A scheduled_for that drifted off the
		// configured weekday corrects itself instead of perpetuating.
		stepped := r.at(y, m, d+7*r.Interval)
		shift := (int(r.DayOfWeek) - int(stepped.Weekday()) + 7) % 7
		if shift > 3 {
			shift -= 7
		}
		sy, sm, sd := stepped.Date()
		next = r.at(sy, sm, sd+shift)
	case model.FrequencyMonthly:
		next = r.inMonth(y, time.Month(int(m)+r.Interval))
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", r.Frequency)
	}

	if r.EndType == model.EndOnDate && next.After(r.EndDate) {
		return time.Time{}, ErrEnded
	}
	return next, nil
}

// at builds the instant for a civil date at the rule's time of day.
// time.Date normalizes out-of-range day values, which is what makes the
// calendar stepping above DST-safe.
func (r Rule) at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, r.Hour, r.Minute, 0, 0, r.Loc)
}

// inMonth resolves the rule's monthly selector within the given month.
func (r Rule) inMonth(year int, month time.Month) time.Time {
	// Normalize the month before doing day arithmetic in it.
	norm := time.Date(year, month, 1, 0, 0, 0, 0, r.Loc)
	year, month = norm.Year(), norm.Month()
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, r.Loc).Day()

	switch r.MonthlyType {
	case model.MonthlyNthDayOfWeek:
		firstWeekday := norm.Weekday()
		offset := (int(r.NthWeekday) - int(firstWeekday) + 7) % 7
		n := r.NthOccurrence
		if n > 5 {
			n = 5
		}
		day := 1 + offset + 7*(n-1)
		// "5th" or "last" beyond the month's span falls back to the last
		// such weekday.
		for day > lastDay {
			day -= 7
		}
		return r.at(year, month, day)
	default: // MonthlyDayOfMonth
		day := r.DayOfMonth
		if day > lastDay {
			day = lastDay
		}
		return r.at(year, month, day)
	}
}
