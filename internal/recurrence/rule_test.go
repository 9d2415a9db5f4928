package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge-api/internal/model"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func intPtr(v int) *int { return &v }

func baseNudge() *model.Nudge {
	return &model.Nudge{
		Frequency: model.FrequencyDaily,
		Interval:  1,
		TimeOfDay: "09:00",
		Timezone:  "Australia/Melbourne",
		EndType:   model.EndNever,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFromNudgeValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.Nudge)
		wantErr string
	}{
		{"bad timezone", func(n *model.Nudge) { n.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"bad time of day", func(n *model.Nudge) { n.TimeOfDay = "25:99" }, "out of range"},
		{"weekly without weekday", func(n *model.Nudge) { n.Frequency = model.FrequencyWeekly }, "missing day of week"},
		{"monthly without type", func(n *model.Nudge) { n.Frequency = model.FrequencyMonthly }, "missing monthly type"},
		{"end date missing", func(n *model.Nudge) { n.EndType = model.EndOnDate }, "end date is missing"},
		{"occurrence count missing", func(n *model.Nudge) { n.EndType = model.EndAfterOccurrences }, "count is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := baseNudge()
			tt.mutate(n)
			_, err := FromNudge(n)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDailyInterval(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.Interval = 2
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 3, 9, 0, 0, 0, mel), next)
}

func TestDailyAcrossDSTKeepsLocalTime(t *testing.T) {
	// Melbourne leaves DST on 2024-04-07 at 03:00 AEDT.
	mel := mustLoc(t, "Australia/Melbourne")
	rule, err := FromNudge(baseNudge())
	require.NoError(t, err)

	from := time.Date(2024, 4, 6, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)

	assert.Equal(t, 9, next.In(mel).Hour())
	assert.Equal(t, time.Date(2024, 4, 7, 9, 0, 0, 0, mel), next)
	// The UTC gap is 25h, not a naive 24h.
	assert.Equal(t, 25*time.Hour, next.Sub(from))
}

func TestWeeklyAcrossDSTLandsOnConfiguredWeekday(t *testing.T) {
	// Berlin enters DST on 2024-03-31 at 02:00.
	berlin := mustLoc(t, "Europe/Berlin")
	n := baseNudge()
	n.Frequency = model.FrequencyWeekly
	n.Timezone = "Europe/Berlin"
	n.DayOfWeek = intPtr(int(time.Thursday))
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 3, 28, 9, 0, 0, 0, berlin) // Thursday
	next, err := rule.Next(from, 1)
	require.NoError(t, err)

	assert.Equal(t, time.Thursday, next.In(berlin).Weekday())
	assert.Equal(t, 9, next.In(berlin).Hour())
	assert.Equal(t, time.Date(2024, 4, 4, 9, 0, 0, 0, berlin), next)
}

func TestWeeklyReanchorsAfterDrift(t *testing.T) {
	berlin := mustLoc(t, "Europe/Berlin")
	n := baseNudge()
	n.Frequency = model.FrequencyWeekly
	n.Timezone = "Europe/Berlin"
	n.DayOfWeek = intPtr(int(time.Monday))
	rule, err := FromNudge(n)
	require.NoError(t, err)

	// A stored occurrence drifted to Wednesday (e.g. after a rule edit).
	from := time.Date(2024, 5, 8, 9, 0, 0, 0, berlin)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.In(berlin).Weekday())
	assert.Equal(t, time.Date(2024, 5, 13, 9, 0, 0, 0, berlin), next)
}

func TestMonthlyClampToShortMonth(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.Frequency = model.FrequencyMonthly
	mt := model.MonthlyDayOfMonth
	n.MonthlyType = &mt
	n.DayOfMonth = intPtr(31)
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 1, 31, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	// 2024 is a leap year.
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, mel), next)

	from = time.Date(2025, 1, 31, 9, 0, 0, 0, mel)
	next, err = rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 9, 0, 0, 0, mel), next)
}

func TestMonthlyNthWeekday(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.Frequency = model.FrequencyMonthly
	mt := model.MonthlyNthDayOfWeek
	n.MonthlyType = &mt
	n.NthOccurrence = intPtr(2)
	n.DayOfWeekForMonthly = intPtr(int(time.Tuesday))
	rule, err := FromNudge(n)
	require.NoError(t, err)

	// September 2024: Tuesdays fall on the 3rd, 10th, 17th, 24th.
	from := time.Date(2024, 8, 13, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 9, 10, 9, 0, 0, 0, mel), next)
}

func TestMonthlyFifthWeekdayFallsBackToLast(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.Frequency = model.FrequencyMonthly
	mt := model.MonthlyNthDayOfWeek
	n.MonthlyType = &mt
	n.NthOccurrence = intPtr(5)
	n.DayOfWeekForMonthly = intPtr(int(time.Friday))
	rule, err := FromNudge(n)
	require.NoError(t, err)

	// April 2024 has only four Fridays; the last is the 26th.
	from := time.Date(2024, 3, 29, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 26, 9, 0, 0, 0, mel), next)
}

func TestMonthlyIntervalAcrossYearEnd(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.Frequency = model.FrequencyMonthly
	n.Interval = 3
	mt := model.MonthlyDayOfMonth
	n.MonthlyType = &mt
	n.DayOfMonth = intPtr(15)
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 11, 15, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 15, 9, 0, 0, 0, mel), next)
}

func TestEndAfterOccurrences(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.EndType = model.EndAfterOccurrences
	n.EndAfterOccurrences = intPtr(3)
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 9, 0, 0, 0, mel)

	next, err := rule.Next(from, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, mel), next)

	_, err = rule.Next(next, 3)
	assert.ErrorIs(t, err, ErrEnded)
}

func TestEndOnDate(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")
	n := baseNudge()
	n.EndType = model.EndOnDate
	end := time.Date(2024, 3, 2, 23, 59, 59, 0, mel)
	n.EndDate = &end
	rule, err := FromNudge(n)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 9, 0, 0, 0, mel)
	next, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, mel), next)

	_, err = rule.Next(next, 2)
	assert.ErrorIs(t, err, ErrEnded)
}

func TestFirstOccurrence(t *testing.T) {
	mel := mustLoc(t, "Australia/Melbourne")

	t.Run("daily starts on start date", func(t *testing.T) {
		n := baseNudge()
		n.StartDate = time.Date(2024, 6, 10, 0, 0, 0, 0, mel)
		rule, err := FromNudge(n)
		require.NoError(t, err)
		first, err := rule.First()
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 10, 9, 0, 0, 0, mel), first)
	})

	t.Run("weekly rolls forward to configured weekday", func(t *testing.T) {
		n := baseNudge()
		n.Frequency = model.FrequencyWeekly
		n.DayOfWeek = intPtr(int(time.Friday))
		n.StartDate = time.Date(2024, 6, 10, 0, 0, 0, 0, mel) // Monday
		rule, err := FromNudge(n)
		require.NoError(t, err)
		first, err := rule.First()
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 14, 9, 0, 0, 0, mel), first)
	})

	t.Run("monthly skips to next month when selector already passed", func(t *testing.T) {
		n := baseNudge()
		n.Frequency = model.FrequencyMonthly
		mt := model.MonthlyDayOfMonth
		n.MonthlyType = &mt
		n.DayOfMonth = intPtr(5)
		n.StartDate = time.Date(2024, 6, 10, 0, 0, 0, 0, mel)
		rule, err := FromNudge(n)
		require.NoError(t, err)
		first, err := rule.First()
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 7, 5, 9, 0, 0, 0, mel), first)
	})
}

func TestNextIsReferentiallyTransparent(t *testing.T) {
	rule, err := FromNudge(baseNudge())
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 9, 0, 0, 0, mustLoc(t, "Australia/Melbourne"))
	a, err := rule.Next(from, 1)
	require.NoError(t, err)
	b, err := rule.Next(from, 1)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}
