package model

import (
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

type MonthlyType string

const (
	MonthlyDayOfMonth   MonthlyType = "DAY_OF_MONTH"
	MonthlyNthDayOfWeek MonthlyType = "NTH_DAY_OF_WEEK"
)

type EndType string

const (
	EndNever            EndType = "NEVER"
	EndOnDate           EndType = "ON_DATE"
	EndAfterOccurrences EndType = "AFTER_OCCURRENCES"
)

type NudgeStatus string

const (
	NudgeStatusActive   NudgeStatus = "ACTIVE"
	NudgeStatusDisabled NudgeStatus = "DISABLED"
	NudgeStatusFinished NudgeStatus = "FINISHED"
)

// Nudge is a recurring reminder task definition. Recurrence fields are
// validated at creation time; the scheduling core assumes they are
// structurally valid.
type Nudge struct {
	Base
	TeamID      uuid.UUID   `db:"team_id" json:"team_id"`
	CreatorID   uuid.UUID   `db:"creator_id" json:"creator_id"`
	Name        string      `db:"name" json:"name"`
	Slug        string      `db:"slug" json:"slug"`
	Description *string     `db:"description" json:"description,omitempty"`
	Frequency   Frequency   `db:"frequency" json:"frequency"`
	Interval    int         `db:"interval" json:"interval"`
	DayOfWeek   *int        `db:"day_of_week" json:"day_of_week,omitempty"`
	MonthlyType *MonthlyType `db:"monthly_type" json:"monthly_type,omitempty"`
	DayOfMonth  *int        `db:"day_of_month" json:"day_of_month,omitempty"`
	// NthOccurrence counts the weekday within the month; 5 or greater means
	// the last such weekday.
	NthOccurrence       *int       `db:"nth_occurrence" json:"nth_occurrence,omitempty"`
	DayOfWeekForMonthly *int       `db:"day_of_week_for_monthly" json:"day_of_week_for_monthly,omitempty"`
	TimeOfDay           string     `db:"time_of_day" json:"time_of_day"`
	Timezone            string     `db:"timezone" json:"timezone"`
	EndType             EndType    `db:"end_type" json:"end_type"`
	EndDate             *time.Time `db:"end_date" json:"end_date,omitempty"`
	EndAfterOccurrences *int       `db:"end_after_occurrences" json:"end_after_occurrences,omitempty"`
	StartDate           time.Time  `db:"start_date" json:"start_date"`
	Status              NudgeStatus `db:"status" json:"status"`
}

// NudgeRecipient is a person targeted by a nudge. Email is lower-cased and
// deduplicated at creation; immutable afterwards.
type NudgeRecipient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	NudgeID   uuid.UUID  `db:"nudge_id" json:"nudge_id"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	UserID    *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

type CreateNudgeRequest struct {
	TeamID              uuid.UUID                `json:"team_id" validate:"required"`
	CreatorID           uuid.UUID                `json:"creator_id" validate:"required"`
	Name                string                   `json:"name" validate:"required,max=120"`
	Description         *string                  `json:"description" validate:"omitempty,max=2000"`
	Frequency           Frequency                `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY"`
	Interval            int                      `json:"interval" validate:"required,min=1,max=365"`
	DayOfWeek           *int                     `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	MonthlyType         *MonthlyType             `json:"monthly_type" validate:"omitempty,oneof=DAY_OF_MONTH NTH_DAY_OF_WEEK"`
	DayOfMonth          *int                     `json:"day_of_month" validate:"omitempty,min=1,max=31"`
	NthOccurrence       *int                     `json:"nth_occurrence" validate:"omitempty,min=1,max=5"`
	DayOfWeekForMonthly *int                     `json:"day_of_week_for_monthly" validate:"omitempty,min=0,max=6"`
	TimeOfDay           string                   `json:"time_of_day" validate:"required"`
	Timezone            string                   `json:"timezone" validate:"required"`
	EndType             EndType                  `json:"end_type" validate:"required,oneof=NEVER ON_DATE AFTER_OCCURRENCES"`
	EndDate             *time.Time               `json:"end_date"`
	EndAfterOccurrences *int                     `json:"end_after_occurrences" validate:"omitempty,min=1"`
	StartDate           time.Time                `json:"start_date" validate:"required"`
	Recipients          []CreateRecipientRequest `json:"recipients" validate:"required,min=1,dive"`
}

type CreateRecipientRequest struct {
	Name   string     `json:"name" validate:"required,max=120"`
	Email  string     `json:"email" validate:"required,email"`
	UserID *uuid.UUID `json:"user_id"`
}

type UpdateNudgeRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=120"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	TimeOfDay   *string `json:"time_of_day"`
	Timezone    *string `json:"timezone"`
}

type NudgeFilters struct {
	TeamID uuid.UUID
	Status NudgeStatus
}
