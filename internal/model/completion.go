package model

import (
	"time"

	"github.com/google/uuid"
)

// NudgeCompletion is the canonical record that an instance was completed.
// The store enforces uniqueness on instance_id; the losing writer in a
// concurrent completion race observes the duplicate and reports
// AlreadyCompleted.
type NudgeCompletion struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NudgeID        uuid.UUID  `db:"nudge_id" json:"nudge_id"`
	InstanceID     uuid.UUID  `db:"instance_id" json:"instance_id"`
	CompletedName  string     `db:"completed_name" json:"completed_name"`
	CompletedEmail string     `db:"completed_email" json:"completed_email"`
	CompletedBy    *uuid.UUID `db:"completed_by" json:"completed_by,omitempty"`
	Comment        *string    `db:"comment" json:"comment,omitempty"`
	IPAddress      string     `db:"ip_address" json:"ip_address"`
	UserAgent      string     `db:"user_agent" json:"user_agent"`
	CompletedAt    time.Time  `db:"completed_at" json:"completed_at"`
}

// CompletionOutcome enumerates the user-visible results of a completion
// attempt. Each maps to a distinct, non-leaking message.
type CompletionOutcome string

const (
	OutcomeCompleted        CompletionOutcome = "completed"
	OutcomeTokenNotFound    CompletionOutcome = "token_not_found"
	OutcomeTokenExpired     CompletionOutcome = "token_expired"
	OutcomeAlreadyCompleted CompletionOutcome = "already_completed"
)

// CompletionResult is returned by the completion resolver. For
// AlreadyCompleted it carries the existing completion so the caller can show
// who completed and when; NextOccurrence is display-only and never triggers
// materialization.
type CompletionResult struct {
	Outcome        CompletionOutcome `json:"outcome"`
	Completion     *NudgeCompletion  `json:"completion,omitempty"`
	NudgeName      string            `json:"nudge_name,omitempty"`
	NextOccurrence *time.Time        `json:"next_occurrence,omitempty"`
}

// CompleteRequest carries the optional comment and actor context captured
// from the anonymous completion click.
type CompleteRequest struct {
	Comment   *string `json:"comment" validate:"omitempty,max=2000"`
	IPAddress string  `json:"-"`
	UserAgent string  `json:"-"`
}

// EventView is the read-only pre-completion view rendered on the
// confirmation page. Looking it up never mutates state.
type EventView struct {
	NudgeName      string            `json:"nudge_name"`
	Description    *string           `json:"description,omitempty"`
	RecipientName  string            `json:"recipient_name"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Outcome        CompletionOutcome `json:"outcome"`
	Completion     *NudgeCompletion  `json:"completion,omitempty"`
}
