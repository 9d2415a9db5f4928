package model

import (
	"time"

	"github.com/google/uuid"
)

type InstanceStatus string

// PENDING is the only non-terminal state. COMPLETED is set exactly once by
// the completion resolver; DISABLED by plan enforcement.
const (
	InstanceStatusPending   InstanceStatus = "PENDING"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
	InstanceStatusDisabled  InstanceStatus = "DISABLED"
)

// NudgeInstance is one concrete occurrence of a nudge. The store enforces
// uniqueness on (nudge_id, scheduled_for) so overlapping materializer runs
// cannot create the same occurrence twice.
type NudgeInstance struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	NudgeID      uuid.UUID      `db:"nudge_id" json:"nudge_id"`
	ScheduledFor time.Time      `db:"scheduled_for" json:"scheduled_for"`
	Status       InstanceStatus `db:"status" json:"status"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// NudgeRecipientEvent is one recipient's delivery and completion record for a
// given instance, keyed by a single-use token. The recipient name and email
// are snapshotted at materialization time.
type NudgeRecipientEvent struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	InstanceID     uuid.UUID  `db:"instance_id" json:"instance_id"`
	NudgeID        uuid.UUID  `db:"nudge_id" json:"nudge_id"`
	RecipientID    uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	RecipientName  string     `db:"recipient_name" json:"recipient_name"`
	RecipientEmail string     `db:"recipient_email" json:"recipient_email"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	Sent           bool       `db:"sent" json:"sent"`
	Attempts       int        `db:"attempts" json:"attempts"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	UsedAt         *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the event's token is past its expiry.
func (e *NudgeRecipientEvent) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Used reports whether the event's token has already been consumed.
func (e *NudgeRecipientEvent) Used() bool {
	return e.UsedAt != nil
}

// DispatchItem is a pending recipient event joined with the nudge fields the
// reminder email needs.
type DispatchItem struct {
	NudgeRecipientEvent
	NudgeName    string    `db:"nudge_name"`
	Description  *string   `db:"nudge_description"`
	ScheduledFor time.Time `db:"scheduled_for"`
}
