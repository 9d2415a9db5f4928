package email

import (
	"context"
	"time"
)

// ReminderData is the template payload for a recurring reminder email. The
// completion URL embeds the recipient event's single-use token.
type ReminderData struct {
	NudgeName     string
	Description   string
	RecipientName string
	ScheduledFor  time.Time
	CompletionURL string
	ExpiresAt     time.Time
}

// CompletionNoticeData is the template payload for the notification sent to
// the creator and recipients once an instance is completed.
type CompletionNoticeData struct {
	NudgeName      string
	CompletedName  string
	CompletedAt    time.Time
	Comment        string
	IsCreator      bool
	NextOccurrence *time.Time
}

// Sender is the outbound mail boundary. Implementations report per-send
// success or failure; the core assumes nothing about delivery beyond that.
type Sender interface {
	SendReminder(ctx context.Context, to string, data ReminderData) error
	SendCompletionNotice(ctx context.Context, to string, data CompletionNoticeData) error
}
