package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
)

type eventRepository struct {
	BaseRepository
}

func NewEventRepository(base BaseRepository) repository.EventRepository {
	return &eventRepository{base}
}

const eventColumns = `
	id, instance_id, nudge_id, recipient_id, recipient_name, recipient_email,
	expires_at, sent, attempts, last_error, sent_at, used_at,
	created_at, updated_at
`

func (r *eventRepository) Create(ctx context.Context, tx *sqlx.Tx, event *model.NudgeRecipientEvent) error {
	now := time.Now()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
		INSERT INTO nudge_recipient_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.ext(tx).ExecContext(ctx, query,
		event.ID, event.InstanceID, event.NudgeID, event.RecipientID,
		event.RecipientName, event.RecipientEmail,
		event.ExpiresAt, event.Sent, event.Attempts, event.LastError,
		event.SentAt, event.UsedAt, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		if mapped := mapInsertError(err); errors.Is(mapped, repository.ErrDuplicate) {
			return mapped
		}
		return fmt.Errorf("failed to create recipient event: %w", err)
	}
	return nil
}

func (r *eventRepository) Get(ctx context.Context, id uuid.UUID) (*model.NudgeRecipientEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM nudge_recipient_events WHERE id = $1`

	var event model.NudgeRecipientEvent
	err := r.GetDB().GetContext(ctx, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient event: %w", err)
	}
	return &event, nil
}

func (r *eventRepository) ListPendingDispatch(ctx context.Context, limit int, maxAttempts int) ([]*model.DispatchItem, error) {
	query := `
		SELECT e.id, e.instance_id, e.nudge_id, e.recipient_id, e.recipient_name,
			   e.recipient_email, e.expires_at, e.sent, e.attempts, e.last_error,
			   e.sent_at, e.used_at, e.created_at, e.updated_at,
			   n.name AS nudge_name, n.description AS nudge_description,
			   i.scheduled_for
		FROM nudge_recipient_events e
		JOIN nudges n ON n.id = e.nudge_id
		JOIN nudge_instances i ON i.id = e.instance_id
		WHERE e.sent = FALSE
		AND e.used_at IS NULL
		AND e.attempts < $1
		AND e.expires_at > NOW()
		AND i.status = 'PENDING'
		ORDER BY e.created_at ASC
		LIMIT $2
	`
	var items []*model.DispatchItem
	if err := r.GetDB().SelectContext(ctx, &items, query, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending dispatch items: %w", err)
	}
	return items, nil
}

func (r *eventRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE nudge_recipient_events
		SET sent = TRUE, sent_at = $1, attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.GetDB().ExecContext(ctx, query, sentAt, id); err != nil {
		return fmt.Errorf("failed to mark event sent: %w", err)
	}
	return nil
}

func (r *eventRepository) RecordFailure(ctx context.Context, id uuid.UUID, sendErr string) error {
	query := `
		UPDATE nudge_recipient_events
		SET attempts = attempts + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.GetDB().ExecContext(ctx, query, sendErr, id); err != nil {
		return fmt.Errorf("failed to record send failure: %w", err)
	}
	return nil
}

func (r *eventRepository) MarkUsed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, usedAt time.Time) error {
	// used_at IS NULL keeps the token single-use even if two completion
	// requests race past the read.
	query := `
		UPDATE nudge_recipient_events
		SET used_at = $1, updated_at = NOW()
		WHERE id = $2 AND used_at IS NULL
	`
	result, err := r.ext(tx).ExecContext(ctx, query, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
