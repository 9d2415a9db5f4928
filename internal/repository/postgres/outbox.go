package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.ext(tx).ExecContext(ctx, query,
		event.ID, event.EventType, event.Payload, event.Status,
		event.RetryCount, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	// Failed events come back once their retry_at backoff elapses.
	// Publishing is at-least-once, so overlapping pollers are safe without
	// row locks; subscribers tolerate the replays.
	query := `
		SELECT id, event_type, payload, status, error_message, retry_count,
			   retry_at, created_at, processed_at, updated_at
		FROM outbox_events
		WHERE status = $1
		   OR (status = $2 AND retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $3
	`
	var events []*model.OutboxEvent
	if err := r.GetDB().SelectContext(ctx, &events, query,
		model.OutboxStatusPending, model.OutboxStatusFailed, limit); err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $1, error_message = $2, retry_at = $3,
			processed_at = CASE WHEN $1 = 'PROCESSED' THEN NOW() ELSE processed_at END,
			retry_count = CASE WHEN $2 IS NOT NULL THEN retry_count + 1 ELSE retry_count END,
			updated_at = NOW()
		WHERE id = $4
	`
	if _, err := r.GetDB().ExecContext(ctx, query, status, errMsg, retryAt, id); err != nil {
		return fmt.Errorf("failed to update outbox event status: %w", err)
	}
	return nil
}
