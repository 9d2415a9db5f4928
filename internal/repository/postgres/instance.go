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

type instanceRepository struct {
	BaseRepository
}

func NewInstanceRepository(base BaseRepository) repository.InstanceRepository {
	return &instanceRepository{base}
}

func (r *instanceRepository) Create(ctx context.Context, tx *sqlx.Tx, instance *model.NudgeInstance) error {
	now := time.Now()
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	instance.CreatedAt = now
	instance.UpdatedAt = now

	query := `
		INSERT INTO nudge_instances (id, nudge_id, scheduled_for, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.ext(tx).ExecContext(ctx, query,
		instance.ID, instance.NudgeID, instance.ScheduledFor, instance.Status,
		instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		// The (nudge_id, scheduled_for) constraint turns a concurrent
		// double-materialization into ErrDuplicate.
		if mapped := mapInsertError(err); errors.Is(mapped, repository.ErrDuplicate) {
			return mapped
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

func (r *instanceRepository) Get(ctx context.Context, id uuid.UUID) (*model.NudgeInstance, error) {
	query := `
		SELECT id, nudge_id, scheduled_for, status, completed_at, created_at, updated_at
		FROM nudge_instances
		WHERE id = $1
	`
	var instance model.NudgeInstance
	err := r.GetDB().GetContext(ctx, &instance, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &instance, nil
}

func (r *instanceRepository) GetLatest(ctx context.Context, nudgeID uuid.UUID) (*model.NudgeInstance, error) {
	query := `
		SELECT id, nudge_id, scheduled_for, status, completed_at, created_at, updated_at
		FROM nudge_instances
		WHERE nudge_id = $1
		ORDER BY scheduled_for DESC
		LIMIT 1
	`
	var instance model.NudgeInstance
	err := r.GetDB().GetContext(ctx, &instance, query, nudgeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest instance: %w", err)
	}
	return &instance, nil
}

func (r *instanceRepository) CountForNudge(ctx context.Context, nudgeID uuid.UUID) (int, error) {
	var count int
	err := r.GetDB().GetContext(ctx, &count,
		`SELECT COUNT(*) FROM nudge_instances WHERE nudge_id = $1`, nudgeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

func (r *instanceRepository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, completedAt time.Time) error {
	// Guarded on PENDING: COMPLETED and DISABLED are terminal.
	query := `
		UPDATE nudge_instances
		SET status = $1, completed_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	result, err := r.ext(tx).ExecContext(ctx, query,
		model.InstanceStatusCompleted, completedAt, id, model.InstanceStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark instance completed: %w", err)
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
