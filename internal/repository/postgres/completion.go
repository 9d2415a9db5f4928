package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
)

type completionRepository struct {
	BaseRepository
}

func NewCompletionRepository(base BaseRepository) repository.CompletionRepository {
	return &completionRepository{base}
}

func (r *completionRepository) Create(ctx context.Context, tx *sqlx.Tx, completion *model.NudgeCompletion) error {
	if completion.ID == uuid.Nil {
		completion.ID = uuid.New()
	}

	query := `
		INSERT INTO nudge_completions (
			id, nudge_id, instance_id, completed_name, completed_email,
			completed_by, comment, ip_address, user_agent, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.ext(tx).ExecContext(ctx, query,
		completion.ID, completion.NudgeID, completion.InstanceID,
		completion.CompletedName, completion.CompletedEmail, completion.CompletedBy,
		completion.Comment, completion.IPAddress, completion.UserAgent, completion.CompletedAt,
	)
	if err != nil {
		// The instance_id uniqueness constraint makes the losing writer of
		// a concurrent completion race observe ErrDuplicate.
		if mapped := mapInsertError(err); errors.Is(mapped, repository.ErrDuplicate) {
			return mapped
		}
		return fmt.Errorf("failed to create completion: %w", err)
	}
	return nil
}

func (r *completionRepository) GetByInstance(ctx context.Context, instanceID uuid.UUID) (*model.NudgeCompletion, error) {
	query := `
		SELECT id, nudge_id, instance_id, completed_name, completed_email,
			   completed_by, comment, ip_address, user_agent, completed_at
		FROM nudge_completions
		WHERE instance_id = $1
	`
	var completion model.NudgeCompletion
	err := r.GetDB().GetContext(ctx, &completion, query, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	return &completion, nil
}
