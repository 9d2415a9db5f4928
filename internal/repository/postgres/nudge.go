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

type nudgeRepository struct {
	BaseRepository
}

func NewNudgeRepository(base BaseRepository) repository.NudgeRepository {
	return &nudgeRepository{base}
}

const nudgeColumns = `
	id, team_id, creator_id, name, slug, description,
	frequency, "interval", day_of_week, monthly_type, day_of_month,
	nth_occurrence, day_of_week_for_monthly, time_of_day, timezone,
	end_type, end_date, end_after_occurrences, start_date, status,
	created_at, updated_at
`

func (r *nudgeRepository) Create(ctx context.Context, nudge *model.Nudge, recipients []*model.NudgeRecipient) error {
	now := time.Now()
	nudge.ID = uuid.New()
	nudge.CreatedAt = now
	nudge.UpdatedAt = now

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO nudges (` + nudgeColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		`
		_, err := tx.ExecContext(ctx, query,
			nudge.ID, nudge.TeamID, nudge.CreatorID, nudge.Name, nudge.Slug, nudge.Description,
			nudge.Frequency, nudge.Interval, nudge.DayOfWeek, nudge.MonthlyType, nudge.DayOfMonth,
			nudge.NthOccurrence, nudge.DayOfWeekForMonthly, nudge.TimeOfDay, nudge.Timezone,
			nudge.EndType, nudge.EndDate, nudge.EndAfterOccurrences, nudge.StartDate, nudge.Status,
			nudge.CreatedAt, nudge.UpdatedAt,
		)
		if err != nil {
			if mapped := mapInsertError(err); errors.Is(mapped, repository.ErrDuplicate) {
				return mapped
			}
			return fmt.Errorf("failed to create nudge: %w", err)
		}

		for _, rec := range recipients {
			rec.ID = uuid.New()
			rec.NudgeID = nudge.ID
			rec.CreatedAt = now
			_, err := tx.ExecContext(ctx, `
				INSERT INTO nudge_recipients (id, nudge_id, name, email, user_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rec.ID, rec.NudgeID, rec.Name, rec.Email, rec.UserID, rec.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to create recipient: %w", err)
			}
		}
		return nil
	})
}

func (r *nudgeRepository) Get(ctx context.Context, id uuid.UUID) (*model.Nudge, error) {
	query := `SELECT ` + nudgeColumns + ` FROM nudges WHERE id = $1`

	var nudge model.Nudge
	err := r.GetDB().GetContext(ctx, &nudge, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nudge: %w", err)
	}
	return &nudge, nil
}

func (r *nudgeRepository) GetBySlug(ctx context.Context, slug string) (*model.Nudge, error) {
	query := `SELECT ` + nudgeColumns + ` FROM nudges WHERE slug = $1`

	var nudge model.Nudge
	err := r.GetDB().GetContext(ctx, &nudge, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nudge by slug: %w", err)
	}
	return &nudge, nil
}

func (r *nudgeRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.GetDB().GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM nudges WHERE slug = $1)`, slug)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (r *nudgeRepository) Update(ctx context.Context, nudge *model.Nudge) error {
	nudge.UpdatedAt = time.Now()
	query := `
		UPDATE nudges
		SET name = $1, description = $2, time_of_day = $3, timezone = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := r.GetDB().ExecContext(ctx, query,
		nudge.Name, nudge.Description, nudge.TimeOfDay, nudge.Timezone, nudge.UpdatedAt, nudge.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update nudge: %w", err)
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

func (r *nudgeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NudgeStatus) error {
	result, err := r.GetDB().ExecContext(ctx,
		`UPDATE nudges SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update nudge status: %w", err)
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

func (r *nudgeRepository) List(ctx context.Context, filters *model.NudgeFilters) ([]*model.Nudge, error) {
	query := `SELECT ` + nudgeColumns + ` FROM nudges WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters != nil && filters.TeamID != uuid.Nil {
		query += fmt.Sprintf(" AND team_id = $%d", argCount)
		args = append(args, filters.TeamID)
		argCount++
	}
	if filters != nil && filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	query += " ORDER BY created_at DESC"

	var nudges []*model.Nudge
	if err := r.GetDB().SelectContext(ctx, &nudges, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list nudges: %w", err)
	}
	return nudges, nil
}

func (r *nudgeRepository) ListActive(ctx context.Context) ([]*model.Nudge, error) {
	query := `SELECT ` + nudgeColumns + ` FROM nudges WHERE status = $1 ORDER BY created_at ASC`

	var nudges []*model.Nudge
	if err := r.GetDB().SelectContext(ctx, &nudges, query, model.NudgeStatusActive); err != nil {
		return nil, fmt.Errorf("failed to list active nudges: %w", err)
	}
	return nudges, nil
}

func (r *nudgeRepository) ListRecipients(ctx context.Context, nudgeID uuid.UUID) ([]*model.NudgeRecipient, error) {
	query := `
		SELECT id, nudge_id, name, email, user_id, created_at
		FROM nudge_recipients
		WHERE nudge_id = $1
		ORDER BY created_at ASC
	`
	var recipients []*model.NudgeRecipient
	if err := r.GetDB().SelectContext(ctx, &recipients, query, nudgeID); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}
