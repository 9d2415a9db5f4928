package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
)

type companyRepository struct {
	BaseRepository
}

func NewCompanyRepository(base BaseRepository) repository.CompanyRepository {
	return &companyRepository{base}
}

func (r *companyRepository) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	query := `
		SELECT id, name, slug, plan_id, created_at, updated_at
		FROM companies
		WHERE id = $1
	`
	var company model.Company
	err := r.GetDB().GetContext(ctx, &company, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

func (r *companyRepository) GetMember(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	query := `
		SELECT id, company_id, team_id, name, email, status, created_at, updated_at
		FROM members
		WHERE id = $1
	`
	var member model.Member
	err := r.GetDB().GetContext(ctx, &member, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &member, nil
}

func (r *companyRepository) GetPlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error) {
	query := `
		SELECT p.id AS plan_id, p.max_users, p.max_teams, p.max_nudges, p.max_recipients
		FROM plans p
		JOIN companies c ON c.plan_id = p.id
		WHERE c.id = $1
	`
	var limits model.PlanLimits
	err := r.GetDB().GetContext(ctx, &limits, query, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan limits: %w", err)
	}
	return &limits, nil
}

func (r *companyRepository) GetUsage(ctx context.Context, companyID uuid.UUID) (*model.CompanyUsage, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM members m WHERE m.company_id = $1 AND m.status = 'ACTIVE') AS active_members,
			(SELECT COUNT(*) FROM teams t WHERE t.company_id = $1 AND t.status = 'ACTIVE') AS active_teams,
			(SELECT COUNT(*) FROM nudges n
				JOIN teams t ON t.id = n.team_id
				WHERE t.company_id = $1 AND n.status = 'ACTIVE') AS active_nudges
	`
	var usage model.CompanyUsage
	if err := r.GetDB().GetContext(ctx, &usage, query, companyID); err != nil {
		return nil, fmt.Errorf("failed to get company usage: %w", err)
	}
	return &usage, nil
}

// DisableExcessMembers disables active members beyond keep, newest first.
func (r *companyRepository) DisableExcessMembers(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	query := `
		UPDATE members SET status = 'DISABLED', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM members
			WHERE company_id = $1 AND status = 'ACTIVE'
			ORDER BY created_at DESC
			LIMIT GREATEST((SELECT COUNT(*) FROM members WHERE company_id = $1 AND status = 'ACTIVE') - $2, 0)
		)
	`
	result, err := r.GetDB().ExecContext(ctx, query, companyID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to disable excess members: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// DisableExcessTeams disables active teams beyond keep, newest first, and
// returns the affected team ids so the caller can cascade.
func (r *companyRepository) DisableExcessTeams(ctx context.Context, companyID uuid.UUID, keep int) ([]uuid.UUID, error) {
	query := `
		UPDATE teams SET status = 'DISABLED', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM teams
			WHERE company_id = $1 AND status = 'ACTIVE'
			ORDER BY created_at DESC
			LIMIT GREATEST((SELECT COUNT(*) FROM teams WHERE company_id = $1 AND status = 'ACTIVE') - $2, 0)
		)
		RETURNING id
	`
	var ids []uuid.UUID
	if err := r.GetDB().SelectContext(ctx, &ids, query, companyID, keep); err != nil {
		return nil, fmt.Errorf("failed to disable excess teams: %w", err)
	}
	return ids, nil
}

func (r *companyRepository) DisableExcessNudges(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	query := `
		UPDATE nudges SET status = 'DISABLED', updated_at = NOW()
		WHERE id IN (
			SELECT n.id FROM nudges n
			JOIN teams t ON t.id = n.team_id
			WHERE t.company_id = $1 AND n.status = 'ACTIVE'
			ORDER BY n.created_at DESC
			LIMIT GREATEST((
				SELECT COUNT(*) FROM nudges n2
				JOIN teams t2 ON t2.id = n2.team_id
				WHERE t2.company_id = $1 AND n2.status = 'ACTIVE') - $2, 0)
		)
	`
	result, err := r.GetDB().ExecContext(ctx, query, companyID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to disable excess nudges: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func (r *companyRepository) DisableTeamCascade(ctx context.Context, teamID uuid.UUID) error {
	if _, err := r.GetDB().ExecContext(ctx,
		`UPDATE members SET status = 'DISABLED', updated_at = NOW() WHERE team_id = $1 AND status = 'ACTIVE'`,
		teamID); err != nil {
		return fmt.Errorf("failed to disable team members: %w", err)
	}
	if _, err := r.GetDB().ExecContext(ctx,
		`UPDATE nudges SET status = 'DISABLED', updated_at = NOW() WHERE team_id = $1 AND status = 'ACTIVE'`,
		teamID); err != nil {
		return fmt.Errorf("failed to disable team nudges: %w", err)
	}
	return nil
}

func (r *companyRepository) DisableNudgesOverRecipientLimit(ctx context.Context, companyID uuid.UUID, maxRecipients int) (int, error) {
	query := `
		UPDATE nudges SET status = 'DISABLED', updated_at = NOW()
		WHERE id IN (
			SELECT n.id FROM nudges n
			JOIN teams t ON t.id = n.team_id
			WHERE t.company_id = $1 AND n.status = 'ACTIVE'
			AND (SELECT COUNT(*) FROM nudge_recipients nr WHERE nr.nudge_id = n.id) > $2
		)
	`
	result, err := r.GetDB().ExecContext(ctx, query, companyID, maxRecipients)
	if err != nil {
		return 0, fmt.Errorf("failed to disable nudges over recipient limit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
