package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/model"
)

// All repository interfaces in one file
type (
	// TxRunner executes a function within a store transaction. Services use
	// it for multi-row writes that must commit or roll back together.
	TxRunner interface {
		WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
	}

	// NudgeRepository handles nudge definitions and their recipients.
	NudgeRepository interface {
		Create(ctx context.Context, nudge *model.Nudge, recipients []*model.NudgeRecipient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Nudge, error)
		GetBySlug(ctx context.Context, slug string) (*model.Nudge, error)
		SlugExists(ctx context.Context, slug string) (bool, error)
		Update(ctx context.Context, nudge *model.Nudge) error
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.NudgeStatus) error
		List(ctx context.Context, filters *model.NudgeFilters) ([]*model.Nudge, error)
		ListActive(ctx context.Context) ([]*model.Nudge, error)
		ListRecipients(ctx context.Context, nudgeID uuid.UUID) ([]*model.NudgeRecipient, error)
	}

	// InstanceRepository handles materialized nudge occurrences.
	InstanceRepository interface {
		// Create returns repository.ErrDuplicate when an instance for the
		// same (nudge, scheduled_for) already exists.
		Create(ctx context.Context, tx *sqlx.Tx, instance *model.NudgeInstance) error
		Get(ctx context.Context, id uuid.UUID) (*model.NudgeInstance, error)
		GetLatest(ctx context.Context, nudgeID uuid.UUID) (*model.NudgeInstance, error)
		CountForNudge(ctx context.Context, nudgeID uuid.UUID) (int, error)
		MarkCompleted(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, completedAt time.Time) error
	}

	// EventRepository handles per-recipient delivery and completion records.
	EventRepository interface {
		Create(ctx context.Context, tx *sqlx.Tx, event *model.NudgeRecipientEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.NudgeRecipientEvent, error)
		ListPendingDispatch(ctx context.Context, limit int, maxAttempts int) ([]*model.DispatchItem, error)
		MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
		RecordFailure(ctx context.Context, id uuid.UUID, sendErr string) error
		MarkUsed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, usedAt time.Time) error
	}

	// CompletionRepository handles canonical completion records.
	CompletionRepository interface {
		// Create returns repository.ErrDuplicate when the instance already
		// has a completion; the caller maps that to AlreadyCompleted.
		Create(ctx context.Context, tx *sqlx.Tx, completion *model.NudgeCompletion) error
		GetByInstance(ctx context.Context, instanceID uuid.UUID) (*model.NudgeCompletion, error)
	}

	// CompanyRepository serves plan enforcement: limits, usage and the
	// disable operations. Disabling never deletes data.
	CompanyRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Company, error)
		GetMember(ctx context.Context, id uuid.UUID) (*model.Member, error)
		GetPlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error)
		GetUsage(ctx context.Context, companyID uuid.UUID) (*model.CompanyUsage, error)
		DisableExcessMembers(ctx context.Context, companyID uuid.UUID, keep int) (int, error)
		DisableExcessTeams(ctx context.Context, companyID uuid.UUID, keep int) ([]uuid.UUID, error)
		DisableExcessNudges(ctx context.Context, companyID uuid.UUID, keep int) (int, error)
		DisableTeamCascade(ctx context.Context, teamID uuid.UUID) error
		DisableNudgesOverRecipientLimit(ctx context.Context, companyID uuid.UUID, maxRecipients int) (int, error)
	}

	// OutboxRepository handles domain-event rows published by the worker.
	OutboxRepository interface {
		Create(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
	}
)
