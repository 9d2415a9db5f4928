package nudge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/recurrence"
	"github.com/nudgehq/nudge-api/internal/repository"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/slug"
)

// LimitChecker exposes the effective plan limits for create-time checks.
// Satisfied by the planlimit service.
type LimitChecker interface {
	PlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error)
}

type Service struct {
	nudges    repository.NudgeRepository
	instances repository.InstanceRepository
	companies repository.CompanyRepository
	limits    LimitChecker
	validate  *validator.Validate
	logger    *logger.Logger
}

func NewService(
	nudges repository.NudgeRepository,
	instances repository.InstanceRepository,
	companies repository.CompanyRepository,
	limits LimitChecker,
	logger *logger.Logger,
) *Service {
	return &Service{
		nudges:    nudges,
		instances: instances,
		companies: companies,
		limits:    limits,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Create validates the recurrence settings, allocates a unique slug and
// stores the nudge with its recipients in one transaction. The first
// instance is not created here; the materializer picks the nudge up on its
// next pass.
func (s *Service) Create(ctx context.Context, req *model.CreateNudgeRequest) (*model.Nudge, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.BadRequest("invalid nudge request", err)
	}

	creator, err := s.companies.GetMember(ctx, req.CreatorID)
	if err != nil {
		return nil, apperrors.NotFound("creator", err)
	}

	recipients, err := normalizeRecipients(req.Recipients)
	if err != nil {
		return nil, err
	}

	if s.limits != nil {
		planLimits, err := s.limits.PlanLimits(ctx, creator.CompanyID)
		if err != nil {
			return nil, err
		}
		if !model.Unlimited(planLimits.MaxRecipients) && len(recipients) > planLimits.MaxRecipients {
			return nil, apperrors.BadRequest(
				fmt.Sprintf("plan allows at most %d recipients per nudge", planLimits.MaxRecipients), nil)
		}
	}

	now := time.Now()
	nudge := &model.Nudge{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		TeamID:              req.TeamID,
		CreatorID:           req.CreatorID,
		Name:                strings.TrimSpace(req.Name),
		Description:         req.Description,
		Frequency:           req.Frequency,
		Interval:            req.Interval,
		DayOfWeek:           req.DayOfWeek,
		MonthlyType:         req.MonthlyType,
		DayOfMonth:          req.DayOfMonth,
		NthOccurrence:       req.NthOccurrence,
		DayOfWeekForMonthly: req.DayOfWeekForMonthly,
		TimeOfDay:           req.TimeOfDay,
		Timezone:            req.Timezone,
		EndType:             req.EndType,
		EndDate:             req.EndDate,
		EndAfterOccurrences: req.EndAfterOccurrences,
		StartDate:           req.StartDate,
		Status:              model.NudgeStatusActive,
	}

	// Parsing the rule is the authoritative recurrence validation; a nudge
	// that cannot produce a rule must never reach the materializer.
	if _, err := recurrence.FromNudge(nudge); err != nil {
		return nil, apperrors.BadRequest("invalid recurrence settings", err)
	}

	nudge.Slug, err = slug.Allocate(ctx, nudge.Name, s.nudges.SlugExists)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	for _, r := range recipients {
		r.NudgeID = nudge.ID
	}
	if err := s.nudges.Create(ctx, nudge, recipients); err != nil {
		return nil, fmt.Errorf("failed to create nudge: %w", err)
	}

	s.logger.Info("nudge created",
		"nudge_id", nudge.ID.String(),
		"slug", nudge.Slug,
		"frequency", string(nudge.Frequency),
		"recipients", len(recipients),
	)
	return nudge, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Nudge, error) {
	nudge, err := s.nudges.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("nudge", err)
	}
	return nudge, err
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*model.Nudge, error) {
	nudge, err := s.nudges.GetBySlug(ctx, slug)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("nudge", err)
	}
	return nudge, err
}

func (s *Service) List(ctx context.Context, filters *model.NudgeFilters) ([]*model.Nudge, error) {
	return s.nudges.List(ctx, filters)
}

func (s *Service) ListRecipients(ctx context.Context, nudgeID uuid.UUID) ([]*model.NudgeRecipient, error) {
	return s.nudges.ListRecipients(ctx, nudgeID)
}

// Update changes the mutable display and timing fields. Recurrence shape
// (frequency, selectors, end policy) is immutable; disable and recreate
// instead.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateNudgeRequest) (*model.Nudge, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.BadRequest("invalid update request", err)
	}

	nudge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		nudge.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		nudge.Description = req.Description
	}
	if req.TimeOfDay != nil {
		nudge.TimeOfDay = *req.TimeOfDay
	}
	if req.Timezone != nil {
		nudge.Timezone = *req.Timezone
	}
	if _, err := recurrence.FromNudge(nudge); err != nil {
		return nil, apperrors.BadRequest("invalid recurrence settings", err)
	}

	nudge.UpdatedAt = time.Now()
	if err := s.nudges.Update(ctx, nudge); err != nil {
		return nil, fmt.Errorf("failed to update nudge: %w", err)
	}
	return nudge, nil
}

// Disable stops future materialization. Existing pending instances stay
// live so outstanding completion links keep working.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	nudge, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if nudge.Status == model.NudgeStatusDisabled {
		return nil
	}
	if nudge.Status == model.NudgeStatusFinished {
		return apperrors.Conflict("nudge has already finished", nil)
	}
	return s.nudges.UpdateStatus(ctx, id, model.NudgeStatusDisabled)
}

// Enable reactivates a disabled nudge. Finished nudges stay finished.
func (s *Service) Enable(ctx context.Context, id uuid.UUID) error {
	nudge, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if nudge.Status == model.NudgeStatusActive {
		return nil
	}
	if nudge.Status == model.NudgeStatusFinished {
		return apperrors.Conflict("nudge has already finished", nil)
	}
	return s.nudges.UpdateStatus(ctx, id, model.NudgeStatusActive)
}

// normalizeRecipients lower-cases emails and drops duplicates, keeping the
// first occurrence of each address.
func normalizeRecipients(reqs []model.CreateRecipientRequest) ([]*model.NudgeRecipient, error) {
	seen := make(map[string]bool, len(reqs))
	recipients := make([]*model.NudgeRecipient, 0, len(reqs))
	for _, r := range reqs {
		addr := strings.ToLower(strings.TrimSpace(r.Email))
		if seen[addr] {
			continue
		}
		seen[addr] = true
		recipients = append(recipients, &model.NudgeRecipient{
			ID:        uuid.New(),
			Name:      strings.TrimSpace(r.Name),
			Email:     addr,
			UserID:    r.UserID,
			CreatedAt: time.Now(),
		})
	}
	if len(recipients) == 0 {
		return nil, apperrors.BadRequest("at least one recipient is required", nil)
	}
	return recipients, nil
}
