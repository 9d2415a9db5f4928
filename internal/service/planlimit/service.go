package planlimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/patrickmn/go-cache"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
)

const (
	limitsCacheTTL     = 5 * time.Minute
	limitsCacheCleanup = 10 * time.Minute
)

type Service struct {
	companies repository.CompanyRepository
	outbox    repository.OutboxRepository
	tx        repository.TxRunner
	cache     *cache.Cache
	logger    *logger.Logger
}

func NewService(
	companies repository.CompanyRepository,
	outbox repository.OutboxRepository,
	tx repository.TxRunner,
	logger *logger.Logger,
) *Service {
	return &Service{
		companies: companies,
		outbox:    outbox,
		tx:        tx,
		cache:     cache.New(limitsCacheTTL, limitsCacheCleanup),
		logger:    logger,
	}
}

// PlanLimits returns the company's effective limits, cached briefly since
// plan changes are rare and reads are hot on the create paths.
func (s *Service) PlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error) {
	key := limitsKey(companyID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.PlanLimits), nil
	}
	limits, err := s.companies.GetPlanLimits(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan limits: %w", err)
	}
	s.cache.Set(key, limits, cache.DefaultExpiration)
	return limits, nil
}

// EnforceLimits brings a company back within its plan by disabling the
// newest excess members, teams and nudges. Disabling is the only mutation;
// nothing is deleted and nothing is re-enabled, so running a pass twice in a
// row is a no-op the second time. Team disables cascade to the members and
// nudges owned by the team.
func (s *Service) EnforceLimits(ctx context.Context, companyID uuid.UUID) (*model.EnforcementReport, error) {
	// Bypass the cache: an enforcement pass must see the limits as they are
	// right now, typically just after a downgrade.
	s.cache.Delete(limitsKey(companyID))
	limits, err := s.PlanLimits(ctx, companyID)
	if err != nil {
		return nil, err
	}

	report := &model.EnforcementReport{CompanyID: companyID}

	// Teams first so their cascade settles before the direct member and
	// nudge counts are trimmed.
	if !model.Unlimited(limits.MaxTeams) {
		teamIDs, err := s.companies.DisableExcessTeams(ctx, companyID, limits.MaxTeams)
		if err != nil {
			return nil, fmt.Errorf("failed to disable excess teams: %w", err)
		}
		for _, teamID := range teamIDs {
			if err := s.companies.DisableTeamCascade(ctx, teamID); err != nil {
				return nil, fmt.Errorf("failed to cascade team disable: %w", err)
			}
		}
		report.TeamsDisabled = len(teamIDs)
	}

	if !model.Unlimited(limits.MaxUsers) {
		n, err := s.companies.DisableExcessMembers(ctx, companyID, limits.MaxUsers)
		if err != nil {
			return nil, fmt.Errorf("failed to disable excess members: %w", err)
		}
		report.MembersDisabled = n
	}

	if !model.Unlimited(limits.MaxNudges) {
		n, err := s.companies.DisableExcessNudges(ctx, companyID, limits.MaxNudges)
		if err != nil {
			return nil, fmt.Errorf("failed to disable excess nudges: %w", err)
		}
		report.NudgesDisabled = n
	}

	if !model.Unlimited(limits.MaxRecipients) {
		n, err := s.companies.DisableNudgesOverRecipientLimit(ctx, companyID, limits.MaxRecipients)
		if err != nil {
			return nil, fmt.Errorf("failed to disable over-recipient nudges: %w", err)
		}
		report.OverRecipientsCut = n
	}

	if report.Changed() {
		err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			event, err := model.NewOutboxEvent(messaging.ChannelLimitsEnforced, report)
			if err != nil {
				return err
			}
			return s.outbox.Create(ctx, tx, event)
		})
		if err != nil {
			// The disables already stuck; losing the event is survivable.
			s.logger.Error(err, "failed to record enforcement event", "company_id", companyID.String())
		}
		s.logger.Info("plan limits enforced",
			"company_id", companyID.String(),
			"members_disabled", report.MembersDisabled,
			"teams_disabled", report.TeamsDisabled,
			"nudges_disabled", report.NudgesDisabled,
			"over_recipients_cut", report.OverRecipientsCut,
		)
	}

	return report, nil
}

// CheckUsage reports current usage against limits without mutating anything.
func (s *Service) CheckUsage(ctx context.Context, companyID uuid.UUID) (*model.CompanyUsage, *model.PlanLimits, error) {
	limits, err := s.PlanLimits(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	usage, err := s.companies.GetUsage(ctx, companyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return usage, limits, nil
}

func limitsKey(companyID uuid.UUID) string {
	return "plan_limits:" + companyID.String()
}
