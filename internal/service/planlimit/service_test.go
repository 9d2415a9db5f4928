package planlimit

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/service/servicetest"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
)

// fakeCompanyRepo simulates a tenant that is over its limits. Each disable
// call shrinks the tracked usage, so a second pass finds nothing to do.
type fakeCompanyRepo struct {
	limits *model.PlanLimits

	activeMembers   int
	activeTeams     []uuid.UUID
	activeNudges    int
	overRecipients  int
	cascadedTeams   []uuid.UUID
	limitsFetches   int
}

func (f *fakeCompanyRepo) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	return &model.Company{}, nil
}

func (f *fakeCompanyRepo) GetMember(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	return nil, nil
}

func (f *fakeCompanyRepo) GetPlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error) {
	f.limitsFetches++
	return f.limits, nil
}

func (f *fakeCompanyRepo) GetUsage(ctx context.Context, companyID uuid.UUID) (*model.CompanyUsage, error) {
	return &model.CompanyUsage{
		ActiveMembers: f.activeMembers,
		ActiveTeams:   len(f.activeTeams),
		ActiveNudges:  f.activeNudges,
	}, nil
}

func (f *fakeCompanyRepo) DisableExcessMembers(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	if f.activeMembers <= keep {
		return 0, nil
	}
	n := f.activeMembers - keep
	f.activeMembers = keep
	return n, nil
}

func (f *fakeCompanyRepo) DisableExcessTeams(ctx context.Context, companyID uuid.UUID, keep int) ([]uuid.UUID, error) {
	if len(f.activeTeams) <= keep {
		return nil, nil
	}
	disabled := f.activeTeams[keep:]
	f.activeTeams = f.activeTeams[:keep]
	return disabled, nil
}

func (f *fakeCompanyRepo) DisableExcessNudges(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	if f.activeNudges <= keep {
		return 0, nil
	}
	n := f.activeNudges - keep
	f.activeNudges = keep
	return n, nil
}

func (f *fakeCompanyRepo) DisableTeamCascade(ctx context.Context, teamID uuid.UUID) error {
	f.cascadedTeams = append(f.cascadedTeams, teamID)
	return nil
}

func (f *fakeCompanyRepo) DisableNudgesOverRecipientLimit(ctx context.Context, companyID uuid.UUID, maxRecipients int) (int, error) {
	n := f.overRecipients
	f.overRecipients = 0
	f.activeNudges -= n
	return n, nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func teamIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestEnforceLimits_DisablesExcess(t *testing.T) {
	store := servicetest.NewStore()
	repo := &fakeCompanyRepo{
		limits:         &model.PlanLimits{MaxUsers: 5, MaxTeams: 2, MaxNudges: 10, MaxRecipients: 3},
		activeMembers:  8,
		activeTeams:    teamIDs(4),
		activeNudges:   12,
		overRecipients: 1,
	}
	svc := NewService(repo, store.OutboxRepo(), store, testLogger())

	report, err := svc.EnforceLimits(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 3, report.MembersDisabled)
	assert.Equal(t, 2, report.TeamsDisabled)
	assert.Equal(t, 2, report.NudgesDisabled)
	assert.Equal(t, 1, report.OverRecipientsCut)
	assert.True(t, report.Changed())

	// Every disabled team gets its cascade.
	assert.Len(t, repo.cascadedTeams, 2)
	assert.Contains(t, store.OutboxTypes(), messaging.ChannelLimitsEnforced)
}

func TestEnforceLimits_SecondPassIsNoop(t *testing.T) {
	store := servicetest.NewStore()
	repo := &fakeCompanyRepo{
		limits:        &model.PlanLimits{MaxUsers: 5},
		activeMembers: 8,
	}
	svc := NewService(repo, store.OutboxRepo(), store, testLogger())
	ctx := context.Background()
	companyID := uuid.New()

	first, err := svc.EnforceLimits(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, 3, first.MembersDisabled)

	second, err := svc.EnforceLimits(ctx, companyID)
	require.NoError(t, err)
	assert.False(t, second.Changed())

	// Only the first pass emitted an event.
	assert.Len(t, store.OutboxTypes(), 1)
}

func TestEnforceLimits_UnlimitedSkipsEnforcement(t *testing.T) {
	store := servicetest.NewStore()
	repo := &fakeCompanyRepo{
		limits:        &model.PlanLimits{},
		activeMembers: 100,
		activeTeams:   teamIDs(50),
		activeNudges:  400,
	}
	svc := NewService(repo, store.OutboxRepo(), store, testLogger())

	report, err := svc.EnforceLimits(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, 100, repo.activeMembers)
	assert.Empty(t, store.OutboxTypes())
}

func TestPlanLimits_CachedUntilEnforcement(t *testing.T) {
	store := servicetest.NewStore()
	repo := &fakeCompanyRepo{limits: &model.PlanLimits{MaxUsers: 5}}
	svc := NewService(repo, store.OutboxRepo(), store, testLogger())
	ctx := context.Background()
	companyID := uuid.New()

	_, err := svc.PlanLimits(ctx, companyID)
	require.NoError(t, err)
	_, err = svc.PlanLimits(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.limitsFetches)

	// Enforcement always rereads so a fresh downgrade takes effect.
	_, err = svc.EnforceLimits(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.limitsFetches)
}
