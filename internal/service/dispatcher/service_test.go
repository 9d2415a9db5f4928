package dispatcher

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/service/servicetest"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/token"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return codec
}

// seedEvent creates a nudge, a pending instance and one recipient event.
func seedEvent(store *servicetest.Store, email string) *model.NudgeRecipientEvent {
	nudge := &model.Nudge{
		Base:      model.Base{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Name:      "Water the plants",
		Slug:      "water-the-plants-" + uuid.NewString()[:8],
		Frequency: model.FrequencyDaily,
		Interval:  1,
		TimeOfDay: "09:00",
		Timezone:  "UTC",
		EndType:   model.EndNever,
		StartDate: time.Now().Add(-24 * time.Hour),
		Status:    model.NudgeStatusActive,
	}
	store.AddNudge(nudge)

	instance := &model.NudgeInstance{
		ID:           uuid.New(),
		NudgeID:      nudge.ID,
		ScheduledFor: time.Now().Add(-time.Hour),
		Status:       model.InstanceStatusPending,
	}
	_ = store.InstanceRepo().Create(context.Background(), nil, instance)

	event := &model.NudgeRecipientEvent{
		ID:             uuid.New(),
		InstanceID:     instance.ID,
		NudgeID:        nudge.ID,
		RecipientID:    uuid.New(),
		RecipientName:  "Ana",
		RecipientEmail: email,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	_ = store.EventRepo().Create(context.Background(), nil, event)
	return event
}

func TestDispatchPending_SendsAndMarks(t *testing.T) {
	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	event := seedEvent(store, "ana@example.com")

	svc := NewService(store.EventRepo(), sender, testCodec(t),
		Config{BaseURL: "https://nudge.example.com", MaxAttempts: 3}, testLogger())

	report, err := svc.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Zero(t, report.Failed)

	assert.True(t, event.Sent)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.SentAt)

	msgs := sender.SentTo("ana@example.com")
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Reminder)
	assert.Equal(t, "Water the plants", msgs[0].Reminder.NudgeName)
	assert.True(t, strings.HasPrefix(msgs[0].Reminder.CompletionURL, "https://nudge.example.com/complete/"))

	// The embedded token must parse back to this event.
	raw := strings.TrimPrefix(msgs[0].Reminder.CompletionURL, "https://nudge.example.com/complete/")
	parsed, err := testCodec(t).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, event.ID, parsed)
}

func TestDispatchPending_RecordsFailureAndRetries(t *testing.T) {
	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	sender.FailFor["ana@example.com"] = 1
	event := seedEvent(store, "ana@example.com")

	svc := NewService(store.EventRepo(), sender, testCodec(t),
		Config{BaseURL: "https://nudge.example.com", MaxAttempts: 3}, testLogger())
	ctx := context.Background()

	report, err := svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Sent)
	assert.Zero(t, report.Exhausted)
	assert.False(t, event.Sent)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.LastError)

	// Second pass succeeds once the injected failure is spent.
	report, err = svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.True(t, event.Sent)
	assert.Equal(t, 2, event.Attempts)
}

func TestDispatchPending_ExhaustsAfterMaxAttempts(t *testing.T) {
	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	sender.FailFor["ana@example.com"] = -1
	event := seedEvent(store, "ana@example.com")

	svc := NewService(store.EventRepo(), sender, testCodec(t),
		Config{BaseURL: "https://nudge.example.com", MaxAttempts: 2}, testLogger())
	ctx := context.Background()

	report, err := svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Exhausted)

	report, err = svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Exhausted)
	assert.Equal(t, 2, event.Attempts)

	// At the ceiling the event drops out of the pending set.
	report, err = svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Sent)
	assert.Equal(t, 2, event.Attempts)
}

func TestDispatchPending_OneFailureDoesNotBlockOthers(t *testing.T) {
	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	sender.FailFor["bad@example.com"] = -1
	seedEvent(store, "bad@example.com")
	seedEvent(store, "good@example.com")

	svc := NewService(store.EventRepo(), sender, testCodec(t),
		Config{BaseURL: "https://nudge.example.com", MaxAttempts: 3}, testLogger())

	report, err := svc.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, sender.SentTo("good@example.com"), 1)
}

func TestDispatchPending_SkipsCompletedInstances(t *testing.T) {
	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	event := seedEvent(store, "ana@example.com")

	now := time.Now()
	require.NoError(t, store.InstanceRepo().MarkCompleted(context.Background(), nil, event.InstanceID, now))

	svc := NewService(store.EventRepo(), sender, testCodec(t),
		Config{BaseURL: "https://nudge.example.com", MaxAttempts: 3}, testLogger())

	report, err := svc.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Sent)
	assert.Zero(t, report.Failed)
	assert.Empty(t, sender.Messages)
}
