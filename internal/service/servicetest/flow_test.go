package servicetest

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
	"github.com/nudgehq/nudge-api/internal/service/completion"
	"github.com/nudgehq/nudge-api/internal/service/dispatcher"
	"github.com/nudgehq/nudge-api/internal/service/materializer"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/token"
)

// TestReminderLifecycle walks one occurrence end to end: materialize the due
// instance, dispatch the reminder emails, complete via the emailed link and
// verify the second recipient's link reports the completion.
func TestReminderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sender := NewFakeSender()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	creator := &model.Member{
		ID:        uuid.New(),
		CompanyID: uuid.New(),
		Name:      "Cara",
		Email:     "cara@example.com",
		Status:    model.MemberStatusActive,
	}
	store.Members[creator.ID] = creator

	melbourne, err := time.LoadLocation("Australia/Melbourne")
	require.NoError(t, err)

	// Every second day at 08:30 Melbourne time.
	nudge := &model.Nudge{
		Base:      model.Base{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		TeamID:    uuid.New(),
		CreatorID: creator.ID,
		Name:      "Backup verification",
		Slug:      "backup-verification",
		Frequency: model.FrequencyDaily,
		Interval:  2,
		TimeOfDay: "08:30",
		Timezone:  "Australia/Melbourne",
		EndType:   model.EndNever,
		StartDate: time.Date(2030, 4, 1, 0, 0, 0, 0, melbourne),
		Status:    model.NudgeStatusActive,
	}
	store.AddNudge(nudge,
		&model.NudgeRecipient{Name: "Ana", Email: "ana@example.com"},
		&model.NudgeRecipient{Name: "Ben", Email: "ben@example.com"},
	)

	mat := materializer.NewService(
		store.NudgeRepo(), store.InstanceRepo(), store.EventRepo(), store.OutboxRepo(),
		store, materializer.Config{TokenTTL: 14 * 24 * time.Hour}, log)
	disp := dispatcher.NewService(
		store.EventRepo(), sender, codec,
		dispatcher.Config{BaseURL: "https://nudge.example.com", MaxAttempts: 3}, log)
	comp := completion.NewService(
		store.NudgeRepo(), store.InstanceRepo(), store.EventRepo(), store.CompletionRepo(),
		store.CompanyRepo(), store.OutboxRepo(), store, sender, codec, nil, log)

	// Materialize after the first occurrence became due.
	now := time.Date(2030, 4, 1, 9, 0, 0, 0, melbourne)
	matReport, err := mat.MaterializeDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, matReport.Created, 1)
	assert.Equal(t,
		time.Date(2030, 4, 1, 8, 30, 0, 0, melbourne).UTC(),
		matReport.Created[0].ScheduledFor.UTC())

	// Overlapping runs do not duplicate the instance.
	again, err := mat.MaterializeDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again.Created)

	// Both recipients get their reminder with a working link.
	dispReport, err := disp.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dispReport.Sent)

	anaMsgs := sender.SentTo("ana@example.com")
	require.Len(t, anaMsgs, 1)
	anaToken := strings.TrimPrefix(anaMsgs[0].Reminder.CompletionURL, "https://nudge.example.com/complete/")
	benMsgs := sender.SentTo("ben@example.com")
	require.Len(t, benMsgs, 1)
	benToken := strings.TrimPrefix(benMsgs[0].Reminder.CompletionURL, "https://nudge.example.com/complete/")

	// Ana completes; the dispatcher has nothing left to send afterwards.
	result, err := comp.Complete(ctx, anaToken, model.CompleteRequest{IPAddress: "203.0.113.9"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCompleted, result.Outcome)
	require.NotNil(t, result.NextOccurrence)
	assert.Equal(t,
		time.Date(2030, 4, 3, 8, 30, 0, 0, melbourne).UTC(),
		result.NextOccurrence.UTC())

	dispReport, err = disp.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, dispReport.Sent)

	// Ben's untouched link now reports who already completed.
	benResult, err := comp.Complete(ctx, benToken, model.CompleteRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAlreadyCompleted, benResult.Outcome)
	require.NotNil(t, benResult.Completion)
	assert.Equal(t, "Ana", benResult.Completion.CompletedName)

	// The next window materializes a fresh instance two days later.
	later := time.Date(2030, 4, 3, 9, 0, 0, 0, melbourne)
	matReport, err = mat.MaterializeDue(ctx, later)
	require.NoError(t, err)
	require.Len(t, matReport.Created, 1)
	assert.Equal(t,
		time.Date(2030, 4, 3, 8, 30, 0, 0, melbourne).UTC(),
		matReport.Created[0].ScheduledFor.UTC())

	fifth, err := mat.MaterializeDue(ctx, time.Date(2030, 4, 5, 9, 0, 0, 0, melbourne))
	require.NoError(t, err)
	require.Len(t, fifth.Created, 1)

	// DST ended the morning of April 7th; the local send time holds anyway.
	afterDST := time.Date(2030, 4, 7, 9, 0, 0, 0, melbourne)
	matReport, err = mat.MaterializeDue(ctx, afterDST)
	require.NoError(t, err)
	require.Len(t, matReport.Created, 1)
	scheduled := matReport.Created[0].ScheduledFor.In(melbourne)
	assert.Equal(t, 8, scheduled.Hour())
	assert.Equal(t, 30, scheduled.Minute())
	assert.Equal(t, 7, scheduled.Day())
}
