package completion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge-api/internal/model"
	completionService "github.com/nudgehq/nudge-api/internal/service/completion"
	"github.com/nudgehq/nudge-api/internal/service/servicetest"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/token"
)

func setup(t *testing.T) (*gin.Engine, string, *servicetest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := servicetest.NewStore()
	sender := servicetest.NewFakeSender()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	creator := &model.Member{ID: uuid.New(), CompanyID: uuid.New(), Name: "Cara", Email: "cara@example.com"}
	store.Members[creator.ID] = creator

	nudge := &model.Nudge{
		Base:      model.Base{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		CreatorID: creator.ID,
		Name:      "Submit expenses",
		Slug:      "submit-expenses",
		Frequency: model.FrequencyDaily,
		Interval:  1,
		TimeOfDay: "09:00",
		Timezone:  "UTC",
		EndType:   model.EndNever,
		StartDate: time.Now().Add(-24 * time.Hour),
		Status:    model.NudgeStatusActive,
	}
	store.AddNudge(nudge, &model.NudgeRecipient{Name: "Ana", Email: "ana@example.com"})

	instance := &model.NudgeInstance{
		ID:           uuid.New(),
		NudgeID:      nudge.ID,
		ScheduledFor: time.Now().Add(-time.Hour),
		Status:       model.InstanceStatusPending,
	}
	require.NoError(t, store.InstanceRepo().Create(context.Background(), nil, instance))

	event := &model.NudgeRecipientEvent{
		ID:             uuid.New(),
		InstanceID:     instance.ID,
		NudgeID:        nudge.ID,
		RecipientID:    uuid.New(),
		RecipientName:  "Ana",
		RecipientEmail: "ana@example.com",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, store.EventRepo().Create(context.Background(), nil, event))

	svc := completionService.NewService(
		store.NudgeRepo(), store.InstanceRepo(), store.EventRepo(), store.CompletionRepo(),
		store.CompanyRepo(), store.OutboxRepo(), store, sender, codec, nil,
		logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard}),
	)

	engine := gin.New()
	NewHandler(svc, nil).RegisterRoutes(engine.Group(""))

	raw, err := codec.Mint(event.ID)
	require.NoError(t, err)
	return engine, raw, store
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestShow_ReturnsView(t *testing.T) {
	engine, raw, _ := setup(t)

	rec := do(engine, http.MethodGet, "/complete/"+raw, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    model.EventView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Submit expenses", resp.Data.NudgeName)
	assert.Equal(t, model.OutcomeCompleted, resp.Data.Outcome)
}

func TestShow_UnknownToken(t *testing.T) {
	engine, _, _ := setup(t)

	rec := do(engine, http.MethodGet, "/complete/garbage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComplete_RecordsCompletion(t *testing.T) {
	engine, raw, store := setup(t)

	rec := do(engine, http.MethodPost, "/complete/"+raw, `{"comment":"all done"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                   `json:"success"`
		Data    model.CompletionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.OutcomeCompleted, resp.Data.Outcome)
	require.NotNil(t, resp.Data.Completion)
	require.NotNil(t, resp.Data.Completion.Comment)
	assert.Equal(t, "all done", *resp.Data.Completion.Comment)

	require.Len(t, store.Completions, 1)
}

func TestComplete_SecondClickConflicts(t *testing.T) {
	engine, raw, _ := setup(t)

	rec := do(engine, http.MethodPost, "/complete/"+raw, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(engine, http.MethodPost, "/complete/"+raw, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestComplete_ExpiredTokenIsGone(t *testing.T) {
	engine, raw, store := setup(t)
	for _, e := range store.Events {
		e.ExpiresAt = time.Now().Add(-time.Minute)
	}

	rec := do(engine, http.MethodPost, "/complete/"+raw, "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestComplete_MalformedBody(t *testing.T) {
	engine, raw, _ := setup(t)

	rec := do(engine, http.MethodPost, "/complete/"+raw, `{"comment":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
