package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/service/servicetest"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
	"github.com/nudgehq/nudge-api/pkg/metrics"
)

// Registered once; promauto panics on duplicate registration.
var testMetrics = metrics.New("worker_test")

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

// flakyBroker fails the first `failures` publishes, then succeeds.
type flakyBroker struct {
	mu        sync.Mutex
	failures  int
	published []string
}

func (b *flakyBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, channel)
	return nil
}

func (b *flakyBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *flakyBroker) Close() error { return nil }

func seedOutboxEvent(t *testing.T, store *servicetest.Store) *model.OutboxEvent {
	t.Helper()
	event, err := model.NewOutboxEvent(messaging.ChannelNudgeCompleted, map[string]interface{}{
		"instance_id": "a4c6a9a0-0000-0000-0000-000000000001",
	})
	require.NoError(t, err)
	require.NoError(t, store.OutboxRepo().Create(context.Background(), nil, event))
	return event
}

func TestOutboxPublisher_PublishesPendingEvent(t *testing.T) {
	store := servicetest.NewStore()
	event := seedOutboxEvent(t, store)
	broker := &flakyBroker{}

	p := NewOutboxPublisher(store.OutboxRepo(), broker, OutboxConfig{
		Interval: time.Hour, BatchSize: 10, MaxRetries: 1, RetryDelay: time.Minute,
	}, testMetrics, testLogger())

	require.NoError(t, p.publishBatch(context.Background()))

	assert.Equal(t, []string{messaging.ChannelNudgeCompleted}, broker.published)
	assert.Equal(t, model.OutboxStatusProcessed, event.Status)
}

func TestOutboxPublisher_FailedEventWaitsOutItsBackoff(t *testing.T) {
	store := servicetest.NewStore()
	event := seedOutboxEvent(t, store)
	broker := &flakyBroker{failures: 1}

	p := NewOutboxPublisher(store.OutboxRepo(), broker, OutboxConfig{
		Interval: time.Hour, BatchSize: 10, MaxRetries: 1, RetryDelay: time.Minute,
	}, testMetrics, testLogger())

	ctx := context.Background()
	require.NoError(t, p.publishBatch(ctx))

	assert.Equal(t, model.OutboxStatusFailed, event.Status)
	require.NotNil(t, event.ErrorMessage)
	require.NotNil(t, event.RetryAt)
	assert.Equal(t, 1, event.RetryCount)

	// Still inside the backoff window: the event stays parked.
	require.NoError(t, p.publishBatch(ctx))
	assert.Empty(t, broker.published)
	assert.Equal(t, 1, event.RetryCount)
}

func TestOutboxPublisher_RetriesFailedEventAfterBackoff(t *testing.T) {
	store := servicetest.NewStore()
	event := seedOutboxEvent(t, store)
	broker := &flakyBroker{failures: 1}

	p := NewOutboxPublisher(store.OutboxRepo(), broker, OutboxConfig{
		Interval: time.Hour, BatchSize: 10, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testMetrics, testLogger())

	ctx := context.Background()
	require.NoError(t, p.publishBatch(ctx))
	require.Equal(t, model.OutboxStatusFailed, event.Status)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.publishBatch(ctx))
	assert.Equal(t, []string{messaging.ChannelNudgeCompleted}, broker.published)
	assert.Equal(t, model.OutboxStatusProcessed, event.Status)
	assert.Equal(t, 1, event.RetryCount)
}
