package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
	"github.com/nudgehq/nudge-api/pkg/metrics"
)

type OutboxConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// OutboxPublisher drains pending outbox rows to the broker. Events are
// published at least once; subscribers must tolerate replays.
type OutboxPublisher struct {
	outbox  repository.OutboxRepository
	broker  messaging.Broker
	cfg     OutboxConfig
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewOutboxPublisher(
	outbox repository.OutboxRepository,
	broker messaging.Broker,
	cfg OutboxConfig,
	met *metrics.Metrics,
	logger *logger.Logger,
) *OutboxPublisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &OutboxPublisher{
		outbox:  outbox,
		broker:  broker,
		cfg:     cfg,
		metrics: met,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled.
func (p *OutboxPublisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started", "interval", p.cfg.Interval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher shutting down")
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error(err, "outbox batch failed")
			}
		}
	}
}

func (p *OutboxPublisher) publishBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxLatency)
	defer timer.ObserveDuration()

	events, err := p.outbox.GetPendingEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("outbox_get_pending", "error").Inc()
		return fmt.Errorf("failed to load pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("outbox_get_pending", "success").Inc()

	for _, event := range events {
		if err := p.publishOne(ctx, event); err != nil {
			p.metrics.OutboxEventsFailed.Inc()
			p.logger.Error(err, "event publish failed", "event_id", event.ID.String(), "event_type", event.EventType)

			errMsg := err.Error()
			retryAt := time.Now().Add(p.cfg.RetryDelay)
			if updateErr := p.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errMsg, &retryAt); updateErr != nil {
				p.metrics.DatabaseOperations.WithLabelValues("outbox_update_status", "error").Inc()
				p.logger.Error(updateErr, "failed to record publish failure", "event_id", event.ID.String())
			} else {
				p.metrics.DatabaseOperations.WithLabelValues("outbox_update_status", "success").Inc()
			}
			continue
		}

		if err := p.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("outbox_update_status", "error").Inc()
			p.logger.Error(err, "failed to mark event processed", "event_id", event.ID.String())
			continue
		}
		p.metrics.DatabaseOperations.WithLabelValues("outbox_update_status", "success").Inc()
		p.metrics.OutboxEventsProcessed.Inc()
	}
	return nil
}

func (p *OutboxPublisher) publishOne(ctx context.Context, event *model.OutboxEvent) error {
	var err error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.cfg.RetryDelay):
			}
		}
		err = p.broker.Publish(ctx, event.EventType, map[string]interface{}{
			"id":      event.ID.String(),
			"type":    event.EventType,
			"payload": event.Payload,
		})
		if err == nil {
			return nil
		}
		p.logger.Warn("retrying event publish", "event_id", event.ID.String(), "attempt", attempt+1)
	}
	return err
}
