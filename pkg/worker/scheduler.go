package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nudgehq/nudge-api/internal/service/dispatcher"
	"github.com/nudgehq/nudge-api/internal/service/materializer"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/metrics"
)

type SchedulerConfig struct {
	MaterializeInterval time.Duration
	DispatchInterval    time.Duration
}

// Scheduler drives the materialize and dispatch passes on independent
// tickers. Both passes are idempotent, so running multiple scheduler
// replicas against one database is safe; the store's constraints resolve
// the overlap.
type Scheduler struct {
	materializer *materializer.Service
	dispatcher   *dispatcher.Service
	cfg          SchedulerConfig
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

func NewScheduler(
	m *materializer.Service,
	d *dispatcher.Service,
	cfg SchedulerConfig,
	met *metrics.Metrics,
	logger *logger.Logger,
) *Scheduler {
	if cfg.MaterializeInterval <= 0 {
		cfg.MaterializeInterval = time.Minute
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 30 * time.Second
	}
	return &Scheduler{
		materializer: m,
		dispatcher:   d,
		cfg:          cfg,
		metrics:      met,
		logger:       logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	materializeTicker := time.NewTicker(s.cfg.MaterializeInterval)
	defer materializeTicker.Stop()
	dispatchTicker := time.NewTicker(s.cfg.DispatchInterval)
	defer dispatchTicker.Stop()

	s.logger.Info("scheduler started",
		"materialize_interval", s.cfg.MaterializeInterval.String(),
		"dispatch_interval", s.cfg.DispatchInterval.String(),
	)

	// Run one pass of each immediately so a restart does not wait out a
	// full interval with reminders overdue.
	s.runMaterialize(ctx)
	s.runDispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return
		case <-materializeTicker.C:
			s.runMaterialize(ctx)
		case <-dispatchTicker.C:
			s.runDispatch(ctx)
		}
	}
}

func (s *Scheduler) runMaterialize(ctx context.Context) {
	timer := prometheus.NewTimer(s.metrics.MaterializeLatency)
	report, err := s.materializer.MaterializeDue(ctx, time.Now())
	timer.ObserveDuration()
	if err != nil {
		s.logger.Error(err, "materialize pass failed")
		return
	}

	s.metrics.InstancesMaterialized.Add(float64(len(report.Created)))
	s.metrics.MaterializeFailures.Add(float64(len(report.Failures)))
	s.metrics.NudgesFinished.Add(float64(report.Finished))

	if len(report.Created) > 0 || len(report.Failures) > 0 {
		s.logger.Info("materialize pass",
			"created", len(report.Created),
			"skipped", report.Skipped,
			"finished", report.Finished,
			"failures", len(report.Failures),
		)
	}
}

func (s *Scheduler) runDispatch(ctx context.Context) {
	timer := prometheus.NewTimer(s.metrics.DispatchLatency)
	report, err := s.dispatcher.DispatchPending(ctx)
	timer.ObserveDuration()
	if err != nil {
		s.logger.Error(err, "dispatch pass failed")
		return
	}

	s.metrics.RemindersSent.Add(float64(report.Sent))
	s.metrics.ReminderFailures.Add(float64(report.Failed))
	s.metrics.DeliveryExhausted.Add(float64(report.Exhausted))

	if report.Sent > 0 || report.Failed > 0 {
		s.logger.Info("dispatch pass",
			"sent", report.Sent,
			"failed", report.Failed,
			"exhausted", report.Exhausted,
		)
	}
}
