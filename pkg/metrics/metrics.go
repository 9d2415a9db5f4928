package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduler metrics
	InstancesMaterialized prometheus.Counter
	MaterializeFailures   prometheus.Counter
	MaterializeLatency    prometheus.Histogram
	NudgesFinished        prometheus.Counter

	// Delivery metrics
	RemindersSent     prometheus.Counter
	ReminderFailures  prometheus.Counter
	DispatchLatency   prometheus.Histogram
	DeliveryExhausted prometheus.Counter

	// Completion metrics
	Completions        *prometheus.CounterVec
	NotificationEmails *prometheus.CounterVec

	// Outbox metrics
	OutboxEventsProcessed prometheus.Counter
	OutboxEventsFailed    prometheus.Counter
	OutboxLatency         prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		InstancesMaterialized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_materialized_total",
			Help:      "Total number of nudge instances created by the materializer",
		}),
		MaterializeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialize_failures_total",
			Help:      "Total number of per-nudge materialization failures",
		}),
		MaterializeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "materialize_duration_seconds",
			Help:      "Time spent in a materialization batch",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		NudgesFinished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nudges_finished_total",
			Help:      "Total number of nudges that reached their end policy",
		}),
		RemindersSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Total number of reminder emails sent",
		}),
		ReminderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_failures_total",
			Help:      "Total number of failed reminder email sends",
		}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a dispatch batch",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DeliveryExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_exhausted_total",
			Help:      "Total number of recipient events that hit the attempt ceiling",
		}),
		Completions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion attempts by outcome",
		}, []string{"outcome"}),
		NotificationEmails: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_emails_total",
			Help:      "Completion notification emails by result",
		}, []string{"result"}),
		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully published outbox events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent publishing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Database operations by name and result",
		}, []string{"operation", "result"}),
	}
}
