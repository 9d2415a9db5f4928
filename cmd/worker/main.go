package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/nudgehq/nudge-api/internal/config"
	"github.com/nudgehq/nudge-api/internal/email"
	"github.com/nudgehq/nudge-api/internal/repository/postgres"
	dispatcherService "github.com/nudgehq/nudge-api/internal/service/dispatcher"
	materializerService "github.com/nudgehq/nudge-api/internal/service/materializer"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging/redis"
	"github.com/nudgehq/nudge-api/pkg/metrics"
	"github.com/nudgehq/nudge-api/pkg/token"
	"github.com/nudgehq/nudge-api/pkg/worker"
)

// healthServer exposes liveness for the worker deployment. Readiness is
// meaningless here; the worker pulls work, nothing routes to it.
func healthServer(log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.Fatal(err, "health server failed")
		}
	}()
}

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	codec, err := token.NewCodec([]byte(cfg.CompletionTokenSecret))
	if err != nil {
		log.Fatal(err, "invalid completion token secret")
	}

	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &zl)
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db)
	nudgeRepo := postgres.NewNudgeRepository(base)
	instanceRepo := postgres.NewInstanceRepository(base)
	eventRepo := postgres.NewEventRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	sender := email.NewSMTPSender(cfg.SMTP)
	met := metrics.New("nudge_worker")

	materializerSvc := materializerService.NewService(
		nudgeRepo, instanceRepo, eventRepo, outboxRepo, &base,
		materializerService.Config{TokenTTL: cfg.Scheduler.TokenTTL}, log)
	dispatcherSvc := dispatcherService.NewService(
		eventRepo, sender, codec,
		dispatcherService.Config{
			BaseURL:     cfg.BaseURL,
			MaxAttempts: cfg.Scheduler.MaxSendAttempts,
			BatchSize:   cfg.Scheduler.DispatchBatchSize,
			Concurrency: cfg.Scheduler.DispatchConcurrency,
		}, log)

	scheduler := worker.NewScheduler(materializerSvc, dispatcherSvc, worker.SchedulerConfig{
		MaterializeInterval: cfg.Scheduler.MaterializeInterval,
		DispatchInterval:    cfg.Scheduler.DispatchInterval,
	}, met, log)

	publisher := worker.NewOutboxPublisher(outboxRepo, broker, worker.OutboxConfig{
		Interval:  cfg.Scheduler.OutboxInterval,
		BatchSize: cfg.Scheduler.OutboxBatchSize,
	}, met, log)

	healthServer(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		publisher.Start(ctx)
	}()
	wg.Wait()
}
