package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nudgehq/nudge-api/internal/config"
	"github.com/nudgehq/nudge-api/internal/email"
	basehandler "github.com/nudgehq/nudge-api/internal/handler"
	completionHandler "github.com/nudgehq/nudge-api/internal/handler/completion"
	nudgeHandler "github.com/nudgehq/nudge-api/internal/handler/nudge"
	planHandler "github.com/nudgehq/nudge-api/internal/handler/plan"
	schedulerHandler "github.com/nudgehq/nudge-api/internal/handler/scheduler"
	"github.com/nudgehq/nudge-api/internal/middleware"
	"github.com/nudgehq/nudge-api/internal/repository/postgres"
	"github.com/nudgehq/nudge-api/internal/router"
	completionService "github.com/nudgehq/nudge-api/internal/service/completion"
	dispatcherService "github.com/nudgehq/nudge-api/internal/service/dispatcher"
	materializerService "github.com/nudgehq/nudge-api/internal/service/materializer"
	nudgeService "github.com/nudgehq/nudge-api/internal/service/nudge"
	planlimitService "github.com/nudgehq/nudge-api/internal/service/planlimit"
	"github.com/nudgehq/nudge-api/pkg/auth"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/metrics"
	"github.com/nudgehq/nudge-api/pkg/token"
)

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

	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	if err != nil {
		log.Fatal(err, "invalid jwt configuration")
	}

	base := postgres.NewBaseRepository(db)
	nudgeRepo := postgres.NewNudgeRepository(base)
	instanceRepo := postgres.NewInstanceRepository(base)
	eventRepo := postgres.NewEventRepository(base)
	completionRepo := postgres.NewCompletionRepository(base)
	companyRepo := postgres.NewCompanyRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	sender := email.NewSMTPSender(cfg.SMTP)
	met := metrics.New("nudge_api")

	planlimitSvc := planlimitService.NewService(companyRepo, outboxRepo, &base, log)
	nudgeSvc := nudgeService.NewService(nudgeRepo, instanceRepo, companyRepo, planlimitSvc, log)
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
	completionSvc := completionService.NewService(
		nudgeRepo, instanceRepo, eventRepo, completionRepo, companyRepo, outboxRepo,
		&base, sender, codec, met, log)

	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwtService),
		completionHandler.NewHandler(completionSvc, met),
		nudgeHandler.NewHandler(nudgeSvc),
		planHandler.NewHandler(planlimitSvc),
		schedulerHandler.NewHandler(materializerSvc, dispatcherSvc),
		basehandler.NewHandler(db),
		router.Config{
			RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
			RateLimitBurst: cfg.RateLimit.Burst,
			RequestTimeout: cfg.Server.RequestTimeout,
			CORS:           middleware.DefaultCORSConfig(),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "graceful shutdown failed")
	}
}
