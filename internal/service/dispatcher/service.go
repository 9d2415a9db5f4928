package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nudgehq/nudge-api/internal/email"
	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/token"
)

type Config struct {
	BaseURL string
	// MaxAttempts is the send-attempt ceiling per recipient event. Events at
	// the ceiling are reported as exhausted and left for operators; they are
	// never retried automatically.
	MaxAttempts int
	BatchSize   int
	// Concurrency bounds the per-recipient send fan-out.
	Concurrency int
}

// Report summarizes one dispatch batch. Delivery is at-least-once: a retry
// after an ambiguous failure may duplicate an email, completion stays
// exactly-once regardless.
type Report struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

type Service struct {
	events repository.EventRepository
	sender email.Sender
	codec  *token.Codec
	cfg    Config
	logger *logger.Logger
}

func NewService(
	events repository.EventRepository,
	sender email.Sender,
	codec *token.Codec,
	cfg Config,
	logger *logger.Logger,
) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Service{
		events: events,
		sender: sender,
		codec:  codec,
		cfg:    cfg,
		logger: logger,
	}
}

// DispatchPending sends the reminder email for every due, unsent recipient
// event. Sends fan out per recipient; one recipient's failure never blocks
// the others.
func (s *Service) DispatchPending(ctx context.Context) (*Report, error) {
	items, err := s.events.ListPendingDispatch(ctx, s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending dispatch items: %w", err)
	}

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.cfg.Concurrency)
	)

	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			sent, exhausted := s.dispatchOne(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if sent {
				report.Sent++
				return
			}
			report.Failed++
			if exhausted {
				report.Exhausted++
			}
		}()
	}
	wg.Wait()

	return &report, nil
}

func (s *Service) dispatchOne(ctx context.Context, item *model.DispatchItem) (sent, exhausted bool) {
	raw, err := s.codec.Mint(item.ID)
	if err != nil {
		s.logger.Error(err, "failed to mint completion token", "event_id", item.ID.String())
		return false, false
	}

	description := ""
	if item.Description != nil {
		description = *item.Description
	}

	err = s.sender.SendReminder(ctx, item.RecipientEmail, email.ReminderData{
		NudgeName:     item.NudgeName,
		Description:   description,
		RecipientName: item.RecipientName,
		ScheduledFor:  item.ScheduledFor,
		CompletionURL: fmt.Sprintf("%s/complete/%s", s.cfg.BaseURL, raw),
		ExpiresAt:     item.ExpiresAt,
	})
	if err != nil {
		s.logger.Error(err, "reminder send failed",
			"event_id", item.ID.String(),
			"attempts", item.Attempts+1)
		if recordErr := s.events.RecordFailure(ctx, item.ID, err.Error()); recordErr != nil {
			s.logger.Error(recordErr, "failed to record send failure", "event_id", item.ID.String())
		}
		return false, item.Attempts+1 >= s.cfg.MaxAttempts
	}

	if err := s.events.MarkSent(ctx, item.ID, time.Now()); err != nil {
		s.logger.Error(err, "failed to mark event sent", "event_id", item.ID.String())
	}
	return true, false
}
