package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/email"
	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/recurrence"
	"github.com/nudgehq/nudge-api/internal/repository"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
	"github.com/nudgehq/nudge-api/pkg/metrics"
	"github.com/nudgehq/nudge-api/pkg/token"
)

type Service struct {
	nudges      repository.NudgeRepository
	instances   repository.InstanceRepository
	events      repository.EventRepository
	completions repository.CompletionRepository
	companies   repository.CompanyRepository
	outbox      repository.OutboxRepository
	tx          repository.TxRunner
	sender      email.Sender
	codec       *token.Codec
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

// NewService wires the completion resolver. met may be nil; notification
// accounting is then skipped.
func NewService(
	nudges repository.NudgeRepository,
	instances repository.InstanceRepository,
	events repository.EventRepository,
	completions repository.CompletionRepository,
	companies repository.CompanyRepository,
	outbox repository.OutboxRepository,
	tx repository.TxRunner,
	sender email.Sender,
	codec *token.Codec,
	met *metrics.Metrics,
	logger *logger.Logger,
) *Service {
	return &Service{
		nudges:      nudges,
		instances:   instances,
		events:      events,
		completions: completions,
		companies:   companies,
		outbox:      outbox,
		tx:          tx,
		sender:      sender,
		codec:       codec,
		metrics:     met,
		logger:      logger,
	}
}

// Lookup resolves a raw token into the read-only confirmation-page view.
// It never mutates state, so rendering the page twice is harmless.
func (s *Service) Lookup(ctx context.Context, rawToken string) (*model.EventView, error) {
	event, outcome, err := s.resolveToken(ctx, rawToken, time.Now())
	if err != nil {
		return nil, err
	}
	if event == nil {
		return &model.EventView{Outcome: outcome}, nil
	}

	nudge, err := s.nudges.Get(ctx, event.NudgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nudge for event: %w", err)
	}
	instance, err := s.instances.Get(ctx, event.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance for event: %w", err)
	}

	view := &model.EventView{
		NudgeName:     nudge.Name,
		Description:   nudge.Description,
		RecipientName: event.RecipientName,
		ScheduledFor:  instance.ScheduledFor,
		ExpiresAt:     event.ExpiresAt,
		Outcome:       outcome,
	}
	if outcome == model.OutcomeAlreadyCompleted {
		if existing, err := s.completions.GetByInstance(ctx, event.InstanceID); err == nil {
			view.Completion = existing
		}
	}
	return view, nil
}

// Complete validates a completion token and records at-most-one completion
// per instance. The completion row, the used-token mark and the instance
// transition commit as one transaction; the completion table's uniqueness
// constraint resolves concurrent attempts, with the loser observing
// AlreadyCompleted. Notification emails are best-effort and never roll back
// a recorded completion.
func (s *Service) Complete(ctx context.Context, rawToken string, req model.CompleteRequest) (*model.CompletionResult, error) {
	now := time.Now()

	event, outcome, err := s.resolveToken(ctx, rawToken, now)
	if err != nil {
		return nil, err
	}
	if outcome != model.OutcomeCompleted {
		result := &model.CompletionResult{Outcome: outcome}
		if outcome == model.OutcomeAlreadyCompleted && event != nil {
			if existing, err := s.completions.GetByInstance(ctx, event.InstanceID); err == nil {
				result.Completion = existing
			}
		}
		return result, nil
	}

	nudge, err := s.nudges.Get(ctx, event.NudgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nudge: %w", err)
	}
	instance, err := s.instances.Get(ctx, event.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	completion := &model.NudgeCompletion{
		NudgeID:        event.NudgeID,
		InstanceID:     event.InstanceID,
		CompletedName:  event.RecipientName,
		CompletedEmail: event.RecipientEmail,
		Comment:        req.Comment,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		CompletedAt:    now,
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.completions.Create(ctx, tx, completion); err != nil {
			return err
		}
		if err := s.events.MarkUsed(ctx, tx, event.ID, now); err != nil {
			return err
		}
		if err := s.instances.MarkCompleted(ctx, tx, event.InstanceID, now); err != nil {
			return err
		}

		outboxEvent, err := model.NewOutboxEvent(messaging.ChannelNudgeCompleted, map[string]interface{}{
			"nudge_id":    event.NudgeID,
			"instance_id": event.InstanceID,
			"completed_by": completion.CompletedEmail,
		})
		if err != nil {
			return err
		}
		return s.outbox.Create(ctx, tx, outboxEvent)
	})
	if errors.Is(err, repository.ErrDuplicate) || errors.Is(err, repository.ErrNotFound) {
		// Lost the race: another request completed the instance between our
		// read and our write.
		result := &model.CompletionResult{Outcome: model.OutcomeAlreadyCompleted}
		if existing, getErr := s.completions.GetByInstance(ctx, event.InstanceID); getErr == nil {
			result.Completion = existing
		}
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record completion: %w", err)
	}

	// Display-only: the next instance is created by the materializer on its
	// own schedule, never here.
	nextOccurrence := s.computeNextOccurrence(ctx, nudge, instance)

	s.notify(ctx, nudge, completion, nextOccurrence)

	return &model.CompletionResult{
		Outcome:        model.OutcomeCompleted,
		Completion:     completion,
		NudgeName:      nudge.Name,
		NextOccurrence: nextOccurrence,
	}, nil
}

// resolveToken authenticates a raw token and classifies its state. A nil
// event with a non-completed outcome means the token never matched anything.
func (s *Service) resolveToken(ctx context.Context, rawToken string, now time.Time) (*model.NudgeRecipientEvent, model.CompletionOutcome, error) {
	eventID, err := s.codec.Parse(rawToken)
	if errors.Is(err, token.ErrInvalid) {
		return nil, model.OutcomeTokenNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}

	event, err := s.events.Get(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.OutcomeTokenNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}

	if event.Used() {
		return event, model.OutcomeAlreadyCompleted, nil
	}

	instance, err := s.instances.Get(ctx, event.InstanceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load instance: %w", err)
	}
	switch instance.Status {
	case model.InstanceStatusCompleted:
		return event, model.OutcomeAlreadyCompleted, nil
	case model.InstanceStatusDisabled:
		// A disabled instance's links read as expired rather than leaking
		// the plan-enforcement state to anonymous visitors.
		return event, model.OutcomeTokenExpired, nil
	}

	if event.Expired(now) {
		return event, model.OutcomeTokenExpired, nil
	}
	return event, model.OutcomeCompleted, nil
}

func (s *Service) computeNextOccurrence(ctx context.Context, nudge *model.Nudge, instance *model.NudgeInstance) *time.Time {
	rule, err := recurrence.FromNudge(nudge)
	if err != nil {
		s.logger.Error(err, "failed to parse rule for next-occurrence display", "nudge_id", nudge.ID.String())
		return nil
	}
	occurrences, err := s.instances.CountForNudge(ctx, nudge.ID)
	if err != nil {
		s.logger.Error(err, "failed to count instances", "nudge_id", nudge.ID.String())
		return nil
	}
	next, err := rule.Next(instance.ScheduledFor, occurrences)
	if err != nil {
		// Ended is a normal terminal answer here.
		return nil
	}
	return &next
}

// notify fans out completion notices to the creator and all current
// recipients, deduplicated by email with the creator flagged distinctly.
// Each send is isolated; failures are logged and swallowed.
func (s *Service) notify(ctx context.Context, nudge *model.Nudge, completion *model.NudgeCompletion, nextOccurrence *time.Time) {
	type target struct {
		email     string
		isCreator bool
	}

	seen := make(map[string]bool)
	var targets []target

	if creator, err := s.companies.GetMember(ctx, nudge.CreatorID); err == nil {
		addr := strings.ToLower(creator.Email)
		seen[addr] = true
		targets = append(targets, target{email: addr, isCreator: true})
	} else {
		s.logger.Error(err, "failed to load nudge creator", "nudge_id", nudge.ID.String())
	}

	recipients, err := s.nudges.ListRecipients(ctx, nudge.ID)
	if err != nil {
		s.logger.Error(err, "failed to list recipients for notification", "nudge_id", nudge.ID.String())
	}
	for _, rec := range recipients {
		addr := strings.ToLower(rec.Email)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		targets = append(targets, target{email: addr})
	}

	comment := ""
	if completion.Comment != nil {
		comment = *completion.Comment
	}

	var wg sync.WaitGroup
	for _, tgt := range targets {
		tgt := tgt
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.sender.SendCompletionNotice(ctx, tgt.email, email.CompletionNoticeData{
				NudgeName:      nudge.Name,
				CompletedName:  completion.CompletedName,
				CompletedAt:    completion.CompletedAt,
				Comment:        comment,
				IsCreator:      tgt.isCreator,
				NextOccurrence: nextOccurrence,
			})
			if err != nil {
				s.countNotification("failed")
				s.logger.Error(err, "completion notice failed", "to", tgt.email, "nudge_id", nudge.ID.String())
				return
			}
			s.countNotification("sent")
		}()
	}
	wg.Wait()
}

func (s *Service) countNotification(result string) {
	if s.metrics != nil {
		s.metrics.NotificationEmails.WithLabelValues(result).Inc()
	}
}
