package materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/recurrence"
	"github.com/nudgehq/nudge-api/internal/repository"
	"github.com/nudgehq/nudge-api/pkg/logger"
	"github.com/nudgehq/nudge-api/pkg/messaging"
)

// minTokenWindow is the floor on a completion token's validity.
const minTokenWindow = 24 * time.Hour

type Config struct {
	// TokenTTL caps how long a completion token stays valid past its
	// occurrence. The effective expiry is the next occurrence or this TTL,
	// whichever comes first.
	TokenTTL time.Duration
}

// CreatedInstance reports one materialized occurrence.
type CreatedInstance struct {
	NudgeID      uuid.UUID `json:"nudge_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Recipients   int       `json:"recipients"`
}

// ItemFailure reports one nudge whose materialization failed. Failures are
// isolated: they never abort the rest of the batch.
type ItemFailure struct {
	NudgeID uuid.UUID `json:"nudge_id"`
	Err     string    `json:"error"`
}

// Report summarizes a materialization batch.
type Report struct {
	Created  []CreatedInstance `json:"created"`
	Skipped  int               `json:"skipped"`
	Finished int               `json:"finished"`
	Failures []ItemFailure     `json:"failures,omitempty"`
}

type Service struct {
	nudges    repository.NudgeRepository
	instances repository.InstanceRepository
	events    repository.EventRepository
	outbox    repository.OutboxRepository
	tx        repository.TxRunner
	cfg       Config
	logger    *logger.Logger
}

func NewService(
	nudges repository.NudgeRepository,
	instances repository.InstanceRepository,
	events repository.EventRepository,
	outbox repository.OutboxRepository,
	tx repository.TxRunner,
	cfg Config,
	logger *logger.Logger,
) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 14 * 24 * time.Hour
	}
	return &Service{
		nudges:    nudges,
		instances: instances,
		events:    events,
		outbox:    outbox,
		tx:        tx,
		cfg:       cfg,
		logger:    logger,
	}
}

// MaterializeDue scans active nudges and creates an instance plus one
// recipient event per recipient for every occurrence that has become due.
// Safe to invoke concurrently or repeatedly: the (nudge, scheduled_for)
// uniqueness constraint turns overlapping runs into skips.
func (s *Service) MaterializeDue(ctx context.Context, now time.Time) (*Report, error) {
	nudges, err := s.nudges.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active nudges: %w", err)
	}

	report := &Report{}
	for _, nudge := range nudges {
		created, finished, err := s.materializeNudge(ctx, nudge, now)
		if err != nil {
			s.logger.Error(err, "materialization failed", "nudge_id", nudge.ID.String())
			report.Failures = append(report.Failures, ItemFailure{NudgeID: nudge.ID, Err: err.Error()})
			continue
		}
		if finished {
			report.Finished++
		}
		if created == nil {
			report.Skipped++
			continue
		}
		report.Created = append(report.Created, *created)
	}
	return report, nil
}

func (s *Service) materializeNudge(ctx context.Context, nudge *model.Nudge, now time.Time) (*CreatedInstance, bool, error) {
	rule, err := recurrence.FromNudge(nudge)
	if err != nil {
		return nil, false, fmt.Errorf("invalid recurrence rule: %w", err)
	}

	occurrences, err := s.instances.CountForNudge(ctx, nudge.ID)
	if err != nil {
		return nil, false, err
	}

	next, err := s.nextOccurrence(ctx, nudge, rule, occurrences)
	if errors.Is(err, recurrence.ErrEnded) {
		return nil, true, s.finishNudge(ctx, nudge)
	}
	if err != nil {
		return nil, false, err
	}

	if next.After(now) {
		return nil, false, nil
	}

	recipients, err := s.nudges.ListRecipients(ctx, nudge.ID)
	if err != nil {
		return nil, false, err
	}

	instance := &model.NudgeInstance{
		ID:           uuid.New(),
		NudgeID:      nudge.ID,
		ScheduledFor: next,
		Status:       model.InstanceStatusPending,
	}
	expiresAt := s.tokenExpiry(rule, next, occurrences)

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.instances.Create(ctx, tx, instance); err != nil {
			return err
		}
		for _, rec := range recipients {
			event := &model.NudgeRecipientEvent{
				ID:             uuid.New(),
				InstanceID:     instance.ID,
				NudgeID:        nudge.ID,
				RecipientID:    rec.ID,
				RecipientName:  rec.Name,
				RecipientEmail: rec.Email,
				ExpiresAt:      expiresAt,
			}
			if err := s.events.Create(ctx, tx, event); err != nil {
				return err
			}
		}

		outboxEvent, err := model.NewOutboxEvent(messaging.ChannelInstanceMaterialized, CreatedInstance{
			NudgeID:      nudge.ID,
			InstanceID:   instance.ID,
			ScheduledFor: next,
			Recipients:   len(recipients),
		})
		if err != nil {
			return err
		}
		return s.outbox.Create(ctx, tx, outboxEvent)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Another run got there first.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	created := &CreatedInstance{
		NudgeID:      nudge.ID,
		InstanceID:   instance.ID,
		ScheduledFor: next,
		Recipients:   len(recipients),
	}

	// FINISHED is decided after materializing the final instance.
	if _, err := rule.Next(next, occurrences+1); errors.Is(err, recurrence.ErrEnded) {
		if err := s.finishNudge(ctx, nudge); err != nil {
			return created, false, err
		}
		return created, true, nil
	}
	return created, false, nil
}

// nextOccurrence derives the due occurrence from the last materialized
// instance, or from the rule's start when none exists yet.
func (s *Service) nextOccurrence(ctx context.Context, nudge *model.Nudge, rule recurrence.Rule, occurrences int) (time.Time, error) {
	last, err := s.instances.GetLatest(ctx, nudge.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return rule.First()
	}
	if err != nil {
		return time.Time{}, err
	}
	return rule.Next(last.ScheduledFor, occurrences)
}

// tokenExpiry bounds a token's life to the next occurrence or the TTL,
// whichever is sooner, with a 24h floor so a same-day completion link never
// dies before the day is out.
func (s *Service) tokenExpiry(rule recurrence.Rule, scheduledFor time.Time, occurrences int) time.Time {
	expiry := scheduledFor.Add(s.cfg.TokenTTL)
	if following, err := rule.Next(scheduledFor, occurrences+1); err == nil && following.Before(expiry) {
		expiry = following
	}
	if floor := scheduledFor.Add(minTokenWindow); expiry.Before(floor) {
		expiry = floor
	}
	return expiry
}

func (s *Service) finishNudge(ctx context.Context, nudge *model.Nudge) error {
	if err := s.nudges.UpdateStatus(ctx, nudge.ID, model.NudgeStatusFinished); err != nil {
		return fmt.Errorf("failed to finish nudge: %w", err)
	}
	outboxEvent, err := model.NewOutboxEvent(messaging.ChannelNudgeFinished, map[string]interface{}{
		"nudge_id": nudge.ID,
	})
	if err != nil {
		return err
	}
	if err := s.outbox.Create(ctx, nil, outboxEvent); err != nil {
		s.logger.Error(err, "failed to record nudge.finished event", "nudge_id", nudge.ID.String())
	}
	return nil
}
