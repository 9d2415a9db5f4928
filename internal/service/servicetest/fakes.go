// Package servicetest provides in-memory repository fakes shared by the
// service tests. The fakes mirror the store's uniqueness behavior so
// idempotency paths can be exercised without a database.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nudgehq/nudge-api/internal/email"
	"github.com/nudgehq/nudge-api/internal/model"
	"github.com/nudgehq/nudge-api/internal/repository"
)

// Store is an in-memory stand-in for the whole persistence layer. A single
// mutex keeps it simple; contention is irrelevant in tests.
type Store struct {
	mu sync.Mutex

	Nudges      map[uuid.UUID]*model.Nudge
	Recipients  map[uuid.UUID][]*model.NudgeRecipient
	Instances   map[uuid.UUID]*model.NudgeInstance
	Events      map[uuid.UUID]*model.NudgeRecipientEvent
	Completions map[uuid.UUID]*model.NudgeCompletion
	Members     map[uuid.UUID]*model.Member
	Limits      map[uuid.UUID]*model.PlanLimits
	Outbox      []*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		Nudges:      make(map[uuid.UUID]*model.Nudge),
		Recipients:  make(map[uuid.UUID][]*model.NudgeRecipient),
		Instances:   make(map[uuid.UUID]*model.NudgeInstance),
		Events:      make(map[uuid.UUID]*model.NudgeRecipientEvent),
		Completions: make(map[uuid.UUID]*model.NudgeCompletion),
		Members:     make(map[uuid.UUID]*model.Member),
		Limits:      make(map[uuid.UUID]*model.PlanLimits),
	}
}

// WithTx satisfies repository.TxRunner. The fakes ignore the tx handle, so
// passing nil through is fine.
func (s *Store) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

// AddNudge seeds a nudge with recipients, assigning IDs where zero.
func (s *Store) AddNudge(n *model.Nudge, recipients ...*model.NudgeRecipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.Nudges[n.ID] = n
	for _, r := range recipients {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.NudgeID = n.ID
		s.Recipients[n.ID] = append(s.Recipients[n.ID], r)
	}
}

// NudgeRepo exposes the store's NudgeRepository face.
func (s *Store) NudgeRepo() repository.NudgeRepository { return (*nudgeRepo)(s) }

// InstanceRepo exposes the store's InstanceRepository face.
func (s *Store) InstanceRepo() repository.InstanceRepository { return (*instanceRepo)(s) }

// EventRepo exposes the store's EventRepository face.
func (s *Store) EventRepo() repository.EventRepository { return (*eventRepo)(s) }

// CompletionRepo exposes the store's CompletionRepository face.
func (s *Store) CompletionRepo() repository.CompletionRepository { return (*completionRepo)(s) }

// CompanyRepo exposes the store's CompanyRepository face.
func (s *Store) CompanyRepo() repository.CompanyRepository { return (*companyRepo)(s) }

// OutboxRepo exposes the store's OutboxRepository face.
func (s *Store) OutboxRepo() repository.OutboxRepository { return (*outboxRepo)(s) }

// OutboxTypes returns the recorded event types in append order.
func (s *Store) OutboxTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.Outbox))
	for i, e := range s.Outbox {
		types[i] = e.EventType
	}
	return types
}

type nudgeRepo Store

func (r *nudgeRepo) Create(ctx context.Context, nudge *model.Nudge, recipients []*model.NudgeRecipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.Nudges {
		if existing.Slug == nudge.Slug {
			return repository.ErrDuplicate
		}
	}
	r.Nudges[nudge.ID] = nudge
	r.Recipients[nudge.ID] = append(r.Recipients[nudge.ID], recipients...)
	return nil
}

func (r *nudgeRepo) Get(ctx context.Context, id uuid.UUID) (*model.Nudge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Nudges[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}

func (r *nudgeRepo) GetBySlug(ctx context.Context, slug string) (*model.Nudge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.Nudges {
		if n.Slug == slug {
			return n, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *nudgeRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.Nudges {
		if n.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *nudgeRepo) Update(ctx context.Context, nudge *model.Nudge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Nudges[nudge.ID]; !ok {
		return repository.ErrNotFound
	}
	r.Nudges[nudge.ID] = nudge
	return nil
}

func (r *nudgeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NudgeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Nudges[id]
	if !ok {
		return repository.ErrNotFound
	}
	n.Status = status
	return nil
}

func (r *nudgeRepo) List(ctx context.Context, filters *model.NudgeFilters) ([]*model.Nudge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Nudge
	for _, n := range r.Nudges {
		if filters != nil {
			if filters.TeamID != uuid.Nil && n.TeamID != filters.TeamID {
				continue
			}
			if filters.Status != "" && n.Status != filters.Status {
				continue
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *nudgeRepo) ListActive(ctx context.Context) ([]*model.Nudge, error) {
	return r.List(ctx, &model.NudgeFilters{Status: model.NudgeStatusActive})
}

func (r *nudgeRepo) ListRecipients(ctx context.Context, nudgeID uuid.UUID) ([]*model.NudgeRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Recipients[nudgeID], nil
}

type instanceRepo Store

func (r *instanceRepo) Create(ctx context.Context, tx *sqlx.Tx, instance *model.NudgeInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.Instances {
		if existing.NudgeID == instance.NudgeID && existing.ScheduledFor.Equal(instance.ScheduledFor) {
			return repository.ErrDuplicate
		}
	}
	now := time.Now()
	instance.CreatedAt = now
	instance.UpdatedAt = now
	r.Instances[instance.ID] = instance
	return nil
}

func (r *instanceRepo) Get(ctx context.Context, id uuid.UUID) (*model.NudgeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.Instances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Snapshot, so concurrent callers never observe mid-write state.
	cp := *i
	return &cp, nil
}

func (r *instanceRepo) GetLatest(ctx context.Context, nudgeID uuid.UUID) (*model.NudgeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.NudgeInstance
	for _, i := range r.Instances {
		if i.NudgeID != nudgeID {
			continue
		}
		if latest == nil || i.ScheduledFor.After(latest.ScheduledFor) {
			latest = i
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *instanceRepo) CountForNudge(ctx context.Context, nudgeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, i := range r.Instances {
		if i.NudgeID == nudgeID {
			count++
		}
	}
	return count, nil
}

func (r *instanceRepo) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.Instances[id]
	if !ok || i.Status != model.InstanceStatusPending {
		return repository.ErrNotFound
	}
	i.Status = model.InstanceStatusCompleted
	i.CompletedAt = &completedAt
	return nil
}

type eventRepo Store

func (r *eventRepo) Create(ctx context.Context, tx *sqlx.Tx, event *model.NudgeRecipientEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now
	r.Events[event.ID] = event
	return nil
}

func (r *eventRepo) Get(ctx context.Context, id uuid.UUID) (*model.NudgeRecipientEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Snapshot, so concurrent callers never observe mid-write state.
	cp := *e
	return &cp, nil
}

func (r *eventRepo) ListPendingDispatch(ctx context.Context, limit int, maxAttempts int) ([]*model.DispatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*model.DispatchItem
	now := time.Now()
	for _, e := range r.Events {
		if e.Sent || e.UsedAt != nil || e.Attempts >= maxAttempts || !e.ExpiresAt.After(now) {
			continue
		}
		instance, ok := r.Instances[e.InstanceID]
		if !ok || instance.Status != model.InstanceStatusPending {
			continue
		}
		nudge, ok := r.Nudges[e.NudgeID]
		if !ok {
			continue
		}
		items = append(items, &model.DispatchItem{
			NudgeRecipientEvent: *e,
			NudgeName:           nudge.Name,
			Description:         nudge.Description,
			ScheduledFor:        instance.ScheduledFor,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *eventRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Sent = true
	e.Attempts++
	e.SentAt = &sentAt
	return nil
}

func (r *eventRepo) RecordFailure(ctx context.Context, id uuid.UUID, sendErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Attempts++
	e.LastError = &sendErr
	return nil
}

func (r *eventRepo) MarkUsed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[id]
	if !ok || e.UsedAt != nil {
		return repository.ErrNotFound
	}
	e.UsedAt = &usedAt
	return nil
}

type completionRepo Store

func (r *completionRepo) Create(ctx context.Context, tx *sqlx.Tx, completion *model.NudgeCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.Completions[completion.InstanceID]; exists {
		return repository.ErrDuplicate
	}
	if completion.ID == uuid.Nil {
		completion.ID = uuid.New()
	}
	r.Completions[completion.InstanceID] = completion
	return nil
}

func (r *completionRepo) GetByInstance(ctx context.Context, instanceID uuid.UUID) (*model.NudgeCompletion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Completions[instanceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type companyRepo Store

func (r *companyRepo) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	return nil, repository.ErrNotFound
}

func (r *companyRepo) GetMember(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Members[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (r *companyRepo) GetPlanLimits(ctx context.Context, companyID uuid.UUID) (*model.PlanLimits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Limits[companyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (r *companyRepo) GetUsage(ctx context.Context, companyID uuid.UUID) (*model.CompanyUsage, error) {
	return &model.CompanyUsage{}, nil
}

func (r *companyRepo) DisableExcessMembers(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	return 0, nil
}

func (r *companyRepo) DisableExcessTeams(ctx context.Context, companyID uuid.UUID, keep int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *companyRepo) DisableExcessNudges(ctx context.Context, companyID uuid.UUID, keep int) (int, error) {
	return 0, nil
}

func (r *companyRepo) DisableTeamCascade(ctx context.Context, teamID uuid.UUID) error {
	return nil
}

func (r *companyRepo) DisableNudgesOverRecipientLimit(ctx context.Context, companyID uuid.UUID, maxRecipients int) (int, error) {
	return 0, nil
}

type outboxRepo Store

func (r *outboxRepo) Create(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outbox = append(r.Outbox, event)
	return nil
}

func (r *outboxRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*model.OutboxEvent
	for _, e := range r.Outbox {
		retryDue := e.Status == model.OutboxStatusFailed &&
			e.RetryAt != nil && !e.RetryAt.After(now)
		if e.Status != model.OutboxStatusPending && !retryDue {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Outbox {
		if e.ID == id {
			e.Status = status
			e.ErrorMessage = errMsg
			e.RetryAt = retryAt
			if status == model.OutboxStatusFailed && errMsg != nil {
				e.RetryCount++
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

// Sent is one captured outbound email.
type Sent struct {
	To       string
	Reminder *email.ReminderData
	Notice   *email.CompletionNoticeData
}

// FakeSender records sends and can be primed to fail specific addresses.
type FakeSender struct {
	mu       sync.Mutex
	Messages []Sent
	// FailFor maps an address to the number of sends that should fail
	// before succeeding. Negative means fail forever.
	FailFor map[string]int
}

func NewFakeSender() *FakeSender {
	return &FakeSender{FailFor: make(map[string]int)}
}

func (f *FakeSender) SendReminder(ctx context.Context, to string, data email.ReminderData) error {
	return f.record(to, Sent{To: to, Reminder: &data})
}

func (f *FakeSender) SendCompletionNotice(ctx context.Context, to string, data email.CompletionNoticeData) error {
	return f.record(to, Sent{To: to, Notice: &data})
}

func (f *FakeSender) record(to string, msg Sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.FailFor[to]; ok && n != 0 {
		if n > 0 {
			f.FailFor[to] = n - 1
		}
		return fmt.Errorf("smtp refused %s", to)
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// SentTo returns the captured messages addressed to a recipient.
func (f *FakeSender) SentTo(to string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, m := range f.Messages {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}
