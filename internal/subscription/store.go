// Package subscription holds a tenant's subscription state and is the only path
// through which lifecycle commands reach the billing API.
package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/events"
	"brokerage-client/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	module        = "Subscription"
	plansCacheKey = "plans"
)

// API is the part of the billing API the store drives.
type API interface {
	ListPlans(ctx context.Context) ([]entity.SubscriptionPlan, error)
	GetCurrentSubscription(ctx context.Context) (*entity.Subscription, error)
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*entity.Subscription, error)
	UpdateSubscription(ctx context.Context, req dto.UpdateSubscriptionRequest) (*entity.Subscription, error)
	CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest) (*entity.Subscription, error)
	PauseSubscription(ctx context.Context, req dto.PauseSubscriptionRequest) (*entity.Subscription, error)
	ResumeSubscription(ctx context.Context) (*entity.Subscription, error)
	ListUsage(ctx context.Context) ([]entity.UsageTracking, error)
	ListDunningEvents(ctx context.Context) ([]entity.DunningEvent, error)
	RetryDunningEvent(ctx context.Context, eventId uuid.UUID) error
	SchedulerStatus(ctx context.Context) (*entity.SchedulerStatus, error)
	StartScheduler(ctx context.Context) (*entity.SchedulerStatus, error)
	StopScheduler(ctx context.Context) (*entity.SchedulerStatus, error)
	UpdateSchedulerConfig(ctx context.Context, patch dto.SchedulerConfigPatch) (*entity.SchedulerConfig, error)
}

type ChangePublisher interface {
	Publish(ctx context.Context, change events.Change) error
}

// Snapshot is a copy of the store state; mutating it does not affect the store.
type Snapshot struct {
	Loaded          bool
	HasSubscription bool
	Subscription    *entity.Subscription
	Plans           []entity.SubscriptionPlan
	Usage           []entity.UsageTracking
	DunningEvents   []entity.DunningEvent
	Pending         bool
	LastError       error
}

// Store never changes the subscription status itself. Every accepted command
// replaces the local subscription with the one the server returned.
type Store struct {
	api       API
	plans     *cache.Cache
	publisher ChangePublisher
	logger    logger.ILogger
	userId    uuid.UUID

	inFlight atomic.Bool

	mu      sync.RWMutex
	loaded  bool
	sub     *entity.Subscription
	usage   []entity.UsageTracking
	dunning []entity.DunningEvent
	lastErr error
}

func NewStore(userId uuid.UUID, api API, publisher ChangePublisher, log logger.ILogger) *Store {
	return &Store{
		api:       api,
		plans:     cache.New(cache.NoExpiration, 0),
		publisher: publisher,
		logger:    log,
		userId:    userId,
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Loaded:          s.loaded,
		HasSubscription: s.sub != nil,
		Subscription:    s.sub.Clone(),
		Plans:           s.cachedPlans(),
		Usage:           append([]entity.UsageTracking(nil), s.usage...),
		DunningEvents:   append([]entity.DunningEvent(nil), s.dunning...),
		Pending:         s.inFlight.Load(),
		LastError:       s.lastErr,
	}
	return snap
}

// Plan looks a plan up in the session catalog.
func (s *Store) Plan(id uuid.UUID) (entity.SubscriptionPlan, bool) {
	v, ok := s.plans.Get(planKey(id))
	if !ok {
		return entity.SubscriptionPlan{}, false
	}
	return v.(entity.SubscriptionPlan), true
}

func planKey(id uuid.UUID) string {
	return "plan:" + id.String()
}

func (s *Store) cachedPlans() []entity.SubscriptionPlan {
	v, ok := s.plans.Get(plansCacheKey)
	if !ok {
		return nil
	}
	return append([]entity.SubscriptionPlan(nil), v.([]entity.SubscriptionPlan)...)
}

// FetchPlans refreshes the catalog. On failure the last-known catalog stays in
// place and the error is returned.
func (s *Store) FetchPlans(ctx context.Context) ([]entity.SubscriptionPlan, error) {
	plans, err := s.api.ListPlans(ctx)
	if err != nil {
		s.fail("fetch plans", err)
		return nil, err
	}

	sort.SliceStable(plans, func(i, j int) bool { return plans[i].SortOrder < plans[j].SortOrder })
	s.plans.Set(plansCacheKey, plans, cache.NoExpiration)
	for _, p := range plans {
		s.plans.Set(planKey(p.Id), p, cache.NoExpiration)
	}
	return append([]entity.SubscriptionPlan(nil), plans...), nil
}

// FetchCurrentSubscription returns a KindNotFound error when the tenant has no
// subscription yet. In that case the store is loaded and empty.
func (s *Store) FetchCurrentSubscription(ctx context.Context) (*entity.Subscription, error) {
	op := "fetch subscription"
	sub, err := s.api.GetCurrentSubscription(ctx)
	if apperr.Is(err, apperr.KindNotFound) {
		s.mu.Lock()
		had := s.sub != nil
		s.sub = nil
		s.loaded = true
		s.lastErr = nil
		s.mu.Unlock()
		if had {
			s.publish(ctx, nil)
		}
		return nil, err
	}
	if err != nil {
		s.fail(op, err)
		return nil, err
	}
	if err := s.apply(ctx, op, sub); err != nil {
		return nil, err
	}
	return sub.Clone(), nil
}

// Load fetches the subscription, then usage and dunning events best-effort.
// A tenant without a subscription is not an error.
func (s *Store) Load(ctx context.Context) error {
	sub, err := s.FetchCurrentSubscription(ctx)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	if _, err := s.FetchUsageTracking(ctx); err != nil {
		s.logger.Warn(module, "Usage tracking unavailable", map[string]interface{}{"user_id": s.userId, "error": err})
	}
	if _, err := s.FetchDunningEvents(ctx); err != nil {
		s.logger.Warn(module, "Dunning events unavailable", map[string]interface{}{"user_id": s.userId, "error": err})
	}
	return nil
}

func (s *Store) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*entity.Subscription, error) {
	op := "create subscription"
	if err := dto.Validate(op, req); err != nil {
		return nil, err
	}

	current := s.current()
	if current != nil && current.Status != entity.SubscriptionStatusCanceled {
		return nil, apperr.Validation(op, "a %s subscription already exists", current.Status)
	}
	if req.Seats != nil {
		if err := s.checkSeats(op, req.PlanId, *req.Seats); err != nil {
			return nil, err
		}
	}

	return s.command(ctx, op, func(ctx context.Context) (*entity.Subscription, error) {
		return s.api.CreateSubscription(ctx, req)
	})
}

func (s *Store) UpdateSubscription(ctx context.Context, req dto.UpdateSubscriptionRequest) (*entity.Subscription, error) {
	op := "update subscription"
	if req.Empty() {
		return nil, apperr.Validation(op, "at least one of plan_id, seats or billing_cycle is required")
	}
	if err := dto.Validate(op, req); err != nil {
		return nil, err
	}

	current, err := s.requireSubscription(op)
	if err != nil {
		return nil, err
	}
	planId, seats := current.PlanId, current.Seats
	if req.PlanId != nil {
		planId = *req.PlanId
	}
	if req.Seats != nil {
		seats = *req.Seats
	}
	if err := s.checkSeats(op, planId, seats); err != nil {
		return nil, err
	}

	return s.command(ctx, op, func(ctx context.Context) (*entity.Subscription, error) {
		return s.api.UpdateSubscription(ctx, req)
	})
}

// CancelSubscription with CancelAtPeriodEnd=true leaves the subscription active
// with the flag set; false cancels immediately. The server decides either way.
func (s *Store) CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest) (*entity.Subscription, error) {
	op := "cancel subscription"
	if err := dto.Validate(op, req); err != nil {
		return nil, err
	}
	if err := s.requireBillable(op); err != nil {
		return nil, err
	}

	return s.command(ctx, op, func(ctx context.Context) (*entity.Subscription, error) {
		return s.api.CancelSubscription(ctx, req)
	})
}

func (s *Store) PauseSubscription(ctx context.Context, req dto.PauseSubscriptionRequest) (*entity.Subscription, error) {
	op := "pause subscription"
	if err := dto.Validate(op, req); err != nil {
		return nil, err
	}
	if err := s.requireBillable(op); err != nil {
		return nil, err
	}

	return s.command(ctx, op, func(ctx context.Context) (*entity.Subscription, error) {
		return s.api.PauseSubscription(ctx, req)
	})
}

func (s *Store) ResumeSubscription(ctx context.Context) (*entity.Subscription, error) {
	op := "resume subscription"
	if err := s.requireStatus(op, entity.SubscriptionStatusPaused); err != nil {
		return nil, err
	}

	return s.command(ctx, op, s.api.ResumeSubscription)
}

// FetchUsageTracking is informational and never blocks other operations.
func (s *Store) FetchUsageTracking(ctx context.Context) ([]entity.UsageTracking, error) {
	usage, err := s.api.ListUsage(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.usage = usage
	s.mu.Unlock()
	return append([]entity.UsageTracking(nil), usage...), nil
}

func (s *Store) FetchDunningEvents(ctx context.Context) ([]entity.DunningEvent, error) {
	list, err := s.api.ListDunningEvents(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.dunning = list
	s.mu.Unlock()
	return append([]entity.DunningEvent(nil), list...), nil
}

// RetryFailedPayment asks the server to retry one dunning event, then reloads the
// dunning list. The outcome of the retry is whatever the reloaded list shows.
func (s *Store) RetryFailedPayment(ctx context.Context, eventId uuid.UUID) ([]entity.DunningEvent, error) {
	op := "retry failed payment"
	if eventId == uuid.Nil {
		return nil, apperr.Validation(op, "event_id is required")
	}
	if !s.hasDunningEvent(eventId) {
		if _, err := s.FetchDunningEvents(ctx); err != nil {
			return nil, err
		}
		if !s.hasDunningEvent(eventId) {
			return nil, apperr.NotFound(op, fmt.Sprintf("dunning event %s not found", eventId))
		}
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, apperr.Conflict(op, "another billing command is still in progress")
	}
	err := s.api.RetryDunningEvent(ctx, eventId)
	s.inFlight.Store(false)
	if err != nil {
		s.fail(op, err)
		return nil, err
	}

	list, err := s.FetchDunningEvents(ctx)
	if err != nil {
		s.logger.Warn(module, "Dunning refresh after retry failed", map[string]interface{}{"event_id": eventId, "error": err})
		return s.Snapshot().DunningEvents, nil
	}
	return list, nil
}

func (s *Store) SchedulerStatus(ctx context.Context) (*entity.SchedulerStatus, error) {
	return s.api.SchedulerStatus(ctx)
}

func (s *Store) StartScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	status, err := s.api.StartScheduler(ctx)
	if err == nil {
		s.logger.Info(module, "Dunning scheduler started", map[string]interface{}{"user_id": s.userId})
	}
	return status, err
}

func (s *Store) StopScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	status, err := s.api.StopScheduler(ctx)
	if err == nil {
		s.logger.Info(module, "Dunning scheduler stopped", map[string]interface{}{"user_id": s.userId})
	}
	return status, err
}

func (s *Store) UpdateSchedulerConfig(ctx context.Context, patch dto.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	op := "update scheduler config"
	if patch.IntervalMinutes == nil && patch.MaxRetries == nil && patch.RetryDelaysDays == nil && patch.Enabled == nil {
		return nil, apperr.Validation(op, "config patch is empty")
	}
	if err := dto.Validate(op, patch); err != nil {
		return nil, err
	}
	return s.api.UpdateSchedulerConfig(ctx, patch)
}

// Close drops all session state, including the plan catalog.
func (s *Store) Close() {
	s.plans.Flush()
	s.mu.Lock()
	s.loaded = false
	s.sub = nil
	s.usage = nil
	s.dunning = nil
	s.lastErr = nil
	s.mu.Unlock()
}

// command runs one lifecycle call under the in-flight guard and applies the
// returned subscription. On any failure the local state is left as it was.
func (s *Store) command(ctx context.Context, op string, call func(context.Context) (*entity.Subscription, error)) (*entity.Subscription, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, apperr.Conflict(op, "another subscription command is still in progress")
	}
	defer s.inFlight.Store(false)

	sub, err := call(ctx)
	if err != nil {
		s.fail(op, err)
		return nil, err
	}
	if err := s.apply(ctx, op, sub); err != nil {
		return nil, err
	}
	s.logger.Info(module, "Subscription updated", map[string]interface{}{
		"op":              op,
		"user_id":         s.userId,
		"subscription_id": sub.Id,
		"status":          sub.Status,
	})
	return sub.Clone(), nil
}

func (s *Store) apply(ctx context.Context, op string, sub *entity.Subscription) error {
	if sub == nil || !sub.Status.Valid() {
		status := "<nil>"
		if sub != nil {
			status = string(sub.Status)
		}
		err := apperr.New(apperr.KindServer, op, fmt.Sprintf("server returned unknown subscription status %q", status))
		s.fail(op, err)
		return err
	}

	next := sub.Clone()
	s.mu.Lock()
	s.sub = next
	s.loaded = true
	s.lastErr = nil
	s.mu.Unlock()

	s.publish(ctx, next)
	return nil
}

func (s *Store) publish(ctx context.Context, sub *entity.Subscription) {
	if s.publisher == nil {
		return
	}
	data := map[string]interface{}{"has_subscription": sub != nil}
	if sub != nil {
		data["subscription_id"] = sub.Id.String()
		data["plan_id"] = sub.PlanId.String()
		data["status"] = string(sub.Status)
		data["seats"] = sub.Seats
		data["cancel_at_period_end"] = sub.CancelAtPeriodEnd
	}
	if err := s.publisher.Publish(ctx, events.NewChange(events.TypeSubscriptionChanged, s.userId, data)); err != nil {
		s.logger.Warn(module, "Failed to publish subscription change", map[string]interface{}{"user_id": s.userId, "error": err})
	}
}

func (s *Store) fail(op string, err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error(module, "Subscription operation failed", map[string]interface{}{
		"op":      op,
		"user_id": s.userId,
		"kind":    apperr.KindOf(err).String(),
		"error":   err,
	})
}

func (s *Store) current() *entity.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sub.Clone()
}

func (s *Store) requireSubscription(op string) (*entity.Subscription, error) {
	sub := s.current()
	if sub == nil {
		return nil, apperr.Validation(op, "no subscription to change")
	}
	if sub.Status == entity.SubscriptionStatusCanceled {
		return nil, apperr.Validation(op, "subscription is canceled; create a new one")
	}
	return sub, nil
}

func (s *Store) requireBillable(op string) error {
	sub, err := s.requireSubscription(op)
	if err != nil {
		return err
	}
	if !sub.Status.Billable() {
		return apperr.Validation(op, "not allowed while subscription is %s", sub.Status)
	}
	return nil
}

func (s *Store) requireStatus(op string, allowed ...entity.SubscriptionStatus) error {
	sub, err := s.requireSubscription(op)
	if err != nil {
		return err
	}
	for _, st := range allowed {
		if sub.Status == st {
			return nil
		}
	}
	return apperr.Validation(op, "not allowed while subscription is %s", sub.Status)
}

// checkSeats only rejects what the cached catalog can prove; the server enforces
// the limit regardless.
func (s *Store) checkSeats(op string, planId uuid.UUID, seats int) error {
	plan, ok := s.Plan(planId)
	if !ok {
		return nil
	}
	if !plan.Limits.AllowsSeats(seats) {
		return apperr.Validation(op, "%d seats exceeds the %s plan limit of %d agents", seats, plan.Name, plan.Limits.MaxAgents)
	}
	return nil
}

func (s *Store) hasDunningEvent(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.dunning {
		if e.Id == id {
			return true
		}
	}
	return false
}
