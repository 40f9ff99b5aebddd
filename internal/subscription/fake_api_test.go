package subscription

import (
	"context"
	"sync"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/events"

	"github.com/google/uuid"
)

// fakeAPI behaves like the billing server for one tenant.
type fakeAPI struct {
	mu sync.Mutex

	plans   []entity.SubscriptionPlan
	sub     *entity.Subscription
	usage   []entity.UsageTracking
	dunning []entity.DunningEvent

	// err, when set, is returned by the next call instead of the normal result.
	err error
	// failOn fails every call of the named method.
	failOn map[string]error
	// status overrides the status of the next returned subscription.
	status entity.SubscriptionStatus
	// block, when set, holds lifecycle calls until closed.
	block chan struct{}

	calls   []string
	retried []uuid.UUID
}

func (f *fakeAPI) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err, ok := f.failOn[name]; ok {
		return err
	}
	err := f.err
	f.err = nil
	return err
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) wait() {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (f *fakeAPI) result() *entity.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sub.Clone()
	if f.status != "" {
		out.Status = f.status
		f.status = ""
	}
	return out
}

func (f *fakeAPI) ListPlans(ctx context.Context) ([]entity.SubscriptionPlan, error) {
	if err := f.record("ListPlans"); err != nil {
		return nil, err
	}
	return append([]entity.SubscriptionPlan(nil), f.plans...), nil
}

func (f *fakeAPI) GetCurrentSubscription(ctx context.Context) (*entity.Subscription, error) {
	if err := f.record("GetCurrentSubscription"); err != nil {
		return nil, err
	}
	if f.sub == nil {
		return nil, apperr.FromStatus("get subscription", 404, "", "No subscription found")
	}
	return f.result(), nil
}

func (f *fakeAPI) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*entity.Subscription, error) {
	if err := f.record("CreateSubscription"); err != nil {
		return nil, err
	}
	seats := 1
	if req.Seats != nil {
		seats = *req.Seats
	}
	now := time.Now().UTC()
	f.mu.Lock()
	f.sub = &entity.Subscription{
		Id:              uuid.New(),
		PlanId:          req.PlanId,
		Status:          entity.SubscriptionStatusActive,
		Seats:           seats,
		BillingCycle:    req.BillingCycle,
		StartDate:       now,
		NextBillingDate: now.AddDate(0, 1, 0),
	}
	f.mu.Unlock()
	return f.result(), nil
}

func (f *fakeAPI) UpdateSubscription(ctx context.Context, req dto.UpdateSubscriptionRequest) (*entity.Subscription, error) {
	if err := f.record("UpdateSubscription"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if req.PlanId != nil {
		f.sub.PlanId = *req.PlanId
	}
	if req.Seats != nil {
		f.sub.Seats = *req.Seats
	}
	if req.BillingCycle != nil {
		f.sub.BillingCycle = *req.BillingCycle
	}
	f.mu.Unlock()
	return f.result(), nil
}

func (f *fakeAPI) CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest) (*entity.Subscription, error) {
	if err := f.record("CancelSubscription"); err != nil {
		return nil, err
	}
	f.wait()
	f.mu.Lock()
	if *req.CancelAtPeriodEnd {
		f.sub.CancelAtPeriodEnd = true
	} else {
		f.sub.Status = entity.SubscriptionStatusCanceled
	}
	f.mu.Unlock()
	return f.result(), nil
}

func (f *fakeAPI) PauseSubscription(ctx context.Context, req dto.PauseSubscriptionRequest) (*entity.Subscription, error) {
	if err := f.record("PauseSubscription"); err != nil {
		return nil, err
	}
	f.wait()
	days := 30
	if req.PauseDurationDays != nil {
		days = *req.PauseDurationDays
	}
	until := time.Now().UTC().AddDate(0, 0, days)
	f.mu.Lock()
	f.sub.Status = entity.SubscriptionStatusPaused
	f.sub.PauseUntil = &until
	f.mu.Unlock()
	return f.result(), nil
}

func (f *fakeAPI) ResumeSubscription(ctx context.Context) (*entity.Subscription, error) {
	if err := f.record("ResumeSubscription"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sub.Status = entity.SubscriptionStatusActive
	f.sub.PauseUntil = nil
	f.mu.Unlock()
	return f.result(), nil
}

func (f *fakeAPI) ListUsage(ctx context.Context) ([]entity.UsageTracking, error) {
	if err := f.record("ListUsage"); err != nil {
		return nil, err
	}
	return f.usage, nil
}

func (f *fakeAPI) ListDunningEvents(ctx context.Context) ([]entity.DunningEvent, error) {
	if err := f.record("ListDunningEvents"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.DunningEvent(nil), f.dunning...), nil
}

func (f *fakeAPI) RetryDunningEvent(ctx context.Context, eventId uuid.UUID) error {
	if err := f.record("RetryDunningEvent"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, eventId)
	for i := range f.dunning {
		if f.dunning[i].Id == eventId {
			f.dunning[i].Status = entity.DunningStatusProcessing
			f.dunning[i].RetryCount++
		}
	}
	return nil
}

func (f *fakeAPI) SchedulerStatus(ctx context.Context) (*entity.SchedulerStatus, error) {
	if err := f.record("SchedulerStatus"); err != nil {
		return nil, err
	}
	return &entity.SchedulerStatus{Running: true}, nil
}

func (f *fakeAPI) StartScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	if err := f.record("StartScheduler"); err != nil {
		return nil, err
	}
	return &entity.SchedulerStatus{Running: true}, nil
}

func (f *fakeAPI) StopScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	if err := f.record("StopScheduler"); err != nil {
		return nil, err
	}
	return &entity.SchedulerStatus{Running: false}, nil
}

func (f *fakeAPI) UpdateSchedulerConfig(ctx context.Context, patch dto.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	if err := f.record("UpdateSchedulerConfig"); err != nil {
		return nil, err
	}
	cfg := &entity.SchedulerConfig{IntervalMinutes: 60, MaxRetries: 3, Enabled: true}
	if patch.MaxRetries != nil {
		cfg.MaxRetries = *patch.MaxRetries
	}
	return cfg, nil
}

type changeLog struct {
	mu      sync.Mutex
	changes []events.Change
}

func (c *changeLog) Publish(_ context.Context, change events.Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	return nil
}

func (c *changeLog) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.changes))
	for _, ch := range c.changes {
		status, _ := ch.Data["status"].(string)
		out = append(out, status)
	}
	return out
}
