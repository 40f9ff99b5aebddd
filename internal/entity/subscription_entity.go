// FILE: internal/entity/subscription_entity.go
package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SubscriptionStatus string
type BillingCycle string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"

	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusPaused, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// Billable reports whether the status accepts pause and cancel commands.
func (s SubscriptionStatus) Billable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

type PlanLimits struct {
	MaxProperties int `json:"max_properties"`
	MaxAgents     int `json:"max_agents"` // -1 = unlimited
	StorageGB     int `json:"storage_gb"`
	ESignatures   int `json:"e_signature_count"`
	SMSCount      int `json:"sms_count"`
}

// AllowsSeats reports whether seats fits the plan's agent limit.
func (l PlanLimits) AllowsSeats(seats int) bool {
	return l.MaxAgents < 0 || seats <= l.MaxAgents
}

type SubscriptionPlan struct {
	Id           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	YearlyPrice  decimal.Decimal `json:"yearly_price"`
	Currency     string          `json:"currency,omitempty"`
	Features     []string        `json:"features"`
	Limits       PlanLimits      `json:"limits"`
	IsActive     bool            `json:"is_active"`
	SortOrder    int             `json:"sort_order"`
}

func (p SubscriptionPlan) PriceFor(cycle BillingCycle) decimal.Decimal {
	if cycle == BillingCycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

type Subscription struct {
	Id                uuid.UUID          `json:"id"`
	UserId            uuid.UUID          `json:"user_id"`
	PlanId            uuid.UUID          `json:"plan_id"`
	Status            SubscriptionStatus `json:"status"`
	Seats             int                `json:"seats"`
	BillingCycle      BillingCycle       `json:"billing_cycle"`
	StartDate         time.Time          `json:"start_date"`
	NextBillingDate   time.Time          `json:"next_billing_date"`
	TrialEnd          *time.Time         `json:"trial_end,omitempty"`
	PauseUntil        *time.Time         `json:"pause_until,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	AddOns            datatypes.JSONMap  `json:"add_ons,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers never share pointers into store state.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	if s.TrialEnd != nil {
		t := *s.TrialEnd
		out.TrialEnd = &t
	}
	if s.PauseUntil != nil {
		t := *s.PauseUntil
		out.PauseUntil = &t
	}
	if s.AddOns != nil {
		out.AddOns = make(datatypes.JSONMap, len(s.AddOns))
		for k, v := range s.AddOns {
			out.AddOns[k] = v
		}
	}
	return &out
}

// UsageTracking is informational only; the server enforces real limits.
type UsageTracking struct {
	Id             uuid.UUID `json:"id"`
	SubscriptionId uuid.UUID `json:"subscription_id"`
	FeatureName    string    `json:"feature_name"`
	CurrentUsage   int       `json:"current_usage"`
	LimitValue     int       `json:"limit_value"` // -1 = unlimited
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// NearLimit reports usage at or above the given fraction of the limit.
func (u UsageTracking) NearLimit(threshold float64) bool {
	if u.LimitValue <= 0 {
		return u.LimitValue == 0 && u.CurrentUsage > 0
	}
	return float64(u.CurrentUsage) >= float64(u.LimitValue)*threshold
}

type DunningStatus string

const (
	DunningStatusPending    DunningStatus = "pending"
	DunningStatusProcessing DunningStatus = "processing"
	DunningStatusFailed     DunningStatus = "failed"
	DunningStatusCompleted  DunningStatus = "completed"
	DunningStatusCancelled  DunningStatus = "cancelled"
)

type DunningEvent struct {
	Id             uuid.UUID     `json:"id"`
	SubscriptionId uuid.UUID     `json:"subscription_id"`
	InvoiceId      string        `json:"invoice_id"`
	Status         DunningStatus `json:"status"`
	RetryCount     int           `json:"retry_count"`
	MaxRetries     int           `json:"max_retries"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Retryable reports whether a manual retry makes sense for the event.
func (d DunningEvent) Retryable() bool {
	return (d.Status == DunningStatusPending || d.Status == DunningStatusFailed) && d.RetryCount < d.MaxRetries
}

type SchedulerStatus struct {
	Running       bool            `json:"running"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	PendingEvents int             `json:"pending_events"`
	Config        SchedulerConfig `json:"config"`
}

type SchedulerConfig struct {
	IntervalMinutes int   `json:"interval_minutes"`
	MaxRetries      int   `json:"max_retries"`
	RetryDelaysDays []int `json:"retry_delays_days,omitempty"`
	Enabled         bool  `json:"enabled"`
}
