// FILE: internal/dto/subscription_dto.go
package dto

import (
	"brokerage-client/internal/entity"

	"github.com/google/uuid"
)

type CreateSubscriptionRequest struct {
	PlanId          uuid.UUID           `json:"plan_id" validate:"required"`
	BillingCycle    entity.BillingCycle `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	Seats           *int                `json:"seats,omitempty" validate:"omitempty,min=0"`
	PaymentMethodId string              `json:"payment_method_id" validate:"required"`
	CouponCode      string              `json:"coupon_code,omitempty"`
}

// UpdateSubscriptionRequest needs at least one field.
type UpdateSubscriptionRequest struct {
	PlanId       *uuid.UUID           `json:"plan_id,omitempty"`
	Seats        *int                 `json:"seats,omitempty" validate:"omitempty,min=0"`
	BillingCycle *entity.BillingCycle `json:"billing_cycle,omitempty" validate:"omitempty,oneof=monthly yearly"`
}

func (r UpdateSubscriptionRequest) Empty() bool {
	return r.PlanId == nil && r.Seats == nil && r.BillingCycle == nil
}

type CancelSubscriptionRequest struct {
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end" validate:"required"`
	Reason            string `json:"reason,omitempty" validate:"max=1000"`
}

type PauseSubscriptionRequest struct {
	PauseDurationDays *int   `json:"pause_duration_days,omitempty" validate:"omitempty,min=1,max=365"`
	Reason            string `json:"reason,omitempty" validate:"max=1000"`
}

type AddPaymentMethodRequest struct {
	Token       string `json:"token" validate:"required"`
	MakeDefault bool   `json:"make_default"`
}

type ValidateCouponRequest struct {
	Code   string     `json:"code" validate:"required"`
	PlanId *uuid.UUID `json:"plan_id,omitempty"`
}

type UpdateBillingAddressRequest struct {
	CompanyName  string `json:"company_name,omitempty"`
	TaxId        string `json:"tax_id,omitempty"`
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1" validate:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code" validate:"required,max=10"`
	Country      string `json:"country" validate:"required"`
}

// SchedulerConfigPatch is the only partial payload the billing API accepts.
type SchedulerConfigPatch struct {
	IntervalMinutes *int  `json:"interval_minutes,omitempty" validate:"omitempty,min=1"`
	MaxRetries      *int  `json:"max_retries,omitempty" validate:"omitempty,min=0,max=20"`
	RetryDelaysDays []int `json:"retry_delays_days,omitempty" validate:"omitempty,dive,min=0"`
	Enabled         *bool `json:"enabled,omitempty"`
}

type InvoiceListQuery struct {
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `json:"offset" validate:"omitempty,min=0"`
	Status string `json:"status,omitempty"`
}

// SubscriptionStatusResponse is what the gateway returns for GET /api/subscription.
// HasSubscription=false is the onboarding state, not an error.
type SubscriptionStatusResponse struct {
	HasSubscription bool                     `json:"has_subscription"`
	Subscription    *entity.Subscription     `json:"subscription,omitempty"`
	Plan            *entity.SubscriptionPlan `json:"plan,omitempty"`
	Usage           []entity.UsageTracking   `json:"usage"`
	DunningEvents   []entity.DunningEvent    `json:"dunning_events"`
	Pending         bool                     `json:"pending"`
}
