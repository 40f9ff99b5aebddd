package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionStatusValid(t *testing.T) {
	for _, s := range []SubscriptionStatus{"trialing", "active", "past_due", "paused", "canceled"} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, SubscriptionStatus("expired").Valid())
	assert.True(t, SubscriptionStatusPastDue.Billable())
	assert.False(t, SubscriptionStatusPaused.Billable())
}

func TestPlanLimitsAllowsSeats(t *testing.T) {
	assert.True(t, PlanLimits{MaxAgents: 5}.AllowsSeats(5))
	assert.False(t, PlanLimits{MaxAgents: 5}.AllowsSeats(10))
	assert.True(t, PlanLimits{MaxAgents: -1}.AllowsSeats(1000))
}

func TestSubscriptionCloneIsDeep(t *testing.T) {
	until := time.Now()
	sub := &Subscription{Id: uuid.New(), PauseUntil: &until, AddOns: map[string]interface{}{"sms": 100}}
	cp := sub.Clone()

	cp.AddOns["sms"] = 0
	*cp.PauseUntil = until.Add(time.Hour)

	assert.Equal(t, 100, sub.AddOns["sms"])
	assert.Equal(t, until, *sub.PauseUntil)
	assert.Nil(t, (*Subscription)(nil).Clone())
}

func TestDefaultNotificationSettings(t *testing.T) {
	s := DefaultNotificationSettings(uuid.New())
	assert.Len(t, s.Types, 8)
	for _, typ := range NotificationTypes {
		assert.True(t, s.Allows(typ, ChannelPush))
	}
	assert.False(t, s.QuietHours.Enabled)

	s.Types[NotificationTypeSystemAlert] = false
	s.SMSEnabled = false
	assert.False(t, s.Allows(NotificationTypeSystemAlert, ChannelEmail))
	assert.False(t, s.Allows(NotificationTypePaymentDue, ChannelSMS))
	assert.True(t, s.Allows(NotificationTypePaymentDue, ChannelEmail))
}

func TestInQuietHours(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	overnight := NotificationSettings{QuietHours: QuietHours{Enabled: true, Start: "22:00", End: "07:00"}}
	assert.True(t, overnight.InQuietHours(at(23, 30)))
	assert.True(t, overnight.InQuietHours(at(6, 59)))
	assert.False(t, overnight.InQuietHours(at(7, 0)))
	assert.False(t, overnight.InQuietHours(at(12, 0)))

	daytime := NotificationSettings{QuietHours: QuietHours{Enabled: true, Start: "12:00", End: "13:30"}}
	assert.True(t, daytime.InQuietHours(at(13, 0)))
	assert.False(t, daytime.InQuietHours(at(13, 30)))

	disabled := NotificationSettings{QuietHours: QuietHours{Enabled: false, Start: "00:00", End: "23:59"}}
	assert.False(t, disabled.InQuietHours(at(12, 0)))

	broken := NotificationSettings{QuietHours: QuietHours{Enabled: true, Start: "25:00", End: "07:00"}}
	assert.False(t, broken.InQuietHours(at(1, 0)))
	assert.False(t, ValidClock("7am"))
}

func TestCouponApply(t *testing.T) {
	price := decimal.NewFromInt(100)
	pct := decimal.NewFromInt(15)
	off := decimal.NewFromInt(200)

	assert.True(t, decimal.NewFromInt(85).Equal(CouponValidation{Valid: true, PercentOff: &pct}.Apply(price)))
	assert.True(t, decimal.Zero.Equal(CouponValidation{Valid: true, AmountOff: &off}.Apply(price)))
	assert.True(t, price.Equal(CouponValidation{Valid: false, PercentOff: &pct}.Apply(price)))
}

func TestDunningRetryable(t *testing.T) {
	assert.True(t, DunningEvent{Status: DunningStatusFailed, RetryCount: 1, MaxRetries: 3}.Retryable())
	assert.False(t, DunningEvent{Status: DunningStatusFailed, RetryCount: 3, MaxRetries: 3}.Retryable())
	assert.False(t, DunningEvent{Status: DunningStatusCompleted}.Retryable())
}
