// FILE: internal/entity/billing_entity.go
package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	Id             uuid.UUID       `json:"id"`
	SubscriptionId uuid.UUID       `json:"subscription_id"`
	Number         string          `json:"number"`
	Status         InvoiceStatus   `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PdfURL         string          `json:"pdf_url,omitempty"`
	Lines          []InvoiceLine   `json:"lines,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PaymentMethod struct {
	Id        string    `json:"id"`
	Type      string    `json:"type"` // card, bank_account
	Brand     string    `json:"brand,omitempty"`
	Last4     string    `json:"last4,omitempty"`
	ExpMonth  int       `json:"exp_month,omitempty"`
	ExpYear   int       `json:"exp_year,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

type BillingAddress struct {
	CompanyName  string `json:"company_name,omitempty"`
	TaxId        string `json:"tax_id,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

type CouponValidation struct {
	Code            string           `json:"code"`
	Valid           bool             `json:"valid"`
	PercentOff      *decimal.Decimal `json:"percent_off,omitempty"`
	AmountOff       *decimal.Decimal `json:"amount_off,omitempty"`
	DurationMonths  int              `json:"duration_months,omitempty"`
	Message         string           `json:"message,omitempty"`
	ApplicablePlans []uuid.UUID      `json:"applicable_plans,omitempty"`
}

// Apply returns the discounted price. Invalid coupons leave the price unchanged.
func (c CouponValidation) Apply(price decimal.Decimal) decimal.Decimal {
	if !c.Valid {
		return price
	}
	out := price
	if c.PercentOff != nil {
		out = out.Sub(out.Mul(*c.PercentOff).Div(decimal.NewFromInt(100)))
	}
	if c.AmountOff != nil {
		out = out.Sub(*c.AmountOff)
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out.Round(2)
}
