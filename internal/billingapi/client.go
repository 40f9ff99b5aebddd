// Package billingapi is the client of the dashboard/billing REST API.
package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client for the API rooted at baseURL (the versioned prefix,
// e.g. http://localhost:8000/api/v1). Every request carries the bearer token
// from tokens.
func NewClient(baseURL string, timeout time.Duration, tokens oauth2.TokenSource) *Client {
	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if tokens != nil {
		transport = &oauth2.Transport{Source: tokens, Base: transport}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// WithRateLimit caps outgoing requests at rps with the given burst. Callers
// wait for a token or fail with their context's error. rps <= 0 disables it.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Code    string `json:"code"`
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperr.Wrap(apperr.KindFetch, op, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return apperr.Wrap(apperr.KindFetch, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindFetch, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindFetch, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		if msg == "" {
			msg = eb.Detail
		}
		return apperr.FromStatus(op, resp.StatusCode, eb.Code, msg)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindFetch, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) ListPlans(ctx context.Context) ([]entity.SubscriptionPlan, error) {
	var plans []entity.SubscriptionPlan
	if err := c.call(ctx, "list plans", http.MethodGet, "/plans", nil, nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// GetCurrentSubscription returns a KindNotFound error when the tenant has no
// subscription: a 404, or a success carrying no subscription ({"data": null}).
func (c *Client) GetCurrentSubscription(ctx context.Context) (*entity.Subscription, error) {
	const op = "get subscription"
	var sub entity.Subscription
	if err := c.call(ctx, op, http.MethodGet, "/subscriptions/current", nil, nil, &sub); err != nil {
		return nil, err
	}
	if sub.Id == uuid.Nil {
		return nil, apperr.NotFound(op, "no subscription found")
	}
	return &sub, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*entity.Subscription, error) {
	return c.subscriptionCall(ctx, "create subscription", http.MethodPost, "/subscriptions", req)
}

func (c *Client) UpdateSubscription(ctx context.Context, req dto.UpdateSubscriptionRequest) (*entity.Subscription, error) {
	return c.subscriptionCall(ctx, "update subscription", http.MethodPut, "/subscriptions/current", req)
}

func (c *Client) CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest) (*entity.Subscription, error) {
	return c.subscriptionCall(ctx, "cancel subscription", http.MethodPost, "/subscriptions/current/cancel", req)
}

func (c *Client) PauseSubscription(ctx context.Context, req dto.PauseSubscriptionRequest) (*entity.Subscription, error) {
	return c.subscriptionCall(ctx, "pause subscription", http.MethodPost, "/subscriptions/current/pause", req)
}

func (c *Client) ResumeSubscription(ctx context.Context) (*entity.Subscription, error) {
	return c.subscriptionCall(ctx, "resume subscription", http.MethodPost, "/subscriptions/current/resume", struct{}{})
}

func (c *Client) subscriptionCall(ctx context.Context, op, method, path string, body interface{}) (*entity.Subscription, error) {
	var sub entity.Subscription
	if err := c.call(ctx, op, method, path, nil, body, &sub); err != nil {
		return nil, err
	}
	if sub.Id == uuid.Nil {
		return nil, apperr.New(apperr.KindFetch, op, "response did not contain a subscription")
	}
	return &sub, nil
}

func (c *Client) ListUsage(ctx context.Context) ([]entity.UsageTracking, error) {
	var usage []entity.UsageTracking
	if err := c.call(ctx, "list usage", http.MethodGet, "/subscriptions/usage", nil, nil, &usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func (c *Client) ListDunningEvents(ctx context.Context) ([]entity.DunningEvent, error) {
	var events []entity.DunningEvent
	if err := c.call(ctx, "list dunning events", http.MethodGet, "/dunning/events", nil, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) RetryDunningEvent(ctx context.Context, eventId uuid.UUID) error {
	return c.call(ctx, "retry dunning event", http.MethodPost, "/dunning/events/"+eventId.String()+"/retry", nil, struct{}{}, nil)
}

func (c *Client) SchedulerStatus(ctx context.Context) (*entity.SchedulerStatus, error) {
	return c.schedulerCall(ctx, "scheduler status", http.MethodGet, "/dunning/scheduler/status", nil)
}

func (c *Client) StartScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	return c.schedulerCall(ctx, "start scheduler", http.MethodPost, "/dunning/scheduler/start", struct{}{})
}

func (c *Client) StopScheduler(ctx context.Context) (*entity.SchedulerStatus, error) {
	return c.schedulerCall(ctx, "stop scheduler", http.MethodPost, "/dunning/scheduler/stop", struct{}{})
}

func (c *Client) schedulerCall(ctx context.Context, op, method, path string, body interface{}) (*entity.SchedulerStatus, error) {
	var status entity.SchedulerStatus
	if err := c.call(ctx, op, method, path, nil, body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UpdateSchedulerConfig sends only the fields set in patch.
func (c *Client) UpdateSchedulerConfig(ctx context.Context, patch dto.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	var cfg entity.SchedulerConfig
	if err := c.call(ctx, "update scheduler config", http.MethodPost, "/dunning/scheduler/config", nil, patch, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) ListInvoices(ctx context.Context, q dto.InvoiceListQuery) ([]entity.Invoice, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	var invoices []entity.Invoice
	if err := c.call(ctx, "list invoices", http.MethodGet, "/invoices", params, nil, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (c *Client) GetInvoice(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	var invoice entity.Invoice
	if err := c.call(ctx, "get invoice", http.MethodGet, "/invoices/"+id.String(), nil, nil, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context) ([]entity.PaymentMethod, error) {
	var methods []entity.PaymentMethod
	if err := c.call(ctx, "list payment methods", http.MethodGet, "/payment-methods", nil, nil, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

func (c *Client) AddPaymentMethod(ctx context.Context, req dto.AddPaymentMethodRequest) (*entity.PaymentMethod, error) {
	var method entity.PaymentMethod
	if err := c.call(ctx, "add payment method", http.MethodPost, "/payment-methods", nil, req, &method); err != nil {
		return nil, err
	}
	return &method, nil
}

func (c *Client) DeletePaymentMethod(ctx context.Context, id string) error {
	return c.call(ctx, "delete payment method", http.MethodDelete, "/payment-methods/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) GetBillingAddress(ctx context.Context) (*entity.BillingAddress, error) {
	var addr entity.BillingAddress
	if err := c.call(ctx, "get billing address", http.MethodGet, "/billing/address", nil, nil, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func (c *Client) UpdateBillingAddress(ctx context.Context, req dto.UpdateBillingAddressRequest) (*entity.BillingAddress, error) {
	var addr entity.BillingAddress
	if err := c.call(ctx, "update billing address", http.MethodPut, "/billing/address", nil, req, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func (c *Client) ValidateCoupon(ctx context.Context, req dto.ValidateCouponRequest) (*entity.CouponValidation, error) {
	var v entity.CouponValidation
	if err := c.call(ctx, "validate coupon", http.MethodPost, "/coupons/validate", nil, req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
