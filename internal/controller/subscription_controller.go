// FILE: internal/controller/subscription_controller.go
// Controller for subscription lifecycle, dunning and billing account endpoints
package controller

import (
	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/pkg/serverutils"
	"brokerage-client/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type SubscriptionController interface {
	RegisterRoutes(api fiber.Router, jwtMiddleware, sessionMiddleware fiber.Handler)
}

type subscriptionController struct{}

func NewSubscriptionController() SubscriptionController {
	return &subscriptionController{}
}

func (c *subscriptionController) RegisterRoutes(api fiber.Router, jwtMiddleware, sessionMiddleware fiber.Handler) {
	api.Group("/plans", jwtMiddleware, sessionMiddleware).Get("", c.GetPlans)

	sub := api.Group("/subscription", jwtMiddleware, sessionMiddleware)
	sub.Get("", c.GetSubscription)
	sub.Post("", c.CreateSubscription)
	sub.Put("", c.UpdateSubscription)
	sub.Post("/cancel", c.CancelSubscription)
	sub.Post("/pause", c.PauseSubscription)
	sub.Post("/resume", c.ResumeSubscription)
	sub.Get("/usage", c.GetUsage)

	dunning := api.Group("/dunning", jwtMiddleware, sessionMiddleware)
	dunning.Get("/events", c.GetDunningEvents)
	dunning.Post("/events/:id/retry", c.RetryDunningEvent)
	dunning.Get("/scheduler/status", c.GetSchedulerStatus)
	dunning.Post("/scheduler/start", c.StartScheduler)
	dunning.Post("/scheduler/stop", c.StopScheduler)
	dunning.Post("/scheduler/config", c.UpdateSchedulerConfig)

	invoices := api.Group("/invoices", jwtMiddleware, sessionMiddleware)
	invoices.Get("", c.GetInvoices)
	invoices.Get("/:id", c.GetInvoice)

	methods := api.Group("/payment-methods", jwtMiddleware, sessionMiddleware)
	methods.Get("", c.GetPaymentMethods)
	methods.Post("", c.AddPaymentMethod)
	methods.Delete("/:id", c.DeletePaymentMethod)

	billing := api.Group("/billing", jwtMiddleware, sessionMiddleware)
	billing.Get("/address", c.GetBillingAddress)
	billing.Put("/address", c.UpdateBillingAddress)

	api.Group("/coupons", jwtMiddleware, sessionMiddleware).Post("/validate", c.ValidateCoupon)
}

func currentSession(ctx *fiber.Ctx) (*session.Session, error) {
	sess, ok := serverutils.CurrentSession(ctx)
	if !ok {
		return nil, fiber.ErrUnauthorized
	}
	return sess, nil
}

func parseBody(ctx *fiber.Ctx, op string, out interface{}) error {
	if err := ctx.BodyParser(out); err != nil {
		return apperr.Validation(op, "invalid request body")
	}
	return nil
}

func parseId(ctx *fiber.Ctx, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation(op, "invalid id %q", ctx.Params("id"))
	}
	return id, nil
}

// GetPlans returns the plan catalog
// @Router /api/plans [get]
func (c *subscriptionController) GetPlans(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	plans, err := sess.Subscriptions.FetchPlans(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Plans retrieved", plans))
}

// GetSubscription returns the session's subscription state. Pass refresh=true
// to reload it from the billing API first.
// @Router /api/subscription [get]
func (c *subscriptionController) GetSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	store := sess.Subscriptions
	if ctx.QueryBool("refresh") || !store.Snapshot().Loaded {
		if err := store.Load(ctx.UserContext()); err != nil {
			return err
		}
	}

	snap := store.Snapshot()
	resp := dto.SubscriptionStatusResponse{
		HasSubscription: snap.HasSubscription,
		Subscription:    snap.Subscription,
		Usage:           snap.Usage,
		DunningEvents:   snap.DunningEvents,
		Pending:         snap.Pending,
	}
	if snap.Subscription != nil {
		plan, ok := store.Plan(snap.Subscription.PlanId)
		if !ok {
			if _, err := store.FetchPlans(ctx.UserContext()); err == nil {
				plan, ok = store.Plan(snap.Subscription.PlanId)
			}
		}
		if ok {
			resp.Plan = &plan
		}
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription retrieved", resp))
}

// @Router /api/subscription [post]
func (c *subscriptionController) CreateSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.CreateSubscriptionRequest
	if err := parseBody(ctx, "create subscription", &req); err != nil {
		return err
	}
	sub, err := sess.Subscriptions.CreateSubscription(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Subscription created", sub))
}

// @Router /api/subscription [put]
func (c *subscriptionController) UpdateSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.UpdateSubscriptionRequest
	if err := parseBody(ctx, "update subscription", &req); err != nil {
		return err
	}
	sub, err := sess.Subscriptions.UpdateSubscription(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription updated", sub))
}

// @Router /api/subscription/cancel [post]
func (c *subscriptionController) CancelSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.CancelSubscriptionRequest
	if err := parseBody(ctx, "cancel subscription", &req); err != nil {
		return err
	}
	sub, err := sess.Subscriptions.CancelSubscription(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription canceled", sub))
}

// @Router /api/subscription/pause [post]
func (c *subscriptionController) PauseSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.PauseSubscriptionRequest
	if len(ctx.Body()) > 0 {
		if err := parseBody(ctx, "pause subscription", &req); err != nil {
			return err
		}
	}
	sub, err := sess.Subscriptions.PauseSubscription(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription paused", sub))
}

// @Router /api/subscription/resume [post]
func (c *subscriptionController) ResumeSubscription(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	sub, err := sess.Subscriptions.ResumeSubscription(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription resumed", sub))
}

// @Router /api/subscription/usage [get]
func (c *subscriptionController) GetUsage(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	usage, err := sess.Subscriptions.FetchUsageTracking(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Usage retrieved", usage))
}

// @Router /api/dunning/events [get]
func (c *subscriptionController) GetDunningEvents(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	events, err := sess.Subscriptions.FetchDunningEvents(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Dunning events retrieved", events))
}

// @Router /api/dunning/events/{id}/retry [post]
func (c *subscriptionController) RetryDunningEvent(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	id, err := parseId(ctx, "retry failed payment")
	if err != nil {
		return err
	}
	events, err := sess.Subscriptions.RetryFailedPayment(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Payment retry requested", events))
}

// @Router /api/dunning/scheduler/status [get]
func (c *subscriptionController) GetSchedulerStatus(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	status, err := sess.Subscriptions.SchedulerStatus(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Scheduler status retrieved", status))
}

// @Router /api/dunning/scheduler/start [post]
func (c *subscriptionController) StartScheduler(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	status, err := sess.Subscriptions.StartScheduler(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Scheduler started", status))
}

// @Router /api/dunning/scheduler/stop [post]
func (c *subscriptionController) StopScheduler(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	status, err := sess.Subscriptions.StopScheduler(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Scheduler stopped", status))
}

// @Router /api/dunning/scheduler/config [post]
func (c *subscriptionController) UpdateSchedulerConfig(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var patch dto.SchedulerConfigPatch
	if err := parseBody(ctx, "update scheduler config", &patch); err != nil {
		return err
	}
	cfg, err := sess.Subscriptions.UpdateSchedulerConfig(ctx.UserContext(), patch)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Scheduler config updated", cfg))
}

// @Router /api/invoices [get]
func (c *subscriptionController) GetInvoices(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	q := dto.InvoiceListQuery{
		Limit:  ctx.QueryInt("limit", 20),
		Offset: ctx.QueryInt("offset", 0),
		Status: ctx.Query("status"),
	}
	invoices, err := sess.Billing.ListInvoices(ctx.UserContext(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Invoices retrieved", invoices))
}

// @Router /api/invoices/{id} [get]
func (c *subscriptionController) GetInvoice(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	id, err := parseId(ctx, "get invoice")
	if err != nil {
		return err
	}
	invoice, err := sess.Billing.GetInvoice(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Invoice retrieved", invoice))
}

// @Router /api/payment-methods [get]
func (c *subscriptionController) GetPaymentMethods(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	methods, err := sess.Billing.ListPaymentMethods(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Payment methods retrieved", methods))
}

// @Router /api/payment-methods [post]
func (c *subscriptionController) AddPaymentMethod(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.AddPaymentMethodRequest
	if err := parseBody(ctx, "add payment method", &req); err != nil {
		return err
	}
	method, err := sess.Billing.AddPaymentMethod(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Payment method added", method))
}

// @Router /api/payment-methods/{id} [delete]
func (c *subscriptionController) DeletePaymentMethod(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.Billing.DeletePaymentMethod(ctx.UserContext(), ctx.Params("id")); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Payment method removed", nil))
}

// @Router /api/billing/address [get]
func (c *subscriptionController) GetBillingAddress(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	address, err := sess.Billing.GetBillingAddress(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Billing address retrieved", address))
}

// @Router /api/billing/address [put]
func (c *subscriptionController) UpdateBillingAddress(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.UpdateBillingAddressRequest
	if err := parseBody(ctx, "update billing address", &req); err != nil {
		return err
	}
	address, err := sess.Billing.UpdateBillingAddress(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Billing address updated", address))
}

// @Router /api/coupons/validate [post]
func (c *subscriptionController) ValidateCoupon(ctx *fiber.Ctx) error {
	sess, err := currentSession(ctx)
	if err != nil {
		return err
	}
	var req dto.ValidateCouponRequest
	if err := parseBody(ctx, "validate coupon", &req); err != nil {
		return err
	}
	result, err := sess.Billing.ValidateCoupon(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Coupon validated", result))
}
