package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"brokerage-client/internal/backend"
	"brokerage-client/internal/billingapi"
	"brokerage-client/internal/config"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/events"
	"brokerage-client/internal/pkg/logger"
	"brokerage-client/internal/session"
	"brokerage-client/internal/subscription"
	pkgEvents "brokerage-client/pkg/events"
	pktNats "brokerage-client/pkg/nats"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

type cli struct {
	cfg   *config.Config
	token string
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return c.status(ctx)
	case "plans":
		return c.plans(ctx)
	case "usage":
		return c.usage(ctx)
	case "dunning":
		return c.dunning(ctx)
	case "retry":
		return c.retry(ctx, args)
	case "scheduler":
		return c.scheduler(ctx, args)
	case "pause", "resume", "cancel":
		return c.lifecycle(ctx, cmd, args)
	case "notifications":
		return c.notifications(ctx, false)
	case "tail":
		return c.notifications(ctx, true)
	case "events":
		return c.events(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) claims() (*backend.Claims, error) {
	if c.token == "" {
		return nil, errors.New("an access token is required (-token or SUBCTL_TOKEN)")
	}
	return backend.ParseAccessToken(c.token)
}

func (c *cli) subscriptions(ctx context.Context) (*subscription.Store, *backend.Claims, error) {
	claims, err := c.claims()
	if err != nil {
		return nil, nil, err
	}
	api := billingapi.NewClient(c.cfg.API.BaseURL, c.cfg.API.HTTPTimeout, backend.StaticToken(c.token)).
		WithRateLimit(c.cfg.API.RateLimit, c.cfg.API.RateBurst)
	store := subscription.NewStore(claims.UserId, api, nil, logger.NewNop())
	if err := store.Load(ctx); err != nil {
		return nil, nil, err
	}
	if _, err := store.FetchPlans(ctx); err != nil {
		color.Yellow("plan catalog unavailable: %v", err)
	}
	return store, claims, nil
}

func statusColor(s entity.SubscriptionStatus) *color.Color {
	switch s {
	case entity.SubscriptionStatusActive, entity.SubscriptionStatusTrialing:
		return color.New(color.FgGreen, color.Bold)
	case entity.SubscriptionStatusPastDue:
		return color.New(color.FgRed, color.Bold)
	case entity.SubscriptionStatusPaused:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgHiBlack)
	}
}

func (c *cli) status(ctx context.Context) error {
	store, claims, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	snap := store.Snapshot()

	color.Cyan("User %s %s", claims.UserId, claims.Email)
	if !snap.HasSubscription {
		color.Yellow("No subscription yet. Run `subctl plans` to pick one.")
		return nil
	}
	sub := snap.Subscription
	fmt.Printf("Status:        %s\n", statusColor(sub.Status).Sprint(sub.Status))
	if plan, ok := store.Plan(sub.PlanId); ok {
		fmt.Printf("Plan:          %s (%s %s/%s)\n", plan.Name, plan.PriceFor(sub.BillingCycle).StringFixed(2), plan.Currency, sub.BillingCycle)
	} else {
		fmt.Printf("Plan:          %s\n", sub.PlanId)
	}
	fmt.Printf("Seats:         %d\n", sub.Seats)
	fmt.Printf("Next billing:  %s\n", sub.NextBillingDate.Format("2006-01-02"))
	if sub.CancelAtPeriodEnd {
		color.Yellow("Cancels at the end of the current period")
	}
	if sub.PauseUntil != nil {
		color.Yellow("Paused until %s", sub.PauseUntil.Format("2006-01-02"))
	}
	if n := len(snap.DunningEvents); n > 0 {
		color.Red("%d payment issue(s); run `subctl dunning`", n)
	}
	return nil
}

func (c *cli) plans(ctx context.Context) error {
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	plans := store.Snapshot().Plans
	current := store.Snapshot().Subscription
	for _, p := range plans {
		marker := "  "
		if current != nil && current.PlanId == p.Id {
			marker = color.GreenString("➜ ")
		}
		agents := strconv.Itoa(p.Limits.MaxAgents)
		if p.Limits.MaxAgents < 0 {
			agents = "unlimited"
		}
		fmt.Printf("%s%-14s %8s/mo %9s/yr  agents: %-9s properties: %d\n", marker,
			color.New(color.Bold).Sprint(p.Name), p.MonthlyPrice.StringFixed(2), p.YearlyPrice.StringFixed(2),
			agents, p.Limits.MaxProperties)
	}
	return nil
}

func (c *cli) usage(ctx context.Context) error {
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	usage, err := store.FetchUsageTracking(ctx)
	if err != nil {
		return err
	}
	if len(usage) == 0 {
		color.Yellow("No usage recorded for this period.")
		return nil
	}
	for _, u := range usage {
		limit := strconv.Itoa(u.LimitValue)
		if u.LimitValue < 0 {
			limit = "∞"
		}
		line := fmt.Sprintf("%-20s %6d / %s", u.FeatureName, u.CurrentUsage, limit)
		if u.NearLimit(0.9) {
			color.Red("%s", line)
		} else {
			fmt.Println(line)
		}
	}
	return nil
}

func (c *cli) dunning(ctx context.Context) error {
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	list, err := store.FetchDunningEvents(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		color.Green("✓ No failed payments")
		return nil
	}
	for _, e := range list {
		next := "-"
		if e.NextRetryAt != nil {
			next = e.NextRetryAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %-10s retries %d/%d  next %s  %s\n", e.Id, e.Status, e.RetryCount, e.MaxRetries, next, e.FailureMessage)
	}
	return nil
}

func (c *cli) retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: subctl retry <event-id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	if _, err := store.RetryFailedPayment(ctx, id); err != nil {
		return err
	}
	color.Green("✓ Retry requested for %s", id)
	return nil
}

func (c *cli) scheduler(ctx context.Context, args []string) error {
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	var status *entity.SchedulerStatus
	switch action {
	case "status":
		status, err = store.SchedulerStatus(ctx)
	case "start":
		status, err = store.StartScheduler(ctx)
	case "stop":
		status, err = store.StopScheduler(ctx)
	default:
		return fmt.Errorf("unknown scheduler action %q", action)
	}
	if err != nil {
		return err
	}
	state := color.RedString("stopped")
	if status.Running {
		state = color.GreenString("running")
	}
	fmt.Printf("Scheduler %s, %d pending, every %d min, max %d retries\n",
		state, status.PendingEvents, status.Config.IntervalMinutes, status.Config.MaxRetries)
	return nil
}

func (c *cli) lifecycle(ctx context.Context, cmd string, args []string) error {
	store, _, err := c.subscriptions(ctx)
	if err != nil {
		return err
	}
	var sub *entity.Subscription
	switch cmd {
	case "pause":
		req := dto.PauseSubscriptionRequest{}
		if len(args) > 0 {
			days, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid days: %w", err)
			}
			req.PauseDurationDays = &days
		}
		sub, err = store.PauseSubscription(ctx, req)
	case "resume":
		sub, err = store.ResumeSubscription(ctx)
	case "cancel":
		atPeriodEnd := !(len(args) > 0 && args[0] == "now")
		sub, err = store.CancelSubscription(ctx, dto.CancelSubscriptionRequest{CancelAtPeriodEnd: &atPeriodEnd})
	}
	if err != nil {
		return err
	}
	color.Green("✓ Subscription is now %s", statusColor(sub.Status).Sprint(sub.Status))
	return nil
}

func priorityColor(p entity.NotificationPriority) *color.Color {
	switch p {
	case entity.PriorityUrgent:
		return color.New(color.FgRed, color.Bold)
	case entity.PriorityHigh:
		return color.New(color.FgYellow)
	case entity.PriorityLow:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgWhite)
	}
}

func printNotification(n entity.Notification) {
	dot := "  "
	if !n.IsRead {
		dot = color.BlueString("● ")
	}
	fmt.Printf("%s%s %s  %s\n", dot, n.CreatedAt.Local().Format("Jan 02 15:04"),
		priorityColor(n.Priority).Sprintf("%-8s", n.Priority), n.Title)
}

func (c *cli) notifications(ctx context.Context, follow bool) error {
	claims, err := c.claims()
	if err != nil {
		return err
	}
	bus := events.NewBus(nil)
	defer bus.Close()

	sess, err := session.Build(ctx, session.Deps{
		Backend: backend.Options{
			URL:     c.cfg.Backend.URL,
			AnonKey: c.cfg.Backend.AnonKey,
			Timeout: c.cfg.API.HTTPTimeout,
		},
		APIBaseURL:     c.cfg.API.BaseURL,
		Timeout:        c.cfg.API.HTTPTimeout,
		Bus:            bus,
		Logger:         logger.NewNop(),
		PageSize:       c.cfg.Notification.PageSize,
		CreateFunction: c.cfg.Notification.CreateFunction,
	}, *claims, c.token)
	if err != nil {
		return err
	}
	defer sess.Close()

	store := sess.Notifications
	for _, n := range store.Notifications() {
		printNotification(n)
	}
	color.Cyan("%d unread", store.UnreadCount())
	if !follow {
		return nil
	}

	changes, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	color.Cyan("Following live notifications, Ctrl+C to stop")
	seen := make(map[uuid.UUID]bool)
	for _, n := range store.Notifications() {
		seen[n.Id] = true
	}
	for change := range changes {
		if change.Type != events.TypeNotificationChanged {
			continue
		}
		for _, n := range store.Notifications() {
			if !seen[n.Id] {
				seen[n.Id] = true
				printNotification(n)
			}
		}
		if action, _ := change.Data["action"].(string); action == "rollback" || !store.Live() {
			color.Yellow("%v (live=%v)", change.Data, store.Live())
		}
	}
	return nil
}

func (c *cli) events(ctx context.Context) error {
	if c.cfg.App.NatsURL == "" {
		return errors.New("NATS_URL is not set")
	}
	sub, err := pktNats.NewSubscriber(c.cfg.App.NatsURL)
	if err != nil {
		return err
	}
	defer sub.Close()

	show := func(_ context.Context, e pkgEvents.Event) error {
		label := color.New(color.FgCyan, color.Bold)
		if strings.HasSuffix(e.EventType(), "PAST_DUE") || strings.HasSuffix(e.EventType(), "CANCELED") {
			label = color.New(color.FgRed, color.Bold)
		}
		fmt.Printf("%s %s %v\n", e.Timestamp().Local().Format("15:04:05"), label.Sprint(e.EventType()), e.Payload())
		return nil
	}
	for _, pattern := range []string{"subscription.>", "notification.>"} {
		if err := sub.Subscribe(ctx, pattern, "", show); err != nil {
			return err
		}
	}
	color.Cyan("Following lifecycle events, Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
