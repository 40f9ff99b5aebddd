// Package session owns the per-user client stores for the lifetime of a
// signed-in session and releases them, live channels included, on logout.
package session

import (
	"context"
	"sync"
	"time"

	"brokerage-client/internal/backend"
	"brokerage-client/internal/billingapi"
	"brokerage-client/internal/events"
	"brokerage-client/internal/notification"
	"brokerage-client/internal/pkg/logger"
	"brokerage-client/internal/subscription"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const module = "Session"

// Session is the explicit application context handed to gateway consumers.
type Session struct {
	Claims        backend.Claims
	AccessToken   string
	Subscriptions *subscription.Store
	Billing       *subscription.BillingService
	Notifications *notification.Store

	releasers []func()
	closeOnce sync.Once
}

func (s *Session) UserId() uuid.UUID {
	return s.Claims.UserId
}

// Close stops the live feeds and clears both stores. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Notifications != nil {
			s.Notifications.Stop()
		}
		if s.Subscriptions != nil {
			s.Subscriptions.Close()
		}
		for _, release := range s.releasers {
			release()
		}
	})
}

// Deps are the process-wide collaborators every session is built from.
type Deps struct {
	Backend    backend.Options
	APIBaseURL string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	// DB switches table access to direct Postgres when set.
	DB                 *gorm.DB
	Bus                *events.Bus
	Logger             logger.ILogger
	NotificationLogger logger.ILogger
	PageSize           int
	CreateFunction     string
}

// Build wires a session for an already authenticated user and starts the
// notification sync. Subscription state is loaded best-effort; its failure
// is kept in the store snapshot instead of failing the session.
func Build(ctx context.Context, deps Deps, claims backend.Claims, accessToken string) (*Session, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	notifLog := deps.NotificationLogger
	if notifLog == nil {
		notifLog = log
	}

	tokens := backend.StaticToken(accessToken)
	client := backend.NewClient(deps.Backend, tokens)

	var tables backend.TableClient = backend.NewRestTables(client)
	if deps.DB != nil {
		tables = backend.NewGormTables(deps.DB)
	}

	var notifPub notification.ChangePublisher
	var subPub subscription.ChangePublisher
	if deps.Bus != nil {
		notifPub = deps.Bus
		subPub = deps.Bus
	}

	realtime := backend.NewRealtime(deps.Backend, accessToken, notifLog)
	notifications := notification.NewStore(tables, realtime, backend.NewFunctions(client), notifPub, notifLog, notification.Options{
		PageSize:       deps.PageSize,
		CreateFunction: deps.CreateFunction,
	})
	realtime.OnDisconnect(notifications.HandleDisconnect)

	api := billingapi.NewClient(deps.APIBaseURL, deps.Timeout, tokens).WithRateLimit(deps.RateLimit, deps.RateBurst)
	sess := &Session{
		Claims:        claims,
		AccessToken:   accessToken,
		Subscriptions: subscription.NewStore(claims.UserId, api, subPub, log),
		Billing:       subscription.NewBillingService(api),
		Notifications: notifications,
		releasers:     []func(){realtime.Close},
	}

	if err := notifications.Start(ctx, claims.UserId); err != nil {
		sess.Close()
		return nil, err
	}

	if err := sess.Subscriptions.Load(ctx); err != nil {
		log.Warn(module, "Subscription state unavailable at session start", map[string]interface{}{"user_id": claims.UserId, "error": err})
	}
	if _, err := sess.Subscriptions.FetchPlans(ctx); err != nil {
		log.Warn(module, "Plan catalog unavailable at session start", map[string]interface{}{"user_id": claims.UserId, "error": err})
	}
	return sess, nil
}
