package bootstrap

import (
	"context"
	"log"

	"brokerage-client/internal/backend"
	"brokerage-client/internal/config"
	"brokerage-client/internal/controller"
	"brokerage-client/internal/events"
	"brokerage-client/internal/handler"
	"brokerage-client/internal/pkg/logger"
	"brokerage-client/internal/pkg/serverutils"
	"brokerage-client/internal/session"
	"brokerage-client/internal/websocket"

	pktNats "brokerage-client/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	SessionController      controller.SessionController
	SubscriptionController controller.SubscriptionController

	// WebSockets & Notification
	NotificationHandler *handler.NotificationHandler
	WebSocketHub        *websocket.Hub

	// Middleware
	JwtMiddleware     fiber.Handler
	SessionMiddleware fiber.Handler

	Sessions  *session.Manager
	Bus       *events.Bus
	Forwarder *events.Forwarder
	Logger    logger.ILogger

	natsPub *pktNats.Publisher
	rdb     *redis.Client
}

// NewContainer wires the gateway. db is optional and switches table access to
// direct Postgres; NATS and Redis are used only when their URLs are set.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	notifLogger := logger.NewIsolatedLogger(cfg.Notification.LogFilePath)

	// 2. Change Bus
	bus := events.NewBus(watermill.NewStdLogger(false, false))

	// 3. Infrastructure
	var natsPub *pktNats.Publisher
	var forwarder *events.Forwarder
	if cfg.App.NatsURL != "" {
		pub, err := pktNats.NewPublisher(context.Background(), cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			natsPub = pub
			forwarder = events.NewForwarder(bus, natsPub, sysLogger)
		}
	}

	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
	}

	// 4. Sessions
	sessions := session.NewManager(session.Deps{
		Backend: backend.Options{
			URL:     cfg.Backend.URL,
			AnonKey: cfg.Backend.AnonKey,
			Timeout: cfg.API.HTTPTimeout,
		},
		APIBaseURL:         cfg.API.BaseURL,
		Timeout:            cfg.API.HTTPTimeout,
		RateLimit:          cfg.API.RateLimit,
		RateBurst:          cfg.API.RateBurst,
		DB:                 db,
		Bus:                bus,
		Logger:             sysLogger,
		NotificationLogger: notifLogger,
		PageSize:           cfg.Notification.PageSize,
		CreateFunction:     cfg.Notification.CreateFunction,
	}, cfg.App.JwtSecret)

	// 5. Gateway
	wsHub := websocket.NewHub(rdb, notifLogger)

	return &Container{
		SessionController:      controller.NewSessionController(sessions),
		SubscriptionController: controller.NewSubscriptionController(),
		NotificationHandler:    handler.NewNotificationHandler(wsHub, notifLogger),
		WebSocketHub:           wsHub,
		JwtMiddleware:          serverutils.JwtMiddleware(sessions),
		SessionMiddleware:      serverutils.SessionMiddleware(sessions),
		Sessions:               sessions,
		Bus:                    bus,
		Forwarder:              forwarder,
		Logger:                 sysLogger,
		natsPub:                natsPub,
		rdb:                    rdb,
	}
}

// Start runs the hub and, when NATS is configured, the event forwarder until
// ctx is done.
func (c *Container) Start(ctx context.Context) error {
	if err := c.WebSocketHub.Start(ctx, c.Bus); err != nil {
		return err
	}
	if c.Forwarder != nil {
		go func() {
			if err := c.Forwarder.Run(ctx); err != nil {
				c.Logger.Error("Bootstrap", "Event forwarder stopped", map[string]interface{}{"error": err})
			}
		}()
	}
	return nil
}

// Close releases every session (and with them all live channels) before the
// shared infrastructure goes away.
func (c *Container) Close() {
	c.Sessions.CloseAll()
	if err := c.Bus.Close(); err != nil {
		c.Logger.Warn("Bootstrap", "Change bus close failed", map[string]interface{}{"error": err})
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	_ = c.Logger.Sync()
}
