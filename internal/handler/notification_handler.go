package handler

import (
	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/notification"
	"brokerage-client/internal/pkg/logger"
	"brokerage-client/internal/pkg/serverutils"
	"brokerage-client/internal/session"
	internalWS "brokerage-client/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type NotificationHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewNotificationHandler(hub *internalWS.Hub, log logger.ILogger) *NotificationHandler {
	return &NotificationHandler{
		hub:    hub,
		logger: log,
	}
}

func (h *NotificationHandler) store(c *fiber.Ctx) (*notification.Store, *session.Session, error) {
	sess, ok := serverutils.CurrentSession(c)
	if !ok {
		return nil, nil, fiber.ErrUnauthorized
	}
	return sess.Notifications, sess, nil
}

// ServeWs streams the caller's store changes. Browsers pass the token as a
// query parameter since they cannot set headers on the upgrade request.
func (h *NotificationHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	_, sess, err := h.store(c)
	if err != nil {
		return err
	}
	userId := sess.UserId()
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("NotificationHandler", "Starting WebSocket session", map[string]interface{}{"user_id": userId})
		internalWS.ServeWs(h.hub, conn, userId)
		h.logger.Info("NotificationHandler", "WebSocket session ended", map[string]interface{}{"user_id": userId})
	})(c)
}

// GetNotifications returns the synced list. Filters: unread=true, type, priority.
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	filter := notification.Filter{
		UnreadOnly: c.QueryBool("unread"),
		Type:       entity.NotificationType(c.Query("type")),
		Priority:   entity.NotificationPriority(c.Query("priority")),
	}
	return c.JSON(serverutils.SuccessResponse("Notifications retrieved", dto.NotificationListResponse{
		Data:        store.Filtered(filter),
		UnreadCount: store.UnreadCount(),
		HasMore:     store.HasMore(),
	}))
}

// LoadMore appends the next older page.
func (h *NotificationHandler) LoadMore(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	added, err := store.LoadMore(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Notifications loaded", fiber.Map{
		"added":    added,
		"has_more": store.HasMore(),
	}))
}

func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Unread count retrieved", fiber.Map{"count": store.UnreadCount()}))
}

func (h *NotificationHandler) AddNotification(c *fiber.Ctx) error {
	store, sess, err := h.store(c)
	if err != nil {
		return err
	}
	var req dto.CreateNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("add notification", "invalid request body")
	}
	if req.UserId == uuid.Nil {
		req.UserId = sess.UserId()
	}
	if err := store.AddNotification(c.UserContext(), req); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Notification created", nil))
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Validation("mark as read", "invalid id %q", c.Params("id"))
	}
	if err := store.MarkAsRead(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Notification marked as read", fiber.Map{"unread_count": store.UnreadCount()}))
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	if err := store.MarkAllAsRead(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("All notifications marked as read", fiber.Map{"unread_count": store.UnreadCount()}))
}

func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Validation("delete notification", "invalid id %q", c.Params("id"))
	}
	if err := store.DeleteNotification(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Notification deleted", nil))
}

// Refresh reloads the snapshot, reopening the live feeds when they dropped.
func (h *NotificationHandler) Refresh(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	if err := store.Refresh(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Notifications refreshed", fiber.Map{
		"unread_count": store.UnreadCount(),
		"live":         store.Live(),
	}))
}

func (h *NotificationHandler) GetSettings(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	settings, ok := store.Settings()
	if !ok {
		return apperr.NotFound("get settings", "notification settings are not loaded")
	}
	return c.JSON(serverutils.SuccessResponse("Settings retrieved", settings))
}

func (h *NotificationHandler) UpdateSettings(c *fiber.Ctx) error {
	store, _, err := h.store(c)
	if err != nil {
		return err
	}
	var req dto.UpdateNotificationSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("update settings", "invalid request body")
	}
	settings, err := store.UpdateSettings(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Settings updated", settings))
}

// RegisterRoutes registers the notification routes.
func (h *NotificationHandler) RegisterRoutes(router fiber.Router, jwtMiddleware, sessionMiddleware fiber.Handler) {
	notif := router.Group("/notifications", jwtMiddleware, sessionMiddleware)
	notif.Get("", h.GetNotifications)
	notif.Post("", h.AddNotification)
	notif.Get("/unread-count", h.GetUnreadCount)
	notif.Post("/more", h.LoadMore)
	notif.Post("/refresh", h.Refresh)
	notif.Patch("/read-all", h.MarkAllAsRead)
	notif.Get("/settings", h.GetSettings)
	notif.Put("/settings", h.UpdateSettings)
	notif.Patch("/:id/read", h.MarkAsRead)
	notif.Delete("/:id", h.DeleteNotification)

	// WebSocket
	router.Get("/ws", jwtMiddleware, sessionMiddleware, h.ServeWs)
}
