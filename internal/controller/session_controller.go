// FILE: internal/controller/session_controller.go
// Controller for starting and ending the signed-in session
package controller

import (
	"time"

	"brokerage-client/internal/pkg/serverutils"
	"brokerage-client/internal/session"

	"github.com/gofiber/fiber/v2"
)

type SessionController interface {
	RegisterRoutes(api fiber.Router, jwtMiddleware fiber.Handler)
}

type sessionController struct {
	manager *session.Manager
}

func NewSessionController(manager *session.Manager) SessionController {
	return &sessionController{manager: manager}
}

func (c *sessionController) RegisterRoutes(api fiber.Router, jwtMiddleware fiber.Handler) {
	s := api.Group("/session", jwtMiddleware)
	s.Post("", c.StartSession)
	s.Get("", c.GetSession)
	s.Delete("", c.EndSession)
}

type sessionResponse struct {
	UserId          string     `json:"user_id"`
	Email           string     `json:"email,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasSubscription bool       `json:"has_subscription"`
	UnreadCount     int        `json:"unread_count"`
	Live            bool       `json:"live"`
}

func describeSession(sess *session.Session) sessionResponse {
	resp := sessionResponse{
		UserId:          sess.UserId().String(),
		Email:           sess.Claims.Email,
		HasSubscription: sess.Subscriptions.Snapshot().HasSubscription,
		UnreadCount:     sess.Notifications.UnreadCount(),
		Live:            sess.Notifications.Live(),
	}
	if !sess.Claims.ExpiresAt.IsZero() {
		exp := sess.Claims.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// StartSession opens (or reopens) the caller's session: loads subscription
// state and the notification snapshot, and joins the live feeds.
// @Router /api/session [post]
func (c *sessionController) StartSession(ctx *fiber.Ctx) error {
	sess, err := c.manager.Open(ctx.UserContext(), serverutils.AccessToken(ctx))
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Session started", describeSession(sess)))
}

// @Router /api/session [get]
func (c *sessionController) GetSession(ctx *fiber.Ctx) error {
	sess, found := c.manager.Lookup(serverutils.AccessToken(ctx))
	if !found {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(fiber.StatusNotFound, "No active session"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Session retrieved", describeSession(sess)))
}

// EndSession releases the caller's live channels and clears both stores.
// @Router /api/session [delete]
func (c *sessionController) EndSession(ctx *fiber.Ctx) error {
	released, err := c.manager.End(ctx.UserContext(), serverutils.AccessToken(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Session ended", fiber.Map{"released": released}))
}
