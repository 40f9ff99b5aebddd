package serverutils

import (
	"brokerage-client/internal/session"

	"github.com/gofiber/fiber/v2"
)

const LocalSession = "session"

// SessionMiddleware resolves the session opened with the request's token,
// opening one when none is live yet. Must run after JwtMiddleware.
func SessionMiddleware(manager *session.Manager) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if _, ok := UserId(ctx); !ok {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Unauthorized"))
		}
		sess, err := manager.GetOrOpen(ctx.UserContext(), AccessToken(ctx))
		if err != nil {
			return WriteError(ctx, err)
		}
		ctx.Locals(LocalSession, sess)
		return ctx.Next()
	}
}

func CurrentSession(ctx *fiber.Ctx) (*session.Session, bool) {
	sess, ok := ctx.Locals(LocalSession).(*session.Session)
	return sess, ok
}
