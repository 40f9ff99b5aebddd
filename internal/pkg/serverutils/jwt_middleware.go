// FILE: internal/pkg/serverutils/jwt_middleware.go
package serverutils

import (
	"strings"

	"brokerage-client/internal/backend"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	LocalUserId      = "user_id"
	LocalAccessToken = "access_token"
	LocalClaims      = "claims"
)

// Authenticator turns a bearer token into claims.
type Authenticator interface {
	Authenticate(accessToken string) (*backend.Claims, error)
}

// BearerToken reads the Authorization header, falling back to the token
// query parameter used by browser websocket clients.
func BearerToken(ctx *fiber.Ctx) string {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ctx.Query("token")
}

func JwtMiddleware(auth Authenticator) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
		}

		claims, err := auth.Authenticate(tokenStr)
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		ctx.Locals(LocalUserId, claims.UserId.String())
		ctx.Locals(LocalAccessToken, tokenStr)
		ctx.Locals(LocalClaims, claims)
		return ctx.Next()
	}
}

func UserId(ctx *fiber.Ctx) (uuid.UUID, bool) {
	raw, ok := ctx.Locals(LocalUserId).(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func AccessToken(ctx *fiber.Ctx) string {
	token, _ := ctx.Locals(LocalAccessToken).(string)
	return token
}
