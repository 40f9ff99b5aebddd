package serverutils

import (
	"errors"

	"brokerage-client/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps an error kind to the HTTP status the gateway answers with.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindPayment:
		return fiber.StatusPaymentRequired
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperr.KindFetch, apperr.KindCreate:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// WriteError renders err in the error envelope.
func WriteError(ctx *fiber.Ctx, err error) error {
	status := StatusFor(err)
	resp := ErrorResponse(status, apperr.Message(err))
	if kind := apperr.KindOf(err); kind != apperr.KindUnknown {
		resp.Kind = kind.String()
	}
	return ctx.Status(status).JSON(resp)
}

// ErrorHandlerMiddleware turns errors returned by downstream handlers into
// error envelopes so controllers can simply return them.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}
		return WriteError(ctx, err)
	}
}

// ErrorHandler is the fiber.Config hook for errors that escape the middleware.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	return WriteError(ctx, err)
}
