package backend

import (
	"context"
	"fmt"
	"net/http"

	"brokerage-client/internal/apperr"

	"github.com/google/uuid"
)

type authUser struct {
	Id    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// CurrentUser asks the auth service who the client's access token belongs to.
// A rejected token comes back as KindUnauthorized.
func (c *Client) CurrentUser(ctx context.Context) (uuid.UUID, error) {
	const op = "get auth user"
	_, raw, err := c.do(ctx, op, http.MethodGet, "/auth/v1/user", nil, nil, nil)
	if err != nil {
		return uuid.Nil, err
	}
	var user authUser
	if err := decodeJSON(op, raw, &user); err != nil {
		return uuid.Nil, err
	}
	if user.Id == uuid.Nil {
		return uuid.Nil, apperr.Wrap(apperr.KindFetch, op, fmt.Errorf("auth response has no user id"))
	}
	return user.Id, nil
}

// ConfirmAccessToken resolves accessToken to its user through the backend.
func ConfirmAccessToken(ctx context.Context, opts Options, accessToken string) (uuid.UUID, error) {
	return NewClient(opts, StaticToken(accessToken)).CurrentUser(ctx)
}
