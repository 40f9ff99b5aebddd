package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   Kind
	}{
		{name: "not found", status: 404, want: KindNotFound},
		{name: "bad request", status: 400, want: KindValidation},
		{name: "unprocessable", status: 422, want: KindValidation},
		{name: "payment required", status: 402, want: KindPayment},
		{name: "declined code on 400", status: 400, code: "card_declined", want: KindPayment},
		{name: "conflict", status: 409, want: KindConflict},
		{name: "unauthorized", status: 401, want: KindUnauthorized},
		{name: "forbidden", status: 403, want: KindUnauthorized},
		{name: "server", status: 503, want: KindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus("op", tt.status, tt.code, "")
			assert.Equal(t, tt.want, err.Kind)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := NotFound("subscription.fetch", "no subscription")
	wrapped := fmt.Errorf("loading dashboard: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(wrapped, KindServer))
	assert.Equal(t, "no subscription", Message(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindNotFound))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindFetch, "op", nil))

	err := Wrap(KindFetch, "op", errors.New("dial tcp: refused"))
	assert.Equal(t, "op: fetch: dial tcp: refused", err.Error())
	assert.True(t, errors.Is(err, err.Err))
}
