package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the subset of the backend access token the client relies on.
type Claims struct {
	UserId    uuid.UUID
	Email     string
	Role      string
	ExpiresAt time.Time
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ParseAccessToken reads the token's claims without verifying the signature.
// The backend verifies tokens on every call; the client only needs the subject.
func ParseAccessToken(token string) (*Claims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return toClaims(&claims)
}

// VerifyAccessToken checks an HMAC-signed token against secret.
func VerifyAccessToken(token, secret string) (*Claims, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return toClaims(&claims)
}

func toClaims(c *accessClaims) (*Claims, error) {
	userId, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", err)
	}
	out := &Claims{UserId: userId, Email: c.Email, Role: c.Role}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
