package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/backend"
	"brokerage-client/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	defaultTTL      = 1 * time.Hour
	cleanupInterval = 10 * time.Minute
)

// Factory builds a started session. Tests substitute their own.
type Factory func(ctx context.Context, claims backend.Claims, accessToken string) (*Session, error)

// Verifier asks the backend which user an access token belongs to.
type Verifier func(ctx context.Context, accessToken string) (uuid.UUID, error)

// Manager keeps one live session per user. Entries expire with the access
// token; an evicted session is closed. A live session is only handed to the
// token it was opened with. Any other token must be verified (JWT_SECRET) or
// confirmed by the backend first.
type Manager struct {
	cache   *cache.Cache
	factory Factory
	secret  string
	verify  Verifier
	logger  logger.ILogger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(deps Deps, jwtSecret string) *Manager {
	return NewManagerWithFactory(func(ctx context.Context, claims backend.Claims, accessToken string) (*Session, error) {
		return Build(ctx, deps, claims, accessToken)
	}, jwtSecret, deps.Logger).WithVerifier(func(ctx context.Context, accessToken string) (uuid.UUID, error) {
		return backend.ConfirmAccessToken(ctx, deps.Backend, accessToken)
	})
}

func NewManagerWithFactory(factory Factory, jwtSecret string, log logger.ILogger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	c := cache.New(defaultTTL, cleanupInterval)
	m := &Manager{
		cache:   c,
		factory: factory,
		secret:  jwtSecret,
		logger:  log,
		now:     time.Now,
		locks:   make(map[string]*userLock),
	}
	c.OnEvicted(func(key string, value interface{}) {
		if sess, ok := value.(*Session); ok {
			sess.Close()
			m.logger.Info(module, "Session released", map[string]interface{}{"user_id": key})
		}
	})
	return m
}

// WithVerifier sets how tokens are confirmed when no JWT secret is
// configured. Without either, new sessions are refused.
func (m *Manager) WithVerifier(v Verifier) *Manager {
	m.verify = v
	return m
}

// Authenticate reads the access token. With a secret configured the
// signature is verified; otherwise only the claims are read and the token
// must still pass confirm before it can reach a session.
func (m *Manager) Authenticate(accessToken string) (*backend.Claims, error) {
	const op = "authenticate"
	if accessToken == "" {
		return nil, apperr.Validation(op, "missing access token")
	}
	var (
		claims *backend.Claims
		err    error
	)
	if m.secret != "" {
		claims, err = backend.VerifyAccessToken(accessToken, m.secret)
	} else {
		claims, err = backend.ParseAccessToken(accessToken)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if claims.Expired(m.now()) {
		return nil, apperr.Validation(op, "access token expired")
	}
	return claims, nil
}

// confirm proves the token belongs to claims.UserId.
func (m *Manager) confirm(ctx context.Context, op string, claims *backend.Claims, accessToken string) error {
	if m.secret != "" {
		return nil
	}
	if m.verify == nil {
		return apperr.Unauthorized(op, "access token cannot be verified")
	}
	userId, err := m.verify(ctx, accessToken)
	if err != nil {
		if apperr.Is(err, apperr.KindFetch) {
			return err
		}
		m.logger.Warn(module, "Access token rejected by backend", map[string]interface{}{"user_id": claims.UserId, "error": err})
		return &apperr.Error{Kind: apperr.KindUnauthorized, Op: op, Message: "access token was rejected", Err: err}
	}
	if userId != claims.UserId {
		m.logger.Warn(module, "Access token subject mismatch", map[string]interface{}{"claimed": claims.UserId, "actual": userId})
		return apperr.Unauthorized(op, "access token does not belong to its subject")
	}
	return nil
}

func (m *Manager) lockUser(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &userLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// owned returns the live session of key when it was opened with accessToken.
func (m *Manager) owned(key, accessToken string) (*Session, bool) {
	x, found := m.cache.Get(key)
	if !found {
		return nil, false
	}
	sess := x.(*Session)
	if subtle.ConstantTimeCompare([]byte(sess.AccessToken), []byte(accessToken)) != 1 {
		return nil, false
	}
	return sess, true
}

// GetOrOpen returns the caller's live session, opening one when none exists.
// Concurrent first requests of one user share a single session.
func (m *Manager) GetOrOpen(ctx context.Context, accessToken string) (*Session, error) {
	const op = "resolve session"
	claims, err := m.Authenticate(accessToken)
	if err != nil {
		return nil, err
	}
	key := claims.UserId.String()
	if sess, ok := m.owned(key, accessToken); ok {
		return sess, nil
	}

	unlock := m.lockUser(key)
	defer unlock()

	if sess, ok := m.owned(key, accessToken); ok {
		return sess, nil
	}
	if err := m.confirm(ctx, op, claims, accessToken); err != nil {
		return nil, err
	}
	return m.replace(ctx, key, claims, accessToken)
}

// Open starts a session for the token's user, replacing any previous one.
func (m *Manager) Open(ctx context.Context, accessToken string) (*Session, error) {
	const op = "open session"
	claims, err := m.Authenticate(accessToken)
	if err != nil {
		return nil, err
	}
	key := claims.UserId.String()

	unlock := m.lockUser(key)
	defer unlock()

	if _, ok := m.owned(key, accessToken); !ok {
		if err := m.confirm(ctx, op, claims, accessToken); err != nil {
			return nil, err
		}
	}
	return m.replace(ctx, key, claims, accessToken)
}

// replace must run under the user's lock.
func (m *Manager) replace(ctx context.Context, key string, claims *backend.Claims, accessToken string) (*Session, error) {
	m.cache.Delete(key)

	sess, err := m.factory(ctx, *claims, accessToken)
	if err != nil {
		m.logger.Warn(module, "Session start failed", map[string]interface{}{"user_id": key, "error": err})
		return nil, err
	}

	ttl := cache.DefaultExpiration
	if !claims.ExpiresAt.IsZero() {
		ttl = claims.ExpiresAt.Sub(m.now())
	}
	m.cache.Set(key, sess, ttl)
	m.logger.Info(module, "Session started", map[string]interface{}{"user_id": key})
	return sess, nil
}

// Lookup returns the live session opened with accessToken.
func (m *Manager) Lookup(accessToken string) (*Session, bool) {
	claims, err := m.Authenticate(accessToken)
	if err != nil {
		return nil, false
	}
	return m.owned(claims.UserId.String(), accessToken)
}

// End closes the token owner's session. A token other than the one the
// session was opened with must be confirmed first.
func (m *Manager) End(ctx context.Context, accessToken string) (bool, error) {
	const op = "end session"
	claims, err := m.Authenticate(accessToken)
	if err != nil {
		return false, err
	}
	key := claims.UserId.String()

	unlock := m.lockUser(key)
	defer unlock()

	if _, found := m.cache.Get(key); !found {
		return false, nil
	}
	if _, ok := m.owned(key, accessToken); !ok {
		if err := m.confirm(ctx, op, claims, accessToken); err != nil {
			return false, err
		}
	}
	m.cache.Delete(key)
	return true, nil
}

func (m *Manager) Get(userId uuid.UUID) (*Session, bool) {
	if x, found := m.cache.Get(userId.String()); found {
		return x.(*Session), true
	}
	return nil, false
}

// Close ends the user's session. It reports whether one was open.
func (m *Manager) Close(userId uuid.UUID) bool {
	key := userId.String()
	if _, found := m.cache.Get(key); !found {
		return false
	}
	m.cache.Delete(key)
	return true
}

func (m *Manager) Count() int {
	return m.cache.ItemCount()
}

// CloseAll releases every open session, used on shutdown.
func (m *Manager) CloseAll() {
	for key := range m.cache.Items() {
		m.cache.Delete(key)
	}
}
