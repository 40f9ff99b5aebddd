// Package notification keeps a per-user, newest-first view of notifications in
// sync with the backend: an initial snapshot plus live insert and update feeds.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/backend"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/events"
	"brokerage-client/internal/pkg/logger"

	"github.com/google/uuid"
)

const (
	module          = "Notification"
	defaultPageSize = 50
)

// FunctionInvoker calls a backend edge function.
type FunctionInvoker interface {
	Invoke(ctx context.Context, name, method string, body interface{}, out interface{}) error
}

type ChangePublisher interface {
	Publish(ctx context.Context, change events.Change) error
}

type Options struct {
	PageSize int
	// CreateFunction routes AddNotification through an edge function instead of
	// a direct insert.
	CreateFunction string
}

// Store owns the notification list and settings of one signed-in user.
// Unread count is always derived from the list.
type Store struct {
	tables    backend.TableClient
	realtime  backend.Realtime
	functions FunctionInvoker
	publisher ChangePublisher
	logger    logger.ILogger
	opts      Options

	mu       sync.RWMutex
	gen      uint64
	userId   uuid.UUID
	started  bool
	live     bool
	items    []entity.Notification
	settings *entity.NotificationSettings
	hasMore  bool
	// cursor is created_at of the last row paged in from the backend. Live
	// upserts of older rows never move it.
	cursor time.Time
	// loading buffers live changes while a snapshot is in flight.
	loading   bool
	pending   []backend.Change
	disposers []backend.Unsubscribe
}

func NewStore(tables backend.TableClient, realtime backend.Realtime, functions FunctionInvoker, publisher ChangePublisher, log logger.ILogger, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Store{
		tables:    tables,
		realtime:  realtime,
		functions: functions,
		publisher: publisher,
		logger:    log,
		opts:      opts,
	}
}

// Start loads the snapshot and settings for userId and opens the insert and
// update feeds. A store that is already started is stopped first.
func (s *Store) Start(ctx context.Context, userId uuid.UUID) error {
	op := "start notifications"
	if userId == uuid.Nil {
		return apperr.Validation(op, "user id is required")
	}
	s.Stop()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.userId = userId
	s.started = true
	s.mu.Unlock()

	if err := s.subscribe(ctx, gen); err != nil {
		s.Stop()
		return err
	}
	if err := s.reload(ctx, gen); err != nil {
		s.Stop()
		return err
	}
	settings, err := s.fetchSettings(ctx, userId)
	if err != nil {
		s.Stop()
		return err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.settings = &settings
	}
	count := len(s.items)
	s.mu.Unlock()

	s.logger.Info(module, "Notification sync started", map[string]interface{}{"user_id": userId, "count": count})
	return nil
}

// Stop releases both live feeds and clears the list and settings. It is safe to
// call on a stopped store.
func (s *Store) Stop() {
	s.mu.Lock()
	disposers := s.disposers
	wasStarted := s.started
	userId := s.userId
	s.gen++
	s.disposers = nil
	s.started = false
	s.live = false
	s.items = nil
	s.settings = nil
	s.hasMore = false
	s.cursor = time.Time{}
	s.loading = false
	s.pending = nil
	s.userId = uuid.Nil
	s.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	if wasStarted {
		s.logger.Info(module, "Notification sync stopped", map[string]interface{}{"user_id": userId, "channels": len(disposers)})
	}
}

func (s *Store) subscribe(ctx context.Context, gen uint64) error {
	s.mu.RLock()
	filter := "user_id=eq." + s.userId.String()
	s.mu.RUnlock()

	for _, event := range []backend.ChangeType{backend.ChangeInsert, backend.ChangeUpdate} {
		spec := backend.ChannelSpec{Table: backend.TableNotifications, Filter: filter, Event: event}
		dispose, err := s.realtime.Subscribe(ctx, spec, func(c backend.Change) { s.onChange(gen, c) })
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			dispose()
			return apperr.New(apperr.KindFetch, "subscribe notifications", "session ended while subscribing")
		}
		s.disposers = append(s.disposers, dispose)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.live = s.gen == gen
	s.mu.Unlock()
	return nil
}

// HandleDisconnect marks the live feeds as lost. Refresh resubscribes.
func (s *Store) HandleDisconnect(err error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.live = false
	s.disposers = nil
	userId := s.userId
	s.mu.Unlock()
	s.logger.Warn(module, "Live notification feed lost", map[string]interface{}{"user_id": userId, "error": err})
}

// Refresh replaces the whole list with a fresh snapshot and reopens the live
// feeds if they were lost.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	gen, started, live := s.gen, s.started, s.live
	s.mu.RUnlock()
	if !started {
		return apperr.Validation("refresh notifications", "notification sync is not started")
	}

	if !live {
		if err := s.subscribe(ctx, gen); err != nil {
			return err
		}
	}
	return s.reload(ctx, gen)
}

// LoadMore appends the page of rows created before the last paged-in row.
func (s *Store) LoadMore(ctx context.Context) (int, error) {
	op := "load more notifications"
	s.mu.RLock()
	gen, started, userId, cursor := s.gen, s.started, s.userId, s.cursor
	s.mu.RUnlock()
	if !started {
		return 0, apperr.Validation(op, "notification sync is not started")
	}

	page, err := s.fetchPage(ctx, userId, cursor)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return 0, nil
	}
	added := 0
	for _, n := range page {
		if s.indexOf(n.Id) >= 0 {
			continue
		}
		s.insertByCreatedLocked(n)
		added++
	}
	s.advanceLocked(page)
	return added, nil
}

// reload fetches the first page and installs it, replaying any live changes
// that arrived while it was in flight.
func (s *Store) reload(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	userId := s.userId
	s.mu.Unlock()

	page, err := s.fetchPage(ctx, userId, time.Time{})

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return err
	}
	if err == nil {
		s.items = page
		s.cursor = time.Time{}
		s.advanceLocked(page)
	}
	pending := s.pending
	s.pending = nil
	s.loading = false
	for _, c := range pending {
		s.applyLocked(c)
	}
	unread := s.unreadLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.publish(ctx, userId, map[string]interface{}{"action": "refreshed", "unread_count": unread})
	return nil
}

func (s *Store) advanceLocked(page []entity.Notification) {
	if len(page) > 0 {
		s.cursor = page[len(page)-1].CreatedAt
	}
	s.hasMore = len(page) == s.opts.PageSize
}

// fetchPage reads newest first; a non-zero before keeps only older rows.
func (s *Store) fetchPage(ctx context.Context, userId uuid.UUID, before time.Time) ([]entity.Notification, error) {
	filters := []backend.Filter{backend.Eq("user_id", userId)}
	if !before.IsZero() {
		filters = append(filters, backend.Lt("created_at", before))
	}
	var page []entity.Notification
	err := s.tables.Select(ctx, backend.TableNotifications, backend.Query{
		Filters:   filters,
		OrderBy:   "created_at",
		OrderDesc: true,
		Limit:     s.opts.PageSize,
	}, &page)
	if err != nil {
		s.logger.Error(module, "Failed to fetch notifications", map[string]interface{}{"user_id": userId, "before": before, "error": err})
		return nil, err
	}
	return page, nil
}

func (s *Store) fetchSettings(ctx context.Context, userId uuid.UUID) (entity.NotificationSettings, error) {
	var rows []entity.NotificationSettings
	err := s.tables.Select(ctx, backend.TableNotificationSettings, backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userId)},
		Limit:   1,
	}, &rows)
	if err != nil {
		s.logger.Error(module, "Failed to fetch notification settings", map[string]interface{}{"user_id": userId, "error": err})
		return entity.NotificationSettings{}, err
	}
	if len(rows) == 0 {
		return entity.DefaultNotificationSettings(userId), nil
	}
	settings := rows[0]
	if settings.Types == nil {
		settings.Types = entity.DefaultNotificationSettings(userId).Types
	}
	return settings, nil
}

func (s *Store) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Live reports whether both feeds are open.
func (s *Store) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *Store) UserId() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userId
}

// Notifications returns a copy of the list, newest first.
func (s *Store) Notifications() []entity.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Notification, len(s.items))
	for i, n := range s.items {
		out[i] = n.Clone()
	}
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked()
}

func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// Settings returns the current settings, or false before Start completes.
func (s *Store) Settings() (entity.NotificationSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return entity.NotificationSettings{}, false
	}
	return s.settings.Clone(), true
}

func (s *Store) unreadLocked() int {
	n := 0
	for _, item := range s.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i, item := range s.items {
		if item.Id == id {
			return i
		}
	}
	return -1
}

func (s *Store) publish(ctx context.Context, userId uuid.UUID, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewChange(events.TypeNotificationChanged, userId, data)); err != nil {
		s.logger.Warn(module, "Failed to publish notification change", map[string]interface{}{"user_id": userId, "error": err})
	}
}

func (s *Store) requireStarted(op string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return uuid.Nil, apperr.Validation(op, "notification sync is not started")
	}
	return s.userId, nil
}

func notFound(op string, id uuid.UUID) error {
	return apperr.NotFound(op, fmt.Sprintf("notification %s not found", id))
}
