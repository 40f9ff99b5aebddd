package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"brokerage-client/internal/backend"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/events"

	"github.com/google/uuid"
)

type fakeTables struct {
	mu            sync.Mutex
	notifications []entity.Notification
	settings      map[uuid.UUID]entity.NotificationSettings
	failOn        map[string]error
	calls         []string
	// beforeSelect runs inside Select, after the call is recorded.
	beforeSelect func()
}

func newFakeTables(rows ...entity.Notification) *fakeTables {
	return &fakeTables{notifications: rows, settings: map[uuid.UUID]entity.NotificationSettings{}}
}

func (f *fakeTables) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeTables) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == nil {
		f.failOn = map[string]error{}
	}
	if err == nil {
		delete(f.failOn, name)
		return
	}
	f.failOn[name] = err
}

func matches(n entity.Notification, filters []backend.Filter) bool {
	for _, flt := range filters {
		switch flt.Column {
		case "id":
			if n.Id != flt.Value.(uuid.UUID) {
				return false
			}
		case "user_id":
			if n.UserId != flt.Value.(uuid.UUID) {
				return false
			}
		case "is_read":
			if n.IsRead != flt.Value.(bool) {
				return false
			}
		case "created_at":
			if flt.Op != backend.OpLt || !n.CreatedAt.Before(flt.Value.(time.Time)) {
				return false
			}
		default:
			panic("unexpected filter " + flt.Column)
		}
	}
	return true
}

func remarshal(in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeTables) Select(ctx context.Context, table string, q backend.Query, out interface{}) error {
	if err := f.record("Select " + table); err != nil {
		return err
	}
	if f.beforeSelect != nil {
		f.beforeSelect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch table {
	case backend.TableNotifications:
		var rows []entity.Notification
		for _, n := range f.notifications {
			if matches(n, q.Filters) {
				rows = append(rows, n)
			}
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[:q.Limit]
		}
		if rows == nil {
			rows = []entity.Notification{}
		}
		return remarshal(rows, out)
	case backend.TableNotificationSettings:
		rows := []entity.NotificationSettings{}
		userId := q.Filters[0].Value.(uuid.UUID)
		if s, ok := f.settings[userId]; ok {
			rows = append(rows, s)
		}
		return remarshal(rows, out)
	}
	return fmt.Errorf("unknown table %s", table)
}

func (f *fakeTables) Insert(ctx context.Context, table string, row interface{}, out interface{}) error {
	if err := f.record("Insert " + table); err != nil {
		return err
	}
	var n entity.Notification
	if err := remarshal(row, &n); err != nil {
		return err
	}
	f.mu.Lock()
	f.notifications = append(f.notifications, n)
	f.mu.Unlock()
	if out != nil {
		return remarshal(n, out)
	}
	return nil
}

func (f *fakeTables) Upsert(ctx context.Context, table string, row interface{}, out interface{}) error {
	if err := f.record("Upsert " + table); err != nil {
		return err
	}
	var s entity.NotificationSettings
	if err := remarshal(row, &s); err != nil {
		return err
	}
	f.mu.Lock()
	f.settings[s.UserId] = s
	f.mu.Unlock()
	return remarshal(s, out)
}

func (f *fakeTables) Update(ctx context.Context, table string, filters []backend.Filter, patch map[string]interface{}) error {
	if err := f.record("Update " + table); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if matches(f.notifications[i], filters) {
			if v, ok := patch["is_read"]; ok {
				f.notifications[i].IsRead = v.(bool)
			}
		}
	}
	return nil
}

func (f *fakeTables) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	if err := f.record("Delete " + table); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.notifications[:0]
	for _, n := range f.notifications {
		if !matches(n, filters) {
			kept = append(kept, n)
		}
	}
	f.notifications = kept
	return nil
}

type fakeChannel struct {
	spec    backend.ChannelSpec
	handler backend.ChangeHandler
	closed  bool
}

type fakeRealtime struct {
	mu       sync.Mutex
	channels []*fakeChannel
	failOn   backend.ChangeType
	err      error
}

func (r *fakeRealtime) Subscribe(ctx context.Context, spec backend.ChannelSpec, handler backend.ChangeHandler) (backend.Unsubscribe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil && spec.Event == r.failOn {
		return nil, r.err
	}
	ch := &fakeChannel{spec: spec, handler: handler}
	r.channels = append(r.channels, ch)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ch.closed = true
	}, nil
}

func (r *fakeRealtime) open() []*fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*fakeChannel
	for _, ch := range r.channels {
		if !ch.closed {
			out = append(out, ch)
		}
	}
	return out
}

// emit delivers a row change to every open channel for that event.
func (r *fakeRealtime) emit(event backend.ChangeType, n entity.Notification) {
	raw, _ := json.Marshal(n)
	for _, ch := range r.open() {
		if ch.spec.Event == event {
			ch.handler(backend.Change{Type: event, Table: backend.TableNotifications, Record: raw})
		}
	}
}

type fakeFunctions struct {
	name string
	body interface{}
	err  error
}

func (f *fakeFunctions) Invoke(ctx context.Context, name, method string, body interface{}, out interface{}) error {
	f.name = name
	f.body = body
	return f.err
}

type changeLog struct {
	mu      sync.Mutex
	changes []events.Change
}

func (c *changeLog) Publish(_ context.Context, change events.Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	return nil
}

func (c *changeLog) last() events.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[len(c.changes)-1]
}
