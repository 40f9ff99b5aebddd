package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	realtimeModule    = "Realtime"
	heartbeatInterval = 25 * time.Second
	writeWait         = 10 * time.Second
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChannelSpec selects row changes of one table, e.g. Filter "user_id=eq.<id>".
type ChannelSpec struct {
	Table  string
	Filter string
	Event  ChangeType
}

type Change struct {
	Type      ChangeType
	Table     string
	Record    json.RawMessage
	OldRecord json.RawMessage
}

type ChangeHandler func(Change)

// Unsubscribe releases a channel. Calling it more than once is a no-op.
type Unsubscribe func()

type Realtime interface {
	Subscribe(ctx context.Context, spec ChannelSpec, handler ChangeHandler) (Unsubscribe, error)
}

type phxOut struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
	JoinRef string      `json:"join_ref,omitempty"`
}

type phxIn struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type pgChangeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []pgChangeConfig `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type changeData struct {
	Type      ChangeType      `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

type channel struct {
	topic   string
	spec    ChannelSpec
	handler ChangeHandler
}

// RealtimeClient multiplexes channels over one websocket. The socket is opened by
// the first Subscribe and closed when the last channel leaves.
type RealtimeClient struct {
	endpoint     string
	accessToken  string
	logger       logger.ILogger
	dialer       *websocket.Dialer
	heartbeat    time.Duration
	onDisconnect func(error)

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	channels map[string]*channel
	replies  map[string]chan phxReply
	ref      uint64

	writeMu sync.Mutex
}

func NewRealtime(opts Options, accessToken string, log logger.ILogger) *RealtimeClient {
	return &RealtimeClient{
		endpoint:    realtimeEndpoint(opts.URL, opts.AnonKey),
		accessToken: accessToken,
		logger:      log,
		dialer:      websocket.DefaultDialer,
		heartbeat:   heartbeatInterval,
		channels:    make(map[string]*channel),
		replies:     make(map[string]chan phxReply),
	}
}

// OnDisconnect registers a callback for connections lost without Close.
func (r *RealtimeClient) OnDisconnect(fn func(error)) {
	r.mu.Lock()
	r.onDisconnect = fn
	r.mu.Unlock()
}

func realtimeEndpoint(baseURL, apiKey string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	return strings.TrimRight(u, "/") + "/realtime/v1/websocket?" + q.Encode()
}

func (r *RealtimeClient) Subscribe(ctx context.Context, spec ChannelSpec, handler ChangeHandler) (Unsubscribe, error) {
	op := "realtime subscribe " + spec.Table

	r.mu.Lock()
	if err := r.connectLocked(ctx); err != nil {
		r.mu.Unlock()
		return nil, apperr.Wrap(apperr.KindFetch, op, err)
	}
	ref := r.nextRefLocked()
	topic := fmt.Sprintf("realtime:%s:%s:%s", spec.Table, strings.ToLower(string(spec.Event)), ref)
	r.channels[topic] = &channel{topic: topic, spec: spec, handler: handler}
	reply := make(chan phxReply, 1)
	r.replies[ref] = reply
	conn, done := r.conn, r.done
	r.mu.Unlock()

	var payload joinPayload
	payload.Config.PostgresChanges = []pgChangeConfig{{
		Event:  string(spec.Event),
		Schema: "public",
		Table:  spec.Table,
		Filter: spec.Filter,
	}}
	payload.AccessToken = r.accessToken

	if err := r.send(conn, phxOut{Topic: topic, Event: "phx_join", Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		r.forget(topic, ref)
		return nil, apperr.Wrap(apperr.KindFetch, op, err)
	}

	select {
	case rep := <-reply:
		if rep.Status != "ok" {
			r.forget(topic, ref)
			return nil, apperr.New(apperr.KindFetch, op, fmt.Sprintf("join rejected: %s", string(rep.Response)))
		}
	case <-ctx.Done():
		r.forget(topic, ref)
		return nil, apperr.Wrap(apperr.KindFetch, op, ctx.Err())
	case <-done:
		r.forget(topic, ref)
		return nil, apperr.New(apperr.KindFetch, op, "realtime connection closed")
	}

	r.logger.Info(realtimeModule, "Channel joined", map[string]interface{}{"topic": topic, "filter": spec.Filter})

	var once sync.Once
	return func() {
		once.Do(func() { r.leave(topic) })
	}, nil
}

// Close drops every channel and the socket.
func (r *RealtimeClient) Close() {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return
	}
	close(r.done)
	r.conn = nil
	r.channels = make(map[string]*channel)
	r.replies = make(map[string]chan phxReply)
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	_ = conn.Close()
	r.logger.Info(realtimeModule, "Connection closed", nil)
}

func (r *RealtimeClient) connectLocked(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}
	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	r.conn = conn
	r.done = make(chan struct{})
	go r.readLoop(conn, r.done)
	go r.heartbeatLoop(conn, r.done)
	return nil
}

func (r *RealtimeClient) nextRefLocked() string {
	r.ref++
	return strconv.FormatUint(r.ref, 10)
}

func (r *RealtimeClient) send(conn *websocket.Conn, msg phxOut) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (r *RealtimeClient) forget(topic, ref string) {
	r.mu.Lock()
	delete(r.channels, topic)
	delete(r.replies, ref)
	empty := len(r.channels) == 0
	r.mu.Unlock()
	if empty {
		r.Close()
	}
}

func (r *RealtimeClient) leave(topic string) {
	r.mu.Lock()
	if _, ok := r.channels[topic]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.channels, topic)
	conn := r.conn
	ref := r.nextRefLocked()
	empty := len(r.channels) == 0
	r.mu.Unlock()

	if conn != nil {
		if err := r.send(conn, phxOut{Topic: topic, Event: "phx_leave", Payload: struct{}{}, Ref: ref}); err != nil {
			r.logger.Warn(realtimeModule, "Failed to send leave", map[string]interface{}{"topic": topic, "error": err})
		}
	}
	r.logger.Info(realtimeModule, "Channel left", map[string]interface{}{"topic": topic})
	if empty {
		r.Close()
	}
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg phxIn
		if err := conn.ReadJSON(&msg); err != nil {
			r.handleDisconnect(conn, done, err)
			return
		}
		r.dispatch(msg)
	}
}

func (r *RealtimeClient) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			ref := r.nextRefLocked()
			r.mu.Unlock()
			if err := r.send(conn, phxOut{Topic: "phoenix", Event: "heartbeat", Payload: struct{}{}, Ref: ref}); err != nil {
				r.logger.Warn(realtimeModule, "Heartbeat failed", map[string]interface{}{"error": err})
				return
			}
		}
	}
}

func (r *RealtimeClient) handleDisconnect(conn *websocket.Conn, done chan struct{}, err error) {
	r.mu.Lock()
	if r.conn != conn {
		// Closed on purpose.
		r.mu.Unlock()
		return
	}
	close(done)
	r.conn = nil
	lost := len(r.channels)
	r.channels = make(map[string]*channel)
	r.replies = make(map[string]chan phxReply)
	cb := r.onDisconnect
	r.mu.Unlock()

	_ = conn.Close()
	r.logger.Error(realtimeModule, "Connection lost", map[string]interface{}{"error": err, "channels": lost})
	if cb != nil {
		cb(err)
	}
}

func (r *RealtimeClient) dispatch(msg phxIn) {
	switch msg.Event {
	case "phx_reply":
		if msg.Ref == nil {
			return
		}
		var rep phxReply
		if err := json.Unmarshal(msg.Payload, &rep); err != nil {
			r.logger.Warn(realtimeModule, "Malformed reply", map[string]interface{}{"error": err})
			return
		}
		r.mu.Lock()
		ch, ok := r.replies[*msg.Ref]
		delete(r.replies, *msg.Ref)
		r.mu.Unlock()
		if ok {
			ch <- rep
		}

	case "postgres_changes":
		var wrapped struct {
			Data changeData `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &wrapped); err != nil {
			r.logger.Warn(realtimeModule, "Malformed change", map[string]interface{}{"topic": msg.Topic, "error": err})
			return
		}
		r.deliver(msg.Topic, wrapped.Data)

	case string(ChangeInsert), string(ChangeUpdate), string(ChangeDelete):
		var data changeData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			r.logger.Warn(realtimeModule, "Malformed change", map[string]interface{}{"topic": msg.Topic, "error": err})
			return
		}
		if data.Type == "" {
			data.Type = ChangeType(msg.Event)
		}
		r.deliver(msg.Topic, data)

	case "phx_error", "phx_close":
		r.logger.Warn(realtimeModule, "Channel closed by server", map[string]interface{}{"topic": msg.Topic, "event": msg.Event})
	}
}

func (r *RealtimeClient) deliver(topic string, data changeData) {
	r.mu.Lock()
	ch, ok := r.channels[topic]
	r.mu.Unlock()
	if !ok {
		return
	}
	if ch.spec.Event != "" && ch.spec.Event != "*" && data.Type != ch.spec.Event {
		return
	}
	table := data.Table
	if table == "" {
		table = ch.spec.Table
	}
	ch.handler(Change{Type: data.Type, Table: table, Record: data.Record, OldRecord: data.OldRecord})
}
