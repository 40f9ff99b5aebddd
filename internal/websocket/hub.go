// Package websocket pushes store changes to the signed-in user's connected UI
// sockets, optionally fanning out across gateway instances through Redis.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"brokerage-client/internal/events"
	"brokerage-client/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "cluster_events"

// ChangeSource is where the hub reads store changes from.
type ChangeSource interface {
	Subscribe(ctx context.Context) (<-chan events.Change, error)
}

type Hub struct {
	// Registered clients map: UserId -> clients (multi-device)
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	// Redis connection for cross-instance communication
	rdb        *redis.Client
	instanceId string

	logger logger.ILogger
}

type clusterMessage struct {
	Origin       string          `json:"origin"`
	TargetUserId string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		instanceId: uuid.NewString(),
		logger:     log,
	}
}

// Start runs the registration loop, the Redis subscriber when configured and
// reachable, and the pump from source. Everything stops with ctx.
func (h *Hub) Start(ctx context.Context, source ChangeSource) error {
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(ctx, clusterChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			h.logger.Warn("Hub", "Redis unavailable, fan-out disabled", map[string]interface{}{"error": err})
			h.rdb = nil
		} else {
			go h.subscribeToRedis(ctx, pubsub)
		}
	}
	if source != nil {
		changes, err := source.Subscribe(ctx)
		if err != nil {
			return err
		}
		go h.pump(changes)
	}
	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserId] = append(h.clients[client.UserId], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserId})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.UserId]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.UserId] = append(clients[:i:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.UserId]) == 0 {
		delete(h.clients, client.UserId)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserId})
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userId, clients := range h.clients {
		for _, c := range clients {
			close(c.Send)
		}
		delete(h.clients, userId)
	}
}

func (h *Hub) pump(changes <-chan events.Change) {
	for change := range changes {
		h.Send(change)
	}
}

// Send delivers a change to the user's local sockets and to other instances.
func (h *Hub) Send(change events.Change) {
	data, err := json.Marshal(map[string]interface{}{
		"type": change.Type,
		"data": change,
	})
	if err != nil {
		h.logger.Error("Hub", "Failed to encode change", map[string]interface{}{"error": err})
		return
	}

	h.deliver(change.UserId, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{
			Origin:       h.instanceId,
			TargetUserId: change.UserId.String(),
			Message:      data,
		})
		if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err})
		}
	}
}

func (h *Hub) deliver(userId uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients[userId] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"user_id": userId})
			go h.Unregister(client)
		}
	}
}

// Register adds the client. After shutdown the client is closed right away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount reports how many sockets the user has on this instance.
func (h *Hub) ClientCount(userId uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userId])
}

func (h *Hub) subscribeToRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err})
				continue
			}
			if payload.Origin == h.instanceId {
				continue
			}
			userId, err := uuid.Parse(payload.TargetUserId)
			if err != nil {
				continue
			}
			h.deliver(userId, payload.Message)
		}
	}
}
