package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"brokerage-client/internal/events"
	"brokerage-client/internal/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, rdb *redis.Client, source ChangeSource) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(rdb, logger.NewNop())
	require.NoError(t, hub.Start(ctx, source))
	return hub
}

func attach(t *testing.T, hub *Hub, userId uuid.UUID) *Client {
	t.Helper()
	client := &Client{Hub: hub, UserId: userId, Send: make(chan []byte, sendBuffer)}
	before := hub.ClientCount(userId)
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount(userId) == before+1 }, time.Second, 5*time.Millisecond)
	return client
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected message %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SendDeliversOnlyToTargetUser(t *testing.T) {
	hub := startHub(t, nil, nil)
	alice, bob := uuid.New(), uuid.New()
	phone := attach(t, hub, alice)
	laptop := attach(t, hub, alice)
	other := attach(t, hub, bob)

	hub.Send(events.NewChange(events.TypeNotificationChanged, alice, map[string]interface{}{"unread_count": 3}))

	for _, c := range []*Client{phone, laptop} {
		msg := receive(t, c)
		assert.Equal(t, events.TypeNotificationChanged, msg["type"])
		data := msg["data"].(map[string]interface{})
		assert.Equal(t, alice.String(), data["user_id"])
	}
	assertSilent(t, other)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := startHub(t, nil, nil)
	userId := uuid.New()
	c := attach(t, hub, userId)

	hub.Unregister(c)

	require.Eventually(t, func() bool { return hub.ClientCount(userId) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)

	// A second unregister is a no-op.
	hub.Unregister(c)
}

func TestHub_PumpsBusChanges(t *testing.T) {
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	hub := startHub(t, nil, bus)
	userId := uuid.New()
	c := attach(t, hub, userId)

	require.NoError(t, bus.Publish(context.Background(), events.NewChange(events.TypeSubscriptionChanged, userId, map[string]interface{}{"status": "active"})))

	msg := receive(t, c)
	assert.Equal(t, events.TypeSubscriptionChanged, msg["type"])
}

func TestHub_RedisFanOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newRedis := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}
	first := startHub(t, newRedis(), nil)
	second := startHub(t, newRedis(), nil)

	userId := uuid.New()
	local := attach(t, first, userId)
	remote := attach(t, second, userId)

	first.Send(events.NewChange(events.TypeNotificationChanged, userId, map[string]interface{}{"action": "inserted"}))

	assert.Equal(t, events.TypeNotificationChanged, receive(t, local)["type"])
	assert.Equal(t, events.TypeNotificationChanged, receive(t, remote)["type"])
	// The origin instance ignores its own echo.
	assertSilent(t, local)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, logger.NewNop())
	require.NoError(t, hub.Start(ctx, nil))
	c := attach(t, hub, uuid.New())

	cancel()

	select {
	case _, open := <-c.Send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}

	late := &Client{Hub: hub, UserId: uuid.New(), Send: make(chan []byte, 1)}
	hub.Register(late)
	_, open := <-late.Send
	assert.False(t, open)
}
