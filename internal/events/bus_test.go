package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"brokerage-client/internal/pkg/logger"
	pkgEvents "brokerage-client/pkg/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	userId := uuid.New()
	require.NoError(t, bus.Publish(ctx, NewChange(TypeNotificationChanged, userId, map[string]interface{}{"unread_count": 2})))

	for _, ch := range []<-chan Change{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, TypeNotificationChanged, got.Type)
			assert.Equal(t, userId, got.UserId)
			assert.EqualValues(t, 2, got.Data["unread_count"])
		case <-ctx.Done():
			t.Fatal("change not delivered")
		}
	}
}

func TestDomainEvent(t *testing.T) {
	userId := uuid.New()

	evt, ok := DomainEvent(NewChange(TypeSubscriptionChanged, userId, map[string]interface{}{"status": "past_due"}))
	require.True(t, ok)
	assert.Equal(t, "SUBSCRIPTION_PAST_DUE", evt.Type)
	assert.Equal(t, userId.String(), evt.Data["user_id"])

	_, ok = DomainEvent(NewChange(TypeSubscriptionChanged, userId, map[string]interface{}{"has_subscription": false}))
	assert.False(t, ok)

	evt, ok = DomainEvent(NewChange(TypeNotificationChanged, userId, map[string]interface{}{"action": "inserted"}))
	require.True(t, ok)
	assert.Equal(t, "NOTIFICATION_RECEIVED", evt.Type)

	_, ok = DomainEvent(NewChange(TypeNotificationChanged, userId, map[string]interface{}{"action": "read"}))
	assert.False(t, ok)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []pkgEvents.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt pkgEvents.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func TestForwarderPublishesLifecycleEvents(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fwd := NewForwarder(bus, pub, logger.NewNop())
	done := make(chan struct{})
	go func() {
		_ = fwd.Run(ctx)
		close(done)
	}()

	userId := uuid.New()
	// Subscription happens inside Run; publish until the first event lands.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, NewChange(TypeSubscriptionChanged, userId, map[string]interface{}{"status": "paused"}))
		return len(pub.types()) > 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "SUBSCRIPTION_PAUSED", pub.types()[0])

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
}
