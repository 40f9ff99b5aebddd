// Package events carries store changes from the subscription and notification
// stores to the gateway's websocket hub and the external event stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const (
	TypeSubscriptionChanged = "subscription.changed"
	TypeNotificationChanged = "notification.changed"

	topicChanges = "store_changes"
)

// Change describes one accepted local state change of a store.
type Change struct {
	Type       string                 `json:"type"`
	UserId     uuid.UUID              `json:"user_id"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func NewChange(changeType string, userId uuid.UUID, data map[string]interface{}) Change {
	return Change{Type: changeType, UserId: userId, Data: data, OccurredAt: time.Now().UTC()}
}

// Bus is an in-process fan-out of Changes. Every subscriber sees every change
// published after it subscribed.
type Bus struct {
	pubSub *gochannel.GoChannel
}

func NewBus(wlog watermill.LoggerAdapter) *Bus {
	if wlog == nil {
		wlog = watermill.NopLogger{}
	}
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlog),
	}
}

func (b *Bus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", change.Type)
	msg.Metadata.Set("user_id", change.UserId.String())
	msg.SetContext(ctx)
	return b.pubSub.Publish(topicChanges, msg)
}

// Subscribe returns a channel of changes that closes when ctx is done or the bus
// is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Change, error) {
	messages, err := b.pubSub.Subscribe(ctx, topicChanges)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var change Change
			err := json.Unmarshal(msg.Payload, &change)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
