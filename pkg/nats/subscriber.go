package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerage-client/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber reads domain events back from the stream. The operator CLI uses it
// to tail lifecycle events.
type Subscriber struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	stop []jetstream.ConsumeContext
}

func NewSubscriber(url string) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js}, nil
}

// Subscribe consumes subjects matching pattern below the stream prefix
// (e.g. "subscription.>"). An empty
// durable name creates an ephemeral consumer that starts at new messages.
func (s *Subscriber) Subscribe(ctx context.Context, pattern, durable string, handler EventHandler) error {
	cfg := jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: SubjectPrefix + "." + pattern,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable == "" {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Data(), &payload); err != nil {
			_ = msg.Term()
			return
		}

		occurredAt := time.Now().UTC()
		if raw := msg.Headers().Get("Occurred-At"); raw != "" {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				occurredAt = t
			}
		}
		eventType := msg.Headers().Get("Event-Type")
		if eventType == "" {
			eventType = msg.Subject()
		}

		if err := handler(ctx, events.BaseEvent{Type: eventType, Data: payload, OccurredAt: occurredAt}); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.stop = append(s.stop, cc)
	return nil
}

func (s *Subscriber) Close() {
	for _, cc := range s.stop {
		cc.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
