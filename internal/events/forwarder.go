package events

import (
	"context"
	"strings"

	"brokerage-client/internal/pkg/logger"
	pkgEvents "brokerage-client/pkg/events"
)

// DomainPublisher is the external event stream (NATS JetStream in production).
type DomainPublisher interface {
	Publish(ctx context.Context, event pkgEvents.Event) error
}

// Forwarder turns store changes into domain events:
// subscription changes become SUBSCRIPTION_<STATUS>, new notifications become
// NOTIFICATION_RECEIVED. Other changes stay local.
type Forwarder struct {
	bus       *Bus
	publisher DomainPublisher
	logger    logger.ILogger
}

func NewForwarder(bus *Bus, publisher DomainPublisher, log logger.ILogger) *Forwarder {
	return &Forwarder{bus: bus, publisher: publisher, logger: log}
}

// Run blocks until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	changes, err := f.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		evt, ok := DomainEvent(change)
		if !ok {
			continue
		}
		if err := f.publisher.Publish(ctx, evt); err != nil {
			f.logger.Error("EVENTS", "Failed to forward event", map[string]interface{}{
				"event_type": evt.Type,
				"user_id":    change.UserId,
				"error":      err,
			})
		}
	}
	return nil
}

// DomainEvent maps a change to its external event, if it has one.
func DomainEvent(change Change) (pkgEvents.BaseEvent, bool) {
	data := make(map[string]interface{}, len(change.Data)+1)
	for k, v := range change.Data {
		data[k] = v
	}
	data["user_id"] = change.UserId.String()

	switch change.Type {
	case TypeSubscriptionChanged:
		status, _ := change.Data["status"].(string)
		if status == "" {
			return pkgEvents.BaseEvent{}, false
		}
		evt := pkgEvents.BaseEvent{Type: "SUBSCRIPTION_" + strings.ToUpper(status), Data: data, OccurredAt: change.OccurredAt}
		return evt, true
	case TypeNotificationChanged:
		if action, _ := change.Data["action"].(string); action != "inserted" {
			return pkgEvents.BaseEvent{}, false
		}
		return pkgEvents.BaseEvent{Type: "NOTIFICATION_RECEIVED", Data: data, OccurredAt: change.OccurredAt}, true
	}
	return pkgEvents.BaseEvent{}, false
}
