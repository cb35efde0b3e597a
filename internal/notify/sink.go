package notify

import (
	"context"

	"atrium/internal/domain"
)

// NotificationSink delivers a stored notification to live consumers.
// Implementations must not block; delivery is best effort and the
// caller treats errors as non-fatal.
type NotificationSink interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// AddressedSink delivers only to subscribers named in the recipient
// set. The hub applies the same membership rule on its side, so a
// subscriber never sees a notification it is not addressed to.
type AddressedSink struct {
	Hub *Hub
}

func (s AddressedSink) Deliver(ctx context.Context, n domain.Notification) error {
	s.Hub.Publish(n)
	return nil
}

// BroadcastSink hands the notification to every subscriber and leaves
// filtering to the consumer. The row goes out exactly as stored so the
// recipient set stays available for the consumer-side predicate.
type BroadcastSink struct {
	Hub *Hub
}

func (s BroadcastSink) Deliver(ctx context.Context, n domain.Notification) error {
	s.Hub.Broadcast(n)
	return nil
}

// SinkFor returns the sink for a configured strategy name.
func SinkFor(strategy string, hub *Hub) NotificationSink {
	if strategy == "broadcast" {
		return BroadcastSink{Hub: hub}
	}
	return AddressedSink{Hub: hub}
}
