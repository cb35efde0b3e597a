package notify

import (
	"sync"
	"sync/atomic"

	"atrium/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. A consumer
// that falls this far behind is marked lagged and must resync from the
// store instead of receiving the dropped notifications.
const subscriberBuffer = 64

type Subscriber struct {
	userID string
	ch     chan domain.Notification
	done   chan struct{}
	closed sync.Once
	lagged atomic.Bool
}

// C is the stream of notifications delivered to this subscriber.
func (s *Subscriber) C() <-chan domain.Notification { return s.ch }

// Lagged reports whether deliveries were dropped because the consumer
// was too slow. Once set it stays set until ClearLagged.
func (s *Subscriber) Lagged() bool { return s.lagged.Load() }

func (s *Subscriber) ClearLagged() { s.lagged.Store(false) }

func (s *Subscriber) UserID() string { return s.userID }

// Hub fans notifications out to in-process subscribers. Delivery is
// best effort: a full subscriber channel drops the notification and
// flags the subscriber as lagged.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscriber]struct{}{}}
}

// Subscribe registers a consumer. Pass an empty userID to receive
// every notification regardless of addressing.
func (h *Hub) Subscribe(userID string) *Subscriber {
	s := &Subscriber{
		userID: userID,
		ch:     make(chan domain.Notification, subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes the consumer and closes its channel. Safe to
// call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.closed.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Publish delivers the notification to every matching subscriber
// without blocking the caller.
func (h *Hub) Publish(n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.userID != "" && len(n.Recipients) > 0 && !n.RecipientOf(s.userID) {
			continue
		}
		h.send(s, n)
	}
}

// Broadcast delivers the notification to every subscriber regardless
// of addressing. The row is passed through unmodified, recipients
// included, so consumers can apply the membership predicate locally.
func (h *Hub) Broadcast(n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.send(s, n)
	}
}

func (h *Hub) send(s *Subscriber, n domain.Notification) {
	select {
	case s.ch <- n:
	default:
		s.lagged.Store(true)
	}
}

// SubscriberCount returns the number of registered consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
