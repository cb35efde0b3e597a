package notify

import (
	"context"
	"testing"

	"atrium/internal/domain"
)

func notification(id string, recipients ...string) domain.Notification {
	return domain.Notification{
		ID:         id,
		UserID:     "alice",
		Module:     domain.ModuleWorkOrders,
		Action:     domain.ActionCreated,
		EntityID:   "wo-1",
		Message:    "Work order WO-00001 created",
		Recipients: recipients,
	}
}

func drain(s *Subscriber) []domain.Notification {
	var out []domain.Notification
	for {
		select {
		case n := <-s.C():
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestHubAddressedDelivery(t *testing.T) {
	hub := NewHub()
	alice := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")
	wildcard := hub.Subscribe("")
	defer hub.Unsubscribe(alice)
	defer hub.Unsubscribe(bob)
	defer hub.Unsubscribe(wildcard)

	hub.Publish(notification("n1", "alice"))

	if got := drain(alice); len(got) != 1 {
		t.Fatalf("expected alice to receive 1, got %d", len(got))
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("expected bob to receive nothing, got %d", len(got))
	}
	if got := drain(wildcard); len(got) != 1 {
		t.Fatalf("expected wildcard subscriber to receive 1, got %d", len(got))
	}
}

func TestHubEmptyRecipientsReachEveryone(t *testing.T) {
	hub := NewHub()
	alice := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")
	defer hub.Unsubscribe(alice)
	defer hub.Unsubscribe(bob)

	hub.Publish(notification("n1"))

	if len(drain(alice)) != 1 || len(drain(bob)) != 1 {
		t.Fatalf("expected both subscribers to receive the broadcast")
	}
}

func TestHubMarksSlowSubscriberLagged(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)

	for i := 0; i <= subscriberBuffer; i++ {
		hub.Publish(notification("n", "alice"))
	}
	if !sub.Lagged() {
		t.Fatalf("expected subscriber flagged lagged after overflow")
	}
	if got := drain(sub); len(got) != subscriberBuffer {
		t.Fatalf("expected %d buffered, got %d", subscriberBuffer, len(got))
	}
	sub.ClearLagged()
	if sub.Lagged() {
		t.Fatalf("expected lagged flag cleared")
	}
}

func TestBroadcastSinkWidensDelivery(t *testing.T) {
	hub := NewHub()
	bob := hub.Subscribe("bob")
	defer hub.Unsubscribe(bob)

	sink := SinkFor("broadcast", hub)
	if err := sink.Deliver(context.Background(), notification("n1", "alice")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := drain(bob)
	if len(got) != 1 {
		t.Fatalf("expected broadcast to reach bob, got %d", len(got))
	}
	if len(got[0].Recipients) != 1 || got[0].Recipients[0] != "alice" {
		t.Fatalf("expected recipients delivered as stored, got %v", got[0].Recipients)
	}
}

func TestHubDeliversOncePerSubscription(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("alice")
	second := hub.Subscribe("alice")
	defer hub.Unsubscribe(first)
	defer hub.Unsubscribe(second)

	hub.Publish(notification("n1", "alice"))

	if got := drain(first); len(got) != 1 {
		t.Fatalf("expected first subscription to receive 1, got %d", len(got))
	}
	if got := drain(second); len(got) != 1 {
		t.Fatalf("expected second subscription to receive 1, got %d", len(got))
	}
}

func TestAddressedSinkKeepsRecipients(t *testing.T) {
	hub := NewHub()
	bob := hub.Subscribe("bob")
	defer hub.Unsubscribe(bob)

	sink := SinkFor("addressed", hub)
	if err := sink.Deliver(context.Background(), notification("n1", "alice")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("expected addressed delivery to skip bob, got %d", len(got))
	}
}

func TestResolverForStakeholders(t *testing.T) {
	ev := Event{ActorID: "alice", Stakeholders: []string{"bob", "alice", "carol", ""}}

	got, err := ResolverFor(true).Resolve(context.Background(), ev)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	self, err := ResolverFor(false).Resolve(context.Background(), ev)
	if err != nil {
		t.Fatalf("resolve self: %v", err)
	}
	if len(self) != 1 || self[0] != "alice" {
		t.Fatalf("expected actor only, got %v", self)
	}
}

type fakeStore struct {
	items   []domain.Notification
	read    []string
	readAll int
	deleted []string
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return f.items, nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, id string) error {
	f.read = append(f.read, id)
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	f.readAll++
	return int64(len(f.items)), nil
}

func (f *fakeStore) DeleteNotification(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestCacheRefreshAndApply(t *testing.T) {
	store := &fakeStore{items: []domain.Notification{
		notification("n2", "alice"),
		notification("n1", "alice"),
	}}
	cache := NewCache(store, "alice")
	if err := cache.Refresh(context.Background(), 50); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := cache.List(); len(got) != 2 || got[0].ID != "n2" {
		t.Fatalf("expected newest first after refresh, got %v", got)
	}

	cache.Apply(notification("n3", "alice"))
	got := cache.List()
	if len(got) != 3 || got[0].ID != "n3" {
		t.Fatalf("expected streamed notification on top, got %v", got)
	}
	if cache.UnreadCount() != 3 {
		t.Fatalf("expected 3 unread, got %d", cache.UnreadCount())
	}

	// Re-applying a known ID updates in place.
	updated := notification("n3", "alice")
	updated.IsRead = true
	cache.Apply(updated)
	if len(cache.List()) != 3 {
		t.Fatalf("expected no duplicate entry")
	}
	if cache.UnreadCount() != 2 {
		t.Fatalf("expected 2 unread after update, got %d", cache.UnreadCount())
	}
}

func TestCacheApplyFiltersByRecipient(t *testing.T) {
	cache := NewCache(&fakeStore{}, "bob")

	cache.Apply(notification("n1", "alice"))
	if got := cache.List(); len(got) != 0 {
		t.Fatalf("expected notification addressed elsewhere dropped, got %v", got)
	}

	cache.Apply(notification("n2", "alice", "bob"))
	if got := cache.List(); len(got) != 1 || got[0].ID != "n2" {
		t.Fatalf("expected addressed notification kept, got %v", got)
	}
}

func TestCacheMarkAsRead(t *testing.T) {
	store := &fakeStore{items: []domain.Notification{notification("n1", "alice")}}
	cache := NewCache(store, "alice")
	if err := cache.Refresh(context.Background(), 50); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := cache.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if cache.UnreadCount() != 0 {
		t.Fatalf("expected 0 unread, got %d", cache.UnreadCount())
	}
	if len(store.read) != 1 || store.read[0] != "n1" {
		t.Fatalf("expected store call for n1, got %v", store.read)
	}

	// Already read and unknown IDs skip the store.
	if err := cache.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if err := cache.MarkAsRead(context.Background(), "missing"); err != nil {
		t.Fatalf("mark unknown: %v", err)
	}
	if len(store.read) != 1 {
		t.Fatalf("expected no extra store calls, got %v", store.read)
	}
}

func TestCacheMarkAllAndDelete(t *testing.T) {
	store := &fakeStore{items: []domain.Notification{
		notification("n1", "alice"),
		notification("n2", "alice"),
	}}
	cache := NewCache(store, "alice")
	if err := cache.Refresh(context.Background(), 50); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	affected, err := cache.MarkAllAsRead(context.Background())
	if err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if affected != 2 || cache.UnreadCount() != 0 {
		t.Fatalf("expected 2 marked and 0 unread, got %d and %d", affected, cache.UnreadCount())
	}

	if err := cache.Delete(context.Background(), "n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := cache.List(); len(got) != 1 || got[0].ID != "n2" {
		t.Fatalf("expected only n2 left, got %v", got)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "n1" {
		t.Fatalf("expected delete forwarded, got %v", store.deleted)
	}
}
