package notify

import (
	"context"
	"sync"

	"atrium/internal/domain"
)

// Store is the remote surface the cache mutates through. Both the repo
// and the HTTP SDK satisfy it.
type Store interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
}

// Cache is a consumer-side view of one user's notifications. It is
// kept current by Apply calls from a live subscription and by Refresh
// after a lagged stream. All methods are safe for concurrent use.
type Cache struct {
	store  Store
	userID string

	mu    sync.Mutex
	order []string
	byID  map[string]domain.Notification
}

func NewCache(store Store, userID string) *Cache {
	return &Cache{
		store:  store,
		userID: userID,
		byID:   map[string]domain.Notification{},
	}
}

// Refresh replaces the cached view with the store's current state.
func (c *Cache) Refresh(ctx context.Context, limit int) error {
	items, err := c.store.ListNotifications(ctx, c.userID, limit)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = c.order[:0]
	c.byID = map[string]domain.Notification{}
	for _, n := range items {
		c.order = append(c.order, n.ID)
		c.byID[n.ID] = n
	}
	return nil
}

// Apply merges one streamed notification into the view. Notifications
// arrive newest-last on the stream but are kept newest-first here.
// Re-applying a known ID updates it in place. A notification that does
// not address the cache's user is dropped; under the broadcast strategy
// every subscriber sees every row and this is where filtering happens.
func (c *Cache) Apply(n domain.Notification) {
	if c.userID != "" && !n.RecipientOf(c.userID) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[n.ID]; !ok {
		c.order = append([]string{n.ID}, c.order...)
	}
	c.byID[n.ID] = n
}

// List returns the cached notifications, newest first.
func (c *Cache) List() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Notification, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// UnreadCount returns how many cached notifications are unread.
func (c *Cache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.byID {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// MarkAsRead marks one notification read in the store, then locally.
// Marking an unknown or already-read notification is a no-op.
func (c *Cache) MarkAsRead(ctx context.Context, id string) error {
	c.mu.Lock()
	n, ok := c.byID[id]
	c.mu.Unlock()
	if !ok || n.IsRead {
		return nil
	}
	if err := c.store.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	if n, ok := c.byID[id]; ok {
		n.IsRead = true
		c.byID[id] = n
	}
	c.mu.Unlock()
	return nil
}

// MarkAllAsRead marks everything read with a single store call rather
// than one call per notification, then updates the local view.
func (c *Cache) MarkAllAsRead(ctx context.Context) (int64, error) {
	affected, err := c.store.MarkAllNotificationsRead(ctx, c.userID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	for id, n := range c.byID {
		n.IsRead = true
		c.byID[id] = n
	}
	c.mu.Unlock()
	return affected, nil
}

// Delete removes one notification from the store and the view.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteNotification(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return nil
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
