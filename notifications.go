package wirechat

import (
	"context"
	"log/slog"
	"sync"
)

// NotificationCenter tracks the user's notification list and unread
// counter, fed by the realtime notification topic and the REST backlog.
//
// All methods are safe for concurrent use.
type NotificationCenter struct {
	mu     sync.RWMutex
	items  []Notification
	unread int

	// OnChange, when set, is invoked after every state change with the
	// new unread count. Called with the lock released.
	OnChange func(unread int)
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{}
}

// LoadBacklog fetches the unread backlog from the server and seeds the
// center with it.
func (nc *NotificationCenter) LoadBacklog(ctx context.Context, client *Client, userID string) error {
	ns, err := client.UnreadNotifications(ctx, userID)
	if err != nil {
		return err
	}
	nc.mu.Lock()
	nc.items = ns
	nc.unread = 0
	for _, n := range ns {
		if !n.IsRead {
			nc.unread++
		}
	}
	unread := nc.unread
	nc.mu.Unlock()
	nc.notify(unread)
	return nil
}

// Receive records a freshly pushed notification. New items go to the
// front, newest first.
func (nc *NotificationCenter) Receive(n Notification) {
	nc.mu.Lock()
	nc.items = append([]Notification{n}, nc.items...)
	if !n.IsRead {
		nc.unread++
	}
	unread := nc.unread
	nc.mu.Unlock()
	nc.notify(unread)
}

// MarkRead flags a notification as read and decrements the unread
// counter. Marking an already-read or unknown notification is a no-op;
// the counter never goes below zero.
func (nc *NotificationCenter) MarkRead(id string) bool {
	nc.mu.Lock()
	var changed bool
	for i := range nc.items {
		if nc.items[i].ID == id && !nc.items[i].IsRead {
			nc.items[i].IsRead = true
			if nc.unread > 0 {
				nc.unread--
			}
			changed = true
			break
		}
	}
	unread := nc.unread
	nc.mu.Unlock()
	if changed {
		nc.notify(unread)
	}
	return changed
}

// MarkReadRemote flags the notification locally, then durably on the
// server. The local change is kept even if the server call fails; the
// error is returned for logging.
func (nc *NotificationCenter) MarkReadRemote(ctx context.Context, client *Client, id string) error {
	if !nc.MarkRead(id) {
		return nil
	}
	if err := client.MarkNotificationRead(ctx, id); err != nil {
		slog.Warn("failed to persist notification read state", "notificationId", id, "error", err)
		return err
	}
	return nil
}

// Unread returns the current unread count.
func (nc *NotificationCenter) Unread() int {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.unread
}

// Notifications returns a copy of the list, newest first.
func (nc *NotificationCenter) Notifications() []Notification {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	out := make([]Notification, len(nc.items))
	copy(out, nc.items)
	return out
}

// Reset empties the center.
func (nc *NotificationCenter) Reset() {
	nc.mu.Lock()
	nc.items = nil
	nc.unread = 0
	nc.mu.Unlock()
	nc.notify(0)
}

func (nc *NotificationCenter) notify(unread int) {
	if nc.OnChange != nil {
		nc.OnChange(unread)
	}
}
