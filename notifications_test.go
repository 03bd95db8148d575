package wirechat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func makeNotification(id string, read bool) Notification {
	return Notification{
		ID:        id,
		UserID:    "alice",
		ActorID:   "bob",
		Kind:      NotificationMessage,
		Message:   "New message from bob",
		IsRead:    read,
		CreatedAt: time.Now(),
	}
}

func TestNotificationCenterReceive(t *testing.T) {
	nc := NewNotificationCenter()

	nc.Receive(makeNotification("n1", false))
	nc.Receive(makeNotification("n2", false))
	nc.Receive(makeNotification("n3", false))

	if nc.Unread() != 3 {
		t.Fatalf("expected 3 unread, got %d", nc.Unread())
	}
	ns := nc.Notifications()
	if ns[0].ID != "n3" || ns[2].ID != "n1" {
		t.Fatalf("expected newest first, got %v", ns)
	}
}

func TestNotificationCenterMarkRead(t *testing.T) {
	nc := NewNotificationCenter()
	nc.Receive(makeNotification("n1", false))
	nc.Receive(makeNotification("n2", false))
	nc.Receive(makeNotification("n3", false))

	if !nc.MarkRead("n2") {
		t.Fatal("mark read failed")
	}
	if nc.Unread() != 2 {
		t.Fatalf("expected 2 unread, got %d", nc.Unread())
	}

	t.Run("marking again is a no-op", func(t *testing.T) {
		if nc.MarkRead("n2") {
			t.Fatal("second mark read reported a change")
		}
		if nc.Unread() != 2 {
			t.Fatalf("counter moved on idempotent mark: %d", nc.Unread())
		}
	})

	t.Run("unknown ID is a no-op", func(t *testing.T) {
		if nc.MarkRead("missing") {
			t.Fatal("unknown ID reported a change")
		}
	})

	t.Run("counter never goes below zero", func(t *testing.T) {
		nc.MarkRead("n1")
		nc.MarkRead("n3")
		if nc.Unread() != 0 {
			t.Fatalf("expected 0 unread, got %d", nc.Unread())
		}
		nc.MarkRead("n1")
		if nc.Unread() != 0 {
			t.Fatalf("counter went negative: %d", nc.Unread())
		}
	})
}

func TestNotificationCenterOnChange(t *testing.T) {
	nc := NewNotificationCenter()
	var counts []int
	nc.OnChange = func(unread int) { counts = append(counts, unread) }

	nc.Receive(makeNotification("n1", false))
	nc.MarkRead("n1")
	nc.MarkRead("n1")

	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("unexpected change sequence: %v", counts)
	}
}

func TestNotificationCenterReceiveRead(t *testing.T) {
	nc := NewNotificationCenter()
	nc.Receive(makeNotification("n1", true))
	if nc.Unread() != 0 {
		t.Fatalf("read notification bumped the counter: %d", nc.Unread())
	}
}

func TestNotificationCenterLoadBacklog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications/unread" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]Notification{
			makeNotification("n2", false),
			makeNotification("n1", false),
		})
	}))
	defer srv.Close()

	nc := NewNotificationCenter()
	if err := nc.LoadBacklog(context.Background(), NewClient(srv.URL), "alice"); err != nil {
		t.Fatalf("load backlog failed: %v", err)
	}
	if nc.Unread() != 2 {
		t.Fatalf("expected 2 unread, got %d", nc.Unread())
	}

	t.Run("pushes stack on top of the backlog", func(t *testing.T) {
		nc.Receive(makeNotification("n3", false))
		if nc.Unread() != 3 {
			t.Fatalf("expected 3 unread, got %d", nc.Unread())
		}
		if nc.Notifications()[0].ID != "n3" {
			t.Fatal("pushed notification not at the front")
		}
	})

	t.Run("reset clears everything", func(t *testing.T) {
		nc.Reset()
		if nc.Unread() != 0 || len(nc.Notifications()) != 0 {
			t.Fatal("reset left state behind")
		}
	})
}
