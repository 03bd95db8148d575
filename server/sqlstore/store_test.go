package sqlstore

import (
	"errors"
	"testing"
	"time"

	wirechat "github.com/wirechat/wirechat-go"
	"github.com/wirechat/wirechat-go/server"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storeMessage(t *testing.T, s *SQLStore, id, sender, recipient, content string, ts time.Time) {
	t.Helper()
	err := s.CreateMessage(&wirechat.Message{
		ID:          id,
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatalf("create message %s: %v", id, err)
	}
}

// ============================================================================
// Messages
// ============================================================================

func TestMessageLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	storeMessage(t, s, "m1", "alice", "bob", "hello", ts)

	t.Run("get returns stored message", func(t *testing.T) {
		m, err := s.GetMessage("m1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.SenderID != "alice" || m.RecipientID != "bob" || m.Content != "hello" {
			t.Fatalf("unexpected message: %+v", m)
		}
		if !m.Timestamp.Equal(ts) {
			t.Fatalf("timestamp mismatch: %v", m.Timestamp)
		}
		if m.IsRead || m.IsEdited {
			t.Fatal("new message should be unread and unedited")
		}
	})

	t.Run("get absent returns not found", func(t *testing.T) {
		_, err := s.GetMessage("nope")
		if !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update rewrites content and flags edit", func(t *testing.T) {
		m, err := s.UpdateMessageContent("m1", "hello again")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Content != "hello again" || !m.IsEdited {
			t.Fatalf("unexpected message after edit: %+v", m)
		}
	})

	t.Run("update absent returns not found", func(t *testing.T) {
		_, err := s.UpdateMessageContent("nope", "x")
		if !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("mark read", func(t *testing.T) {
		if err := s.MarkMessageRead("m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, _ := s.GetMessage("m1")
		if !m.IsRead {
			t.Fatal("message should be read")
		}
	})

	t.Run("mark read absent returns not found", func(t *testing.T) {
		if err := s.MarkMessageRead("nope"); !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete removes the row", func(t *testing.T) {
		if err := s.DeleteMessage("m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := s.GetMessage("m1"); !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("delete absent returns not found", func(t *testing.T) {
		if err := s.DeleteMessage("m1"); !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConversation(t *testing.T) {
	s := setupTestStore(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	storeMessage(t, s, "m3", "alice", "bob", "third", base.Add(2*time.Minute))
	storeMessage(t, s, "m1", "alice", "bob", "first", base)
	storeMessage(t, s, "m2", "bob", "alice", "second", base.Add(time.Minute))
	storeMessage(t, s, "other", "alice", "carol", "elsewhere", base)

	t.Run("ordered chronologically across both directions", func(t *testing.T) {
		msgs, err := s.Conversation("alice", "bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		for i, want := range []string{"m1", "m2", "m3"} {
			if msgs[i].ID != want {
				t.Fatalf("position %d: expected %s, got %s", i, want, msgs[i].ID)
			}
		}
	})

	t.Run("symmetric for either participant order", func(t *testing.T) {
		msgs, err := s.Conversation("bob", "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
	})

	t.Run("empty conversation returns empty slice", func(t *testing.T) {
		msgs, err := s.Conversation("dave", "erin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 0 {
			t.Fatalf("expected no messages, got %d", len(msgs))
		}
	})
}

// ============================================================================
// Users
// ============================================================================

func TestUpsertUser(t *testing.T) {
	s := setupTestStore(t)

	if err := s.UpsertUser(&wirechat.User{ID: "u1", Name: "Zed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpsertUser(&wirechat.User{ID: "u2", Name: "Alice", AvatarURL: "http://img/a.png"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("listed sorted by name", func(t *testing.T) {
		users, err := s.ListUsers()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(users) != 2 || users[0].Name != "Alice" || users[1].Name != "Zed" {
			t.Fatalf("unexpected users: %+v", users)
		}
	})

	t.Run("upsert overwrites existing row", func(t *testing.T) {
		if err := s.UpsertUser(&wirechat.User{ID: "u1", Name: "Zoe", AvatarURL: "http://img/z.png"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		users, _ := s.ListUsers()
		if len(users) != 2 {
			t.Fatalf("upsert should not add a row, got %d users", len(users))
		}
		if users[1].Name != "Zoe" || users[1].AvatarURL != "http://img/z.png" {
			t.Fatalf("unexpected user after upsert: %+v", users[1])
		}
	})
}

// ============================================================================
// Notifications
// ============================================================================

func TestNotifications(t *testing.T) {
	s := setupTestStore(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	add := func(id string, read bool, at time.Time) {
		t.Helper()
		err := s.CreateNotification(&wirechat.Notification{
			ID:        id,
			UserID:    "alice",
			ActorID:   "bob",
			Kind:      wirechat.NotificationMessage,
			Message:   "sent you a message",
			IsRead:    read,
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("create notification %s: %v", id, err)
		}
	}
	add("n1", false, base)
	add("n2", false, base.Add(time.Minute))
	add("n3", true, base.Add(2*time.Minute))

	t.Run("unread newest first", func(t *testing.T) {
		ns, err := s.UnreadNotifications("alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ns) != 2 {
			t.Fatalf("expected 2 unread, got %d", len(ns))
		}
		if ns[0].ID != "n2" || ns[1].ID != "n1" {
			t.Fatalf("unexpected order: %s, %s", ns[0].ID, ns[1].ID)
		}
		if ns[0].Kind != wirechat.NotificationMessage {
			t.Fatalf("unexpected kind: %s", ns[0].Kind)
		}
	})

	t.Run("other users see nothing", func(t *testing.T) {
		ns, err := s.UnreadNotifications("bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ns) != 0 {
			t.Fatalf("expected no notifications, got %d", len(ns))
		}
	})

	t.Run("mark read removes from unread", func(t *testing.T) {
		if err := s.MarkNotificationRead("n2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ns, _ := s.UnreadNotifications("alice")
		if len(ns) != 1 || ns[0].ID != "n1" {
			t.Fatalf("unexpected unread set: %+v", ns)
		}
	})

	t.Run("mark read absent returns not found", func(t *testing.T) {
		if err := s.MarkNotificationRead("nope"); !errors.Is(err, server.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
