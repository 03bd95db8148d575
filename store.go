package wirechat

import (
	"sort"
	"sync"
	"time"
)

// ConversationStore holds the in-memory view of a single conversation:
// the ordered message list the UI renders, including provisional entries
// the server has not confirmed yet.
//
// All methods are safe for concurrent use.
type ConversationStore struct {
	mu   sync.RWMutex
	msgs []Message
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Load replaces the entire view with a server snapshot, oldest first.
func (s *ConversationStore) Load(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = make([]Message, len(msgs))
	copy(s.msgs, msgs)
}

// Append adds a message to the end of the view. Appending a message whose
// ID is already present is a no-op, so duplicate deliveries are harmless.
func (s *ConversationStore) Append(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID != "" && s.indexLocked(msg.ID) >= 0 {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

// Replace overwrites the message with the given ID in place. Returns false
// if no such message exists.
func (s *ConversationStore) Replace(id string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs[i] = msg
	return true
}

// Promote swaps a provisional entry for its durable copy, keeping the
// entry's position in the view. Returns false if the provisional ID is
// no longer present.
func (s *ConversationStore) Promote(tempID string, durable Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(tempID)
	if i < 0 {
		return false
	}
	durable.Pending = StatusConfirmed
	s.msgs[i] = durable
	return true
}

// Remove deletes the message with the given ID. Removing an absent ID is
// a no-op.
func (s *ConversationStore) Remove(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Message{}, false
	}
	removed := s.msgs[i]
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return removed, true
}

// Insert puts a message back into the view at its timestamp position.
// Used to undo an optimistic removal after the server rejects the delete.
func (s *ConversationStore) Insert(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID != "" && s.indexLocked(msg.ID) >= 0 {
		return
	}
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].Timestamp.After(msg.Timestamp)
	})
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = msg
}

// MarkRead flags the message with the given ID as read.
func (s *ConversationStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs[i].IsRead = true
	return true
}

// MarkAllReadFrom flags every message sent by the given user as read.
// Returns the IDs that changed state.
func (s *ConversationStore) MarkAllReadFrom(senderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for i := range s.msgs {
		if s.msgs[i].SenderID == senderID && !s.msgs[i].IsRead && s.msgs[i].Pending == StatusConfirmed {
			s.msgs[i].IsRead = true
			changed = append(changed, s.msgs[i].ID)
		}
	}
	return changed
}

// Get returns a copy of the message with the given ID.
func (s *ConversationStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Message{}, false
	}
	return s.msgs[i], true
}

// Messages returns a copy of the current view, in order.
func (s *ConversationStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the view.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Reset empties the view.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

func (s *ConversationStore) indexLocked(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// matchKey builds the fallback correlation key used to pair a provisional
// message with its echoed durable copy when the temp ID mapping is
// unavailable. Timestamps are rounded to the second, matching the
// precision the server stores.
func matchKey(senderID, content string, ts time.Time) string {
	return senderID + "\x00" + content + "\x00" + ts.UTC().Truncate(time.Second).Format(time.RFC3339)
}
