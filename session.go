package wirechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Configuration
// ============================================================================

// SessionConfig configures a conversation session.
type SessionConfig struct {
	// UserID is the local participant. Required.
	UserID string
	// PeerID is the counterpart. Required.
	PeerID string
	Token  string

	// TypingDebounce is the quiet window after the last keystroke before
	// the stopped-typing signal goes out.
	TypingDebounce time.Duration
	// TypingIdle is how long an inbound typing indicator stays lit
	// without renewal.
	TypingIdle time.Duration
	// CancelTTL bounds how long a cancellation marker can suppress a
	// late echo of a withdrawn message.
	CancelTTL time.Duration
	// ReconnectDelay is passed through to the realtime channel.
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

func (c *SessionConfig) defaults() {
	if c.TypingDebounce == 0 {
		c.TypingDebounce = 500 * time.Millisecond
	}
	if c.TypingIdle == 0 {
		c.TypingIdle = 3 * time.Second
	}
	if c.CancelTTL == 0 {
		c.CancelTTL = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// publisher is the outbound half of the realtime channel. Satisfied by
// *RealtimeClient.
type publisher interface {
	Publish(ctx context.Context, action string, payload interface{}) error
}

// ============================================================================
// Session
// ============================================================================

// Session is a live view of one conversation. It owns the optimistic
// message lifecycle: sends render immediately under a provisional ID,
// confirmations swap in the durable copy without moving the entry, and
// edits or deletes issued before confirmation converge once the create
// call lands. Cancelling a provisional message wins every race with its
// own confirmation.
type Session struct {
	client *Client
	config *SessionConfig
	log    *slog.Logger

	store         *ConversationStore
	notifications *NotificationCenter
	rt            *RealtimeClient
	pub           publisher

	mu sync.Mutex
	// confirmed maps provisional IDs to the durable ID returned by the
	// create call. Primary correlation path for echoes.
	confirmed map[string]string
	// tempByKey maps the content matching key to a provisional ID.
	// Fallback correlation for echoes that race the create response.
	tempByKey map[string]string
	// cancelled holds provisional IDs withdrawn before confirmation.
	cancelled map[string]bool
	// cancelKeys maps matching keys of withdrawn messages to the marker
	// expiry. Late echoes matching an unexpired marker are suppressed.
	cancelKeys map[string]time.Time
	// suppressed holds durable IDs whose echo must not be rendered
	// because the message was cancelled after its create landed.
	suppressed map[string]bool

	typingActive bool
	typingStop   *time.Timer
	peerTyping   bool
	peerClear    *time.Timer

	// OnChange, when set, fires after every change to the conversation
	// view. OnPeerTyping fires when the counterpart's typing indicator
	// flips.
	OnChange     func()
	OnPeerTyping func(typing bool)
}

// NewSession creates a session for the conversation between
// config.UserID and config.PeerID. Call Start to go live.
func NewSession(client *Client, config *SessionConfig) *Session {
	cfg := *config
	cfg.defaults()
	return &Session{
		client:        client,
		config:        &cfg,
		log:           cfg.Logger,
		store:         NewConversationStore(),
		notifications: NewNotificationCenter(),
		confirmed:     make(map[string]string),
		tempByKey:     make(map[string]string),
		cancelled:     make(map[string]bool),
		cancelKeys:    make(map[string]time.Time),
		suppressed:    make(map[string]bool),
	}
}

// Store exposes the conversation view for rendering.
func (s *Session) Store() *ConversationStore {
	return s.store
}

// Notifications exposes the user's notification center. It is fed by the
// notification topic while the session is live and reseeded from the
// unread backlog on every connect.
func (s *Session) Notifications() *NotificationCenter {
	return s.notifications
}

// Start connects the realtime channel, subscribes the user's topics, and
// loads the conversation snapshot. Reconnects re-run the snapshot fetch,
// since nothing delivered while disconnected is replayed.
func (s *Session) Start(ctx context.Context) error {
	if s.config.UserID == "" || s.config.PeerID == "" {
		return errors.New("wirechat: session requires user and peer IDs")
	}

	rt := NewRealtime(s.client, &RealtimeConfig{
		UserID:         s.config.UserID,
		Token:          s.config.Token,
		AutoReconnect:  true,
		ReconnectDelay: s.config.ReconnectDelay,
		Logger:         s.log,
	})
	rt.OnMessage(s.handleIncoming)
	rt.OnReadStatus(s.handleReadStatus)
	rt.OnTyping(s.handleTyping)
	rt.OnMessageDeleted(s.handleDeleted)
	rt.OnMessageUpdated(s.handleUpdated)
	rt.OnTempUpdated(s.handleTempUpdated)
	rt.OnTempCancelled(s.handleTempCancelled)
	rt.OnNotification(s.notifications.Receive)
	rt.OnConnected(func() {
		go func() {
			if err := s.Open(context.Background()); err != nil {
				s.log.Warn("snapshot refresh failed", "error", err)
			}
		}()
	})

	s.rt = rt
	s.pub = rt
	return rt.Connect(ctx)
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.typingStop != nil {
		s.typingStop.Stop()
	}
	if s.peerClear != nil {
		s.peerClear.Stop()
	}
	s.mu.Unlock()

	if s.rt != nil {
		return s.rt.Disconnect()
	}
	return nil
}

// Open replaces the view with the server's snapshots: the conversation
// history and the unread notification backlog. Unread inbound messages
// are marked read.
func (s *Session) Open(ctx context.Context) error {
	msgs, err := s.client.Conversation(ctx, s.config.UserID, s.config.PeerID)
	if err != nil {
		return err
	}
	s.store.Load(msgs)

	for _, m := range msgs {
		if m.RecipientID == s.config.UserID && !m.IsRead {
			s.store.MarkRead(m.ID)
			s.markReadRemote(m.ID)
		}
	}
	s.emitChange()

	if err := s.notifications.LoadBacklog(ctx, s.client, s.config.UserID); err != nil {
		s.log.Warn("notification backlog fetch failed", "error", err)
	}
	return nil
}

// ============================================================================
// Outbound operations
// ============================================================================

// Send renders the message immediately under a provisional ID, persists
// it, swaps in the durable copy, and broadcasts it to the counterpart.
// On persistence failure the provisional entry is removed and the error
// returned; there is no retry.
func (s *Session) Send(ctx context.Context, content string) (*Message, error) {
	if s.config.UserID == "" || s.config.PeerID == "" {
		return nil, errors.New("wirechat: send requires user and peer IDs")
	}

	temp := Message{
		ID:          "temp-" + uuid.NewString(),
		SenderID:    s.config.UserID,
		RecipientID: s.config.PeerID,
		Content:     content,
		Timestamp:   time.Now(),
		Pending:     StatusPending,
	}

	s.mu.Lock()
	s.tempByKey[matchKey(temp.SenderID, temp.Content, temp.Timestamp)] = temp.ID
	s.mu.Unlock()

	s.store.Append(temp)
	s.emitChange()

	durable, err := s.client.CreateMessage(ctx, &temp)
	if err != nil {
		s.store.Remove(temp.ID)
		s.mu.Lock()
		delete(s.tempByKey, matchKey(temp.SenderID, temp.Content, temp.Timestamp))
		s.mu.Unlock()
		s.emitChange()
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.mu.Lock()
	s.confirmed[temp.ID] = durable.ID
	wasCancelled := s.cancelled[temp.ID]
	if wasCancelled {
		s.suppressed[durable.ID] = true
	}
	s.mu.Unlock()

	if wasCancelled {
		// Withdrawn while the create was in flight. The stored copy must
		// not survive.
		if err := s.client.DeleteMessage(ctx, durable.ID); err != nil {
			s.log.Warn("compensating delete failed", "messageId", durable.ID, "error", err)
		}
		durable.Pending = StatusCancelled
		return durable, nil
	}

	// An edit issued while the create was in flight leaves the local
	// entry newer than the durable copy. Converge through a durable edit.
	local, hadLocal := s.store.Get(temp.ID)
	s.store.Promote(temp.ID, *durable)
	if hadLocal && local.Content != durable.Content {
		updated, err := s.client.EditMessage(ctx, durable.ID, local.Content)
		if err != nil {
			s.log.Warn("convergence edit failed", "messageId", durable.ID, "error", err)
		} else {
			s.store.Replace(durable.ID, *updated)
		}
	}
	s.emitChange()

	if err := s.publish(ctx, ActionSend, durable); err != nil {
		s.log.Warn("broadcast failed, message persisted", "messageId", durable.ID, "error", err)
	}
	return durable, nil
}

// Edit rewrites a message. Provisional messages are rewritten locally and
// announced with a temp update; the durable edit happens once the create
// confirms. Confirmed messages go straight to the server.
func (s *Session) Edit(ctx context.Context, id, content string) error {
	m, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("wirechat: edit: message %s not found", id)
	}

	if m.Provisional() {
		m.Content = content
		m.IsEdited = true
		s.store.Replace(id, m)
		s.emitChange()

		if err := s.publish(ctx, ActionUpdateTemp, TempUpdate{
			TempID:      id,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Content:     content,
			Timestamp:   m.Timestamp,
		}); err != nil {
			s.log.Warn("temp update broadcast failed", "tempId", id, "error", err)
		}
		return nil
	}

	updated, err := s.client.EditMessage(ctx, id, content)
	if err != nil {
		return err
	}
	s.store.Replace(id, *updated)
	s.emitChange()
	return nil
}

// Delete removes a message. Deleting a provisional message leaves a
// cancellation marker so a racing confirmation or late echo cannot bring
// it back. Deleting a confirmed message is optimistic; a failed server
// delete puts the entry back.
func (s *Session) Delete(ctx context.Context, id string) error {
	m, ok := s.store.Get(id)
	if !ok {
		return nil
	}

	if m.Provisional() {
		s.store.Remove(id)
		s.mu.Lock()
		s.cancelled[id] = true
		s.cancelKeys[matchKey(m.SenderID, m.Content, m.Timestamp)] = time.Now().Add(s.config.CancelTTL)
		durableID, landed := s.confirmed[id]
		if landed {
			s.suppressed[durableID] = true
		}
		s.mu.Unlock()
		s.emitChange()

		if landed {
			if err := s.client.DeleteMessage(ctx, durableID); err != nil {
				s.log.Warn("compensating delete failed", "messageId", durableID, "error", err)
			}
		}
		if err := s.publish(ctx, ActionCancelTemp, CancelSignal{
			TempID:      id,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Timestamp:   m.Timestamp,
		}); err != nil {
			s.log.Warn("cancel broadcast failed", "tempId", id, "error", err)
		}
		return nil
	}

	s.store.Remove(id)
	s.emitChange()
	if err := s.client.DeleteMessage(ctx, id); err != nil {
		s.store.Insert(m)
		s.emitChange()
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Typing reports a keystroke. The started signal goes out at once; the
// stopped signal follows after the configured quiet window, pushed back
// by every further keystroke.
func (s *Session) Typing(ctx context.Context) {
	s.mu.Lock()
	start := !s.typingActive
	s.typingActive = true
	if s.typingStop != nil {
		s.typingStop.Stop()
	}
	s.typingStop = time.AfterFunc(s.config.TypingDebounce, s.stopTyping)
	s.mu.Unlock()

	if start {
		s.publishTyping(ctx, true)
	}
}

func (s *Session) stopTyping() {
	s.mu.Lock()
	active := s.typingActive
	s.typingActive = false
	s.mu.Unlock()
	if active {
		s.publishTyping(context.Background(), false)
	}
}

func (s *Session) publishTyping(ctx context.Context, typing bool) {
	err := s.publish(ctx, ActionTyping, TypingSignal{
		SenderID:    s.config.UserID,
		RecipientID: s.config.PeerID,
		IsTyping:    typing,
	})
	if err != nil {
		s.log.Debug("typing signal failed", "error", err)
	}
}

// PeerTyping reports whether the counterpart is currently typing.
func (s *Session) PeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTyping
}

// ============================================================================
// Inbound handlers
// ============================================================================

func (s *Session) inConversation(senderID, recipientID string) bool {
	return (senderID == s.config.UserID && recipientID == s.config.PeerID) ||
		(senderID == s.config.PeerID && recipientID == s.config.UserID)
}

// handleIncoming reconciles a delivered message against the local view:
// suppressed if a cancellation marker matches, swapped in for a matching
// provisional entry, refreshed if already present, appended otherwise.
func (s *Session) handleIncoming(msg Message) {
	if !s.inConversation(msg.SenderID, msg.RecipientID) {
		return
	}

	key := matchKey(msg.SenderID, msg.Content, msg.Timestamp)

	s.mu.Lock()
	if s.suppressed[msg.ID] {
		delete(s.suppressed, msg.ID)
		s.mu.Unlock()
		return
	}
	if expiry, ok := s.cancelKeys[key]; ok {
		delete(s.cancelKeys, key)
		if time.Now().Before(expiry) {
			s.mu.Unlock()
			// The message was withdrawn before this copy arrived. If it
			// reached durable storage anyway, take it back out.
			if !strings.HasPrefix(msg.ID, "temp-") {
				if err := s.client.DeleteMessage(context.Background(), msg.ID); err != nil {
					s.log.Warn("compensating delete failed", "messageId", msg.ID, "error", err)
				}
			}
			return
		}
	}
	tempID := ""
	for t, d := range s.confirmed {
		if d == msg.ID {
			tempID = t
			break
		}
	}
	if tempID == "" {
		if t, ok := s.tempByKey[key]; ok {
			tempID = t
			delete(s.tempByKey, key)
		}
	}
	s.mu.Unlock()

	switch {
	case tempID != "" && s.store.Promote(tempID, msg):
	case s.store.Replace(msg.ID, msg):
	default:
		s.store.Append(msg)
		if msg.RecipientID == s.config.UserID && !msg.IsRead {
			s.store.MarkRead(msg.ID)
			s.markReadRemote(msg.ID)
		}
	}
	s.emitChange()
}

func (s *Session) handleReadStatus(r ReadReceipt) {
	if s.store.MarkRead(r.MessageID) {
		s.emitChange()
	}
}

func (s *Session) handleDeleted(d DeletedSignal) {
	if _, ok := s.store.Remove(d.MessageID); ok {
		s.emitChange()
	}
}

func (s *Session) handleUpdated(msg Message) {
	if !s.inConversation(msg.SenderID, msg.RecipientID) {
		return
	}
	if s.store.Replace(msg.ID, msg) {
		s.emitChange()
	}
}

// handleTempUpdated applies a content rewrite announced for a provisional
// message, from the counterpart or another tab of the same user. If the
// entry was already promoted, the durable copy is rewritten instead.
func (s *Session) handleTempUpdated(tu TempUpdate) {
	if !s.inConversation(tu.SenderID, tu.RecipientID) {
		return
	}

	id := tu.TempID
	if _, ok := s.store.Get(id); !ok {
		s.mu.Lock()
		durableID, landed := s.confirmed[tu.TempID]
		s.mu.Unlock()
		if !landed {
			return
		}
		id = durableID
	}

	m, ok := s.store.Get(id)
	if !ok {
		return
	}
	m.Content = tu.Content
	m.IsEdited = true
	s.store.Replace(id, m)
	s.emitChange()
}

// handleTempCancelled withdraws a provisional message and leaves a
// cancellation marker so its durable echo, should one land later, is
// suppressed and compensated.
func (s *Session) handleTempCancelled(cs CancelSignal) {
	if !s.inConversation(cs.SenderID, cs.RecipientID) {
		return
	}

	m, ok := s.store.Get(cs.TempID)

	s.mu.Lock()
	s.cancelled[cs.TempID] = true
	if ok {
		s.cancelKeys[matchKey(m.SenderID, m.Content, m.Timestamp)] = time.Now().Add(s.config.CancelTTL)
	}
	durableID, landed := s.confirmed[cs.TempID]
	if landed {
		s.suppressed[durableID] = true
	}
	s.mu.Unlock()

	if ok {
		s.store.Remove(cs.TempID)
		s.emitChange()
	}
	if landed {
		if err := s.client.DeleteMessage(context.Background(), durableID); err != nil {
			s.log.Warn("compensating delete failed", "messageId", durableID, "error", err)
		}
	}
}

// handleTyping lights the counterpart's typing indicator and arms the
// idle timer. Renewals push the timer back; an explicit stop clears
// immediately.
func (s *Session) handleTyping(ts TypingSignal) {
	if ts.SenderID != s.config.PeerID {
		return
	}

	s.mu.Lock()
	changed := false
	if ts.IsTyping {
		if !s.peerTyping {
			s.peerTyping = true
			changed = true
		}
		if s.peerClear != nil {
			s.peerClear.Stop()
		}
		s.peerClear = time.AfterFunc(s.config.TypingIdle, s.clearPeerTyping)
	} else {
		if s.peerClear != nil {
			s.peerClear.Stop()
		}
		if s.peerTyping {
			s.peerTyping = false
			changed = true
		}
	}
	s.mu.Unlock()

	if changed && s.OnPeerTyping != nil {
		s.OnPeerTyping(ts.IsTyping)
	}
}

func (s *Session) clearPeerTyping() {
	s.mu.Lock()
	changed := s.peerTyping
	s.peerTyping = false
	s.mu.Unlock()
	if changed && s.OnPeerTyping != nil {
		s.OnPeerTyping(false)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Session) publish(ctx context.Context, action string, payload interface{}) error {
	if s.pub == nil {
		return errors.New("wirechat: realtime channel not started")
	}
	return s.pub.Publish(ctx, action, payload)
}

func (s *Session) markReadRemote(id string) {
	go func() {
		if err := s.client.MarkMessageRead(context.Background(), id); err != nil {
			s.log.Warn("failed to persist read state", "messageId", id, "error", err)
		}
	}()
}

func (s *Session) emitChange() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
