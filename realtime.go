package wirechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime channel client.
type RealtimeConfig struct {
	// UserID selects the per-user topics to subscribe to. Required.
	UserID string
	// Token is sent as a query parameter on the dial URL.
	Token string
	// AutoReconnect retries a dropped connection after ReconnectDelay.
	// At most one retry is pending at any time.
	AutoReconnect  bool
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConnState represents the channel connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// subscribedTopics is the full per-user topic set. The client subscribes
// from scratch on every connect; nothing survives a dropped connection.
var subscribedTopics = []string{
	TopicMessageReceived,
	TopicReadStatus,
	TopicTyping,
	TopicMessageDeleted,
	TopicMessageUpdated,
	TopicTempUpdated,
	TopicTempCancelled,
	TopicNotification,
}

// Command is a client-to-server frame.
type Command struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// ============================================================================
// Topic Dispatcher
// ============================================================================

type topicDispatcher struct {
	mu              sync.RWMutex
	onMessage       []func(Message)
	onReadStatus    []func(ReadReceipt)
	onTyping        []func(TypingSignal)
	onDeleted       []func(DeletedSignal)
	onUpdated       []func(Message)
	onTempUpdated   []func(TempUpdate)
	onTempCancelled []func(CancelSignal)
	onNotification  []func(Notification)
	onConnected     []func()
	onDisconnected  []func(reason string)
	onReconnecting  []func(delay time.Duration)
}

// dispatch routes one inbound frame to its topic handlers. Handlers run
// on the caller's goroutine so frames are observed in arrival order.
func (d *topicDispatcher) dispatch(env Envelope, log *slog.Logger) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Topic {
	case TopicMessageReceived:
		var p Message
		if decodePayload(env, &p, log) {
			for _, h := range d.onMessage {
				h(p)
			}
		}
	case TopicReadStatus:
		var p ReadReceipt
		if decodePayload(env, &p, log) {
			for _, h := range d.onReadStatus {
				h(p)
			}
		}
	case TopicTyping:
		var p TypingSignal
		if decodePayload(env, &p, log) {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case TopicMessageDeleted:
		var p DeletedSignal
		if decodePayload(env, &p, log) {
			for _, h := range d.onDeleted {
				h(p)
			}
		}
	case TopicMessageUpdated:
		var p Message
		if decodePayload(env, &p, log) {
			for _, h := range d.onUpdated {
				h(p)
			}
		}
	case TopicTempUpdated:
		var p TempUpdate
		if decodePayload(env, &p, log) {
			for _, h := range d.onTempUpdated {
				h(p)
			}
		}
	case TopicTempCancelled:
		var p CancelSignal
		if decodePayload(env, &p, log) {
			for _, h := range d.onTempCancelled {
				h(p)
			}
		}
	case TopicNotification:
		var p Notification
		if decodePayload(env, &p, log) {
			for _, h := range d.onNotification {
				h(p)
			}
		}
	default:
		log.Debug("ignoring frame for unknown topic", "topic", env.Topic)
	}
}

func decodePayload(env Envelope, out interface{}, log *slog.Logger) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		log.Warn("dropping frame with malformed payload", "topic", env.Topic, "error", err)
		return false
	}
	return true
}

func (d *topicDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *topicDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *topicDispatcher) emitReconnecting(delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(delay)
	}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient maintains the websocket channel to the server, subscribes
// to the user's topics on every connect, and routes inbound frames to
// registered handlers in arrival order.
type RealtimeClient struct {
	wsURL  string
	config *RealtimeConfig
	log    *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	reconnectArmed   bool
	cancelFn         context.CancelFunc

	dispatcher *topicDispatcher
}

// NewRealtime creates a realtime channel client for the given client's
// server. Call Connect to establish the channel.
func NewRealtime(client *Client, config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		wsURL:      client.WSURL(),
		config:     &cfg,
		log:        cfg.Logger,
		state:      StateDisconnected,
		dispatcher: &topicDispatcher{},
	}
}

// OnMessage registers a handler for incoming messages.
func (rc *RealtimeClient) OnMessage(h func(Message)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onMessage = append(rc.dispatcher.onMessage, h)
	rc.dispatcher.mu.Unlock()
}

// OnReadStatus registers a handler for read receipts.
func (rc *RealtimeClient) OnReadStatus(h func(ReadReceipt)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onReadStatus = append(rc.dispatcher.onReadStatus, h)
	rc.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for typing signals.
func (rc *RealtimeClient) OnTyping(h func(TypingSignal)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onTyping = append(rc.dispatcher.onTyping, h)
	rc.dispatcher.mu.Unlock()
}

// OnMessageDeleted registers a handler for message removals.
func (rc *RealtimeClient) OnMessageDeleted(h func(DeletedSignal)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onDeleted = append(rc.dispatcher.onDeleted, h)
	rc.dispatcher.mu.Unlock()
}

// OnMessageUpdated registers a handler for message edits.
func (rc *RealtimeClient) OnMessageUpdated(h func(Message)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onUpdated = append(rc.dispatcher.onUpdated, h)
	rc.dispatcher.mu.Unlock()
}

// OnTempUpdated registers a handler for provisional message rewrites.
func (rc *RealtimeClient) OnTempUpdated(h func(TempUpdate)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onTempUpdated = append(rc.dispatcher.onTempUpdated, h)
	rc.dispatcher.mu.Unlock()
}

// OnTempCancelled registers a handler for provisional message withdrawals.
func (rc *RealtimeClient) OnTempCancelled(h func(CancelSignal)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onTempCancelled = append(rc.dispatcher.onTempCancelled, h)
	rc.dispatcher.mu.Unlock()
}

// OnNotification registers a handler for pushed notifications.
func (rc *RealtimeClient) OnNotification(h func(Notification)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onNotification = append(rc.dispatcher.onNotification, h)
	rc.dispatcher.mu.Unlock()
}

// OnConnected registers a handler invoked after every successful connect,
// including reconnects. Snapshot refresh belongs here.
func (rc *RealtimeClient) OnConnected(h func()) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onConnected = append(rc.dispatcher.onConnected, h)
	rc.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for unexpected connection loss.
func (rc *RealtimeClient) OnDisconnected(h func(reason string)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onDisconnected = append(rc.dispatcher.onDisconnected, h)
	rc.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler invoked when a retry is scheduled.
func (rc *RealtimeClient) OnReconnecting(h func(delay time.Duration)) {
	rc.dispatcher.mu.Lock()
	rc.dispatcher.onReconnecting = append(rc.dispatcher.onReconnecting, h)
	rc.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rc *RealtimeClient) State() ConnState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Connect establishes the channel and subscribes to the user's topics.
// Connecting without a user ID fails immediately; the server has no
// anonymous topics to offer.
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	if rc.config.UserID == "" {
		rc.log.Error("cannot connect realtime channel without a user id")
		return errors.New("wirechat: realtime: user id required")
	}

	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.mu.Unlock()

	u := rc.wsURL + "?userId=" + url.QueryEscape(rc.config.UserID)
	if rc.config.Token != "" {
		u += "&token=" + url.QueryEscape(rc.config.Token)
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		rc.mu.Lock()
		rc.state = StateDisconnected
		rc.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// Topic subscriptions never survive a dropped connection, so every
	// connect subscribes the full set.
	sub := Command{
		Action: "subscribe",
		Payload: map[string]interface{}{
			"userId": rc.config.UserID,
			"topics": subscribedTopics,
		},
	}
	data, _ := json.Marshal(sub)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.mu.Lock()
		rc.state = StateDisconnected
		rc.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.cancelFn = cancel
	rc.mu.Unlock()

	rc.log.Info("realtime channel connected", "userId", rc.config.UserID)
	rc.dispatcher.emitConnected()

	go rc.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the channel and suppresses any pending reconnect.
// Disconnecting an already-closed client is a no-op.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	already := rc.state == StateDisconnected && conn == nil
	rc.state = StateDisconnected
	rc.mu.Unlock()

	if already {
		return nil
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Publish sends an action frame to the server.
func (rc *RealtimeClient) Publish(ctx context.Context, action string, payload interface{}) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()

	if conn == nil {
		return errors.New("wirechat: realtime: not connected")
	}

	data, err := json.Marshal(Command{Action: action, Payload: payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop consumes frames until the connection drops. Dispatch is
// synchronous: a frame's handlers finish before the next frame is read,
// which keeps delivery in arrival order.
func (rc *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.mu.Lock()
			intentional := rc.intentionalClose
			rc.state = StateDisconnected
			if rc.conn == conn {
				rc.conn = nil
			}
			rc.mu.Unlock()

			if intentional {
				return
			}

			rc.log.Warn("realtime channel lost", "error", err)
			rc.dispatcher.emitDisconnected(err.Error())

			if rc.config.AutoReconnect {
				rc.armReconnect()
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			rc.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		rc.dispatcher.dispatch(env, rc.log)
	}
}

// armReconnect schedules a single retry after the fixed delay. If a retry
// is already pending, the drop is absorbed; retries never stack.
func (rc *RealtimeClient) armReconnect() {
	rc.mu.Lock()
	if rc.reconnectArmed || rc.intentionalClose {
		rc.mu.Unlock()
		return
	}
	rc.reconnectArmed = true
	rc.state = StateReconnecting
	delay := rc.config.ReconnectDelay
	rc.mu.Unlock()

	rc.dispatcher.emitReconnecting(delay)

	time.AfterFunc(delay, func() {
		rc.mu.Lock()
		rc.reconnectArmed = false
		closed := rc.intentionalClose
		rc.mu.Unlock()
		if closed {
			return
		}

		if err := rc.Connect(context.Background()); err != nil {
			rc.log.Warn("reconnect attempt failed", "error", err)
			rc.armReconnect()
		}
	})
}
