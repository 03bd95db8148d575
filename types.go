package wirechat

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIError is the structured error body returned by the WireChat REST API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wirechat: api error %d: %s", e.Code, e.Message)
}

// PendingStatus tracks the client-local lifecycle of an optimistically
// rendered message.
type PendingStatus int

const (
	// StatusConfirmed marks a message the server has durably stored.
	StatusConfirmed PendingStatus = iota
	// StatusPending marks a provisional message awaiting server confirmation.
	StatusPending
	// StatusCancelled marks a provisional message withdrawn before
	// confirmation arrived.
	StatusCancelled
)

func (s PendingStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("PendingStatus(%d)", int(s))
	}
}

// Message is a direct message between two users.
type Message struct {
	ID          string    `json:"id,omitempty"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"isRead"`
	IsEdited    bool      `json:"isEdited"`

	// Client-local state, never transmitted to the persistence API.
	Pending   PendingStatus `json:"-"`
	IsDeleted bool          `json:"-"`
}

// Provisional reports whether the message carries a client-generated
// identifier that the server has not yet replaced.
func (m *Message) Provisional() bool {
	return m.Pending == StatusPending
}

// User is a chat participant as exposed by the directory endpoint.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// NotificationKind classifies a notification for rendering purposes.
type NotificationKind string

const (
	NotificationLike    NotificationKind = "like"
	NotificationComment NotificationKind = "comment"
	NotificationMessage NotificationKind = "message"
	NotificationOther   NotificationKind = "other"
)

// Notification is an out-of-band alert delivered to a single user.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	ActorID   string           `json:"senderId"`
	Kind      NotificationKind `json:"type"`
	Message   string           `json:"message"`
	RelatedID string           `json:"postId,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Envelope is the frame exchanged over the realtime channel. Topic selects
// the handler; Payload is decoded by topic.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Per-user inbound topics. The server prefixes these with the subscriber's
// user ID, so clients subscribe once per topic after every connect.
const (
	TopicMessageReceived = "message-received"
	TopicReadStatus      = "read-status"
	TopicTyping          = "typing"
	TopicMessageDeleted  = "message-deleted"
	TopicMessageUpdated  = "message-updated"
	TopicTempUpdated     = "temp-updated"
	TopicTempCancelled   = "temp-cancelled"
	TopicNotification    = "notification"
)

// Outbound actions published by clients.
const (
	ActionSend       = "chat.send"
	ActionTyping     = "chat.typing"
	ActionUpdateTemp = "chat.update-temp"
	ActionCancelTemp = "chat.cancel-temp"
)

// TypingSignal reports that a user started or stopped composing a message.
type TypingSignal struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// TempUpdate rewrites the content of a provisional message on the peer's
// side before the durable copy exists.
type TempUpdate struct {
	TempID      string    `json:"tempId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// CancelSignal withdraws a provisional message before confirmation.
type CancelSignal struct {
	TempID      string    `json:"tempId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReadReceipt confirms a message was read by its recipient.
type ReadReceipt struct {
	MessageID   string `json:"messageId"`
	ReaderID    string `json:"readerId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

// DeletedSignal carries the identifier of a durably removed message.
type DeletedSignal struct {
	MessageID string `json:"messageId"`
}
