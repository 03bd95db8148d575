package server

import (
	"errors"

	wirechat "github.com/wirechat/wirechat-go"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary of the daemon.
type Store interface {
	CreateMessage(m *wirechat.Message) error
	GetMessage(id string) (*wirechat.Message, error)
	UpdateMessageContent(id, content string) (*wirechat.Message, error)
	DeleteMessage(id string) error
	MarkMessageRead(id string) error
	Conversation(userID, otherUserID string) ([]wirechat.Message, error)

	UpsertUser(u *wirechat.User) error
	ListUsers() ([]wirechat.User, error)

	CreateNotification(n *wirechat.Notification) error
	UnreadNotifications(userID string) ([]wirechat.Notification, error)
	MarkNotificationRead(id string) error

	Close() error
}
