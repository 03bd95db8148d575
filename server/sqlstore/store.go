package sqlstore

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	wirechat "github.com/wirechat/wirechat-go"
	"github.com/wirechat/wirechat-go/server"
)

type SQLStore struct {
	db *sql.DB
}

func New(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		avatar_url TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		is_read BOOLEAN DEFAULT FALSE,
		is_edited BOOLEAN DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair
		ON messages (sender_id, recipient_id, timestamp);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		actor_id TEXT DEFAULT '',
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		related_id TEXT DEFAULT '',
		is_read BOOLEAN DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications (user_id, is_read, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ----------------------------------------------------------------------------
// Messages
// ----------------------------------------------------------------------------

func (s *SQLStore) CreateMessage(m *wirechat.Message) error {
	_, err := s.db.Exec(
		"INSERT INTO messages (id, sender_id, recipient_id, content, timestamp, is_read, is_edited) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.SenderID, m.RecipientID, m.Content, m.Timestamp.UTC(), m.IsRead, m.IsEdited,
	)
	return err
}

func (s *SQLStore) GetMessage(id string) (*wirechat.Message, error) {
	var m wirechat.Message
	var ts time.Time
	err := s.db.QueryRow(
		"SELECT id, sender_id, recipient_id, content, timestamp, is_read, is_edited FROM messages WHERE id = ?", id,
	).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &ts, &m.IsRead, &m.IsEdited)
	if err == sql.ErrNoRows {
		return nil, server.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Timestamp = ts
	return &m, nil
}

func (s *SQLStore) UpdateMessageContent(id, content string) (*wirechat.Message, error) {
	res, err := s.db.Exec("UPDATE messages SET content = ?, is_edited = TRUE WHERE id = ?", content, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, server.ErrNotFound
	}
	return s.GetMessage(id)
}

func (s *SQLStore) DeleteMessage(id string) error {
	res, err := s.db.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return server.ErrNotFound
	}
	return nil
}

func (s *SQLStore) MarkMessageRead(id string) error {
	res, err := s.db.Exec("UPDATE messages SET is_read = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return server.ErrNotFound
	}
	return nil
}

func (s *SQLStore) Conversation(userID, otherUserID string) ([]wirechat.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, recipient_id, content, timestamp, is_read, is_edited
		 FROM messages
		 WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		 ORDER BY timestamp ASC`,
		userID, otherUserID, otherUserID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []wirechat.Message{}
	for rows.Next() {
		var m wirechat.Message
		var ts time.Time
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &ts, &m.IsRead, &m.IsEdited); err != nil {
			return nil, err
		}
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ----------------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------------

func (s *SQLStore) UpsertUser(u *wirechat.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, name, avatar_url) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar_url = excluded.avatar_url`,
		u.ID, u.Name, u.AvatarURL,
	)
	return err
}

func (s *SQLStore) ListUsers() ([]wirechat.User, error) {
	rows, err := s.db.Query("SELECT id, name, avatar_url FROM users ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []wirechat.User{}
	for rows.Next() {
		var u wirechat.User
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ----------------------------------------------------------------------------
// Notifications
// ----------------------------------------------------------------------------

func (s *SQLStore) CreateNotification(n *wirechat.Notification) error {
	_, err := s.db.Exec(
		"INSERT INTO notifications (id, user_id, actor_id, kind, message, related_id, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.UserID, n.ActorID, string(n.Kind), n.Message, n.RelatedID, n.IsRead, n.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) UnreadNotifications(userID string) ([]wirechat.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, actor_id, kind, message, related_id, is_read, created_at
		 FROM notifications
		 WHERE user_id = ? AND is_read = FALSE
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ns := []wirechat.Notification{}
	for rows.Next() {
		var n wirechat.Notification
		var kind string
		var ts time.Time
		if err := rows.Scan(&n.ID, &n.UserID, &n.ActorID, &kind, &n.Message, &n.RelatedID, &n.IsRead, &ts); err != nil {
			return nil, err
		}
		n.Kind = wirechat.NotificationKind(kind)
		n.CreatedAt = ts
		ns = append(ns, n)
	}
	return ns, rows.Err()
}

func (s *SQLStore) MarkNotificationRead(id string) error {
	res, err := s.db.Exec("UPDATE notifications SET is_read = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return server.ErrNotFound
	}
	return nil
}
