package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	wirechat "github.com/wirechat/wirechat-go"
)

// Handlers implements the REST persistence API and fans resulting events
// out through the hub.
type Handlers struct {
	store   Store
	hub     *Hub
	log     *slog.Logger
	metrics *Metrics

	webhookURL    string
	webhookSecret string
	httpClient    *http.Client
}

func NewHandlers(store Store, hub *Hub, cfg *Config, log *slog.Logger, metrics *Metrics) *Handlers {
	return &Handlers{
		store:         store,
		hub:           hub,
		log:           log,
		metrics:       metrics,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Register mounts the API routes on the /api subrouter.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/messages", h.createMessage).Methods("POST")
	r.HandleFunc("/messages/conversation", h.conversation).Methods("GET")
	r.HandleFunc("/messages/read/{id}", h.markMessageRead).Methods("PUT")
	r.HandleFunc("/messages/{id}", h.editMessage).Methods("PUT")
	r.HandleFunc("/messages/{id}", h.deleteMessage).Methods("DELETE")
	r.HandleFunc("/users", h.listUsers).Methods("GET")
	r.HandleFunc("/users", h.upsertUser).Methods("POST")
	r.HandleFunc("/notifications", h.createNotification).Methods("POST")
	r.HandleFunc("/notifications/unread", h.unreadNotifications).Methods("GET")
	r.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods("POST")
}

// ----------------------------------------------------------------------------
// Messages
// ----------------------------------------------------------------------------

func (h *Handlers) createMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SenderID    string    `json:"senderId"`
		RecipientID string    `json:"recipientId"`
		Content     string    `json:"content"`
		Timestamp   time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.SenderID == "" || in.RecipientID == "" {
		h.writeError(w, http.StatusBadRequest, "senderId and recipientId are required")
		return
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	m := wirechat.Message{
		ID:          uuid.NewString(),
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Content:     in.Content,
		Timestamp:   in.Timestamp,
	}
	if err := h.store.CreateMessage(&m); err != nil {
		h.log.Error("failed to store message", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	h.metrics.MessagesStored.Inc()
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *Handlers) editMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.store.UpdateMessageContent(id, in.Content)
	if err != nil {
		h.storeError(w, err, "failed to edit message")
		return
	}
	h.hub.PublishPair(m.SenderID, m.RecipientID, wirechat.TopicMessageUpdated, m)
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := h.store.GetMessage(id)
	if err != nil {
		h.storeError(w, err, "failed to delete message")
		return
	}
	if err := h.store.DeleteMessage(id); err != nil {
		h.storeError(w, err, "failed to delete message")
		return
	}
	h.hub.PublishPair(m.SenderID, m.RecipientID, wirechat.TopicMessageDeleted,
		wirechat.DeletedSignal{MessageID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) markMessageRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := h.store.GetMessage(id)
	if err != nil {
		h.storeError(w, err, "failed to mark message read")
		return
	}
	if err := h.store.MarkMessageRead(id); err != nil {
		h.storeError(w, err, "failed to mark message read")
		return
	}
	// The sender is the party waiting on the receipt.
	h.hub.Publish(m.SenderID, wirechat.TopicReadStatus, wirechat.ReadReceipt{
		MessageID:   id,
		ReaderID:    m.RecipientID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) conversation(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	otherUserID := r.URL.Query().Get("otherUserId")
	if userID == "" || otherUserID == "" {
		h.writeError(w, http.StatusBadRequest, "userId and otherUserId are required")
		return
	}

	msgs, err := h.store.Conversation(userID, otherUserID)
	if err != nil {
		h.log.Error("failed to load conversation", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

// ----------------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------------

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.log.Error("failed to list users", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) upsertUser(w http.ResponseWriter, r *http.Request) {
	var u wirechat.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.ID == "" || u.Name == "" {
		h.writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}
	if err := h.store.UpsertUser(&u); err != nil {
		h.log.Error("failed to upsert user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store user")
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

// ----------------------------------------------------------------------------
// Notifications
// ----------------------------------------------------------------------------

func (h *Handlers) createNotification(w http.ResponseWriter, r *http.Request) {
	var n wirechat.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if n.UserID == "" || n.Message == "" {
		h.writeError(w, http.StatusBadRequest, "userId and message are required")
		return
	}
	if n.Kind == "" {
		n.Kind = wirechat.NotificationOther
	}
	n.ID = uuid.NewString()
	n.IsRead = false
	n.CreatedAt = time.Now()

	if err := h.store.CreateNotification(&n); err != nil {
		h.log.Error("failed to store notification", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store notification")
		return
	}
	h.metrics.Notifications.Inc()
	h.hub.Publish(n.UserID, wirechat.TopicNotification, n)
	go h.deliverWebhook(n)
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *Handlers) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	ns, err := h.store.UnreadNotifications(userID)
	if err != nil {
		h.log.Error("failed to load notifications", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, ns)
}

func (h *Handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.MarkNotificationRead(id); err != nil {
		h.storeError(w, err, "failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deliverWebhook POSTs a signed payload to the configured endpoint.
func (h *Handlers) deliverWebhook(n wirechat.Notification) {
	if h.webhookURL == "" || h.webhookSecret == "" {
		return
	}

	payload := wirechat.NewWebhookPayload("notification.created", n, wirechat.WebhookActor{ID: n.ActorID})
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal webhook payload", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, h.webhookURL, bytes.NewReader(body))
	if err != nil {
		h.log.Error("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wirechat-Signature", wirechat.SignWebhookBody(string(body), h.webhookSecret))

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.log.Warn("webhook delivery failed", "url", h.webhookURL, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		h.log.Warn("webhook delivery rejected", "url", h.webhookURL, "status", resp.StatusCode)
	}
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]interface{}{"code": status, "message": msg})
}

func (h *Handlers) storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.log.Error(msg, "error", err)
	h.writeError(w, http.StatusInternalServerError, msg)
}

// AuthMiddleware enforces the static bearer token when one is configured.
func AuthMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if got != token {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(map[string]interface{}{"code": 401, "message": "unauthorized"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
