package server

import (
	"encoding/json"
	"log/slog"

	wirechat "github.com/wirechat/wirechat-go"
)

// inboundFrame is a client-to-server frame before payload decoding.
type inboundFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// outbound is one fan-out unit: a payload bound for every connection of
// one user on one topic.
type outbound struct {
	userID  string
	topic   string
	payload interface{}
}

// Hub routes frames between connected clients. A user may hold several
// connections (tabs); every one of them receives the user's topics.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	log     *slog.Logger
	metrics *Metrics
}

func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 64),
		log:        log,
		metrics:    metrics,
	}
}

// Run owns the client set. Registration, teardown, and fan-out all pass
// through here, so no lock guards the map.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.Connections.Inc()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.Connections.Dec()
			}
		case out := <-h.broadcast:
			env, err := json.Marshal(envelope(out.topic, out.payload))
			if err != nil {
				h.log.Error("failed to marshal envelope", "topic", out.topic, "error", err)
				continue
			}
			for client := range h.clients {
				if client.userID != out.userID {
					continue
				}
				select {
				case client.send <- env:
					h.metrics.FramesDelivered.WithLabelValues(out.topic).Inc()
				default:
					close(client.send)
					delete(h.clients, client)
					h.metrics.Connections.Dec()
				}
			}
		}
	}
}

func envelope(topic string, payload interface{}) wirechat.Envelope {
	raw, _ := json.Marshal(payload)
	return wirechat.Envelope{Topic: topic, Payload: raw}
}

// Publish queues a payload for every connection of the given user.
func (h *Hub) Publish(userID, topic string, payload interface{}) {
	h.broadcast <- outbound{userID: userID, topic: topic, payload: payload}
}

// PublishPair queues a payload for both conversation parties.
func (h *Hub) PublishPair(userA, userB, topic string, payload interface{}) {
	h.Publish(userA, topic, payload)
	if userB != userA {
		h.Publish(userB, topic, payload)
	}
}

// route handles one frame published by a connected client. Delivery
// actions fan out to the counterpart and to the sender's other
// connections; malformed frames are dropped with a log line.
func (h *Hub) route(c *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.dropFrame(c, "frame", err)
		return
	}

	switch frame.Action {
	case "subscribe":
		// Identity comes from the connection; the topic set is fixed
		// per user. Nothing to record.

	case wirechat.ActionSend:
		var m wirechat.Message
		if err := json.Unmarshal(frame.Payload, &m); err != nil {
			h.dropFrame(c, frame.Action, err)
			return
		}
		h.PublishPair(m.RecipientID, m.SenderID, wirechat.TopicMessageReceived, m)

	case wirechat.ActionTyping:
		if !c.typingLimiter.Allow() {
			h.metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			return
		}
		var ts wirechat.TypingSignal
		if err := json.Unmarshal(frame.Payload, &ts); err != nil {
			h.dropFrame(c, frame.Action, err)
			return
		}
		h.Publish(ts.RecipientID, wirechat.TopicTyping, ts)

	case wirechat.ActionUpdateTemp:
		var tu wirechat.TempUpdate
		if err := json.Unmarshal(frame.Payload, &tu); err != nil {
			h.dropFrame(c, frame.Action, err)
			return
		}
		h.PublishPair(tu.RecipientID, tu.SenderID, wirechat.TopicTempUpdated, tu)

	case wirechat.ActionCancelTemp:
		var cs wirechat.CancelSignal
		if err := json.Unmarshal(frame.Payload, &cs); err != nil {
			h.dropFrame(c, frame.Action, err)
			return
		}
		h.PublishPair(cs.RecipientID, cs.SenderID, wirechat.TopicTempCancelled, cs)

	default:
		h.log.Warn("dropping frame with unknown action", "action", frame.Action, "userId", c.userID)
		h.metrics.FramesDropped.WithLabelValues("unknown_action").Inc()
	}
}

func (h *Hub) dropFrame(c *Client, action string, err error) {
	h.log.Warn("dropping malformed frame", "action", action, "userId", c.userID, "error", err)
	h.metrics.FramesDropped.WithLabelValues("malformed").Inc()
}
