package wirechat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

// ============================================================================
// Test Helpers
// ============================================================================

// wsTestServer accepts websocket connections, records subscribe frames,
// and lets tests push envelope frames to the connected client.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader gws.Upgrader

	mu    sync.Mutex
	conns []*gws.Conn
	subs  []Command
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ws := &wsTestServer{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			if json.Unmarshal(data, &cmd) == nil && cmd.Action == "subscribe" {
				ws.mu.Lock()
				ws.subs = append(ws.subs, cmd)
				ws.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsTestServer) subscribeCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.subs)
}

func (ws *wsTestServer) push(t *testing.T, topic string, payload interface{}) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(Envelope{Topic: topic, Payload: raw})
	ws.mu.Lock()
	conn := ws.conns[len(ws.conns)-1]
	ws.mu.Unlock()
	if err := conn.WriteMessage(gws.TextMessage, data); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func (ws *wsTestServer) pushRaw(t *testing.T, data string) {
	t.Helper()
	ws.mu.Lock()
	conn := ws.conns[len(ws.conns)-1]
	ws.mu.Unlock()
	if err := conn.WriteMessage(gws.TextMessage, []byte(data)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func (ws *wsTestServer) dropConnections() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, c := range ws.conns {
		c.Close()
	}
	ws.conns = nil
}

func newTestRealtime(t *testing.T, ws *wsTestServer, cfg *RealtimeConfig) *RealtimeClient {
	t.Helper()
	if cfg == nil {
		cfg = &RealtimeConfig{UserID: "alice"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rc := NewRealtime(NewClient(ws.srv.URL), cfg)
	t.Cleanup(func() { rc.Disconnect() })
	return rc
}

// ============================================================================
// Connect
// ============================================================================

func TestConnectRequiresUserID(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, &RealtimeConfig{UserID: ""})

	if err := rc.Connect(context.Background()); err == nil {
		t.Fatal("expected error without a user ID")
	}
	if rc.State() != StateDisconnected {
		t.Fatalf("unexpected state: %s", rc.State())
	}
}

func TestConnectSubscribesAllTopics(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, nil)

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "subscribe frame", func() bool { return ws.subscribeCount() == 1 })

	ws.mu.Lock()
	sub := ws.subs[0]
	ws.mu.Unlock()
	payload, _ := json.Marshal(sub.Payload)
	var decoded struct {
		UserID string   `json:"userId"`
		Topics []string `json:"topics"`
	}
	json.Unmarshal(payload, &decoded)
	if decoded.UserID != "alice" {
		t.Fatalf("unexpected subscriber: %s", decoded.UserID)
	}
	if len(decoded.Topics) != len(subscribedTopics) {
		t.Fatalf("expected %d topics, got %v", len(subscribedTopics), decoded.Topics)
	}

	t.Run("second connect is a no-op", func(t *testing.T) {
		if err := rc.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if ws.subscribeCount() != 1 {
			t.Fatal("redundant connect opened a second channel")
		}
	})
}

// ============================================================================
// Dispatch
// ============================================================================

func TestDispatchArrivalOrder(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, nil)

	var mu sync.Mutex
	var got []string
	rc.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, "msg:"+m.ID)
		mu.Unlock()
	})
	rc.OnMessageDeleted(func(d DeletedSignal) {
		mu.Lock()
		got = append(got, "del:"+d.MessageID)
		mu.Unlock()
	})

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	ws.push(t, TopicMessageReceived, makeMessage("m1", "bob", "alice", "a", time.Now()))
	ws.push(t, TopicMessageReceived, makeMessage("m2", "bob", "alice", "b", time.Now()))
	ws.push(t, TopicMessageDeleted, DeletedSignal{MessageID: "m1"})

	waitFor(t, "three frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "msg:m1" || got[1] != "msg:m2" || got[2] != "del:m1" {
		t.Fatalf("frames out of order: %v", got)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, nil)

	var mu sync.Mutex
	var got []string
	rc.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	})

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	ws.pushRaw(t, "this is not json")
	ws.pushRaw(t, `{"topic":"message-received","payload":"not an object"}`)
	ws.push(t, TopicMessageReceived, makeMessage("m1", "bob", "alice", "still alive", time.Now()))

	waitFor(t, "valid frame after garbage", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "m1"
	})
	if rc.State() != StateConnected {
		t.Fatalf("malformed frames tore the connection down: %s", rc.State())
	}
}

// ============================================================================
// Reconnect
// ============================================================================

func TestReconnectResubscribes(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, &RealtimeConfig{
		UserID:         "alice",
		AutoReconnect:  true,
		ReconnectDelay: 20 * time.Millisecond,
	})

	var mu sync.Mutex
	connects := 0
	rc.OnConnected(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "first subscribe", func() bool { return ws.subscribeCount() == 1 })

	ws.dropConnections()

	waitFor(t, "resubscribe after reconnect", func() bool { return ws.subscribeCount() == 2 })
	waitFor(t, "second connected callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2
	})
	if rc.State() != StateConnected {
		t.Fatalf("expected connected after reconnect, got %s", rc.State())
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, &RealtimeConfig{
		UserID:         "alice",
		AutoReconnect:  true,
		ReconnectDelay: 20 * time.Millisecond,
	})

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "subscribe", func() bool { return ws.subscribeCount() == 1 })

	if err := rc.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := rc.Disconnect(); err != nil {
		t.Fatalf("second disconnect errored: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if ws.subscribeCount() != 1 {
		t.Fatal("client reconnected after an intentional disconnect")
	}
	if rc.State() != StateDisconnected {
		t.Fatalf("unexpected state: %s", rc.State())
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	ws := newWSTestServer(t)
	rc := newTestRealtime(t, ws, nil)

	err := rc.Publish(context.Background(), ActionTyping, TypingSignal{SenderID: "alice", RecipientID: "bob", IsTyping: true})
	if err == nil {
		t.Fatal("expected error before connect")
	}
}
