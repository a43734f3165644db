package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desertthunder/tunelink/internal/shared"
)

// engineStub is a fake engine endpoint: a websocket handler at the protocol
// path plus a minimal REST surface for the capability fetch.
func engineStub(t *testing.T, onStream func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onStream(conn)
	})
	mux.HandleFunc("/v4/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"version":        map[string]any{"semver": "4.0.0"},
			"sourceManagers": []string{"youtube"},
		})
	})
	return httptest.NewServer(mux)
}

func newTestNode(t *testing.T, srv *httptest.Server, opts Options) *Node {
	t.Helper()
	opts.Config = nodeConfigFor(t, srv)
	opts.Client = testClient()
	n, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(n.Destroy)
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingRouter struct {
	mu     sync.Mutex
	frames []string // "node/guild"
}

func (r *recordingRouter) HandlePlayerFrame(node, guildID string, _ json.RawMessage) {
	r.mu.Lock()
	r.frames = append(r.frames, node+"/"+guildID)
	r.mu.Unlock()
}

func (r *recordingRouter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(r.frames))
	copy(cp, r.frames)
	return cp
}

func TestNodeConnect(t *testing.T) {
	t.Run("handshake binds the engine session id", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {
			conn.WriteJSON(map[string]any{"op": "ready", "sessionId": "sess-42", "resumed": false})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer srv.Close()

		n := newTestNode(t, srv, Options{})
		if err := n.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !n.Connected() {
			t.Fatal("node not connected after Connect")
		}

		waitFor(t, "session id", func() bool { return n.SessionID() == "sess-42" })
		if n.Rest().SessionID() != "sess-42" {
			t.Errorf("rest session id = %q, want sess-42", n.Rest().SessionID())
		}

		// Connect on an already connected node is a no-op.
		if err := n.Connect(context.Background()); err != nil {
			t.Errorf("second Connect() error = %v", err)
		}
	})

	t.Run("capability fetch populates engine info", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer srv.Close()

		n := newTestNode(t, srv, Options{})
		if err := n.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		waitFor(t, "engine info", func() bool { return n.Info() != nil })
		if got := n.Info().Version.Semver; got != "4.0.0" {
			t.Errorf("info semver = %q, want 4.0.0", got)
		}
	})

	t.Run("stats frames feed the health snapshot", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {
			conn.WriteJSON(map[string]any{
				"op": "stats", "players": 7, "playingPlayers": 3,
				"memory": map[string]any{"used": 100, "free": 100},
				"cpu":    map[string]any{"cores": 2, "systemLoad": 0.5},
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer srv.Close()

		n := newTestNode(t, srv, Options{})
		if err := n.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		waitFor(t, "stats ingestion", func() bool { return n.Health().Players == 7 })
		h := n.Health()
		if h.PlayingPlayers != 3 || h.MemoryUsagePct != 50 {
			t.Errorf("health = %+v", h)
		}
		if h.Score <= 0 {
			t.Errorf("score = %v, want > 0 for a loaded node", h.Score)
		}
	})

	t.Run("player frames route by tenant", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {
			conn.WriteJSON(map[string]any{"op": "playerUpdate", "guildId": "guild-1",
				"state": map[string]any{"position": 100}})
			conn.WriteJSON(map[string]any{"op": "event", "type": "TrackStartEvent", "guildId": "guild-2"})
			conn.WriteJSON(map[string]any{"op": "event"}) // no tenant, dropped
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer srv.Close()

		router := &recordingRouter{}
		n := newTestNode(t, srv, Options{Router: router})
		if err := n.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		waitFor(t, "routed frames", func() bool { return len(router.seen()) >= 2 })
		seen := router.seen()
		if seen[0] != "test/guild-1" || seen[1] != "test/guild-2" {
			t.Errorf("routed frames = %v", seen)
		}
	})

	t.Run("destroyed nodes reject connect", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) { conn.Close() })
		defer srv.Close()

		n := newTestNode(t, srv, Options{})
		n.Destroy()

		if err := n.Connect(context.Background()); !errors.Is(err, shared.ErrNodeDestroyed) {
			t.Errorf("Connect() error = %v, want ErrNodeDestroyed", err)
		}
	})
}

func TestNodeReconnect(t *testing.T) {
	t.Run("dial failures stop at the attempt budget", func(t *testing.T) {
		// A server that is already closed refuses every dial.
		srv := engineStub(t, func(conn *websocket.Conn) {})
		cfg := nodeConfigFor(t, srv)
		srv.Close()

		n, err := New(Options{
			Config:    cfg,
			Client:    testClient(),
			Reconnect: shared.ReconnectConfig{MaxTries: 2, DelayMs: 10},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		t.Cleanup(n.Destroy)

		if err := n.Connect(context.Background()); !errors.Is(err, shared.ErrNodeDisconnected) {
			t.Fatalf("Connect() error = %v, want ErrNodeDisconnected", err)
		}

		waitFor(t, "budget exhaustion", func() bool { return n.Attempts() == 2 })
		time.Sleep(100 * time.Millisecond)

		if n.Attempts() != 2 {
			t.Errorf("Attempts() = %d, want capped at 2", n.Attempts())
		}
		if n.State() != StateDisconnected {
			t.Errorf("State() = %s, want disconnected", n.State())
		}
	})

	t.Run("explicit Reconnect resets the budget", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {})
		cfg := nodeConfigFor(t, srv)
		srv.Close()

		n, err := New(Options{
			Config:    cfg,
			Client:    testClient(),
			Reconnect: shared.ReconnectConfig{MaxTries: 1, DelayMs: 10},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		t.Cleanup(n.Destroy)

		n.Connect(context.Background())
		waitFor(t, "budget exhaustion", func() bool { return n.Attempts() == 1 })

		if err := n.Reconnect(context.Background()); !errors.Is(err, shared.ErrNodeDisconnected) {
			t.Fatalf("Reconnect() error = %v, want a fresh dial failure", err)
		}
		waitFor(t, "fresh attempt", func() bool { return n.Attempts() >= 1 })
	})

	t.Run("stream loss notifies the close hook", func(t *testing.T) {
		srv := engineStub(t, func(conn *websocket.Conn) {
			conn.WriteJSON(map[string]any{"op": "ready", "sessionId": "sess-1"})
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		})
		defer srv.Close()

		closed := make(chan string, 1)
		n := newTestNode(t, srv, Options{
			Reconnect: shared.ReconnectConfig{MaxTries: 0},
			OnClose: func(n *Node) {
				select {
				case closed <- n.Name():
				default:
				}
			},
		})
		if err := n.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		select {
		case name := <-closed:
			if name != "test" {
				t.Errorf("close hook node = %q, want test", name)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("close hook never ran")
		}
		waitFor(t, "disconnected state", func() bool { return n.State() == StateDisconnected })
	})
}
