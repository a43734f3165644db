package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// State is the connection state of a node's protocol stream.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

const pingInterval = 30 * time.Second

// Router receives player-scoped frames from a node's event stream, keyed by
// tenant id. Implemented by the pool.
type Router interface {
	HandlePlayerFrame(node, guildID string, frame json.RawMessage)
}

// Options configures a Node.
type Options struct {
	Config    shared.NodeConfig
	Client    shared.ClientConfig
	Resume    shared.ResumeConfig
	Reconnect shared.ReconnectConfig
	Bus       events.Publisher
	Logger    *log.Logger
	Router    Router
	// OnClose runs after an unexpected stream loss, before any reconnect
	// attempt. The pool uses it to re-home bound players.
	OnClose func(n *Node)
	// Dialer overrides the websocket dialer, used by tests.
	Dialer *websocket.Dialer
}

// Node owns one protocol link to one audio-engine instance.
type Node struct {
	name    string
	host    string
	port    int
	secure  bool
	region  string
	version string

	client    shared.ClientConfig
	resume    shared.ResumeConfig
	reconnect shared.ReconnectConfig

	bus     events.Publisher
	logger  *log.Logger
	router  Router
	onClose func(n *Node)
	dialer  *websocket.Dialer
	rest    *RestClient

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	sessionID      string
	attempts       int
	reconnectTimer *time.Timer
	epoch          int
	info           *EngineInfo

	hmu      sync.Mutex
	stats    StatsFrame
	statsAt  time.Time
	pings    []time.Duration
	lastPing time.Duration
	pingSent time.Time
}

// New validates the configuration and creates a disconnected Node.
func New(opts Options) (*Node, error) {
	cfg := opts.Config
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: node name is required", shared.ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: node host is required", shared.ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: node port %d is out of range", shared.ErrInvalidConfig, cfg.Port)
	}

	version := cfg.Version
	if version == "" {
		version = "v4"
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NopLogger()
	}
	logger = logger.With("node", cfg.Name)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	n := &Node{
		name:      cfg.Name,
		host:      cfg.Host,
		port:      cfg.Port,
		secure:    cfg.Secure,
		region:    cfg.Region,
		version:   version,
		client:    opts.Client,
		resume:    opts.Resume,
		reconnect: opts.Reconnect,
		bus:       opts.Bus,
		logger:    logger,
		router:    opts.Router,
		onClose:   opts.OnClose,
		dialer:    dialer,
		rest:      NewRestClient(cfg, opts.Client, logger),
		state:     StateDisconnected,
	}

	n.emit(events.Event{Type: events.NodeCreate, Node: n.name})
	return n, nil
}

func (n *Node) emit(evt events.Event) {
	if n.bus != nil {
		n.bus.Emit(evt)
	}
}

// Name returns the configured node name.
func (n *Node) Name() string { return n.name }

// Region returns the configured region hint for this node.
func (n *Node) Region() string { return n.region }

// Rest returns the node's REST gateway.
func (n *Node) Rest() *RestClient { return n.rest }

// State returns the current connection state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Connected reports whether the protocol stream is up.
func (n *Node) Connected() bool {
	return n.State() == StateConnected
}

// SessionID returns the engine-assigned session identifier from the latest
// handshake, or "" before the first ready frame.
func (n *Node) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Info returns the capability document fetched at connect time, if any.
func (n *Node) Info() *EngineInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

func (n *Node) wsURL() string {
	scheme := "ws"
	if n.secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/%s/websocket", scheme, n.host, n.port, n.version)
}

// Connect opens the protocol stream. It is safe to call on an already
// connected node (no-op) and returns an error once the node is destroyed.
func (n *Node) Connect(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case StateDestroyed:
		n.mu.Unlock()
		return fmt.Errorf("%w: node %s", shared.ErrNodeDestroyed, n.name)
	case StateConnected, StateConnecting:
		n.mu.Unlock()
		return nil
	}
	n.state = StateConnecting
	header := http.Header{}
	header.Set("Authorization", n.rest.password)
	header.Set("User-Id", n.client.UserID)
	header.Set("Client-Name", n.client.ClientName)
	if n.sessionID != "" {
		// Resume credential from the previous handshake epoch. The engine
		// either honors it or issues a fresh session id in the ready frame.
		if n.version == "v3" {
			header.Set("Resume-Key", n.sessionID)
		} else {
			header.Set("Session-Id", n.sessionID)
		}
	}
	n.mu.Unlock()

	conn, _, err := n.dialer.DialContext(ctx, n.wsURL(), header)

	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w: node %s", shared.ErrNodeDestroyed, n.name)
	}
	if err != nil {
		n.state = StateDisconnected
		n.mu.Unlock()
		n.emit(events.Event{Type: events.NodeError, Node: n.name, Err: err})
		n.scheduleReconnect()
		return fmt.Errorf("%w: dial %s: %v", shared.ErrNodeDisconnected, n.wsURL(), err)
	}

	n.conn = conn
	n.state = StateConnected
	n.attempts = 0
	n.epoch++
	epoch := n.epoch
	n.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		n.recordPong()
		return nil
	})

	go n.readLoop(conn, epoch)
	go n.pingLoop(conn, epoch)

	n.logger.Info("connected", "url", n.wsURL())
	n.emit(events.Event{Type: events.NodeConnect, Node: n.name})

	if err := n.fetchInfo(ctx); err != nil {
		if n.reconnect.RequireInfo {
			n.logger.Error("capability fetch failed", "err", err)
			n.Disconnect()
			return err
		}
		n.logger.Warn("capability fetch failed", "err", err)
	}

	return nil
}

// fetchInfo races the capability fetch against a bounded timeout. Failure is
// non-fatal unless the node is configured to require it.
func (n *Node) fetchInfo(ctx context.Context) error {
	timeout := time.Duration(n.reconnect.InfoMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := n.rest.Info(ctx)
	if err != nil {
		return fmt.Errorf("fetch engine info: %w", err)
	}

	n.mu.Lock()
	n.info = info
	n.mu.Unlock()
	return nil
}

func (n *Node) readLoop(conn *websocket.Conn, epoch int) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			n.handleClose(epoch, err)
			return
		}
		n.dispatch(msg)
	}
}

func (n *Node) pingLoop(conn *websocket.Conn, epoch int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		n.mu.Lock()
		stale := n.epoch != epoch || n.state != StateConnected
		n.mu.Unlock()
		if stale {
			return
		}

		n.hmu.Lock()
		n.pingSent = time.Now()
		n.hmu.Unlock()

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

func (n *Node) recordPong() {
	n.hmu.Lock()
	defer n.hmu.Unlock()

	if n.pingSent.IsZero() {
		return
	}
	rtt := time.Since(n.pingSent)
	n.lastPing = rtt
	n.pings = append(n.pings, rtt)
	if len(n.pings) > maxPingHistory {
		n.pings = n.pings[1:]
	}
}

// frame is the envelope every stream message shares.
type frame struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
}

func (n *Node) dispatch(msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		n.logger.Warn("dropping malformed frame", "err", err)
		n.emit(events.Event{Type: events.Debug, Node: n.name, Err: fmt.Errorf("%w: %v", shared.ErrProtocol, err)})
		return
	}

	switch f.Op {
	case "ready":
		n.handleReady(f)
	case "stats":
		n.ingestStats(msg)
	case "playerUpdate", "event":
		if f.GuildID == "" {
			n.logger.Warn("dropping frame without tenant id", "op", f.Op)
			return
		}
		if n.router != nil {
			n.router.HandlePlayerFrame(n.name, f.GuildID, json.RawMessage(msg))
		}
	default:
		n.logger.Debug("dropping unroutable frame", "op", f.Op)
		n.emit(events.Event{Type: events.Debug, Node: n.name, Err: fmt.Errorf("%w: op %q", shared.ErrUnknownOp, f.Op)})
	}
}

// handleReady binds the engine-assigned session identifier, replacing any
// stale credential from a previous epoch, and configures resume best-effort.
func (n *Node) handleReady(f frame) {
	n.mu.Lock()
	n.sessionID = f.SessionID
	n.mu.Unlock()
	n.rest.SetSessionID(f.SessionID)

	n.logger.Info("ready", "session", f.SessionID, "resumed", f.Resumed)

	if n.resume.Enabled {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := n.rest.ConfigureResume(ctx, n.resume.TimeoutSecs); err != nil {
				n.logger.Warn("resume configuration failed", "err", err)
			}
		}()
	}
}

func (n *Node) ingestStats(msg []byte) {
	var s StatsFrame
	if err := json.Unmarshal(msg, &s); err != nil {
		n.logger.Warn("dropping malformed stats frame", "err", err)
		return
	}

	n.hmu.Lock()
	n.stats = s
	n.statsAt = time.Now()
	n.hmu.Unlock()
}

// handleClose runs when the stream drops. A stale epoch means a newer
// connection already replaced this one.
func (n *Node) handleClose(epoch int, cause error) {
	n.mu.Lock()
	if n.epoch != epoch || n.state == StateDestroyed {
		n.mu.Unlock()
		return
	}
	n.state = StateDisconnected
	n.conn = nil
	n.mu.Unlock()

	n.logger.Warn("stream closed", "err", cause)
	n.emit(events.Event{Type: events.NodeDisconnect, Node: n.name, Err: cause})

	if n.onClose != nil {
		go n.onClose(n)
	}

	n.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer while the attempt budget lasts.
// Once exhausted the node stays down until Reconnect is called explicitly.
func (n *Node) scheduleReconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateDisconnected {
		return
	}
	if n.attempts >= n.reconnect.MaxTries {
		n.logger.Error("reconnect budget exhausted", "attempts", n.attempts)
		return
	}
	n.attempts++

	delay := time.Duration(n.reconnect.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 5 * time.Second
	}

	n.logger.Info("scheduling reconnect", "attempt", n.attempts, "max", n.reconnect.MaxTries, "delay", delay)
	n.reconnectTimer = time.AfterFunc(delay, func() {
		if err := n.Connect(context.Background()); err != nil {
			n.logger.Warn("reconnect failed", "err", err)
		}
	})
}

// Reconnect resets the attempt budget and connects. This is the operator
// escape hatch after the automatic budget is exhausted.
func (n *Node) Reconnect(ctx context.Context) error {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return fmt.Errorf("%w: node %s", shared.ErrNodeDestroyed, n.name)
	}
	n.attempts = 0
	n.mu.Unlock()
	return n.Connect(ctx)
}

// Disconnect closes the stream without destroying the node. The reconnect
// machinery treats it like any other close.
func (n *Node) Disconnect() {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Destroy tears the node down permanently: pending timers are cancelled, the
// stream is closed, and further operations are rejected.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return
	}
	n.state = StateDestroyed
	n.epoch++
	if n.reconnectTimer != nil {
		n.reconnectTimer.Stop()
		n.reconnectTimer = nil
	}
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	n.logger.Info("destroyed")
	n.emit(events.Event{Type: events.NodeDestroy, Node: n.name})
}

// Attempts returns the used reconnect attempts, for observability.
func (n *Node) Attempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// Health snapshots the cached metrics and derived score. It is a pure read;
// no I/O happens here.
func (n *Node) Health() Health {
	connected := n.Connected()

	n.hmu.Lock()
	defer n.hmu.Unlock()

	var avg time.Duration
	if len(n.pings) > 0 {
		var sum time.Duration
		for _, p := range n.pings {
			sum += p
		}
		avg = sum / time.Duration(len(n.pings))
	}

	return Health{
		Connected:      connected,
		Ping:           n.lastPing,
		AveragePing:    avg,
		Penalties:      penaltyOf(n.stats),
		Score:          scoreOf(n.stats, n.lastPing),
		CPULoad:        n.stats.CPU.SystemLoad,
		MemoryUsagePct: memoryUsagePct(n.stats.Memory),
		Players:        n.stats.Players,
		PlayingPlayers: n.stats.PlayingPlayers,
		Stale:          !n.statsAt.IsZero() && time.Since(n.statsAt) > statsTTL,
	}
}

// Score returns the current load-balancing score. Lower is better.
func (n *Node) Score() float64 {
	n.hmu.Lock()
	defer n.hmu.Unlock()
	return scoreOf(n.stats, n.lastPing)
}

// Update forwards a player update through the REST gateway.
func (n *Node) Update(ctx context.Context, guildID string, payload map[string]any, noReplace bool) error {
	if !n.Connected() {
		return fmt.Errorf("%w: %s", shared.ErrNodeDisconnected, n.name)
	}
	return n.rest.UpdatePlayer(ctx, guildID, payload, noReplace)
}

// DestroyPlayer removes the engine-side player for a tenant.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	return n.rest.DestroyPlayer(ctx, guildID)
}

// LoadTracks resolves an identifier through this node's REST gateway.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*models.LoadResult, error) {
	return n.rest.LoadTracks(ctx, identifier)
}
