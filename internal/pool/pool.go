package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/node"
	"github.com/desertthunder/tunelink/internal/player"
	"github.com/desertthunder/tunelink/internal/shared"
	"github.com/desertthunder/tunelink/internal/store"
)

// defaultSearchSource prefixes bare queries in the resolve fallback chain.
const defaultSearchSource = "ytsearch"

// Engine is the pool's view of one audio-engine instance. node.Node is the
// production implementation.
type Engine interface {
	Name() string
	Region() string
	Connected() bool
	Score() float64
	Update(ctx context.Context, guildID string, payload map[string]any, noReplace bool) error
	DestroyPlayer(ctx context.Context, guildID string) error
	LoadTracks(ctx context.Context, identifier string) (*models.LoadResult, error)
}

// Options configures a Pool.
type Options struct {
	Config *shared.Config
	Bus    *events.Bus
	Logger *log.Logger
	// Store persists player snapshots. Nil disables persistence.
	Store store.Store
}

// Pool owns the engine instances and every player bound to them.
type Pool struct {
	client    shared.ClientConfig
	resume    shared.ResumeConfig
	reconnect shared.ReconnectConfig
	coalesce  time.Duration
	bus       *events.Bus
	logger    *log.Logger
	store     store.Store

	mu      sync.RWMutex
	nodes   []*node.Node
	engines []Engine // registration order, parallel superset of nodes
	players map[string]*player.Player

	rmu     sync.Mutex
	rehomes map[string]*sync.Mutex
}

// New validates the configuration and creates a pool with no nodes yet
// registered.
func New(opts Options) (*Pool, error) {
	if opts.Config == nil {
		return nil, shared.ErrMissingConfig
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NopLogger()
	}

	p := &Pool{
		client:    opts.Config.Client,
		resume:    opts.Config.Resume,
		reconnect: opts.Config.Reconnect,
		coalesce:  time.Duration(opts.Config.Updates.CoalesceMs) * time.Millisecond,
		bus:       opts.Bus,
		logger:    logger,
		store:     opts.Store,
		players:   map[string]*player.Player{},
		rehomes:   map[string]*sync.Mutex{},
	}

	for _, nc := range opts.Config.Nodes {
		if _, err := p.Register(nc); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bus returns the pool's event bus.
func (p *Pool) Bus() *events.Bus { return p.bus }

// publisher adapts the optional bus for node and player options. A nil
// *events.Bus stored in the interface would still compare non-nil, so the
// guard has to happen here.
func (p *Pool) publisher() events.Publisher {
	if p.bus == nil {
		return nil
	}
	return p.bus
}

// Register adds one engine instance to the pool. The node is created
// disconnected; Start or Connect brings it up.
func (p *Pool) Register(cfg shared.NodeConfig) (*node.Node, error) {
	n, err := node.New(node.Options{
		Config:    cfg,
		Client:    p.client,
		Resume:    p.resume,
		Reconnect: p.reconnect,
		Bus:       p.publisher(),
		Logger:    p.logger,
		Router:    p,
		OnClose:   p.handleNodeClose,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nodes = append(p.nodes, n)
	p.engines = append(p.engines, n)
	p.mu.Unlock()
	return n, nil
}

// addEngine registers a bare engine binding, used by tests with fakes.
func (p *Pool) addEngine(e Engine) {
	p.mu.Lock()
	p.engines = append(p.engines, e)
	p.mu.Unlock()
}

// Nodes returns the registered nodes in registration order.
func (p *Pool) Nodes() []*node.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]*node.Node, len(p.nodes))
	copy(cp, p.nodes)
	return cp
}

// Start connects every registered node. It succeeds if at least one comes
// up; individual dial failures are left to the per-node reconnect loop.
func (p *Pool) Start(ctx context.Context) error {
	nodes := p.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no nodes registered", shared.ErrInvalidConfig)
	}

	connected := 0
	for _, n := range nodes {
		if err := n.Connect(ctx); err != nil {
			p.logger.Warn("node failed to connect", "node", n.Name(), "err", err)
			continue
		}
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("%w: all %d nodes failed to connect", shared.ErrNoHealthyNode, len(nodes))
	}
	return nil
}

// BestNode selects the healthiest connected engine: region preference when a
// hint is given (falling back to the full set when no node matches), then
// ascending score, registration order breaking ties.
func (p *Pool) BestNode(regionHint string) (Engine, error) {
	return p.bestExcluding(regionHint, "")
}

func (p *Pool) bestExcluding(regionHint, exclude string) (Engine, error) {
	p.mu.RLock()
	candidates := make([]Engine, 0, len(p.engines))
	for _, e := range p.engines {
		if e.Name() == exclude || !e.Connected() {
			continue
		}
		candidates = append(candidates, e)
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, shared.ErrNoHealthyNode
	}

	if regionHint != "" {
		regional := make([]Engine, 0, len(candidates))
		for _, e := range candidates {
			if e.Region() == regionHint {
				regional = append(regional, e)
			}
		}
		if len(regional) > 0 {
			candidates = regional
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score() < candidates[j].Score()
	})
	return candidates[0], nil
}

// CreatePlayer creates (or returns) the player for a tenant, bound to the
// best available engine.
func (p *Pool) CreatePlayer(guildID, voiceChannel, textChannel string) (*player.Player, error) {
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", shared.ErrMissingArgument)
	}

	// One creation at a time per tenant, so racing callers share the
	// winner's player instead of minting duplicates.
	create := p.tenantLock(guildID)
	create.Lock()
	defer create.Unlock()

	p.mu.Lock()
	if existing, ok := p.players[guildID]; ok && !existing.Destroyed() {
		p.mu.Unlock()
		return existing, nil
	}
	p.mu.Unlock()

	engine, err := p.BestNode("")
	if err != nil {
		return nil, err
	}

	pl, err := player.New(player.Options{
		GuildID:        guildID,
		VoiceChannel:   voiceChannel,
		TextChannel:    textChannel,
		Engine:         engine,
		Bus:            p.publisher(),
		Logger:         p.logger,
		CoalesceWindow: p.coalesce,
		AutoResume:     p.resume.Enabled,
	})
	if err != nil {
		return nil, err
	}
	pl.Conn().Begin()

	p.mu.Lock()
	p.players[guildID] = pl
	p.mu.Unlock()
	return pl, nil
}

// Get returns the player for a tenant.
func (p *Pool) Get(guildID string) (*player.Player, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, ok := p.players[guildID]
	return pl, ok
}

// Players returns every live player.
func (p *Pool) Players() []*player.Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*player.Player, 0, len(p.players))
	for _, pl := range p.players {
		out = append(out, pl)
	}
	return out
}

// DestroyPlayer tears down the player for a tenant.
func (p *Pool) DestroyPlayer(guildID string) {
	p.mu.Lock()
	pl, ok := p.players[guildID]
	delete(p.players, guildID)
	p.mu.Unlock()

	if ok {
		pl.Destroy()
	}
}

// HandleVoiceServerUpdate routes a platform voice-server packet to the
// tenant's transport.
func (p *Pool) HandleVoiceServerUpdate(u models.VoiceServerUpdate) {
	if pl, ok := p.Get(u.GuildID); ok {
		pl.Conn().HandleServerUpdate(u)
	}
}

// HandleVoiceStateUpdate routes a platform voice-state packet. A packet that
// destroys the session (tenant left voice) also drops the pool's reference.
func (p *Pool) HandleVoiceStateUpdate(u models.VoiceStateUpdate) {
	pl, ok := p.Get(u.GuildID)
	if !ok {
		return
	}
	pl.Conn().HandleStateUpdate(u)

	if pl.Destroyed() {
		p.mu.Lock()
		delete(p.players, u.GuildID)
		p.mu.Unlock()
	}
}

// Resolve turns a query into playable tracks through the best available
// engine. A bare (non-URL) query that loads empty is retried once with the
// source-prefixed search form.
func (p *Pool) Resolve(ctx context.Context, query, source, requester string) (*models.LoadResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", shared.ErrMissingArgument)
	}

	engine, err := p.BestNode("")
	if err != nil {
		return nil, err
	}

	result, err := engine.LoadTracks(ctx, query)
	if err != nil {
		return nil, err
	}

	if (result.LoadType == models.LoadTypeEmpty || result.LoadType == models.LoadTypeError) &&
		!strings.Contains(query, "://") && !strings.Contains(query, ":") {
		prefix := source
		if prefix == "" {
			prefix = defaultSearchSource
		}
		result, err = engine.LoadTracks(ctx, prefix+":"+query)
		if err != nil {
			return nil, err
		}
	}

	if requester != "" {
		for i := range result.Tracks {
			result.Tracks[i].Requester = requester
		}
	}
	return result, nil
}

// HandlePlayerFrame implements node.Router: player-scoped frames from any
// node's event stream land on the tenant's player. Frames for unknown
// tenants are dropped with a debug event rather than crashing the stream.
func (p *Pool) HandlePlayerFrame(nodeName, guildID string, frame json.RawMessage) {
	pl, ok := p.Get(guildID)
	if !ok {
		p.logger.Debug("dropping frame for unknown tenant", "node", nodeName, "guild", guildID)
		if p.bus != nil {
			p.bus.Emit(events.Event{
				Type:    events.Debug,
				Node:    nodeName,
				GuildID: guildID,
				Err:     fmt.Errorf("%w: no player for tenant", shared.ErrProtocol),
			})
		}
		return
	}
	pl.HandleFrame(frame)
}
