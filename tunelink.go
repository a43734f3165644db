// Package tunelink is a client-side control plane for a cluster of external
// audio-engine instances speaking the Lavalink-style v3/v4 protocol. It
// manages per-tenant playback sessions, selects engine instances by health
// score, re-homes players transparently when an instance dies, and persists
// session snapshots for crash recovery. Most applications interact with this
// package by:
//  1. Loading a Config (LoadConfig or DefaultConfig)
//  2. Creating a Client via New() and calling Start()
//  3. Creating players per tenant and feeding platform voice packets in
//
// The façade delegates to internal/pool while keeping setup concise.
package tunelink

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/node"
	"github.com/desertthunder/tunelink/internal/player"
	"github.com/desertthunder/tunelink/internal/pool"
	"github.com/desertthunder/tunelink/internal/shared"
	"github.com/desertthunder/tunelink/internal/store"
)

// Re-exported configuration types.
type (
	Config            = shared.Config
	ClientConfig      = shared.ClientConfig
	NodeConfig        = shared.NodeConfig
	ResumeConfig      = shared.ResumeConfig
	ReconnectConfig   = shared.ReconnectConfig
	PersistenceConfig = shared.PersistenceConfig
)

// Re-exported domain types.
type (
	Track          = models.Track
	TrackInfo      = models.TrackInfo
	LoadResult     = models.LoadResult
	LoadType       = models.LoadType
	PlaylistInfo   = models.PlaylistInfo
	LoopMode       = models.LoopMode
	PlayerSnapshot = models.PlayerSnapshot

	VoiceServerUpdate = models.VoiceServerUpdate
	VoiceStateUpdate  = models.VoiceStateUpdate

	Event     = events.Event
	EventType = events.Type
	Bus       = events.Bus

	Node   = node.Node
	Health = node.Health
	Player = player.Player
	Pool   = pool.Pool
	Store  = store.Store
)

// Loop modes.
const (
	LoopNone  = models.LoopNone
	LoopTrack = models.LoopTrack
	LoopQueue = models.LoopQueue
)

// Event types.
const (
	EventNodeConnect    = events.NodeConnect
	EventNodeDisconnect = events.NodeDisconnect
	EventNodeError      = events.NodeError
	EventNodeDestroy    = events.NodeDestroy
	EventPlayerCreate   = events.PlayerCreate
	EventPlayerDestroy  = events.PlayerDestroy
	EventPlayerMove     = events.PlayerMove
	EventTrackStart     = events.TrackStart
	EventTrackResumed   = events.TrackResumed
	EventTrackEnd       = events.TrackEnd
	EventTrackError     = events.TrackError
	EventTrackStuck     = events.TrackStuck
	EventQueueEnd       = events.QueueEnd
)

// Commonly checked sentinel errors.
var (
	ErrInvalidConfig     = shared.ErrInvalidConfig
	ErrNoHealthyNode     = shared.ErrNoHealthyNode
	ErrNodeDisconnected  = shared.ErrNodeDisconnected
	ErrFailoverExhausted = shared.ErrFailoverExhausted
	ErrPlayerDestroyed   = shared.ErrPlayerDestroyed
	ErrNothingPlaying    = shared.ErrNothingPlaying
	ErrVolumeRange       = shared.ErrVolumeRange
)

// LoadConfig reads and parses a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return shared.LoadConfig(path) }

// DefaultConfig returns the embedded example configuration.
func DefaultConfig() *Config { return shared.DefaultConfig() }

// WriteExampleConfig writes the embedded example configuration to path as a
// starting point for a new deployment. It refuses to overwrite an existing
// file.
func WriteExampleConfig(path string) error { return shared.CreateConfigFile(path) }

// NewLogger builds the standard structured logger writing to w.
func NewLogger(w io.Writer) *log.Logger { return shared.NewLogger(w) }

// Options configures a Client beyond what the TOML config carries.
type Options struct {
	// Logger defaults to a no-op logger when nil.
	Logger *log.Logger
	// Store overrides the snapshot store built from config.Persistence.
	Store Store
}

// Client is the top-level handle: an engine pool plus its event bus.
type Client struct {
	*Pool
	bus *Bus
}

// New builds a client from configuration: event bus, snapshot store, and one
// registered node per config entry. Call Start to bring the nodes up.
func New(cfg *Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, shared.ErrMissingConfig
	}

	st := opts.Store
	if st == nil && cfg.Persistence.Path != "" {
		opened, err := store.Open(cfg.Persistence)
		if err != nil {
			return nil, err
		}
		st = opened
	}

	bus := events.NewBus()
	p, err := pool.New(pool.Options{
		Config: cfg,
		Bus:    bus,
		Logger: opts.Logger,
		Store:  st,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	return &Client{Pool: p, bus: bus}, nil
}

// Subscribe returns a channel of events of the given types (all when none are
// given) and a cancel function releasing the subscription.
func (c *Client) Subscribe(types ...EventType) (<-chan Event, func()) {
	return c.bus.Subscribe(types...)
}

// Start connects every registered node and restores persisted sessions.
// It returns the number of restored sessions.
func (c *Client) Start(ctx context.Context) (int, error) {
	if err := c.Pool.Start(ctx); err != nil {
		return 0, err
	}
	return c.Pool.RestorePlayers(), nil
}

// Close shuts the pool down and closes the event bus.
func (c *Client) Close() error {
	err := c.Pool.Close()
	c.bus.Close()
	return err
}
