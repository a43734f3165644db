package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// VoiceState is the connection state of a tenant's voice transport.
type VoiceState int

const (
	VoiceDisconnected VoiceState = iota
	VoiceConnecting
	VoiceConnected
	VoiceDestroyed
)

func (s VoiceState) String() string {
	switch s {
	case VoiceDisconnected:
		return "disconnected"
	case VoiceConnecting:
		return "connecting"
	case VoiceConnected:
		return "connected"
	case VoiceDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Connection maps the platform's voice-gateway state for one tenant onto the
// engine's voice payload. It is mutated only by platform callbacks, and
// signals state transitions over a channel instead of being polled.
type Connection struct {
	player *Player

	mu          sync.Mutex
	state       VoiceState
	channelID   string
	sessionID   string
	token       string
	endpoint    string
	region      string
	selfMute    bool
	selfDeaf    bool
	lastUpdate  time.Time
	attempts    int
	connectedCh chan struct{}
}

func newConnection(p *Player, channelID string) *Connection {
	return &Connection{
		player:      p,
		channelID:   channelID,
		state:       VoiceDisconnected,
		connectedCh: make(chan struct{}),
	}
}

// State returns the transport's connection state.
func (c *Connection) State() VoiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelID returns the voice channel the tenant currently occupies.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Region returns the voice region derived from the last server update.
func (c *Connection) Region() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

// Begin marks the transport as connecting and re-arms the connected signal.
// Called when a session is created or re-homed to a new node.
func (c *Connection) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == VoiceDestroyed {
		return
	}
	c.state = VoiceConnecting
	c.attempts++
	c.rearmLocked()
}

// rearmLocked replaces the connected signal, waking any current waiters so
// they re-check the state instead of hanging on an abandoned channel.
// Callers must hold c.mu.
func (c *Connection) rearmLocked() {
	close(c.connectedCh)
	c.connectedCh = make(chan struct{})
}

// AwaitConnected blocks until the transport reports connected, the timeout
// lapses, or ctx is cancelled. A destroyed transport fails the wait
// immediately with ErrPlayerDestroyed.
func (c *Connection) AwaitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		switch c.state {
		case VoiceConnected:
			c.mu.Unlock()
			return nil
		case VoiceDestroyed:
			c.mu.Unlock()
			return shared.ErrPlayerDestroyed
		}
		ch := c.connectedCh
		c.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return fmt.Errorf("%w: voice transport not connected after %s", shared.ErrTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleServerUpdate ingests the platform's voice-server packet: endpoint,
// token, and derived region. It pushes the voice payload to the engine,
// transitions to connected, and auto-unpauses a session that was paused
// while the transport was still connecting.
func (c *Connection) HandleServerUpdate(u models.VoiceServerUpdate) {
	c.mu.Lock()
	if c.state == VoiceDestroyed {
		c.mu.Unlock()
		return
	}

	wasConnecting := c.state == VoiceConnecting
	c.token = u.Token
	c.endpoint = u.Endpoint
	c.region = u.Region()
	c.lastUpdate = time.Now()
	c.state = VoiceConnected
	c.rearmLocked()

	sessionID := c.sessionID
	token := c.token
	endpoint := c.endpoint
	c.mu.Unlock()

	c.player.pushVoice(token, endpoint, sessionID)

	if wasConnecting && c.player.Paused() {
		_ = c.player.Pause(false)
	}
}

// HandleStateUpdate ingests the platform's voice-state packet. A nil channel
// id means the tenant left voice: the transport disconnects and the session
// is destroyed. A changed channel id is a move, reported without destroying
// the session.
func (c *Connection) HandleStateUpdate(u models.VoiceStateUpdate) {
	c.mu.Lock()
	if c.state == VoiceDestroyed {
		c.mu.Unlock()
		return
	}

	c.selfMute = u.SelfMute
	c.selfDeaf = u.SelfDeaf
	if u.SessionID != "" {
		c.sessionID = u.SessionID
	}
	c.lastUpdate = time.Now()

	if u.ChannelID == nil {
		c.state = VoiceDisconnected
		c.rearmLocked()
		c.mu.Unlock()

		c.player.Destroy()
		return
	}

	moved := c.channelID != "" && c.channelID != *u.ChannelID
	c.channelID = *u.ChannelID
	c.mu.Unlock()

	if moved {
		c.player.emit(events.Event{
			Type:    events.PlayerMove,
			GuildID: c.player.GuildID(),
			Payload: map[string]any{"channel": *u.ChannelID},
		})
	}
}

// ReplayVoice re-pushes the cached voice credentials to the player's engine
// binding. Failover uses it after a rebind: the platform already delivered
// the credentials once, so the transport can come back up without waiting
// for fresh packets. Returns false when no credentials are cached yet.
func (c *Connection) ReplayVoice() bool {
	c.mu.Lock()
	if c.state == VoiceDestroyed || c.token == "" || c.endpoint == "" || c.sessionID == "" {
		c.mu.Unlock()
		return false
	}
	if c.state != VoiceConnected {
		c.state = VoiceConnected
		c.rearmLocked()
	}
	token := c.token
	endpoint := c.endpoint
	sessionID := c.sessionID
	c.mu.Unlock()

	c.player.pushVoice(token, endpoint, sessionID)
	return true
}

// destroy tears the transport down with its session.
func (c *Connection) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == VoiceDestroyed {
		return
	}
	c.state = VoiceDestroyed
	// Wake waiters so AwaitConnected returns ErrPlayerDestroyed instead of
	// running out its timeout.
	close(c.connectedCh)
}
