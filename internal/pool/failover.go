package pool

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/node"
	"github.com/desertthunder/tunelink/internal/shared"
)

// voiceWaitTimeout bounds how long a re-homed player waits for its voice
// transport to come back before reissuing playback anyway.
const voiceWaitTimeout = 10 * time.Second

// handleNodeClose is the node OnClose hook: an unexpected stream loss
// re-homes every player bound to that node.
func (p *Pool) handleNodeClose(n *node.Node) {
	p.HandleNodeLoss(n.Name())
}

// HandleNodeLoss re-homes every player bound to the named engine. Each
// tenant's re-home runs under its own mutex so duplicate loss notifications
// for the same tenant serialize instead of racing.
func (p *Pool) HandleNodeLoss(lost string) {
	p.mu.RLock()
	affected := make([]string, 0)
	for guildID, pl := range p.players {
		if pl.Engine().Name() == lost {
			affected = append(affected, guildID)
		}
	}
	p.mu.RUnlock()

	if len(affected) == 0 {
		return
	}
	p.logger.Warn("re-homing players off lost node", "node", lost, "players", len(affected))

	for _, guildID := range affected {
		p.rehome(guildID, lost)
	}
}

// tenantLock returns the per-tenant re-home mutex, creating it on first use.
func (p *Pool) tenantLock(guildID string) *sync.Mutex {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	mu, ok := p.rehomes[guildID]
	if !ok {
		mu = &sync.Mutex{}
		p.rehomes[guildID] = mu
	}
	return mu
}

// rehome moves one tenant off a lost engine: pick the next-best instance,
// rebind, replay the cached voice credentials, and reissue playback at the
// last known position as a resumption.
func (p *Pool) rehome(guildID, lost string) {
	mu := p.tenantLock(guildID)
	mu.Lock()
	defer mu.Unlock()

	pl, ok := p.Get(guildID)
	if !ok || pl.Destroyed() {
		return
	}
	// A duplicate loss notification arriving after a successful re-home
	// observes the new binding and stops here.
	if pl.Engine().Name() != lost {
		return
	}

	replacement, err := p.bestExcluding(pl.Conn().Region(), lost)
	if err != nil {
		p.logger.Error("failover exhausted", "guild", guildID, "node", lost)
		if p.bus != nil {
			p.bus.Emit(events.Event{
				Type:    events.NodeError,
				Node:    lost,
				GuildID: guildID,
				Err:     shared.ErrFailoverExhausted,
			})
			p.bus.Emit(events.Event{Type: events.QueueEnd, GuildID: guildID, Track: pl.Current()})
		}
		return
	}

	pl.Rebind(replacement)
	p.logger.Info("player re-homed", "guild", guildID, "from", lost, "to", replacement.Name())
	if p.bus != nil {
		p.bus.Emit(events.Event{
			Type:    events.PlayerMove,
			Node:    replacement.Name(),
			GuildID: guildID,
			Payload: map[string]any{"from": lost, "to": replacement.Name()},
		})
	}

	pl.Conn().Begin()
	if !pl.Conn().ReplayVoice() {
		// No cached credentials yet; wait for the platform to deliver fresh
		// packets before touching playback.
		ctx, cancel := context.WithTimeout(context.Background(), voiceWaitTimeout)
		defer cancel()
		if err := pl.Conn().AwaitConnected(ctx, voiceWaitTimeout); err != nil {
			p.logger.Warn("voice transport did not recover", "guild", guildID, "err", err)
		}
	}

	if pl.Current() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), voiceWaitTimeout)
	defer cancel()
	if err := pl.Resume(ctx); err != nil {
		p.logger.Error("failed to resume playback after re-home", "guild", guildID, "err", err)
		if p.bus != nil {
			p.bus.Emit(events.Event{Type: events.TrackError, GuildID: guildID, Err: err})
		}
	}
}
