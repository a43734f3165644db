package pool

import (
	"fmt"

	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/player"
	"github.com/desertthunder/tunelink/internal/shared"
)

// SavePlayers snapshots every live player into the configured store.
func (p *Pool) SavePlayers() error {
	if p.store == nil {
		return nil
	}

	snapshots := map[string]models.PlayerSnapshot{}
	for _, pl := range p.Players() {
		if pl.Destroyed() {
			continue
		}
		snap := pl.Snapshot()
		snapshots[snap.GuildID] = snap
	}

	if err := p.store.Save(snapshots); err != nil {
		return fmt.Errorf("save player snapshots: %w", err)
	}
	p.logger.Info("saved player snapshots", "count", len(snapshots))
	return nil
}

// RestorePlayers rebuilds players from the store after a restart. A failed
// load yields zero sessions and is logged, never fatal: the system comes up
// empty rather than not at all. Returns the number of recovered sessions.
func (p *Pool) RestorePlayers() int {
	if p.store == nil {
		return 0
	}

	snapshots, err := p.store.Load()
	if err != nil {
		p.logger.Error("snapshot restore failed", "err", fmt.Errorf("%w: %v", shared.ErrRestoreFailed, err))
		return 0
	}

	restored := 0
	for guildID, snap := range snapshots {
		pl, err := p.restoreOne(guildID, snap)
		if err != nil {
			p.logger.Warn("skipping unrestorable session", "guild", guildID, "err", err)
			continue
		}
		p.mu.Lock()
		p.players[guildID] = pl
		p.mu.Unlock()
		restored++
	}

	if restored > 0 {
		p.logger.Info("restored player sessions", "count", restored)
	}
	return restored
}

// restoreOne rebuilds a single player, preferring the node the snapshot was
// taken on when it is still healthy.
func (p *Pool) restoreOne(guildID string, snap models.PlayerSnapshot) (*player.Player, error) {
	var engine Engine
	p.mu.RLock()
	for _, e := range p.engines {
		if e.Name() == snap.NodeName && e.Connected() {
			engine = e
			break
		}
	}
	p.mu.RUnlock()

	if engine == nil {
		best, err := p.BestNode("")
		if err != nil {
			return nil, err
		}
		engine = best
	}

	pl, err := player.New(player.Options{
		GuildID:        guildID,
		VoiceChannel:   snap.VoiceCh,
		TextChannel:    snap.TextCh,
		Engine:         engine,
		Bus:            p.publisher(),
		Logger:         p.logger,
		CoalesceWindow: p.coalesce,
		AutoResume:     snap.AutoResume,
	})
	if err != nil {
		return nil, err
	}
	pl.RestoreFrom(snap)
	pl.Conn().Begin()
	return pl, nil
}

// Close shuts the pool down: snapshots saved best-effort, every player and
// node destroyed, the store closed.
func (p *Pool) Close() error {
	if err := p.SavePlayers(); err != nil {
		p.logger.Warn("final snapshot save failed", "err", err)
	}

	for _, pl := range p.Players() {
		pl.Destroy()
	}
	for _, n := range p.Nodes() {
		n.Destroy()
	}

	p.mu.Lock()
	p.players = map[string]*player.Player{}
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Close(); err != nil {
			return fmt.Errorf("close snapshot store: %w", err)
		}
	}
	return nil
}
