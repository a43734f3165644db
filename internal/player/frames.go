package player

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// Track-end reasons from the engine's event stream.
const (
	endReasonFinished   = "finished"
	endReasonLoadFailed = "loadFailed"
	endReasonStopped    = "stopped"
	endReasonReplaced   = "replaced"
	endReasonCleanup    = "cleanup"
)

type playerFrame struct {
	Op    string `json:"op"`
	Type  string `json:"type"`
	State *struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
		Ping      int64 `json:"ping"`
	} `json:"state,omitempty"`
	Track       *models.Track `json:"track,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	ThresholdMs int64         `json:"thresholdMs,omitempty"`
	Exception   *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception,omitempty"`
	Code     int  `json:"code,omitempty"`
	ByRemote bool `json:"byRemote,omitempty"`
}

// HandleFrame ingests one player-scoped frame from the engine's event stream.
// Malformed frames are dropped with a warning; a player never crashes on
// protocol noise.
func (p *Player) HandleFrame(raw json.RawMessage) {
	var frame playerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		p.logger.Warn("dropping malformed player frame", "err", err)
		return
	}

	switch frame.Op {
	case "playerUpdate":
		p.handleStateFrame(frame)
	case "event":
		p.handleEventFrame(frame, raw)
	default:
		p.logger.Debug("dropping frame with unknown op", "op", frame.Op)
	}
}

// handleStateFrame syncs the engine's authoritative position report.
func (p *Player) handleStateFrame(frame playerFrame) {
	if frame.State == nil {
		return
	}

	p.mu.Lock()
	p.position = frame.State.Position
	p.positionAt = time.Now()
	p.mu.Unlock()
}

func (p *Player) handleEventFrame(frame playerFrame, raw json.RawMessage) {
	switch frame.Type {
	case "TrackStartEvent":
		p.handleTrackStart(frame)
	case "TrackEndEvent":
		p.handleTrackEnd(frame)
	case "TrackExceptionEvent":
		p.handleTrackException(frame)
	case "TrackStuckEvent":
		p.handleTrackStuck(frame)
	case "WebSocketClosedEvent":
		p.handleStreamClosed(frame)
	default:
		p.logger.Debug("dropping unknown event type", "type", frame.Type)
		p.emit(events.Event{
			Type:    events.Debug,
			GuildID: p.guildID,
			Err:     fmt.Errorf("%w: event type %q", shared.ErrUnknownOp, frame.Type),
			Payload: map[string]any{"raw": string(raw)},
		})
	}
}

// handleTrackStart distinguishes a fresh start from the first start after a
// resume: a set pending-resume flag turns exactly one start into a resumed
// event, then clears.
func (p *Player) handleTrackStart(frame playerFrame) {
	p.mu.Lock()
	if frame.Track != nil {
		p.current = frame.Track
	}
	p.positionAt = time.Now()
	resumed := p.pendingResume
	p.pendingResume = false
	track := p.current
	engine := p.engine
	p.mu.Unlock()

	evtType := events.TrackStart
	if resumed {
		evtType = events.TrackResumed
	}

	name := ""
	if engine != nil {
		name = engine.Name()
	}
	p.emit(events.Event{Type: evtType, Node: name, GuildID: p.guildID, Track: track})
}

// handleTrackEnd applies the end-of-track policy: push history, raise the end
// event, then decide what plays next based on the end reason, transport
// state, loop mode, queue contents, and the autoplay supplier, in that order.
func (p *Player) handleTrackEnd(frame playerFrame) {
	p.mu.Lock()
	ended := p.current
	if frame.Track != nil {
		ended = frame.Track
	}
	if ended != nil {
		p.pushHistoryLocked(*ended)
	}
	p.current = nil
	p.position = 0
	p.positionAt = time.Time{}
	loop := p.loop
	p.mu.Unlock()

	p.emit(events.Event{
		Type:    events.TrackEnd,
		GuildID: p.guildID,
		Track:   ended,
		Payload: map[string]any{"reason": frame.Reason},
	})

	// A replaced track means a new play command is already in flight, and a
	// stopped one was an explicit halt. Neither auto-advances.
	if frame.Reason == endReasonReplaced || frame.Reason == endReasonStopped {
		return
	}

	if p.conn.State() == VoiceDisconnected {
		p.emit(events.Event{Type: events.QueueEnd, GuildID: p.guildID, Track: ended})
		return
	}

	p.mu.Lock()
	switch {
	case loop == models.LoopTrack && ended != nil:
		p.queue.AddFront(*ended)
	case loop == models.LoopQueue && ended != nil:
		p.queue.Add(*ended)
	}
	next, ok := p.queue.Next()
	if ok {
		p.current = &next
	}
	autoplay := p.autoplay
	p.mu.Unlock()

	if !ok && autoplay != nil {
		supplied, err := autoplay(ended)
		if err != nil {
			p.logger.Warn("autoplay supplier failed", "err", err)
		}
		if supplied != nil {
			p.mu.Lock()
			p.current = supplied
			p.mu.Unlock()
			ok = true
		}
	}

	if !ok {
		p.emit(events.Event{Type: events.QueueEnd, GuildID: p.guildID, Track: ended})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := p.Play(ctx, 0); err != nil {
		p.logger.Error("failed to start next track", "err", err)
		p.emit(events.Event{Type: events.TrackError, GuildID: p.guildID, Err: err})
	}
}

func (p *Player) handleTrackException(frame playerFrame) {
	payload := map[string]any{}
	if frame.Exception != nil {
		payload["message"] = frame.Exception.Message
		payload["severity"] = frame.Exception.Severity
		payload["cause"] = frame.Exception.Cause
	}
	p.logger.Warn("track raised exception", "payload", payload)
	p.emit(events.Event{
		Type:    events.TrackError,
		GuildID: p.guildID,
		Track:   frame.Track,
		Payload: payload,
	})
}

func (p *Player) handleTrackStuck(frame playerFrame) {
	p.logger.Warn("track stuck", "threshold_ms", frame.ThresholdMs)
	p.emit(events.Event{
		Type:    events.TrackStuck,
		GuildID: p.guildID,
		Track:   frame.Track,
		Payload: map[string]any{"thresholdMs": frame.ThresholdMs},
	})
}

// handleStreamClosed reacts to the engine losing its own voice stream. With
// auto-resume on and a track in flight, the player waits briefly for the
// stream to settle and then reissues its last known state as a resumption.
func (p *Player) handleStreamClosed(frame playerFrame) {
	p.logger.Warn("engine voice stream closed",
		"code", frame.Code, "by_remote", frame.ByRemote)

	p.mu.Lock()
	shouldResume := p.autoResume && p.current != nil && !p.destroyed
	if shouldResume {
		if p.resumeTimer != nil {
			p.resumeTimer.Stop()
		}
		p.resumeTimer = time.AfterFunc(resumeDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := p.resumePlayback(ctx); err != nil {
				p.logger.Warn("auto-resume failed", "err", err)
			}
		})
	}
	p.mu.Unlock()
}

// pushHistoryLocked records an ended track. Without a configured size the
// history keeps a single slot (the previous track).
func (p *Player) pushHistoryLocked(t models.Track) {
	limit := p.historySize
	if limit <= 0 {
		limit = 1
	}
	p.history = append(p.history, t)
	if len(p.history) > limit {
		p.history = p.history[len(p.history)-limit:]
	}
}

// Snapshot captures the player's full restorable state.
func (p *Player) Snapshot() models.PlayerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := ""
	if p.engine != nil {
		name = p.engine.Name()
	}

	data := make(map[string]string, len(p.data))
	for k, v := range p.data {
		data[k] = v
	}

	return models.PlayerSnapshot{
		GuildID:    p.guildID,
		NodeName:   name,
		VoiceCh:    p.conn.ChannelID(),
		TextCh:     p.textCh,
		Track:      p.current,
		Queue:      p.queue.Tracks(),
		Position:   p.positionLocked(),
		Volume:     p.volume,
		Paused:     p.paused,
		Loop:       p.loop,
		Filters:    p.filters,
		AutoResume: p.autoResume,
		Data:       data,
		UpdatedAt:  time.Now().UnixMilli(),
	}
}

// RestoreFrom rehydrates the player from a snapshot. It restores local state
// only; the caller reissues playback once the voice transport is back up.
func (p *Player) RestoreFrom(snap models.PlayerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = snap.Track
	p.queue.Replace(snap.Queue)
	p.position = snap.Position
	p.positionAt = time.Time{}
	p.volume = snap.Volume
	if p.volume <= 0 {
		p.volume = DefaultVolume
	}
	p.paused = snap.Paused
	if snap.Loop.Valid() {
		p.loop = snap.Loop
	}
	p.filters = snap.Filters
	p.autoResume = snap.AutoResume
	if snap.Data != nil {
		p.data = make(map[string]string, len(snap.Data))
		for k, v := range snap.Data {
			p.data[k] = v
		}
	}
}
