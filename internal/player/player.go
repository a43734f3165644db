package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// DefaultVolume is the initial player volume.
const DefaultVolume = 100

// resumeDelay is how long a player waits after an engine-side stream loss
// before reissuing its last known state.
const resumeDelay = 2 * time.Second

// commandTimeout bounds every outbound REST command a player issues.
const commandTimeout = 10 * time.Second

// Engine is the slice of a node a player needs: identity, liveness, and the
// REST command surface. The binding is replaceable; failover swaps it.
type Engine interface {
	Name() string
	Connected() bool
	Update(ctx context.Context, guildID string, payload map[string]any, noReplace bool) error
	DestroyPlayer(ctx context.Context, guildID string) error
}

// AutoplaySupplier produces a follow-up track once the queue runs dry.
// Returning nil means nothing to play.
type AutoplaySupplier func(last *models.Track) (*models.Track, error)

// Options configures a Player.
type Options struct {
	GuildID      string
	VoiceChannel string
	TextChannel  string
	Engine       Engine
	Bus          events.Publisher
	Logger       *log.Logger
	// CoalesceWindow overrides the update buffer window.
	CoalesceWindow time.Duration
	// HistorySize bounds the recent-track history; zero keeps a single slot.
	HistorySize int
	AutoResume  bool
}

// Player is the per-tenant playback state machine.
type Player struct {
	guildID string
	textCh  string
	bus     events.Publisher
	logger  *log.Logger
	buf     *coalescer

	mu            sync.Mutex
	engine        Engine
	conn          *Connection
	queue         Queue
	current       *models.Track
	position      int64
	positionAt    time.Time
	volume        int
	paused        bool
	loop          models.LoopMode
	filters       map[string]any
	data          map[string]string
	history       []models.Track
	historySize   int
	autoResume    bool
	autoplay      AutoplaySupplier
	pendingResume bool
	resumeTimer   *time.Timer
	destroyed     bool
}

// New creates a player bound to the given engine and raises the session
// creation event.
func New(opts Options) (*Player, error) {
	if opts.GuildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", shared.ErrMissingArgument)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine binding is required", shared.ErrMissingArgument)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NopLogger()
	}

	p := &Player{
		guildID:     opts.GuildID,
		textCh:      opts.TextChannel,
		bus:         opts.Bus,
		logger:      logger.With("guild", opts.GuildID),
		engine:      opts.Engine,
		volume:      DefaultVolume,
		loop:        models.LoopNone,
		data:        map[string]string{},
		historySize: opts.HistorySize,
		autoResume:  opts.AutoResume,
	}
	p.conn = newConnection(p, opts.VoiceChannel)
	p.buf = newCoalescer(opts.CoalesceWindow, p.sendUpdate)

	p.emit(events.Event{Type: events.PlayerCreate, Node: opts.Engine.Name(), GuildID: p.guildID})
	return p, nil
}

func (p *Player) emit(evt events.Event) {
	if p.bus != nil {
		p.bus.Emit(evt)
	}
}

// GuildID returns the tenant id this player serves.
func (p *Player) GuildID() string { return p.guildID }

// Conn returns the player's voice transport.
func (p *Player) Conn() *Connection { return p.conn }

// Engine returns the currently bound engine.
func (p *Player) Engine() Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// Rebind swaps the engine binding. Failover uses it after selecting a
// replacement node; the player is bound to exactly one engine at any instant.
func (p *Player) Rebind(e Engine) {
	p.mu.Lock()
	p.engine = e
	p.mu.Unlock()
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Current returns the playing track, or nil.
func (p *Player) Current() *models.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Position returns the playback position in milliseconds, interpolated from
// the last engine report while playing.
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() int64 {
	pos := p.position
	if p.current != nil && !p.paused && !p.positionAt.IsZero() {
		pos += time.Since(p.positionAt).Milliseconds()
	}
	return pos
}

// Volume returns the current volume (0..1000).
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Loop returns the loop mode.
func (p *Player) Loop() models.LoopMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

// Queue returns the queued tracks in order.
func (p *Player) Queue() []models.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Tracks()
}

// History returns the recently ended tracks, newest last.
func (p *Player) History() []models.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]models.Track, len(p.history))
	copy(cp, p.history)
	return cp
}

// Add appends a track to the queue.
func (p *Player) Add(t models.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return shared.ErrPlayerDestroyed
	}
	p.queue.Add(t)
	return nil
}

// SetAutoplay installs the next-track supplier consulted when the queue runs
// dry. A nil supplier disables autoplay.
func (p *Player) SetAutoplay(fn AutoplaySupplier) {
	p.mu.Lock()
	p.autoplay = fn
	p.mu.Unlock()
}

// SetData stores a scratch key-value pair on the player.
func (p *Player) SetData(key, value string) {
	p.mu.Lock()
	p.data[key] = value
	p.mu.Unlock()
}

// GetData reads a scratch value.
func (p *Player) GetData(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return v, ok
}

// DeleteData removes a scratch value.
func (p *Player) DeleteData(key string) {
	p.mu.Lock()
	delete(p.data, key)
	p.mu.Unlock()
}

// sendUpdate is the coalescer flush target: one merged outbound command.
func (p *Player) sendUpdate(payload map[string]any) {
	p.mu.Lock()
	engine := p.engine
	destroyed := p.destroyed
	p.mu.Unlock()

	if destroyed || engine == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := engine.Update(ctx, p.guildID, payload, false); err != nil {
		p.logger.Error("player update failed", "err", err)
		p.emit(events.Event{Type: events.Debug, Node: engine.Name(), GuildID: p.guildID, Err: err})
	}
}

func (p *Player) checkUsableLocked() error {
	if p.destroyed {
		return shared.ErrPlayerDestroyed
	}
	if p.engine == nil || !p.engine.Connected() {
		return shared.ErrNodeDisconnected
	}
	return nil
}

// Play starts playback at the given position. With no current track it
// consumes the queue head. Play is urgent: the buffer is flushed first and
// the play command goes out immediately.
func (p *Player) Play(ctx context.Context, startMs int64) error {
	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}

	if p.current == nil {
		next, ok := p.queue.Next()
		if !ok {
			p.mu.Unlock()
			return shared.ErrNothingPlaying
		}
		p.current = &next
	}

	track := *p.current
	p.position = startMs
	p.positionAt = time.Now()
	p.paused = false
	volume := p.volume
	filters := p.filters
	engine := p.engine
	p.mu.Unlock()

	p.buf.Flush()

	payload := map[string]any{
		"track":    map[string]any{"encoded": track.Encoded},
		"position": startMs,
		"volume":   volume,
		"paused":   false,
	}
	if len(filters) > 0 {
		payload["filters"] = filters
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return engine.Update(ctx, p.guildID, payload, false)
}

// resumePlayback reissues the last known track, position, volume, and
// filters, marking the pending-resume flag so the next track-start frame is
// reported as a resumption instead of a fresh start.
func (p *Player) resumePlayback(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed || p.current == nil {
		p.mu.Unlock()
		return shared.ErrNothingPlaying
	}
	p.pendingResume = true
	position := p.positionLocked()
	p.mu.Unlock()

	err := p.Play(ctx, position)
	if err != nil {
		p.mu.Lock()
		p.pendingResume = false
		p.mu.Unlock()
	}
	return err
}

// Stop halts playback and clears the current track. Urgent: any buffered
// update is flushed first so command order is preserved.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.current = nil
	p.position = 0
	p.positionAt = time.Time{}
	engine := p.engine
	p.mu.Unlock()

	p.buf.Flush()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return engine.Update(ctx, p.guildID, map[string]any{"track": map[string]any{"encoded": nil}}, false)
}

// Pause pauses or resumes playback. The change is coalesced.
func (p *Player) Pause(pause bool) error {
	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	// Freeze or restart local position interpolation at the flip point.
	p.position = p.positionLocked()
	p.positionAt = time.Now()
	p.paused = pause
	p.mu.Unlock()

	p.buf.Put("paused", pause)
	return nil
}

// SeekTo jumps to a position in the current track. The change is coalesced.
func (p *Player) SeekTo(positionMs int64) error {
	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.current == nil {
		p.mu.Unlock()
		return shared.ErrNothingPlaying
	}
	p.position = positionMs
	p.positionAt = time.Now()
	p.mu.Unlock()

	p.buf.Put("position", positionMs)
	return nil
}

// SetVolume sets the volume in the engine's 0..1000 range.
func (p *Player) SetVolume(volume int) error {
	if volume < 0 || volume > 1000 {
		return fmt.Errorf("%w: %d", shared.ErrVolumeRange, volume)
	}

	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.volume = volume
	p.mu.Unlock()

	p.buf.Put("volume", volume)
	return nil
}

// SetLoop selects the loop mode applied when tracks end.
func (p *Player) SetLoop(mode models.LoopMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", shared.ErrInvalidLoopMode, mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return shared.ErrPlayerDestroyed
	}
	p.loop = mode
	return nil
}

// SetFilters replaces the audio filter payload. The change is coalesced.
func (p *Player) SetFilters(filters map[string]any) error {
	p.mu.Lock()
	if err := p.checkUsableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.filters = filters
	p.mu.Unlock()

	p.buf.Put("filters", filters)
	return nil
}

// ShuffleQueue randomizes the queue order.
func (p *Player) ShuffleQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Shuffle()
}

// MoveQueueItem relocates a queued track. Out-of-range indices are a no-op.
func (p *Player) MoveQueueItem(from, to int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Move(from, to)
}

// RemoveQueueItem deletes a queued track. Out-of-range indices are a no-op.
func (p *Player) RemoveQueueItem(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Remove(i)
}

// pushVoice forwards the voice credential triple to the engine, coalesced
// like any other update.
func (p *Player) pushVoice(token, endpoint, sessionID string) {
	p.buf.Put("voice", map[string]any{
		"token":     token,
		"endpoint":  endpoint,
		"sessionId": sessionID,
	})
}

// Destroy tears the session down: timers cancelled, buffered updates
// discarded, the engine-side player removed, and all further operations
// rejected.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	if p.resumeTimer != nil {
		p.resumeTimer.Stop()
		p.resumeTimer = nil
	}
	engine := p.engine
	p.mu.Unlock()

	p.buf.Close()
	p.conn.destroy()

	if engine != nil && engine.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := engine.DestroyPlayer(ctx, p.guildID); err != nil {
			p.logger.Warn("engine-side destroy failed", "err", err)
		}
	}

	p.logger.Info("player destroyed")
	p.emit(events.Event{Type: events.PlayerDestroy, GuildID: p.guildID})
}

// Destroyed reports whether the player has been torn down.
func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Resume reissues the last known playback state as a resumption. The pool
// calls it after a re-home once the voice transport is back.
func (p *Player) Resume(ctx context.Context) error {
	return p.resumePlayback(ctx)
}
