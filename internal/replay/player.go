package replay

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
)

// Settings tunes seeking.
type Settings struct {
	// VisualEventThreshold is the forward distance in ticks beyond which a
	// seek suppresses transient effects.
	VisualEventThreshold int
	// CheckpointJumpInterval is the forward distance in ticks beyond which a
	// seek resets to a checkpoint instead of ticking one by one.
	CheckpointJumpInterval int
}

// DefaultSettings returns the default seek tuning.
func DefaultSettings() Settings {
	return Settings{
		VisualEventThreshold:   20,
		CheckpointJumpInterval: 500,
	}
}

// Config holds the dependencies of a Player. Only Simulation is required.
type Config struct {
	Simulation Simulation
	Settings   Settings
	Logger     logrus.FieldLogger
	Telemetry  Telemetry
	// Host, when set, is asked before every StartReplay.
	Host HostGate
}

// Cursor is the mutable playback position. CurrentIndex is -1 while no
// replay is loaded.
type Cursor struct {
	CurrentIndex       int
	Playing            bool
	ScrubbingTarget    *int
	AutoPauseCountdown *uint32
}

func (c Cursor) clone() Cursor {
	if c.ScrubbingTarget != nil {
		v := *c.ScrubbingTarget
		c.ScrubbingTarget = &v
	}
	if c.AutoPauseCountdown != nil {
		v := *c.AutoPauseCountdown
		c.AutoPauseCountdown = &v
	}
	return c
}

// Player drives a Simulation through a recorded Log.
type Player struct {
	sim       Simulation
	settings  Settings
	log       logrus.FieldLogger
	telemetry Telemetry
	host      HostGate

	observers Observers
	messages  *MessageReplayer

	replay *Log
	cursor Cursor
}

// NewPlayer creates an idle player.
func NewPlayer(cfg Config) *Player {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = noopTelemetry{}
	}
	return &Player{
		sim:       cfg.Simulation,
		settings:  cfg.Settings,
		log:       cfg.Logger,
		telemetry: cfg.Telemetry,
		host:      cfg.Host,
		messages:  NewMessageReplayer(cfg.Simulation, cfg.Logger, cfg.Telemetry),
		cursor:    Cursor{CurrentIndex: -1},
	}
}

// Subscribe registers fn for playback notifications. Notifications are
// synchronous and fire in registration order.
func (p *Player) Subscribe(fn func(Event)) func() {
	return p.observers.Subscribe(fn)
}

// SetEventHandler installs h to see generic events before default dispatch.
func (p *Player) SetEventHandler(h EventHandler) {
	p.messages.SetHandler(h)
}

// Active reports whether a replay is loaded.
func (p *Player) Active() bool {
	return p.replay != nil
}

// Log returns the loaded recording, or nil.
func (p *Player) Log() *Log {
	return p.replay
}

// Cursor returns a copy of the playback position.
func (p *Player) Cursor() Cursor {
	return p.cursor.clone()
}

// CurrentIndex returns the index of the last applied tick, or -1.
func (p *Player) CurrentIndex() int {
	return p.cursor.CurrentIndex
}

// Settings returns the seek tuning.
func (p *Player) Settings() Settings {
	return p.settings
}

// StartReplay loads l and resets the simulation to its first checkpoint.
func (p *Player) StartReplay(l *Log) error {
	if p.replay != nil {
		return fmt.Errorf("%w: a replay is already active", ErrInvalidOperation)
	}
	if p.host != nil {
		if err := p.host.CanStartReplay(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
		}
	}
	if err := l.Validate(); err != nil {
		return err
	}

	p.replay = l
	p.cursor = Cursor{CurrentIndex: -1}
	p.messages.Begin(l.ClientSide)

	if err := p.resetToCheckpoint(0, nil, true); err != nil {
		p.sim.FlushEntities()
		p.sim.ClearDetachQueue()
		p.replay = nil
		p.cursor = Cursor{CurrentIndex: -1}
		return fmt.Errorf("start replay: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"ticks":       l.Len(),
		"checkpoints": len(l.Checkpoints),
	}).Info("replay started")
	p.observers.emit(Event{
		Kind:         EventReplayStarted,
		Index:        p.cursor.CurrentIndex,
		Tick:         l.States[p.cursor.CurrentIndex].ToSequence,
		Metadata:     l.Metadata,
		InitMessages: l.InitMessages,
	})
	return nil
}

// StopReplay flushes every entity and unloads the recording.
func (p *Player) StopReplay() error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	p.sim.FlushEntities()
	p.sim.ClearDetachQueue()
	p.replay = nil
	p.cursor = Cursor{CurrentIndex: -1}
	p.log.Info("replay stopped")
	p.observers.emit(Event{Kind: EventReplayStopped, Index: -1})
	return nil
}

// SetPlaying starts or pauses playback.
func (p *Player) SetPlaying(playing bool) error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	p.setPlaying(playing)
	return nil
}

func (p *Player) setPlaying(playing bool) {
	if p.cursor.Playing == playing {
		return
	}
	p.cursor.Playing = playing
	kind := EventPaused
	if playing {
		kind = EventUnpaused
	}
	p.observers.emit(Event{Kind: kind, Index: p.cursor.CurrentIndex, Tick: p.currentTick()})
}

// IsPlaying reports whether frames advance playback. It is false while a
// scrub target is set and at the last index.
func (p *Player) IsPlaying() bool {
	if p.replay == nil {
		return false
	}
	return p.cursor.Playing && p.cursor.ScrubbingTarget == nil && p.cursor.CurrentIndex < p.replay.LastIndex()
}

// SetScrubbingTarget sets or, with nil, clears the index the player seeks
// to on every frame. A new target replaces any pending one.
func (p *Player) SetScrubbingTarget(target *int) error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	if target == nil {
		p.cursor.ScrubbingTarget = nil
		return nil
	}
	v := *target
	p.cursor.ScrubbingTarget = &v
	return nil
}

// SetAutoPauseCountdown pauses playback after count more frame advances. nil
// disables the countdown.
func (p *Player) SetAutoPauseCountdown(count *uint32) error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	if count == nil {
		p.cursor.AutoPauseCountdown = nil
		return nil
	}
	v := *count
	p.cursor.AutoPauseCountdown = &v
	return nil
}

func (p *Player) currentTick() gamestate.Tick {
	if p.replay == nil || p.cursor.CurrentIndex < 0 {
		return 0
	}
	return p.replay.States[p.cursor.CurrentIndex].ToSequence
}
