// Package viewer hosts a replay player behind a mutex and drives it from a
// frame ticker running at the recording's tick rate.
package viewer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
	"tick-replay/internal/replay"
	"tick-replay/internal/sim"
)

// Loader reads a recording into a replay log.
type Loader interface {
	Load(ctx context.Context, path string) (*replay.Log, error)
}

// Config holds the dependencies of a Host.
type Config struct {
	World     *sim.World
	Settings  replay.Settings
	Loader    Loader
	Telemetry replay.Telemetry
	Logger    logrus.FieldLogger
}

// Host serialises all access to a player and its world.
type Host struct {
	mu     sync.Mutex
	world  *sim.World
	player *replay.Player
	loader Loader
	log    logrus.FieldLogger

	session string
	source  string

	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a host with an idle player.
func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.World == nil {
		cfg.World = sim.New(cfg.Logger)
	}
	return &Host{
		world: cfg.World,
		player: replay.NewPlayer(replay.Config{
			Simulation: cfg.World,
			Settings:   cfg.Settings,
			Logger:     cfg.Logger,
			Telemetry:  cfg.Telemetry,
			Host:       cfg.World,
		}),
		loader: cfg.Loader,
		log:    cfg.Logger,
	}
}

// Start begins the frame loop.
func (h *Host) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopChan = make(chan struct{})
	h.done = make(chan struct{})
	rate := h.world.Cvars().TickRate()
	stop, done := h.stopChan, h.done
	h.mu.Unlock()

	go h.loop(rate, stop, done)
	h.log.WithField("rate", rate).Info("🎬 Replay viewer started")
}

// Stop halts the frame loop and waits for it to exit.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopChan)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info("🛑 Replay viewer stopped")
}

func (h *Host) loop(rate int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(framePeriod(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if next := h.Frame(); next != rate {
				rate = next
				ticker.Reset(framePeriod(rate))
			}
		case <-stop:
			return
		}
	}
}

func framePeriod(rate int) time.Duration {
	if rate <= 0 {
		rate = gamestate.DefaultTickRate
	}
	return time.Second / time.Duration(rate)
}

// Frame advances playback by one frame and returns the tick rate the next
// frame should run at.
func (h *Host) Frame() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverFrame()

	if h.player.Active() {
		if err := h.player.Update(); err != nil {
			h.logger().WithError(err).Error("frame update failed")
			h.capture(err)
		}
	}
	return h.world.Cvars().TickRate()
}

func (h *Host) recoverFrame() {
	if r := recover(); r != nil {
		h.logger().Errorf("frame panic: %v", r)
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("session", h.session)
			scope.SetTag("index", strconv.Itoa(h.player.CurrentIndex()))
		})
		hub.Recover(r)
		hub.Flush(5 * time.Second)
	}
}

func (h *Host) capture(err error) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("session", h.session)
		scope.SetTag("source", h.source)
		scope.SetTag("index", strconv.Itoa(h.player.CurrentIndex()))
	})
	hub.CaptureException(err)
}

func (h *Host) logger() logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"session": h.session,
		"index":   h.player.CurrentIndex(),
	})
}

// Subscribe registers fn for playback notifications. fn runs with the host
// locked and must not call back into the host.
func (h *Host) Subscribe(fn func(replay.Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	unsubscribe := h.player.Subscribe(fn)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		unsubscribe()
	}
}

// SetEventHandler installs a generic event handler on the player.
func (h *Host) SetEventHandler(fn replay.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.player.SetEventHandler(fn)
}

// Load reads the recording at path and starts it, replacing any active
// replay.
func (h *Host) Load(ctx context.Context, path string) (string, error) {
	if h.loader == nil {
		return "", fmt.Errorf("%w: no recording loader configured", replay.ErrInvalidOperation)
	}
	l, err := h.loader.Load(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return h.start(l, path)
}

// LoadLog starts an already prepared log, replacing any active replay.
func (h *Host) LoadLog(l *replay.Log, source string) (string, error) {
	return h.start(l, source)
}

func (h *Host) start(l *replay.Log, source string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.player.Active() {
		if err := h.player.StopReplay(); err != nil {
			return "", err
		}
	}
	h.session = uuid.NewString()
	h.source = source
	if err := h.player.StartReplay(l); err != nil {
		h.logger().WithError(err).Error("failed to start replay")
		h.capture(err)
		h.session = ""
		h.source = ""
		return "", err
	}
	h.logger().WithFields(logrus.Fields{
		"source": source,
		"ticks":  l.Len(),
	}).Info("📼 Replay loaded")
	return h.session, nil
}

// StopReplay unloads the active replay.
func (h *Host) StopReplay() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.player.StopReplay(); err != nil {
		return err
	}
	h.session = ""
	h.source = ""
	return nil
}

// SetPlaying starts or pauses playback.
func (h *Host) SetPlaying(playing bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.player.SetPlaying(playing)
}

// SetIndex seeks to index.
func (h *Host) SetIndex(index int, pause bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.player.SetIndex(index, pause)
	h.reportSeek(err)
	return err
}

// SetTime seeks to the tick playing at d.
func (h *Host) SetTime(d time.Duration, pause bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.player.SetTime(d, pause)
	h.reportSeek(err)
	return err
}

func (h *Host) reportSeek(err error) {
	if err == nil {
		return
	}
	h.logger().WithError(err).Warn("seek failed")
	if h.player.Active() {
		h.capture(err)
	}
}

// GetIndex maps a replay time to an index.
func (h *Host) GetIndex(d time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.player.GetIndex(d)
}

// SetScrubbingTarget sets or clears the scrub target.
func (h *Host) SetScrubbingTarget(target *int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.player.SetScrubbingTarget(target)
}

// SetAutoPauseCountdown sets or clears the auto-pause countdown.
func (h *Host) SetAutoPauseCountdown(count *uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.player.SetAutoPauseCountdown(count)
}
