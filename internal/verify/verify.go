// Package verify checks that every way of reaching an index of a recording
// produces the same simulation state as playing it from the start.
package verify

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/replay"
	"tick-replay/internal/sim"
)

// Options configures a verification run.
type Options struct {
	Settings replay.Settings
	// Seeks is the number of random seeks after the fixed ones.
	Seeks int
	Seed  uint64
}

// Mismatch is an index reached with a different checksum than sequential
// playback produced.
type Mismatch struct {
	Phase string
	From  int
	To    int
	Want  uint64
	Got   uint64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s %d -> %d: checksum %016x, want %016x", m.Phase, m.From, m.To, m.Got, m.Want)
}

// Report summarises a run.
type Report struct {
	Ticks       int
	Checkpoints int
	Resets      int
	Seeks       int
	Took        time.Duration
	Mismatches  []Mismatch
}

// OK reports whether no mismatch was found.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

type session struct {
	player *replay.Player
	world  *sim.World
}

func start(l *replay.Log, settings replay.Settings, log logrus.FieldLogger) (*session, error) {
	world := sim.New(log)
	p := replay.NewPlayer(replay.Config{
		Simulation: world,
		Settings:   settings,
		Logger:     log,
		Host:       world,
	})
	if err := p.StartReplay(l); err != nil {
		return nil, err
	}
	return &session{player: p, world: world}, nil
}

// Sequential plays l frame by frame and returns the checksum after every
// index.
func Sequential(l *replay.Log, settings replay.Settings, log logrus.FieldLogger) ([]uint64, error) {
	s, err := start(l, settings, log)
	if err != nil {
		return nil, err
	}
	sums := make([]uint64, 0, l.Len())
	sums = append(sums, s.world.Checksum())
	if err := s.player.SetPlaying(true); err != nil {
		return nil, err
	}
	for s.player.IsPlaying() {
		if err := s.player.Update(); err != nil {
			return nil, fmt.Errorf("update at index %d: %w", s.player.CurrentIndex(), err)
		}
		sums = append(sums, s.world.Checksum())
	}
	return sums, nil
}

// Run verifies l: a sequential pass, a reset to every checkpoint, then
// fixed and random seeks.
func Run(l *replay.Log, opts Options, log logrus.FieldLogger) (Report, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	began := time.Now()
	report := Report{Ticks: l.Len(), Checkpoints: len(l.Checkpoints)}

	sums, err := Sequential(l, opts.Settings, log)
	if err != nil {
		return report, fmt.Errorf("sequential pass: %w", err)
	}
	log.WithField("ticks", len(sums)).Info("sequential pass complete")

	s, err := start(l, opts.Settings, log)
	if err != nil {
		return report, err
	}

	check := func(phase string, from int) {
		to := s.player.CurrentIndex()
		if got := s.world.Checksum(); got != sums[to] {
			m := Mismatch{Phase: phase, From: from, To: to, Want: sums[to], Got: got}
			log.WithFields(logrus.Fields{"phase": phase, "from": from, "index": to}).Error(m.String())
			report.Mismatches = append(report.Mismatches, m)
		}
	}

	for _, cp := range l.Checkpoints {
		from := s.player.CurrentIndex()
		if err := s.player.ResetToCheckpoint(cp.Index, false); err != nil {
			return report, fmt.Errorf("reset to checkpoint %d: %w", cp.Index, err)
		}
		report.Resets++
		check("reset", from)
	}

	last := l.LastIndex()
	targets := []int{0, last, last / 2, 0, last}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5851f42d4c957f2d))
	for range opts.Seeks {
		targets = append(targets, rng.IntN(last+1))
	}
	for _, target := range targets {
		from := s.player.CurrentIndex()
		if err := s.player.SetIndex(target, true); err != nil {
			return report, fmt.Errorf("seek %d -> %d: %w", from, target, err)
		}
		report.Seeks++
		check("seek", from)
	}

	report.Took = time.Since(began)
	return report, nil
}
