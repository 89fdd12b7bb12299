package replay

import (
	"errors"
	"slices"
	"testing"
	"time"

	"tick-replay/internal/gamestate"
)

func startedPlayer(t *testing.T, n, every int) (*Player, *fakeSim, *fakeTelemetry) {
	t.Helper()
	sim := newFakeSim()
	tel := &fakeTelemetry{}
	p := newTestPlayer(sim, tel)
	if err := p.StartReplay(makeLog(n, every)); err != nil {
		t.Fatalf("StartReplay: %v", err)
	}
	return p, sim, tel
}

func ticks(from, to int) []gamestate.Tick {
	var out []gamestate.Tick
	for i := from; i <= to; i++ {
		out = append(out, gamestate.Tick(i))
	}
	return out
}

func TestStartReplay(t *testing.T) {
	p, sim, _ := startedPlayer(t, 10, 5)

	if p.CurrentIndex() != 0 {
		t.Errorf("expected index 0, got %d", p.CurrentIndex())
	}
	if sim.calls[0] != "flush" {
		t.Errorf("expected entities flushed first, got %v", sim.calls)
	}
	if sim.curTick != 2 {
		t.Errorf("expected clock one past checkpoint tick, got %d", sim.curTick)
	}
	if sim.cvars["net.tickrate"] != 10 {
		t.Errorf("expected cvars restored, got %v", sim.cvars)
	}
	if err := p.StartReplay(makeLog(10, 5)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation on second start, got %v", err)
	}
}

type refuseHost struct{}

func (refuseHost) CanStartReplay() error { return errors.New("connected to a live server") }

func TestStartReplayHostGate(t *testing.T) {
	p := NewPlayer(Config{Simulation: newFakeSim(), Host: refuseHost{}})
	if err := p.StartReplay(makeLog(10, 5)); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if p.Active() {
		t.Error("replay must not be active")
	}
}

func TestStartReplayInvalidLog(t *testing.T) {
	broken := makeLog(10, 5)
	broken.Messages = broken.Messages[:3]
	noFirst := makeLog(10, 5)
	noFirst.Checkpoints = noFirst.Checkpoints[1:]

	tests := []struct {
		name string
		log  *Log
	}{
		{"empty", &Log{}},
		{"message count", broken},
		{"no checkpoint at 0", noFirst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlayer(Config{Simulation: newFakeSim()})
			if err := p.StartReplay(tt.log); !errors.Is(err, ErrInvalidLog) {
				t.Errorf("expected ErrInvalidLog, got %v", err)
			}
		})
	}
}

func TestOperationsWithoutReplay(t *testing.T) {
	p := NewPlayer(Config{Simulation: newFakeSim()})

	ops := map[string]func() error{
		"StopReplay":            p.StopReplay,
		"SetPlaying":            func() error { return p.SetPlaying(true) },
		"SetIndex":              func() error { return p.SetIndex(3, true) },
		"SetTime":               func() error { return p.SetTime(time.Second, true) },
		"GetIndex":              func() error { _, err := p.GetIndex(time.Second); return err },
		"SetScrubbingTarget":    func() error { return p.SetScrubbingTarget(ptr(2)) },
		"SetAutoPauseCountdown": func() error { return p.SetAutoPauseCountdown(ptr(uint32(2))) },
		"ResetToCheckpoint":     func() error { return p.ResetToCheckpoint(0, false) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrInvalidOperation) {
				t.Errorf("expected ErrInvalidOperation, got %v", err)
			}
		})
	}

	if err := p.Update(); err != nil {
		t.Errorf("Update without replay should be a no-op, got %v", err)
	}
	if p.IsPlaying() {
		t.Error("IsPlaying must be false without replay")
	}
}

func TestStopReplay(t *testing.T) {
	p, sim, _ := startedPlayer(t, 10, 5)
	var got []EventKind
	p.Subscribe(func(ev Event) { got = append(got, ev.Kind) })
	sim.reset()

	if err := p.StopReplay(); err != nil {
		t.Fatalf("StopReplay: %v", err)
	}
	if !slices.Contains(sim.calls, "flush") {
		t.Error("expected entities flushed")
	}
	if p.Active() || p.CurrentIndex() != -1 {
		t.Error("expected player unloaded")
	}
	if !slices.Equal(got, []EventKind{EventReplayStopped}) {
		t.Errorf("unexpected events %v", got)
	}
}

func TestSetIndexJumpsToCheckpoint(t *testing.T) {
	p, sim, tel := startedPlayer(t, 1000, 50)
	if err := p.SetIndex(10, true); err != nil {
		t.Fatalf("SetIndex(10): %v", err)
	}
	sim.reset()

	if err := p.SetIndex(730, true); err != nil {
		t.Fatalf("SetIndex(730): %v", err)
	}
	if p.CurrentIndex() != 730 {
		t.Fatalf("expected index 730, got %d", p.CurrentIndex())
	}
	if !slices.Contains(sim.calls, "full:701") {
		t.Errorf("expected reset to checkpoint 700 (tick 701), got %v", sim.calls)
	}
	// Indices 701..730 are ticks 702..731.
	if !slices.Equal(sim.applied, ticks(702, 731)) {
		t.Errorf("unexpected applied ticks %v", sim.applied)
	}
	for _, ev := range sim.events {
		if !ev.skipEffects {
			t.Fatal("expected effects skipped on a long jump")
		}
	}
	last := tel.seeks[len(tel.seeks)-1]
	if last.strategy != SeekJump || last.ticks != 30 {
		t.Errorf("unexpected seek record %+v", last)
	}
}

func TestSetIndexRewind(t *testing.T) {
	p, sim, tel := startedPlayer(t, 1000, 50)
	if err := p.SetIndex(730, true); err != nil {
		t.Fatalf("SetIndex(730): %v", err)
	}
	sim.reset()

	if err := p.SetIndex(5, true); err != nil {
		t.Fatalf("SetIndex(5): %v", err)
	}
	if !slices.Contains(sim.calls, "full:1") {
		t.Errorf("expected reset to checkpoint 0, got %v", sim.calls)
	}
	if !slices.Equal(sim.applied, ticks(2, 6)) {
		t.Errorf("unexpected applied ticks %v", sim.applied)
	}
	for _, ev := range sim.events {
		if !ev.skipEffects {
			t.Fatal("rewind must skip effects")
		}
	}
	if got := tel.seeks[len(tel.seeks)-1].strategy; got != SeekRewind {
		t.Errorf("expected rewind strategy, got %s", got)
	}
}

func TestSetIndexSequential(t *testing.T) {
	p, sim, tel := startedPlayer(t, 1000, 50)
	if err := p.SetIndex(10, true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target int
		skip   bool
	}{
		{"beyond visual threshold", 40, true},
		{"short hop", 45, false},
		{"exactly threshold", 65, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := p.CurrentIndex()
			sim.reset()
			if err := p.SetIndex(tt.target, true); err != nil {
				t.Fatal(err)
			}
			if len(sim.calls) != 0 {
				t.Errorf("sequential seek must not reset, got %v", sim.calls)
			}
			if !slices.Equal(sim.applied, ticks(from+2, tt.target+1)) {
				t.Errorf("unexpected applied ticks %v", sim.applied)
			}
			for _, ev := range sim.events {
				if ev.skipEffects != tt.skip {
					t.Fatalf("expected skipEffects=%v", tt.skip)
				}
			}
			if got := tel.seeks[len(tel.seeks)-1].strategy; got != SeekSequential {
				t.Errorf("expected sequential strategy, got %s", got)
			}
		})
	}
}

func TestSetIndexNoCheckpointAhead(t *testing.T) {
	sim := newFakeSim()
	p := NewPlayer(Config{
		Simulation: sim,
		Settings:   Settings{VisualEventThreshold: 20, CheckpointJumpInterval: 20},
	})
	if err := p.StartReplay(makeLog(1000, 50)); err != nil {
		t.Fatal(err)
	}
	if err := p.SetIndex(951, true); err != nil {
		t.Fatal(err)
	}
	sim.reset()

	// No checkpoint lies between 951 and 999, so the jump falls back to
	// ticking forward.
	if err := p.SetIndex(5000, true); err != nil {
		t.Fatal(err)
	}
	if p.CurrentIndex() != 999 {
		t.Errorf("expected clamp to 999, got %d", p.CurrentIndex())
	}
	if len(sim.calls) != 0 {
		t.Errorf("expected no reset, got %v", sim.calls)
	}
	if !slices.Equal(sim.applied, ticks(953, 1000)) {
		t.Errorf("unexpected applied ticks %v", sim.applied)
	}
}

func TestSetIndexNoop(t *testing.T) {
	p, sim, _ := startedPlayer(t, 100, 50)
	var got []EventKind
	p.Subscribe(func(ev Event) { got = append(got, ev.Kind) })
	sim.reset()

	if err := p.SetIndex(-4, true); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 || len(sim.applied) != 0 {
		t.Errorf("seeking to the current index must be a no-op, events %v", got)
	}
}

func TestSetIndexNotifications(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	if err := p.SetPlaying(true); err != nil {
		t.Fatal(err)
	}

	var first, second []EventKind
	p.Subscribe(func(ev Event) {
		if ev.Kind != EventBeforeApplyState {
			first = append(first, ev.Kind)
		}
	})
	p.Subscribe(func(ev Event) {
		if len(second) < len(first)-1 {
			t.Error("observers fired out of registration order")
		}
		if ev.Kind != EventBeforeApplyState {
			second = append(second, ev.Kind)
		}
	})

	if err := p.SetIndex(3, true); err != nil {
		t.Fatal(err)
	}
	want := []EventKind{EventPaused, EventBeforeSeek, EventAfterSeek}
	if !slices.Equal(first, want) || !slices.Equal(second, want) {
		t.Errorf("expected %v, got %v and %v", want, first, second)
	}
}

func TestSetIndexFailureKeepsLastIndex(t *testing.T) {
	p, sim, _ := startedPlayer(t, 100, 50)
	sim.failApply = 8 // index 7

	var after Event
	p.Subscribe(func(ev Event) {
		if ev.Kind == EventAfterSeek {
			after = ev
		}
	})

	err := p.SetIndex(20, true)
	if err == nil {
		t.Fatal("expected seek to fail")
	}
	if p.CurrentIndex() != 6 {
		t.Errorf("expected cursor at last applied index 6, got %d", p.CurrentIndex())
	}
	if after.Kind != EventAfterSeek || after.Err == nil || after.Index != 6 {
		t.Errorf("expected after-seek with error at index 6, got %+v", after)
	}
}

func TestUnsubscribe(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	calls := 0
	cancel := p.Subscribe(func(Event) { calls++ })
	cancel()
	if err := p.SetIndex(3, true); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestGetIndex(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)

	tests := []struct {
		name string
		d    time.Duration
		want int
	}{
		{"negative", -time.Second, 0},
		{"zero", 0, 0},
		{"exact", 500 * time.Millisecond, 5},
		{"between", 550 * time.Millisecond, 5},
		{"just before", 499 * time.Millisecond, 4},
		{"past end", time.Hour, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetIndex(tt.d)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("GetIndex(%v) = %d, expected %d", tt.d, got, tt.want)
			}
		})
	}
}

func TestSetTime(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	if err := p.SetTime(2*time.Second, true); err != nil {
		t.Fatal(err)
	}
	if p.CurrentIndex() != 20 {
		t.Errorf("expected index 20, got %d", p.CurrentIndex())
	}
}

func TestUpdatePlayback(t *testing.T) {
	p, sim, _ := startedPlayer(t, 3, 50)

	if err := p.Update(); err != nil || p.CurrentIndex() != 0 {
		t.Fatalf("paused player must not advance (index %d, err %v)", p.CurrentIndex(), err)
	}
	if err := p.SetPlaying(true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := p.Update(); err != nil {
			t.Fatal(err)
		}
	}
	if p.CurrentIndex() != 2 {
		t.Errorf("expected playback to stop at last index, got %d", p.CurrentIndex())
	}
	if p.IsPlaying() {
		t.Error("IsPlaying must be false at the last index")
	}
	for _, ev := range sim.events {
		if ev.skipEffects {
			t.Fatal("live playback must not skip effects")
		}
	}
}

func TestAutoPause(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	if err := p.SetIndex(10, true); err != nil {
		t.Fatal(err)
	}
	if err := p.SetAutoPauseCountdown(ptr(uint32(3))); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPlaying(true); err != nil {
		t.Fatal(err)
	}

	paused := 0
	p.Subscribe(func(ev Event) {
		if ev.Kind == EventPaused {
			paused++
		}
	})

	for i := 0; i < 5; i++ {
		if err := p.Update(); err != nil {
			t.Fatal(err)
		}
	}
	c := p.Cursor()
	if c.CurrentIndex != 13 {
		t.Errorf("expected index 13, got %d", c.CurrentIndex)
	}
	if c.Playing || c.AutoPauseCountdown != nil {
		t.Errorf("expected paused with no countdown, got %+v", c)
	}
	if paused != 1 {
		t.Errorf("expected one pause notification, got %d", paused)
	}
}

func TestScrubbing(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	if err := p.SetPlaying(true); err != nil {
		t.Fatal(err)
	}
	if err := p.SetScrubbingTarget(ptr(30)); err != nil {
		t.Fatal(err)
	}
	if p.IsPlaying() {
		t.Error("IsPlaying must be false while scrubbing")
	}
	// Last write wins.
	if err := p.SetScrubbingTarget(ptr(40)); err != nil {
		t.Fatal(err)
	}
	if err := p.Update(); err != nil {
		t.Fatal(err)
	}
	if p.CurrentIndex() != 40 {
		t.Errorf("expected scrub to 40, got %d", p.CurrentIndex())
	}
	if !p.Cursor().Playing {
		t.Error("scrubbing must not pause")
	}
	if err := p.Update(); err != nil || p.CurrentIndex() != 40 {
		t.Errorf("scrub target must hold the cursor, got %d (%v)", p.CurrentIndex(), err)
	}

	if err := p.SetScrubbingTarget(nil); err != nil {
		t.Fatal(err)
	}
	if !p.IsPlaying() {
		t.Error("expected playback to resume after scrubbing")
	}
	if err := p.Update(); err != nil || p.CurrentIndex() != 41 {
		t.Errorf("expected advance to 41, got %d (%v)", p.CurrentIndex(), err)
	}
}

func TestCursorIsCopy(t *testing.T) {
	p, _, _ := startedPlayer(t, 100, 50)
	if err := p.SetScrubbingTarget(ptr(5)); err != nil {
		t.Fatal(err)
	}
	c := p.Cursor()
	*c.ScrubbingTarget = 99
	if *p.Cursor().ScrubbingTarget != 5 {
		t.Error("Cursor must not expose internal state")
	}
}

func TestReplayStartedEvent(t *testing.T) {
	sim := newFakeSim()
	p := newTestPlayer(sim, &fakeTelemetry{})
	l := makeLog(10, 5)
	l.Metadata = map[string]string{"map": "arena"}
	l.InitMessages = []gamestate.Message{gamestate.ConfigChange{Cvars: map[string]any{"a": 1}}}

	var started Event
	p.Subscribe(func(ev Event) {
		if ev.Kind == EventReplayStarted {
			started = ev
		}
	})
	if err := p.StartReplay(l); err != nil {
		t.Fatal(err)
	}
	if started.Metadata["map"] != "arena" || len(started.InitMessages) != 1 {
		t.Errorf("unexpected started event %+v", started)
	}
}
