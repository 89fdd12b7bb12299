package replay

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tick-replay/internal/gamestate"
)

func warnings(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

func TestUnhandledMessageWarnsOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sim := newFakeSim()
	tel := &fakeTelemetry{}
	p := NewPlayer(Config{Simulation: sim, Logger: logger, Telemetry: tel, Settings: DefaultSettings()})

	l := makeLog(10, 5)
	l.Messages[2] = []gamestate.Message{gamestate.GenericEvent{Type: "mystery"}}
	l.Messages[4] = []gamestate.Message{gamestate.GenericEvent{Type: "mystery"}}
	if err := p.StartReplay(l); err != nil {
		t.Fatal(err)
	}
	hook.Reset()

	if err := p.SetIndex(6, true); err != nil {
		t.Fatal(err)
	}
	if p.CurrentIndex() != 6 {
		t.Errorf("expected playback to continue to 6, got %d", p.CurrentIndex())
	}
	if got := warnings(hook); got != 1 {
		t.Errorf("expected exactly one warning, got %d", got)
	}
	if len(tel.unhandled) != 1 || tel.unhandled[0] != "mystery" {
		t.Errorf("unexpected unhandled telemetry %v", tel.unhandled)
	}

	// A new session reports again.
	if err := p.StopReplay(); err != nil {
		t.Fatal(err)
	}
	if err := p.StartReplay(l); err != nil {
		t.Fatal(err)
	}
	hook.Reset()
	if err := p.SetIndex(3, true); err != nil {
		t.Fatal(err)
	}
	if got := warnings(hook); got != 1 {
		t.Errorf("expected warning in new session, got %d", got)
	}
}

func TestConfigChangeIgnoresSkipEffects(t *testing.T) {
	msgs := []gamestate.Message{
		gamestate.ConfigChange{
			Cvars:    map[string]any{"net.tickrate": 30, "mp.friction": 0.5},
			TimeBase: gamestate.TimeBase{Tick: 40},
		},
	}

	var results []*fakeSim
	for _, skip := range []bool{false, true} {
		sim := newFakeSim()
		r := NewMessageReplayer(sim, nil, nil)
		r.Begin(false)
		r.Replay(40, msgs, skip, false)
		results = append(results, sim)
	}

	for i, sim := range results {
		if sim.cvars["net.tickrate"] != 30 || sim.cvars["mp.friction"] != 0.5 {
			t.Errorf("run %d: cvars not applied: %v", i, sim.cvars)
		}
		if sim.timeBase.Tick != 40 {
			t.Errorf("run %d: time base not applied", i)
		}
	}
}

func TestLeaveVisibility(t *testing.T) {
	leave := []gamestate.Message{gamestate.LeaveVisibility{Tick: 7, Entities: []gamestate.NetEntity{3}}}

	tests := []struct {
		name       string
		clientSide bool
		immediate  bool
		queued     int
		detached   bool
	}{
		{"server recording ignores", false, false, 0, false},
		{"client recording queues", true, false, 1, false},
		{"client recording immediate", true, true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newFakeSim()
			sim.add(3, "Crate")
			r := NewMessageReplayer(sim, nil, nil)
			r.Begin(tt.clientSide)
			r.Replay(7, leave, true, tt.immediate)

			if len(sim.queue[7]) != tt.queued {
				t.Errorf("expected %d queued, got %v", tt.queued, sim.queue)
			}
			if sim.entities[3].detached != tt.detached {
				t.Errorf("expected detached=%v", tt.detached)
			}
		})
	}
}

func TestEventHandlerConsumes(t *testing.T) {
	sim := newFakeSim()
	r := NewMessageReplayer(sim, nil, nil)
	r.Begin(false)

	var seen []string
	r.SetHandler(func(ev gamestate.GenericEvent, skipEffects bool) bool {
		seen = append(seen, ev.Type)
		return ev.Type == "sound"
	})
	r.Replay(1, []gamestate.Message{
		gamestate.GenericEvent{Type: "sound"},
		gamestate.GenericEvent{Type: "damage"},
	}, false, false)

	if len(seen) != 2 {
		t.Errorf("handler should see every event, saw %v", seen)
	}
	if len(sim.events) != 1 || sim.events[0].kind != "damage" {
		t.Errorf("expected only damage dispatched, got %v", sim.events)
	}
}

func TestDispatchFailureIsIsolated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sim := newFakeSim()
	sim.dispatchFn = func(ev gamestate.GenericEvent) error {
		if ev.Type == "damage" {
			return errors.New("no such entity")
		}
		return nil
	}
	r := NewMessageReplayer(sim, logger, nil)
	r.Begin(false)
	r.Replay(1, []gamestate.Message{
		gamestate.GenericEvent{Type: "damage"},
		gamestate.ConfigChange{Cvars: map[string]any{"a": 1}},
		gamestate.GenericEvent{Type: "sound"},
	}, true, false)

	if sim.cvars["a"] != 1 {
		t.Error("config change after a failed event must still apply")
	}
	if len(sim.events) != 1 || sim.events[0].kind != "sound" || !sim.events[0].skipEffects {
		t.Errorf("unexpected dispatched events %v", sim.events)
	}
	if warnings(hook) != 1 {
		t.Errorf("expected the failure to be logged once, got %d", warnings(hook))
	}
}
