package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tick-replay/internal/checkpoint"
	"tick-replay/internal/gamestate"
	"tick-replay/internal/replay"
	"tick-replay/internal/sim"
	"tick-replay/internal/synth"
)

func buildLog(t *testing.T, seed uint64) *replay.Log {
	t.Helper()
	rec := synth.Generate(synth.Options{Ticks: 200, Seed: seed, InitialEntities: 6, ClientSide: true})
	logger, _ := test.NewNullLogger()
	gen := checkpoint.NewGenerator(checkpoint.Settings{Interval: 50, MinInterval: 10, SpawnThreshold: 40, StateThreshold: 400}, logger)
	cps, times, err := gen.Generate(rec.InitMessages, rec.States, rec.Messages, rec.ClientSide)
	if err != nil {
		t.Fatalf("generate checkpoints: %v", err)
	}
	return &replay.Log{
		States:       rec.States,
		Messages:     rec.Messages,
		Checkpoints:  cps,
		ReplayTime:   times,
		ClientSide:   rec.ClientSide,
		InitMessages: rec.InitMessages,
		Metadata:     map[string]string{"map": "arena"},
	}
}

type stubLoader struct {
	log *replay.Log
	err error
}

func (s stubLoader) Load(context.Context, string) (*replay.Log, error) {
	return s.log, s.err
}

func newHost(t *testing.T, loader Loader) (*Host, *sim.World) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	world := sim.New(logger)
	h := New(Config{
		World:    world,
		Settings: replay.Settings{VisualEventThreshold: 10, CheckpointJumpInterval: 40},
		Loader:   loader,
		Logger:   logger,
	})
	t.Cleanup(h.Stop)
	return h, world
}

func TestLoadLogAndStatus(t *testing.T) {
	h, _ := newHost(t, nil)

	if st := h.Status(); st.Active || st.Index != -1 {
		t.Fatalf("idle status = %+v", st)
	}

	l := buildLog(t, 1)
	session, err := h.LoadLog(l, "memory")
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if session == "" {
		t.Fatal("expected a session id")
	}

	st := h.Status()
	if !st.Active || st.Session != session || st.Source != "memory" {
		t.Fatalf("status = %+v", st)
	}
	if st.Index != 0 || st.Length != l.Len() || st.Tick != uint32(l.States[0].ToSequence) {
		t.Fatalf("status position = %+v", st)
	}
	if st.Metadata["map"] != "arena" || st.Checksum == "" || st.Entities == 0 {
		t.Fatalf("status details = %+v", st)
	}
}

func TestLoadReplacesActiveReplay(t *testing.T) {
	h, _ := newHost(t, nil)

	first, err := h.LoadLog(buildLog(t, 1), "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetIndex(120, false); err != nil {
		t.Fatal(err)
	}
	second, err := h.LoadLog(buildLog(t, 2), "b")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("expected a new session per load")
	}
	if st := h.Status(); st.Index != 0 || st.Source != "b" {
		t.Errorf("status after reload = %+v", st)
	}
}

func TestLoadUsesLoader(t *testing.T) {
	l := buildLog(t, 3)

	h, _ := newHost(t, stubLoader{log: l})
	if _, err := h.Load(context.Background(), "session.jsonl"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st := h.Status(); st.Source != "session.jsonl" {
		t.Errorf("source = %q", st.Source)
	}

	broken, _ := newHost(t, stubLoader{err: errors.New("corrupt")})
	if _, err := broken.Load(context.Background(), "x"); err == nil {
		t.Error("expected loader error")
	}

	none, _ := newHost(t, nil)
	if _, err := none.Load(context.Background(), "x"); !errors.Is(err, replay.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation without loader, got %v", err)
	}
}

func TestLiveWorldRefusesReplay(t *testing.T) {
	h, world := newHost(t, nil)
	world.SetLive(true)

	if _, err := h.LoadLog(buildLog(t, 1), "a"); !errors.Is(err, replay.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if st := h.Status(); st.Active || st.Session != "" {
		t.Errorf("status after refused load = %+v", st)
	}
}

func TestFrameAdvancesWhilePlaying(t *testing.T) {
	h, _ := newHost(t, nil)
	l := buildLog(t, 1)
	if _, err := h.LoadLog(l, "a"); err != nil {
		t.Fatal(err)
	}

	h.Frame()
	if st := h.Status(); st.Index != 0 || st.NextTick != 0 {
		t.Fatalf("paused frame advanced: %+v", st)
	}

	if err := h.SetPlaying(true); err != nil {
		t.Fatal(err)
	}
	if rate := h.Frame(); rate <= 0 {
		t.Errorf("frame rate = %d", rate)
	}
	st := h.Status()
	if st.Index != 1 || !st.Playing {
		t.Fatalf("status after frame = %+v", st)
	}
	if st.NextTick != uint32(l.States[2].ToSequence) {
		t.Errorf("next tick = %d, want %d", st.NextTick, l.States[2].ToSequence)
	}
}

func TestEventHandlerSeesEvents(t *testing.T) {
	h, world := newHost(t, nil)
	if _, err := h.LoadLog(buildLog(t, 6), "a"); err != nil {
		t.Fatal(err)
	}

	var seen, skipped int
	h.SetEventHandler(func(ev gamestate.GenericEvent, skipEffects bool) bool {
		seen++
		if skipEffects {
			skipped++
		}
		return ev.Type == sim.EventSound
	})
	before := world.Events()
	if err := h.SetPlaying(true); err != nil {
		t.Fatal(err)
	}
	for range 30 {
		h.Frame()
	}
	if seen == 0 || skipped != 0 {
		t.Fatalf("handler saw %d events, %d skipping effects", seen, skipped)
	}
	after := world.Events()
	if after.Played[sim.EventSound] != before.Played[sim.EventSound] {
		t.Errorf("consumed sounds reached the world: %+v", after)
	}
}

func TestSeekIsRepeatable(t *testing.T) {
	h, _ := newHost(t, nil)
	if _, err := h.LoadLog(buildLog(t, 4), "a"); err != nil {
		t.Fatal(err)
	}

	if err := h.SetIndex(150, true); err != nil {
		t.Fatal(err)
	}
	want := h.Checksum()

	if err := h.SetIndex(5, true); err != nil {
		t.Fatal(err)
	}
	if err := h.SetIndex(150, true); err != nil {
		t.Fatal(err)
	}
	if got := h.Checksum(); got != want {
		t.Errorf("checksum after rewind and replay = %x, want %x", got, want)
	}

	idx, err := h.GetIndex(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 199 {
		t.Errorf("GetIndex past the end = %d, want 199", idx)
	}
	if err := h.SetTime(0, true); err != nil {
		t.Fatal(err)
	}
	if st := h.Status(); st.Index != 0 {
		t.Errorf("index after SetTime(0) = %d", st.Index)
	}
}

func TestCheckpoints(t *testing.T) {
	h, _ := newHost(t, nil)
	if _, err := h.Checkpoints(); !errors.Is(err, replay.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation while idle, got %v", err)
	}

	l := buildLog(t, 1)
	if _, err := h.LoadLog(l, "a"); err != nil {
		t.Fatal(err)
	}
	cps, err := h.Checkpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != len(l.Checkpoints) || cps[0].Index != 0 {
		t.Fatalf("checkpoints = %+v", cps)
	}
	for i := 1; i < len(cps); i++ {
		if cps[i].Time < cps[i-1].Time {
			t.Fatal("checkpoint times must not decrease")
		}
	}
}

func TestSubscribeAndStop(t *testing.T) {
	h, _ := newHost(t, nil)

	var kinds []replay.EventKind
	unsubscribe := h.Subscribe(func(ev replay.Event) { kinds = append(kinds, ev.Kind) })

	if _, err := h.LoadLog(buildLog(t, 1), "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.StopReplay(); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := h.StopReplay(); !errors.Is(err, replay.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation on second stop, got %v", err)
	}

	if len(kinds) == 0 || kinds[len(kinds)-1] != replay.EventReplayStopped {
		t.Fatalf("events = %v", kinds)
	}
	if st := h.Status(); st.Session != "" || st.Active {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestFrameLoop(t *testing.T) {
	h, _ := newHost(t, nil)
	if _, err := h.LoadLog(buildLog(t, 1), "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.SetPlaying(true); err != nil {
		t.Fatal(err)
	}

	h.Start()
	h.Start()
	deadline := time.Now().Add(3 * time.Second)
	for h.Status().Index < 3 {
		if time.Now().After(deadline) {
			t.Fatal("frame loop did not advance playback")
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.Stop()

	idx := h.Status().Index
	time.Sleep(100 * time.Millisecond)
	if h.Status().Index != idx {
		t.Error("playback advanced after Stop")
	}
}
