package replay

import (
	"errors"
	"fmt"
	"time"

	"tick-replay/internal/gamestate"
)

type fakeEntity struct {
	uid         gamestate.EntityUID
	net         gamestate.NetEntity
	prototype   string
	deleted     bool
	detached    bool
	started     bool
	lastApplied gamestate.Tick
	seeded      bool
}

type dispatched struct {
	kind        string
	skipEffects bool
}

// fakeSim records every collaborator call.
type fakeSim struct {
	calls    []string
	entities map[gamestate.NetEntity]*fakeEntity
	byUID    map[gamestate.EntityUID]*fakeEntity
	nextUID  gamestate.EntityUID

	cvars    map[string]any
	timeBase gamestate.TimeBase
	curTick  gamestate.Tick
	queue    map[gamestate.Tick][]gamestate.NetEntity

	handled    map[string]bool
	events     []dispatched
	dispatchFn func(ev gamestate.GenericEvent) error

	applied   []gamestate.Tick
	failApply gamestate.Tick
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		entities: make(map[gamestate.NetEntity]*fakeEntity),
		byUID:    make(map[gamestate.EntityUID]*fakeEntity),
		cvars:    make(map[string]any),
		queue:    make(map[gamestate.Tick][]gamestate.NetEntity),
		handled:  map[string]bool{"sound": true, "damage": true},
	}
}

func (f *fakeSim) reset() {
	f.calls = nil
	f.applied = nil
	f.events = nil
}

func (f *fakeSim) ApplyFullState(state gamestate.GameState) error {
	f.calls = append(f.calls, fmt.Sprintf("full:%d", state.ToSequence))
	f.entities = make(map[gamestate.NetEntity]*fakeEntity)
	f.byUID = make(map[gamestate.EntityUID]*fakeEntity)
	for _, es := range state.EntityStates {
		proto, _ := es.Prototype()
		f.add(es.NetEntity, proto)
	}
	return nil
}

func (f *fakeSim) ApplyState(cur gamestate.GameState, next *gamestate.GameState) error {
	if f.failApply != 0 && cur.ToSequence == f.failApply {
		return errors.New("boom")
	}
	f.applied = append(f.applied, cur.ToSequence)
	for _, es := range cur.EntityStates {
		if _, ok := f.entities[es.NetEntity]; !ok {
			proto, _ := es.Prototype()
			f.add(es.NetEntity, proto)
		}
	}
	return nil
}

func (f *fakeSim) ResetDerivedCaches() { f.calls = append(f.calls, "caches") }

func (f *fakeSim) add(net gamestate.NetEntity, proto string) *fakeEntity {
	f.nextUID++
	e := &fakeEntity{uid: f.nextUID, net: net, prototype: proto, started: true}
	f.entities[net] = e
	f.byUID[e.uid] = e
	return e
}

func (f *fakeSim) Entity(net gamestate.NetEntity) (gamestate.EntityUID, bool, bool) {
	e, ok := f.entities[net]
	if !ok {
		return 0, false, false
	}
	return e.uid, e.deleted, true
}

func (f *fakeSim) CreateEntity(prototype string) (gamestate.EntityUID, error) {
	f.calls = append(f.calls, "create:"+prototype)
	f.nextUID++
	e := &fakeEntity{uid: f.nextUID, prototype: prototype}
	f.byUID[e.uid] = e
	return e.uid, nil
}

func (f *fakeSim) SetNetworkIdentity(uid gamestate.EntityUID, net gamestate.NetEntity) error {
	f.calls = append(f.calls, fmt.Sprintf("net:%d", net))
	e := f.byUID[uid]
	e.net = net
	f.entities[net] = e
	return nil
}

func (f *fakeSim) SeedEntityState(uid gamestate.EntityUID, state gamestate.EntityState) error {
	f.calls = append(f.calls, "seed")
	f.byUID[uid].seeded = true
	return nil
}

func (f *fakeSim) InitializeEntity(uid gamestate.EntityUID) error {
	f.calls = append(f.calls, "init")
	return nil
}

func (f *fakeSim) StartEntity(uid gamestate.EntityUID) error {
	f.calls = append(f.calls, "start")
	f.byUID[uid].started = true
	return nil
}

func (f *fakeSim) SetLastStateApplied(uid gamestate.EntityUID, tick gamestate.Tick) {
	f.calls = append(f.calls, fmt.Sprintf("stamp:%d", tick))
	f.byUID[uid].lastApplied = tick
}

func (f *fakeSim) FlushEntities() {
	f.calls = append(f.calls, "flush")
	f.entities = make(map[gamestate.NetEntity]*fakeEntity)
	f.byUID = make(map[gamestate.EntityUID]*fakeEntity)
}

func (f *fakeSim) SetConfigValue(name string, value any, forced bool) error {
	if !forced {
		return errors.New("not forced")
	}
	f.cvars[name] = value
	return nil
}

func (f *fakeSim) SetTimeBase(tb gamestate.TimeBase) { f.timeBase = tb }
func (f *fakeSim) SetCurTick(tick gamestate.Tick)    { f.curTick = tick }
func (f *fakeSim) CurTick() gamestate.Tick           { return f.curTick }

func (f *fakeSim) QueueDetach(tick gamestate.Tick, entities []gamestate.NetEntity) {
	f.queue[tick] = append(f.queue[tick], entities...)
}

func (f *fakeSim) ProcessDetachQueue(upTo gamestate.Tick) {
	for tick, ents := range f.queue {
		if tick <= upTo {
			f.DetachImmediate(ents)
			delete(f.queue, tick)
		}
	}
}

func (f *fakeSim) DetachImmediate(entities []gamestate.NetEntity) {
	for _, net := range entities {
		f.calls = append(f.calls, fmt.Sprintf("detach:%d", net))
		if e, ok := f.entities[net]; ok {
			e.detached = true
		}
	}
}

func (f *fakeSim) ClearDetachQueue() {
	f.calls = append(f.calls, "clear-queue")
	f.queue = make(map[gamestate.Tick][]gamestate.NetEntity)
}

func (f *fakeSim) HandlesEvent(kind string) bool { return f.handled[kind] }

func (f *fakeSim) DispatchEvent(ev gamestate.GenericEvent, skipEffects bool) error {
	if f.dispatchFn != nil {
		if err := f.dispatchFn(ev); err != nil {
			return err
		}
	}
	f.events = append(f.events, dispatched{kind: ev.Type, skipEffects: skipEffects})
	return nil
}

type seekRecord struct {
	strategy SeekStrategy
	ticks    int
}

type fakeTelemetry struct {
	seeks     []seekRecord
	resets    int
	unhandled []string
}

func (t *fakeTelemetry) RecordSeek(s SeekStrategy, ticks int, _ time.Duration) {
	t.seeks = append(t.seeks, seekRecord{s, ticks})
}
func (t *fakeTelemetry) RecordCheckpointReset()             { t.resets++ }
func (t *fakeTelemetry) RecordUnhandledMessage(kind string) { t.unhandled = append(t.unhandled, kind) }
func (t *fakeTelemetry) RecordIndex(int)                    {}

// makeLog builds a log of n ticks starting at tick 1 with a checkpoint every
// `every` indices and a "sound" event recorded on every tick.
func makeLog(n, every int) *Log {
	l := &Log{
		States:     make([]gamestate.GameState, n),
		Messages:   make([][]gamestate.Message, n),
		ReplayTime: make([]time.Duration, n),
		TickOffset: 1,
	}
	for i := 0; i < n; i++ {
		tick := gamestate.Tick(i + 1)
		from := tick - 1
		if i == 0 {
			from = 0
		}
		l.States[i] = gamestate.GameState{FromSequence: from, ToSequence: tick}
		l.Messages[i] = []gamestate.Message{gamestate.GenericEvent{Type: "sound"}}
		l.ReplayTime[i] = time.Duration(i) * 100 * time.Millisecond
		if i%every == 0 {
			l.Checkpoints = append(l.Checkpoints, Checkpoint{
				Index:     i,
				Tick:      tick,
				TimeBase:  gamestate.TimeBase{Tick: 1},
				FullState: gamestate.GameState{ToSequence: tick},
				Cvars:     map[string]any{"net.tickrate": 10},
			})
		}
	}
	return l
}

func newTestPlayer(sim *fakeSim, tel *fakeTelemetry) *Player {
	return NewPlayer(Config{
		Simulation: sim,
		Settings:   Settings{VisualEventThreshold: 20, CheckpointJumpInterval: 50},
		Telemetry:  tel,
	})
}

func ptr[T any](v T) *T { return &v }
