// Package sim is an in-memory entity/component world that replays can drive.
package sim

import (
	"errors"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
)

var (
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrLifecycle        = errors.New("invalid entity lifecycle transition")
	ErrIdentityTaken    = errors.New("network identity already mapped")
	ErrNotFullState     = errors.New("state is not a full snapshot")
	ErrInvalidCvar      = errors.New("invalid config value")
	ErrLiveSession      = errors.New("world is attached to a live server")
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// Stage is an entity's lifecycle position.
type Stage uint8

const (
	StageCreated Stage = iota
	StageInitialized
	StageStarted
)

// Entity is a live entity and its full component states.
type Entity struct {
	UID              gamestate.EntityUID
	Net              gamestate.NetEntity
	Prototype        string
	Components       map[uint16]gamestate.ComponentState
	Stage            Stage
	Detached         bool
	LastStateApplied gamestate.Tick
	// LastHit is the tick of the last state event that targeted the entity.
	LastHit gamestate.Tick
}

// Transform is the cached position of an entity.
type Transform struct {
	X, Y float64
}

// World implements every collaborator the replay player consumes. It is not
// safe for concurrent use.
type World struct {
	log logrus.FieldLogger

	entities map[gamestate.EntityUID]*Entity
	byNet    map[gamestate.NetEntity]gamestate.EntityUID
	nextUID  gamestate.EntityUID

	cvars    *Cvars
	curTick  gamestate.Tick
	timeBase gamestate.TimeBase

	detachQueue *orderedmap.OrderedMap[gamestate.Tick, []gamestate.NetEntity]
	next        *gamestate.GameState

	dirty      map[gamestate.EntityUID]struct{}
	transforms map[gamestate.NetEntity]Transform

	events EventStats
	live   bool
}

// New creates an empty world.
func New(log logrus.FieldLogger) *World {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &World{
		log:         log,
		entities:    make(map[gamestate.EntityUID]*Entity),
		byNet:       make(map[gamestate.NetEntity]gamestate.EntityUID),
		cvars:       NewCvars(),
		detachQueue: orderedmap.NewOrderedMap[gamestate.Tick, []gamestate.NetEntity](),
		dirty:       make(map[gamestate.EntityUID]struct{}),
		transforms:  make(map[gamestate.NetEntity]Transform),
		events:      newEventStats(),
	}
}

// Cvars returns the world's config store.
func (w *World) Cvars() *Cvars {
	return w.cvars
}

// SetLive marks the world as attached to a live server.
func (w *World) SetLive(live bool) {
	w.live = live
}

// CanStartReplay refuses replays while attached to a live server.
func (w *World) CanStartReplay() error {
	if w.live {
		return ErrLiveSession
	}
	return nil
}

// Lookup returns the entity mapped to net.
func (w *World) Lookup(net gamestate.NetEntity) (*Entity, bool) {
	uid, ok := w.byNet[net]
	if !ok {
		return nil, false
	}
	e, ok := w.entities[uid]
	return e, ok
}

// Entity reports the local uid mapped to net.
func (w *World) Entity(net gamestate.NetEntity) (gamestate.EntityUID, bool, bool) {
	e, ok := w.Lookup(net)
	if !ok {
		return 0, false, false
	}
	return e.UID, false, true
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int {
	return len(w.entities)
}

// NetEntities returns every mapped network identity in ascending order.
func (w *World) NetEntities() []gamestate.NetEntity {
	out := make([]gamestate.NetEntity, 0, len(w.byNet))
	for net := range w.byNet {
		out = append(out, net)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Next returns the lookahead state of the last applied tick.
func (w *World) Next() *gamestate.GameState {
	return w.next
}

// Events returns counters of dispatched events.
func (w *World) Events() EventStats {
	return w.events.clone()
}
