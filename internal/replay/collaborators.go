package replay

import "tick-replay/internal/gamestate"

// StateApplier mutates the live world from recorded states.
type StateApplier interface {
	// ApplyFullState resets the world to a self-sufficient snapshot.
	ApplyFullState(state gamestate.GameState) error
	// ApplyState applies a recorded tick. next is nil at the last index.
	ApplyState(cur gamestate.GameState, next *gamestate.GameState) error
	// ResetDerivedCaches drops data derived from previously applied ticks.
	ResetDerivedCaches()
}

// EntityManager creates and looks up entities.
type EntityManager interface {
	// Entity returns the local uid mapped to net and whether it is marked
	// deleted. ok is false when no such entity exists.
	Entity(net gamestate.NetEntity) (uid gamestate.EntityUID, deleted bool, ok bool)
	CreateEntity(prototype string) (gamestate.EntityUID, error)
	SetNetworkIdentity(uid gamestate.EntityUID, net gamestate.NetEntity) error
	// SeedEntityState loads last-known component data into a created entity.
	SeedEntityState(uid gamestate.EntityUID, state gamestate.EntityState) error
	InitializeEntity(uid gamestate.EntityUID) error
	StartEntity(uid gamestate.EntityUID) error
	SetLastStateApplied(uid gamestate.EntityUID, tick gamestate.Tick)
	// FlushEntities deletes every entity.
	FlushEntities()
}

// ConfigStore holds replicated configuration values.
type ConfigStore interface {
	// SetConfigValue stores value; forced bypasses change validation.
	SetConfigValue(name string, value any, forced bool) error
}

// Clock holds the simulation's tick counter and time base.
type Clock interface {
	SetTimeBase(tb gamestate.TimeBase)
	SetCurTick(tick gamestate.Tick)
	CurTick() gamestate.Tick
}

// Detacher removes entities from the view without deleting them.
type Detacher interface {
	QueueDetach(tick gamestate.Tick, entities []gamestate.NetEntity)
	// ProcessDetachQueue detaches every queued entry with tick <= upTo.
	ProcessDetachQueue(upTo gamestate.Tick)
	DetachImmediate(entities []gamestate.NetEntity)
	ClearDetachQueue()
}

// EventSink dispatches application events as if received live.
type EventSink interface {
	HandlesEvent(kind string) bool
	// DispatchEvent applies ev. skipEffects suppresses transient effects such
	// as sounds and particles.
	DispatchEvent(ev gamestate.GenericEvent, skipEffects bool) error
}

// Simulation is everything the player needs from the live world.
type Simulation interface {
	StateApplier
	EntityManager
	ConfigStore
	Clock
	Detacher
	EventSink
}

// HostGate reports whether the host is in a state that permits replays.
type HostGate interface {
	CanStartReplay() error
}

// EventHandler may consume a generic event before default dispatch. It
// returns true when the event was fully handled.
type EventHandler func(ev gamestate.GenericEvent, skipEffects bool) bool
