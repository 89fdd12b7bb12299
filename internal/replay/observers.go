package replay

import "tick-replay/internal/gamestate"

// EventKind identifies a playback notification.
type EventKind uint8

const (
	EventReplayStarted EventKind = iota + 1
	EventReplayStopped
	EventCheckpointReset
	EventBeforeSeek
	EventAfterSeek
	EventPaused
	EventUnpaused
	EventBeforeApplyState
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventReplayStarted:
		return "started"
	case EventReplayStopped:
		return "stopped"
	case EventCheckpointReset:
		return "checkpoint"
	case EventBeforeSeek:
		return "seek:before"
	case EventAfterSeek:
		return "seek:after"
	case EventPaused:
		return "paused"
	case EventUnpaused:
		return "unpaused"
	case EventBeforeApplyState:
		return "apply:before"
	default:
		return "unknown"
	}
}

// Event is delivered synchronously to observers.
type Event struct {
	Kind  EventKind
	Index int
	Tick  gamestate.Tick

	// Set for EventReplayStarted.
	Metadata     map[string]string
	InitMessages []gamestate.Message

	// Set for EventBeforeApplyState. Next is nil at the last index.
	Current *gamestate.GameState
	Next    *gamestate.GameState

	// Set for EventAfterSeek when the seek failed.
	Err error
}

type observer struct {
	id int
	fn func(Event)
}

// Observers is an ordered list of notification callbacks.
type Observers struct {
	nextID int
	list   []observer
}

// Subscribe registers fn and returns a function that removes it. Observers
// fire in registration order.
func (o *Observers) Subscribe(fn func(Event)) func() {
	o.nextID++
	id := o.nextID
	o.list = append(o.list, observer{id: id, fn: fn})
	return func() {
		for i, obs := range o.list {
			if obs.id == id {
				o.list = append(o.list[:i:i], o.list[i+1:]...)
				return
			}
		}
	}
}

func (o *Observers) emit(ev Event) {
	for _, obs := range o.list {
		obs.fn(ev)
	}
}
