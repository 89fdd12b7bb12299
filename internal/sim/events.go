package sim

import (
	"encoding/json"
	"fmt"
	"maps"

	"tick-replay/internal/gamestate"
)

// Event kinds the world dispatches.
const (
	EventDamage    = "damage"
	EventHeal      = "heal"
	EventSound     = "sound"
	EventParticles = "particles"
)

// transientEvents only produce sounds or visuals.
var transientEvents = map[string]bool{
	EventDamage:    false,
	EventHeal:      false,
	EventSound:     true,
	EventParticles: true,
}

// EventStats counts dispatched events by kind.
type EventStats struct {
	Applied    map[string]int `json:"applied"`
	Played     map[string]int `json:"played"`
	Suppressed map[string]int `json:"suppressed"`
}

func newEventStats() EventStats {
	return EventStats{
		Applied:    make(map[string]int),
		Played:     make(map[string]int),
		Suppressed: make(map[string]int),
	}
}

func (s EventStats) clone() EventStats {
	return EventStats{
		Applied:    maps.Clone(s.Applied),
		Played:     maps.Clone(s.Played),
		Suppressed: maps.Clone(s.Suppressed),
	}
}

// HandlesEvent reports whether kind has a handler.
func (w *World) HandlesEvent(kind string) bool {
	_, ok := transientEvents[kind]
	return ok
}

type hitPayload struct {
	Amount int `json:"amount"`
}

// DispatchEvent applies ev. Transient events are suppressed when skipEffects
// is set; state events always apply and need a live target entity.
func (w *World) DispatchEvent(ev gamestate.GenericEvent, skipEffects bool) error {
	transient, ok := transientEvents[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventKind, ev.Type)
	}
	if transient {
		if skipEffects {
			w.events.Suppressed[ev.Type]++
		} else {
			w.events.Played[ev.Type]++
		}
		return nil
	}

	e, ok := w.Lookup(ev.Entity)
	if !ok {
		return fmt.Errorf("%s event: %w: %d", ev.Type, ErrUnknownEntity, ev.Entity)
	}
	if len(ev.Payload) > 0 {
		var hit hitPayload
		if err := json.Unmarshal(ev.Payload, &hit); err != nil {
			return fmt.Errorf("%s event payload: %w", ev.Type, err)
		}
	}
	e.LastHit = w.curTick
	w.events.Applied[ev.Type]++
	return nil
}
