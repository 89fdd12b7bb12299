package sim

import (
	"slices"

	"tick-replay/internal/gamestate"
)

// QueueDetach schedules entities to leave the view at tick.
func (w *World) QueueDetach(tick gamestate.Tick, entities []gamestate.NetEntity) {
	if len(entities) == 0 {
		return
	}
	pending, _ := w.detachQueue.Get(tick)
	w.detachQueue.Set(tick, append(slices.Clone(pending), entities...))
}

// ProcessDetachQueue detaches every entry queued for a tick <= upTo.
func (w *World) ProcessDetachQueue(upTo gamestate.Tick) {
	var due []gamestate.Tick
	for el := w.detachQueue.Front(); el != nil; el = el.Next() {
		if el.Key <= upTo {
			due = append(due, el.Key)
		}
	}
	slices.Sort(due)
	for _, tick := range due {
		entities, _ := w.detachQueue.Get(tick)
		w.detachQueue.Delete(tick)
		w.DetachImmediate(entities)
	}
}

// DetachImmediate detaches entities now. Unknown entities are ignored.
func (w *World) DetachImmediate(entities []gamestate.NetEntity) {
	for _, net := range entities {
		e, ok := w.Lookup(net)
		if !ok {
			w.log.WithField("entity", net).Debug("detach of unknown entity ignored")
			continue
		}
		e.Detached = true
	}
}

// ClearDetachQueue drops every pending detach.
func (w *World) ClearDetachQueue() {
	for _, tick := range w.detachQueue.Keys() {
		w.detachQueue.Delete(tick)
	}
}

// PendingDetach returns the queued detaches in tick order.
func (w *World) PendingDetach() []gamestate.LeaveVisibility {
	out := make([]gamestate.LeaveVisibility, 0, w.detachQueue.Len())
	for el := w.detachQueue.Front(); el != nil; el = el.Next() {
		out = append(out, gamestate.LeaveVisibility{Tick: el.Key, Entities: slices.Clone(el.Value)})
	}
	slices.SortFunc(out, func(a, b gamestate.LeaveVisibility) int { return int(a.Tick) - int(b.Tick) })
	return out
}
