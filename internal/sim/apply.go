package sim

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
)

// TransformNetID is the component carrying an entity's position.
const TransformNetID uint16 = 1

// ApplyFullState resets the world to state. Entities absent from the
// snapshot are deleted and every listed entity is attached.
func (w *World) ApplyFullState(state gamestate.GameState) error {
	if !state.IsFull() {
		return fmt.Errorf("%w: from tick %d", ErrNotFullState, state.FromSequence)
	}

	keep := make(map[gamestate.NetEntity]struct{}, len(state.EntityStates))
	for _, es := range state.EntityStates {
		keep[es.NetEntity] = struct{}{}
	}
	for _, net := range w.NetEntities() {
		if _, ok := keep[net]; !ok {
			w.remove(net)
		}
	}

	for _, es := range state.EntityStates {
		e, ok := w.Lookup(es.NetEntity)
		if !ok {
			var err error
			if e, err = w.spawnFrom(es); err != nil {
				return err
			}
		}
		e.Components = make(map[uint16]gamestate.ComponentState, len(es.Components))
		w.mergeComponents(e, es)
		e.Detached = false
		e.LastStateApplied = state.ToSequence
	}
	w.next = nil
	return nil
}

// ApplyState applies a recorded tick. Entities seen for the first time need
// a metadata component carrying their prototype.
func (w *World) ApplyState(cur gamestate.GameState, next *gamestate.GameState) error {
	for _, es := range cur.EntityStates {
		e, ok := w.Lookup(es.NetEntity)
		if !ok {
			var err error
			if e, err = w.spawnFrom(es); err != nil {
				return fmt.Errorf("tick %d: %w", cur.ToSequence, err)
			}
		}
		if e.Detached {
			e.Detached = false
		}
		w.mergeComponents(e, es)
		e.LastStateApplied = cur.ToSequence
	}
	for _, net := range cur.EntityDeletions {
		w.remove(net)
	}
	w.next = next
	return nil
}

func (w *World) spawnFrom(es gamestate.EntityState) (*Entity, error) {
	proto, ok := es.Prototype()
	if !ok {
		return nil, fmt.Errorf("%w: %d has no metadata", ErrUnknownEntity, es.NetEntity)
	}
	return w.spawn(es.NetEntity, proto)
}

// ResetDerivedCaches clears dirty tracking and rebuilds the transform cache
// from component data.
func (w *World) ResetDerivedCaches() {
	w.dirty = make(map[gamestate.EntityUID]struct{})
	w.transforms = make(map[gamestate.NetEntity]Transform, len(w.byNet))
	for net, uid := range w.byNet {
		if t, ok := transformOf(w.entities[uid]); ok {
			w.transforms[net] = t
		}
	}
}

// Dirty reports whether uid changed since the caches were last reset.
func (w *World) Dirty(uid gamestate.EntityUID) bool {
	_, ok := w.dirty[uid]
	return ok
}

// Transform returns the position of net, refreshing the cache entry when the
// entity changed.
func (w *World) Transform(net gamestate.NetEntity) (Transform, bool) {
	e, ok := w.Lookup(net)
	if !ok {
		return Transform{}, false
	}
	if _, dirty := w.dirty[e.UID]; !dirty {
		if t, ok := w.transforms[net]; ok {
			return t, true
		}
	}
	t, ok := transformOf(e)
	if ok {
		w.transforms[net] = t
	}
	return t, ok
}

func transformOf(e *Entity) (Transform, bool) {
	c, ok := e.Components[TransformNetID]
	if !ok {
		return Transform{}, false
	}
	var t Transform
	if raw, ok := c.Fields["x"]; ok {
		if err := json.Unmarshal(raw, &t.X); err != nil {
			logrus.WithError(err).WithField("entity", e.Net).Debug("bad transform x")
		}
	}
	if raw, ok := c.Fields["y"]; ok {
		if err := json.Unmarshal(raw, &t.Y); err != nil {
			logrus.WithError(err).WithField("entity", e.Net).Debug("bad transform y")
		}
	}
	return t, true
}
