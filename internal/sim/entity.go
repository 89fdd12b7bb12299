package sim

import (
	"fmt"

	"tick-replay/internal/gamestate"
)

// CreateEntity creates an entity of prototype without a network identity.
func (w *World) CreateEntity(prototype string) (gamestate.EntityUID, error) {
	if prototype == "" {
		return 0, fmt.Errorf("%w: empty prototype", ErrLifecycle)
	}
	w.nextUID++
	e := &Entity{
		UID:        w.nextUID,
		Prototype:  prototype,
		Components: make(map[uint16]gamestate.ComponentState),
		Stage:      StageCreated,
	}
	w.entities[e.UID] = e
	return e.UID, nil
}

// SetNetworkIdentity maps net onto uid.
func (w *World) SetNetworkIdentity(uid gamestate.EntityUID, net gamestate.NetEntity) error {
	e, ok := w.entities[uid]
	if !ok {
		return fmt.Errorf("%w: uid %d", ErrUnknownEntity, uid)
	}
	if other, taken := w.byNet[net]; taken && other != uid {
		return fmt.Errorf("%w: %d", ErrIdentityTaken, net)
	}
	w.byNet[net] = uid
	e.Net = net
	return nil
}

// SeedEntityState replaces the components of uid with the full state es.
func (w *World) SeedEntityState(uid gamestate.EntityUID, es gamestate.EntityState) error {
	e, ok := w.entities[uid]
	if !ok {
		return fmt.Errorf("%w: uid %d", ErrUnknownEntity, uid)
	}
	e.Components = make(map[uint16]gamestate.ComponentState, len(es.Components))
	w.mergeComponents(e, es)
	return nil
}

// InitializeEntity moves a created entity to initialized.
func (w *World) InitializeEntity(uid gamestate.EntityUID) error {
	return w.advance(uid, StageCreated, StageInitialized)
}

// StartEntity moves an initialized entity to started.
func (w *World) StartEntity(uid gamestate.EntityUID) error {
	return w.advance(uid, StageInitialized, StageStarted)
}

func (w *World) advance(uid gamestate.EntityUID, from, to Stage) error {
	e, ok := w.entities[uid]
	if !ok {
		return fmt.Errorf("%w: uid %d", ErrUnknownEntity, uid)
	}
	if e.Stage != from {
		return fmt.Errorf("%w: entity %d is in stage %d, expected %d", ErrLifecycle, uid, e.Stage, from)
	}
	e.Stage = to
	w.dirty[uid] = struct{}{}
	return nil
}

// SetLastStateApplied stamps the tick of the last state applied to uid.
func (w *World) SetLastStateApplied(uid gamestate.EntityUID, tick gamestate.Tick) {
	if e, ok := w.entities[uid]; ok {
		e.LastStateApplied = tick
	}
}

// FlushEntities deletes every entity and derived data.
func (w *World) FlushEntities() {
	w.entities = make(map[gamestate.EntityUID]*Entity)
	w.byNet = make(map[gamestate.NetEntity]gamestate.EntityUID)
	w.dirty = make(map[gamestate.EntityUID]struct{})
	w.transforms = make(map[gamestate.NetEntity]Transform)
	w.next = nil
}

// spawn creates, maps, initializes and starts an entity in one step.
func (w *World) spawn(net gamestate.NetEntity, prototype string) (*Entity, error) {
	uid, err := w.CreateEntity(prototype)
	if err != nil {
		return nil, err
	}
	if err := w.SetNetworkIdentity(uid, net); err != nil {
		delete(w.entities, uid)
		return nil, err
	}
	if err := w.InitializeEntity(uid); err != nil {
		return nil, err
	}
	if err := w.StartEntity(uid); err != nil {
		return nil, err
	}
	return w.entities[uid], nil
}

func (w *World) remove(net gamestate.NetEntity) {
	uid, ok := w.byNet[net]
	if !ok {
		return
	}
	delete(w.byNet, net)
	delete(w.entities, uid)
	delete(w.dirty, uid)
	delete(w.transforms, net)
}

// mergeComponents folds es onto the entity's components.
func (w *World) mergeComponents(e *Entity, es gamestate.EntityState) {
	prev := gamestate.EntityState{NetEntity: e.Net}
	for id, st := range e.Components {
		prev.Components = append(prev.Components, gamestate.ComponentChange{NetID: id, State: st})
	}
	full := gamestate.FullEntityState(es, prev)
	e.Components = make(map[uint16]gamestate.ComponentState, len(full.Components))
	for _, c := range full.Components {
		e.Components[c.NetID] = c.State
	}
	w.dirty[e.UID] = struct{}{}
}
