package replay

import (
	"fmt"

	"tick-replay/internal/assert"
	"tick-replay/internal/gamestate"
)

// detachedEntity is a detached entity resolved to its stored state.
type detachedEntity struct {
	net       gamestate.NetEntity
	prototype string
	state     gamestate.EntityState
}

// resolveDetached finds the stored state and prototype of every entity in
// cp.Detached. It does not touch the simulation, so a reset can fail on a
// corrupt checkpoint before anything is applied.
func resolveDetached(cp *Checkpoint) ([]detachedEntity, error) {
	states := make(map[gamestate.NetEntity]gamestate.EntityState, len(cp.DetachedStates))
	for _, es := range cp.DetachedStates {
		states[es.NetEntity] = es
	}

	out := make([]detachedEntity, 0, len(cp.Detached))
	for _, net := range cp.Detached {
		es, ok := states[net]
		if !ok {
			return nil, fmt.Errorf("%w: no state for detached entity %d at index %d", ErrMissingMetadata, net, cp.Index)
		}
		proto, ok := es.Prototype()
		if !ok {
			return nil, fmt.Errorf("%w: no prototype for detached entity %d at index %d", ErrMissingMetadata, net, cp.Index)
		}
		out = append(out, detachedEntity{net: net, prototype: proto, state: es})
	}
	return out, nil
}

// reconcileDetached recreates every resolved entity that does not exist
// locally, so deltas recorded after the checkpoint can reference it.
func reconcileDetached(em EntityManager, tick gamestate.Tick, detached []detachedEntity) error {
	for _, d := range detached {
		if _, deleted, ok := em.Entity(d.net); ok {
			assert.IsTrue(!deleted, "detached entity %d is marked deleted", d.net)
			continue
		}
		uid, err := em.CreateEntity(d.prototype)
		if err != nil {
			return fmt.Errorf("create detached entity %d: %w", d.net, err)
		}
		if err := em.SetNetworkIdentity(uid, d.net); err != nil {
			return fmt.Errorf("map detached entity %d: %w", d.net, err)
		}
		if err := em.SeedEntityState(uid, d.state); err != nil {
			return fmt.Errorf("seed detached entity %d: %w", d.net, err)
		}
		if err := em.InitializeEntity(uid); err != nil {
			return fmt.Errorf("initialize detached entity %d: %w", d.net, err)
		}
		if err := em.StartEntity(uid); err != nil {
			return fmt.Errorf("start detached entity %d: %w", d.net, err)
		}
		em.SetLastStateApplied(uid, tick)
	}
	return nil
}
