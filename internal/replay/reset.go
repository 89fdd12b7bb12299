package replay

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/assert"
)

// ResetToCheckpoint resets the simulation to the nearest checkpoint at or
// before target. flush deletes every entity first, which is only needed
// when switching recordings.
func (p *Player) ResetToCheckpoint(target int, flush bool) error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	return p.resetToCheckpoint(target, nil, flush)
}

func (p *Player) resetToCheckpoint(target int, cp *Checkpoint, flush bool) error {
	if cp == nil {
		cp = p.replay.Checkpoints.NearestAtOrBefore(target)
	}
	assert.IsTrue(cp != nil, "no checkpoint for index %d", target)

	detached, err := resolveDetached(cp)
	if err != nil {
		return err
	}

	if flush {
		p.sim.FlushEntities()
	}

	for _, name := range slices.Sorted(maps.Keys(cp.Cvars)) {
		if err := p.sim.SetConfigValue(name, cp.Cvars[name], true); err != nil {
			return fmt.Errorf("restore cvar %s at index %d: %w", name, cp.Index, err)
		}
	}

	p.sim.SetTimeBase(cp.TimeBase)
	p.sim.SetCurTick(cp.Tick)

	if err := p.sim.ApplyFullState(cp.FullState); err != nil {
		return fmt.Errorf("apply checkpoint at index %d: %w", cp.Index, err)
	}
	// Caches derive from the state just applied.
	p.sim.ResetDerivedCaches()

	p.sim.ClearDetachQueue()
	for _, leave := range cp.PendingDetach {
		p.sim.QueueDetach(leave.Tick, leave.Entities)
	}

	if err := reconcileDetached(p.sim, cp.Tick, detached); err != nil {
		return err
	}
	p.sim.DetachImmediate(cp.Detached)

	p.cursor.CurrentIndex = cp.Index
	p.telemetry.RecordCheckpointReset()
	p.log.WithFields(logrus.Fields{
		"checkpoint": cp.Index,
		"tick":       cp.Tick,
		"detached":   len(cp.Detached),
	}).Debug("reset to checkpoint")
	p.observers.emit(Event{Kind: EventCheckpointReset, Index: cp.Index, Tick: cp.Tick})

	p.sim.SetCurTick(cp.Tick + 1)
	return nil
}
