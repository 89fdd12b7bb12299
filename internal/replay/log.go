// Package replay seeks and plays back recorded sessions of a tick-driven
// simulation. It owns the playback cursor and drives the simulation through
// the collaborator interfaces in collaborators.go; it holds no locks and is
// expected to be called from a single goroutine.
package replay

import (
	"fmt"
	"time"

	"tick-replay/internal/assert"
	"tick-replay/internal/gamestate"
)

// Checkpoint is a self-sufficient snapshot of the simulation at Index.
type Checkpoint struct {
	Index    int                `json:"index"`
	Tick     gamestate.Tick     `json:"tick"`
	TimeBase gamestate.TimeBase `json:"timeBase"`
	// FullState lists every attached entity. Detached entities are carried
	// separately in DetachedStates.
	FullState gamestate.GameState `json:"fullState"`
	Cvars     map[string]any      `json:"cvars"`
	// Detached entities are not present in the recorded view at this point.
	Detached       []gamestate.NetEntity   `json:"detached,omitempty"`
	DetachedStates []gamestate.EntityState `json:"detachedStates,omitempty"`
	// PendingDetach holds leave notifications recorded at or before Tick
	// that take effect on a later tick.
	PendingDetach []gamestate.LeaveVisibility `json:"pendingDetach,omitempty"`
}

// Log is an immutable recorded session. Playback only reads it, so it may be
// shared with UI code for display.
type Log struct {
	States      []gamestate.GameState
	Messages    [][]gamestate.Message
	Checkpoints CheckpointIndex
	// ReplayTime is the wall-clock time of each index relative to index 0.
	ReplayTime []time.Duration
	// TickOffset maps index to tick: tick = index + TickOffset.
	TickOffset gamestate.Tick
	// ClientSide recordings were captured from a single visibility-filtered
	// perspective; leave notifications only apply to them.
	ClientSide   bool
	Metadata     map[string]string
	InitMessages []gamestate.Message
}

// Len returns the number of recorded ticks.
func (l *Log) Len() int {
	return len(l.States)
}

// LastIndex returns the index of the final recorded tick.
func (l *Log) LastIndex() int {
	return len(l.States) - 1
}

// Validate checks the log is structurally playable. Ordering and contiguity
// invariants are only asserted in debug builds.
func (l *Log) Validate() error {
	if l == nil || len(l.States) == 0 {
		return fmt.Errorf("%w: no recorded ticks", ErrInvalidLog)
	}
	if len(l.Messages) != len(l.States) {
		return fmt.Errorf("%w: %d message lists for %d ticks", ErrInvalidLog, len(l.Messages), len(l.States))
	}
	if len(l.ReplayTime) != len(l.States) {
		return fmt.Errorf("%w: %d replay times for %d ticks", ErrInvalidLog, len(l.ReplayTime), len(l.States))
	}
	if len(l.Checkpoints) == 0 || l.Checkpoints[0].Index != 0 {
		return fmt.Errorf("%w: index 0 has no checkpoint", ErrInvalidLog)
	}
	if last := l.Checkpoints[len(l.Checkpoints)-1].Index; last > l.LastIndex() {
		return fmt.Errorf("%w: checkpoint at index %d beyond last tick %d", ErrInvalidLog, last, l.LastIndex())
	}

	if assert.Enabled {
		for i := 1; i < len(l.Checkpoints); i++ {
			assert.IsTrue(l.Checkpoints[i].Index > l.Checkpoints[i-1].Index,
				"checkpoint %d at index %d does not follow index %d", i, l.Checkpoints[i].Index, l.Checkpoints[i-1].Index)
		}
		for i := 1; i < len(l.States); i++ {
			assert.IsTrue(l.States[i].FromSequence == l.States[i-1].ToSequence,
				"state %d starts at tick %d, previous ends at %d", i, l.States[i].FromSequence, l.States[i-1].ToSequence)
		}
		for _, cp := range l.Checkpoints {
			assert.IsTrue(cp.FullState.IsFull(), "checkpoint at index %d carries a delta state", cp.Index)
		}
	}
	return nil
}
