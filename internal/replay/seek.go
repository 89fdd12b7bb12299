package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
)

// SetIndex seeks to target, clamped to the recording. Backward seeks and long
// forward seeks reset to a checkpoint and replay forward from it. On failure
// the cursor stays at the last index that was fully applied.
func (p *Player) SetIndex(target int, pause bool) error {
	if p.replay == nil {
		return fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	target = max(0, min(target, p.replay.LastIndex()))
	cur := p.cursor.CurrentIndex
	if target == cur {
		return nil
	}
	if pause {
		p.setPlaying(false)
	}

	p.observers.emit(Event{Kind: EventBeforeSeek, Index: cur, Tick: p.currentTick()})
	var err error
	defer func() {
		p.observers.emit(Event{Kind: EventAfterSeek, Index: p.cursor.CurrentIndex, Tick: p.currentTick(), Err: err})
	}()

	start := time.Now()
	skipEffects := target > cur+p.settings.VisualEventThreshold
	strategy := SeekSequential

	switch {
	case target < cur:
		strategy = SeekRewind
		skipEffects = true
		err = p.resetToCheckpoint(target, nil, false)
	case target > cur+p.settings.CheckpointJumpInterval:
		next := p.replay.Checkpoints.NearestAtOrAfter(cur)
		if next.Index >= cur && next.Index < target {
			if best := p.replay.Checkpoints.NearestAtOrBefore(target); best.Index > cur {
				strategy = SeekJump
				err = p.resetToCheckpoint(target, best, false)
			}
		}
	}
	if err != nil {
		err = fmt.Errorf("seek to index %d: %w", target, err)
		return err
	}

	from := p.cursor.CurrentIndex
	if err = p.replayForward(target, skipEffects); err != nil {
		err = fmt.Errorf("seek to index %d: %w", target, err)
		return err
	}

	took := time.Since(start)
	p.telemetry.RecordSeek(strategy, target-from, took)
	p.telemetry.RecordIndex(p.cursor.CurrentIndex)
	p.log.WithFields(logrus.Fields{
		"from":        cur,
		"index":       target,
		"strategy":    strategy,
		"skipEffects": skipEffects,
		"took":        took,
	}).Debug("seek complete")
	return nil
}

// SetTime seeks to the index recorded at d.
func (p *Player) SetTime(d time.Duration, pause bool) error {
	index, err := p.GetIndex(d)
	if err != nil {
		return err
	}
	return p.SetIndex(index, pause)
}

// GetIndex returns the greatest index recorded at or before d. Non-positive
// durations map to 0 and durations past the end map to the last index.
func (p *Player) GetIndex(d time.Duration) (int, error) {
	if p.replay == nil {
		return 0, fmt.Errorf("%w: no active replay", ErrInvalidOperation)
	}
	if d <= 0 {
		return 0, nil
	}
	times := p.replay.ReplayTime
	index := sort.Search(len(times), func(i int) bool { return times[i] > d }) - 1
	return max(0, min(index, p.replay.LastIndex())), nil
}

// Update advances playback by one frame. A pending scrub target is sought
// without pausing; otherwise a playing cursor applies exactly one tick.
func (p *Player) Update() error {
	if p.replay == nil {
		return nil
	}
	if p.cursor.ScrubbingTarget != nil {
		return p.SetIndex(*p.cursor.ScrubbingTarget, false)
	}
	if !p.cursor.Playing || p.cursor.CurrentIndex >= p.replay.LastIndex() {
		return nil
	}
	if c := p.cursor.AutoPauseCountdown; c != nil && *c == 0 {
		p.cursor.AutoPauseCountdown = nil
		p.setPlaying(false)
		return nil
	}

	if err := p.applyTick(p.cursor.CurrentIndex+1, false); err != nil {
		return err
	}
	p.telemetry.RecordIndex(p.cursor.CurrentIndex)

	if c := p.cursor.AutoPauseCountdown; c != nil {
		*c--
		if *c == 0 {
			p.cursor.AutoPauseCountdown = nil
			p.setPlaying(false)
		}
	}
	return nil
}

func (p *Player) replayForward(target int, skipEffects bool) error {
	for i := p.cursor.CurrentIndex + 1; i <= target; i++ {
		if err := p.applyTick(i, skipEffects); err != nil {
			return err
		}
	}
	return nil
}

// applyTick applies the state and messages recorded at index and moves the
// cursor there. The clock is left one tick past the applied state.
func (p *Player) applyTick(index int, skipEffects bool) error {
	l := p.replay
	state := l.States[index]
	var next *gamestate.GameState
	if index+1 < len(l.States) {
		next = &l.States[index+1]
	}

	p.sim.SetCurTick(state.ToSequence)
	p.observers.emit(Event{Kind: EventBeforeApplyState, Index: index, Tick: state.ToSequence, Current: &state, Next: next})
	if err := p.sim.ApplyState(state, next); err != nil {
		return fmt.Errorf("apply state at index %d: %w", index, err)
	}
	p.messages.Replay(state.ToSequence, l.Messages[index], skipEffects, false)
	p.sim.ProcessDetachQueue(state.ToSequence)

	p.cursor.CurrentIndex = index
	p.sim.SetCurTick(state.ToSequence + 1)
	return nil
}
