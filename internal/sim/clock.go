package sim

import (
	"time"

	"tick-replay/internal/gamestate"
)

// SetTimeBase sets the (time, tick) anchor.
func (w *World) SetTimeBase(tb gamestate.TimeBase) {
	w.timeBase = tb
}

// TimeBase returns the (time, tick) anchor.
func (w *World) TimeBase() gamestate.TimeBase {
	return w.timeBase
}

// SetCurTick sets the current tick.
func (w *World) SetCurTick(tick gamestate.Tick) {
	w.curTick = tick
}

// CurTick returns the current tick.
func (w *World) CurTick() gamestate.Tick {
	return w.curTick
}

// CurTime returns the wall-clock time of the current tick.
func (w *World) CurTime() time.Duration {
	return w.timeBase.TimeOf(w.curTick, w.cvars.TickRate())
}
