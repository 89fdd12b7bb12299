package viewer

import (
	"fmt"

	"tick-replay/internal/replay"
)

// Status is a point-in-time snapshot of the host.
type Status struct {
	Session            string            `json:"session,omitempty"`
	Source             string            `json:"source,omitempty"`
	Active             bool              `json:"active"`
	Index              int               `json:"index"`
	Tick               uint32            `json:"tick"`
	NextTick           uint32            `json:"nextTick,omitempty"`
	Length             int               `json:"length"`
	Playing            bool              `json:"playing"`
	ScrubbingTarget    *int              `json:"scrubbingTarget"`
	AutoPauseCountdown *uint32           `json:"autoPauseCountdown"`
	ReplayTime         float64           `json:"replayTime"`
	Duration           float64           `json:"duration"`
	Entities           int               `json:"entities"`
	Checksum           string            `json:"checksum"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// CheckpointInfo summarises one checkpoint.
type CheckpointInfo struct {
	Index    int     `json:"index"`
	Tick     uint32  `json:"tick"`
	Time     float64 `json:"time"`
	Entities int     `json:"entities"`
	Detached int     `json:"detached"`
}

// Status returns the current playback snapshot.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.player.Cursor()
	st := Status{
		Session:            h.session,
		Source:             h.source,
		Active:             h.player.Active(),
		Index:              cur.CurrentIndex,
		Playing:            cur.Playing,
		ScrubbingTarget:    cur.ScrubbingTarget,
		AutoPauseCountdown: cur.AutoPauseCountdown,
		Entities:           h.world.EntityCount(),
		Checksum:           fmt.Sprintf("%016x", h.world.Checksum()),
	}
	l := h.player.Log()
	if l == nil {
		return st
	}
	st.Length = l.Len()
	st.Metadata = l.Metadata
	st.Duration = l.ReplayTime[l.LastIndex()].Seconds()
	if cur.CurrentIndex >= 0 {
		st.Tick = uint32(l.States[cur.CurrentIndex].ToSequence)
		st.ReplayTime = l.ReplayTime[cur.CurrentIndex].Seconds()
	}
	// The interpolation target, unset at the end and right after a reset.
	if next := h.world.Next(); next != nil {
		st.NextTick = uint32(next.ToSequence)
	}
	return st
}

// Checksum returns the world digest at the current index.
func (h *Host) Checksum() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.Checksum()
}

// Checkpoints lists the checkpoints of the active replay.
func (h *Host) Checkpoints() ([]CheckpointInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.player.Log()
	if l == nil {
		return nil, fmt.Errorf("%w: no active replay", replay.ErrInvalidOperation)
	}
	out := make([]CheckpointInfo, 0, len(l.Checkpoints))
	for _, cp := range l.Checkpoints {
		out = append(out, CheckpointInfo{
			Index:    cp.Index,
			Tick:     uint32(cp.Tick),
			Time:     l.ReplayTime[cp.Index].Seconds(),
			Entities: len(cp.FullState.EntityStates),
			Detached: len(cp.Detached),
		})
	}
	return out, nil
}
