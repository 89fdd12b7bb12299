package checkpoint

import (
	"context"
	"errors"
	"time"

	"tick-replay/internal/replay"
)

// ErrNotCached is returned by a Cache that holds no set for a recording.
var ErrNotCached = errors.New("checkpoints not cached")

// Set is the generated checkpoint table of one recording.
type Set struct {
	Checkpoints []replay.Checkpoint `json:"checkpoints"`
	Times       []time.Duration     `json:"times"`
}

// Cache persists generated checkpoints keyed by recording fingerprint and
// generator settings.
type Cache interface {
	Get(ctx context.Context, fingerprint, settingsKey string) (*Set, error)
	Put(ctx context.Context, fingerprint, settingsKey string, set *Set) error
}
