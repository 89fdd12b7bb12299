package replay

import "time"

// SeekStrategy names how a seek reached its target.
type SeekStrategy string

const (
	SeekSequential SeekStrategy = "sequential"
	SeekJump       SeekStrategy = "jump"
	SeekRewind     SeekStrategy = "rewind"
)

// Telemetry receives playback measurements.
type Telemetry interface {
	RecordSeek(strategy SeekStrategy, ticks int, took time.Duration)
	RecordCheckpointReset()
	RecordUnhandledMessage(kind string)
	RecordIndex(index int)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordSeek(SeekStrategy, int, time.Duration) {}
func (noopTelemetry) RecordCheckpointReset()                      {}
func (noopTelemetry) RecordUnhandledMessage(string)               {}
func (noopTelemetry) RecordIndex(int)                             {}
