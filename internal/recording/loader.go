package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/checkpoint"
	"tick-replay/internal/replay"
)

// MetadataFingerprint is the log metadata key holding the file fingerprint.
const MetadataFingerprint = "fingerprint"

// Loader turns recording files into replay logs, generating checkpoints
// when the file carries none.
type Loader struct {
	generator *checkpoint.Generator
	cache     checkpoint.Cache
	log       logrus.FieldLogger
}

// NewLoader returns a loader. cache may be nil.
func NewLoader(gen *checkpoint.Generator, cache checkpoint.Cache, log logrus.FieldLogger) *Loader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loader{generator: gen, cache: cache, log: log}
}

// Load reads and prepares the recording at path.
func (l *Loader) Load(ctx context.Context, path string) (*replay.Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return l.LoadBytes(ctx, data)
}

// LoadBytes prepares an in-memory recording.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) (*replay.Log, error) {
	f, err := Read(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(data)
	log := l.log.WithField("fingerprint", fp)

	set, err := l.checkpoints(ctx, fp, f, log)
	if err != nil {
		return nil, err
	}

	meta := maps.Clone(f.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta[MetadataFingerprint] = fp

	rl := &replay.Log{
		States:       f.States,
		Messages:     f.Messages,
		Checkpoints:  set.Checkpoints,
		ReplayTime:   set.Times,
		TickOffset:   f.TickOffset,
		ClientSide:   f.ClientSide,
		Metadata:     meta,
		InitMessages: f.InitMessages,
	}
	if err := rl.Validate(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"ticks":       rl.Len(),
		"checkpoints": len(rl.Checkpoints),
	}).Info("recording loaded")
	return rl, nil
}

func (l *Loader) checkpoints(ctx context.Context, fp string, f *File, log logrus.FieldLogger) (*checkpoint.Set, error) {
	if len(f.Checkpoints) > 0 && len(f.Times) == len(f.States) {
		log.Debug("using stored checkpoints")
		return &checkpoint.Set{Checkpoints: f.Checkpoints, Times: f.Times}, nil
	}

	key := l.generator.Settings().Key()
	if l.cache != nil {
		set, err := l.cache.Get(ctx, fp, key)
		switch {
		case err == nil:
			log.Debug("using cached checkpoints")
			return set, nil
		case errors.Is(err, checkpoint.ErrNotCached):
		default:
			log.WithError(err).Warn("checkpoint cache unavailable")
		}
	}

	cps, times, err := l.generator.Generate(f.InitMessages, f.States, f.Messages, f.ClientSide)
	if err != nil {
		return nil, fmt.Errorf("generate checkpoints: %w", err)
	}
	set := &checkpoint.Set{Checkpoints: cps, Times: times}
	if l.cache != nil {
		if err := l.cache.Put(ctx, fp, key, set); err != nil {
			log.WithError(err).Warn("failed to cache checkpoints")
		}
	}
	return set, nil
}
