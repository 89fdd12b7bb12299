package recording

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tick-replay/internal/checkpoint"
)

type memoryCache struct {
	sets map[string]*checkpoint.Set
	gets int
	puts int
	err  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{sets: make(map[string]*checkpoint.Set)}
}

func (c *memoryCache) Get(_ context.Context, fp, key string) (*checkpoint.Set, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	set, ok := c.sets[fp+"/"+key]
	if !ok {
		return nil, checkpoint.ErrNotCached
	}
	return set, nil
}

func (c *memoryCache) Put(_ context.Context, fp, key string, set *checkpoint.Set) error {
	c.puts++
	c.sets[fp+"/"+key] = set
	return nil
}

func encoded(t *testing.T, f *File) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testGenerator() *checkpoint.Generator {
	return checkpoint.NewGenerator(checkpoint.Settings{Interval: 20, MinInterval: 5, SpawnThreshold: 50, StateThreshold: 500}, nil)
}

func TestLoaderCachesCheckpoints(t *testing.T) {
	cache := newMemoryCache()
	loader := NewLoader(testGenerator(), cache, nil)
	data := encoded(t, synthFile(100))

	first, err := loader.LoadBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if cache.puts != 1 {
		t.Fatalf("expected generated checkpoints to be cached, puts=%d", cache.puts)
	}
	if first.Metadata[MetadataFingerprint] != Fingerprint(data) {
		t.Error("expected fingerprint in metadata")
	}
	if first.Metadata["map"] != "arena" {
		t.Error("expected recorded metadata to be kept")
	}

	second, err := loader.LoadBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if cache.puts != 1 || cache.gets != 2 {
		t.Errorf("expected a cache hit, gets=%d puts=%d", cache.gets, cache.puts)
	}
	if len(second.Checkpoints) != len(first.Checkpoints) {
		t.Error("cached checkpoints differ")
	}
}

func TestLoaderCacheFailure(t *testing.T) {
	cache := newMemoryCache()
	cache.err = errors.New("disk on fire")
	loader := NewLoader(testGenerator(), cache, nil)

	l, err := loader.LoadBytes(context.Background(), encoded(t, synthFile(50)))
	if err != nil {
		t.Fatalf("a broken cache must not prevent loading: %v", err)
	}
	if len(l.Checkpoints) == 0 {
		t.Error("expected generated checkpoints")
	}
}

func TestLoaderUsesStoredCheckpoints(t *testing.T) {
	f := synthFile(80)
	cps, times, err := testGenerator().Generate(f.InitMessages, f.States, f.Messages, f.ClientSide)
	if err != nil {
		t.Fatal(err)
	}
	f.Checkpoints = cps
	f.Times = times

	path := filepath.Join(t.TempDir(), "stored.jsonl.zst")
	if err := Save(path, f); err != nil {
		t.Fatal(err)
	}

	cache := newMemoryCache()
	l, err := NewLoader(testGenerator(), cache, nil).Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if cache.gets != 0 {
		t.Error("stored checkpoints must bypass the cache")
	}
	if len(l.Checkpoints) != len(cps) || l.ReplayTime[79] != times[79] {
		t.Error("stored checkpoints not used")
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(testGenerator(), nil, nil)
	if _, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}
