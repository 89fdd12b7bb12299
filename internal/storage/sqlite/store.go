// Package sqlite persists generated checkpoint sets so a recording only has
// to be scanned once.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"tick-replay/internal/checkpoint"
	"tick-replay/internal/storage/sqlite/migrations"
)

// ErrNotFound is returned when no set is stored for the fingerprint and
// settings. It matches checkpoint.ErrNotCached.
var ErrNotFound = fmt.Errorf("checkpoint set not found: %w", checkpoint.ErrNotCached)

// Store is a SQLite-backed checkpoint.Cache.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ checkpoint.Cache = (*Store)(nil)

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

// Get returns the set stored for fingerprint. A set generated with other
// settings is reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, fingerprint, settingsKey string) (*checkpoint.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		settings string
		payload  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT settings, payload FROM checkpoint_sets WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&settings, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint set: %w", err)
	}
	if settings != settingsKey {
		return nil, ErrNotFound
	}

	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint set: %w", err)
	}
	var set checkpoint.Set
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode checkpoint set: %w", err)
	}
	return &set, nil
}

// Put stores set for fingerprint, replacing any previous entry.
func (s *Store) Put(ctx context.Context, fingerprint, settingsKey string, set *checkpoint.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("checkpoint set is required")
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode checkpoint set: %w", err)
	}
	payload := s.enc.EncodeAll(raw, nil)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoint_sets (fingerprint, settings, checkpoints, payload, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	settings = excluded.settings,
	checkpoints = excluded.checkpoints,
	payload = excluded.payload,
	created_at = excluded.created_at
`,
		fingerprint,
		settingsKey,
		len(set.Checkpoints),
		payload,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put checkpoint set: %w", err)
	}
	return nil
}
