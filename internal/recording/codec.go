// Package recording reads and writes recorded sessions as newline-delimited
// JSON, optionally zstd-compressed, and loads them into replay logs.
package recording

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"tick-replay/internal/gamestate"
	"tick-replay/internal/replay"
)

// FormatVersion is the version written to new recordings.
const FormatVersion = 1

// ErrFormat indicates a malformed recording.
var ErrFormat = errors.New("malformed recording")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Record types.
const (
	recordHeader     = "header"
	recordTick       = "tick"
	recordCheckpoint = "checkpoint"
	recordTimes      = "times"
)

// File is a decoded recording. Checkpoints and Times are optional.
type File struct {
	Version      int
	ClientSide   bool
	TickOffset   gamestate.Tick
	Metadata     map[string]string
	InitMessages []gamestate.Message
	States       []gamestate.GameState
	Messages     [][]gamestate.Message
	Checkpoints  []replay.Checkpoint
	Times        []time.Duration
}

type headerRecord struct {
	Record       string            `json:"record"`
	Version      int               `json:"version"`
	ClientSide   bool              `json:"clientSide"`
	TickOffset   gamestate.Tick    `json:"tickOffset"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	InitMessages []envelope        `json:"initMessages,omitempty"`
}

type tickRecord struct {
	Record   string              `json:"record"`
	Index    int                 `json:"index"`
	State    gamestate.GameState `json:"state"`
	Messages []envelope          `json:"messages,omitempty"`
}

type checkpointRecord struct {
	Record     string            `json:"record"`
	Checkpoint replay.Checkpoint `json:"checkpoint"`
}

type timesRecord struct {
	Record string          `json:"record"`
	Times  []time.Duration `json:"times"`
}

// rawRecord defers decoding of message lists until the record type is known.
type rawRecord struct {
	Record       string              `json:"record"`
	Version      int                 `json:"version"`
	ClientSide   bool                `json:"clientSide"`
	TickOffset   gamestate.Tick      `json:"tickOffset"`
	Metadata     map[string]string   `json:"metadata"`
	InitMessages []json.RawMessage   `json:"initMessages"`
	Index        int                 `json:"index"`
	State        gamestate.GameState `json:"state"`
	Messages     []json.RawMessage   `json:"messages"`
	Checkpoint   *replay.Checkpoint  `json:"checkpoint"`
	Times        []time.Duration     `json:"times"`
}

// Read decodes a recording, decompressing it when it starts with the zstd
// magic number.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		return readLines(dec)
	}
	return readLines(br)
}

func readLines(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var f *File
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrFormat, line, err)
		}

		if f == nil {
			if rec.Record != recordHeader {
				return nil, fmt.Errorf("%w: line %d: expected header, got %q", ErrFormat, line, rec.Record)
			}
			if rec.Version != FormatVersion {
				return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, rec.Version)
			}
			init, err := decodeMessages(rec.InitMessages)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			f = &File{
				Version:      rec.Version,
				ClientSide:   rec.ClientSide,
				TickOffset:   rec.TickOffset,
				Metadata:     rec.Metadata,
				InitMessages: init,
			}
			continue
		}

		switch rec.Record {
		case recordTick:
			if rec.Index != len(f.States) {
				return nil, fmt.Errorf("%w: line %d: tick index %d, expected %d", ErrFormat, line, rec.Index, len(f.States))
			}
			msgs, err := decodeMessages(rec.Messages)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			f.States = append(f.States, rec.State)
			f.Messages = append(f.Messages, msgs)
		case recordCheckpoint:
			if rec.Checkpoint == nil {
				return nil, fmt.Errorf("%w: line %d: empty checkpoint", ErrFormat, line)
			}
			f.Checkpoints = append(f.Checkpoints, *rec.Checkpoint)
		case recordTimes:
			f.Times = rec.Times
		default:
			return nil, fmt.Errorf("%w: line %d: unknown record %q", ErrFormat, line, rec.Record)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: empty recording", ErrFormat)
	}
	return f, nil
}

// Write encodes f as uncompressed newline-delimited JSON.
func Write(w io.Writer, f *File) error {
	enc := json.NewEncoder(w)

	init, err := encodeMessages(f.InitMessages)
	if err != nil {
		return err
	}
	if err := enc.Encode(headerRecord{
		Record:       recordHeader,
		Version:      FormatVersion,
		ClientSide:   f.ClientSide,
		TickOffset:   f.TickOffset,
		Metadata:     f.Metadata,
		InitMessages: init,
	}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, st := range f.States {
		var msgs []envelope
		if i < len(f.Messages) {
			if msgs, err = encodeMessages(f.Messages[i]); err != nil {
				return fmt.Errorf("tick %d: %w", i, err)
			}
		}
		if err := enc.Encode(tickRecord{Record: recordTick, Index: i, State: st, Messages: msgs}); err != nil {
			return fmt.Errorf("write tick %d: %w", i, err)
		}
	}
	for _, cp := range f.Checkpoints {
		if err := enc.Encode(checkpointRecord{Record: recordCheckpoint, Checkpoint: cp}); err != nil {
			return fmt.Errorf("write checkpoint %d: %w", cp.Index, err)
		}
	}
	if len(f.Times) > 0 {
		if err := enc.Encode(timesRecord{Record: recordTimes, Times: f.Times}); err != nil {
			return fmt.Errorf("write times: %w", err)
		}
	}
	return nil
}

// WriteCompressed encodes f through a zstd stream.
func WriteCompressed(w io.Writer, f *File) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	if err := Write(enc, f); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Open reads the recording at path.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Read(fh)
}

// Save writes f to path, compressed when the name ends in .zst.
func Save(path string, f *File) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		err = WriteCompressed(fh, f)
	} else {
		bw := bufio.NewWriter(fh)
		if err = Write(bw, f); err == nil {
			err = bw.Flush()
		}
	}
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	return err
}

// Fingerprint returns the xxh3-128 digest of data as hex.
func Fingerprint(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}
