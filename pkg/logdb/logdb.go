// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package logdb is an append-only, binary-searchable store of structured
// diagnostic records, pruned by disk usage.
package logdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/SentryShot/sentryshot/pkg/chunk"
)

var store = &chunk.Store{
	Magic:            []byte("SentryShot\x00logdb\x00\x00\x00\x00\x89\x85\x80\x85\x00\x00v"),
	Version:          0,
	RecordSize:       47,
	PayloadOffsetPos: 40,
	BucketWidth:      100_000_000_000, // Microseconds, 27.7 hours.
}

const (
	srcMaxLength       = 8
	monitorIDMaxLength = 24
)

// UnixMicro is a point in time expressed as microseconds since the Unix
// epoch.
type UnixMicro int64

// NowUnixMicro returns the current time.
func NowUnixMicro() UnixMicro {
	return UnixMicro(time.Now().UnixMicro())
}

// Level of a log entry. The values leave room for intermediate levels.
type Level uint8

// Log levels.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// Entry is one stored log record.
type Entry struct {
	Level     Level
	Time      UnixMicro
	Src       string
	MonitorID string
	Msg       string
}

// Errors.
var (
	ErrSrcTooLong       = fmt.Errorf("source longer than %d bytes", srcMaxLength)
	ErrMonitorIDTooLong = fmt.Errorf("monitor id longer than %d bytes", monitorIDMaxLength)
)

// DB is the log database. Its write path is a single short critical
// section guarded by a mutex.
type DB struct {
	mu      sync.Mutex
	logDir  string
	encoder *chunk.Encoder

	// prevEntryTime ensures that the next entry will have a later time.
	prevEntryTime UnixMicro

	// The database will use up to 1% of total disk space or
	// minDiskUsage, whichever is larger.
	diskSpace    int64
	minDiskUsage int64
}

// New creates the log directory and returns a DB.
func New(logDir string, diskSpace, minDiskUsage int64) (*DB, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("make log directory: %v: %w", logDir, err)
	}
	return &DB{
		logDir:       logDir,
		diskSpace:    diskSpace,
		minDiskUsage: minDiskUsage,
	}, nil
}

// SaveLog appends one entry. Stale or duplicate timestamps are bumped to
// the previous entry time plus one microsecond.
func (db *DB) SaveLog(entry Entry) error {
	if len(entry.Src) > srcMaxLength {
		return ErrSrcTooLong
	}
	if len(entry.MonitorID) > monitorIDMaxLength {
		return ErrMonitorIDTooLong
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	chunkID, err := store.TimeToID(int64(entry.Time))
	if err != nil {
		return fmt.Errorf("time to id: %w", err)
	}

	if db.encoder != nil && chunkID != db.encoder.ChunkID {
		if err := db.encoder.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "logdb: swap encoder: flush: %v\n", err)
		}
		db.encoder = nil
	}
	if db.encoder == nil {
		encoder, prevEntryTime, err := chunk.NewEncoder(
			store, db.logDir, chunkID, 1, nil)
		if err != nil {
			return fmt.Errorf("new chunk encoder: %w", err)
		}
		db.encoder = encoder
		db.prevEntryTime = UnixMicro(prevEntryTime)
	}

	if entry.Time <= db.prevEntryTime {
		entry.Time = db.prevEntryTime + 1
	}

	record := make([]byte, store.RecordSize)
	chunk.PutRecordTime(record, int64(entry.Time))
	copy(record[8:16], spacePad(entry.Src, srcMaxLength))
	copy(record[16:40], spacePad(entry.MonitorID, monitorIDMaxLength))
	record[46] = byte(entry.Level)

	if err := db.encoder.Append(record, []byte(entry.Msg)); err != nil {
		db.encoder.Close()
		db.encoder = nil
		return fmt.Errorf("encode: %w", err)
	}

	db.prevEntryTime = entry.Time
	return nil
}

// Close flushes and closes the active chunk.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.encoder == nil {
		return nil
	}
	err := db.encoder.Close()
	db.encoder = nil
	return err
}

func spacePad(s string, length int) []byte {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = ' '
	}
	copy(buf, s)
	return buf
}

// Query selects log entries.
type Query struct {
	// Empty filter lists match all.
	Levels   []Level
	Sources  []string
	Monitors []string

	// Time positions the scan; only records strictly before it are
	// returned. Zero means start from the newest record.
	Time UnixMicro

	// Limit caps the result count. Zero means no limit.
	Limit int
}

func (q *Query) entryMatches(entry *Entry) bool {
	return levelInLevels(entry.Level, q.Levels) &&
		stringInStrings(entry.Src, q.Sources) &&
		stringInStrings(entry.MonitorID, q.Monitors)
}

func levelInLevels(level Level, levels []Level) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func stringInStrings(s string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Query returns matching entries in reverse chronological order, latest
// first.
func (db *DB) Query(q Query) ([]Entry, error) {
	db.mu.Lock()
	if db.encoder != nil {
		if err := db.encoder.Flush(); err != nil {
			db.mu.Unlock()
			return nil, fmt.Errorf("flush: %w", err)
		}
	}
	db.mu.Unlock()

	chunkIDs, err := db.listChunksBefore(q.Time)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for i := len(chunkIDs) - 1; i >= 0; i-- {
		if err := db.queryChunk(&q, &entries, chunkIDs[i]); err != nil {
			fmt.Fprintf(os.Stderr, "logdb: query chunk: %v\n", err)
		}
		// Time is only relevant for the first iteration.
		q.Time = 0
	}
	return entries, nil
}

func (db *DB) queryChunk(q *Query, entries *[]Entry, chunkID string) error {
	decoder, err := chunk.NewDecoder(store, db.logDir, chunkID)
	if err != nil {
		return fmt.Errorf("new chunk decoder: %w", err)
	}
	defer decoder.Close()

	entryIndex := decoder.NEntries
	if q.Time != 0 {
		entryIndex, err = decoder.Search(int64(q.Time))
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}

	buf := make([]byte, store.RecordSize)
	for i := entryIndex - 1; i >= 0; i-- {
		if q.Limit != 0 && len(*entries) >= q.Limit {
			break
		}
		if err := decoder.ReadRecord(i, buf); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		entry, err := decodeRecord(decoder, buf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logdb: %v: %v\n", chunkID, err)
			continue
		}
		if !q.entryMatches(entry) {
			continue
		}
		entryChunkID, err := store.TimeToID(int64(entry.Time))
		if err != nil || entryChunkID != chunkID {
			continue
		}
		*entries = append(*entries, *entry)
	}
	return nil
}

func decodeRecord(decoder *chunk.Decoder, record []byte) (*Entry, error) {
	offset, size := store.PayloadRef(record)
	msg, err := decoder.ReadPayload(offset, size)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return &Entry{
		Level:     Level(record[46]),
		Time:      UnixMicro(chunk.RecordTime(record)),
		Src:       strings.TrimRight(string(record[8:16]), " "),
		MonitorID: strings.TrimRight(string(record[16:40]), " "),
		Msg:       string(msg),
	}, nil
}

func (db *DB) listChunksBefore(time UnixMicro) ([]string, error) {
	chunks, err := chunk.ListChunks(db.logDir)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if time == 0 {
		return chunks, nil
	}
	beforeID, err := store.TimeToID(int64(time))
	if err != nil {
		return nil, fmt.Errorf("time to id: %w", err)
	}
	var filtered []string
	for _, c := range chunks {
		if c <= beforeID {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// PruneLoop prunes the database once per interval until ctx is cancelled.
func (db *DB) PruneLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Prune(); err != nil {
				fmt.Fprintf(os.Stderr, "logdb: prune: %v\n", err)
			}
		}
	}
}

// Prune deletes the oldest chunk if the database exceeds its disk
// budget. A single invocation deletes at most one chunk.
func (db *DB) Prune() error {
	dirSize, err := dirSize(db.logDir)
	if err != nil {
		return fmt.Errorf("dir size: %w", err)
	}
	if dirSize <= db.diskSpace/100 || dirSize <= db.minDiskUsage {
		return nil
	}

	chunks, err := chunk.ListChunks(db.logDir)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	dataPath, payloadPath := chunk.IDToPaths(db.logDir, chunks[0])
	if err := os.Remove(dataPath); err != nil {
		return fmt.Errorf("remove data file: %w", err)
	}
	if err := os.Remove(payloadPath); err != nil {
		return fmt.Errorf("remove payload file: %w", err)
	}
	return nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// SlogLevel converts a store level to a slog level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= LevelError:
		return slog.LevelError
	case l <= LevelWarning:
		return slog.LevelWarn
	case l <= LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// LevelFromSlog converts a slog level to a store level.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}
