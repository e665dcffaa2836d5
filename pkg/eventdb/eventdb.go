// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package eventdb is an append-only, binary-searchable store of
// object-detection events.
//
//	write ──► reorder buffer ──► write cache ──► chunk files
//	query ◄── reorder buffer + write cache + chunk files
//
// Incoming events pass through an in-memory reorder buffer for ten
// seconds so slightly out-of-order writers still produce a monotonic
// log. A single actor goroutine owns the encoder and the buffer and
// serializes writes and in-memory queries.
package eventdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/SentryShot/sentryshot/pkg/chunk"
	"github.com/SentryShot/sentryshot/pkg/video"
)

var store = &chunk.Store{
	Magic:            []byte("SentryShot\x00eventdb\x00\x00\x89\x85\x80\x85\x00\x00v"),
	Version:          0,
	RecordSize:       14,
	PayloadOffsetPos: 8,
	BucketWidth:      100_000 * int64(video.NanoSecond),
}

const (
	// Events with a time this far in the future are dropped.
	maxFutureTime = 60 * video.NanoSecond

	// Events stay in the reorder buffer until they are this old.
	reorderWindow = 10 * video.NanoSecond
)

// ErrStartGreaterOrEqualEnd is returned for backwards queries.
var ErrStartGreaterOrEqualEnd = errors.New("start greater or equal end")

// EventQuery selects events in the half-open interval [Start, End).
type EventQuery struct {
	Start video.UnixNano
	End   video.UnixNano
	Limit int
}

// Database is the event database. All methods are safe for concurrent
// use.
type Database struct {
	logger *slog.Logger
	dir    string
	tx     chan request
}

type request struct {
	// Exactly one of these is set.
	write *writeRequest
	query *queryRequest
}

type writeRequest struct {
	event Event
	done  chan struct{}
}

type queryRequest struct {
	query   EventQuery
	entries []Event
	res     chan []Event
}

// New creates the database directory and starts the actor. The actor
// exits when ctx is cancelled, draining the reorder buffer and flushing
// the encoder first; wgDone is called when that has finished.
func New(
	ctx context.Context,
	wgDone func(),
	logger *slog.Logger,
	dir string,
	cacheCapacity int,
	writeBufCapacity int,
) (*Database, error) {
	// The encoder flushes when its buffer fills, so at most
	// writeBufCapacity-1 written events are not yet on disk; the cache
	// must be able to hold them.
	if cacheCapacity < writeBufCapacity-1 {
		return nil, fmt.Errorf("cache capacity %d cannot hold %d unflushed events",
			cacheCapacity, writeBufCapacity-1)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event directory: %w", err)
	}

	db := &Database{
		logger: logger,
		dir:    dir,
		tx:     make(chan request),
	}
	writer := &dbWriter{
		logger:           logger,
		dir:              dir,
		cacheCapacity:    cacheCapacity,
		writeBufCapacity: writeBufCapacity,
	}
	go db.runActor(ctx, wgDone, writer, &reorderBuffer{})
	return db, nil
}

func (db *Database) runActor(
	ctx context.Context,
	wgDone func(),
	writer *dbWriter,
	buf *reorderBuffer,
) {
	defer wgDone()

	timer := time.NewTimer(time.Duration(1<<62 - 1))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, event := range buf.drain() {
				if err := writer.writeEntry(event); err != nil {
					db.logger.Error("eventdb: failed to write event",
						"error", err.Error())
				}
			}
			if err := writer.close(); err != nil {
				db.logger.Error("eventdb: failed to flush database",
					"error", err.Error())
			}
			return

		case req := <-db.tx:
			switch {
			case req.write != nil:
				// Drop events with a time after one minute in the future.
				now := video.NowUnixNano()
				if now+video.UnixNano(maxFutureTime) >= req.write.event.Time {
					buf.insertDeduplicateTime(req.write.event)
					buf.writeEvents(now, db.logger, writer)
				}
				close(req.write.done)

			case req.query != nil:
				q := req.query.query
				entries := req.query.entries
				writer.queryCache(&q, &entries)
				buf.query(&q, &entries)
				req.query.res <- entries
			}

		case <-timer.C:
			buf.writeEvents(video.NowUnixNano(), db.logger, writer)
		}

		resetReorderTimer(timer, buf)
	}
}

// resetReorderTimer arms the timer to fire when the oldest buffered item
// ages past the reorder window.
func resetReorderTimer(timer *time.Timer, buf *reorderBuffer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	first, ok := buf.first()
	if !ok {
		return
	}
	d := time.Duration(int64(first) + int64(reorderWindow+video.NanoSecond) -
		int64(video.NowUnixNano()))
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// WriteEvent queues one event. Returns once the actor has accepted it.
func (db *Database) WriteEvent(ctx context.Context, event Event) {
	req := writeRequest{event: event, done: make(chan struct{})}
	select {
	case db.tx <- request{write: &req}:
	case <-ctx.Done():
		return
	}
	select {
	case <-req.done:
	case <-ctx.Done():
	}
}

// Query returns at most Limit events in [Start, End) in ascending time
// order, merging the on-disk chunks with the write cache and the reorder
// buffer.
func (db *Database) Query(ctx context.Context, q EventQuery) ([]Event, error) {
	if q.Start >= q.End {
		return nil, fmt.Errorf("%w: start=%d end=%d",
			ErrStartGreaterOrEqualEnd, q.Start, q.End)
	}

	var entries []Event
	if err := db.queryDisk(&q, &entries); err != nil {
		return nil, err
	}

	req := queryRequest{query: q, entries: entries, res: make(chan []Event, 1)}
	select {
	case db.tx <- request{query: &req}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case entries := <-req.res:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queryDisk scans chunks oldest-to-newest from the chunk containing the
// query start. Failures on single chunks are logged and skipped.
func (db *Database) queryDisk(q *EventQuery, entries *[]Event) error {
	afterID, err := store.TimeToID(int64(q.Start))
	if err != nil {
		return fmt.Errorf("time to id: %w", err)
	}
	chunks, err := chunk.ListChunks(db.dir)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	firstChunk := true
	for _, chunkID := range chunks {
		if chunkID < afterID {
			continue
		}
		if err := db.queryChunk(q, firstChunk, entries, chunkID); err != nil {
			db.logger.Warn("eventdb: query chunk",
				"chunk", chunkID, "error", err.Error())
		}
		firstChunk = false
	}
	return nil
}

func (db *Database) queryChunk(
	q *EventQuery,
	firstChunk bool,
	entries *[]Event,
	chunkID string,
) error {
	decoder, err := chunk.NewDecoder(store, db.dir, chunkID)
	if err != nil {
		return fmt.Errorf("new chunk decoder: %w", err)
	}
	defer decoder.Close()

	entryIndex := 0
	if firstChunk && decoder.NEntries != 0 {
		entryIndex, err = decoder.Search(int64(q.Start))
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}

	buf := make([]byte, store.RecordSize)
	for i := entryIndex; i < decoder.NEntries; i++ {
		if len(*entries) >= q.Limit {
			break
		}
		if err := decoder.ReadRecord(i, buf); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		entryTime := video.UnixNano(chunk.RecordTime(buf))
		if q.End <= entryTime {
			break
		}

		offset, size := store.PayloadRef(buf)
		payload, err := decoder.ReadPayload(offset, size)
		if err != nil {
			db.logger.Warn("eventdb: read payload",
				"chunk", chunkID, "error", err.Error())
			continue
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			db.logger.Warn("eventdb: decode payload",
				"chunk", chunkID, "offset", offset, "error", err.Error())
			continue
		}

		// Records that belong to a different bucket are stale tails.
		entryChunkID, err := store.TimeToID(int64(event.Time))
		if err != nil || entryChunkID != chunkID {
			continue
		}

		q.Start = event.Time + 1
		*entries = append(*entries, event)
	}
	return nil
}

// reorderBuffer queues events ordered by time.
type reorderBuffer struct {
	inner []Event // Sorted by time, unique.
}

// insertDeduplicateTime inserts, incrementing the time by one nanosecond
// until it is no longer a duplicate.
func (b *reorderBuffer) insertDeduplicateTime(event Event) {
	for {
		i := sort.Search(len(b.inner), func(i int) bool {
			return b.inner[i].Time >= event.Time
		})
		if i < len(b.inner) && b.inner[i].Time == event.Time {
			event.Time++
			continue
		}
		b.inner = append(b.inner, Event{})
		copy(b.inner[i+1:], b.inner[i:])
		b.inner[i] = event
		return
	}
}

// writeEvents drains items older than the reorder window to the writer
// in time order.
func (b *reorderBuffer) writeEvents(now video.UnixNano, logger *slog.Logger, w *dbWriter) {
	cutoff := now - video.UnixNano(reorderWindow)
	for len(b.inner) > 0 && b.inner[0].Time < cutoff {
		event := b.inner[0]
		b.inner = b.inner[1:]
		if err := w.writeEntry(event); err != nil {
			logger.Error("eventdb: failed to write event", "error", err.Error())
		}
	}
}

func (b *reorderBuffer) first() (video.UnixNano, bool) {
	if len(b.inner) == 0 {
		return 0, false
	}
	return b.inner[0].Time, true
}

func (b *reorderBuffer) query(q *EventQuery, entries *[]Event) {
	for _, entry := range b.inner {
		if entry.Time < q.Start {
			continue
		}
		if q.End <= entry.Time || len(*entries) >= q.Limit {
			return
		}
		*entries = append(*entries, entry)
		q.Start = entry.Time + 1
	}
}

func (b *reorderBuffer) drain() []Event {
	events := b.inner
	b.inner = nil
	return events
}
