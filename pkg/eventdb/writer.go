// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package eventdb

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/SentryShot/sentryshot/pkg/chunk"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// dbWriter owns the active chunk encoder and the ring of most recently
// written events. Only the actor touches it.
type dbWriter struct {
	logger  *slog.Logger
	dir     string
	encoder *chunk.Encoder

	// prevEntryTime ensures that the next entry will have a later time.
	prevEntryTime video.UnixNano

	cache            []Event
	cacheCapacity    int
	writeBufCapacity int
}

func validateEventPayload(payload []byte) error {
	var event Event
	return json.Unmarshal(payload, &event)
}

func (w *dbWriter) writeEntry(entry Event) error {
	chunkID, err := store.TimeToID(int64(entry.Time))
	if err != nil {
		return fmt.Errorf("time to id: %w", err)
	}

	if w.encoder != nil && chunkID != w.encoder.ChunkID {
		// Flush and replace encoder.
		if err := w.encoder.Close(); err != nil {
			w.logger.Error("eventdb: swap encoder: flush", "error", err.Error())
		}
		w.encoder = nil
	}
	if w.encoder == nil {
		encoder, prevEntryTime, err := chunk.NewEncoder(
			store, w.dir, chunkID, w.writeBufCapacity, validateEventPayload)
		if err != nil {
			return fmt.Errorf("new chunk encoder: %w", err)
		}
		w.encoder = encoder
		// This should only go backwards if the system clock was rewound
		// at some point.
		if w.prevEntryTime < video.UnixNano(prevEntryTime) {
			w.prevEntryTime = video.UnixNano(prevEntryTime)
		}
	}

	if entry.Time <= w.prevEntryTime {
		entry.Time = w.prevEntryTime + 1
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := make([]byte, store.RecordSize)
	chunk.PutRecordTime(record, int64(entry.Time))

	if err := w.encoder.Append(record, payload); err != nil {
		// Writer failures are fatal to the encoder; the next write
		// reopens.
		w.encoder.Close()
		w.encoder = nil
		return fmt.Errorf("encode: %w", err)
	}

	w.cachePush(entry)
	w.prevEntryTime = entry.Time
	return nil
}

func (w *dbWriter) close() error {
	if w.encoder == nil {
		return nil
	}
	err := w.encoder.Close()
	w.encoder = nil
	return err
}

func (w *dbWriter) cachePush(entry Event) {
	if w.cacheCapacity == 0 {
		return
	}
	if len(w.cache) == w.cacheCapacity {
		w.cache = w.cache[1:]
	}
	w.cache = append(w.cache, entry)
}

func (w *dbWriter) queryCache(q *EventQuery, entries *[]Event) {
	for _, entry := range w.cache {
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
