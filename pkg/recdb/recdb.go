// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package recdb stores recordings on disk keyed by
// "YYYY/MM/DD/<monitor>/<id>" and serves queries over them.
package recdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// FileMode for recording files.
const FileMode = 0o644

// Errors.
var (
	ErrAlreadyActive = errors.New("recording is already active")
	ErrAlreadyExist  = errors.New("recording already exists")
	ErrActive        = errors.New("deleting active recordings is not implemented")
	ErrNotExist      = errors.New("recording doesn't exist")
)

// RecDb is the recording database. All methods are safe for concurrent
// use.
type RecDb struct {
	logger        *slog.Logger
	recordingsDir string
	disk          *Disk

	// There should only be one active recording per monitor.
	mu               sync.Mutex
	activeRecordings map[recording.ID]*startAndEnd
}

type startAndEnd struct {
	startTime video.UnixH264
	endTime   video.UnixH264
}

// New creates a RecDb rooted at recordingsDir.
func New(logger *slog.Logger, recordingsDir string, disk *Disk) *RecDb {
	return &RecDb{
		logger:           logger,
		recordingsDir:    recordingsDir,
		disk:             disk,
		activeRecordings: make(map[recording.ID]*startAndEnd),
	}
}

// RecordingsByQuery finds the best matching recording and returns limit
// number of subsequent recordings in the requested direction.
func (db *RecDb) RecordingsByQuery(q *Query) ([]Response, error) {
	db.mu.Lock()
	active := make(map[recording.ID]struct{}, len(db.activeRecordings))
	for id := range db.activeRecordings {
		active[id] = struct{}{}
	}
	db.mu.Unlock()
	return crawl(db.recordingsDir, q, active)
}

// RecordingFileByExt returns the full path of the file tied to a
// recording id by extension, or false if it does not resolve inside the
// recordings directory.
func (db *RecDb) RecordingFileByExt(id recording.ID, ext string) (string, bool) {
	path := filepath.Join(db.recordingsDir, id.FullPath()+"."+ext)
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, db.recordingsDir+string(filepath.Separator)) {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// ThumbnailPath returns the full path of a recording's thumbnail.
func (db *RecDb) ThumbnailPath(id recording.ID) (string, bool) {
	return db.RecordingFileByExt(id, "jpeg")
}

// NewRecording registers a recording and returns its handle. The handle
// owns the process-wide uniqueness token for the id; closing it releases
// the token.
func (db *RecDb) NewRecording(monitorID string, startTime video.UnixH264) (*Handle, error) {
	id := recording.IDFromNanos(startTime.Nano(), monitorID)
	fileDir := filepath.Join(db.recordingsDir, filepath.Dir(id.FullPath()))
	path := filepath.Join(fileDir, string(id))

	if _, err := os.Stat(path + ".meta"); err == nil {
		return nil, ErrAlreadyExist
	}

	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory for recording: %w", err)
	}

	db.mu.Lock()
	if _, exists := db.activeRecordings[id]; exists {
		db.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	// Must be infallible after the id has been added.
	db.activeRecordings[id] = &startAndEnd{startTime: startTime, endTime: startTime}
	db.mu.Unlock()

	return &Handle{
		db:        db,
		id:        id,
		path:      path,
		openFiles: make(map[string]struct{}),
	}, nil
}

// DeleteRecording removes every file belonging to a recording and empty
// parent directories up to the root. Returns the number of deleted
// bytes.
func (db *RecDb) DeleteRecording(id recording.ID) (int64, error) {
	db.mu.Lock()
	_, isActive := db.activeRecordings[id]
	db.mu.Unlock()
	if isActive {
		return 0, ErrActive
	}

	path, exists := db.RecordingFileByExt(id, "meta")
	if !exists {
		return 0, ErrNotExist
	}
	dir := filepath.Dir(path)

	var numDeletedBytes int64
	var firstErr error
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}
	for _, file := range files {
		if !strings.HasPrefix(file.Name(), string(id)) {
			continue
		}
		filePath := filepath.Join(dir, file.Name())
		if info, err := file.Info(); err == nil {
			numDeletedBytes += info.Size()
		}
		if err := os.Remove(filePath); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete file: %w", err)
		}
	}

	// Remove empty directories up to the recordings directory.
	for range 4 {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) != 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return numDeletedBytes, firstErr
}

// Prune checks if disk usage is above 99% and deletes recordings oldest
// first until usage is below 98%. At most 200 recordings are deleted per
// call. Active recordings are never deleted.
func (db *RecDb) Prune() error {
	usage, err := db.disk.Usage()
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	db.logger.Debug("recdb: disk usage", "percent", usage.Percent)
	if usage.Percent < 99 {
		return nil
	}

	targetDiskUsage := (db.disk.MaxUsage() * 98) / 100
	bytesToDelete := usage.Used - targetDiskUsage
	db.logger.Info("recdb: deleting recordings", "bytes", bytesToDelete)

	recordings, err := db.RecordingsByQuery(&Query{
		RecordingID: recording.ZeroID(),
		Limit:       200,
		Reverse:     true, // Oldest first.
	})
	if err != nil {
		return fmt.Errorf("query recordings: %w", err)
	}

	var numDeletedBytes int64
	var firstErr error
	for _, rec := range recordings {
		if numDeletedBytes >= bytesToDelete {
			break
		}
		if rec.State == StateActive {
			continue
		}
		db.logger.Info("recdb: deleting recording",
			"monitor", rec.ID.MonitorID(), "recording", string(rec.ID))
		deleted, err := db.DeleteRecording(rec.ID)
		numDeletedBytes += deleted
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.disk.Invalidate()
	return firstErr
}

// setEndTime updates the cached end time of an active recording.
func (db *RecDb) setEndTime(id recording.ID, endTime video.UnixH264) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if v, exists := db.activeRecordings[id]; exists {
		v.endTime = endTime
	}
}

func (db *RecDb) releaseActive(id recording.ID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.activeRecordings, id)
}
