// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package recdb

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// ErrFileAlreadyOpen means a second writer tried to open the same
// (recording, extension) pair.
var ErrFileAlreadyOpen = errors.New("a file with this extension is already open")

// Handle owns one active recording. Closing it releases the active
// registry entry.
type Handle struct {
	db   *RecDb
	id   recording.ID
	path string

	mu        sync.Mutex
	openFiles map[string]struct{}
}

// ID returns the recording identifier.
func (h *Handle) ID() recording.ID {
	return h.id
}

// NewFile creates a new file for the recording. At most one writer per
// extension is allowed.
func (h *Handle) NewFile(ext string) (*File, error) {
	return h.openFileWithFlags(ext, os.O_CREATE|os.O_EXCL|os.O_TRUNC|os.O_WRONLY)
}

// OpenFile opens an existing file of the recording for reading and
// writing.
func (h *Handle) OpenFile(ext string) (*File, error) {
	return h.openFileWithFlags(ext, os.O_RDWR)
}

func (h *Handle) openFileWithFlags(ext string, flags int) (*File, error) {
	ext = strings.ToLower(ext)
	path := h.path + "." + ext

	file, err := os.OpenFile(path, flags, FileMode)
	if err != nil {
		return nil, fmt.Errorf("open file: %v: %w", path, err)
	}

	h.mu.Lock()
	if _, open := h.openFiles[ext]; open {
		h.mu.Unlock()
		file.Close()
		return nil, ErrFileAlreadyOpen
	}
	// Must be infallible after the extension has been added.
	h.openFiles[ext] = struct{}{}
	h.mu.Unlock()

	return &File{File: file, handle: h, ext: ext, path: path}, nil
}

// SetEndTime updates the recording's end time in the active registry.
func (h *Handle) SetEndTime(endTime video.UnixH264) {
	h.db.setEndTime(h.id, endTime)
}

// Close releases the active registry entry.
func (h *Handle) Close() {
	h.db.releaseActive(h.id)
}

// File is an open recording file. Closing it releases the extension
// token.
type File struct {
	*os.File
	handle *Handle
	ext    string
	path   string
}

// Path returns the full file path.
func (f *File) Path() string {
	return f.path
}

// Close closes the file and releases the extension.
func (f *File) Close() error {
	f.handle.mu.Lock()
	delete(f.handle.openFiles, f.ext)
	f.handle.mu.Unlock()
	return f.File.Close()
}
