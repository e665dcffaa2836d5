// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package recdb

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// DiskUsage is a point-in-time measurement of the recording directory.
type DiskUsage struct {
	Used    int64
	Percent float64
}

// Disk measures how much of the configured storage budget the recording
// directory uses. Measurements are cached because walking the tree is
// expensive.
type Disk struct {
	recordingsDir string
	maxUsage      int64

	cacheMaxAge time.Duration

	mu         sync.Mutex
	cached     *DiskUsage
	lastUpdate time.Time
}

// NewDisk creates a Disk with the given storage budget in bytes.
func NewDisk(recordingsDir string, maxUsage int64, cacheMaxAge time.Duration) *Disk {
	return &Disk{
		recordingsDir: recordingsDir,
		maxUsage:      maxUsage,
		cacheMaxAge:   cacheMaxAge,
	}
}

// MaxUsage returns the storage budget in bytes.
func (d *Disk) MaxUsage() int64 {
	return d.maxUsage
}

// Usage returns the current usage, at most cacheMaxAge stale.
func (d *Disk) Usage() (DiskUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil && time.Since(d.lastUpdate) < d.cacheMaxAge {
		return *d.cached, nil
	}

	var used int64
	err := filepath.WalkDir(d.recordingsDir, func(_ string, e fs.DirEntry, err error) error {
		if err != nil {
			// Files may disappear mid-walk when pruning runs.
			return nil
		}
		if e.IsDir() {
			return nil
		}
		if info, err := e.Info(); err == nil {
			used += info.Size()
		}
		return nil
	})
	if err != nil {
		return DiskUsage{}, err
	}

	usage := DiskUsage{
		Used:    used,
		Percent: float64(used) / float64(d.maxUsage) * 100,
	}
	d.cached = &usage
	d.lastUpdate = time.Now()
	return usage, nil
}

// Invalidate drops the cached measurement.
func (d *Disk) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
}
