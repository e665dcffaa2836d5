// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package vod synthesizes a single seekable MP4 stream across a
// contiguous slice of one or more recordings, rewriting sample timing
// to align with the requested window.
package vod

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// Errors.
var (
	ErrNegativeDuration = errors.New("duration is negative")
	ErrMaxDuration      = errors.New("max duration is 12 hours")
	ErrNoRecordings     = errors.New("no recordings")
)

const maxDuration = 12 * video.NanoHour

// Query requests a window of one monitor's recordings.
type Query struct {
	MonitorID string
	Start     video.UnixNano
	End       video.UnixNano

	// CacheID makes otherwise identical queries distinct so a client
	// can bypass stale cache entries.
	CacheID uint32
}

// queryResult is the shared, immutable result of one executed query.
type queryResult struct {
	// meta holds ftyp, moov and the mdat header.
	meta []byte

	// size is the total emitted file size.
	size int64

	// recs are the mdat byte ranges, one per source recording.
	recs []recRange
}

// recRange maps a range of the emitted file to a recording's mdat file.
type recRange struct {
	mdatPath  string
	dataStart int64

	// start and end are coordinates in the emitted file.
	start int64
	end   int64
}

// NewReader executes or recalls the query and returns a reader over the
// synthesized file. Returns ErrNoRecordings if the window is empty.
func NewReader(db *recdb.RecDb, cache *Cache, q Query) (*Reader, error) {
	result, exists := cache.get(q)
	if !exists {
		var err error
		result, err = executeQuery(db, q)
		if err != nil {
			return nil, err
		}
		cache.add(q, result)
	}
	return &Reader{result: result}, nil
}

func executeQuery(db *recdb.RecDb, q Query) (*queryResult, error) {
	duration := q.End - q.Start
	if duration < 0 {
		return nil, ErrNegativeDuration
	}
	if duration > video.UnixNano(maxDuration) {
		return nil, ErrMaxDuration
	}

	// Find the enclosing recording by seeking backwards one second.
	recordings, err := db.RecordingsByQuery(&recdb.Query{
		RecordingID: recording.IDFromNanos(q.Start-video.UnixNano(video.NanoSecond), q.MonitorID),
		Limit:       1,
		Monitors:    []string{q.MonitorID},
	})
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}

	firstRecID := recording.ZeroID()
	if len(recordings) > 0 {
		firstRecID = recordings[0].ID
	}

	// Collect all recordings from there until one second past the end.
	forward, err := db.RecordingsByQuery(&recdb.Query{
		RecordingID: firstRecID,
		End:         recording.IDFromNanos(q.End+video.UnixNano(video.NanoSecond), q.MonitorID),
		Limit:       100000,
		Reverse:     true,
		Monitors:    []string{q.MonitorID},
	})
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	recordings = append(recordings, forward...)

	if len(recordings) == 0 {
		return nil, ErrNoRecordings
	}

	type recPart struct {
		rec     recRange
		samples []*recording.Sample
	}
	var recs []recPart
	var params *video.TrackParameters
	seen := make(map[recording.ID]struct{})

	for _, rec := range recordings {
		if rec.State != recdb.StateFinalized {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		metaPath, exists := db.RecordingFileByExt(rec.ID, "meta")
		if !exists {
			continue
		}
		mdatPath, exists := db.RecordingFileByExt(rec.ID, "mdat")
		if !exists {
			continue
		}

		header, samples, err := readMetaFile(metaPath)
		if err != nil {
			return nil, fmt.Errorf("read meta: %w", err)
		}
		p := header.Params()
		params = &p

		// Keep samples inside the window, then skip until the first IDR.
		kept := make([]*recording.Sample, 0, len(samples))
		skipping := true
		for i := range samples {
			s := &samples[i]
			dts := s.DTS().Nano()
			end := s.End().Nano()
			if dts < q.Start || q.End < end {
				continue
			}
			if skipping && !s.RandomAccessPresent {
				continue
			}
			skipping = false
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			continue
		}

		recs = append(recs, recPart{
			rec: recRange{
				mdatPath:  mdatPath,
				dataStart: int64(kept[0].DataOffset),
			},
			samples: kept,
		})
	}

	// Concatenate sample sequences across recordings.
	var samples []*recording.Sample
	for _, r := range recs {
		samples = append(samples, r.samples...)
	}
	if len(samples) == 0 {
		return nil, ErrNoRecordings
	}

	// Shift the first retained sample to the start of the window.
	samples[0].PTS = q.Start.H264()

	// Re-pad durations so gaps between recordings become invisible; the
	// last sample before a gap absorbs it.
	for i := 1; i < len(samples); i++ {
		samples[i-1].Duration = samples[i].DTS().Sub(samples[i-1].DTS())
	}
	last := samples[len(samples)-1]
	last.Duration = q.End.H264().Sub(last.PTS)

	meta, mdatSize, err := generateMP4(q.Start.H264(), samples, *params)
	if err != nil {
		return nil, fmt.Errorf("generate mp4: %w", err)
	}

	// Calculate recording offsets in the emitted file.
	result := &queryResult{
		meta: meta,
		size: int64(len(meta)) + int64(mdatSize),
	}
	pos := int64(len(meta))
	for _, r := range recs {
		var size int64
		for _, s := range r.samples {
			size += int64(s.DataSize)
		}
		rr := r.rec
		rr.start = pos
		rr.end = pos + size
		pos += size
		result.recs = append(result.recs, rr)
	}
	return result, nil
}

func readMetaFile(path string) (*recording.MetaHeader, []recording.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	return recording.ReadMeta(file, stat.Size())
}

// Reader is a seekable reader over the synthesized file. Positions map
// into either the in-memory head or one of the recording file ranges. A
// file handle is kept open and reused while consecutive reads hit the
// same recording. Not safe for concurrent use.
type Reader struct {
	result *queryResult
	pos    int64

	openRec  int
	openFile *os.File
}

// Size returns the total file size.
func (r *Reader) Size() int64 {
	return r.result.size
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.result.size {
		return 0, io.EOF
	}

	// In-memory head.
	if r.pos < int64(len(r.result.meta)) {
		n := copy(p, r.result.meta[r.pos:])
		r.pos += int64(n)
		return n, nil
	}

	// Recording ranges.
	for i := range r.result.recs {
		rec := &r.result.recs[i]
		if r.pos < rec.start || rec.end <= r.pos {
			continue
		}
		file, err := r.fileFor(i, rec)
		if err != nil {
			return 0, err
		}
		remaining := rec.end - r.pos
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
		n, err := file.ReadAt(p, rec.dataStart+(r.pos-rec.start))
		r.pos += int64(n)
		if err == io.EOF && n > 0 {
			err = nil
		}
		return n, err
	}
	return 0, io.EOF
}

func (r *Reader) fileFor(i int, rec *recRange) (*os.File, error) {
	if r.openFile != nil && r.openRec == i {
		return r.openFile, nil
	}
	if r.openFile != nil {
		r.openFile.Close()
		r.openFile = nil
	}
	file, err := os.Open(rec.mdatPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	r.openFile = file
	r.openRec = i
	return file, nil
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = r.result.size + offset
	default:
		return 0, errors.New("vod: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("vod: negative position")
	}
	r.pos = pos
	return pos, nil
}

// Close releases the reused file handle.
func (r *Reader) Close() error {
	if r.openFile != nil {
		err := r.openFile.Close()
		r.openFile = nil
		return err
	}
	return nil
}
