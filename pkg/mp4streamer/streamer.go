// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4streamer

import (
	"context"

	"sync"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// Streamer owns one muxer per stream key. A stream key is a monitor id,
// optionally with a sub-stream suffix.
type Streamer struct {
	ctx context.Context

	mu          sync.Mutex
	muxers      map[string]*muxerEntry
	nextMuxerID uint16
}

type muxerEntry struct {
	muxer  *Muxer
	cancel context.CancelFunc
}

// NewStreamer allocates a Streamer. All muxers are cancelled when ctx
// is.
func NewStreamer(ctx context.Context) *Streamer {
	return &Streamer{
		ctx:    ctx,
		muxers: make(map[string]*muxerEntry),
	}
}

// NewMuxer creates the muxer for a stream key, replacing and cancelling
// any previous one.
func (s *Streamer) NewMuxer(
	key string,
	params video.TrackParameters,
	startTime video.UnixH264,
	firstFrame video.Sample,
) (*Muxer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrMuxerCancelled
	}
	if prev, exists := s.muxers[key]; exists {
		prev.cancel()
		delete(s.muxers, key)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.nextMuxerID++
	muxer, err := NewMuxer(ctx, s.nextMuxerID, params, startTime, firstFrame)
	if err != nil {
		cancel()
		return nil, err
	}
	s.muxers[key] = &muxerEntry{muxer: muxer, cancel: cancel}
	return muxer, nil
}

// Muxer returns the muxer for a stream key.
func (s *Streamer) Muxer(key string) (*Muxer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.muxers[key]
	if !exists {
		return nil, false
	}
	return entry.muxer, true
}

// CancelMuxer cancels and removes the muxer for a stream key.
func (s *Streamer) CancelMuxer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.muxers[key]; exists {
		entry.cancel()
		delete(s.muxers, key)
	}
}
