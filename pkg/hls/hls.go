// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package hls implements a low-latency HLS-CMAF muxer with blocking
// playlist and part reloads.
package hls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// MuxerFileResponse is a response of the Muxer's File() func.
type MuxerFileResponse struct {
	Status int
	Header map[string]string
	Body   io.Reader
}

// ErrMuxerCancelled means the muxer was cancelled while a request was
// on hold.
var ErrMuxerCancelled = errors.New("muxer cancelled")

// Muxer is a live HLS muxer for one stream.
type Muxer struct {
	playlist  *playlist
	segmenter *segmenter
	params    video.TrackParameters

	initContent []byte
}

// NewMuxer allocates a Muxer and starts its playlist actor. The actor
// exits when ctx is cancelled.
func NewMuxer(
	ctx context.Context,
	logger *slog.Logger,
	segmentCount int,
	segmentDuration video.DurationH264,
	partDuration video.DurationH264,
	params video.TrackParameters,
) (*Muxer, error) {
	initContent, err := generateInit(params)
	if err != nil {
		return nil, err
	}

	playlist := newPlaylist(ctx, logger, segmentCount)
	m := &Muxer{
		playlist:    playlist,
		params:      params,
		initContent: initContent,
	}
	m.segmenter = newSegmenter(segmentDuration, partDuration, playlist)
	return m, nil
}

// WriteSample feeds one video sample to the segmenter. Samples must
// arrive in decode order with durations set.
func (m *Muxer) WriteSample(sample *video.Sample) error {
	return m.segmenter.writeSample(sample)
}

// Query holds the LL-HLS delivery directives of a playlist request.
type Query struct {
	// MsnAndPart is set when _HLS_msn was given. Part is zero when
	// _HLS_part was absent.
	MsnAndPart *MsnAndPart

	// IsDeltaUpdate is set by _HLS_skip=YES.
	IsDeltaUpdate bool
}

// MsnAndPart is a blocking playlist reload position.
type MsnAndPart struct {
	Msn  uint64
	Part uint64
}

// File returns the named playlist, init, segment or part file. Blocking
// requests are held until the requested content exists.
func (m *Muxer) File(name string, query Query) *MuxerFileResponse {
	if name == "index.m3u8" {
		return primaryPlaylist(m.params.Codec)
	}
	if name == "init.mp4" {
		return &MuxerFileResponse{
			Status: http.StatusOK,
			Header: map[string]string{"Content-Type": "video/mp4"},
			Body:   bytes.NewReader(m.initContent),
		}
	}
	return m.playlist.file(name, query)
}

// NextSegment returns the first segment with an id greater than prevID,
// waiting for it to be finalized if needed.
func (m *Muxer) NextSegment(prevID uint64) (*Segment, error) {
	return m.playlist.nextSegment(prevID)
}
