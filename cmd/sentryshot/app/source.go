// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SentryShot/sentryshot/pkg/hls"
	"github.com/SentryShot/sentryshot/pkg/monitor"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// Stream acquisition is external: a frame feed registers each stream
// and then pushes timestamped access units. The server fans every
// sample out to the live HLS muxer and the fMP4 streamer; the monitor's
// recorder consumes the streamer's segment view.

// ErrStreamNotRegistered means no feed has registered the stream.
var ErrStreamNotRegistered = errors.New("stream not registered")

// RegisterStream creates the live muxers for a stream key.
func (s *Server) RegisterStream(key string, params video.TrackParameters) error {
	s.muxersMu.Lock()
	defer s.muxersMu.Unlock()

	muxer, err := hls.NewMuxer(
		s.ctx,
		s.logger,
		s.Cfg.SegmentCount,
		video.DurationH264(s.Cfg.SegmentDurationS)*video.H264Timescale,
		video.DurationH264(s.Cfg.PartDurationMS)*video.H264Timescale/1000,
		params,
	)
	if err != nil {
		return fmt.Errorf("create hls muxer: %w", err)
	}
	s.hlsMuxers[key] = muxer
	s.streamParams[key] = params
	return nil
}

// WriteFrame feeds one sample into a registered stream. The fMP4
// streamer muxer is created on the first IDR.
func (s *Server) WriteFrame(key string, sample video.Sample) error {
	s.muxersMu.Lock()
	hlsMuxer, exists := s.hlsMuxers[key]
	params := s.streamParams[key]
	s.muxersMu.Unlock()
	if !exists {
		return ErrStreamNotRegistered
	}

	if err := hlsMuxer.WriteSample(&sample); err != nil {
		return fmt.Errorf("hls: %w", err)
	}

	if muxer, exists := s.streamer.Muxer(key); exists {
		if err := muxer.WriteFrame(sample); err != nil {
			return fmt.Errorf("streamer: %w", err)
		}
		return nil
	}
	if !sample.RandomAccessPresent {
		return nil
	}
	if _, err := s.streamer.NewMuxer(key, params, sample.PTS, sample); err != nil {
		return fmt.Errorf("streamer: %w", err)
	}
	return nil
}

func (s *Server) hlsMuxer(key string) (*hls.Muxer, bool) {
	s.muxersMu.Lock()
	defer s.muxersMu.Unlock()
	muxer, exists := s.hlsMuxers[key]
	return muxer, exists
}

// newMonitorSource adapts the streamer registry to the monitor's
// source interface.
func (s *Server) newMonitorSource(config monitor.Config) (monitor.Source, error) {
	return &streamSource{server: s, key: config.ID}, nil
}

type streamSource struct {
	server *Server
	key    string
}

// Muxer waits for the stream's muxer to come up.
func (src *streamSource) Muxer(ctx context.Context) (video.StreamerMuxer, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if muxer, exists := src.server.streamer.Muxer(src.key); exists {
			return muxer, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubMuxer returns the sub stream muxer if a feed registered one.
func (src *streamSource) SubMuxer(ctx context.Context) (video.StreamerMuxer, bool, error) {
	muxer, exists := src.server.streamer.Muxer(src.key + "_sub")
	if !exists {
		return nil, false, nil
	}
	return muxer, true, nil
}
