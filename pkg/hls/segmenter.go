// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"github.com/SentryShot/sentryshot/pkg/video"
)

// segmenter cuts the incoming sample stream into parts and segments.
// Parts are cut on the part duration; segments are cut on the first IDR
// after the segment duration.
type segmenter struct {
	segmentDuration video.DurationH264
	partDuration    video.DurationH264
	playlist        *playlist

	started  bool
	startDTS video.UnixH264

	nextSegmentID uint64
	nextPartID    uint64

	currentSegment *Segment
	currentPart    *Part
	segmentElapsed video.DurationH264
	partElapsed    video.DurationH264
}

func newSegmenter(
	segmentDuration video.DurationH264,
	partDuration video.DurationH264,
	playlist *playlist,
) *segmenter {
	return &segmenter{
		segmentDuration: segmentDuration,
		partDuration:    partDuration,
		playlist:        playlist,

		// Segment ids start at one so that a zero previous id always
		// matches the first segment.
		nextSegmentID: 1,
	}
}

func (s *segmenter) writeSample(sample *video.Sample) error {
	// Skip leading samples until the first IDR.
	if !s.started {
		if !sample.RandomAccessPresent {
			return nil
		}
		s.started = true
		s.startDTS = sample.DTS()
		s.currentSegment = &Segment{
			ID:        s.nextSegmentID,
			StartTime: sample.PTS,
		}
		s.nextSegmentID++
		s.currentPart = newPart(s.nextPartID)
		s.nextPartID++
	}

	// Cut the segment on an IDR once the target duration has elapsed.
	if sample.RandomAccessPresent && s.segmentElapsed >= s.segmentDuration {
		if err := s.finalizePart(); err != nil {
			return err
		}
		s.playlist.onSegmentFinalized(s.currentSegment)
		s.currentSegment = &Segment{
			ID:        s.nextSegmentID,
			StartTime: sample.PTS,
		}
		s.nextSegmentID++
		s.segmentElapsed = 0
	} else if s.partElapsed >= s.partDuration && len(s.currentPart.samples) > 0 {
		if err := s.finalizePart(); err != nil {
			return err
		}
	}

	s.currentPart.writeSample(sample)
	s.partElapsed += sample.Duration
	s.segmentElapsed += sample.Duration
	return nil
}

func (s *segmenter) finalizePart() error {
	if err := s.currentPart.finalize(s.startDTS); err != nil {
		return err
	}
	if len(s.currentPart.samples) > 0 {
		s.currentSegment.Parts = append(s.currentSegment.Parts, s.currentPart)
		s.playlist.onPartFinalized(s.currentPart)
	}
	s.currentPart = newPart(s.nextPartID)
	s.nextPartID++
	s.partElapsed = 0
	return nil
}
