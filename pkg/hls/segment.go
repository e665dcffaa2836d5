// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"io"
	"strconv"

	"github.com/SentryShot/sentryshot/pkg/video"
)

func segmentName(id uint64) string {
	return "seg" + strconv.FormatUint(id, 10)
}

// Segment is a finalized segment: an ordered list of finalized parts.
type Segment struct {
	ID        uint64
	StartTime video.UnixH264
	Parts     []*Part
}

func (s *Segment) name() string {
	return segmentName(s.ID)
}

// Duration is the sum of the part durations.
func (s *Segment) Duration() video.DurationH264 {
	var total video.DurationH264
	for _, part := range s.Parts {
		total += part.renderedDuration
	}
	return total
}

// Samples iterates every sample in order.
func (s *Segment) Samples(yield func(*video.Sample) bool) {
	for _, part := range s.Parts {
		for _, sample := range part.samples {
			if !yield(sample) {
				return
			}
		}
	}
}

func (s *Segment) reader() io.Reader {
	readers := make([]io.Reader, 0, len(s.Parts))
	for _, part := range s.Parts {
		readers = append(readers, part.reader())
	}
	return io.MultiReader(readers...)
}

// segmentOrGap is an entry in the sliding playlist window.
type segmentOrGap struct {
	// Exactly one of these is set.
	segment *Segment
	gap     video.DurationH264
}

func (s *segmentOrGap) duration() video.DurationH264 {
	if s.segment != nil {
		return s.segment.Duration()
	}
	return s.gap
}
