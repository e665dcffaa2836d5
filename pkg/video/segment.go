// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package video

// Segment is a closed group of pictures exposed by a streaming muxer:
// it spans from one IDR up to but not including the next.
type Segment interface {
	ID() uint64

	// MuxerID distinguishes segments across muxer restarts.
	MuxerID() uint16

	StartTime() UnixH264
	Duration() DurationH264

	// Samples iterates the segment's samples in decode order.
	Samples(yield func(*Sample) bool)
}

// StreamerMuxer is the segment view a live muxer exposes so recordings
// can be persisted without re-encoding.
type StreamerMuxer interface {
	Params() TrackParameters

	// NextSegment returns the first segment following prev, waiting for
	// it if needed. Returns nil if the muxer was cancelled.
	NextSegment(prev Segment) (Segment, error)
}
