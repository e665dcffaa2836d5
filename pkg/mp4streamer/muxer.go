// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package mp4streamer serves live streams as a single fragmented-MP4
// byte stream with session-based byte-range reads.
//
// Every sample is treated as its own fragment: one (moof, mdat) pair per
// frame. A session starts at the newest IDR and maps file offsets to
// positions in the frame cache; reads past the cache are held until the
// next frame completes.
package mp4streamer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// Limits.
const (
	maxSessions    = 9
	maxGops        = 3
	frameCacheSize = 256
)

// Errors.
var (
	ErrMuxerCancelled     = errors.New("muxer cancelled")
	ErrSessionNotExist    = errors.New("session does not exist")
	ErrSessionAlreadyOpen = errors.New("session already exists")
	ErrNotReady           = errors.New("no segment is ready")
	ErrFramesExpired      = errors.New("frames expired")
)

// Muxer muxes one stream. All methods are safe for concurrent use.
type Muxer struct {
	params video.TrackParameters

	mu    sync.Mutex
	state muxerState
}

type muxerState struct {
	id         uint16
	frameCount uint64

	// nextFrame is queued so the previous frame's duration can be
	// computed from the dts delta.
	nextFrame video.Sample

	muxerStartTime video.UnixH264
	sessions       []sessionEntry

	frames        []*frame
	gopInProgress []*frame
	gops          []*gop
	gopCount      uint64

	subscribers        []chan *frame
	nextSegmentsOnHold []nextSegmentRequest
	framesOnHold       []chan *frame

	// initContent is the first bytes of the mp4 file containing the
	// decoding parameters.
	initContent []byte
	cancelled   bool
}

type sessionEntry struct {
	id      uint32
	session *session
}

type nextSegmentRequest struct {
	prevID uint64
	res    chan *gop
}

// NewMuxer allocates a muxer. The first frame must be an IDR; its pts
// defines the session time base. Cancelling ctx releases every held
// request.
func NewMuxer(
	ctx context.Context,
	id uint16,
	params video.TrackParameters,
	startTime video.UnixH264,
	firstFrame video.Sample,
) (*Muxer, error) {
	if !firstFrame.RandomAccessPresent {
		return nil, errors.New("first frame must be an idr")
	}
	initContent, err := generateInit(params)
	if err != nil {
		return nil, fmt.Errorf("generate init: %w", err)
	}

	firstFrame.PTS = startTime
	m := &Muxer{
		params: params,
		state: muxerState{
			id:             id,
			nextFrame:      firstFrame,
			muxerStartTime: startTime,
			gopCount:       1,
			initContent:    initContent,
		},
	}

	go func() {
		<-ctx.Done()
		m.cancel()
	}()
	return m, nil
}

func (m *Muxer) cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cancelled = true
	for _, req := range m.state.nextSegmentsOnHold {
		close(req.res)
	}
	m.state.nextSegmentsOnHold = nil
	for _, res := range m.state.framesOnHold {
		close(res)
	}
	m.state.framesOnHold = nil
	for _, sub := range m.state.subscribers {
		close(sub)
	}
	m.state.subscribers = nil
	m.state.frames = nil
	m.state.gops = nil
	m.state.gopInProgress = nil
}

// WriteFrame queues one frame. The previous pending frame is
// materialized with its duration computed from the dts delta, clamped
// to zero.
func (m *Muxer) WriteFrame(data video.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state
	if s.cancelled {
		return ErrMuxerCancelled
	}

	nextFrameDTS := data.DTS()
	nextFrameIsIdr := data.RandomAccessPresent

	pending := s.nextFrame
	s.nextFrame = data

	duration := nextFrameDTS.Sub(pending.DTS())
	if duration < 0 {
		duration = 0
	}
	pending.Duration = duration

	s.frameCount++
	f, err := newFrame(s.frameCount, pending, s.muxerStartTime)
	if err != nil {
		return err
	}

	if len(s.frames) >= frameCacheSize {
		s.frames = s.frames[1:]
	}
	s.frames = append(s.frames, f)
	s.gopInProgress = append(s.gopInProgress, f)

	for _, res := range s.framesOnHold {
		res <- f
	}
	s.framesOnHold = nil

	remaining := s.subscribers[:0]
	for _, sub := range s.subscribers {
		select {
		case sub <- f:
			remaining = append(remaining, sub)
		default:
			// Too slow, drop the subscriber.
			close(sub)
		}
	}
	s.subscribers = remaining

	// Switch GOPs.
	if nextFrameIsIdr {
		if len(s.gops) >= maxGops {
			s.gops = s.gops[1:]
		}
		g := &gop{
			id:      s.gopCount,
			muxerID: s.id,
			frames:  s.gopInProgress,
		}
		s.gopInProgress = nil
		s.gops = append(s.gops, g)
		s.gopCount++

		remainingHolds := s.nextSegmentsOnHold[:0]
		for _, req := range s.nextSegmentsOnHold {
			if g.id > req.prevID {
				req.res <- g
			} else {
				remainingHolds = append(remainingHolds, req)
			}
		}
		s.nextSegmentsOnHold = remainingHolds
	}

	return nil
}

// Params returns the stream's track parameters.
func (m *Muxer) Params() video.TrackParameters {
	return m.params
}

// NextSegment returns the first segment with an id greater than the
// previous segment's, waiting for it if needed. A previous segment from
// another muxer instance is ignored.
func (m *Muxer) NextSegment(prev video.Segment) (video.Segment, error) {
	m.mu.Lock()
	if m.state.cancelled {
		m.mu.Unlock()
		return nil, ErrMuxerCancelled
	}
	s := &m.state

	var prevID uint64
	if prev != nil && prev.MuxerID() == s.id && prev.ID() < s.gopCount {
		prevID = prev.ID()
	}

	for _, g := range s.gops {
		if prevID < g.id {
			m.mu.Unlock()
			return g, nil
		}
	}

	res := make(chan *gop, 1)
	s.nextSegmentsOnHold = append(s.nextSegmentsOnHold,
		nextSegmentRequest{prevID: prevID, res: res})
	m.mu.Unlock()

	g, ok := <-res
	if !ok {
		return nil, ErrMuxerCancelled
	}
	return g, nil
}

// frame is one muxed sample.
type frame struct {
	id     uint64
	sample video.Sample

	// moofAndMdatHeader is everything except the AVCC payload. The
	// fragment's exact byte length is known up front.
	moofAndMdatHeader []byte
}

func newFrame(id uint64, sample video.Sample, muxerStartTime video.UnixH264) (*frame, error) {
	header, err := generateMoofAndEmptyMdat(muxerStartTime, &sample)
	if err != nil {
		return nil, fmt.Errorf("generate moof: %w", err)
	}
	return &frame{id: id, sample: sample, moofAndMdatHeader: header}, nil
}

func (f *frame) muxedSize() int {
	return len(f.moofAndMdatHeader) + len(f.sample.AVCC)
}

func (f *frame) muxed() []byte {
	buf := make([]byte, 0, f.muxedSize())
	buf = append(buf, f.moofAndMdatHeader...)
	return append(buf, f.sample.AVCC...)
}

func (f *frame) reader() io.Reader {
	return io.MultiReader(
		bytes.NewReader(f.moofAndMdatHeader),
		bytes.NewReader(f.sample.AVCC))
}

// gop is a closed group of pictures. It implements video.Segment.
type gop struct {
	id      uint64
	muxerID uint16
	frames  []*frame
}

func (g *gop) ID() uint64 {
	return g.id
}

func (g *gop) MuxerID() uint16 {
	return g.muxerID
}

func (g *gop) StartTime() video.UnixH264 {
	return g.frames[0].sample.PTS
}

func (g *gop) Duration() video.DurationH264 {
	var total video.DurationH264
	for _, f := range g.frames {
		total += f.sample.Duration
	}
	return total
}

func (g *gop) Samples(yield func(*video.Sample) bool) {
	for _, f := range g.frames {
		if !yield(&f.sample) {
			return
		}
	}
}
