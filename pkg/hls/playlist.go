// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// initialGapCount gaps are inserted before the first segment, required
// by iOS.
const initialGapCount = 7

// playlist owns the sliding segment window. A single actor goroutine
// receives requests over a channel and mutates the state, so no locking
// is needed. Requests that cannot be answered yet are parked on hold
// queues and released in bulk when the awaited event fires.
type playlist struct {
	tx chan playlistRequest

	// done is closed when the actor exits.
	done chan struct{}
}

type playlistRequest struct {
	// Exactly one of these is set.
	playlist         *playlistReadRequest
	segment          *segmentReadRequest
	part             *partReadRequest
	segmentFinalized *segmentFinalizedRequest
	partFinalized    *partFinalizedRequest
	nextSegment      *nextSegmentRequest
}

type playlistReadRequest struct {
	isDeltaUpdate bool
	msnAndPart    *MsnAndPart
	res           chan *MuxerFileResponse
}

type segmentReadRequest struct {
	name string
	res  chan *MuxerFileResponse
}

type partReadRequest struct {
	name string
	res  chan *MuxerFileResponse

	// partID is filled in when the request is put on hold.
	partID uint64
}

type segmentFinalizedRequest struct {
	segment *Segment
	done    chan struct{}
}

type partFinalizedRequest struct {
	part *Part
	done chan struct{}
}

type nextSegmentRequest struct {
	prevID uint64
	res    chan *Segment
}

func newPlaylist(ctx context.Context, logger *slog.Logger, segmentCount int) *playlist {
	p := &playlist{
		tx:   make(chan playlistRequest),
		done: make(chan struct{}),
	}
	state := &playlistState{
		logger:       logger,
		segmentCount: segmentCount,
		partsByName:  make(map[string]*Part),
	}
	go state.run(ctx, p.tx, p.done)
	return p
}

// send delivers a request to the actor. Returns false if the actor has
// exited.
func (p *playlist) send(req playlistRequest) bool {
	select {
	case p.tx <- req:
		return true
	case <-p.done:
		return false
	}
}

func (p *playlist) onSegmentFinalized(segment *Segment) {
	req := segmentFinalizedRequest{segment: segment, done: make(chan struct{})}
	if p.send(playlistRequest{segmentFinalized: &req}) {
		<-req.done
	}
}

func (p *playlist) onPartFinalized(part *Part) {
	req := partFinalizedRequest{part: part, done: make(chan struct{})}
	if p.send(playlistRequest{partFinalized: &req}) {
		<-req.done
	}
}

func (p *playlist) file(name string, query Query) *MuxerFileResponse {
	switch {
	case name == "stream.m3u8":
		return p.playlistReader(query)
	case strings.HasSuffix(name, ".mp4") && strings.HasPrefix(name, "seg"):
		return p.segmentReader(strings.TrimSuffix(name, ".mp4"))
	case strings.HasSuffix(name, ".mp4") && strings.HasPrefix(name, "part"):
		return p.partReader(strings.TrimSuffix(name, ".mp4"))
	}
	return &MuxerFileResponse{Status: http.StatusNotFound}
}

func (p *playlist) playlistReader(query Query) *MuxerFileResponse {
	req := playlistReadRequest{
		isDeltaUpdate: query.IsDeltaUpdate,
		msnAndPart:    query.MsnAndPart,
		res:           make(chan *MuxerFileResponse, 1),
	}
	if !p.send(playlistRequest{playlist: &req}) {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	res, ok := <-req.res
	if !ok {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	return res
}

func (p *playlist) segmentReader(name string) *MuxerFileResponse {
	req := segmentReadRequest{name: name, res: make(chan *MuxerFileResponse, 1)}
	if !p.send(playlistRequest{segment: &req}) {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	res, ok := <-req.res
	if !ok {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	return res
}

func (p *playlist) partReader(name string) *MuxerFileResponse {
	req := partReadRequest{name: name, res: make(chan *MuxerFileResponse, 1)}
	if !p.send(playlistRequest{part: &req}) {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	res, ok := <-req.res
	if !ok {
		return &MuxerFileResponse{Status: http.StatusNotFound}
	}
	return res
}

// nextSegment returns the first segment with an id greater than prevID,
// waiting for it if needed.
func (p *playlist) nextSegment(prevID uint64) (*Segment, error) {
	req := nextSegmentRequest{prevID: prevID, res: make(chan *Segment, 1)}
	if !p.send(playlistRequest{nextSegment: &req}) {
		return nil, ErrMuxerCancelled
	}
	seg, ok := <-req.res
	if !ok {
		return nil, ErrMuxerCancelled
	}
	return seg, nil
}

type playlistState struct {
	logger       *slog.Logger
	segmentCount int

	segments           []segmentOrGap
	segmentDeleteCount int
	partsByName        map[string]*Part
	nextSegmentID      uint64
	nextSegmentParts   []*Part
	nextPartID         uint64

	playlistsOnHold    []*playlistReadRequest
	partsOnHold        []*partReadRequest
	nextSegmentsOnHold []*nextSegmentRequest
}

func (s *playlistState) run(ctx context.Context, rx chan playlistRequest, done chan struct{}) {
	defer s.drainHolds()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-rx:
			s.handle(req)
		}
	}
}

// drainHolds releases every parked requester on cancellation.
func (s *playlistState) drainHolds() {
	for _, req := range s.playlistsOnHold {
		close(req.res)
	}
	for _, req := range s.partsOnHold {
		close(req.res)
	}
	for _, req := range s.nextSegmentsOnHold {
		close(req.res)
	}
}

func (s *playlistState) handle(req playlistRequest) {
	switch {
	case req.playlist != nil:
		s.handlePlaylist(req.playlist)
	case req.segment != nil:
		s.handleSegment(req.segment)
	case req.part != nil:
		s.handlePart(req.part)
	case req.segmentFinalized != nil:
		s.segmentFinalized(req.segmentFinalized.segment)
		close(req.segmentFinalized.done)
	case req.partFinalized != nil:
		part := req.partFinalized.part
		s.partsByName[part.name()] = part
		s.nextSegmentParts = append(s.nextSegmentParts, part)
		s.nextPartID = part.id + 1
		s.checkPending()
		close(req.partFinalized.done)
	case req.nextSegment != nil:
		s.handleNextSegment(req.nextSegment)
	}
}

func (s *playlistState) handlePlaylist(req *playlistReadRequest) {
	if req.msnAndPart != nil {
		// If the _HLS_msn is greater than the Media Sequence Number of
		// the last Media Segment in the current Playlist plus two, the
		// server SHOULD immediately return Bad Request.
		if req.msnAndPart.Msn > s.nextSegmentID+1 {
			req.res <- &MuxerFileResponse{Status: http.StatusBadRequest}
			return
		}
		if !s.hasContent() || !s.hasPart(req.msnAndPart.Msn, req.msnAndPart.Part) {
			s.playlistsOnHold = append(s.playlistsOnHold, req)
			return
		}
	} else if !s.hasContent() {
		req.res <- &MuxerFileResponse{Status: http.StatusNotFound}
		return
	}
	req.res <- s.playlistResponse(req.isDeltaUpdate)
}

func (s *playlistState) playlistResponse(isDeltaUpdate bool) *MuxerFileResponse {
	body := s.fullPlaylist(isDeltaUpdate)
	return &MuxerFileResponse{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": "application/x-mpegURL"},
		Body:   bytes.NewReader(body),
	}
}

func (s *playlistState) handleSegment(req *segmentReadRequest) {
	segment := s.segmentByName(req.name)
	if segment == nil {
		req.res <- &MuxerFileResponse{Status: http.StatusNotFound}
		return
	}
	req.res <- &MuxerFileResponse{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": "video/mp4"},
		Body:   segment.reader(),
	}
}

func (s *playlistState) handlePart(req *partReadRequest) {
	if part, exists := s.partsByName[req.name]; exists {
		req.res <- &MuxerFileResponse{
			Status: http.StatusOK,
			Header: map[string]string{"Content-Type": "video/mp4"},
			Body:   part.reader(),
		}
		return
	}
	if req.name == partName(s.nextPartID) {
		req.partID = s.nextPartID
		s.partsOnHold = append(s.partsOnHold, req)
		return
	}
	req.res <- &MuxerFileResponse{Status: http.StatusNotFound}
}

func (s *playlistState) handleNextSegment(req *nextSegmentRequest) {
	for _, sog := range s.segments {
		if sog.segment == nil {
			continue
		}
		if req.prevID < sog.segment.ID || req.prevID >= s.nextSegmentID {
			req.res <- sog.segment
			return
		}
	}
	s.nextSegmentsOnHold = append(s.nextSegmentsOnHold, req)
}

func (s *playlistState) hasContent() bool {
	return len(s.segments) > 0
}

// hasPart reports whether the requested part position exists. If the
// client requests a part index greater than that of the final part of
// the parent segment, the request is treated as one for part index zero
// of the following segment.
func (s *playlistState) hasPart(segmentID, partID uint64) bool {
	if !s.hasContent() {
		return false
	}
	for _, sog := range s.segments {
		if sog.segment == nil {
			continue
		}
		seg := sog.segment
		if segmentID != seg.ID {
			continue
		}
		if partID >= uint64(len(seg.Parts)) {
			segmentID++
			partID = 0
			continue
		}
		return true
	}
	if segmentID != s.nextSegmentID {
		return false
	}
	return partID < uint64(len(s.nextSegmentParts))
}

func (s *playlistState) segmentByName(name string) *Segment {
	for _, sog := range s.segments {
		if sog.segment != nil && sog.segment.name() == name {
			return sog.segment
		}
	}
	return nil
}

func (s *playlistState) segmentFinalized(segment *Segment) {
	// Add initial gaps, required by iOS.
	if len(s.segments) == 0 {
		for range initialGapCount {
			s.segments = append(s.segments, segmentOrGap{gap: segment.Duration()})
		}
	}

	s.segments = append(s.segments, segmentOrGap{segment: segment})
	s.nextSegmentID = segment.ID + 1
	s.nextSegmentParts = s.nextSegmentParts[:0]

	if len(s.segments) > s.segmentCount {
		toDelete := s.segments[0]
		s.segments = s.segments[1:]
		if toDelete.segment != nil {
			for _, part := range toDelete.segment.Parts {
				delete(s.partsByName, part.name())
			}
		}
		s.segmentDeleteCount++
	}

	remaining := s.nextSegmentsOnHold[:0]
	for _, req := range s.nextSegmentsOnHold {
		if segment.ID > req.prevID {
			req.res <- segment
		} else {
			remaining = append(remaining, req)
		}
	}
	s.nextSegmentsOnHold = remaining

	s.checkPending()
}

// checkPending re-evaluates the hold queues.
func (s *playlistState) checkPending() {
	if s.hasContent() {
		remaining := s.playlistsOnHold[:0]
		for _, req := range s.playlistsOnHold {
			if s.hasPart(req.msnAndPart.Msn, req.msnAndPart.Part) {
				req.res <- s.playlistResponse(req.isDeltaUpdate)
			} else {
				remaining = append(remaining, req)
			}
		}
		s.playlistsOnHold = remaining
	}

	remainingParts := s.partsOnHold[:0]
	for _, req := range s.partsOnHold {
		if s.nextPartID <= req.partID {
			remainingParts = append(remainingParts, req)
			continue
		}
		part, exists := s.partsByName[req.name]
		if !exists {
			req.res <- &MuxerFileResponse{Status: http.StatusInternalServerError}
			continue
		}
		req.res <- &MuxerFileResponse{
			Status: http.StatusOK,
			Header: map[string]string{"Content-Type": "video/mp4"},
			Body:   part.reader(),
		}
	}
	s.partsOnHold = remainingParts
}

// targetDuration computes EXT-X-TARGETDURATION: EXTINF rounded up must
// not exceed it.
func targetDuration(segments []segmentOrGap) int64 {
	var ret int64
	for _, sog := range segments {
		v := divUp(int64(sog.duration().Nano()), int64(video.NanoSecond))
		if v > ret {
			ret = v
		}
	}
	return ret
}

func divUp(a, b int64) int64 {
	return (a + b - 1) / b
}

func (s *playlistState) partTargetDuration() float64 {
	var ret float64
	for _, sog := range s.segments {
		if sog.segment == nil {
			continue
		}
		for _, part := range sog.segment.Parts {
			if d := part.renderedDuration.Seconds(); d > ret {
				ret = d
			}
		}
	}
	for _, part := range s.nextSegmentParts {
		if d := part.renderedDuration.Seconds(); d > ret {
			ret = d
		}
	}
	return ret
}

func (s *playlistState) fullPlaylist(isDeltaUpdate bool) []byte {
	var cnt strings.Builder
	cnt.WriteString("#EXTM3U\n")
	cnt.WriteString("#EXT-X-VERSION:9\n")

	target := targetDuration(s.segments)
	fmt.Fprintf(&cnt, "#EXT-X-TARGETDURATION:%d\n", target)

	skipBoundary := float64(target) * 6
	partTarget := s.partTargetDuration()

	cnt.WriteString("#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES")
	// PART-HOLD-BACK must be at least twice the part target duration.
	fmt.Fprintf(&cnt, ",PART-HOLD-BACK=%.5f", partTarget*2.5)
	// The skip boundary must be at least six times the target duration.
	fmt.Fprintf(&cnt, ",CAN-SKIP-UNTIL=%g\n", skipBoundary)

	fmt.Fprintf(&cnt, "#EXT-X-PART-INF:PART-TARGET=%g\n", partTarget)
	fmt.Fprintf(&cnt, "#EXT-X-MEDIA-SEQUENCE:%d\n", s.segmentDeleteCount)

	skipped := 0
	if isDeltaUpdate {
		shown := 0
		var curDuration video.DurationH264
		for _, sog := range s.segments {
			curDuration += sog.duration()
			if curDuration.Seconds() >= skipBoundary {
				break
			}
			shown++
		}
		skipped = len(s.segments) - shown
		fmt.Fprintf(&cnt, "#EXT-X-SKIP:SKIPPED-SEGMENTS=%d\n", skipped)
	} else {
		cnt.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
	}

	for i, sog := range s.segments {
		if i < skipped {
			continue
		}
		if sog.segment != nil {
			seg := sog.segment
			if len(s.segments)-i <= 2 {
				for _, part := range seg.Parts {
					fmt.Fprintf(&cnt, "#EXT-X-PART:DURATION=%.5f,URI=\"%s.mp4\"",
						part.renderedDuration.Seconds(), part.name())
					if part.isIndependent {
						cnt.WriteString(",INDEPENDENT=YES")
					}
					cnt.WriteString("\n")
				}
			}
			fmt.Fprintf(&cnt, "#EXTINF:%.5f,\n", seg.Duration().Seconds())
			fmt.Fprintf(&cnt, "%s.mp4\n", seg.name())
		} else {
			cnt.WriteString("#EXT-X-GAP\n")
			fmt.Fprintf(&cnt, "#EXTINF:%.5f,\n", sog.gap.Seconds())
			cnt.WriteString("gap.mp4\n")
		}
	}

	for _, part := range s.nextSegmentParts {
		fmt.Fprintf(&cnt, "#EXT-X-PART:DURATION=%.5f,URI=\"%s.mp4\"",
			part.renderedDuration.Seconds(), part.name())
		if part.isIndependent {
			cnt.WriteString(",INDEPENDENT=YES")
		}
		cnt.WriteString("\n")
	}

	// The preload hint must always be present, otherwise hls.js goes
	// into a loop.
	fmt.Fprintf(&cnt, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"%s.mp4\"\n",
		partName(s.nextPartID))

	return []byte(cnt.String())
}

// primaryPlaylist renders the multivariant playlist.
func primaryPlaylist(codec string) *MuxerFileResponse {
	body := "#EXTM3U\n" +
		"#EXT-X-VERSION:9\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"\n" +
		fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=200000,CODECS=%q\n", codec) +
		"stream.m3u8\n"
	return &MuxerFileResponse{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": "application/x-mpegURL"},
		Body:   strings.NewReader(body),
	}
}
