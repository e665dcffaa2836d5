// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4streamer

import (
	"bytes"
	"io"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// session maps a client's file offsets into the muxer's frame cache.
// Offsets start at zero at the beginning of the init content followed by
// every frame from the session's start frame onward.
type session struct {
	startTime    video.UnixH264
	startFrameID uint64
}

// StartSession registers a session and returns the time of its first
// frame. The session starts at the newest IDR. The oldest session is
// evicted when the table is full.
func (m *Muxer) StartSession(sessionID uint32) (video.UnixH264, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state
	if s.cancelled {
		return 0, ErrMuxerCancelled
	}

	for _, entry := range s.sessions {
		if entry.id == sessionID {
			return 0, ErrSessionAlreadyOpen
		}
	}
	if len(s.gops) == 0 {
		return 0, ErrNotReady
	}
	lastGop := s.gops[len(s.gops)-1]
	startFrame := lastGop.frames[0]

	if len(s.sessions) >= maxSessions {
		s.sessions = s.sessions[1:]
	}
	s.sessions = append(s.sessions, sessionEntry{
		id: sessionID,
		session: &session{
			startTime:    startFrame.sample.PTS,
			startFrameID: startFrame.id,
		},
	})
	return startFrame.sample.PTS, nil
}

// PlayResponse is a hold-until-available byte-range read.
type PlayResponse struct {
	// Start is the requested start offset.
	Start uint64

	// Length is the number of immediately available bytes. The body may
	// continue past it with newly written frames.
	Length uint64

	// Body is the response byte stream.
	Body io.Reader
}

// Play serves a byte-range read for a session.
//
// A request inside the init content streams that slice, all cached
// frames and a live tail. A request inside the cached frames streams
// from there. A request just past the cached frames is parked until the
// next completed frame and served as a single body.
func (m *Muxer) Play(sessionID uint32, start uint64) (*PlayResponse, error) {
	m.mu.Lock()
	s := &m.state
	if s.cancelled {
		m.mu.Unlock()
		return nil, ErrMuxerCancelled
	}

	var sess *session
	for _, entry := range s.sessions {
		if entry.id == sessionID {
			sess = entry.session
			break
		}
	}
	if sess == nil {
		m.mu.Unlock()
		return nil, ErrSessionNotExist
	}

	startFrameIndex := -1
	for i, f := range s.frames {
		if f.id == sess.startFrameID {
			startFrameIndex = i
			break
		}
	}
	if startFrameIndex == -1 {
		m.mu.Unlock()
		return nil, ErrFramesExpired
	}

	if start <= uint64(len(s.initContent)) {
		length := uint64(len(s.initContent)) - start
		readers := []io.Reader{bytes.NewReader(s.initContent[start:])}
		for _, f := range s.frames[startFrameIndex:] {
			length += uint64(f.muxedSize())
			readers = append(readers, f.reader())
		}
		readers = append(readers, m.subscribeLocked())
		m.mu.Unlock()
		return &PlayResponse{
			Start:  start,
			Length: length,
			Body:   io.MultiReader(readers...),
		}, nil
	}

	// Locate the frame containing the start offset.
	offset := uint64(len(s.initContent))
	frames := s.frames[startFrameIndex:]
	for i, f := range frames {
		size := uint64(f.muxedSize())
		if start < offset+size {
			pos := start - offset
			length := size - pos
			muxed := f.muxed()
			readers := []io.Reader{bytes.NewReader(muxed[pos:])}
			for _, f2 := range frames[i+1:] {
				length += uint64(f2.muxedSize())
				readers = append(readers, f2.reader())
			}
			readers = append(readers, m.subscribeLocked())
			m.mu.Unlock()
			return &PlayResponse{
				Start:  start,
				Length: length,
				Body:   io.MultiReader(readers...),
			}, nil
		}
		offset += size
	}

	// Past the last cached frame: park until the next completed frame.
	res := make(chan *frame, 1)
	s.framesOnHold = append(s.framesOnHold, res)
	m.mu.Unlock()

	f, ok := <-res
	if !ok {
		return nil, ErrMuxerCancelled
	}
	muxed := f.muxed()
	return &PlayResponse{
		Start:  start,
		Length: uint64(len(muxed)),
		Body:   bytes.NewReader(muxed),
	}, nil
}

// subscribeLocked registers a live frame subscription. The caller must
// hold the state lock.
func (m *Muxer) subscribeLocked() io.Reader {
	sub := make(chan *frame, frameCacheSize)
	m.state.subscribers = append(m.state.subscribers, sub)
	return &liveReader{ch: sub}
}

// liveReader turns a frame subscription into a byte stream.
type liveReader struct {
	ch  chan *frame
	cur io.Reader
}

func (r *liveReader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil {
			n, err := r.cur.Read(p)
			if err == io.EOF {
				r.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}
		f, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.cur = f.reader()
	}
}
