// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4streamer

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentryShot/sentryshot/pkg/video"
)

var testExtraData = []byte{
	1, 0x64, 0x00, 0x16, // Configuration version, profile, compat, level.
	0xff, 0xe1, // NALU length size, SPS count.
	0x00, 0x05, 0x67, 0x64, 0x00, 0x16, 0xff, // SPS.
	0x01, 0x00, 0x02, 0x68, 0xee, // PPS count, PPS.
}

func testParams() video.TrackParameters {
	return video.TrackParameters{
		Width:     640,
		Height:    480,
		ExtraData: testExtraData,
		Codec:     "avc1.640016",
	}
}

func idr(pts video.UnixH264) video.Sample {
	return video.Sample{
		PTS:                 pts,
		RandomAccessPresent: true,
		AVCC:                []byte{1, 2, 3, 4},
	}
}

func delta(pts video.UnixH264) video.Sample {
	return video.Sample{PTS: pts, AVCC: []byte{5, 6}}
}

func newTestMuxer(t *testing.T) *Muxer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := NewMuxer(ctx, 1, testParams(), 1000, idr(1000))
	require.NoError(t, err)
	return m
}

func TestFirstFrameMustBeIdr(t *testing.T) {
	_, err := NewMuxer(context.Background(), 1, testParams(), 0, delta(0))
	require.Error(t, err)
}

func TestStartSessionNotReady(t *testing.T) {
	m := newTestMuxer(t)
	_, err := m.StartSession(1)
	require.ErrorIs(t, err, ErrNotReady)
}

// writeGop writes an IDR followed by deltas. The GOP closes when the
// next IDR arrives.
func writeGop(t *testing.T, m *Muxer, firstPTS video.UnixH264, frames int) video.UnixH264 {
	t.Helper()
	pts := firstPTS
	for i := 1; i < frames; i++ {
		pts += 100
		require.NoError(t, m.WriteFrame(delta(pts)))
	}
	pts += 100
	require.NoError(t, m.WriteFrame(idr(pts)))
	return pts
}

func TestNextSegment(t *testing.T) {
	m := newTestMuxer(t)
	next := writeGop(t, m, 1000, 3)

	seg, err := m.NextSegment(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seg.ID())
	require.Equal(t, uint16(1), seg.MuxerID())
	require.Equal(t, video.UnixH264(1000), seg.StartTime())
	require.Equal(t, video.DurationH264(300), seg.Duration())

	var count int
	seg.Samples(func(*video.Sample) bool {
		count++
		return true
	})
	require.Equal(t, 3, count)

	// The same segment is not returned twice.
	done := make(chan video.Segment, 1)
	go func() {
		next, err := m.NextSegment(seg)
		if err == nil {
			done <- next
		}
	}()
	writeGop(t, m, next, 2)

	seg2 := <-done
	require.Equal(t, uint64(2), seg2.ID())
}

func TestGopEviction(t *testing.T) {
	m := newTestMuxer(t)
	pts := video.UnixH264(1000)
	for i := 0; i < 5; i++ {
		pts = writeGop(t, m, pts, 2)
	}

	m.mu.Lock()
	gopCount := len(m.state.gops)
	m.mu.Unlock()
	require.Equal(t, maxGops, gopCount)

	// The oldest cached GOP is returned when there is no previous segment.
	seg, err := m.NextSegment(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), seg.ID())
}

func TestPlayFromStart(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)

	_, err := m.StartSession(1)
	require.NoError(t, err)

	res, err := m.Play(1, 0)
	require.NoError(t, err)
	require.Greater(t, res.Length, uint64(0))

	body := make([]byte, res.Length)
	_, err = io.ReadFull(res.Body, body)
	require.NoError(t, err)

	// The byte stream must parse as a fragmented MP4.
	f, err := mp4ff.DecodeFile(bytes.NewReader(body))
	require.NoError(t, err)
	require.NotNil(t, f.Moov)
	require.NotEmpty(t, f.Segments)
}

func TestPlayMidStream(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)

	_, err := m.StartSession(1)
	require.NoError(t, err)

	full, err := m.Play(1, 0)
	require.NoError(t, err)
	fullBody := make([]byte, full.Length)
	_, err = io.ReadFull(full.Body, fullBody)
	require.NoError(t, err)

	// Re-reading from an offset must return the same bytes.
	m2 := newTestMuxer(t)
	writeGop(t, m2, 1000, 2)
	_, err = m2.StartSession(1)
	require.NoError(t, err)

	initLen := uint64(len(m2.state.initContent))
	res, err := m2.Play(1, initLen+3)
	require.NoError(t, err)
	part := make([]byte, res.Length)
	_, err = io.ReadFull(res.Body, part)
	require.NoError(t, err)
	assert.Equal(t, fullBody[initLen+3:], part)
}

// A read past the cached frames parks until the next frame completes.
func TestPlayHold(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)

	_, err := m.StartSession(1)
	require.NoError(t, err)

	full, err := m.Play(1, 0)
	require.NoError(t, err)

	res := make(chan *PlayResponse, 1)
	go func() {
		r, err := m.Play(1, uint64(len(m.state.initContent))+frameBytes(m))
		if err == nil {
			res <- r
		}
	}()

	// No response until a new frame is written.
	select {
	case <-res:
		t.Fatal("expected hold")
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, m.WriteFrame(delta(1300)))

	r := <-res
	body := make([]byte, r.Length)
	_, err = io.ReadFull(r.Body, body)
	require.NoError(t, err)
	require.Equal(t, "moof", string(body[4:8]))
	_ = full
}

func frameBytes(m *Muxer) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, f := range m.state.frames {
		total += uint64(f.muxedSize())
	}
	return total
}

func TestSessionLimits(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)

	for i := uint32(0); i < maxSessions; i++ {
		_, err := m.StartSession(i)
		require.NoError(t, err)
	}
	_, err := m.StartSession(0)
	require.ErrorIs(t, err, ErrSessionAlreadyOpen)

	// A new session evicts the oldest.
	_, err = m.StartSession(100)
	require.NoError(t, err)
	_, err = m.StartSession(0)
	require.NoError(t, err)
}

func TestPlayUnknownSession(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)
	_, err := m.Play(42, 0)
	require.ErrorIs(t, err, ErrSessionNotExist)
}

func TestMuxedSizeProbe(t *testing.T) {
	m := newTestMuxer(t)
	writeGop(t, m, 1000, 2)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.state.frames {
		require.Equal(t, f.muxedSize(), len(f.muxed()))
	}
}

func TestCancelReleasesHolds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m, err := NewMuxer(ctx, 1, testParams(), 1000, idr(1000))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := m.NextSegment(nil)
		errs <- err
	}()
	// Wait until the request is parked.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.state.nextSegmentsOnHold) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errs, ErrMuxerCancelled)

	require.Eventually(t, func() bool {
		_, err := m.StartSession(1)
		return err == ErrMuxerCancelled
	}, time.Second, time.Millisecond)
}
