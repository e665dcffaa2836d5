// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentryShot/sentryshot/pkg/video"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

func TestPrimaryPlaylist(t *testing.T) {
	res := primaryPlaylist("avc1.640016")
	require.Equal(t, http.StatusOK, res.Status)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:9\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=200000,CODECS=\"avc1.640016\"\n" +
		"stream.m3u8\n"
	require.Equal(t, want, string(body))
}

func newTestState() *playlistState {
	return &playlistState{
		logger:       discardLogger(),
		segmentCount: 10,
		partsByName:  make(map[string]*Part),
	}
}

func finalizedSegment(t *testing.T, id uint64, partIDs ...uint64) *Segment {
	t.Helper()
	seg := &Segment{ID: id, StartTime: 0}
	for _, partID := range partIDs {
		part := newPart(partID)
		part.writeSample(&video.Sample{
			PTS:                 0,
			Duration:            video.H264Timescale, // One second.
			RandomAccessPresent: true,
			AVCC:                []byte{1, 2, 3},
		})
		require.NoError(t, part.finalize(0))
		seg.Parts = append(seg.Parts, part)
	}
	return seg
}

// After N finalized segments the playlist contains N + 7 entries and
// the media sequence equals the number of evicted segments.
func TestPlaylistWindow(t *testing.T) {
	state := newTestState()

	// Window bound is ten: seven initial gaps plus three segments.
	for i := uint64(1); i <= 3; i++ {
		state.segmentFinalized(finalizedSegment(t, i, i))
	}
	require.Len(t, state.segments, 3+initialGapCount)
	require.Equal(t, 0, state.segmentDeleteCount)

	// Two more segments push the window over its bound.
	state.segmentFinalized(finalizedSegment(t, 4, 4))
	state.segmentFinalized(finalizedSegment(t, 5, 5))
	require.Len(t, state.segments, 10)
	require.Equal(t, 2, state.segmentDeleteCount)

	body := string(state.fullPlaylist(false))
	assert.Contains(t, body, "#EXT-X-MEDIA-SEQUENCE:2\n")
	assert.Contains(t, body, "#EXT-X-MAP:URI=\"init.mp4\"\n")
	assert.Contains(t, body, "#EXT-X-TARGETDURATION:1\n")
	assert.Contains(t, body, "seg5.mp4\n")
	assert.Contains(t, body, "#EXT-X-GAP\n")
	assert.Contains(t, body, "gap.mp4\n")
	// The preload hint must always be present.
	assert.Contains(t, body, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"part0.mp4\"\n")
}

func TestPlaylistDeltaUpdate(t *testing.T) {
	state := newTestState()
	state.segmentCount = 30
	for i := uint64(1); i <= 20; i++ {
		state.segmentFinalized(finalizedSegment(t, i, i))
	}

	body := string(state.fullPlaylist(true))
	assert.Contains(t, body, "#EXT-X-SKIP:SKIPPED-SEGMENTS=")
	assert.NotContains(t, body, "#EXT-X-MAP")
}

func TestHasPart(t *testing.T) {
	state := newTestState()
	state.segmentFinalized(finalizedSegment(t, 1, 0))

	// Existing part of an existing segment.
	assert.True(t, state.hasPart(1, 0))
	// Part index past the end rolls over to the next segment.
	assert.False(t, state.hasPart(1, 1))
	assert.False(t, state.hasPart(2, 0))

	// A part of the segment under construction.
	part := newPart(1)
	part.writeSample(&video.Sample{Duration: 1, AVCC: []byte{1}})
	require.NoError(t, part.finalize(0))
	state.partsByName[part.name()] = part
	state.nextSegmentParts = append(state.nextSegmentParts, part)
	state.nextPartID = 2

	assert.True(t, state.hasPart(2, 0))
	assert.True(t, state.hasPart(1, 1))
}

func newTestMuxer(t *testing.T) *Muxer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := NewMuxer(ctx, discardLogger(), 9,
		video.H264Timescale,    // 1s segments.
		video.H264Timescale/10, // 100ms parts.
		testParams())
	require.NoError(t, err)
	return m
}

func writeIDR(t *testing.T, m *Muxer, pts video.UnixH264) {
	t.Helper()
	require.NoError(t, m.WriteSample(&video.Sample{
		PTS:                 pts,
		Duration:            video.H264Timescale / 10,
		RandomAccessPresent: true,
		AVCC:                []byte{0, 0, 0, 1, 0x65},
	}))
}

func writeDelta(t *testing.T, m *Muxer, pts video.UnixH264) {
	t.Helper()
	require.NoError(t, m.WriteSample(&video.Sample{
		PTS:      pts,
		Duration: video.H264Timescale / 10,
		AVCC:     []byte{0, 0, 0, 1, 0x41},
	}))
}

func TestMuxerEndToEnd(t *testing.T) {
	m := newTestMuxer(t)

	// Two full one-second GOPs.
	tick := video.UnixH264(video.H264Timescale / 10)
	var pts video.UnixH264
	for gop := 0; gop < 2; gop++ {
		writeIDR(t, m, pts)
		pts += tick
		for i := 0; i < 9; i++ {
			writeDelta(t, m, pts)
			pts += tick
		}
	}
	// Final IDR cuts the second segment.
	writeIDR(t, m, pts)

	res := m.File("stream.m3u8", Query{})
	require.Equal(t, http.StatusOK, res.Status)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "seg1.mp4")
	assert.Contains(t, string(body), "seg2.mp4")
	assert.Contains(t, string(body), "#EXT-X-PART:DURATION=0.10000,URI=\"part0.mp4\",INDEPENDENT=YES")

	res = m.File("init.mp4", Query{})
	require.Equal(t, http.StatusOK, res.Status)
	initContent, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	// The init segment must be a valid ISO-BMFF file.
	f, err := mp4ff.DecodeFile(bytes.NewReader(initContent))
	require.NoError(t, err)
	require.NotNil(t, f.Moov)
	require.Len(t, f.Moov.Traks, 1)
	require.Equal(t, uint32(90000), f.Moov.Traks[0].Mdia.Mdhd.Timescale)

	res = m.File("part0.mp4", Query{})
	require.Equal(t, http.StatusOK, res.Status)

	res = m.File("seg1.mp4", Query{})
	require.Equal(t, http.StatusOK, res.Status)
	segContent, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	// Segment fragments must parse as well.
	frag, err := mp4ff.DecodeFile(bytes.NewReader(append(initContent, segContent...)))
	require.NoError(t, err)
	require.NotEmpty(t, frag.Segments)

	res = m.File("does-not-exist.mp4", Query{})
	require.Equal(t, http.StatusNotFound, res.Status)
}

func TestBlockingPlaylistBadRequest(t *testing.T) {
	m := newTestMuxer(t)
	writeIDR(t, m, 0)

	res := m.File("stream.m3u8", Query{
		MsnAndPart: &MsnAndPart{Msn: 100, Part: 0},
	})
	require.Equal(t, http.StatusBadRequest, res.Status)
}

func TestNextSegment(t *testing.T) {
	m := newTestMuxer(t)

	tick := video.UnixH264(video.H264Timescale / 10)
	var pts video.UnixH264
	writeIDR(t, m, pts)
	for i := 0; i < 10; i++ {
		pts += tick
		writeDelta(t, m, pts)
	}
	pts += tick
	writeIDR(t, m, pts) // Cuts segment 1.

	seg, err := m.NextSegment(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seg.ID)
	require.NotEmpty(t, seg.Parts)
}

func TestMuxerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m, err := NewMuxer(ctx, discardLogger(), 9,
		video.H264Timescale, video.H264Timescale/10, testParams())
	require.NoError(t, err)

	cancel()
	// Wait for the actor to exit.
	<-m.playlist.done

	_, err = m.NextSegment(0)
	require.ErrorIs(t, err, ErrMuxerCancelled)

	res := m.File("stream.m3u8", Query{})
	require.Equal(t, http.StatusNotFound, res.Status)
}

func TestPartDurationAndContent(t *testing.T) {
	part := newPart(0)
	part.writeSample(&video.Sample{
		PTS:                 100,
		DTSOffset:           0,
		Duration:            50,
		RandomAccessPresent: true,
		AVCC:                []byte{9, 8, 7},
	})
	require.NoError(t, part.finalize(100))
	require.True(t, part.isIndependent)
	require.Equal(t, video.DurationH264(50), part.renderedDuration)

	content, err := io.ReadAll(part.reader())
	require.NoError(t, err)
	// moof(104) + mdat header(8) + payload(3).
	require.Equal(t, 115, len(content))
	require.Equal(t, "moof", string(content[4:8]))
	require.Equal(t, []byte{9, 8, 7}, content[len(content)-3:])
}

func TestNextSegmentWaits(t *testing.T) {
	m := newTestMuxer(t)
	writeIDR(t, m, 0)

	got := make(chan *Segment)
	go func() {
		seg, err := m.NextSegment(0)
		if err == nil {
			got <- seg
		}
	}()

	// Complete the first GOP; segment 1 becomes available.
	tick := video.UnixH264(video.H264Timescale / 10)
	pts := tick
	for i := 0; i < 10; i++ {
		writeDelta(t, m, pts)
		pts += tick
	}
	writeIDR(t, m, pts)

	seg := <-got
	require.Equal(t, uint64(1), seg.ID)
}
