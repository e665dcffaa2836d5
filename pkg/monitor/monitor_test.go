// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// 2000-01-01T00:00:00Z.
var year2000 = video.UnixNano(946684800 * int64(video.NanoSecond)).H264()

type stubSegment struct {
	id      uint64
	start   video.UnixH264
	samples []video.Sample
}

func (s *stubSegment) ID() uint64                 { return s.id }
func (*stubSegment) MuxerID() uint16              { return 1 }
func (s *stubSegment) StartTime() video.UnixH264  { return s.start }
func (s *stubSegment) Duration() video.DurationH264 {
	var total video.DurationH264
	for _, sample := range s.samples {
		total += sample.Duration
	}
	return total
}

func (s *stubSegment) Samples(yield func(*video.Sample) bool) {
	for i := range s.samples {
		if !yield(&s.samples[i]) {
			return
		}
	}
}

type stubMuxer struct {
	segments chan video.Segment
}

func (*stubMuxer) Params() video.TrackParameters {
	return video.TrackParameters{Width: 640, Height: 480, ExtraData: []byte{0x33}}
}

func (m *stubMuxer) NextSegment(video.Segment) (video.Segment, error) {
	seg, ok := <-m.segments
	if !ok {
		return nil, errors.New("cancelled")
	}
	return seg, nil
}

type stubSource struct{ muxer *stubMuxer }

func (s *stubSource) Muxer(context.Context) (video.StreamerMuxer, error) {
	return s.muxer, nil
}

func (*stubSource) SubMuxer(context.Context) (video.StreamerMuxer, bool, error) {
	return nil, false, nil
}

func newTestRecDB(t *testing.T) *recdb.RecDb {
	t.Helper()
	dir := t.TempDir()
	return recdb.New(discardLogger(), dir, recdb.NewDisk(dir, 1<<40, 0))
}

func testSegment(id uint64, start video.UnixH264) *stubSegment {
	return &stubSegment{
		id:    id,
		start: start,
		samples: []video.Sample{
			{
				PTS:                 start,
				Duration:            100,
				RandomAccessPresent: true,
				AVCC:                []byte{1, 2},
			},
			{
				PTS:      start.Add(100),
				Duration: 100,
				AVCC:     []byte{3},
			},
		},
	}
}

func TestRecordingProcess(t *testing.T) {
	recDB := newTestRecDB(t)
	muxer := &stubMuxer{segments: make(chan video.Segment, 3)}
	muxer.segments <- testSegment(1, year2000)
	muxer.segments <- testSegment(2, year2000.Add(200))
	close(muxer.segments)

	thumbnail := func(params video.TrackParameters, sample *video.Sample) ([]byte, error) {
		return []byte{0xff, 0xd8}, nil
	}

	r := newRecorder(discardLogger(), Config{
		ID:          "m1",
		VideoLength: 1,
	}, &stubSource{muxer: muxer}, recDB, thumbnail)

	r.events.push(eventdb.Event{Time: year2000.Nano() + 1})

	require.NoError(t, r.runRecordingProcess(context.Background()))

	recordings, err := recDB.RecordingsByQuery(&recdb.Query{
		RecordingID: recording.MaxID(),
		Limit:       10,
		IncludeData: true,
	})
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	require.Equal(t, recdb.StateFinalized, recordings[0].State)
	require.NotNil(t, recordings[0].Data)
	assert.Len(t, recordings[0].Data.Events, 1)
	assert.Equal(t, year2000.Nano(), recordings[0].Data.Start)
	assert.Equal(t, year2000.Add(400).Nano(), recordings[0].Data.End)

	// Meta holds all four samples.
	metaPath, exists := recDB.RecordingFileByExt(recordings[0].ID, "meta")
	require.True(t, exists)
	metaFile, err := os.Open(metaPath)
	require.NoError(t, err)
	defer metaFile.Close()
	stat, err := metaFile.Stat()
	require.NoError(t, err)
	header, samples, err := recording.ReadMeta(metaFile, stat.Size())
	require.NoError(t, err)
	assert.Equal(t, year2000, header.StartTime)
	assert.Equal(t, uint16(640), header.Width)
	require.Len(t, samples, 4)

	// Mdat is the concatenation of the AVCC payloads.
	mdatPath, exists := recDB.RecordingFileByExt(recordings[0].ID, "mdat")
	require.True(t, exists)
	mdat, err := os.ReadFile(mdatPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, mdat)

	// The recording handle was released, so a new recording with the
	// same start time fails with AlreadyExist, not AlreadyActive.
	_, err = recDB.NewRecording("m1", year2000)
	require.ErrorIs(t, err, recdb.ErrAlreadyExist)
}

func TestRecordingProcessSkippedSegment(t *testing.T) {
	recDB := newTestRecDB(t)
	muxer := &stubMuxer{segments: make(chan video.Segment, 2)}
	muxer.segments <- testSegment(1, year2000)
	muxer.segments <- testSegment(5, year2000.Add(200)) // Gap in ids.
	close(muxer.segments)

	r := newRecorder(discardLogger(), Config{
		ID:          "m1",
		VideoLength: 1,
	}, &stubSource{muxer: muxer}, recDB, nil)

	err := r.runRecordingProcess(context.Background())
	require.ErrorIs(t, err, ErrSkippedSegment)
}

func TestEventCache(t *testing.T) {
	cache := &eventCache{}
	cache.push(eventdb.Event{Time: 100})
	cache.push(eventdb.Event{Time: 200})
	cache.push(eventdb.Event{Time: 300})

	got := cache.queryAndPrune(150, 250)
	require.Len(t, got, 1)
	assert.Equal(t, video.UnixNano(200), got[0].Time)

	// Events inside the queried window are pruned, later events are
	// kept.
	got = cache.queryAndPrune(0, 1000)
	require.Len(t, got, 1)
	assert.Equal(t, video.UnixNano(300), got[0].Time)
}

func TestConfigValidate(t *testing.T) {
	err := (&Config{}).Validate()
	require.ErrorIs(t, err, ErrMonitorIDMissing)

	err = (&Config{ID: "ok"}).Validate()
	require.NoError(t, err)

	err = (&Config{ID: "bad\x01id"}).Validate()
	require.Error(t, err)
}

func TestManagerSendEventValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	eventDB, err := eventdb.New(ctx, func() { close(done) }, discardLogger(), t.TempDir(), 0, 1)
	require.NoError(t, err)

	m := NewManager(discardLogger(), newTestRecDB(t), eventDB,
		func(Config) (Source, error) {
			return &stubSource{muxer: &stubMuxer{segments: make(chan video.Segment)}}, nil
		}, nil)

	err = m.SendEvent(ctx, "missing", eventdb.Event{})
	require.Error(t, err) // No timestamp.

	err = m.SendEvent(ctx, "missing", eventdb.Event{Time: 1})
	require.Error(t, err) // Unknown monitor.
}
