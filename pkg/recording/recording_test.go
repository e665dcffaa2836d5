// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package recording

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentryShot/sentryshot/pkg/video"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("2023-04-05_06-07-08_backyard")
	require.NoError(t, err)
	assert.Equal(t, "backyard", id.MonitorID())
	assert.Equal(t,
		filepath.Join("2023", "04", "05", "backyard", "2023-04-05_06-07-08_backyard"),
		id.FullPath())

	cases := []string{
		"",
		"short",
		"2023-04-05_06-07-08",           // No monitor.
		"2023-04-05T06-07-08_backyard",  // Bad separator.
		"2023-04-05_06-07-08_back/yard", // Path separator.
		"2023-04-05_06-07-08_back.yard", // Dot.
		"2023-13-05_06-07-08_backyard",  // Bad month.
	}
	for _, raw := range cases {
		_, err := ParseID(raw)
		assert.Error(t, err, "%q", raw)
	}
}

func TestIDFromNanos(t *testing.T) {
	// 2000-01-01T00:00:00Z.
	t0 := video.UnixNano(946684800 * int64(video.NanoSecond))
	id := IDFromNanos(t0, "x")
	assert.Equal(t, ID("2000-01-01_00-00-00_x"), id)

	nanos, err := id.NanosInexact()
	require.NoError(t, err)
	assert.Equal(t, t0, nanos)

	// Sub-second precision is lost.
	id2 := IDFromNanos(t0+1, "x")
	assert.Equal(t, id, id2)
}

func TestIDOrdering(t *testing.T) {
	a := IDFromNanos(video.UnixNano(946684800*int64(video.NanoSecond)), "x")
	b := IDFromNanos(video.UnixNano(946684801*int64(video.NanoSecond)), "x")
	assert.Less(t, ZeroID(), a)
	assert.Less(t, a, b)
	assert.Less(t, b, MaxID())
}

func TestMetaRoundTrip(t *testing.T) {
	header := MetaHeader{
		StartTime: 123456,
		Width:     640,
		Height:    480,
		ExtraData: []byte{0x33, 0x44},
	}
	samples := []video.Sample{
		{
			PTS:                 123456,
			DTSOffset:           0,
			Duration:            1,
			RandomAccessPresent: true,
			AVCC:                []byte{1, 2, 3},
		},
		{
			PTS:       123457,
			DTSOffset: -2,
			Duration:  1,
			AVCC:      []byte{4},
		},
	}

	var meta, mdat bytes.Buffer
	w, err := NewVideoWriter(&meta, &mdat, header)
	require.NoError(t, err)
	for i := range samples {
		require.NoError(t, w.WriteSample(&samples[i]))
	}

	assert.Equal(t, []byte{1, 2, 3, 4}, mdat.Bytes())

	gotHeader, gotSamples, err := ReadMeta(
		bytes.NewReader(meta.Bytes()), int64(meta.Len()))
	require.NoError(t, err)
	assert.Equal(t, header, *gotHeader)

	// The meta file holds no payload; the AVCC bytes live in the mdat
	// file and are located through DataOffset and DataSize.
	want0, want1 := samples[0], samples[1]
	want0.AVCC, want1.AVCC = nil, nil

	require.Len(t, gotSamples, 2)
	assert.Equal(t, want0, gotSamples[0].Sample)
	assert.Equal(t, uint32(0), gotSamples[0].DataOffset)
	assert.Equal(t, uint32(3), gotSamples[0].DataSize)
	assert.Equal(t, want1, gotSamples[1].Sample)
	assert.Equal(t, uint32(3), gotSamples[1].DataOffset)
	assert.Equal(t, uint32(1), gotSamples[1].DataSize)
}

func TestReadMetaTruncated(t *testing.T) {
	header := MetaHeader{StartTime: 1, Width: 2, Height: 3}
	var meta, mdat bytes.Buffer
	w, err := NewVideoWriter(&meta, &mdat, header)
	require.NoError(t, err)
	sample := video.Sample{PTS: 1, Duration: 1, AVCC: []byte{1}}
	require.NoError(t, w.WriteSample(&sample))

	// A torn sample record makes the file invalid.
	truncated := meta.Bytes()[:meta.Len()-3]
	_, _, err = ReadMeta(bytes.NewReader(truncated), int64(len(truncated)))
	require.ErrorIs(t, err, ErrMetaCorrupt)
}
