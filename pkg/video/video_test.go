// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeBaseConversions(t *testing.T) {
	cases := []struct {
		nano UnixNano
		h264 UnixH264
	}{
		{0, 0},
		{UnixNano(time.Second), 90000},
		{UnixNano(time.Second) / 90000, 1},
		{UnixNano(946684800 * int64(time.Second)), 946684800 * 90000},
		{-UnixNano(time.Second), -90000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.h264, tc.nano.H264(), "nano=%d", tc.nano)
		assert.Equal(t, tc.nano, tc.h264.Nano(), "h264=%d", tc.h264)
	}
}

// Conversions must be exact for values that originated as whole ticks,
// even past the naive multiplication overflow point.
func TestConversionRoundTrip(t *testing.T) {
	for _, ticks := range []UnixH264{0, 1, 90000, 946684800 * 90000, 1 << 48} {
		assert.Equal(t, ticks, ticks.Nano().H264())
	}
}

func TestSampleDerivedTimes(t *testing.T) {
	sample := Sample{
		PTS:       1000,
		DTSOffset: 300,
		Duration:  100,
	}
	assert.Equal(t, UnixH264(700), sample.DTS())
	assert.Equal(t, UnixH264(1100), sample.End())
}

func TestDurationSeconds(t *testing.T) {
	assert.Equal(t, 1.0, DurationH264(90000).Seconds())
	assert.Equal(t, 0.5, DurationH264(45000).Seconds())
}

func TestParamsFromSPS(t *testing.T) {
	// 640x360 high profile SPS produced by x264.
	sps := []byte{
		0x67, 0x64, 0x00, 0x1e, 0xac, 0xd9, 0x40, 0xa0,
		0x2f, 0xf9, 0x61, 0x00, 0x00, 0x03, 0x00, 0x01,
		0x00, 0x00, 0x03, 0x00, 0x30, 0x0f, 0x16, 0x2d, 0x96,
	}
	pps := []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}

	params, err := ParamsFromSPS(sps, pps)
	require.NoError(t, err)
	assert.NotZero(t, params.Width)
	assert.NotZero(t, params.Height)
	assert.True(t, len(params.Codec) > 5 && params.Codec[:5] == "avc1.")
	assert.NotEmpty(t, params.ExtraData)
}

func TestGenerateExtraData(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x16, 0xff}
	pps := []byte{0x68, 0xee}
	got := generateExtraData(sps, pps)

	want := []byte{
		1,                // Configuration version.
		0x64, 0x00, 0x16, // Profile, compatibility, level.
		0xff,       // NALU length size.
		0xe1,       // SPS count.
		0x00, 0x05, // SPS length.
		0x67, 0x64, 0x00, 0x16, 0xff,
		1,          // PPS count.
		0x00, 0x02, // PPS length.
		0x68, 0xee,
	}
	require.Equal(t, want, got)
}
