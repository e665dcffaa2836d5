// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package video holds the shared time bases and sample types that the
// stores and muxers exchange.
package video

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// Sample is a single coded video access unit in AVCC form.
type Sample struct {
	// PTS is the presentation time in the 90kHz Unix time base.
	PTS UnixH264

	// DTSOffset is pts-dts. The decode time is derived, never stored.
	DTSOffset DtsOffset

	// Duration until the next sample's decode time.
	Duration DurationH264

	// RandomAccessPresent is true if the access unit contains an IDR.
	RandomAccessPresent bool

	// AVCC holds one or more length-prefixed NAL units.
	AVCC []byte
}

// DTS returns the decode timestamp.
func (s *Sample) DTS() UnixH264 {
	return s.PTS - UnixH264(s.DTSOffset)
}

// End returns the time at which the sample stops being presented.
func (s *Sample) End() UnixH264 {
	return s.PTS.Add(s.Duration)
}

// TrackParameters describe the single video track of a stream.
type TrackParameters struct {
	Width  uint16
	Height uint16

	// ExtraData is the payload of the avcC box: decoder configuration
	// including SPS and PPS.
	ExtraData []byte

	// Codec is the RFC 6381 codec string, e.g. "avc1.640016".
	Codec string
}

// ParamsFromSPS derives track parameters from raw SPS and PPS NAL units.
func ParamsFromSPS(spsNALU, ppsNALU []byte) (*TrackParameters, error) {
	sps, err := avc.ParseSPSNALUnit(spsNALU, true)
	if err != nil {
		return nil, fmt.Errorf("parse sps: %w", err)
	}
	return &TrackParameters{
		Width:     uint16(sps.Width),
		Height:    uint16(sps.Height),
		ExtraData: generateExtraData(spsNALU, ppsNALU),
		Codec:     avc.CodecString("avc1", sps),
	}, nil
}

// generateExtraData builds the avcC decoder configuration record.
func generateExtraData(sps, pps []byte) []byte {
	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf,
		1,      // Configuration version.
		sps[1], // Profile.
		sps[2], // Profile compatibility.
		sps[3], // Level.
		0xfc|3, // Reserved + NALU length size minus one.
		0xe0|1, // Reserved + number of SPS.
	)
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)
	buf = append(buf, 1) // Number of PPS.
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)
	return buf
}
