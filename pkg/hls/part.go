// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/SentryShot/sentryshot/pkg/mp4"
	"github.com/SentryShot/sentryshot/pkg/video"
)

func partName(id uint64) string {
	return "part" + strconv.FormatUint(id, 10)
}

// Part is a finalized partial segment.
type Part struct {
	id            uint64
	isIndependent bool
	samples       []*video.Sample

	renderedContent  []byte
	renderedDuration video.DurationH264
}

func newPart(id uint64) *Part {
	return &Part{id: id}
}

func (p *Part) name() string {
	return partName(p.id)
}

func (p *Part) reader() io.Reader {
	return bytes.NewReader(p.renderedContent)
}

func (p *Part) duration() video.DurationH264 {
	var total video.DurationH264
	for _, sample := range p.samples {
		total += sample.Duration
	}
	return total
}

func (p *Part) writeSample(sample *video.Sample) {
	if sample.RandomAccessPresent {
		p.isIndependent = true
	}
	p.samples = append(p.samples, sample)
}

func (p *Part) finalize(segmentStartDTS video.UnixH264) error {
	if len(p.samples) == 0 {
		return nil
	}
	content, err := generatePart(segmentStartDTS, p.samples)
	if err != nil {
		return err
	}
	p.renderedContent = content
	p.renderedDuration = p.duration()
	return nil
}

// generatePart renders one (moof, mdat) pair.
//
//	moof
//	- mfhd
//	- traf
//	  - tfhd
//	  - tfdt
//	  - trun
//	mdat
func generatePart(baseTime video.UnixH264, samples []*video.Sample) ([]byte, error) {
	// moof(8) + mfhd(16)
	mfhdOffset := 24
	// traf(8) + tfhd(16) + tfdt(20)
	trunOffset := mfhdOffset + 44
	trunSize := len(samples)*16 + 20
	mdatOffset := trunOffset + trunSize

	trun := &mp4.Trun{
		FullBox: mp4.FullBox{
			Version: 1,
			Flags: mp4.U32ToFlags(
				mp4.TrunDataOffsetPresent |
					mp4.TrunSampleDurationPresent |
					mp4.TrunSampleSizePresent |
					mp4.TrunSampleFlagsPresent |
					mp4.TrunSampleCompositionTimeOffsetPresent),
		},
		DataOffset: int32(mdatOffset + 8),
	}
	var mdatSize int
	for _, sample := range samples {
		var flags uint32
		if !sample.RandomAccessPresent {
			flags |= 1 << 16 // sample_is_non_sync_sample
		}
		trun.Entries = append(trun.Entries, mp4.TrunEntry{
			SampleDuration:                uint32(sample.Duration),
			SampleSize:                    uint32(len(sample.AVCC)),
			SampleFlags:                   flags,
			SampleCompositionTimeOffsetV1: int32(sample.DTSOffset),
		})
		mdatSize += len(sample.AVCC)
	}

	firstDTS := samples[0].DTS()
	baseMediaDecodeTime := firstDTS.Sub(baseTime)
	if baseMediaDecodeTime < 0 {
		return nil, fmt.Errorf("negative base media decode time: %d", baseMediaDecodeTime)
	}

	moof := mp4.Boxes{
		Box: &mp4.Moof{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mfhd{SequenceNumber: 0}},
			{
				Box: &mp4.Traf{},
				Children: []mp4.Boxes{
					{Box: &mp4.Tfhd{
						FullBox: mp4.FullBox{Flags: mp4.U32ToFlags(mp4.TfhdDefaultBaseIsMoof)},
						TrackID: videoTrackID,
					}},
					{Box: &mp4.Tfdt{
						FullBox:               mp4.FullBox{Version: 1},
						BaseMediaDecodeTimeV1: uint64(baseMediaDecodeTime),
					}},
					{Box: trun},
				},
			},
		},
	}

	mdatData := make([]byte, 0, mdatSize)
	for _, sample := range samples {
		mdatData = append(mdatData, sample.AVCC...)
	}
	mdat := mp4.Boxes{Box: &mp4.Mdat{Data: mdatData}}

	buf := bytes.NewBuffer(make([]byte, 0, moof.Size()+mdat.Size()))
	w := mp4.NewWriter(buf)
	if err := moof.Marshal(w); err != nil {
		return nil, err
	}
	if err := mdat.Marshal(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
