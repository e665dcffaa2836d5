// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package vod

import (
	"time"

	"github.com/SentryShot/sentryshot/pkg/mp4"
	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// generateMP4 renders the seekable file's head: ftyp, moov with index
// tables pointing into the concatenated raw AVCC, and the mdat header.
// The mdat payload is streamed from the recording files afterwards.
//
//	ftyp
//	moov
//	- mvhd
//	- trak
//	  - tkhd
//	  - mdia
//	    - mdhd
//	    - hdlr
//	    - minf
//	      - vmhd
//	      - dinf
//	        - dref
//	          - url
//	      - stbl
//	        - stsd
//	          - avc1
//	            - avcC
//	        - stts
//	        - stss
//	        - ctts
//	        - stsc
//	        - stsz
//	        - stco
//	mdat
func generateMP4(
	startTime video.UnixH264,
	samples []*recording.Sample,
	params video.TrackParameters,
) ([]byte, uint32, error) {
	var (
		stts     []mp4.SttsEntry
		stss     []uint32
		ctts     []mp4.CttsEntry
		stsz     []uint32
		mdatSize uint32
		endTime  = startTime
	)
	for i, sample := range samples {
		delta := uint32(sample.Duration)
		if n := len(stts); n > 0 && stts[n-1].SampleDelta == delta {
			stts[n-1].SampleCount++
		} else {
			stts = append(stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: delta})
		}

		cts := int32(sample.DTSOffset)
		if n := len(ctts); n > 0 && ctts[n-1].SampleOffsetV1 == cts {
			ctts[n-1].SampleCount++
		} else {
			ctts = append(ctts, mp4.CttsEntry{SampleCount: 1, SampleOffsetV1: cts})
		}

		stsz = append(stsz, sample.DataSize)
		mdatSize += sample.DataSize

		if sample.RandomAccessPresent {
			stss = append(stss, uint32(i+1))
		}
		if end := sample.End(); end > endTime {
			endTime = end
		}
	}

	duration := endTime.Sub(startTime)
	durationMs := uint32(time.Duration(duration.Nano()).Milliseconds())

	ftyp := mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:       mp4.BoxType{'i', 's', 'o', '4'},
		MinorVersion:     512,
		CompatibleBrands: []mp4.BoxType{{'i', 's', 'o', '4'}},
	}}

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Avc1{
							SampleEntry:     mp4.SampleEntry{DataReferenceIndex: 1},
							Width:           params.Width,
							Height:          params.Height,
							HorizResolution: 4718592,
							VertResolution:  4718592,
							FrameCount:      1,
							Depth:           24,
							PreDefined3:     -1,
						},
						Children: []mp4.Boxes{
							{Box: &mp4.AvcC{ExtraData: params.ExtraData}},
						},
					},
				},
			},
			{Box: &mp4.Stts{Entries: stts}},
			{Box: &mp4.Stss{SampleNumbers: stss}},
			{Box: &mp4.Ctts{
				FullBox: mp4.FullBox{Version: 1},
				Entries: ctts,
			}},
			{Box: &mp4.Stsc{Entries: []mp4.StscEntry{{
				FirstChunk:             1,
				SamplesPerChunk:        uint32(len(samples)),
				SampleDescriptionIndex: 1,
			}}}},
			{Box: &mp4.Stsz{EntrySizes: stsz}},
			// The chunk offset is patched in below.
			{Box: &mp4.Stco{ChunkOffsets: []uint32{0}}},
		},
	}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   1000,
				DurationV0:  durationMs,
				Rate:        65536,
				Volume:      256,
				Matrix:      unityMatrix,
				NextTrackID: 2,
			}},
			{
				Box: &mp4.Trak{},
				Children: []mp4.Boxes{
					{Box: &mp4.Tkhd{
						FullBox:    mp4.FullBox{Flags: [3]byte{0, 0, 3}},
						TrackID:    1,
						DurationV0: durationMs,
						Width:      uint32(params.Width) * 65536,
						Height:     uint32(params.Height) * 65536,
						Matrix:     unityMatrix,
					}},
					{
						Box: &mp4.Mdia{},
						Children: []mp4.Boxes{
							{Box: &mp4.Mdhd{
								Timescale:  video.H264Timescale,
								DurationV0: uint32(duration),
								Language:   [3]byte{'u', 'n', 'd'},
							}},
							{Box: &mp4.Hdlr{
								HandlerType: mp4.BoxType{'v', 'i', 'd', 'e'},
								Name:        "VideoHandler",
							}},
							{
								Box: &mp4.Minf{},
								Children: []mp4.Boxes{
									{Box: &mp4.Vmhd{}},
									{
										Box: &mp4.Dinf{},
										Children: []mp4.Boxes{
											{
												Box: &mp4.Dref{EntryCount: 1},
												Children: []mp4.Boxes{
													{Box: &mp4.URL{
														FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
													}},
												},
											},
										},
									},
									stbl,
								},
							},
						},
					},
				},
			},
		},
	}

	// The single chunk starts right after the mdat header.
	const mdatHeaderSize = 8
	chunkOffset := uint32(ftyp.Size() + moov.Size() + mdatHeaderSize)
	stco := stbl.Children[len(stbl.Children)-1].Box.(*mp4.Stco)
	stco.ChunkOffsets[0] = chunkOffset

	buf := make([]byte, 0, chunkOffset)
	out := &appendWriter{buf: buf}
	if err := ftyp.MarshalTo(out); err != nil {
		return nil, 0, err
	}
	if err := moov.MarshalTo(out); err != nil {
		return nil, 0, err
	}

	w := mp4.NewWriter(out)
	w.TryWriteUint32(mdatHeaderSize + mdatSize)
	w.TryWrite([]byte("mdat"))
	if w.TryError != nil {
		return nil, 0, w.TryError
	}
	return out.buf, mdatSize, nil
}

type appendWriter struct{ buf []byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
