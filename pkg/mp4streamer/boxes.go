// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4streamer

import (
	"fmt"

	"github.com/SentryShot/sentryshot/pkg/mp4"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// videoTrackID uniquely identifies the video track over the entire
// lifetime of the presentation. Track ids cannot be zero.
const videoTrackID = 1

var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// generateInit renders the first bytes of the stream: the decoding
// parameters.
//
//	ftyp
//	moov
//	- mvhd
//	- trak (video)
//	- mvex
//	  - trex (video)
func generateInit(params video.TrackParameters) ([]byte, error) {
	ftyp := mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:   mp4.BoxType{'m', 'p', '4', '2'},
		MinorVersion: 1,
		CompatibleBrands: []mp4.BoxType{
			{'m', 'p', '4', '1'},
			{'m', 'p', '4', '2'},
			{'i', 's', 'o', 'm'},
			{'h', 'l', 's', 'f'},
		},
	}}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   1000,
				Rate:        65536,
				Volume:      256,
				Matrix:      unityMatrix,
				NextTrackID: videoTrackID + 1,
			}},
			generateTrak(params),
			{
				Box: &mp4.Mvex{},
				Children: []mp4.Boxes{
					{Box: &mp4.Trex{
						TrackID:                       videoTrackID,
						DefaultSampleDescriptionIndex: 1,
					}},
				},
			},
		},
	}

	buf, err := ftyp.Bytes()
	if err != nil {
		return nil, err
	}
	moovBuf, err := moov.Bytes()
	if err != nil {
		return nil, err
	}
	return append(buf, moovBuf...), nil
}

func generateTrak(params video.TrackParameters) mp4.Boxes {
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
							{Box: &mp4.Btrt{
								MaxBitrate: 1000000,
								AvgBitrate: 1000000,
							}},
						},
					},
				},
			},
			{Box: &mp4.Stts{}},
			{Box: &mp4.Stsc{}},
			{Box: &mp4.Stsz{}},
			{Box: &mp4.Stco{}},
		},
	}

	minf := mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: &mp4.Vmhd{
				FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
			}},
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
	}

	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 3}},
				TrackID: videoTrackID,
				Width:   uint32(params.Width) * 65536,
				Height:  uint32(params.Height) * 65536,
				Matrix:  unityMatrix,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						Timescale: video.H264Timescale,
						Language:  [3]byte{'u', 'n', 'd'},
					}},
					{Box: &mp4.Hdlr{
						HandlerType: mp4.BoxType{'v', 'i', 'd', 'e'},
						Name:        "VideoHandler",
					}},
					minf,
				},
			},
		},
	}
}

// generateMoofAndEmptyMdat renders a frame's fragment with the mdat
// payload left out. The caller appends the AVCC bytes, and the total
// length doubles as the muxed-size probe.
//
//	moof
//	- mfhd
//	- traf (video)
//	  - tfhd
//	  - tfdt
//	  - trun
//	mdat (empty)
func generateMoofAndEmptyMdat(
	muxerStartTime video.UnixH264,
	sample *video.Sample,
) ([]byte, error) {
	// moof(8) + mfhd(16) + traf(8) + tfhd(16) + tfdt(20) + trun(36)
	const mdatOffset = 104

	relativeDTS := sample.DTS().Sub(muxerStartTime)
	if relativeDTS < 0 {
		return nil, fmt.Errorf("negative base media decode time: %d", relativeDTS)
	}

	var flags uint32
	if !sample.RandomAccessPresent {
		flags |= 1 << 16 // sample_is_non_sync_sample
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
						BaseMediaDecodeTimeV1: uint64(relativeDTS),
					}},
					{Box: &mp4.Trun{
						FullBox: mp4.FullBox{
							Version: 1,
							Flags: mp4.U32ToFlags(
								mp4.TrunDataOffsetPresent |
									mp4.TrunSampleDurationPresent |
									mp4.TrunSampleSizePresent |
									mp4.TrunSampleFlagsPresent |
									mp4.TrunSampleCompositionTimeOffsetPresent),
						},
						DataOffset: mdatOffset + 8,
						Entries: []mp4.TrunEntry{{
							SampleDuration:                uint32(sample.Duration),
							SampleSize:                    uint32(len(sample.AVCC)),
							SampleFlags:                   flags,
							SampleCompositionTimeOffsetV1: int32(sample.DTSOffset),
						}},
					}},
				},
			},
		},
	}

	buf, err := moof.Bytes()
	if err != nil {
		return nil, err
	}

	// Empty mdat header; the payload follows separately.
	mdatHeader := [8]byte{}
	mdatSize := uint32(8 + len(sample.AVCC))
	mdatHeader[0] = byte(mdatSize >> 24)
	mdatHeader[1] = byte(mdatSize >> 16)
	mdatHeader[2] = byte(mdatSize >> 8)
	mdatHeader[3] = byte(mdatSize)
	copy(mdatHeader[4:], "mdat")
	return append(buf, mdatHeader[:]...), nil
}
