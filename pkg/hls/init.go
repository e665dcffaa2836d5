// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"github.com/SentryShot/sentryshot/pkg/mp4"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// videoTrackID uniquely identifies the video track over the entire
// lifetime of the presentation. Track ids cannot be zero.
const videoTrackID = 1

var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// generateInit renders the initialization segment.
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

	buf := make([]byte, 0, ftyp.Size()+moov.Size())
	out := &appendWriter{buf: buf}
	if err := ftyp.MarshalTo(out); err != nil {
		return nil, err
	}
	if err := moov.MarshalTo(out); err != nil {
		return nil, err
	}
	return out.buf, nil
}

type appendWriter struct{ buf []byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// generateTrak renders the video track of the initialization segment.
//
//	trak
//	- tkhd
//	- mdia
//	  - mdhd
//	  - hdlr
//	  - minf
//	    - vmhd
//	    - dinf
//	      - dref
//	        - url
//	    - stbl
//	      - stsd
//	        - avc1
//	          - avcC
//	          - btrt
//	      - stts
//	      - stsc
//	      - stsz
//	      - stco
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
