// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalSingle(t *testing.T, box Box) []byte {
	t.Helper()
	b := Boxes{Box: box}
	buf, err := b.Bytes()
	require.NoError(t, err)
	return buf
}

func TestMarshaledSizeMatchesSize(t *testing.T) {
	cases := []struct {
		name string
		box  Box
	}{
		{"ftyp", &Ftyp{MajorBrand: TypeFree, CompatibleBrands: []BoxType{TypeFree, TypeMoov}}},
		{"moov", &Moov{}},
		{"mvhd", &Mvhd{Timescale: 1000, NextTrackID: 2}},
		{"trak", &Trak{}},
		{"tkhd", &Tkhd{TrackID: 1, Width: 640 << 16, Height: 480 << 16}},
		{"mdia", &Mdia{}},
		{"mdhd", &Mdhd{Timescale: 90000, Language: [3]byte{'u', 'n', 'd'}}},
		{"hdlr", &Hdlr{HandlerType: BoxType{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}},
		{"minf", &Minf{}},
		{"vmhd", &Vmhd{}},
		{"dinf", &Dinf{}},
		{"dref", &Dref{EntryCount: 1}},
		{"url", &URL{FullBox: FullBox{Flags: [3]byte{0, 0, 1}}}},
		{"url external", &URL{Location: "x"}},
		{"stbl", &Stbl{}},
		{"stsd", &Stsd{EntryCount: 1}},
		{"avc1", &Avc1{Width: 640, Height: 480}},
		{"avcC", &AvcC{ExtraData: []byte{1, 2, 3}}},
		{"btrt", &Btrt{MaxBitrate: 1}},
		{"stts", &Stts{Entries: []SttsEntry{{1, 2}, {3, 4}}}},
		{"stsc", &Stsc{Entries: []StscEntry{{1, 2, 1}}}},
		{"stsz", &Stsz{EntrySizes: []uint32{1, 2, 3}}},
		{"stsz fixed", &Stsz{SampleSize: 100}},
		{"stco", &Stco{ChunkOffsets: []uint32{40}}},
		{"stss", &Stss{SampleNumbers: []uint32{1}}},
		{"ctts v0", &Ctts{Entries: []CttsEntry{{SampleCount: 1}}}},
		{"ctts v1", &Ctts{FullBox: FullBox{Version: 1}, Entries: []CttsEntry{{SampleCount: 1, SampleOffsetV1: -2}}}},
		{"edts", &Edts{}},
		{"elst", &Elst{Entries: []ElstEntry{{MediaRateInteger: 1}}}},
		{"mvex", &Mvex{}},
		{"trex", &Trex{TrackID: 1}},
		{"moof", &Moof{}},
		{"mfhd", &Mfhd{SequenceNumber: 7}},
		{"traf", &Traf{}},
		{"tfhd", &Tfhd{FullBox: FullBox{Flags: U32ToFlags(TfhdDefaultBaseIsMoof)}, TrackID: 1}},
		{"tfhd defaults", &Tfhd{
			FullBox: FullBox{Flags: U32ToFlags(
				TfhdDefaultSampleDurationPresent | TfhdDefaultSampleSizePresent)},
			TrackID: 1, DefaultSampleDuration: 2, DefaultSampleSize: 3,
		}},
		{"tfdt v0", &Tfdt{BaseMediaDecodeTimeV0: 1}},
		{"tfdt v1", &Tfdt{FullBox: FullBox{Version: 1}, BaseMediaDecodeTimeV1: 1}},
		{"trun v1", &Trun{
			FullBox: FullBox{Version: 1, Flags: U32ToFlags(
				TrunDataOffsetPresent | TrunSampleDurationPresent |
					TrunSampleSizePresent | TrunSampleFlagsPresent |
					TrunSampleCompositionTimeOffsetPresent)},
			DataOffset: 112,
			Entries:    []TrunEntry{{SampleDuration: 1, SampleSize: 2, SampleCompositionTimeOffsetV1: -3}},
		}},
		{"trun first sample flags", &Trun{
			FullBox:          FullBox{Flags: U32ToFlags(TrunFirstSampleFlagsPresent)},
			FirstSampleFlags: 1 << 16,
			Entries:          []TrunEntry{{}, {}},
		}},
		{"mdat", &Mdat{Data: []byte{1, 2, 3, 4}}},
		{"free", &Free{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := marshalSingle(t, tc.box)
			assert.Equal(t, 8+tc.box.Size(), len(buf))
		})
	}
}

func TestEmptyBoxIsHeaderOnly(t *testing.T) {
	buf := marshalSingle(t, &Moov{})
	require.Equal(t, []byte{0, 0, 0, 8, 'm', 'o', 'o', 'v'}, buf)
}

func TestTreeMarshalIsDepthFirst(t *testing.T) {
	tree := Boxes{
		Box: &Moov{},
		Children: []Boxes{
			{Box: &Mvex{}, Children: []Boxes{{Box: &Trex{TrackID: 1}}}},
			{Box: &Free{}},
		},
	}
	buf, err := tree.Bytes()
	require.NoError(t, err)
	require.Equal(t, tree.Size(), len(buf))

	// moov size covers everything.
	assert.Equal(t, []byte{0, 0, 0, byte(len(buf))}, buf[:4])
	assert.Equal(t, "moov", string(buf[4:8]))
	// mvex with trex child.
	assert.Equal(t, []byte{0, 0, 0, 40, 'm', 'v', 'e', 'x'}, buf[8:16])
	assert.Equal(t, "trex", string(buf[20:24]))
	// free is last.
	assert.Equal(t, "free", string(buf[len(buf)-4:]))
}

func TestTrunEntrySizeFollowsFlags(t *testing.T) {
	trun := &Trun{
		FullBox: FullBox{Flags: U32ToFlags(TrunSampleSizePresent)},
		Entries: []TrunEntry{{SampleSize: 9}, {SampleSize: 8}},
	}
	require.Equal(t, 8+2*4, trun.Size())
	buf := marshalSingle(t, trun)
	require.Equal(t, []byte{0, 0, 0, 2}, buf[12:16]) // Sample count.
	require.Equal(t, []byte{0, 0, 0, 9, 0, 0, 0, 8}, buf[16:24])
}

func TestWriterStickyError(t *testing.T) {
	w := NewWriter(failWriter{})
	w.TryWriteUint32(1)
	require.Error(t, w.TryError)
	first := w.TryError
	w.TryWriteUint32(2)
	require.Same(t, first, w.TryError)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, bytes.ErrTooLarge
}
