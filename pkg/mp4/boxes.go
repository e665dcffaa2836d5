// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mp4

// Box type tags for every concrete box in this package.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMvhd = BoxType{'m', 'v', 'h', 'd'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeTkhd = BoxType{'t', 'k', 'h', 'd'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'}
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeVmhd = BoxType{'v', 'm', 'h', 'd'}
	TypeDinf = BoxType{'d', 'i', 'n', 'f'}
	TypeDref = BoxType{'d', 'r', 'e', 'f'}
	TypeURL  = BoxType{'u', 'r', 'l', ' '}
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeStsd = BoxType{'s', 't', 's', 'd'}
	TypeAvc1 = BoxType{'a', 'v', 'c', '1'}
	TypeAvcC = BoxType{'a', 'v', 'c', 'C'}
	TypeBtrt = BoxType{'b', 't', 'r', 't'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeStsc = BoxType{'s', 't', 's', 'c'}
	TypeStsz = BoxType{'s', 't', 's', 'z'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeStss = BoxType{'s', 't', 's', 's'}
	TypeCtts = BoxType{'c', 't', 't', 's'}
	TypeEdts = BoxType{'e', 'd', 't', 's'}
	TypeElst = BoxType{'e', 'l', 's', 't'}
	TypeMvex = BoxType{'m', 'v', 'e', 'x'}
	TypeTrex = BoxType{'t', 'r', 'e', 'x'}
	TypeMoof = BoxType{'m', 'o', 'o', 'f'}
	TypeMfhd = BoxType{'m', 'f', 'h', 'd'}
	TypeTraf = BoxType{'t', 'r', 'a', 'f'}
	TypeTfhd = BoxType{'t', 'f', 'h', 'd'}
	TypeTfdt = BoxType{'t', 'f', 'd', 't'}
	TypeTrun = BoxType{'t', 'r', 'u', 'n'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeFree = BoxType{'f', 'r', 'e', 'e'}
)

// Ftyp is the file type box.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

func (*Ftyp) Type() BoxType { return TypeFtyp }

func (b *Ftyp) Size() int { return 8 + 4*len(b.CompatibleBrands) }

func (b *Ftyp) Marshal(w *Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteUint32(b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

// Moov is the movie box, a pure container.
type Moov struct{}

func (*Moov) Type() BoxType           { return TypeMoov }
func (*Moov) Size() int               { return 0 }
func (*Moov) Marshal(*Writer) error   { return nil }

// Mvhd is the movie header box, version 0.
type Mvhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	Timescale        uint32
	DurationV0       uint32
	Rate             int32
	Volume           int16
	Matrix           [9]int32
	NextTrackID      uint32
}

func (*Mvhd) Type() BoxType { return TypeMvhd }

func (*Mvhd) Size() int { return 100 }

func (b *Mvhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.CreationTime)
	w.TryWriteUint32(b.ModificationTime)
	w.TryWriteUint32(b.Timescale)
	w.TryWriteUint32(b.DurationV0)
	w.TryWriteInt32(b.Rate)
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWrite(make([]byte, 10)) // Reserved.
	for _, v := range b.Matrix {
		w.TryWriteInt32(v)
	}
	w.TryWrite(make([]byte, 24)) // Pre-defined.
	w.TryWriteUint32(b.NextTrackID)
	return w.TryError
}

// Trak is the track box, a pure container.
type Trak struct{}

func (*Trak) Type() BoxType         { return TypeTrak }
func (*Trak) Size() int             { return 0 }
func (*Trak) Marshal(*Writer) error { return nil }

// Tkhd is the track header box, version 0.
type Tkhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	TrackID          uint32
	DurationV0       uint32
	Layer            int16
	AlternateGroup   int16
	Volume           int16
	Matrix           [9]int32

	// Width and height are 16.16 fixed point.
	Width  uint32
	Height uint32
}

func (*Tkhd) Type() BoxType { return TypeTkhd }

func (*Tkhd) Size() int { return 84 }

func (b *Tkhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.CreationTime)
	w.TryWriteUint32(b.ModificationTime)
	w.TryWriteUint32(b.TrackID)
	w.TryWrite(make([]byte, 4)) // Reserved.
	w.TryWriteUint32(b.DurationV0)
	w.TryWrite(make([]byte, 8)) // Reserved.
	w.TryWriteUint16(uint16(b.Layer))
	w.TryWriteUint16(uint16(b.AlternateGroup))
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWrite(make([]byte, 2)) // Reserved.
	for _, v := range b.Matrix {
		w.TryWriteInt32(v)
	}
	w.TryWriteUint32(b.Width)
	w.TryWriteUint32(b.Height)
	return w.TryError
}

// Mdia is the media box, a pure container.
type Mdia struct{}

func (*Mdia) Type() BoxType         { return TypeMdia }
func (*Mdia) Size() int             { return 0 }
func (*Mdia) Marshal(*Writer) error { return nil }

// Mdhd is the media header box, version 0.
type Mdhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	Timescale        uint32
	DurationV0       uint32

	// Language is an ISO-639-2/T code such as "und".
	Language [3]byte
}

func (*Mdhd) Type() BoxType { return TypeMdhd }

func (*Mdhd) Size() int { return 24 }

func (b *Mdhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.CreationTime)
	w.TryWriteUint32(b.ModificationTime)
	w.TryWriteUint32(b.Timescale)
	w.TryWriteUint32(b.DurationV0)
	// Each letter is stored as its value minus 0x60 in 5 bits.
	lang := uint16(b.Language[0]-0x60)<<10 |
		uint16(b.Language[1]-0x60)<<5 |
		uint16(b.Language[2]-0x60)
	w.TryWriteUint16(lang)
	w.TryWrite(make([]byte, 2)) // Pre-defined.
	return w.TryError
}

// Hdlr is the handler reference box.
type Hdlr struct {
	FullBox
	HandlerType BoxType
	Name        string
}

func (*Hdlr) Type() BoxType { return TypeHdlr }

func (b *Hdlr) Size() int { return 25 + len(b.Name) }

func (b *Hdlr) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWrite(make([]byte, 4)) // Pre-defined.
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12)) // Reserved.
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

// Minf is the media information box, a pure container.
type Minf struct{}

func (*Minf) Type() BoxType         { return TypeMinf }
func (*Minf) Size() int             { return 0 }
func (*Minf) Marshal(*Writer) error { return nil }

// Vmhd is the video media header box.
type Vmhd struct {
	FullBox
	GraphicsMode uint16
	OpColor      [3]uint16
}

func (*Vmhd) Type() BoxType { return TypeVmhd }

func (*Vmhd) Size() int { return 12 }

func (b *Vmhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint16(b.GraphicsMode)
	for _, v := range b.OpColor {
		w.TryWriteUint16(v)
	}
	return w.TryError
}

// Dinf is the data information box, a pure container.
type Dinf struct{}

func (*Dinf) Type() BoxType         { return TypeDinf }
func (*Dinf) Size() int             { return 0 }
func (*Dinf) Marshal(*Writer) error { return nil }

// Dref is the data reference box.
type Dref struct {
	FullBox
	EntryCount uint32
}

func (*Dref) Type() BoxType { return TypeDref }

func (*Dref) Size() int { return 8 }

func (b *Dref) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

// URLSelfContained is the url box flag meaning the media data is in the
// same file.
const URLSelfContained = 0x000001

// URL is the data entry url box.
type URL struct {
	FullBox
	Location string
}

func (*URL) Type() BoxType { return TypeURL }

func (b *URL) Size() int {
	if b.CheckFlag(URLSelfContained) {
		return 4
	}
	return 5 + len(b.Location)
}

func (b *URL) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	if !b.CheckFlag(URLSelfContained) {
		w.TryWrite([]byte(b.Location))
		w.TryWriteByte(0)
	}
	return w.TryError
}

// Stbl is the sample table box, a pure container.
type Stbl struct{}

func (*Stbl) Type() BoxType         { return TypeStbl }
func (*Stbl) Size() int             { return 0 }
func (*Stbl) Marshal(*Writer) error { return nil }

// Stsd is the sample description box.
type Stsd struct {
	FullBox
	EntryCount uint32
}

func (*Stsd) Type() BoxType { return TypeStsd }

func (*Stsd) Size() int { return 8 }

func (b *Stsd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

// SampleEntry is the shared sample entry prefix.
type SampleEntry struct {
	DataReferenceIndex uint16
}

// Avc1 is the AVC visual sample entry.
type Avc1 struct {
	SampleEntry
	Width           uint16
	Height          uint16
	HorizResolution uint32
	VertResolution  uint32
	FrameCount      uint16
	CompressorName  [32]byte
	Depth           uint16
	PreDefined3     int16
}

func (*Avc1) Type() BoxType { return TypeAvc1 }

func (*Avc1) Size() int { return 78 }

func (b *Avc1) Marshal(w *Writer) error {
	w.TryWrite(make([]byte, 6)) // Reserved.
	w.TryWriteUint16(b.DataReferenceIndex)
	w.TryWrite(make([]byte, 16)) // Pre-defined and reserved.
	w.TryWriteUint16(b.Width)
	w.TryWriteUint16(b.Height)
	w.TryWriteUint32(b.HorizResolution)
	w.TryWriteUint32(b.VertResolution)
	w.TryWrite(make([]byte, 4)) // Reserved.
	w.TryWriteUint16(b.FrameCount)
	w.TryWrite(b.CompressorName[:])
	w.TryWriteUint16(b.Depth)
	w.TryWriteUint16(uint16(b.PreDefined3))
	return w.TryError
}

// AvcC carries the raw decoder configuration record.
type AvcC struct {
	ExtraData []byte
}

func (*AvcC) Type() BoxType { return TypeAvcC }

func (b *AvcC) Size() int { return len(b.ExtraData) }

func (b *AvcC) Marshal(w *Writer) error {
	w.TryWrite(b.ExtraData)
	return w.TryError
}

// Btrt is the bitrate box.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

func (*Btrt) Type() BoxType { return TypeBtrt }

func (*Btrt) Size() int { return 12 }

func (b *Btrt) Marshal(w *Writer) error {
	w.TryWriteUint32(b.BufferSizeDB)
	w.TryWriteUint32(b.MaxBitrate)
	w.TryWriteUint32(b.AvgBitrate)
	return w.TryError
}

// SttsEntry is a decoding time to sample entry.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is the decoding time to sample box.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

func (*Stts) Type() BoxType { return TypeStts }

func (b *Stts) Size() int { return 8 + 8*len(b.Entries) }

func (b *Stts) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.SampleCount)
		w.TryWriteUint32(e.SampleDelta)
	}
	return w.TryError
}

// StscEntry is a sample to chunk entry.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is the sample to chunk box.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

func (*Stsc) Type() BoxType { return TypeStsc }

func (b *Stsc) Size() int { return 8 + 12*len(b.Entries) }

func (b *Stsc) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.FirstChunk)
		w.TryWriteUint32(e.SamplesPerChunk)
		w.TryWriteUint32(e.SampleDescriptionIndex)
	}
	return w.TryError
}

// Stsz is the sample size box.
type Stsz struct {
	FullBox
	SampleSize uint32
	EntrySizes []uint32
}

func (*Stsz) Type() BoxType { return TypeStsz }

func (b *Stsz) Size() int {
	if b.SampleSize != 0 {
		return 12
	}
	return 12 + 4*len(b.EntrySizes)
}

func (b *Stsz) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.SampleSize)
	w.TryWriteUint32(uint32(len(b.EntrySizes)))
	if b.SampleSize == 0 {
		for _, size := range b.EntrySizes {
			w.TryWriteUint32(size)
		}
	}
	return w.TryError
}

// Stco is the chunk offset box.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

func (*Stco) Type() BoxType { return TypeStco }

func (b *Stco) Size() int { return 8 + 4*len(b.ChunkOffsets) }

func (b *Stco) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.ChunkOffsets)))
	for _, off := range b.ChunkOffsets {
		w.TryWriteUint32(off)
	}
	return w.TryError
}

// Stss is the sync sample box.
type Stss struct {
	FullBox
	SampleNumbers []uint32
}

func (*Stss) Type() BoxType { return TypeStss }

func (b *Stss) Size() int { return 8 + 4*len(b.SampleNumbers) }

func (b *Stss) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		w.TryWriteUint32(n)
	}
	return w.TryError
}

// CttsEntry is a composition offset entry. V0 offsets are unsigned, V1
// offsets are signed; the box version selects which field is used.
type CttsEntry struct {
	SampleCount    uint32
	SampleOffsetV0 uint32
	SampleOffsetV1 int32
}

// Ctts is the composition time to sample box.
type Ctts struct {
	FullBox
	Entries []CttsEntry
}

func (*Ctts) Type() BoxType { return TypeCtts }

func (b *Ctts) Size() int { return 8 + 8*len(b.Entries) }

func (b *Ctts) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.SampleCount)
		if b.Version == 0 {
			w.TryWriteUint32(e.SampleOffsetV0)
		} else {
			w.TryWriteInt32(e.SampleOffsetV1)
		}
	}
	return w.TryError
}

// Edts is the edit box, a pure container.
type Edts struct{}

func (*Edts) Type() BoxType         { return TypeEdts }
func (*Edts) Size() int             { return 0 }
func (*Edts) Marshal(*Writer) error { return nil }

// ElstEntry is an edit list entry, version 0.
type ElstEntry struct {
	SegmentDurationV0 uint32
	MediaTimeV0       int32
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst is the edit list box, version 0.
type Elst struct {
	FullBox
	Entries []ElstEntry
}

func (*Elst) Type() BoxType { return TypeElst }

func (b *Elst) Size() int { return 8 + 12*len(b.Entries) }

func (b *Elst) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.SegmentDurationV0)
		w.TryWriteInt32(e.MediaTimeV0)
		w.TryWriteUint16(uint16(e.MediaRateInteger))
		w.TryWriteUint16(uint16(e.MediaRateFraction))
	}
	return w.TryError
}

// Mvex is the movie extends box, a pure container.
type Mvex struct{}

func (*Mvex) Type() BoxType         { return TypeMvex }
func (*Mvex) Size() int             { return 0 }
func (*Mvex) Marshal(*Writer) error { return nil }

// Trex is the track extends box.
type Trex struct {
	FullBox
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func (*Trex) Type() BoxType { return TypeTrex }

func (*Trex) Size() int { return 24 }

func (b *Trex) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.TrackID)
	w.TryWriteUint32(b.DefaultSampleDescriptionIndex)
	w.TryWriteUint32(b.DefaultSampleDuration)
	w.TryWriteUint32(b.DefaultSampleSize)
	w.TryWriteUint32(b.DefaultSampleFlags)
	return w.TryError
}

// Moof is the movie fragment box, a pure container.
type Moof struct{}

func (*Moof) Type() BoxType         { return TypeMoof }
func (*Moof) Size() int             { return 0 }
func (*Moof) Marshal(*Writer) error { return nil }

// Mfhd is the movie fragment header box.
type Mfhd struct {
	FullBox
	SequenceNumber uint32
}

func (*Mfhd) Type() BoxType { return TypeMfhd }

func (*Mfhd) Size() int { return 8 }

func (b *Mfhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.SequenceNumber)
	return w.TryError
}

// Traf is the track fragment box, a pure container.
type Traf struct{}

func (*Traf) Type() BoxType         { return TypeTraf }
func (*Traf) Size() int             { return 0 }
func (*Traf) Marshal(*Writer) error { return nil }

// Tfhd flags.
const (
	TfhdBaseDataOffsetPresent         = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent  = 0x000008
	TfhdDefaultSampleSizePresent      = 0x000010
	TfhdDefaultSampleFlagsPresent     = 0x000020
	TfhdDefaultBaseIsMoof             = 0x020000
)

// Tfhd is the track fragment header box.
type Tfhd struct {
	FullBox
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func (*Tfhd) Type() BoxType { return TypeTfhd }

func (b *Tfhd) Size() int {
	total := 8
	if b.CheckFlag(TfhdBaseDataOffsetPresent) {
		total += 8
	}
	if b.CheckFlag(TfhdSampleDescriptionIndexPresent) {
		total += 4
	}
	if b.CheckFlag(TfhdDefaultSampleDurationPresent) {
		total += 4
	}
	if b.CheckFlag(TfhdDefaultSampleSizePresent) {
		total += 4
	}
	if b.CheckFlag(TfhdDefaultSampleFlagsPresent) {
		total += 4
	}
	return total
}

func (b *Tfhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(b.TrackID)
	if b.CheckFlag(TfhdBaseDataOffsetPresent) {
		w.TryWriteUint64(b.BaseDataOffset)
	}
	if b.CheckFlag(TfhdSampleDescriptionIndexPresent) {
		w.TryWriteUint32(b.SampleDescriptionIndex)
	}
	if b.CheckFlag(TfhdDefaultSampleDurationPresent) {
		w.TryWriteUint32(b.DefaultSampleDuration)
	}
	if b.CheckFlag(TfhdDefaultSampleSizePresent) {
		w.TryWriteUint32(b.DefaultSampleSize)
	}
	if b.CheckFlag(TfhdDefaultSampleFlagsPresent) {
		w.TryWriteUint32(b.DefaultSampleFlags)
	}
	return w.TryError
}

// Tfdt is the track fragment decode time box. Version 1 stores the time
// in 64 bits.
type Tfdt struct {
	FullBox
	BaseMediaDecodeTimeV0 uint32
	BaseMediaDecodeTimeV1 uint64
}

func (*Tfdt) Type() BoxType { return TypeTfdt }

func (b *Tfdt) Size() int {
	if b.Version == 1 {
		return 12
	}
	return 8
}

func (b *Tfdt) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	if b.Version == 1 {
		w.TryWriteUint64(b.BaseMediaDecodeTimeV1)
	} else {
		w.TryWriteUint32(b.BaseMediaDecodeTimeV0)
	}
	return w.TryError
}

// Trun flags.
const (
	TrunDataOffsetPresent                  = 0x000001
	TrunFirstSampleFlagsPresent            = 0x000004
	TrunSampleDurationPresent              = 0x000100
	TrunSampleSizePresent                  = 0x000200
	TrunSampleFlagsPresent                 = 0x000400
	TrunSampleCompositionTimeOffsetPresent = 0x000800
)

// TrunEntry is one sample in a track run. V0 composition offsets are
// unsigned, V1 offsets are signed; the box version selects which field
// is used.
type TrunEntry struct {
	SampleDuration                uint32
	SampleSize                    uint32
	SampleFlags                   uint32
	SampleCompositionTimeOffsetV0 uint32
	SampleCompositionTimeOffsetV1 int32
}

// Trun is the track fragment run box.
type Trun struct {
	FullBox
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

func (*Trun) Type() BoxType { return TypeTrun }

func (b *Trun) Size() int {
	total := 8
	if b.CheckFlag(TrunDataOffsetPresent) {
		total += 4
	}
	if b.CheckFlag(TrunFirstSampleFlagsPresent) {
		total += 4
	}
	perEntry := 0
	if b.CheckFlag(TrunSampleDurationPresent) {
		perEntry += 4
	}
	if b.CheckFlag(TrunSampleSizePresent) {
		perEntry += 4
	}
	if b.CheckFlag(TrunSampleFlagsPresent) {
		perEntry += 4
	}
	if b.CheckFlag(TrunSampleCompositionTimeOffsetPresent) {
		perEntry += 4
	}
	return total + perEntry*len(b.Entries)
}

func (b *Trun) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	if b.CheckFlag(TrunDataOffsetPresent) {
		w.TryWriteInt32(b.DataOffset)
	}
	if b.CheckFlag(TrunFirstSampleFlagsPresent) {
		w.TryWriteUint32(b.FirstSampleFlags)
	}
	for _, e := range b.Entries {
		if b.CheckFlag(TrunSampleDurationPresent) {
			w.TryWriteUint32(e.SampleDuration)
		}
		if b.CheckFlag(TrunSampleSizePresent) {
			w.TryWriteUint32(e.SampleSize)
		}
		if b.CheckFlag(TrunSampleFlagsPresent) {
			w.TryWriteUint32(e.SampleFlags)
		}
		if b.CheckFlag(TrunSampleCompositionTimeOffsetPresent) {
			if b.Version == 0 {
				w.TryWriteUint32(e.SampleCompositionTimeOffsetV0)
			} else {
				w.TryWriteInt32(e.SampleCompositionTimeOffsetV1)
			}
		}
	}
	return w.TryError
}

// Mdat is the media data box with an in-memory payload.
type Mdat struct {
	Data []byte
}

func (*Mdat) Type() BoxType { return TypeMdat }

func (b *Mdat) Size() int { return len(b.Data) }

func (b *Mdat) Marshal(w *Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

// Free is the free space box.
type Free struct{}

func (*Free) Type() BoxType         { return TypeFree }
func (*Free) Size() int             { return 0 }
func (*Free) Marshal(*Writer) error { return nil }
