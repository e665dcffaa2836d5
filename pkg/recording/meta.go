// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// Meta file layout.
//
//	header {
//	    apiVersion  u8
//	    startTime   i64    // UnixH264.
//	    width       u16
//	    height      u16
//	    extraSize   u16
//	    extraData   [extraSize]u8
//	}
//	sample { // 25 bytes.
//	    pts         i64    // UnixH264.
//	    dtsOffset   i32
//	    duration    i32
//	    flags       u8     // Bit 0: random access present.
//	    dataOffset  u32    // Into the mdat file.
//	    dataSize    u32
//	}
//
// All fields are big-endian.

const (
	metaAPIVersion   = 0
	metaFixedHeader  = 15
	sampleRecordSize = 25
)

// MetaHeader is the fixed head of a meta file.
type MetaHeader struct {
	StartTime video.UnixH264
	Width     uint16
	Height    uint16
	ExtraData []byte
}

// Params returns the track parameters stored in the header.
func (h *MetaHeader) Params() video.TrackParameters {
	return video.TrackParameters{
		Width:     h.Width,
		Height:    h.Height,
		ExtraData: h.ExtraData,
	}
}

// Sample is one meta record: a video sample plus its byte range in the
// mdat file.
type Sample struct {
	video.Sample
	DataOffset uint32
	DataSize   uint32
}

// Errors.
var (
	ErrMetaVersion = errors.New("unknown meta api version")
	ErrMetaCorrupt = errors.New("meta file corrupt")
)

// VideoWriter writes a recording's meta and mdat files in step.
type VideoWriter struct {
	meta io.Writer
	mdat io.Writer

	// mdatPos is the running data offset.
	mdatPos uint32
}

// NewVideoWriter writes the meta header and returns a writer.
func NewVideoWriter(meta, mdat io.Writer, header MetaHeader) (*VideoWriter, error) {
	buf := make([]byte, metaFixedHeader, metaFixedHeader+len(header.ExtraData))
	buf[0] = metaAPIVersion
	binary.BigEndian.PutUint64(buf[1:9], uint64(header.StartTime))
	binary.BigEndian.PutUint16(buf[9:11], header.Width)
	binary.BigEndian.PutUint16(buf[11:13], header.Height)
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(header.ExtraData)))
	buf = append(buf, header.ExtraData...)
	if _, err := meta.Write(buf); err != nil {
		return nil, fmt.Errorf("write meta header: %w", err)
	}
	return &VideoWriter{meta: meta, mdat: mdat}, nil
}

// WriteSample appends the sample's AVCC bytes to the mdat file and its
// record to the meta file.
func (w *VideoWriter) WriteSample(sample *video.Sample) error {
	if _, err := w.mdat.Write(sample.AVCC); err != nil {
		return fmt.Errorf("write mdat: %w", err)
	}

	var flags byte
	if sample.RandomAccessPresent {
		flags |= 1
	}
	var buf [sampleRecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(sample.PTS))
	binary.BigEndian.PutUint32(buf[8:12], uint32(sample.DTSOffset))
	binary.BigEndian.PutUint32(buf[12:16], uint32(sample.Duration))
	buf[16] = flags
	binary.BigEndian.PutUint32(buf[17:21], w.mdatPos)
	binary.BigEndian.PutUint32(buf[21:25], uint32(len(sample.AVCC)))
	if _, err := w.meta.Write(buf[:]); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	w.mdatPos += uint32(len(sample.AVCC))
	return nil
}

// ReadMeta parses a whole meta file of the given size.
func ReadMeta(r io.Reader, size int64) (*MetaHeader, []Sample, error) {
	var fixed [metaFixedHeader]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if fixed[0] != metaAPIVersion {
		return nil, nil, ErrMetaVersion
	}
	header := MetaHeader{
		StartTime: video.UnixH264(binary.BigEndian.Uint64(fixed[1:9])),
		Width:     binary.BigEndian.Uint16(fixed[9:11]),
		Height:    binary.BigEndian.Uint16(fixed[11:13]),
	}
	extraSize := binary.BigEndian.Uint16(fixed[13:15])
	header.ExtraData = make([]byte, extraSize)
	if _, err := io.ReadFull(r, header.ExtraData); err != nil {
		return nil, nil, fmt.Errorf("read extra data: %w", err)
	}

	headerSize := int64(metaFixedHeader) + int64(extraSize)
	if (size-headerSize)%sampleRecordSize != 0 {
		return nil, nil, ErrMetaCorrupt
	}
	n := (size - headerSize) / sampleRecordSize

	samples := make([]Sample, 0, n)
	var buf [sampleRecordSize]byte
	for i := int64(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, nil, fmt.Errorf("read sample %d: %w", i, err)
		}
		samples = append(samples, Sample{
			Sample: video.Sample{
				PTS:                 video.UnixH264(binary.BigEndian.Uint64(buf[0:8])),
				DTSOffset:           video.DtsOffset(binary.BigEndian.Uint32(buf[8:12])),
				Duration:            video.DurationH264(int32(binary.BigEndian.Uint32(buf[12:16]))),
				RandomAccessPresent: buf[16]&1 != 0,
			},
			DataOffset: binary.BigEndian.Uint32(buf[17:21]),
			DataSize:   binary.BigEndian.Uint32(buf[21:25]),
		})
	}
	return &header, samples, nil
}

// Data is the JSON side-car of a finalized recording.
type Data struct {
	Start  video.UnixNano  `json:"start"`
	End    video.UnixNano  `json:"end"`
	Events []eventdb.Event `json:"events"`
}
