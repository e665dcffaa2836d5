// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package mp4 is a strictly typed ISO/IEC 14496-12 box writer.
//
// Each box knows its own marshaled size so the size-prefixed header can be
// emitted before the payload. A Boxes node is a box plus its ordered
// children; marshal order is depth-first.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BoxType is the 4-byte box type tag.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Box is implemented by every concrete box.
type Box interface {
	Type() BoxType

	// Size returns the marshaled payload size, excluding the 8-byte header.
	Size() int

	// Marshal writes the payload, excluding the 8-byte header.
	Marshal(w *Writer) error
}

// Boxes is a box with its ordered children.
type Boxes struct {
	Box      Box
	Children []Boxes
}

// Size returns the total marshaled size of the tree including headers.
func (b *Boxes) Size() int {
	total := 8 + b.Box.Size()
	for i := range b.Children {
		total += b.Children[i].Size()
	}
	return total
}

// Marshal writes the tree depth-first. An empty box serializes as the
// 8-byte header only.
func (b *Boxes) Marshal(w *Writer) error {
	w.TryWriteUint32(uint32(b.Size()))
	typ := b.Box.Type()
	w.TryWrite(typ[:])
	if err := b.Box.Marshal(w); err != nil {
		return fmt.Errorf("marshal %v: %w", b.Box.Type(), err)
	}
	for i := range b.Children {
		if err := b.Children[i].Marshal(w); err != nil {
			return err
		}
	}
	return w.TryError
}

// MarshalTo marshals the tree to an arbitrary writer.
func (b *Boxes) MarshalTo(out io.Writer) error {
	w := NewWriter(out)
	if err := b.Marshal(w); err != nil {
		return err
	}
	return w.TryError
}

// Bytes marshals the tree into memory.
func (b *Boxes) Bytes() ([]byte, error) {
	buf := newSliceWriter(b.Size())
	if err := b.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf.buf, nil
}

// WriteSingleBox writes one childless box and returns its total size.
func WriteSingleBox(w *Writer, box Box) (int, error) {
	b := Boxes{Box: box}
	return b.Size(), b.Marshal(w)
}

type sliceWriter struct{ buf []byte }

func newSliceWriter(capacity int) *sliceWriter {
	return &sliceWriter{buf: make([]byte, 0, capacity)}
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Writer wraps an io.Writer with sticky-error convenience helpers. The
// first error is retained and subsequent writes become no-ops.
type Writer struct {
	out      io.Writer
	TryError error
}

// NewWriter creates a Writer.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// TryWrite writes raw bytes.
func (w *Writer) TryWrite(buf []byte) {
	if w.TryError != nil {
		return
	}
	_, w.TryError = w.out.Write(buf)
}

// TryWriteByte writes a single byte.
func (w *Writer) TryWriteByte(b byte) {
	w.TryWrite([]byte{b})
}

// TryWriteUint16 writes a big-endian uint16.
func (w *Writer) TryWriteUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.TryWrite(buf[:])
}

// TryWriteUint32 writes a big-endian uint32.
func (w *Writer) TryWriteUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.TryWrite(buf[:])
}

// TryWriteUint64 writes a big-endian uint64.
func (w *Writer) TryWriteUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.TryWrite(buf[:])
}

// TryWriteInt32 writes a big-endian int32.
func (w *Writer) TryWriteInt32(v int32) {
	w.TryWriteUint32(uint32(v))
}

// FullBox is the 1-byte version plus 3-byte flag prefix shared by many
// box types.
type FullBox struct {
	Version byte
	Flags   [3]byte
}

// MarshalField writes the 4 FullBox bytes.
func (b FullBox) MarshalField(w *Writer) {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
}

// CheckFlag reports whether flag is set.
func (b FullBox) CheckFlag(flag uint32) bool {
	return b.flags()&flag != 0
}

func (b FullBox) flags() uint32 {
	return uint32(b.Flags[0])<<16 | uint32(b.Flags[1])<<8 | uint32(b.Flags[2])
}

// U32ToFlags converts a flag bitfield into FullBox form.
func U32ToFlags(v uint32) [3]byte {
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
