// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package chunk implements the shared shape of the append-only chunked
// stores.
//
// A chunk is a pair of files `<id>.data` and `<id>.payload` where the id
// is the first five digits of the bucket's start timestamp divided by the
// bucket width. The data file starts with a 27-byte magic literal and one
// API version byte, followed by a tightly packed array of fixed-width
// records. Each record begins with a big-endian timestamp and embeds a
// 32-bit offset and 16-bit length into the payload file. Payload records
// are newline-terminated UTF-8.
package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IDLength is the number of digits in a chunk identifier.
const IDLength = 5

// FileMode for chunk files.
const FileMode = 0o644

// Errors shared by the chunked stores.
var (
	ErrMagicMismatch  = errors.New("mismatched magic bytes")
	ErrUnknownVersion = errors.New("unknown chunk api version")
	ErrInvalidTime    = errors.New("invalid time")
	ErrPayloadTooBig  = errors.New("payload too big")
	ErrShortRead      = errors.New("short read")
)

// Store describes the fixed layout of one chunked store.
type Store struct {
	// Magic is the 27-byte literal at the start of every data file.
	Magic []byte

	// Version is the API version byte following the magic.
	Version byte

	// RecordSize is the fixed record width in bytes.
	RecordSize int

	// PayloadOffsetPos is the byte position within a record where the
	// 32-bit payload offset followed by the 16-bit payload size live.
	PayloadOffsetPos int

	// BucketWidth is the time interval mapped to one chunk id, in the
	// store's own time unit.
	BucketWidth int64
}

// HeaderLen returns the data file header length.
func (s *Store) HeaderLen() int64 {
	return int64(len(s.Magic)) + 1
}

// TimeToID returns the chunk id for a timestamp: the first five digits of
// time divided by the bucket width, zero padded.
func (s *Store) TimeToID(time int64) (string, error) {
	if time < 0 {
		return "", ErrInvalidTime
	}
	shifted := time / s.BucketWidth
	padded := fmt.Sprintf("%0*d", IDLength, shifted)
	if len(padded) > IDLength {
		return "", ErrInvalidTime
	}
	return padded, nil
}

// IDToPaths returns the data and payload file paths of a chunk.
func IDToPaths(dir, chunkID string) (string, string) {
	return filepath.Join(dir, chunkID+".data"),
		filepath.Join(dir, chunkID+".payload")
}

// ListChunks returns the sorted chunk ids in a directory.
func ListChunks(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var chunks []string
	for _, file := range files {
		name := file.Name()
		if len(name) < IDLength+5 || !strings.HasSuffix(name, ".data") {
			continue
		}
		chunks = append(chunks, name[:IDLength])
	}
	sort.Strings(chunks)
	return chunks, nil
}

// WriteHeader writes the magic and version.
func (s *Store) WriteHeader(w io.Writer) error {
	if _, err := w.Write(s.Magic); err != nil {
		return err
	}
	_, err := w.Write([]byte{s.Version})
	return err
}

// ReadHeader reads and validates the magic and version.
func (s *Store) ReadHeader(r io.Reader) error {
	header := make([]byte, s.HeaderLen())
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if !bytes.Equal(header[:len(s.Magic)], s.Magic) {
		return ErrMagicMismatch
	}
	if header[len(s.Magic)] != s.Version {
		return ErrUnknownVersion
	}
	return nil
}

// NEntries computes the number of records from the data file size.
func (s *Store) NEntries(fileSize int64) int {
	size := fileSize - s.HeaderLen()
	if size < 0 {
		return 0
	}
	return int(size / int64(s.RecordSize))
}

// DataEnd returns the file offset just past the last whole record.
func (s *Store) DataEnd(fileSize int64) int64 {
	return s.HeaderLen() + int64(s.NEntries(fileSize))*int64(s.RecordSize)
}

// RecordTime extracts the big-endian timestamp at the start of a record.
func RecordTime(record []byte) int64 {
	return int64(binary.BigEndian.Uint64(record[:8]))
}

// PayloadRef extracts the payload offset and size of a record.
func (s *Store) PayloadRef(record []byte) (uint32, uint16) {
	p := s.PayloadOffsetPos
	return binary.BigEndian.Uint32(record[p : p+4]),
		binary.BigEndian.Uint16(record[p+4 : p+6])
}

// PutPayloadRef stores the payload offset and size into a record.
func (s *Store) PutPayloadRef(record []byte, offset uint32, size uint16) {
	p := s.PayloadOffsetPos
	binary.BigEndian.PutUint32(record[p:p+4], offset)
	binary.BigEndian.PutUint16(record[p+4:p+6], size)
}
