// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/SentryShot/sentryshot/pkg/revbuf"
)

const decoderBufferSize = 32 * 1024

// Decoder reads records and payloads from one chunk.
type Decoder struct {
	store *Store

	// NEntries is the record count computed from the data file size.
	NEntries int

	data    *revbuf.Reader
	payload *revbuf.Reader

	dataClose    io.Closer
	payloadClose io.Closer
}

// NewDecoder opens the chunk with the given id for reading.
func NewDecoder(store *Store, dir, chunkID string) (*Decoder, error) {
	dataPath, payloadPath := IDToPaths(dir, chunkID)

	dataFile, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	if err := store.ReadHeader(dataFile); err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	stat, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("data file metadata: %w", err)
	}

	payloadFile, err := os.Open(payloadPath)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("open payload file: %v: %w", payloadPath, err)
	}

	return &Decoder{
		store:        store,
		NEntries:     store.NEntries(stat.Size()),
		data:         revbuf.NewReaderCapacity(decoderBufferSize, dataFile),
		payload:      revbuf.NewReaderCapacity(decoderBufferSize, payloadFile),
		dataClose:    dataFile,
		payloadClose: payloadFile,
	}, nil
}

// Close closes the underlying files.
func (d *Decoder) Close() error {
	err := d.dataClose.Close()
	if err2 := d.payloadClose.Close(); err == nil {
		err = err2
	}
	return err
}

// ReadRecord reads record index into a caller supplied buffer of
// RecordSize bytes.
func (d *Decoder) ReadRecord(index int, buf []byte) error {
	pos := d.store.HeaderLen() + int64(index)*int64(d.store.RecordSize)
	if _, err := d.data.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if _, err := io.ReadFull(d.data, buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// ReadPayload resolves a payload reference with one seek and read.
func (d *Decoder) ReadPayload(offset uint32, size uint16) ([]byte, error) {
	if _, err := d.payload.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.payload, buf); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return buf, nil
}

// Search binary-searches for the first record with a timestamp greater
// than or equal to time. A zeroed timestamp marks a damaged record; it is
// treated as younger than everything to its left but older than
// everything to its right, so stale tails cannot trap the cursor.
func (d *Decoder) Search(time int64) (int, error) {
	if d.NEntries == 0 {
		return 0, nil
	}
	buf := make([]byte, d.store.RecordSize)
	l, r := 0, d.NEntries-1
	for l <= r {
		i := (l + r) / 2
		if err := d.ReadRecord(i, buf); err != nil {
			return 0, err
		}
		entryTime := RecordTime(buf)
		if entryTime == 0 {
			if r == 0 {
				break
			}
			r--
			continue
		}
		switch {
		case entryTime < time:
			l = i + 1
		case entryTime == time:
			return i, nil
		default:
			if i == 0 {
				return 0, nil
			}
			r = i - 1
		}
	}
	return l, nil
}
