// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Encoder appends records and payloads to one chunk. Writes are batched;
// the payload buffer is always flushed before the data buffer so a crash
// can only leave a dangling payload tail, which readers tolerate because
// the data file is authoritative.
type Encoder struct {
	store *Store

	// ChunkID identifies the chunk this encoder is tied to.
	ChunkID string

	dataFile    *os.File
	payloadFile *os.File
	payloadPos  uint32

	bufCapacity int
	bufCount    int
	dataBuf     []byte
	payloadBuf  []byte
}

// ValidatePayloadFunc reports whether a recovered payload is intact.
type ValidatePayloadFunc func([]byte) error

// NewEncoder opens or creates the chunk for appending and returns the
// timestamp of the last intact record.
//
// If the data file is empty the header is written and the payload
// position starts at zero. Otherwise records are scanned from the last
// one backwards, skipping zeroed timestamps; the first intact record
// determines the previous entry time and the payload write position, and
// the data write head is positioned just past the last whole record.
func NewEncoder(
	store *Store,
	dir string,
	chunkID string,
	bufCapacity int,
	validate ValidatePayloadFunc,
) (*Encoder, int64, error) {
	dataPath, payloadPath := IDToPaths(dir, chunkID)

	dataEnd := store.HeaderLen()
	var prevEntryTime int64
	var payloadPos uint32

	dataFileSize := fileSize(dataPath)
	if dataFileSize == 0 {
		dataFile, err := os.OpenFile(dataPath,
			os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FileMode)
		if err != nil {
			return nil, 0, fmt.Errorf("open file: %w", err)
		}
		if err := store.WriteHeader(dataFile); err != nil {
			dataFile.Close()
			return nil, 0, fmt.Errorf("write header: %w", err)
		}
		if err := dataFile.Close(); err != nil {
			return nil, 0, fmt.Errorf("close: %w", err)
		}
	} else {
		var err error
		dataEnd, prevEntryTime, payloadPos, err =
			recoverChunk(store, dir, chunkID, dataFileSize, validate)
		if err != nil {
			return nil, 0, err
		}
	}

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("open data file: %w", err)
	}
	if _, err := dataFile.Seek(dataEnd, io.SeekStart); err != nil {
		dataFile.Close()
		return nil, 0, fmt.Errorf("seek to data end: %w", err)
	}

	payloadFile, err := os.OpenFile(payloadPath,
		os.O_CREATE|os.O_WRONLY, FileMode)
	if err != nil {
		dataFile.Close()
		return nil, 0, fmt.Errorf("open payload file: %w", err)
	}
	if _, err := payloadFile.Seek(int64(payloadPos), io.SeekStart); err != nil {
		dataFile.Close()
		payloadFile.Close()
		return nil, 0, fmt.Errorf("seek to payload end: %w", err)
	}

	return &Encoder{
		store:       store,
		ChunkID:     chunkID,
		dataFile:    dataFile,
		payloadFile: payloadFile,
		payloadPos:  payloadPos,
		bufCapacity: bufCapacity,
		dataBuf:     make([]byte, 0, store.RecordSize*bufCapacity),
	}, prevEntryTime, nil
}

// recoverChunk finds the first intact record from the end.
func recoverChunk(
	store *Store,
	dir string,
	chunkID string,
	dataFileSize int64,
	validate ValidatePayloadFunc,
) (int64, int64, uint32, error) {
	decoder, err := NewDecoder(store, dir, chunkID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("new chunk decoder: %w", err)
	}
	defer decoder.Close()

	var prevEntryTime int64
	dataEnd := store.HeaderLen()
	var payloadPos uint32

	buf := make([]byte, store.RecordSize)
	for i := decoder.NEntries - 1; i >= 0; i-- {
		if err := decoder.ReadRecord(i, buf); err != nil {
			return 0, 0, 0, fmt.Errorf("decode in chunk %v: %w", chunkID, err)
		}
		if RecordTime(buf) == 0 {
			continue
		}
		prevEntryTime = RecordTime(buf)
		offset, size := store.PayloadRef(buf)
		if validate != nil {
			payload, err := decoder.ReadPayload(offset, size)
			if err == nil {
				err = validate(payload)
			}
			if err != nil {
				slog.Warn("chunk recovery: read entry",
					"chunk", chunkID, "error", err.Error())
				continue
			}
		}
		dataEnd = store.DataEnd(dataFileSize)
		payloadPos = offset + uint32(size) + 1
		break
	}
	return dataEnd, prevEntryTime, payloadPos, nil
}

// Append writes one record. The record must be RecordSize bytes with its
// payload reference unset; the encoder fills it in.
func (e *Encoder) Append(record, payload []byte) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("%w: %d", ErrPayloadTooBig, len(payload))
	}
	e.store.PutPayloadRef(record, e.payloadPos, uint16(len(payload)))

	e.payloadBuf = append(e.payloadBuf, payload...)
	e.payloadBuf = append(e.payloadBuf, '\n')
	e.dataBuf = append(e.dataBuf, record...)
	e.payloadPos += uint32(len(payload) + 1)

	e.bufCount++
	if e.bufCount >= e.bufCapacity {
		return e.Flush()
	}
	return nil
}

// Flush writes the buffered payload bytes and then the buffered records.
// The encoder must be discarded if this fails.
func (e *Encoder) Flush() error {
	if e.bufCount == 0 {
		return nil
	}
	e.bufCount = 0

	if _, err := e.payloadFile.Write(e.payloadBuf); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := e.payloadFile.Sync(); err != nil {
		return fmt.Errorf("sync payload: %w", err)
	}
	if _, err := e.dataFile.Write(e.dataBuf); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := e.dataFile.Sync(); err != nil {
		return fmt.Errorf("sync data: %w", err)
	}

	e.payloadBuf = e.payloadBuf[:0]
	e.dataBuf = e.dataBuf[:0]
	return nil
}

// Close flushes and closes the chunk files.
func (e *Encoder) Close() error {
	flushErr := e.Flush()
	err := e.dataFile.Close()
	if err2 := e.payloadFile.Close(); err == nil {
		err = err2
	}
	if flushErr != nil {
		return flushErr
	}
	return err
}

// PutRecordTime stores a big-endian timestamp at the start of a record.
func PutRecordTime(record []byte, time int64) {
	binary.BigEndian.PutUint64(record[:8], uint64(time))
}

func fileSize(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return stat.Size()
}
