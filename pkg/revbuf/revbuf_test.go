// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package revbuf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// The reader must be byte-equivalent to the underlying reader for any
// seek position and read size.
func TestEquivalence(t *testing.T) {
	data := testData(1000)
	positions := []int64{0, 1, 7, 99, 500, 993, 999, 1000, 1500}
	readSizes := []int{1, 3, 16, 64, 1024}
	capacities := []int{8, 32, 64, 2048}

	for _, capacity := range capacities {
		r := NewReaderCapacity(capacity, bytes.NewReader(data))
		plain := bytes.NewReader(data)
		for _, pos := range positions {
			for _, size := range readSizes {
				_, err := r.Seek(pos, io.SeekStart)
				require.NoError(t, err)
				_, err = plain.Seek(pos, io.SeekStart)
				require.NoError(t, err)

				got := make([]byte, size)
				want := make([]byte, size)
				n, errGot := io.ReadFull(r, got)
				m, errWant := io.ReadFull(plain, want)

				require.Equal(t, m, n, "capacity=%d pos=%d size=%d", capacity, pos, size)
				require.Equal(t, want[:m], got[:n])
				if errWant == nil {
					require.NoError(t, errGot)
				} else {
					require.Error(t, errGot)
				}
			}
		}
	}
}

// A backwards traversal should fill the window with the bytes preceding
// the cursor, costing one underlying read per window.
func TestBackwardsScanBuffers(t *testing.T) {
	data := testData(256)
	inner := &countingReader{Reader: bytes.NewReader(data)}
	r := NewReaderCapacity(64, inner)

	record := make([]byte, 4)
	for pos := int64(252); pos >= 0; pos -= 4 {
		_, err := r.Seek(pos, io.SeekStart)
		require.NoError(t, err)
		_, err = io.ReadFull(r, record)
		require.NoError(t, err)
		assert.Equal(t, data[pos:pos+4], record)
	}

	// 256/64 windows plus the initial forward fill, which takes two reads
	// because it runs into the end of the data.
	assert.LessOrEqual(t, inner.reads, 6)
}

func TestBigReadBypassesBuffer(t *testing.T) {
	data := testData(300)
	r := NewReaderCapacity(16, bytes.NewReader(data))

	buf := make([]byte, 300)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, data, buf)
}

func TestSeekOnlyStart(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Seek(0, io.SeekEnd)
	require.Error(t, err)
	_, err = r.Seek(-1, io.SeekStart)
	require.Error(t, err)
}

type countingReader struct {
	*bytes.Reader
	reads int
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.reads++
	return r.Reader.Read(p)
}
