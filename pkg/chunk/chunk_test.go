// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package chunk

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStore = &Store{
	Magic:            []byte("SentryShot\x00testdb\x00\x00\x00\x89\x85\x80\x85\x00\x00v"),
	Version:          0,
	RecordSize:       14,
	PayloadOffsetPos: 8,
	BucketWidth:      100_000,
}

func TestMagicLength(t *testing.T) {
	require.Equal(t, 27, len(testStore.Magic))
	require.Equal(t, int64(28), testStore.HeaderLen())
}

func TestTimeToID(t *testing.T) {
	cases := []struct {
		time    int64
		want    string
		wantErr bool
	}{
		{0, "00000", false},
		{1, "00000", false},
		{100_000, "00001", false},
		{200_000, "00002", false},
		{99_999, "00000", false},
		{100_000*100_000 - 1, "99999", false},
		{100_000 * 100_000, "", true},
		{-1, "", true},
	}
	for _, tc := range cases {
		got, err := testStore.TimeToID(tc.time)
		if tc.wantErr {
			require.Error(t, err, "time=%d", tc.time)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, IDLength, len(got))
	}
}

func TestTimeToIDIsMonotonic(t *testing.T) {
	prev := ""
	for _, time := range []int64{0, 1, 50_000, 99_999, 100_000, 5_000_000} {
		id, err := testStore.TimeToID(time)
		require.NoError(t, err)
		require.GreaterOrEqual(t, id, prev)
		prev = id
	}
}

func writeRecord(t *testing.T, e *Encoder, time int64, payload string) {
	t.Helper()
	record := make([]byte, testStore.RecordSize)
	PutRecordTime(record, time)
	require.NoError(t, e.Append(record, []byte(payload)))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	encoder, prevTime, err := NewEncoder(testStore, dir, "00000", 2, nil)
	require.NoError(t, err)
	require.Zero(t, prevTime)

	writeRecord(t, encoder, 100, "first")
	writeRecord(t, encoder, 200, "second")
	writeRecord(t, encoder, 300, "third")
	require.NoError(t, encoder.Close())

	decoder, err := NewDecoder(testStore, dir, "00000")
	require.NoError(t, err)
	defer decoder.Close()
	require.Equal(t, 3, decoder.NEntries)

	buf := make([]byte, testStore.RecordSize)
	require.NoError(t, decoder.ReadRecord(1, buf))
	require.Equal(t, int64(200), RecordTime(buf))

	offset, size := testStore.PayloadRef(buf)
	payload, err := decoder.ReadPayload(offset, size)
	require.NoError(t, err)
	require.Equal(t, "second", string(payload))
}

func TestHeaderValidation(t *testing.T) {
	dir := t.TempDir()
	dataPath, payloadPath := IDToPaths(dir, "00000")
	require.NoError(t, os.WriteFile(payloadPath, nil, 0o644))

	// Wrong magic.
	bad := append([]byte("SentryShot\x00wrong!\x00\x00\x00\x89\x85\x80\x85\x00\x00v"), 0)
	require.NoError(t, os.WriteFile(dataPath, bad, 0o644))
	_, err := NewDecoder(testStore, dir, "00000")
	require.ErrorIs(t, err, ErrMagicMismatch)

	// Wrong version.
	bad = append(append([]byte{}, testStore.Magic...), 9)
	require.NoError(t, os.WriteFile(dataPath, bad, 0o644))
	_, err = NewDecoder(testStore, dir, "00000")
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRecoveryFromZeroedTail(t *testing.T) {
	dir := t.TempDir()
	encoder, _, err := NewEncoder(testStore, dir, "00000", 1, nil)
	require.NoError(t, err)
	writeRecord(t, encoder, 100, "one")
	writeRecord(t, encoder, 200, "two")
	require.NoError(t, encoder.Close())

	// Simulate a crashed writer by zeroing the last record.
	dataPath, _ := IDToPaths(dir, "00000")
	raw, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	for i := len(raw) - testStore.RecordSize; i < len(raw); i++ {
		raw[i] = 0
	}
	require.NoError(t, os.WriteFile(dataPath, raw, 0o644))

	// Reopening resumes after the first intact record.
	encoder, prevTime, err := NewEncoder(testStore, dir, "00000", 1, nil)
	require.NoError(t, err)
	require.Equal(t, int64(100), prevTime)
	writeRecord(t, encoder, 300, "three")
	require.NoError(t, encoder.Close())

	decoder, err := NewDecoder(testStore, dir, "00000")
	require.NoError(t, err)
	defer decoder.Close()

	buf := make([]byte, testStore.RecordSize)
	require.NoError(t, decoder.ReadRecord(2, buf))
	require.Equal(t, int64(300), RecordTime(buf))

	offset, size := testStore.PayloadRef(buf)
	payload, err := decoder.ReadPayload(offset, size)
	require.NoError(t, err)
	require.Equal(t, "three", string(payload))
}

func TestSearchSkipsDamagedRecords(t *testing.T) {
	dir := t.TempDir()
	encoder, _, err := NewEncoder(testStore, dir, "00000", 1, nil)
	require.NoError(t, err)
	for _, time := range []int64{100, 200, 300, 400} {
		writeRecord(t, encoder, time, "x")
	}
	require.NoError(t, encoder.Close())

	// Zero the last two records.
	dataPath, _ := IDToPaths(dir, "00000")
	raw, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	for i := len(raw) - 2*testStore.RecordSize; i < len(raw); i++ {
		raw[i] = 0
	}
	require.NoError(t, os.WriteFile(dataPath, raw, 0o644))

	decoder, err := NewDecoder(testStore, dir, "00000")
	require.NoError(t, err)
	defer decoder.Close()

	index, err := decoder.Search(200)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	buf := make([]byte, testStore.RecordSize)
	require.NoError(t, decoder.ReadRecord(index, buf))
	require.Equal(t, int64(200), RecordTime(buf))
}

func TestPayloadTooBig(t *testing.T) {
	dir := t.TempDir()
	encoder, _, err := NewEncoder(testStore, dir, "00000", 1, nil)
	require.NoError(t, err)
	defer encoder.Close()

	record := make([]byte, testStore.RecordSize)
	PutRecordTime(record, 1)
	err = encoder.Append(record, make([]byte, 0x10000))
	require.ErrorIs(t, err, ErrPayloadTooBig)
}

func TestListChunks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"00002.data", "00000.data", "00001.data", "00001.payload", "junk"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	chunks, err := ListChunks(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"00000", "00001", "00002"}, chunks)
}

func TestPayloadRefLayout(t *testing.T) {
	record := make([]byte, testStore.RecordSize)
	testStore.PutPayloadRef(record, 0x01020304, 0x0506)
	require.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(record[8:12]))
	require.Equal(t, uint16(0x0506), binary.BigEndian.Uint16(record[12:14]))

	offset, size := testStore.PayloadRef(record)
	require.Equal(t, uint32(0x01020304), offset)
	require.Equal(t, uint16(0x0506), size)
}
