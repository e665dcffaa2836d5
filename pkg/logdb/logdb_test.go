// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package logdb

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func entryTimes(entries []Entry) []UnixMicro {
	times := make([]UnixMicro, 0, len(entries))
	for _, entry := range entries {
		times = append(times, entry.Time)
	}
	return times
}

// Queries return entries in reverse chronological order.
func TestQueryReverseOrder(t *testing.T) {
	db := newTestDB(t)
	for _, time := range []UnixMicro{2000, 3000, 4000} {
		require.NoError(t, db.SaveLog(Entry{
			Level: LevelInfo,
			Time:  time,
			Src:   "app",
			Msg:   "msg",
		}))
	}

	entries, err := db.Query(Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{4000, 3000}, entryTimes(entries))
}

func TestQueryFilters(t *testing.T) {
	db := newTestDB(t)
	entries := []Entry{
		{Level: LevelError, Time: 1000, Src: "app", MonitorID: "m1", Msg: "a"},
		{Level: LevelWarning, Time: 2000, Src: "monitor", MonitorID: "m2", Msg: "b"},
		{Level: LevelInfo, Time: 3000, Src: "recorder", MonitorID: "m1", Msg: "c"},
	}
	for _, entry := range entries {
		require.NoError(t, db.SaveLog(entry))
	}

	got, err := db.Query(Query{Levels: []Level{LevelError}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Msg)

	got, err = db.Query(Query{Sources: []string{"monitor", "recorder"}})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{3000, 2000}, entryTimes(got))

	got, err = db.Query(Query{Monitors: []string{"m1"}})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{3000, 1000}, entryTimes(got))

	// Empty filters match all.
	got, err = db.Query(Query{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

// Time positions the scan; only strictly older entries are returned.
func TestQueryTime(t *testing.T) {
	db := newTestDB(t)
	for _, time := range []UnixMicro{1000, 2000, 3000} {
		require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: time, Src: "s", Msg: "m"}))
	}

	entries, err := db.Query(Query{Time: 2000})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{1000}, entryTimes(entries))

	entries, err = db.Query(Query{Time: 2500})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{2000, 1000}, entryTimes(entries))
}

func TestStaleTimeIsBumped(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: 100, Src: "s", Msg: "a"}))
	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: 100, Src: "s", Msg: "b"}))

	entries, err := db.Query(Query{})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{101, 100}, entryTimes(entries))
}

func TestFieldRoundTrip(t *testing.T) {
	db := newTestDB(t)
	entry := Entry{
		Level:     LevelWarning,
		Time:      12345,
		Src:       "recorder",
		MonitorID: "backyard",
		Msg:       "starting recording",
	}
	require.NoError(t, db.SaveLog(entry))

	entries, err := db.Query(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[0])
}

func TestFieldLimits(t *testing.T) {
	db := newTestDB(t)
	err := db.SaveLog(Entry{Time: 1, Src: "longerthan8bytes", Msg: "m"})
	require.ErrorIs(t, err, ErrSrcTooLong)
	err = db.SaveLog(Entry{Time: 1, Src: "s", MonitorID: "longerthan24bytes_________", Msg: "m"})
	require.ErrorIs(t, err, ErrMonitorIDTooLong)
}

// Chunks roll when the time crosses a bucket boundary.
func TestMultipleChunks(t *testing.T) {
	db := newTestDB(t)
	bucket := UnixMicro(100_000_000_000)
	for _, time := range []UnixMicro{1, bucket, 2 * bucket} {
		require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: time, Src: "s", Msg: "m"}))
	}

	chunksOnDisk, err := os.ReadDir(db.logDir)
	require.NoError(t, err)
	var names []string
	for _, file := range chunksOnDisk {
		names = append(names, file.Name())
	}
	assert.ElementsMatch(t, []string{
		"00000.data", "00000.payload",
		"00001.data", "00001.payload",
		"00002.data", "00002.payload",
	}, names)

	entries, err := db.Query(Query{})
	require.NoError(t, err)
	assert.Equal(t, []UnixMicro{2 * bucket, bucket, 1}, entryTimes(entries))
}

func TestPruneDeletesOldestChunk(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir, 100, 10) // Budget: 10 bytes, the larger of 1% of 100 and 10.
	require.NoError(t, err)
	defer db.Close()

	bucket := UnixMicro(100_000_000_000)
	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: 1, Src: "s", Msg: "m"}))
	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: bucket, Src: "s", Msg: "m"}))

	require.NoError(t, db.Prune())

	_, err = os.Stat(filepath.Join(dir, "00000.data"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "00001.data"))
	require.NoError(t, err)
}

func TestPruneBelowThresholdIsNoop(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir, 1<<40, 1<<40)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: 1, Src: "s", Msg: "m"}))
	require.NoError(t, db.Prune())

	_, err = os.Stat(filepath.Join(dir, "00000.data"))
	require.NoError(t, err)
}

func TestRecoverMsgPos(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir, 0, 0)
	require.NoError(t, err)
	require.NoError(t, db.SaveLog(Entry{Level: LevelInfo, Time: 100, Src: "s", Msg: "first"}))
	require.NoError(t, db.Close())

	db2, err := New(dir, 0, 0)
	require.NoError(t, err)
	defer db2.Close()
	require.NoError(t, db2.SaveLog(Entry{Level: LevelInfo, Time: 50, Src: "s", Msg: "second"}))

	entries, err := db2.Query(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Msg)
	assert.Equal(t, UnixMicro(101), entries[0].Time)
	assert.Equal(t, "first", entries[1].Msg)
}

func TestSlogHandler(t *testing.T) {
	db := newTestDB(t)
	logger := slog.New(NewHandler(db, slog.LevelInfo))

	logger.Info("recording started",
		"source", "recorder", "monitor", "m1", "id", 7)
	logger.Debug("this is filtered out")

	entries, err := db.Query(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "recorder", entries[0].Src)
	assert.Equal(t, "m1", entries[0].MonitorID)
	assert.Equal(t, "recording started id=7", entries[0].Msg)
	assert.WithinDuration(t,
		time.Now(), time.UnixMicro(int64(entries[0].Time)), time.Minute)
}
