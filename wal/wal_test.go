package wal

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempWAL(t *testing.T) (WAL, string, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "wal_test_*.log")
	require.NoError(t, err)
	path := f.Name()
	f.Close()
	os.Remove(path)

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)

	cleanup := func() {
		_ = w.Close()
		_ = os.Remove(path)
	}

	return w, path, cleanup
}

func TestNewWAL_OpenFileError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nope", "wal.log")

	_, err := NewWAL(Config{Path: path})
	assert.Error(t, err)
}

func TestWAL_AppendAndReplay(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	require.NoError(t, w.Append(Record{Key: "foo", Value: []byte("bar")}))

	count := 0
	report, err := w.Replay(func(r Record) error {
		count++
		assert.Equal(t, "foo", r.Key)
		assert.Equal(t, []byte("bar"), r.Value)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, report.RecordsApplied)
	assert.False(t, report.Truncated)
	assert.False(t, report.Corrupt)
}

func TestWAL_ReplayEmptyLog(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	report, err := w.Replay(func(Record) error {
		t.Fatal("should not replay any records")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, report.RecordsApplied)
}

func TestWAL_ReplayFileMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never-written.log")

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)
	defer w.Close()
	os.Remove(path)

	// Replay opens the path independently of the already-open append
	// handle, so a concurrently removed file is reported as "nothing to
	// replay", not an error.
	report, err := w.Replay(func(Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, report.RecordsApplied)
}

func TestWAL_CloseIsIdempotent(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err := w.Append(Record{Key: "k", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrWALClosed)
}

func TestWAL_ConcurrentAppends(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	const writers = 50
	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Append(Record{Key: "k", Value: []byte("v")})
		}()
	}

	wg.Wait()
	require.NoError(t, w.Close())

	report, err := w.Replay(func(Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, writers, report.RecordsApplied)
}

func TestWAL_ReplayStopsOnTornTail(t *testing.T) {
	f, err := os.CreateTemp("", "wal_torn_*.log")
	require.NoError(t, err)
	path := f.Name()
	defer os.Remove(path)

	good := encode(Record{Key: "key", Value: []byte("val")})
	_, _ = f.Write(good)
	_, _ = f.Write([]byte{0x01, 0x02, 0x03}) // torn trailing bytes
	f.Close()

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)
	defer w.Close()

	count := 0
	report, err := w.Replay(func(r Record) error {
		if r.Key == "key" {
			count++
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, report.Truncated)
	assert.False(t, report.Corrupt)
}

func TestWAL_ReplayStopsOnCorruption(t *testing.T) {
	f, err := os.CreateTemp("", "wal_corrupt_*.log")
	require.NoError(t, err)
	path := f.Name()
	defer os.Remove(path)

	good := encode(Record{Key: "key", Value: []byte("val")})
	corrupt := encode(Record{Key: "key2", Value: []byte("val2")})
	corrupt[len(corrupt)-5] ^= 0xFF // flip a value byte, leave CRC stale

	_, _ = f.Write(good)
	_, _ = f.Write(corrupt)
	f.Close()

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)
	defer w.Close()

	count := 0
	report, err := w.Replay(func(r Record) error {
		count++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, report.Corrupt)
}

func TestWAL_AppendAfterCloseFastPath(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	require.NoError(t, w.Close())

	err := w.Append(Record{Key: "race", Value: []byte("test")})
	assert.ErrorIs(t, err, ErrWALClosed)
}

func TestWAL_AppendWhileClosing_NoPanic(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Append(Record{Key: "k", Value: []byte("v")})
		}()
	}

	_ = w.Close()
	wg.Wait()
}

func TestWAL_CloseWorkerStuck(t *testing.T) {
	f, err := os.CreateTemp("", "wal_stuck_*.log")
	require.NoError(t, err)
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	// A WAL whose worker goroutine was never started: Close must time
	// out rather than hang forever.
	w := &fileWAL{
		path:     path,
		file:     nil,
		reqChan:  make(chan request),
		doneChan: make(chan struct{}),
	}

	err = w.Close()
	assert.ErrorIs(t, err, ErrWorkerStuck)
}

func TestWAL_ReplayApplyError(t *testing.T) {
	w, _, cleanup := newTempWAL(t)
	defer cleanup()

	require.NoError(t, w.Append(Record{Key: "x", Value: []byte("y")}))

	_, err := w.Replay(func(Record) error {
		return assert.AnError
	})
	assert.Error(t, err)
}

func TestWorker_WriteErrorAfterFileClosedUnderneath(t *testing.T) {
	f, err := os.CreateTemp("", "wal_sync_err_*.log")
	require.NoError(t, err)
	path := f.Name()
	defer os.Remove(path)

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)

	real := w.(*fileWAL)
	_ = real.file.Close()

	err = w.Append(Record{Key: "k", Value: []byte("v")})
	assert.Error(t, err)
}

func TestWAL_DurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := NewWAL(Config{Path: path})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, w.Append(Record{Key: keyN(i), Value: []byte(valueN(i))}))
	}
	require.NoError(t, w.Close())

	w2, err := NewWAL(Config{Path: path})
	require.NoError(t, err)
	defer w2.Close()

	got := map[string]string{}
	report, err := w2.Replay(func(r Record) error {
		got[r.Key] = string(r.Value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100, report.RecordsApplied)

	for i := 0; i < 100; i++ {
		assert.Equal(t, valueN(i), got[keyN(i)])
	}
}

func keyN(i int) string   { return "durability-key-" + strconv.Itoa(i) }
func valueN(i int) string { return "value-" + strconv.Itoa(i) }
