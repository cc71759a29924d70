package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripedkv/wal"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.NewWAL(wal.Config{Path: path})
	require.NoError(t, err)

	e, err := New(w, 16, nil)
	require.NoError(t, err)

	return e, path
}

// Read-your-write: a Get immediately following a Put on the same key
// observes the written value.
func TestEngine_ReadYourWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	require.NoError(t, e.Put("alpha", []byte("1")))

	v, ok := e.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

// Overwrite: the last Put wins; Get never exposes an intermediate value.
func TestEngine_OverwriteLastWriterWins(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	require.NoError(t, e.Put("k", []byte("first")))
	require.NoError(t, e.Put("k", []byte("second")))

	v, ok := e.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), v)
}

// Not-found is not an error: Get reports found=false with no error value.
func TestEngine_GetMissingKeyIsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	v, ok := e.Get("never-written")
	assert.False(t, ok)
	assert.Nil(t, v)
}

// Durability across restart: every key Put before Close is visible to a
// fresh Engine built over the same WAL file.
func TestEngine_DurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w1, err := wal.NewWAL(wal.Config{Path: path})
	require.NoError(t, err)
	e1, err := New(w1, 16, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, e1.Put(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("val-%d", i))))
	}
	require.NoError(t, e1.Close())

	w2, err := wal.NewWAL(wal.Config{Path: path})
	require.NoError(t, err)
	e2, err := New(w2, 16, nil)
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < 50; i++ {
		v, ok := e2.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("val-%d", i), string(v))
	}

	snap := e2.Stat()
	assert.EqualValues(t, 50, snap.KeyCount)
}

// Prefix completeness: GetPrefix returns every currently-stored key
// matching the prefix, and nothing that doesn't match.
func TestEngine_GetPrefixCompleteness(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	require.NoError(t, e.Put("user:1", []byte("a")))
	require.NoError(t, e.Put("user:2", []byte("b")))
	require.NoError(t, e.Put("order:1", []byte("c")))

	got := e.GetPrefix("user:", 0)
	assert.Len(t, got, 2)

	keys := map[string]string{}
	for _, kv := range got {
		keys[kv.Key] = string(kv.Value)
	}
	assert.Equal(t, "a", keys["user:1"])
	assert.Equal(t, "b", keys["user:2"])
}

// max_results truncates the result set after collection rather than
// stopping the underlying scan early; the set returned is still a
// valid (if partial) subset of matches.
func TestEngine_GetPrefixMaxResultsTruncatesAfterCollection(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Put(fmt.Sprintf("p:%02d", i), []byte("v")))
	}

	got := e.GetPrefix("p:", 3)
	assert.Len(t, got, 3)
}

func TestEngine_GetPrefixNoMatches(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	require.NoError(t, e.Put("foo", []byte("v")))

	got := e.GetPrefix("bar", 0)
	assert.Empty(t, got)
}

// Stats monotonicity: every successful operation increments the
// relevant counter(s) and the total, and counters never decrease.
func TestEngine_StatCountersAreMonotonic(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))
	e.Get("a")
	e.GetPrefix("a", 0)

	snap := e.Stat()
	assert.EqualValues(t, 2, snap.SetCount)
	assert.EqualValues(t, 1, snap.GetCount)
	assert.EqualValues(t, 1, snap.GetPrefixCount)
	assert.EqualValues(t, 4, snap.TotalRequests)
	assert.EqualValues(t, 2, snap.KeyCount)
	assert.NotEmpty(t, snap.StartTime)

	e.Get("b")
	later := e.Stat()
	assert.GreaterOrEqual(t, later.SetCount, snap.SetCount)
	assert.GreaterOrEqual(t, later.GetCount, snap.GetCount)
	assert.GreaterOrEqual(t, later.GetPrefixCount, snap.GetPrefixCount)
	assert.GreaterOrEqual(t, later.TotalRequests, snap.TotalRequests)
}

// Put after Close is rejected rather than silently accepted, since a
// post-close write cannot be made durable.
func TestEngine_PutAfterCloseIsRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Close())

	err := e.Put("k", []byte("v"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

// Lock-ordering / deadlock freedom under concurrency: many Put/Get
// goroutines racing a concurrent GetPrefix (which acquires every
// stripe) must all complete without deadlock or panic.
func TestEngine_ConcurrentOpsAndFullScanDoNotDeadlock(t *testing.T) {
	e, _ := newTestEngine(t)
	defer e.Close()

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers + 4)

	for i := 0; i < writers; i++ {
		i := i
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("concurrent:%d", i%8)
			_ = e.Put(key, []byte(fmt.Sprintf("v%d", i)))
			e.Get(key)
		}()
	}

	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			e.GetPrefix("concurrent:", 0)
		}()
	}

	wg.Wait()

	got := e.GetPrefix("concurrent:", 0)
	assert.LessOrEqual(t, len(got), 8)
}
