package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendStore interface {
	Store
	Backend
}

func stores(t *testing.T) map[string]func() backendStore {
	return map[string]func() backendStore{
		"memory": func() backendStore {
			return NewMemoryStore()
		},
		"bolt": func() backendStore {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s backendStore)) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open())
		})
	}
}

func mustPut(t *testing.T, s Store, table, key, value string) {
	t.Helper()
	tx := s.Begin()
	_, exists, err := tx.PutIfAbsent(table, key, []byte(value))
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, tx.Commit())
}

func TestPutIfAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")

		tx := s.Begin()
		defer tx.Abort()
		prev, exists, err := tx.PutIfAbsent("t", "a", []byte("2"))
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, []byte("1"), prev)

		v, ok, err := tx.Get("t", "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)
	})
}

func TestReplaceComparesBytes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")

		tx := s.Begin()
		ok, err := tx.Replace("t", "a", []byte("0"), []byte("2"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.Replace("t", "a", []byte("1"), []byte("2"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Replace("t", "missing", nil, []byte("2"))
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, tx.Commit())

		read := s.Begin()
		defer read.Abort()
		v, _, err := read.Get("t", "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)
	})
}

func TestRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")

		tx := s.Begin()
		ok, err := tx.Remove("t", "a", []byte("1"))
		require.NoError(t, err)
		assert.True(t, ok)
		_, found, err := tx.Get("t", "a")
		require.NoError(t, err)
		assert.False(t, found, "own delete must be visible")
		require.NoError(t, tx.Commit())

		read := s.Begin()
		defer read.Abort()
		_, found, err = read.Get("t", "a")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		tx := s.Begin()
		_, _, err := tx.PutIfAbsent("t", "a", []byte("1"))
		require.NoError(t, err)

		other := s.Begin()
		_, found, err := other.Get("t", "a")
		require.NoError(t, err)
		assert.False(t, found)
		other.Abort()

		tx.Abort()
		assert.ErrorIs(t, tx.Commit(), ErrTxDone)

		after := s.Begin()
		defer after.Abort()
		_, found, err = after.Get("t", "a")
		require.NoError(t, err)
		assert.False(t, found, "aborted write must not be applied")
	})
}

func TestConflictingCommits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")

		first := s.Begin()
		second := s.Begin()

		v1, _, err := first.Get("t", "a")
		require.NoError(t, err)
		v2, _, err := second.Get("t", "a")
		require.NoError(t, err)

		ok, err := first.Replace("t", "a", v1, []byte("first"))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = second.Replace("t", "a", v2, []byte("second"))
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, first.Commit())
		assert.ErrorIs(t, second.Commit(), ErrConflict)

		read := s.Begin()
		defer read.Abort()
		v, _, err := read.Get("t", "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), v)
	})
}

func TestConflictOnConcurrentInsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		first := s.Begin()
		second := s.Begin()

		_, _, err := first.PutIfAbsent("t", "a", []byte("1"))
		require.NoError(t, err)
		_, _, err = second.PutIfAbsent("t", "a", []byte("2"))
		require.NoError(t, err)

		require.NoError(t, first.Commit())
		assert.ErrorIs(t, second.Commit(), ErrConflict)
	})
}

func TestScanMergesPendingWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")
		mustPut(t, s, "t", "b", "2")
		mustPut(t, s, "other", "z", "9")

		tx := s.Begin()
		defer tx.Abort()
		_, err := tx.Remove("t", "a", []byte("1"))
		require.NoError(t, err)
		_, err = tx.Replace("t", "b", []byte("2"), []byte("20"))
		require.NoError(t, err)
		_, _, err = tx.PutIfAbsent("t", "c", []byte("3"))
		require.NoError(t, err)

		got := map[string]string{}
		require.NoError(t, tx.Scan("t", func(key string, value []byte) error {
			got[key] = string(value)
			return nil
		}))
		assert.Equal(t, map[string]string{"b": "20", "c": "3"}, got)
	})
}

func TestReadOnlyCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s backendStore) {
		mustPut(t, s, "t", "a", "1")

		tx := s.Begin()
		_, _, err := tx.Get("t", "a")
		require.NoError(t, err)
		mustPut(t, s, "t", "b", "2")
		assert.NoError(t, tx.Commit(), "nothing to apply")
	})
}

func TestBoltDumpRestore(t *testing.T) {
	src, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer src.Close()
	mustPut(t, src, "t", "a", "1")
	mustPut(t, src, "u", "b", "2")

	entries, rev, err := src.Dump()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, uint64(2), rev)

	dst, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer dst.Close()
	mustPut(t, dst, "stale", "x", "0")

	require.NoError(t, dst.Restore(entries, rev))
	restored, restoredRev, err := dst.Dump()
	require.NoError(t, err)
	assert.ElementsMatch(t, entries, restored)
	assert.Equal(t, rev, restoredRev)
}
