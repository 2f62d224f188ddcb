package blobstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetVersion(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]byte("v1"), "entity-1", 1, false))
	require.NoError(t, store.Save([]byte("v2"), "entity-1", 2, false))

	blob, err := store.GetVersion("entity-1", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)

	latest, err := store.GetVersion("entity-1", Latest)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), latest)
}

func TestGetVersionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetVersion("missing", Latest)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save([]byte("v1"), "entity-1", 1, false))
	_, err = store.GetVersion("entity-1", 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsOverwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]byte("v1"), "entity-1", 1, false))
	err := store.Save([]byte("clobber"), "entity-1", 1, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// explicit overwrite stays possible for administrative repair
	require.NoError(t, store.Save([]byte("repaired"), "entity-1", 1, true))
	blob, err := store.GetVersion("entity-1", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("repaired"), blob)
}

func TestExists(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.Exists("entity-1", Latest)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save([]byte("v3"), "entity-1", 3, false))

	ok, err = store.Exists("entity-1", Latest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists("entity-1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists("entity-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListVersionsSortedAscending(t *testing.T) {
	store := newTestStore(t)

	for _, v := range []int{3, 1, 2} {
		require.NoError(t, store.Save([]byte("x"), "entity-1", v, false))
	}

	versions, err := store.ListVersions("entity-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)

	empty, err := store.ListVersions("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNextVersion(t *testing.T) {
	store := newTestStore(t)

	next, err := store.NextVersion("entity-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	require.NoError(t, store.Save([]byte("x"), "entity-1", 4, false))
	next, err = store.NextVersion("entity-1")
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestSaveSnapshotAllocatesNextFreeVersion(t *testing.T) {
	store := newTestStore(t)

	marshal := func(version int) ([]byte, error) {
		return []byte(fmt.Sprintf("snapshot-%d", version)), nil
	}

	v, err := store.SaveSnapshot("entity-1", 1, marshal)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// stated version already taken: a fresh one is appended
	v, err = store.SaveSnapshot("entity-1", 1, marshal)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	blob, err := store.GetVersion("entity-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot-2"), blob)
}

func TestSaveSnapshotConcurrentSameID(t *testing.T) {
	store := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.SaveSnapshot("entity-1", 1, func(version int) ([]byte, error) {
				return []byte(fmt.Sprintf("w-%d", version)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := store.ListVersions("entity-1")
	require.NoError(t, err)
	require.Len(t, versions, writers)
	for i, v := range versions {
		assert.Equal(t, i+1, v, "versions must be gapless and strictly increasing")
	}
}

func TestBlobNamespace(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutBlob("ds-1", []byte("raw bytes")))
	data, err := store.GetBlob("ds-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), data)

	_, err = store.GetBlob("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// blob keys must not leak into the snapshot namespace
	ok, err := store.Exists("ds-1", Latest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeAll(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]byte("v1"), "entity-1", 1, false))
	require.NoError(t, store.PutBlob("ds-1", []byte("raw")))
	require.NoError(t, store.PurgeAll())

	ok, err := store.Exists("entity-1", Latest)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.GetBlob("ds-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
