package index

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bucketd/pkg/storage"
)

func entry(key, ref string) Entry {
	return Entry{Key: key, Size: 1, ETag: "etag", LastModified: time.Now().UTC(), Ref: storage.BlobRef(ref)}
}

func TestPutReturnsPreviousRef(t *testing.T) {
	ix := New()

	prev, replaced := ix.Put(entry("a", "ref1"))
	require.False(t, replaced)
	require.Empty(t, prev)

	prev, replaced = ix.Put(entry("a", "ref2"))
	require.True(t, replaced)
	require.Equal(t, storage.BlobRef("ref1"), prev)

	e, ok := ix.Get("a")
	require.True(t, ok)
	require.Equal(t, storage.BlobRef("ref2"), e.Ref)
	require.Equal(t, 1, ix.Len())
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	ix := New()
	ref, existed := ix.Delete("ghost")
	require.False(t, existed)
	require.Empty(t, ref)

	ix.Put(entry("a", "ref1"))
	ref, existed = ix.Delete("a")
	require.True(t, existed)
	require.Equal(t, storage.BlobRef("ref1"), ref)
	require.True(t, ix.IsEmpty())
}

func TestListOrderIndependentOfInsertion(t *testing.T) {
	keys := []string{"b/2", "a", "z", "b/1", "aa", "0"}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	ix := New()
	for i, k := range keys {
		ix.Put(entry(k, fmt.Sprintf("ref%d", i)))
	}

	got := ix.List()
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].Key, got[i].Key, "listing must be ascending")
	}
}

func TestListIsSnapshot(t *testing.T) {
	ix := New()
	ix.Put(entry("a", "ref1"))
	ix.Put(entry("b", "ref2"))

	snap := ix.List()
	ix.Delete("a")
	ix.Put(entry("c", "ref3"))

	// The earlier snapshot is unaffected by later mutations.
	require.Len(t, snap, 2)
	require.Equal(t, "a", snap[0].Key)
	require.Equal(t, "b", snap[1].Key)
}

func TestConcurrentDistinctKeys(t *testing.T) {
	ix := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%02d", n)
			unlock := ix.LockKey(key)
			ix.Put(entry(key, fmt.Sprintf("ref-%02d", n)))
			unlock()
		}(i)
	}
	// Listing concurrently with the writers must never see a torn entry.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range ix.List() {
				if e.Ref == "" {
					t.Error("observed torn entry with empty ref")
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 32, ix.Len())
}
