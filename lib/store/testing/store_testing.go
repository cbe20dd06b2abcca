package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// RunStoreTests runs the conformance test suite for a store.IStore implementation.
// The factory is called once per sub test and must return an empty store.
func RunStoreTests(t *testing.T, name string, factory store.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, newStore(t, factory))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, newStore(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, newStore(t, factory))
		})

		t.Run("IndexRange", func(t *testing.T) {
			testIndexRange(t, newStore(t, factory))
		})

		t.Run("IndexReplace", func(t *testing.T) {
			testIndexReplace(t, newStore(t, factory))
		})

		t.Run("BucketIsolation", func(t *testing.T) {
			testBucketIsolation(t, newStore(t, factory))
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, newStore(t, factory))
		})

		t.Run("DeleteBucket", func(t *testing.T) {
			testDeleteBucket(t, newStore(t, factory))
		})

		t.Run("InvalidArguments", func(t *testing.T) {
			testInvalidArguments(t, newStore(t, factory))
		})

		t.Run("CanceledContext", func(t *testing.T) {
			testCanceledContext(t, newStore(t, factory))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, newStore(t, factory))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, newStore(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(t *testing.T, factory store.Factory) store.IStore {
	s, err := factory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// requireCode asserts that err is a *store.Error with the given code.
func requireCode(t *testing.T, err error, code store.RetCode) {
	t.Helper()
	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr), "expected *store.Error, got %v", err)
	require.Equal(t, code, storeErr.Code)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.IStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("value-1"), nil))

	v, ok, err := s.Get(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value-1"), v)

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("value-2"), nil))
	v, ok, err = s.Get(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value-2"), v)

	// returned values must be copies
	v[0] = 'X'
	v, _, err = s.Get(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value-2"), v)

	// stored values must be copies as well
	input := []byte("value-3")
	require.NoError(t, s.Put(ctx, "bucket", []byte("copy"), input, nil))
	input[0] = 'X'
	v, _, err = s.Get(ctx, "bucket", []byte("copy"))
	require.NoError(t, err)
	require.Equal(t, []byte("value-3"), v)

	_, ok, err = s.Get(ctx, "bucket", []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Get(ctx, "missing-bucket", []byte("key"))
	require.NoError(t, err)
	require.False(t, ok)

	binaryKey := []byte{0x00, 0xff, 0x10, 0x00}
	require.NoError(t, s.Put(ctx, "bucket", binaryKey, []byte{0x00, 0x01}, nil))
	v, ok, err = s.Get(ctx, "bucket", binaryKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0x01}, v)
}

func testHas(t *testing.T, s store.IStore) {
	ctx := context.Background()

	ok, err := s.Has(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("v"), nil))

	ok, err = s.Has(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
}

func testDelete(t *testing.T, s store.IStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("v"), store.Indexes{"n_int": 5}))
	require.NoError(t, s.Delete(ctx, "bucket", []byte("key")))

	ok, err := s.Has(ctx, "bucket", []byte("key"))
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := s.IndexRange(ctx, "bucket", "n_int", 0, 10, 0)
	require.NoError(t, err)
	require.Empty(t, keys, "index entries must be removed with the object")

	// deleting twice or in missing buckets is fine
	require.NoError(t, s.Delete(ctx, "bucket", []byte("key")))
	require.NoError(t, s.Delete(ctx, "missing-bucket", []byte("key")))
}

func testIndexRange(t *testing.T, s store.IStore) {
	ctx := context.Background()

	values := map[string]int64{
		"a": -20,
		"b": -1,
		"c": 0,
		"d": 7,
		"e": 7,
		"f": 100,
		"g": 1 << 40,
	}
	for k, v := range values {
		require.NoError(t, s.Put(ctx, "bucket", []byte(k), []byte("v"), store.Indexes{"n_int": v}))
	}
	// object without index
	require.NoError(t, s.Put(ctx, "bucket", []byte("z"), []byte("v"), nil))

	tests := []struct {
		min, max int64
		limit    int
		expected []string
	}{
		{-1 << 63, 1<<63 - 1, 0, []string{"a", "b", "c", "d", "e", "f", "g"}},
		{-1, 7, 0, []string{"b", "c", "d", "e"}},
		{7, 7, 0, []string{"d", "e"}},
		{8, 99, 0, []string{}},
		{0, 1 << 50, 2, []string{"c", "d"}},
		{10, 0, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("[%d,%d]/%d", tt.min, tt.max, tt.limit), func(t *testing.T) {
			keys, err := s.IndexRange(ctx, "bucket", "n_int", tt.min, tt.max, tt.limit)
			require.NoError(t, err)
			got := make([]string, 0, len(keys))
			for _, k := range keys {
				got = append(got, string(k))
			}
			require.Equal(t, tt.expected, got)
		})
	}

	keys, err := s.IndexRange(ctx, "bucket", "other_int", -100, 100, 0)
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, err = s.IndexRange(ctx, "missing-bucket", "n_int", -100, 100, 0)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func testIndexReplace(t *testing.T, s store.IStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("v1"), store.Indexes{"a_int": 1, "b_int": 2}))
	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("v2"), store.Indexes{"a_int": 10}))

	keys, err := s.IndexRange(ctx, "bucket", "a_int", 0, 5, 0)
	require.NoError(t, err)
	require.Empty(t, keys, "old index value must be gone")

	keys, err = s.IndexRange(ctx, "bucket", "a_int", 10, 10, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("key")}, keys)

	keys, err = s.IndexRange(ctx, "bucket", "b_int", 0, 5, 0)
	require.NoError(t, err)
	require.Empty(t, keys, "index not present in the new version must be gone")
}

func testBucketIsolation(t *testing.T, s store.IStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "/data/a/", []byte("key"), []byte("a"), store.Indexes{"n_int": 1}))
	require.NoError(t, s.Put(ctx, "/data/b/", []byte("key"), []byte("b"), store.Indexes{"n_int": 1}))

	v, _, err := s.Get(ctx, "/data/a/", []byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), v)

	require.NoError(t, s.Delete(ctx, "/data/a/", []byte("key")))

	v, ok, err := s.Get(ctx, "/data/b/", []byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), v)

	keys, err := s.IndexRange(ctx, "/data/b/", "n_int", 1, 1, 0)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func testKeys(t *testing.T, s store.IStore) {
	ctx := context.Background()

	keys, err := s.Keys(ctx, "bucket")
	require.NoError(t, err)
	require.Empty(t, keys)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, "bucket", []byte(k), []byte("v"), nil))
	}
	require.NoError(t, s.Put(ctx, "other", []byte("x"), []byte("v"), nil))

	keys, err = s.Keys(ctx, "bucket")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, keys)
}

func testDeleteBucket(t *testing.T, s store.IStore) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		require.NoError(t, s.Put(ctx, "bucket", key, []byte("v"), store.Indexes{"n_int": int64(i)}))
	}
	require.NoError(t, s.Put(ctx, "other", []byte("key"), []byte("v"), nil))

	require.NoError(t, s.DeleteBucket(ctx, "bucket"))

	keys, err := s.Keys(ctx, "bucket")
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, err = s.IndexRange(ctx, "bucket", "n_int", 0, 100, 0)
	require.NoError(t, err)
	require.Empty(t, keys)

	ok, err := s.Has(ctx, "other", []byte("key"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteBucket(ctx, "bucket"))

	// the bucket can be used again
	require.NoError(t, s.Put(ctx, "bucket", []byte("key-1"), []byte("v"), nil))
	ok, err = s.Has(ctx, "bucket", []byte("key-1"))
	require.NoError(t, err)
	require.True(t, ok)
}

func testInvalidArguments(t *testing.T, s store.IStore) {
	ctx := context.Background()

	requireCode(t, s.Put(ctx, "", []byte("key"), []byte("v"), nil), store.RetCInvalidOperation)
	requireCode(t, s.Put(ctx, "bucket", nil, []byte("v"), nil), store.RetCInvalidOperation)
	requireCode(t, s.Put(ctx, "bucket", []byte("key"), []byte("v"), store.Indexes{"": 1}), store.RetCInvalidOperation)

	_, _, err := s.Get(ctx, "bucket", []byte{})
	requireCode(t, err, store.RetCInvalidOperation)

	_, err = s.IndexRange(ctx, "bucket", "", 0, 1, 0)
	requireCode(t, err, store.RetCInvalidOperation)

	_, err = s.Keys(ctx, "")
	requireCode(t, err, store.RetCInvalidOperation)

	requireCode(t, s.DeleteBucket(ctx, ""), store.RetCInvalidOperation)
}

func testCanceledContext(t *testing.T, s store.IStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Put(ctx, "bucket", []byte("key"), []byte("v"), nil)
	require.True(t, errors.Is(err, context.Canceled))

	ok, err := s.Has(context.Background(), "bucket", []byte("key"))
	require.NoError(t, err)
	require.False(t, ok, "nothing must be written with a canceled context")
}

func testConcurrent(t *testing.T, s store.IStore) {
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("%d-%d", w, i))
				if err := s.Put(ctx, "bucket", key, key, store.Indexes{"n_int": int64(i)}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx, "bucket")
	require.NoError(t, err)
	require.Len(t, keys, workers*perWorker)

	keys, err = s.IndexRange(ctx, "bucket", "n_int", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, keys, workers)
}

func testClose(t *testing.T, s store.IStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "bucket", []byte("key"), []byte("v"), nil))
	require.NoError(t, s.Close())

	_, _, err := s.Get(ctx, "bucket", []byte("key"))
	requireCode(t, err, store.RetCClosed)

	requireCode(t, s.Put(ctx, "bucket", []byte("key"), []byte("v"), nil), store.RetCClosed)
}
