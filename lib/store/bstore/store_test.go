package bstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/store"
	storetesting "github.com/ValentinKolb/saltfish/lib/store/testing"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	storetesting.RunStoreTests(t, "BoltStore", func() (store.IStore, error) {
		return NewBoltStore(Config{
			Path:   filepath.Join(t.TempDir(), "store.db"),
			NoSync: true,
		})
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewBoltStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "b", []byte("k"), []byte("v"), store.Indexes{"n_int": -7}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "b", []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	keys, err := s.IndexRange(ctx, "b", "n_int", -10, 0, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("k")}, keys)
}

func TestMissingPath(t *testing.T) {
	_, err := NewBoltStore(Config{})
	require.Error(t, err)
}

func TestIndexEncoding(t *testing.T) {
	values := []int64{-1 << 63, -5, -1, 0, 1, 42, 1<<63 - 1}
	for i := 1; i < len(values); i++ {
		a := indexKey(values[i-1], []byte("k"))
		b := indexKey(values[i], []byte("k"))
		require.Negative(t, compare(a, b), "%d must sort before %d", values[i-1], values[i])
		require.Equal(t, values[i], decodeIndexValue(b))
	}

	indexes := store.Indexes{"a_int": -3, "b_int": 1 << 40}
	decoded, err := decodeIndexes(encodeIndexes(indexes))
	require.NoError(t, err)
	require.Equal(t, indexes, decoded)
}

func compare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
