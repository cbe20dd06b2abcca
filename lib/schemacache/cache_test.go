package schemacache

import (
	"bytes"
	"context"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// tamperingStore corrupts every value on Get or fails Put.
type tamperingStore struct {
	store.IStore
	failPut bool
	corrupt bool
}

func (s *tamperingStore) Put(ctx context.Context, bucket string, key, value []byte, indexes store.Indexes) error {
	if s.failPut {
		return store.NewError(store.RetCUnavailable, "down")
	}
	return s.IStore.Put(ctx, bucket, key, value, indexes)
}

func (s *tamperingStore) Get(ctx context.Context, bucket string, key []byte) ([]byte, bool, error) {
	v, ok, err := s.IStore.Get(ctx, bucket, key)
	if s.corrupt && ok {
		v = append(v, 0xff)
	}
	return v, ok, err
}

var (
	testID     = bytes.Repeat([]byte{0x42}, dataset.IDLength)
	testSchema = dataset.Schema{
		{Name: "sepal_length", Type: dataset.Numerical},
		{Name: "species", Type: dataset.Categorical},
	}
)

func TestPublishAndGet(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	c := New(kv, "")
	require.Equal(t, DefaultBucket, c.Bucket())

	require.NoError(t, c.Publish(ctx, testID, testSchema))

	raw, ok, err := kv.Get(ctx, DefaultBucket, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dataset.MarshalSchema(testSchema), raw)

	got, ok, err := c.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, testSchema.Equal(got))

	_, ok, err = c.Get(ctx, bytes.Repeat([]byte{1}, dataset.IDLength))
	require.NoError(t, err)
	require.False(t, ok)

	// publishing the same schema again is harmless
	require.NoError(t, c.PublishDataset(ctx, dataset.Dataset{ID: testID, Schema: testSchema}))

	require.NoError(t, c.Evict(ctx, testID))
	_, ok, err = c.Get(ctx, testID)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Evict(ctx, testID))
}

func TestCustomBucket(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	c := New(kv, "/other/")
	require.NoError(t, c.Publish(ctx, testID, testSchema))

	ok, err := kv.Has(ctx, "/other/", testID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.Has(ctx, DefaultBucket, testID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("write fails", func(t *testing.T) {
		c := New(&tamperingStore{IStore: lstore.NewLocalStore(), failPut: true}, "")
		err := c.Publish(ctx, testID, testSchema)
		require.Error(t, err)

		var kvErr *store.Error
		require.True(t, errors.As(err, &kvErr))
		require.Equal(t, store.RetCUnavailable, kvErr.Code)
	})

	t.Run("read back differs", func(t *testing.T) {
		c := New(&tamperingStore{IStore: lstore.NewLocalStore(), corrupt: true}, "")
		err := c.Publish(ctx, testID, testSchema)
		require.True(t, errors.Is(err, ErrVerifyFailed))
	})

	t.Run("closed store", func(t *testing.T) {
		kv := lstore.NewLocalStore()
		require.NoError(t, kv.Close())
		require.Error(t, New(kv, "").Publish(ctx, testID, testSchema))
	})
}
