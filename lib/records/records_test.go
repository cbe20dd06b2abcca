package records

import (
	"bytes"
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/ids"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

var datasetID = bytes.Repeat([]byte{0x07}, dataset.IDLength)

// failingStore fails every Put of failKey.
type failingStore struct {
	store.IStore
	failKey []byte
	puts    atomic.Int64
}

func (s *failingStore) Put(ctx context.Context, bucket string, key, value []byte, indexes store.Indexes) error {
	s.puts.Add(1)
	if bytes.Equal(key, s.failKey) {
		return store.NewError(store.RetCUnavailable, "write refused")
	}
	return s.IStore.Put(ctx, bucket, key, value, indexes)
}

func newRecords(n int) []dataset.Record {
	recs := make([]dataset.Record, n)
	for i := range recs {
		recs[i] = dataset.Record{
			Numericals:   []float64{float64(i), math.Pi},
			Categoricals: []string{"c"},
		}
	}
	return recs
}

func TestBucketName(t *testing.T) {
	id := []byte{0xfb, 0xff, 0x00, 0x01}
	require.Equal(t, "/ml/sources/data/-_8AAQ/", BucketName(DefaultBucketPrefix, id))

	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{BucketPrefix: "/p/"})
	require.Equal(t, "/p/-_8AAQ/", s.Bucket(id))
}

func TestPutGeneratesIDs(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	s := New(kv, ids.NewGenerator(0), Config{})

	recs := newRecords(25)
	recordIDs, err := s.Put(ctx, datasetID, recs)
	require.NoError(t, err)
	require.Len(t, recordIDs, len(recs))

	seen := make(map[string]struct{})
	for _, id := range recordIDs {
		require.Len(t, id, dataset.RecordIDLength)
		seen[string(id)] = struct{}{}
	}
	require.Len(t, seen, len(recs))

	got, err := s.Get(ctx, datasetID, recordIDs)
	require.NoError(t, err)
	require.Len(t, got, len(recs))
	for i, r := range got {
		require.Equal(t, recordIDs[i], r.ID)
		require.Equal(t, recs[i].Numericals, r.Numericals)
		require.Equal(t, recs[i].Categoricals, r.Categoricals)
	}

	stored, err := s.IDs(ctx, datasetID)
	require.NoError(t, err)
	require.Len(t, stored, len(recs))
}

func TestPutGeneratesIDsInBatches(t *testing.T) {
	ctx := context.Background()
	s := New(lstore.NewLocalStore(), ids.NewGenerator(4), Config{})

	recordIDs, err := s.Put(ctx, datasetID, newRecords(10))
	require.NoError(t, err)
	require.Len(t, recordIDs, 10)
}

func TestPutExplicitIDs(t *testing.T) {
	ctx := context.Background()
	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{})

	recs := newRecords(3)
	recs[0].ID = ids.EncodeRecordID(1)
	recs[2].ID = ids.EncodeRecordID(3)

	recordIDs, err := s.Put(ctx, datasetID, recs)
	require.NoError(t, err)
	require.Equal(t, ids.EncodeRecordID(1), recordIDs[0])
	require.Len(t, recordIDs[1], dataset.RecordIDLength)
	require.Equal(t, ids.EncodeRecordID(3), recordIDs[2])

	// the same id twice keeps the last record
	dup := newRecords(2)
	dup[0].ID = ids.EncodeRecordID(9)
	dup[1].ID = ids.EncodeRecordID(9)
	dup[1].Categoricals = []string{"last"}
	recordIDs, err = s.Put(ctx, datasetID, dup)
	require.NoError(t, err)
	require.Equal(t, recordIDs[0], recordIDs[1])

	got, err := s.Get(ctx, datasetID, [][]byte{ids.EncodeRecordID(9)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"last"}, got[0].Categoricals)
}

func TestPutEmpty(t *testing.T) {
	kv := lstore.NewLocalStore()
	s := New(kv, ids.NewGenerator(0), Config{})

	recordIDs, err := s.Put(context.Background(), datasetID, nil)
	require.NoError(t, err)
	require.Empty(t, recordIDs)

	keys, err := kv.Keys(context.Background(), s.Bucket(datasetID))
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPutCompensatesFailedWrites(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	failKey := ids.EncodeRecordID(0xdead)
	fs := &failingStore{IStore: kv, failKey: failKey}
	s := New(fs, ids.NewGenerator(0), Config{WriteConcurrency: 2})

	existing := ids.EncodeRecordID(42)
	_, err := s.Put(ctx, datasetID, []dataset.Record{{ID: existing, Numericals: []float64{1}}})
	require.NoError(t, err)

	recs := newRecords(20)
	recs[0].ID = existing
	recs[19].ID = failKey

	recordIDs, err := s.Put(ctx, datasetID, recs)
	require.Error(t, err)
	require.Nil(t, recordIDs)

	keys, err := kv.Keys(ctx, s.Bucket(datasetID))
	require.NoError(t, err)
	require.Equal(t, [][]byte{existing}, keys, "only the record stored before the call may remain")

	// the index entries of removed records are gone as well
	indexed, err := kv.IndexRange(ctx, s.Bucket(datasetID), IndexName, 0, math.MaxInt64, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{existing}, indexed)
}

func TestPutRestoresReplacedRecords(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	failKey := ids.EncodeRecordID(0xdead)
	s := New(&failingStore{IStore: kv, failKey: failKey}, ids.NewGenerator(0), Config{})

	existing := ids.EncodeRecordID(42)
	_, err := s.Put(ctx, datasetID, []dataset.Record{{ID: existing, Numericals: []float64{1}, Categoricals: []string{"old"}}})
	require.NoError(t, err)

	_, err = s.Put(ctx, datasetID, []dataset.Record{
		{ID: existing, Numericals: []float64{2}, Categoricals: []string{"new"}},
		{ID: failKey, Numericals: []float64{3}, Categoricals: []string{"new"}},
	})
	require.Error(t, err)

	got, err := s.Get(ctx, datasetID, [][]byte{existing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []float64{1}, got[0].Numericals)
	require.Equal(t, []string{"old"}, got[0].Categoricals)

	// the restored record can still be sampled
	indexed, err := kv.IndexRange(ctx, s.Bucket(datasetID), IndexName, 0, math.MaxInt64, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{existing}, indexed)
}

func TestPutCreated(t *testing.T) {
	ctx := context.Background()
	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{})

	existing := ids.EncodeRecordID(1)
	_, err := s.Put(ctx, datasetID, []dataset.Record{{ID: existing}})
	require.NoError(t, err)

	recs := newRecords(4)
	recs[0].ID = existing
	recs[1].ID = ids.EncodeRecordID(2)
	recs[3].ID = ids.EncodeRecordID(2)

	recordIDs, created, err := s.PutCreated(ctx, datasetID, recs)
	require.NoError(t, err)
	require.Len(t, recordIDs, 4)
	require.Equal(t, []bool{false, false, true, true}, created)

	recordIDs, created, err = s.PutCreated(ctx, datasetID, nil)
	require.NoError(t, err)
	require.Empty(t, recordIDs)
	require.Empty(t, created)
}

func TestRandomIndex(t *testing.T) {
	ctx := context.Background()
	kv := lstore.NewLocalStore()
	const maxIndex = 1000
	s := New(kv, ids.NewGenerator(0), Config{MaxRandomIndex: maxIndex})
	require.EqualValues(t, maxIndex, s.MaxRandomIndex())

	recordIDs, err := s.Put(ctx, datasetID, newRecords(200))
	require.NoError(t, err)

	inRange, err := kv.IndexRange(ctx, s.Bucket(datasetID), IndexName, 0, maxIndex-1, 0)
	require.NoError(t, err)
	require.Len(t, inRange, len(recordIDs))

	outside, err := kv.IndexRange(ctx, s.Bucket(datasetID), IndexName, maxIndex, math.MaxInt64, 0)
	require.NoError(t, err)
	require.Empty(t, outside)
}

func TestSample(t *testing.T) {
	ctx := context.Background()
	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{MaxRandomIndex: 1000})

	recordIDs, err := s.Put(ctx, datasetID, newRecords(200))
	require.NoError(t, err)
	all := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		all[string(id)] = struct{}{}
	}

	sample, err := s.Sample(ctx, datasetID, 1, 0)
	require.NoError(t, err)
	require.Len(t, sample, len(recordIDs))

	sample, err = s.Sample(ctx, datasetID, 0.5, 10)
	require.NoError(t, err)
	require.LessOrEqual(t, len(sample), 10)

	sample, err = s.Sample(ctx, datasetID, 0.25, 0)
	require.NoError(t, err)
	require.Less(t, len(sample), len(recordIDs))
	for _, r := range sample {
		require.Contains(t, all, string(r.ID))
	}

	for _, fraction := range []float64{0, -1, 1.5, math.NaN()} {
		_, err := s.Sample(ctx, datasetID, fraction, 0)
		require.Error(t, err, "fraction %v", fraction)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{})

	_, err := s.Put(ctx, datasetID, newRecords(5))
	require.NoError(t, err)
	require.NoError(t, s.Purge(ctx, datasetID))

	stored, err := s.IDs(ctx, datasetID)
	require.NoError(t, err)
	require.Empty(t, stored)
	require.NoError(t, s.Purge(ctx, datasetID))
}

func TestGetRejectsMalformedIDs(t *testing.T) {
	s := New(lstore.NewLocalStore(), ids.NewGenerator(0), Config{})
	_, err := s.Get(context.Background(), datasetID, [][]byte{{1, 2, 3}})
	require.Error(t, err)
}
