package manager

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata/memstore"
	"github.com/ValentinKolb/saltfish/lib/records"
	"github.com/ValentinKolb/saltfish/lib/schemacache"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

var (
	alice = dataset.User{ID: 1, Username: "alice", Email: "alice@example.com"}
	bob   = dataset.User{ID: 2, Username: "bob", Email: "bob@example.com"}

	irisSchema = dataset.Schema{
		{Name: "sepal_length", Type: dataset.Numerical},
		{Name: "sepal_width", Type: dataset.Numerical},
		{Name: "petal_length", Type: dataset.Numerical},
		{Name: "species", Type: dataset.Categorical},
	}
)

// faultyStore fails every write to one bucket.
type faultyStore struct {
	store.IStore
	mu         sync.Mutex
	failBucket string
}

func (s *faultyStore) setFailBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBucket = bucket
}

func (s *faultyStore) Put(ctx context.Context, bucket string, key, value []byte, indexes store.Indexes) error {
	s.mu.Lock()
	fail := bucket == s.failBucket
	s.mu.Unlock()
	if fail {
		return store.NewError(store.RetCUnavailable, "bucket unavailable")
	}
	return s.IStore.Put(ctx, bucket, key, value, indexes)
}

type testEnv struct {
	m  *Manager
	kv *faultyStore
}

func newTestEnv(t *testing.T, config Config) testEnv {
	meta := memstore.NewMemoryStore(alice, bob)
	kv := &faultyStore{IStore: lstore.NewLocalStore()}
	t.Cleanup(func() {
		_ = meta.Close()
		_ = kv.Close()
	})
	m := NewManager(meta, kv, config)

	// strictly increasing creation times keep the listing order deterministic
	var clockMu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return testEnv{m: m, kv: kv}
}

func id(b byte) []byte {
	return bytes.Repeat([]byte{b}, dataset.IDLength)
}

func irisRecord(i int) dataset.Record {
	return dataset.Record{
		Numericals:   []float64{5.1 + float64(i), 3.5, 1.4},
		Categoricals: []string{"setosa"},
	}
}

func create(t *testing.T, m *Manager, req CreateDatasetRequest) []byte {
	t.Helper()
	resp, err := m.CreateDataset(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status, resp.Msg)
	require.Len(t, resp.ID, dataset.IDLength)
	return resp.ID
}

// --------------------------------------------------------------------------
// CreateDataset
// --------------------------------------------------------------------------

func TestCreateDatasetIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	req := CreateDatasetRequest{ID: id(1), UserID: alice.ID, Name: "iris", Schema: irisSchema}

	first := create(t, env.m, req)
	second := create(t, env.m, req)
	require.Equal(t, first, second)

	list, err := env.m.GetDatasets(ctx, GetDatasetsRequest{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, list.Datasets, 1, "a retry must not create a second row")
}

func TestCreateDatasetGeneratesID(t *testing.T) {
	env := newTestEnv(t, Config{})
	a := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})
	b := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})
	require.NotEqual(t, a, b)
}

func TestCreateDatasetSchemaConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	create(t, env.m, CreateDatasetRequest{ID: id(2), UserID: alice.ID, Schema: irisSchema})

	other := append(dataset.Schema{}, irisSchema...)
	other[3].Type = dataset.Numerical
	resp, err := env.m.CreateDataset(ctx, CreateDatasetRequest{ID: id(2), UserID: alice.ID, Schema: other})
	require.NoError(t, err)
	require.Equal(t, StatusDatasetIDAlreadyExists, resp.Status)

	got, err := env.m.GetDatasets(ctx, GetDatasetsRequest{ID: id(2)})
	require.NoError(t, err)
	require.Len(t, got.Datasets, 1)
	require.True(t, irisSchema.Equal(got.Datasets[0].Schema), "the original schema must be unchanged")

	cached, ok, err := env.m.schemas.Get(ctx, id(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, irisSchema.Equal(cached))
}

func TestCreateDatasetValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	create(t, env.m, CreateDatasetRequest{ID: id(3), UserID: alice.ID, Name: "taken", Schema: irisSchema})

	tests := []struct {
		name     string
		req      CreateDatasetRequest
		expected Status
	}{
		{
			name:     "short id",
			req:      CreateDatasetRequest{ID: []byte{1, 2, 3}, UserID: alice.ID, Schema: irisSchema},
			expected: StatusInvalidDatasetID,
		},
		{
			name:     "unknown user",
			req:      CreateDatasetRequest{UserID: 99, Schema: irisSchema},
			expected: StatusInvalidUserID,
		},
		{
			name: "unknown user wins over invalid schema",
			req: CreateDatasetRequest{UserID: 99, Schema: dataset.Schema{
				{Name: "a", Type: dataset.FeatureTypeUnknown},
			}},
			expected: StatusInvalidUserID,
		},
		{
			name: "unknown feature type",
			req: CreateDatasetRequest{UserID: alice.ID, Schema: dataset.Schema{
				{Name: "a", Type: dataset.Numerical},
				{Name: "b", Type: dataset.FeatureType(7)},
			}},
			expected: StatusInvalidFeatureType,
		},
		{
			name: "missing feature name",
			req: CreateDatasetRequest{UserID: alice.ID, Schema: dataset.Schema{
				{Name: "", Type: dataset.Numerical},
			}},
			expected: StatusInvalidFeatureType,
		},
		{
			name: "duplicate feature name",
			req: CreateDatasetRequest{UserID: alice.ID, Schema: dataset.Schema{
				{Name: "a", Type: dataset.Numerical},
				{Name: "a", Type: dataset.Categorical},
			}},
			expected: StatusDuplicateFeatureName,
		},
		{
			name:     "duplicate dataset name",
			req:      CreateDatasetRequest{UserID: alice.ID, Name: "taken", Schema: irisSchema},
			expected: StatusDuplicateDatasetName,
		},
		{
			name:     "duplicate dataset name with explicit id",
			req:      CreateDatasetRequest{ID: id(4), UserID: alice.ID, Name: "taken", Schema: irisSchema},
			expected: StatusDuplicateDatasetName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.m.CreateDataset(context.Background(), tt.req)
			require.NoError(t, err)
			require.Equal(t, tt.expected, resp.Status, resp.Msg)
			require.NotEmpty(t, resp.Msg)
			require.Empty(t, resp.ID)
		})
	}

	// the same name is fine for another user
	create(t, env.m, CreateDatasetRequest{UserID: bob.ID, Name: "taken", Schema: irisSchema})
}

func TestCreateDatasetCacheFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.kv.setFailBucket(schemacache.DefaultBucket)

	req := CreateDatasetRequest{ID: id(5), UserID: alice.ID, Name: "flaky", Schema: irisSchema}
	_, err := env.m.CreateDataset(ctx, req)
	require.Error(t, err)

	got, err := env.m.GetDatasets(ctx, GetDatasetsRequest{ID: id(5)})
	require.NoError(t, err)
	require.Empty(t, got.Datasets, "the metadata row must be rolled back")

	// a retry converges once the cache is back
	env.kv.setFailBucket("")
	require.Equal(t, id(5), create(t, env.m, req))
}

func TestCreateDatasetConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	req := CreateDatasetRequest{ID: id(6), UserID: alice.ID, Name: "race", Schema: irisSchema}

	var wg sync.WaitGroup
	statuses := make(chan Status, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.m.CreateDataset(ctx, req)
			if err == nil {
				statuses <- resp.Status
			}
		}()
	}
	wg.Wait()
	close(statuses)

	n := 0
	for s := range statuses {
		require.Equal(t, StatusOK, s)
		n++
	}
	require.Equal(t, 8, n)

	list, err := env.m.GetDatasets(ctx, GetDatasetsRequest{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, list.Datasets, 1)
}

// --------------------------------------------------------------------------
// DeleteDataset and GetDatasets
// --------------------------------------------------------------------------

func TestDeleteDataset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	resp, err := env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.True(t, resp.Updated)

	resp, err = env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.False(t, resp.Updated)

	resp, err = env.m.DeleteDataset(ctx, []byte("short"))
	require.NoError(t, err)
	require.Equal(t, StatusInvalidDatasetID, resp.Status)

	// without purging, the cached schema stays
	_, ok, err := env.m.schemas.Get(ctx, dsID)
	require.NoError(t, err)
	require.True(t, ok)

	// the id can be used again
	require.Equal(t, dsID, create(t, env.m, CreateDatasetRequest{ID: dsID, UserID: bob.ID, Schema: irisSchema[:1]}))
}

func TestDeleteDatasetPurge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{PurgeOnDelete: true})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	put, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0), irisRecord(1)})
	require.NoError(t, err)
	require.Equal(t, StatusOK, put.Status)

	resp, err := env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	require.True(t, resp.Updated)

	_, ok, err := env.m.schemas.Get(ctx, dsID)
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := env.kv.Keys(ctx, records.BucketName(records.DefaultBucketPrefix, dsID))
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestCreateDatasetReusesDeletedID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{MaxRandomIndex: 1 << 20})
	dsID := create(t, env.m, CreateDatasetRequest{ID: id(9), UserID: alice.ID, Schema: irisSchema})

	put, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0), irisRecord(1), irisRecord(2)})
	require.NoError(t, err)
	require.Equal(t, StatusOK, put.Status)

	deleted, err := env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	require.True(t, deleted.Updated)

	require.Equal(t, dsID, create(t, env.m, CreateDatasetRequest{ID: dsID, UserID: alice.ID, Schema: irisSchema}))

	sum, err := env.m.GetSummary(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, StatusOK, sum.Status)
	require.Zero(t, sum.Summary.NumRecords)

	got, err := env.m.GetRecords(ctx, dsID, put.RecordIDs)
	require.NoError(t, err)
	require.Equal(t, StatusOK, got.Status)
	require.Empty(t, got.Records)

	sample, err := env.m.SampleRecords(ctx, dsID, 1, 0)
	require.NoError(t, err)
	require.Empty(t, sample.Records)

	// the new dataset starts counting from scratch
	_, err = env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(3)})
	require.NoError(t, err)
	sum, err = env.m.GetSummary(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), sum.Summary.NumRecords)
}

func TestGetDatasets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	first := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Name: "first", Schema: irisSchema, Private: true})
	second := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Name: "second", Schema: irisSchema, Frozen: true})

	byUser, err := env.m.GetDatasets(ctx, GetDatasetsRequest{UserID: alice.ID})
	require.NoError(t, err)
	require.Equal(t, StatusOK, byUser.Status)
	require.Len(t, byUser.Datasets, 2)

	byName, err := env.m.GetDatasets(ctx, GetDatasetsRequest{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, byName.Datasets, 2)

	for i, dsID := range [][]byte{first, second} {
		byID, err := env.m.GetDatasets(ctx, GetDatasetsRequest{ID: dsID})
		require.NoError(t, err)
		require.Len(t, byID.Datasets, 1)

		ds := byID.Datasets[0]
		require.Equal(t, "alice", ds.Username)
		require.Equal(t, "alice@example.com", ds.Email)
		require.True(t, ds.Equal(byUser.Datasets[i]), "by id and by user must agree")
		require.True(t, ds.Equal(byName.Datasets[i]), "by id and by username must agree")
	}
	require.True(t, byUser.Datasets[0].Private)
	require.True(t, byUser.Datasets[1].Frozen)

	empty, err := env.m.GetDatasets(ctx, GetDatasetsRequest{UserID: bob.ID})
	require.NoError(t, err)
	require.Equal(t, StatusOK, empty.Status)
	require.NotNil(t, empty.Datasets)
	require.Empty(t, empty.Datasets)

	empty, err = env.m.GetDatasets(ctx, GetDatasetsRequest{ID: id(0x7f)})
	require.NoError(t, err)
	require.Equal(t, StatusOK, empty.Status)
	require.Empty(t, empty.Datasets)

	for _, req := range []GetDatasetsRequest{
		{},
		{ID: first, UserID: alice.ID},
		{UserID: alice.ID, Username: "alice"},
		{ID: []byte{1}},
	} {
		resp, err := env.m.GetDatasets(ctx, req)
		require.NoError(t, err)
		require.Equal(t, StatusInvalidRequest, resp.Status)
	}
}

// --------------------------------------------------------------------------
// GenerateID
// --------------------------------------------------------------------------

func TestGenerateID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	resp, err := env.m.GenerateID(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.IDs, 10)
	seen := make(map[string]struct{})
	for _, id := range resp.IDs {
		require.Len(t, id, dataset.IDLength)
		seen[string(id)] = struct{}{}
	}
	require.Len(t, seen, 10)

	resp, err = env.m.GenerateID(ctx, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, StatusCountTooLarge, resp.Status)
	require.Equal(t, "Cannot generate more than 100000 in one call (1000000 requested).", resp.Msg)
	require.Empty(t, resp.IDs)

	resp, err = env.m.GenerateID(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Empty(t, resp.IDs)

	resp, err = env.m.GenerateID(ctx, -1)
	require.NoError(t, err)
	require.Equal(t, StatusInvalidRequest, resp.Status)

	limited := newTestEnv(t, Config{MaxGenerateIDCount: 5})
	resp, err = limited.m.GenerateID(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, StatusCountTooLarge, resp.Status)
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

func TestPutRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	recs := make([]dataset.Record, 12)
	for i := range recs {
		recs[i] = irisRecord(i)
	}
	resp, err := env.m.PutRecords(ctx, dsID, recs)
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status, resp.Msg)
	require.Len(t, resp.RecordIDs, len(recs))

	got, err := env.m.GetRecords(ctx, dsID, resp.RecordIDs)
	require.NoError(t, err)
	require.Equal(t, StatusOK, got.Status)
	require.Len(t, got.Records, len(recs))
	for i, r := range got.Records {
		require.Len(t, r.ID, dataset.RecordIDLength)
		require.Equal(t, resp.RecordIDs[i], r.ID)
		require.Equal(t, recs[i].Numericals, r.Numericals)
		require.Equal(t, recs[i].Categoricals, r.Categoricals)
	}

	empty, err := env.m.PutRecords(ctx, dsID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOK, empty.Status)
	require.Empty(t, empty.RecordIDs)

	summary, err := env.m.GetSummary(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, StatusOK, summary.Status)
	require.EqualValues(t, len(recs), summary.Summary.NumRecords)
	require.EqualValues(t, len(recs), summary.Summary.Features[3].Histogram["setosa"])
}

func TestPutRecordsUnknownDataset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	for _, dsID := range [][]byte{id(0x33), {1, 2}} {
		resp, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0)})
		require.NoError(t, err)
		require.Equal(t, StatusInvalidDatasetID, resp.Status)
		require.Empty(t, resp.RecordIDs)
	}

	keys, err := env.kv.Keys(ctx, records.BucketName(records.DefaultBucketPrefix, id(0x33)))
	require.NoError(t, err)
	require.Empty(t, keys, "no records may be written for an unknown dataset")
}

func TestPutRecordsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	tests := []struct {
		name   string
		record dataset.Record
	}{
		{"missing numerical", dataset.Record{Numericals: []float64{1, 2}, Categoricals: []string{"a"}}},
		{"extra categorical", dataset.Record{Numericals: []float64{1, 2, 3}, Categoricals: []string{"a", "b"}}},
		{"short id", dataset.Record{ID: []byte{1}, Numericals: []float64{1, 2, 3}, Categoricals: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0), tt.record})
			require.NoError(t, err)
			require.Equal(t, StatusInvalidRecord, resp.Status)
			require.Contains(t, resp.Msg, "record 1")
			require.Empty(t, resp.RecordIDs)
		})
	}

	keys, err := env.kv.Keys(ctx, records.BucketName(records.DefaultBucketPrefix, dsID))
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPutRecordsStoreFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	bucket := records.BucketName(records.DefaultBucketPrefix, dsID)
	env.kv.setFailBucket(bucket)
	_, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0), irisRecord(1)})
	require.Error(t, err)

	keys, err := env.kv.Keys(ctx, bucket)
	require.NoError(t, err)
	require.Empty(t, keys)

	summary, err := env.m.GetSummary(ctx, dsID)
	require.NoError(t, err)
	require.EqualValues(t, 0, summary.Summary.NumRecords, "failed writes must not be summarized")
}

func TestGetAndSampleRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{MaxRandomIndex: 1 << 20})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	recs := make([]dataset.Record, 50)
	for i := range recs {
		recs[i] = irisRecord(i)
	}
	put, err := env.m.PutRecords(ctx, dsID, recs)
	require.NoError(t, err)

	sample, err := env.m.SampleRecords(ctx, dsID, 1, 20)
	require.NoError(t, err)
	require.Equal(t, StatusOK, sample.Status)
	require.Len(t, sample.Records, 20)

	resp, err := env.m.SampleRecords(ctx, dsID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInvalidRequest, resp.Status)

	resp, err = env.m.SampleRecords(ctx, id(0x44), 0.5, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInvalidDatasetID, resp.Status)

	resp, err = env.m.GetRecords(ctx, dsID, [][]byte{put.RecordIDs[0], {1, 2, 3}})
	require.NoError(t, err)
	require.Equal(t, StatusInvalidRecord, resp.Status)

	resp, err = env.m.GetRecords(ctx, id(0x44), put.RecordIDs)
	require.NoError(t, err)
	require.Equal(t, StatusInvalidDatasetID, resp.Status)
}

func TestGetSummaryUnknownDataset(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, err := env.m.GetSummary(context.Background(), id(0x55))
	require.NoError(t, err)
	require.Equal(t, StatusInvalidDatasetID, resp.Status)
	require.Nil(t, resp.Summary)
}

// recordingListener records the calls it receives.
type recordingListener struct {
	put     int
	deleted [][]byte
}

func (l *recordingListener) OnRecordsPut(_ context.Context, _ dataset.Dataset, recs []dataset.Record) {
	l.put += len(recs)
}

func (l *recordingListener) OnDatasetDeleted(_ context.Context, datasetID []byte) {
	l.deleted = append(l.deleted, datasetID)
}

func TestListeners(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	l := &recordingListener{}
	env.m.AddListener(l)

	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})
	_, err := env.m.PutRecords(ctx, dsID, []dataset.Record{irisRecord(0), irisRecord(1), irisRecord(2)})
	require.NoError(t, err)
	require.Equal(t, 3, l.put)

	_, err = env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	_, err = env.m.DeleteDataset(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, [][]byte{dsID}, l.deleted, "only an actual delete is announced")
}

func TestSummaryCountsAddedRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	dsID := create(t, env.m, CreateDatasetRequest{UserID: alice.ID, Schema: irisSchema})

	first := irisRecord(0)
	first.ID = []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := env.m.PutRecords(ctx, dsID, []dataset.Record{first})
	require.NoError(t, err)

	// a replaced record and a repeated id are counted once
	again := irisRecord(1)
	again.ID = first.ID
	dup := irisRecord(2)
	dup.ID = []byte{2, 0, 0, 0, 0, 0, 0, 0}
	put, err := env.m.PutRecords(ctx, dsID, []dataset.Record{again, dup, dup, irisRecord(3)})
	require.NoError(t, err)
	require.Equal(t, StatusOK, put.Status)
	require.Len(t, put.RecordIDs, 4)

	sum, err := env.m.GetSummary(ctx, dsID)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum.Summary.NumRecords)
}

// --------------------------------------------------------------------------
// Scenario
// --------------------------------------------------------------------------

func TestCreateInsertDeleteScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	created, err := env.m.CreateDataset(ctx, CreateDatasetRequest{
		UserID: alice.ID,
		Name:   "iris",
		Schema: irisSchema,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, created.Status)

	recs := make([]dataset.Record, 9)
	for i := range recs {
		recs[i] = irisRecord(i)
	}
	put, err := env.m.PutRecords(ctx, created.ID, recs)
	require.NoError(t, err)
	require.Equal(t, StatusOK, put.Status)
	require.Len(t, put.RecordIDs, 9)
	distinct := make(map[string]struct{})
	for _, rid := range put.RecordIDs {
		require.Len(t, rid, dataset.RecordIDLength)
		distinct[string(rid)] = struct{}{}
	}
	require.Len(t, distinct, 9)

	deleted, err := env.m.DeleteDataset(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, deleted.Updated)

	got, err := env.m.GetDatasets(ctx, GetDatasetsRequest{ID: created.ID})
	require.NoError(t, err)
	require.Equal(t, StatusOK, got.Status)
	require.Empty(t, got.Datasets)
}

func TestStatusJSON(t *testing.T) {
	for s := StatusOK; s <= StatusInvalidRecord; s++ {
		parsed, ok := ParseStatus(s.String())
		require.True(t, ok)
		require.Equal(t, s, parsed)
	}
	_, ok := ParseStatus("NOPE")
	require.False(t, ok)
	require.Equal(t, "Status(200)", Status(200).String())
}
