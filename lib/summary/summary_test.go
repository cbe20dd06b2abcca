package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/schemacache"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testID     = bytes.Repeat([]byte{0x11}, dataset.IDLength)
	testSchema = dataset.Schema{
		{Name: "width", Type: dataset.Numerical},
		{Name: "color", Type: dataset.Categorical},
		{Name: "height", Type: dataset.Numerical},
	}
	testDataset = dataset.Dataset{ID: testID, UserID: 1, Schema: testSchema}
)

func record(width float64, color string, height float64) dataset.Record {
	return dataset.Record{Numericals: []float64{width, height}, Categoricals: []string{color}}
}

func TestSummaryPush(t *testing.T) {
	s := New(testID, testSchema)
	require.True(t, testSchema.Equal(s.Schema()))

	require.NoError(t, s.Push(record(2, "red", 1)))
	require.NoError(t, s.Push(record(4, "red", math.NaN())))
	require.NoError(t, s.Push(record(6, "blue", math.Inf(1))))
	require.NoError(t, s.Push(record(8, "", 3)))
	require.EqualValues(t, 4, s.NumRecords)

	width := s.Features[0]
	require.Equal(t, "width", width.Name)
	require.EqualValues(t, 4, width.NumValues)
	require.EqualValues(t, 0, width.NumMissing)
	require.InDelta(t, 5.0, width.Mean, 1e-12)
	require.InDelta(t, 20.0/3.0, width.Variance(), 1e-12)
	require.Equal(t, 2.0, width.Min)
	require.Equal(t, 8.0, width.Max)

	color := s.Features[1]
	require.EqualValues(t, 3, color.NumValues)
	require.EqualValues(t, 1, color.NumMissing)
	require.Equal(t, map[string]uint64{"red": 2, "blue": 1}, color.Histogram)
	require.Equal(t, 2, color.NumUniqueValues())

	height := s.Features[2]
	require.EqualValues(t, 2, height.NumValues)
	require.EqualValues(t, 2, height.NumMissing)
	require.InDelta(t, 2.0, height.Mean, 1e-12)

	err := s.Push(dataset.Record{Numericals: []float64{1}})
	require.True(t, errors.Is(err, dataset.ErrInvalidRecord))
	require.EqualValues(t, 4, s.NumRecords)
}

func TestVarianceUndefined(t *testing.T) {
	s := New(testID, testSchema)
	require.True(t, math.IsNaN(s.Features[0].Variance()))
	require.NoError(t, s.Push(record(1, "a", 1)))
	require.True(t, math.IsNaN(s.Features[0].Variance()))
}

func TestClone(t *testing.T) {
	s := New(testID, testSchema)
	require.NoError(t, s.Push(record(1, "a", 1)))

	c := s.Clone()
	require.NoError(t, c.Push(record(1, "a", 1)))
	require.EqualValues(t, 1, s.Features[1].Histogram["a"])
	require.EqualValues(t, 2, c.Features[1].Histogram["a"])
}

func newSummarizer(t *testing.T) (*Summarizer, *schemacache.Cache) {
	kv := lstore.NewLocalStore()
	t.Cleanup(func() { _ = kv.Close() })
	cache := schemacache.New(kv, "")
	return NewSummarizer(kv, cache, ""), cache
}

func TestSummarizer(t *testing.T) {
	ctx := context.Background()
	s, cache := newSummarizer(t)

	_, ok, err := s.Get(ctx, testID)
	require.NoError(t, err)
	require.False(t, ok, "unknown dataset")

	// once the schema is published, an empty summary exists
	require.NoError(t, cache.Publish(ctx, testID, testSchema))
	summary, ok, err := s.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, summary.NumRecords)

	s.OnRecordsPut(ctx, testDataset, []dataset.Record{record(1, "x", 2), record(3, "y", 4)})
	summary, ok, err = s.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, summary.NumRecords)
	require.InDelta(t, 2.0, summary.Features[0].Mean, 1e-12)

	// the returned summary is a copy
	summary.NumRecords = 100
	again, _, err := s.Get(ctx, testID)
	require.NoError(t, err)
	require.EqualValues(t, 2, again.NumRecords)

	// the persisted summary survives a restart
	restarted := NewSummarizer(s.kv, cache, "")
	loaded, ok, err := restarted.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, loaded.NumRecords)
	require.Equal(t, again.Features, loaded.Features)

	raw, ok, err := s.kv.Get(ctx, DefaultBucket, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, json.Valid(raw))

	require.NoError(t, s.Purge(ctx, testID))
	require.NoError(t, cache.Evict(ctx, testID))
	_, ok, err = s.Get(ctx, testID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSummarizerSchemaChange(t *testing.T) {
	ctx := context.Background()
	s, _ := newSummarizer(t)

	require.NoError(t, s.Push(ctx, testDataset, []dataset.Record{record(1, "a", 1)}))

	// a dataset recreated under the same id with another schema starts over
	other := testDataset
	other.Schema = dataset.Schema{{Name: "only", Type: dataset.Categorical}}
	s.OnDatasetDeleted(ctx, testID)
	require.NoError(t, s.Push(ctx, other, []dataset.Record{{Categoricals: []string{"z"}}}))

	summary, ok, err := s.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, summary.NumRecords)
	require.Len(t, summary.Features, 1)
}

func TestSummarizerConcurrentPush(t *testing.T) {
	ctx := context.Background()
	s, _ := newSummarizer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, s.Push(ctx, testDataset, []dataset.Record{record(1, "a", 1)}))
			}
		}()
	}
	wg.Wait()

	summary, ok, err := s.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 200, summary.NumRecords)
	require.EqualValues(t, 200, summary.Features[1].Histogram["a"])
}
