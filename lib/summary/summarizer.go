package summary

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/schemacache"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var Logger = logger.GetLogger("summary")

// DefaultBucket is the bucket the summaries are persisted in.
const DefaultBucket = "/summarizers"

// entry guards the summary of one dataset. summary is nil if the dataset has no schema.
type entry struct {
	mu      sync.Mutex
	summary *Summary
}

// Summarizer maintains the summaries of all datasets. Summaries are loaded lazily from the
// key-value store on first use and written back after every update.
type Summarizer struct {
	kv      store.IStore
	schemas *schemacache.Cache
	bucket  string

	entries *xsync.MapOf[string, *entry]
	loads   singleflight.Group
}

// NewSummarizer creates a summarizer persisting to bucket (DefaultBucket if empty). Schemas
// of datasets without a persisted summary are read from schemas.
func NewSummarizer(kv store.IStore, schemas *schemacache.Cache, bucket string) *Summarizer {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Summarizer{
		kv:      kv,
		schemas: schemas,
		bucket:  bucket,
		entries: xsync.NewMapOf[string, *entry](),
	}
}

// --------------------------------------------------------------------------
// Listener Methods
// --------------------------------------------------------------------------

// OnRecordsPut adds freshly stored records to the summary of their dataset. Errors are logged,
// the records are stored regardless.
func (s *Summarizer) OnRecordsPut(ctx context.Context, ds dataset.Dataset, records []dataset.Record) {
	if err := s.Push(ctx, ds, records); err != nil {
		Logger.Warningf("could not update summary of dataset %s: %v", dataset.EncodeID(ds.ID), err)
	}
}

// OnDatasetDeleted drops the cached summary of a dataset. The persisted summary is only removed
// by Purge.
func (s *Summarizer) OnDatasetDeleted(_ context.Context, datasetID []byte) {
	s.entries.Delete(string(datasetID))
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Push adds records to the summary of a dataset and persists the result.
func (s *Summarizer) Push(ctx context.Context, ds dataset.Dataset, records []dataset.Record) error {
	e, err := s.load(ctx, ds.ID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := New(ds.ID, ds.Schema)
	if e.summary != nil && e.summary.Schema().Equal(ds.Schema) {
		updated = e.summary.Clone()
	}
	for _, r := range records {
		if err := updated.Push(r); err != nil {
			return err
		}
	}

	if err := s.save(ctx, updated); err != nil {
		return err
	}
	e.summary = updated
	return nil
}

// Get returns a copy of the summary of a dataset. The boolean is false if neither a summary
// nor a schema is known for the dataset.
func (s *Summarizer) Get(ctx context.Context, datasetID []byte) (*Summary, bool, error) {
	e, err := s.load(ctx, datasetID)
	if err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.summary == nil {
		// the schema may have been published since the last lookup
		s.entries.Delete(string(datasetID))
		return nil, false, nil
	}
	return e.summary.Clone(), true, nil
}

// Purge removes the persisted and the cached summary of a dataset.
func (s *Summarizer) Purge(ctx context.Context, datasetID []byte) error {
	s.entries.Delete(string(datasetID))
	return errors.Wrapf(s.kv.Delete(ctx, s.bucket, datasetID), "purge summary of dataset %s", dataset.EncodeID(datasetID))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// load returns the entry of a dataset, reading it from the store if it is not cached.
// Concurrent loads of the same dataset are collapsed into one.
func (s *Summarizer) load(ctx context.Context, datasetID []byte) (*entry, error) {
	key := string(datasetID)
	if e, ok := s.entries.Load(key); ok {
		return e, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		if e, ok := s.entries.Load(key); ok {
			return e, nil
		}
		summary, err := s.read(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		e, _ := s.entries.LoadOrStore(key, &entry{summary: summary})
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// read returns the persisted summary of a dataset, or an empty one if only the schema is known.
func (s *Summarizer) read(ctx context.Context, datasetID []byte) (*Summary, error) {
	b, ok, err := s.kv.Get(ctx, s.bucket, datasetID)
	if err != nil {
		return nil, errors.Wrapf(err, "read summary of dataset %s", dataset.EncodeID(datasetID))
	}
	if ok {
		summary := &Summary{}
		if err := json.Unmarshal(b, summary); err != nil {
			return nil, errors.Wrapf(err, "decode summary of dataset %s", dataset.EncodeID(datasetID))
		}
		return summary, nil
	}

	Logger.Debugf("no summary stored for dataset %s, looking up its schema", dataset.EncodeID(datasetID))
	schema, ok, err := s.schemas.Get(ctx, datasetID)
	if err != nil || !ok {
		return nil, err
	}
	return New(datasetID, schema), nil
}

func (s *Summarizer) save(ctx context.Context, summary *Summary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	return errors.Wrapf(s.kv.Put(ctx, s.bucket, summary.DatasetID, b, nil), "save summary of dataset %s", dataset.EncodeID(summary.DatasetID))
}
