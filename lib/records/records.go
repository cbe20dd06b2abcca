package records

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/ids"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("records")

const (
	// DefaultBucketPrefix is prepended to the encoded dataset id to form the bucket name.
	DefaultBucketPrefix = "/ml/sources/data/"
	// IndexName is the name of the random index every record is stored with.
	IndexName = "randomindex_int"
	// DefaultMaxRandomIndex is the exclusive upper bound of the random index.
	DefaultMaxRandomIndex int64 = math.MaxInt64
	// DefaultWriteConcurrency is the number of records written in parallel by one call.
	DefaultWriteConcurrency = 16
)

// Config configures a record Store. Zero values select the defaults.
type Config struct {
	BucketPrefix     string
	MaxRandomIndex   int64
	WriteConcurrency int
}

// Store reads and writes the records of datasets.
type Store struct {
	kv     store.IStore
	ids    *ids.Generator
	config Config
}

// New creates a record store on top of kv. Missing record ids are drawn from gen.
func New(kv store.IStore, gen *ids.Generator, config Config) *Store {
	if config.BucketPrefix == "" {
		config.BucketPrefix = DefaultBucketPrefix
	}
	if config.MaxRandomIndex <= 0 {
		config.MaxRandomIndex = DefaultMaxRandomIndex
	}
	if config.WriteConcurrency <= 0 {
		config.WriteConcurrency = DefaultWriteConcurrency
	}
	return &Store{kv: kv, ids: gen, config: config}
}

// BucketName returns the bucket of a dataset: prefix + base64url(id) + "/".
func BucketName(prefix string, datasetID []byte) string {
	return prefix + dataset.EncodeID(datasetID) + "/"
}

// Bucket returns the bucket the records of a dataset are stored in.
func (s *Store) Bucket(datasetID []byte) string {
	return BucketName(s.config.BucketPrefix, datasetID)
}

// MaxRandomIndex returns the exclusive upper bound of the random index.
func (s *Store) MaxRandomIndex() int64 {
	return s.config.MaxRandomIndex
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// write is a single record write of a Put call.
type write struct {
	id    []byte
	pos   int // last input position with this id
	value []byte
	index int64
	// replaced is set if the record existed before the call, previous holds its value
	replaced bool
	previous []byte
	written  bool
}

// Put stores records in the bucket of a dataset and returns their ids in input order.
// Records without an id get a generated one. The records must have been checked against the
// schema of the dataset by the caller.
//
// If any write fails, the bucket is reset to its state before the call and the first error is
// returned: records the call created are removed, records it replaced get their previous value
// back (under a new random index). If the same id occurs more than once, the last record with
// that id is stored.
func (s *Store) Put(ctx context.Context, datasetID []byte, recs []dataset.Record) ([][]byte, error) {
	recordIDs, _, err := s.PutCreated(ctx, datasetID, recs)
	return recordIDs, err
}

// PutCreated is Put that also reports for every input position whether the call added a new
// record there. It is false for records that replaced an existing one and for all but the last
// position of an id occurring more than once.
func (s *Store) PutCreated(ctx context.Context, datasetID []byte, recs []dataset.Record) (recordIDs [][]byte, created []bool, err error) {
	if len(recs) == 0 {
		return [][]byte{}, []bool{}, nil
	}

	recordIDs, err = s.assignIDs(recs)
	if err != nil {
		return nil, nil, err
	}

	// one write per distinct id, the last record wins
	writes := make([]*write, 0, len(recs))
	byID := make(map[string]*write, len(recs))
	for i, r := range recs {
		w := &write{
			id:    recordIDs[i],
			pos:   i,
			value: dataset.MarshalRecord(r),
			index: rand.Int64N(s.config.MaxRandomIndex),
		}
		if prev, ok := byID[string(w.id)]; ok {
			*prev = *w
			continue
		}
		byID[string(w.id)] = w
		writes = append(writes, w)
	}

	explicit := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.ID != nil {
			explicit[string(r.ID)] = true
		}
	}

	bucket := s.Bucket(datasetID)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.WriteConcurrency)
	for _, w := range writes {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if explicit[string(w.id)] {
				previous, exists, err := s.kv.Get(gctx, bucket, w.id)
				if err != nil {
					return errors.Wrapf(err, "read record %x", w.id)
				}
				w.replaced, w.previous = exists, previous
			}
			if err := s.kv.Put(gctx, bucket, w.id, w.value, store.Indexes{IndexName: w.index}); err != nil {
				return errors.Wrapf(err, "write record %x", w.id)
			}
			w.written = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.compensate(context.WithoutCancel(ctx), bucket, writes)
		return nil, nil, err
	}

	created = make([]bool, len(recs))
	for _, w := range writes {
		created[w.pos] = !w.replaced
	}

	Logger.Debugf("stored %d records in %s", len(writes), bucket)
	return recordIDs, created, nil
}

// assignIDs returns the id of every record, generating the missing ones.
func (s *Store) assignIDs(recs []dataset.Record) ([][]byte, error) {
	missing := 0
	for _, r := range recs {
		if r.ID == nil {
			missing++
		}
	}

	generated := make([][]byte, 0, missing)
	for missing > 0 {
		n := min(missing, s.ids.MaxCount())
		batch, err := s.ids.RecordIDs(n)
		if err != nil {
			return nil, err
		}
		generated = append(generated, batch...)
		missing -= n
	}

	result := make([][]byte, len(recs))
	for i, r := range recs {
		if r.ID != nil {
			result[i] = append([]byte(nil), r.ID...)
			continue
		}
		result[i], generated = generated[0], generated[1:]
	}
	return result, nil
}

// compensate undoes the writes of a failed call. Failures are only logged.
func (s *Store) compensate(ctx context.Context, bucket string, writes []*write) {
	removed, restored := 0, 0
	for _, w := range writes {
		if !w.written {
			continue
		}
		if w.replaced {
			err := s.kv.Put(ctx, bucket, w.id, w.previous, store.Indexes{IndexName: rand.Int64N(s.config.MaxRandomIndex)})
			if err != nil {
				Logger.Errorf("could not restore record %x in %s after failed write: %v", w.id, bucket, err)
				continue
			}
			restored++
			continue
		}
		if err := s.kv.Delete(ctx, bucket, w.id); err != nil {
			Logger.Errorf("could not remove record %x from %s after failed write: %v", w.id, bucket, err)
			continue
		}
		removed++
	}
	Logger.Warningf("write to %s failed, removed %d and restored %d records written by the call", bucket, removed, restored)
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Get returns the records with the given ids in request order. Missing records are skipped.
func (s *Store) Get(ctx context.Context, datasetID []byte, recordIDs [][]byte) ([]dataset.Record, error) {
	bucket := s.Bucket(datasetID)
	result := make([]dataset.Record, 0, len(recordIDs))
	for _, id := range recordIDs {
		if len(id) != dataset.RecordIDLength {
			return nil, errors.WithMessagef(dataset.ErrInvalidRecord, "record id has %d bytes, expected %d", len(id), dataset.RecordIDLength)
		}
		value, ok, err := s.kv.Get(ctx, bucket, id)
		if err != nil {
			return nil, errors.Wrapf(err, "read record %x", id)
		}
		if !ok {
			continue
		}
		r, err := dataset.UnmarshalRecord(id, value)
		if err != nil {
			return nil, errors.Wrapf(err, "decode record %x", id)
		}
		result = append(result, r)
	}
	return result, nil
}

// IDs returns the ids of all records of a dataset in ascending byte order.
func (s *Store) IDs(ctx context.Context, datasetID []byte) ([][]byte, error) {
	keys, err := s.kv.Keys(ctx, s.Bucket(datasetID))
	return keys, errors.Wrap(err, "list records")
}

// Sample returns a random sample of roughly fraction * count records, at most limit records
// if limit > 0. The sample is a random window of the random index, so records sampled by
// one call are independent of their insertion order.
func (s *Store) Sample(ctx context.Context, datasetID []byte, fraction float64, limit int) ([]dataset.Record, error) {
	if math.IsNaN(fraction) || fraction <= 0 || fraction > 1 {
		return nil, errors.Errorf("sample fraction must be in (0, 1], got %v", fraction)
	}

	maxIndex := s.config.MaxRandomIndex
	width := int64(fraction * float64(maxIndex))
	if fraction == 1 || width >= maxIndex {
		width = maxIndex
	}
	if width < 1 {
		width = 1
	}

	start := rand.Int64N(maxIndex)
	bucket := s.Bucket(datasetID)

	// [start, start+width) wrapped around maxIndex
	end := start + (width - 1)
	if end < start || end >= maxIndex {
		end = maxIndex - 1
	}
	keys, err := s.kv.IndexRange(ctx, bucket, IndexName, start, end, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sample records")
	}
	if covered := end - start + 1; covered < width && (limit <= 0 || len(keys) < limit) {
		rest := limit
		if limit > 0 {
			rest = limit - len(keys)
		}
		more, err := s.kv.IndexRange(ctx, bucket, IndexName, 0, width-covered-1, rest)
		if err != nil {
			return nil, errors.Wrap(err, "sample records")
		}
		keys = append(keys, more...)
	}

	return s.Get(ctx, datasetID, keys)
}

// Purge removes all records of a dataset.
func (s *Store) Purge(ctx context.Context, datasetID []byte) error {
	return errors.Wrapf(s.kv.DeleteBucket(ctx, s.Bucket(datasetID)), "purge records of dataset %s", dataset.EncodeID(datasetID))
}
