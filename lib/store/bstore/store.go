package bstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"google.golang.org/protobuf/encoding/protowire"
)

var Logger = logger.GetLogger("kv")

var (
	rootBucket    = []byte("saltfish")
	objectsBucket = []byte("objects")
	metaBucket    = []byte("meta")
	indexBucket   = []byte("index")
)

// Config configures the bolt file backing a store.
type Config struct {
	// Path of the database file, created if it does not exist
	Path string
	// NoSync skips fsync after each commit. Only use it for tests and bulk loads.
	NoSync bool
	// ReadOnly opens the file with a shared lock; all writes fail
	ReadOnly bool
	// FillPercent is the page fill factor for objects, defaults to bolt.DefaultFillPercent
	FillPercent float64
	// OpenTimeout is how long to wait for the file lock, 0 waits forever
	OpenTimeout time.Duration
}

type storeImpl struct {
	db          *bolt.DB
	fillPercent float64
	closed      atomic.Bool
}

// NewBoltStore opens (or creates) the bolt file described by config.
//
// Layout inside the file: one top level bucket holding a nested bucket per store bucket.
// Each store bucket has three children: "objects" (key -> value), "meta" (key -> encoded
// index values of the object) and "index" with one nested bucket per index whose keys are
// the order preserving encoding of the index value followed by the object key.
func NewBoltStore(config Config) (store.IStore, error) {
	if config.Path == "" {
		return nil, errors.Wrap(os.ErrInvalid, "bolt store needs a path")
	}

	fillPercent := config.FillPercent
	if fillPercent == 0 {
		fillPercent = bolt.DefaultFillPercent
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  config.OpenTimeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt store %s", config.Path)
	}

	if !config.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(rootBucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "initialize bolt store")
		}
	}

	Logger.Infof("opened bolt store %s", config.Path)

	return &storeImpl{
		db:          db,
		fillPercent: fillPercent,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(ctx context.Context, bucket string, key []byte, value []byte, indexes store.Indexes) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := store.CheckObject(bucket, key); err != nil {
		return err
	}
	if err := store.CheckIndexes(indexes); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		objects, err := b.CreateBucketIfNotExists(objectsBucket)
		if err != nil {
			return err
		}
		meta, err := b.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		idx, err := b.CreateBucketIfNotExists(indexBucket)
		if err != nil {
			return err
		}
		objects.FillPercent = s.fillPercent

		if err := removeIndexEntries(meta, idx, key); err != nil {
			return err
		}

		if value == nil {
			value = []byte{}
		}
		if err := objects.Put(key, value); err != nil {
			return err
		}
		if len(indexes) == 0 {
			return meta.Delete(key)
		}
		if err := meta.Put(key, encodeIndexes(indexes)); err != nil {
			return err
		}
		for name, v := range indexes {
			tree, err := idx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
			if err := tree.Put(indexKey(v, key), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr(err, "put")
}

func (s *storeImpl) Get(ctx context.Context, bucket string, key []byte) (value []byte, loaded bool, err error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	if err := store.CheckObject(bucket, key); err != nil {
		return nil, false, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		objects := objectsOf(tx, bucket)
		if objects == nil {
			return nil
		}
		if v := objects.Get(key); v != nil {
			value = bytes.Clone(v)
			loaded = true
		}
		return nil
	})
	if err != nil {
		return nil, false, wrapErr(err, "get")
	}
	return value, loaded, nil
}

func (s *storeImpl) Has(ctx context.Context, bucket string, key []byte) (loaded bool, err error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if err := store.CheckObject(bucket, key); err != nil {
		return false, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		objects := objectsOf(tx, bucket)
		loaded = objects != nil && objects.Get(key) != nil
		return nil
	})
	return loaded, wrapErr(err, "has")
}

func (s *storeImpl) Delete(ctx context.Context, bucket string, key []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := store.CheckObject(bucket, key); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if err := removeIndexEntries(b.Bucket(metaBucket), b.Bucket(indexBucket), key); err != nil {
			return err
		}
		if err := b.Bucket(metaBucket).Delete(key); err != nil {
			return err
		}
		return b.Bucket(objectsBucket).Delete(key)
	})
	return wrapErr(err, "delete")
}

func (s *storeImpl) IndexRange(ctx context.Context, bucket, index string, min, max int64, limit int) ([][]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if bucket == "" || index == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "bucket and index must not be empty")
	}

	keys := make([][]byte, 0)
	if min > max {
		return keys, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		tree := b.Bucket(indexBucket).Bucket([]byte(index))
		if tree == nil {
			return nil
		}

		c := tree.Cursor()
		for k, _ := c.Seek(indexKey(min, nil)); k != nil; k, _ = c.Next() {
			if decodeIndexValue(k) > max {
				break
			}
			keys = append(keys, bytes.Clone(k[8:]))
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "index range")
	}
	return keys, nil
}

func (s *storeImpl) Keys(ctx context.Context, bucket string) ([][]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if bucket == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "bucket must not be empty")
	}

	keys := make([][]byte, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		objects := objectsOf(tx, bucket)
		if objects == nil {
			return nil
		}
		return objects.ForEach(func(k, _ []byte) error {
			keys = append(keys, bytes.Clone(k))
			return nil
		})
	})
	if err != nil {
		return nil, wrapErr(err, "keys")
	}
	// bolt iterates in byte order already, sort anyway so the contract does not depend on it
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

func (s *storeImpl) DeleteBucket(ctx context.Context, bucket string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if bucket == "" {
		return store.NewError(store.RetCInvalidOperation, "bucket must not be empty")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(rootBucket).DeleteBucket([]byte(bucket))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	return wrapErr(err, "delete bucket")
}

func (s *storeImpl) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return wrapErr(s.db.Close(), "close")
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// check fails if the store is closed or the context is done.
func (s *storeImpl) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	return ctx.Err()
}

// objectsOf returns the objects bucket of a store bucket or nil if it does not exist.
func objectsOf(tx *bolt.Tx, bucket string) *bolt.Bucket {
	b := tx.Bucket(rootBucket).Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Bucket(objectsBucket)
}

// removeIndexEntries deletes the index entries recorded for key in meta.
func removeIndexEntries(meta, idx *bolt.Bucket, key []byte) error {
	raw := meta.Get(key)
	if raw == nil {
		return nil
	}
	old, err := decodeIndexes(raw)
	if err != nil {
		return err
	}
	for name, v := range old {
		tree := idx.Bucket([]byte(name))
		if tree == nil {
			continue
		}
		if err := tree.Delete(indexKey(v, key)); err != nil {
			return err
		}
	}
	return nil
}

// indexKey returns the order preserving encoding of an index value followed by the key.
// Flipping the sign bit makes negative values sort before positive ones.
func indexKey(v int64, key []byte) []byte {
	b := make([]byte, 8, 8+len(key))
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return append(b, key...)
}

func decodeIndexValue(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[:8]) ^ (1 << 63))
}

// encodeIndexes writes (name, value) pairs as protobuf fields 1 (string) and 2 (sint64).
func encodeIndexes(indexes store.Indexes) []byte {
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b []byte
	for _, name := range names {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(indexes[name]))
	}
	return b
}

func decodeIndexes(b []byte) (store.Indexes, error) {
	indexes := make(store.Indexes)
	var name string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			name = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			indexes[name] = protowire.DecodeZigZag(v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return indexes, nil
}

// wrapErr converts bolt errors into store errors.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return store.Errorf(store.RetCClosed, "%s: %v", op, err)
	}
	return store.Errorf(store.RetCInternalError, "%s: %v", op, err)
}
