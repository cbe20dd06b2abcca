package lstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// btreeDegree is the degree of the per index b-trees.
const btreeDegree = 32

// indexItem is one entry of a secondary index. Items are ordered by value, then by key.
type indexItem struct {
	value int64
	key   string
}

func lessIndexItem(a, b indexItem) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.key < b.key
}

// object is a stored value together with the index values it was stored with.
type object struct {
	value   []byte
	indexes store.Indexes
}

// bucket holds the objects of one bucket and one b-tree per secondary index.
type bucket struct {
	mu      sync.RWMutex
	objects map[string]object
	indexes map[string]*btree.BTreeG[indexItem]
}

type storeImpl struct {
	buckets *xsync.MapOf[string, *bucket]
	closed  atomic.Bool
}

// NewLocalStore creates a new in-memory store.
// This store implementation is not persistent and only works within a single process.
func NewLocalStore() store.IStore {
	return &storeImpl{
		buckets: xsync.NewMapOf[string, *bucket](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(ctx context.Context, bucketName string, key []byte, value []byte, indexes store.Indexes) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := store.CheckObject(bucketName, key); err != nil {
		return err
	}
	if err := store.CheckIndexes(indexes); err != nil {
		return err
	}

	b, _ := s.buckets.LoadOrCompute(bucketName, func() *bucket {
		return &bucket{
			objects: make(map[string]object),
			indexes: make(map[string]*btree.BTreeG[indexItem]),
		}
	})

	k := string(key)
	obj := object{
		value:   bytes.Clone(value),
		indexes: make(store.Indexes, len(indexes)),
	}
	for name, v := range indexes {
		obj.indexes[name] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.objects[k]; ok {
		b.unindex(k, old)
	}
	b.objects[k] = obj
	for name, v := range obj.indexes {
		tree, ok := b.indexes[name]
		if !ok {
			tree = btree.NewG[indexItem](btreeDegree, lessIndexItem)
			b.indexes[name] = tree
		}
		tree.ReplaceOrInsert(indexItem{value: v, key: k})
	}
	return nil
}

func (s *storeImpl) Get(ctx context.Context, bucketName string, key []byte) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	if err := store.CheckObject(bucketName, key); err != nil {
		return nil, false, err
	}

	b, ok := s.buckets.Load(bucketName)
	if !ok {
		return nil, false, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(obj.value), true, nil
}

func (s *storeImpl) Has(ctx context.Context, bucketName string, key []byte) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if err := store.CheckObject(bucketName, key); err != nil {
		return false, err
	}

	b, ok := s.buckets.Load(bucketName)
	if !ok {
		return false, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok = b.objects[string(key)]
	return ok, nil
}

func (s *storeImpl) Delete(ctx context.Context, bucketName string, key []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := store.CheckObject(bucketName, key); err != nil {
		return err
	}

	b, ok := s.buckets.Load(bucketName)
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := string(key)
	if old, ok := b.objects[k]; ok {
		b.unindex(k, old)
		delete(b.objects, k)
	}
	return nil
}

func (s *storeImpl) IndexRange(ctx context.Context, bucketName, index string, min, max int64, limit int) ([][]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if bucketName == "" || index == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "bucket and index must not be empty")
	}

	keys := make([][]byte, 0)
	if min > max {
		return keys, nil
	}

	b, ok := s.buckets.Load(bucketName)
	if !ok {
		return keys, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	tree, ok := b.indexes[index]
	if !ok {
		return keys, nil
	}

	tree.AscendGreaterOrEqual(indexItem{value: min}, func(item indexItem) bool {
		if item.value > max {
			return false
		}
		keys = append(keys, []byte(item.key))
		return limit <= 0 || len(keys) < limit
	})
	return keys, nil
}

func (s *storeImpl) Keys(ctx context.Context, bucketName string) ([][]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if bucketName == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "bucket must not be empty")
	}

	keys := make([][]byte, 0)
	b, ok := s.buckets.Load(bucketName)
	if !ok {
		return keys, nil
	}

	b.mu.RLock()
	for k := range b.objects {
		keys = append(keys, []byte(k))
	}
	b.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

func (s *storeImpl) DeleteBucket(ctx context.Context, bucketName string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if bucketName == "" {
		return store.NewError(store.RetCInvalidOperation, "bucket must not be empty")
	}
	s.buckets.Delete(bucketName)
	return nil
}

func (s *storeImpl) Close() error {
	s.closed.Store(true)
	s.buckets.Clear()
	return nil
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

// unindex removes the index entries of an object. The caller must hold the write lock.
func (b *bucket) unindex(key string, obj object) {
	for name, v := range obj.indexes {
		if tree, ok := b.indexes[name]; ok {
			tree.Delete(indexItem{value: v, key: key})
		}
	}
}
