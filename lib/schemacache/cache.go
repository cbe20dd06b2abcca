package schemacache

import (
	"bytes"
	"context"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("schemacache")

// DefaultBucket is the bucket the schemas are stored in if none is configured.
const DefaultBucket = "/ml/sources/schemas/"

// ErrVerifyFailed is returned by Publish if the schema read back differs from the one written.
var ErrVerifyFailed = errors.New("schema cache verification failed")

// Cache stores the encoded schema of each dataset under its raw id.
type Cache struct {
	kv     store.IStore
	bucket string
}

// New creates a schema cache on top of kv. An empty bucket selects DefaultBucket.
func New(kv store.IStore, bucket string) *Cache {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Cache{kv: kv, bucket: bucket}
}

// Bucket returns the bucket the schemas are stored in.
func (c *Cache) Bucket() string {
	return c.bucket
}

// Publish writes the schema of a dataset and reads it back. It fails if either step fails
// or if the stored bytes differ from the written ones.
func (c *Cache) Publish(ctx context.Context, id []byte, schema dataset.Schema) error {
	encoded := dataset.MarshalSchema(schema)
	if err := c.kv.Put(ctx, c.bucket, id, encoded, nil); err != nil {
		return errors.Wrapf(err, "write schema of dataset %s", dataset.EncodeID(id))
	}

	stored, ok, err := c.kv.Get(ctx, c.bucket, id)
	if err != nil {
		return errors.Wrapf(err, "read back schema of dataset %s", dataset.EncodeID(id))
	}
	if !ok || !bytes.Equal(stored, encoded) {
		return errors.WithMessagef(ErrVerifyFailed, "dataset %s", dataset.EncodeID(id))
	}

	Logger.Debugf("published schema of dataset %s (%d features)", dataset.EncodeID(id), len(schema))
	return nil
}

// PublishDataset adapts Publish to a metadata.PublishFunc.
func (c *Cache) PublishDataset(ctx context.Context, ds dataset.Dataset) error {
	return c.Publish(ctx, ds.ID, ds.Schema)
}

// Get returns the cached schema of a dataset.
func (c *Cache) Get(ctx context.Context, id []byte) (dataset.Schema, bool, error) {
	b, ok, err := c.kv.Get(ctx, c.bucket, id)
	if err != nil {
		return nil, false, errors.Wrapf(err, "read schema of dataset %s", dataset.EncodeID(id))
	}
	if !ok {
		return nil, false, nil
	}
	schema, err := dataset.UnmarshalSchema(b)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode schema of dataset %s", dataset.EncodeID(id))
	}
	return schema, true, nil
}

// Evict removes the schema of a dataset. Evicting a missing schema is not an error.
func (c *Cache) Evict(ctx context.Context, id []byte) error {
	return errors.Wrapf(c.kv.Delete(ctx, c.bucket, id), "evict schema of dataset %s", dataset.EncodeID(id))
}
