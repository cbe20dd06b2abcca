// Package store defines the interface of the key-value object store saltfish writes
// schemas and records to.
//
// The store is modeled after bucketed object stores with secondary indexes: objects are
// grouped in buckets, addressed by opaque byte keys and may carry integer indexes that can
// be queried by range. The index is what makes bounded random sampling of a dataset
// possible without a full scan of its bucket.
//
// Implementations:
//
//   - lstore: in-memory store for tests and single node deployments.
//
//   - bstore: persistent store backed by a bbolt file.
//
//   - rpc/client.NewRPCStore: a store served by another saltfish node, which allows several
//     service instances to share one bstore.
//
// The testing sub-package contains a conformance suite all implementations must pass.
package store
