// Package metadata defines the adapter to the authoritative relational store for datasets
// and their owners.
//
// The relational store is the final arbiter of concurrent creations: its uniqueness
// constraints on the dataset id and on (user id, name) decide which of several racing
// CreateDataset calls wins. CreateDataset takes a PublishFunc that runs while the new row
// is written but not committed, which is how the schema cache write is made part of the
// creation: the row only becomes visible after the schema is retrievable from the cache.
//
// Implementations:
//
//   - sqlstore: MySQL/MariaDB through sqlx.
//
//   - memstore: in-memory store with the same locking behavior, for tests and development.
package metadata
