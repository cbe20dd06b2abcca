// Package lstore provides an in-memory implementation of the store.IStore interface.
//
// Buckets are kept in a concurrent map, each bucket guards its objects with its own
// read-write lock so that writes to different datasets never contend. Every secondary
// index is a b-tree ordered by (value, key), which makes range queries logarithmic.
//
// Nothing is persisted: the store is meant for tests and local development.
// Use bstore for persistent deployments.
package lstore
