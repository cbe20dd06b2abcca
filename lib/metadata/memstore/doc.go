// Package memstore provides an in-memory implementation of metadata.IStore.
//
// The store reproduces the parts of the relational store's behavior the dataset manager
// relies on: unique dataset ids, unique non-empty names per user, existing owners, and
// creations that stay invisible (and block competing creations) until their PublishFunc
// has returned.
package memstore
