// Package bstore provides a persistent implementation of the store.IStore interface
// backed by a single bbolt file.
//
// Every write is one bolt transaction, so an object and its index entries are always
// updated together. The file can only be opened by one process at a time; to share a
// bolt store between several saltfish instances, serve it with a "kv" service and use
// rpc/client.NewRPCStore on the other instances.
package bstore
