// Package rpc connects saltfish clients and nodes. A node exposes services (the dataset
// manager and the key-value store) under numeric ids; every request names the service it
// addresses, so any number of services share one endpoint.
//
// The package is organized into several subpackages:
//
//   - common: the Message exchanged by clients and servers, server and client configuration,
//     and the logger factory.
//
//   - transport: moving serialized messages over TCP, Unix sockets, HTTP or gRPC.
//
//   - serializer: converting messages to bytes (binary, JSON, GOB).
//
//   - server: the node. It opens the backends, builds the dataset manager and dispatches
//     requests to one adapter per service.
//
//   - client: implementations of store.IStore and manager.IDatasetManager that forward every
//     call to a node.
package rpc
