// Package transport defines the interfaces for moving serialized RPC messages between
// clients and servers. Implementations exist for TCP and Unix sockets (package base with
// the tcp and unix connectors), HTTP and gRPC.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Every request addresses a service by id, so that one server can expose several services
// (e.g. the dataset manager and the key-value store) over the same endpoint. The deadline of
// the client context travels with the request and bounds the context of the handler.
package transport
