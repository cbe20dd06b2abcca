// Package base implements the socket transport shared by the tcp and unix packages. It is
// extended with protocol-specific connectors.
//
// Wire Format:
//
//	Every request and response is one frame: serviceID (8 bytes), requestID (8 bytes),
//	deadline in unix nanoseconds (8 bytes, 0 = none) and the payload length (4 bytes),
//	all big endian, followed by the payload. Responses carry the requestID of their
//	request and no deadline. Frames are limited to 256 MB.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Keeps a pool of connections (ConnectionsPerEndpoint per endpoint)
//     and distributes requests round-robin. Requests are multiplexed on a connection and
//     correlated by requestID. A broken connection fails its waiting requests and is
//     re-established by the next request that selects it. Failed attempts are retried with
//     exponential backoff.
//
//   - serverTransport: Accepts connections and runs up to WorkersPerConn requests of one
//     connection in parallel. Close stops the listener, closes all connections and cancels
//     the contexts of running requests.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
