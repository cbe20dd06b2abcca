// Package grpc implements the transport interfaces on top of gRPC. All requests go through
// the single unary method /saltfish.Transport/Call. A pass-through codec carries the payload
// produced by the configured serializer, the service id is sent as request metadata and the
// client deadline is propagated by gRPC itself.
//
// Only requests failing with codes.Unavailable are retried.
package grpc
