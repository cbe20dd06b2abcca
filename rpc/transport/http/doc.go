// Package http implements the transport interfaces on top of HTTP. Each request is a POST to
// /{serviceId} with the serialized message as body; the client deadline is sent in the
// X-Saltfish-Deadline header. Endpoints without scheme are prefixed with http://.
//
// Requests are distributed round-robin over the configured endpoints and retried with
// exponential backoff. With log level debug every request is logged.
package http
