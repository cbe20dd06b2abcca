package transport

import (
	"context"
	"errors"

	"github.com/ValentinKolb/saltfish/rpc/common"
)

// ErrClosed is returned by Send after the client transport has been closed.
var ErrClosed = errors.New("transport is closed")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the addressed service and a request as parameters and returns a response.
// The context carries the deadline of the client and is canceled when the server shuts down.
type ServerHandleFunc func(ctx context.Context, serviceID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves incoming requests until Close is called.
	// It returns nil after Close, otherwise the error that stopped the server.
	Listen(config common.ServerConfig) error
	// Close stops accepting requests and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to a service and returns the response. The deadline of the context
	// is sent to the server; without one the configured timeout applies.
	Send(ctx context.Context, serviceID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
