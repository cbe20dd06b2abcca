package server

import (
	"context"

	"github.com/ValentinKolb/saltfish/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It translates a request message into calls of the backend it wraps
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// The context carries the deadline of the request.
	// If an error occurs, it should be set in the response
	Handle(ctx context.Context, req *common.Message) (resp *common.Message)
}
