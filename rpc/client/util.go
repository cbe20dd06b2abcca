package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/serializer"
	"github.com/ValentinKolb/saltfish/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPCStore and the DatasetClient with composition pattern
type rpcClientAdapter struct {
	serviceID  uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// remoteError is returned for requests the server answered with an error
type remoteError struct {
	msgType common.MessageType
	msg     string
	code    store.RetCode
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("RPC %s - Error: %s", e.msgType, e.msg)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a request message and returns the response message or an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func (a *rpcClientAdapter) invokeRPCRequest(ctx context.Context, req *common.Message) (*common.Message, error) {
	// Requests are not sent once the context is done
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := a.transport.Send(ctx, a.serviceID, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = a.serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("RPC %s - failed to deserialize response: %w", req.MsgType, err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, &remoteError{msgType: req.MsgType, msg: resp.Err, code: store.RetCode(resp.ErrCode)}
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC %s - Unexpected message type: %s", req.MsgType, resp.MsgType)
	}

	// Return the response
	return resp, nil
}
