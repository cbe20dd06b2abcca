package client

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/serializer"
	"github.com/ValentinKolb/saltfish/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a service ID, a client config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	serviceID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC store
	s := rpcStore{
		rpcClientAdapter: rpcClientAdapter{
			serviceID:  serviceID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Return the RPC store
	return &s, nil
}

type rpcStore struct {
	rpcClientAdapter
	closed atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Put(ctx context.Context, bucket string, key []byte, value []byte, indexes store.Indexes) error {
	_, err := i.invoke(ctx, common.NewPutRequest(bucket, key, value, indexes))
	return err
}

func (i *rpcStore) Get(ctx context.Context, bucket string, key []byte) (value []byte, loaded bool, err error) {
	resp, err := i.invoke(ctx, common.NewGetRequest(bucket, key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(ctx context.Context, bucket string, key []byte) (loaded bool, err error) {
	resp, err := i.invoke(ctx, common.NewHasRequest(bucket, key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Delete(ctx context.Context, bucket string, key []byte) error {
	_, err := i.invoke(ctx, common.NewDeleteRequest(bucket, key))
	return err
}

func (i *rpcStore) IndexRange(ctx context.Context, bucket, index string, min, max int64, limit int) ([][]byte, error) {
	resp, err := i.invoke(ctx, common.NewIndexRangeRequest(bucket, index, min, max, limit))
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (i *rpcStore) Keys(ctx context.Context, bucket string) ([][]byte, error) {
	resp, err := i.invoke(ctx, common.NewKeysRequest(bucket))
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (i *rpcStore) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := i.invoke(ctx, common.NewDeleteBucketRequest(bucket))
	return err
}

// Close closes the transport, the remote store stays open
func (i *rpcStore) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	return i.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// invoke sends a request and converts all errors not caused by the context into *store.Error
func (i *rpcStore) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	if i.closed.Load() {
		return nil, store.NewError(store.RetCClosed, "rpc store is closed")
	}

	resp, err := i.invokeRPCRequest(ctx, req)
	if err == nil {
		return resp, nil
	}

	var rErr *remoteError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.As(err, &rErr):
		code := rErr.code
		if code == store.RetCSuccess {
			code = store.RetCInternalError
		}
		return nil, store.NewError(code, rErr.msg)
	case errors.Is(err, transport.ErrClosed):
		return nil, store.NewError(store.RetCClosed, err.Error())
	default:
		return nil, store.Errorf(store.RetCUnavailable, "%s failed: %v", req.MsgType, err)
	}
}
