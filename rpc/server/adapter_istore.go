package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/rpc/common"
)

// NewIStoreServerAdapter creates an adapter that serves the key-value operations of a store
func NewIStoreServerAdapter(kv store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{kv: kv}
}

type iStoreServerAdapterImpl struct {
	kv store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, req *common.Message) *common.Message {
	// Check for nil store
	if adapter.kv == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	kv := adapter.kv

	// Handle different message types
	switch req.MsgType {
	case common.MsgTKVPut:
		err := kv.Put(ctx, req.Bucket, req.Key, req.Value, req.Indexes)
		return common.NewPutResponse(err)
	case common.MsgTKVGet:
		val, ok, err := kv.Get(ctx, req.Bucket, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := kv.Has(ctx, req.Bucket, req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVDelete:
		err := kv.Delete(ctx, req.Bucket, req.Key)
		return common.NewDeleteResponse(err)
	case common.MsgTKVIndexRange:
		keys, err := kv.IndexRange(ctx, req.Bucket, req.Index, req.Min, req.Max, int(req.Limit))
		return common.NewKeysResponse(common.MsgTKVIndexRange, keys, err)
	case common.MsgTKVKeys:
		keys, err := kv.Keys(ctx, req.Bucket)
		return common.NewKeysResponse(common.MsgTKVKeys, keys, err)
	case common.MsgTKVDeleteBucket:
		err := kv.DeleteBucket(ctx, req.Bucket)
		return common.NewDeleteBucketResponse(err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
