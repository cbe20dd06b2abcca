// Package client implements RPC clients for saltfish servers.
// It provides implementations of the store.IStore and manager.IDatasetManager interfaces
// that forward every call to a remote service.
//
// Key Components:
//
//   - NewRPCStore: Creates a client implementing store.IStore. Errors reported by the server
//     keep their store.RetCode, transport failures are reported as RetCUnavailable.
//
//   - NewDatasetClient: Creates a client implementing manager.IDatasetManager. Statuses are
//     passed through unchanged, so callers handle remote and local managers alike.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:8080"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	datasets, _ := client.NewDatasetClient(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	resp, _ := datasets.GenerateID(ctx, 10)
//
//	kv, _ := client.NewRPCStore(2, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	_ = kv.Put(ctx, "bucket", []byte("key"), []byte("value"), nil)
//
// The transport may resend a request after a broken connection even if the server already
// executed it. A resent GenerateID or PutRecords call can therefore produce ids the caller
// never sees.
//
// Thread Safety:
//
//	All clients are safe for concurrent use by multiple goroutines.
package client
