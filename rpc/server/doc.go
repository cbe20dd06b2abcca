// Package server implements the RPC server of saltfish.
// A server exposes a number of services on one transport. Each request carries the id of
// the service it is addressed to and is handed to the adapter registered for that id.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface of all adapters. Handle translates a request message into
//     calls of the wrapped backend and returns the response message.
//
//   - NewIStoreServerAdapter: Serves the operations of a store.IStore.
//
//   - NewDatasetServerAdapter: Serves the operations of a manager.IDatasetManager.
//
//   - NewRPCServer: Creates a server. Serve opens the backends named in the configuration,
//     creates the configured services and starts the transport.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Services: []common.Service{
//	    {ServiceID: 1, Type: common.ServiceTypeDatasets},
//	    {ServiceID: 2, Type: common.ServiceTypeKV},
//	  },
//	  Endpoint:        "0.0.0.0:8080",
//	  TimeoutSecond:   5,
//	  MetadataBackend: common.MetadataBackendMySQL,
//	  MySQLDSN:        "saltfish:secret@tcp(localhost:3306)/saltfish?parseTime=true",
//	  KVBackend:       common.KVBackendBolt,
//	  BoltPath:        "/var/lib/saltfish/kv.db",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// All services of a server share one key-value store. The dataset service additionally needs
// the metadata store. With the "remote" kv backend the server forwards all key-value operations
// to the kv service of another server, set up with WithRemoteKVTransport.
//
// If a metrics endpoint is configured, request counts and durations are served there in the
// prometheus text format under /metrics.
//
// Thread Safety:
//
//	Requests are handled concurrently. Register may be called while the server is running.
//	Serve must be called only once.
package server
