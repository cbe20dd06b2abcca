package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/serializer"
	"github.com/ValentinKolb/saltfish/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// Option customizes a server created by NewRPCServer
type Option func(*RPCServer)

// WithMetadataStore makes the server use meta instead of opening the configured metadata backend.
// The caller keeps ownership of the store.
func WithMetadataStore(meta metadata.IStore) Option {
	return func(s *RPCServer) { s.meta = meta }
}

// WithKVStore makes the server use kv instead of opening the configured key-value backend.
// The caller keeps ownership of the store.
func WithKVStore(kv store.IStore) Option {
	return func(s *RPCServer) { s.kv = kv }
}

// WithRemoteKVTransport sets the client transport and serializer used for the "remote" kv backend
func WithRemoteKVTransport(t transport.IRPCClientTransport, ser serializer.IRPCSerializer) Option {
	return func(s *RPCServer) {
		s.remoteTransport = t
		s.remoteSerializer = ser
	}
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	opts ...Option,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		services:   xsync.NewMapOf[uint64, IRPCServerAdapter](),
	}
	for _, opt := range opts {
		opt(s)
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return s
}

// RPCServer routes requests of a transport to the adapters of its services
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	services   *xsync.MapOf[uint64, IRPCServerAdapter]

	meta    metadata.IStore
	kv      store.IStore
	manager *manager.Manager

	remoteTransport  transport.IRPCClientTransport
	remoteSerializer serializer.IRPCSerializer

	metricsServer *http.Server

	closeOnce sync.Once
	// owned are the stores opened by the server itself, closed in reverse order
	owned []io.Closer
}

// Register adds an adapter for a service id, replacing an existing one
func (s *RPCServer) Register(serviceID uint64, adapter IRPCServerAdapter) {
	s.services.Store(serviceID, adapter)
}

// Manager returns the dataset manager, nil before Serve or if no dataset service is configured
func (s *RPCServer) Manager() *manager.Manager {
	return s.manager
}

// Serve starts the RPC server
// This function will also open the backends, create the services and start the transport layer.
// It blocks until Close is called or the transport fails.
func (s *RPCServer) Serve() error {
	if err := s.init(context.Background()); err != nil {
		s.closeBackends()
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics endpoint and closes the stores opened by the server
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if sErr := s.metricsServer.Shutdown(ctx); sErr != nil && err == nil {
				err = sErr
			}
			cancel()
		}
		s.closeBackends()
	})
	return err
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

func (s *RPCServer) init(ctx context.Context) error {
	if len(s.config.Services) == 0 {
		return errors.New("no services configured")
	}

	// Every service needs the key-value store, only the dataset service needs the metadata store
	if s.kv == nil {
		kv, err := s.openKVStore()
		if err != nil {
			return errors.Wrap(err, "failed to open kv store")
		}
		s.kv = kv
		s.owned = append(s.owned, kv)
		Logger.Infof("opened %s kv store", s.config.KVBackend)
	}

	if s.config.HasService(common.ServiceTypeDatasets) {
		if s.meta == nil {
			meta, err := s.openMetadataStore(ctx)
			if err != nil {
				return errors.Wrap(err, "failed to open metadata store")
			}
			s.meta = meta
			s.owned = append(s.owned, meta)
			Logger.Infof("opened %s metadata store", s.config.MetadataBackend)
		} else if err := s.seedUsers(ctx, s.meta); err != nil {
			return err
		}
		s.manager = manager.NewManager(s.meta, s.kv, s.config.Manager)
	}

	seen := make(map[uint64]bool, len(s.config.Services))
	for _, service := range s.config.Services {
		if seen[service.ServiceID] {
			return fmt.Errorf("duplicate service id %d", service.ServiceID)
		}
		seen[service.ServiceID] = true

		switch service.Type {
		case common.ServiceTypeKV:
			s.Register(service.ServiceID, NewIStoreServerAdapter(s.kv))
		case common.ServiceTypeDatasets:
			s.Register(service.ServiceID, NewDatasetServerAdapter(s.manager))
		default:
			return fmt.Errorf("invalid service type: %s", service.Type)
		}
		Logger.Infof("created %s service %d", service.Type, service.ServiceID)
	}

	if s.config.MetricsEndpoint != "" {
		s.startMetrics()
	}

	Logger.Infof("saltfish setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)

	return nil
}

func (s *RPCServer) closeBackends() {
	for i := len(s.owned) - 1; i >= 0; i-- {
		if err := s.owned[i].Close(); err != nil {
			Logger.Warningf("failed to close backend: %v", err)
		}
	}
	s.owned = nil
}

// --------------------------------------------------------------------------
// Request Handling
// --------------------------------------------------------------------------

// handle is the transport.ServerHandleFunc of the server
func (s *RPCServer) handle(ctx context.Context, serviceID uint64, req []byte) []byte {
	start := time.Now()

	var msg common.Message
	resp := s.dispatch(ctx, serviceID, req, &msg)
	observeRequest(msg.MsgType, resp, start)

	// Return result
	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", msg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) dispatch(ctx context.Context, serviceID uint64, req []byte, msg *common.Message) *common.Message {
	// Get appropriate service
	adapter, ok := s.services.Load(serviceID)
	if !ok {
		return common.NewErrorResponse(fmt.Sprintf("service %d not found", serviceID))
	}

	// Decode the request
	if err := s.serializer.Deserialize(req, msg); err != nil {
		return common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	}

	// Let the adapter handle the request
	return adapter.Handle(ctx, msg)
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// observeRequest counts a handled request by type and outcome and records its duration
func observeRequest(msgType common.MessageType, resp *common.Message, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`saltfish_requests_total{type=%q,status=%q}`, msgType, outcome(resp))).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`saltfish_request_duration_seconds{type=%q}`, msgType)).UpdateDuration(start)
}

// outcome is "error" for failed requests, the status name for dataset responses and "OK" otherwise
func outcome(resp *common.Message) string {
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return "error"
	}
	return resp.Status.String()
}

// startMetrics serves the metrics in the prometheus text format on the metrics endpoint
func (s *RPCServer) startMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metricsServer = &http.Server{
		Addr:              s.config.MetricsEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		Logger.Infof("Starting metrics endpoint on %s", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}
