package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	serviceName = "saltfish.Transport"
	methodName  = "Call"
	fullMethod  = "/" + serviceName + "/" + methodName

	// serviceIDKey is the metadata key carrying the id of the addressed service
	serviceIDKey = "saltfish-service-id"

	maxMsgSize = 256 << 20 // 256 MB
)

// serviceDesc describes the single unary method all requests are sent through
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodName, Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "saltfish/transport.proto",
}

func NewGRPCServerTransport() transport.IRPCServerTransport {
	return &grpcServerTransport{}
}

type grpcServerTransport struct {
	handler transport.ServerHandleFunc
	config  common.ServerConfig

	mu     sync.Mutex
	server *grpc.Server
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *grpcServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *grpcServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}
	t.config = config

	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create TCP socket: %v", err)
	}

	server := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	server.RegisterService(&serviceDesc, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting gRPC server on %s", config.Endpoint)

	err = server.Serve(listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (t *grpcServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// callHandler unpacks a request and hands it to the registered handler
func callHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	t := srv.(*grpcServerTransport)

	var req []byte
	if err := dec(&req); err != nil {
		return nil, err
	}

	serviceID, err := serviceIDFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	start := time.Now()
	resp := t.handler(ctx, serviceID, req)
	Logger.Debugf("Processed request for service %d took %s", serviceID, time.Since(start))

	return &resp, nil
}

func serviceIDFromContext(ctx context.Context) (uint64, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, errors.New("missing request metadata")
	}
	values := md.Get(serviceIDKey)
	if len(values) != 1 {
		return 0, fmt.Errorf("expected one %s, got %d", serviceIDKey, len(values))
	}
	return strconv.ParseUint(values[0], 10, 64)
}
