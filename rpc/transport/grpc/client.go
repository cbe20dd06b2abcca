package grpc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func NewGRPCClientTransport() transport.IRPCClientTransport {
	return &grpcClientTransport{}
}

type grpcClientTransport struct {
	conns   []*grpc.ClientConn
	counter atomic.Uint64
	config  common.ClientConfig
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *grpcClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	_ = t.Close()
	t.config = config

	connectionsPerEP := max(config.ConnectionsPerEndpoint, 1)
	for _, endpoint := range config.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			conn, err := grpc.NewClient(endpoint, dialOpts()...)
			if err != nil {
				_ = t.Close()
				return fmt.Errorf("failed to create client for %s: %w", endpoint, err)
			}
			t.conns = append(t.conns, conn)
		}
	}

	Logger.Infof("Created %d gRPC connections to %d endpoints", len(t.conns), len(config.Endpoints))
	return nil
}

func (t *grpcClientTransport) Send(ctx context.Context, serviceID uint64, req []byte) ([]byte, error) {
	if len(t.conns) == 0 {
		return nil, transport.ErrClosed
	}

	if _, ok := ctx.Deadline(); !ok && t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, serviceIDKey, strconv.FormatUint(serviceID, 10))

	attempts := max(t.config.RetryCount, 1)
	delay := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn := t.conns[t.counter.Add(1)%uint64(len(t.conns))]

		var resp []byte
		err := conn.Invoke(ctx, fullMethod, &req, &resp)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// only failures to reach the server are retried
		if status.Code(err) != codes.Unavailable || ctx.Err() != nil {
			break
		}
		if i+1 < attempts {
			jitter := time.Duration(float64(delay) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to send request: %w", lastErr)
}

func (t *grpcClientTransport) Close() error {
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.conns = nil
	return firstErr
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func dialOpts() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rawCodec{}),
			grpc.MaxCallSendMsgSize(maxMsgSize),
			grpc.MaxCallRecvMsgSize(maxMsgSize),
		),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  50 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: 5 * time.Second,
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}
