package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// initialBackoff is the pause after the first failed attempt, it doubles with every further attempt
const initialBackoff = 50 * time.Millisecond

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// liveConn is one established net connection together with the requests waiting on it
type liveConn struct {
	net.Conn
	writeMu sync.Mutex
	pending *xsync.MapOf[uint64, chan responseResult]
}

// clientConnection is a slot of the connection pool. The underlying connection is
// re-established on demand after it broke.
type clientConnection struct {
	endpoint string
	parent   *clientTransport

	mu   sync.Mutex // protects live
	live *liveConn
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64 // Round Robin counter
	nextRequestID atomic.Uint64
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	t.closeConnections()
	t.config = config
	t.stopping.Store(false)

	connectionsPerEP := max(config.ConnectionsPerEndpoint, 1)
	connections := make([]*clientConnection, 0, len(config.Endpoints)*connectionsPerEP)
	connected := 0

	for _, endpoint := range config.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			c := &clientConnection{endpoint: endpoint, parent: t}
			connections = append(connections, c)

			// The first connection is established eagerly, so that a wrong endpoint is reported
			// here. Broken connections are re-established by the next request using them.
			err := t.retry(context.Background(), func() error {
				_, err := c.current(context.Background())
				return err
			})
			if err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connected++
		}
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected to %d out of %d connections to %d endpoints using %s transport",
		connected, len(connections), len(config.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, serviceID uint64, req []byte) ([]byte, error) {
	if t.stopping.Load() {
		return nil, transport.ErrClosed
	}

	if _, ok := ctx.Deadline(); !ok && t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	var resp []byte
	err := t.retry(ctx, func() error {
		conn := t.getNextConnection()
		if conn == nil {
			return fmt.Errorf("no active connections available")
		}
		var err error
		resp, err = conn.send(ctx, serviceID, t.nextRequestID.Add(1), req)
		return err
	})
	return resp, err
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// retry runs fn up to RetryCount times with exponential backoff. It stops early when the
// context is done or the transport is closed.
func (t *clientTransport) retry(ctx context.Context, fn func() error) error {
	attempts := max(t.config.RetryCount, 1)
	backoff := initialBackoff

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || t.stopping.Load() {
			break
		}
		Logger.Debugf("Attempt %d/%d failed: %v", i+1, attempts, err)

		if i+1 < attempts {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return fmt.Errorf("request aborted after %d attempts: %w", i+1, ctx.Err())
			}
			backoff *= 2
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
		return lastErr
	}
	return fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	connections := t.connections
	t.connections = nil
	t.connectionsMu.Unlock()

	for _, c := range connections {
		c.mu.Lock()
		live := c.live
		c.live = nil
		c.mu.Unlock()
		if live != nil {
			c.fail(live, transport.ErrClosed)
		}
	}
}

// current returns the established connection, connecting first if there is none
func (c *clientConnection) current(ctx context.Context) (*liveConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.parent.stopping.Load() {
		return nil, transport.ErrClosed
	}
	if c.live != nil {
		return c.live, nil
	}

	conn, err := c.parent.connector.Connect(ctx, c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}

	live := &liveConn{Conn: conn, pending: xsync.NewMapOf[uint64, chan responseResult]()}
	c.live = live
	go c.readResponses(live)
	return live, nil
}

// send writes one request and waits for its response
func (c *clientConnection) send(ctx context.Context, serviceID, requestID uint64, req []byte) ([]byte, error) {
	live, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	respCh := make(chan responseResult, 1)
	live.pending.Store(requestID, respCh)

	h := frameHeader{serviceID: serviceID, requestID: requestID}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		h.deadline = deadline.UnixNano()
	}

	live.writeMu.Lock()
	err = live.SetWriteDeadline(deadline)
	if err == nil {
		err = writeFrame(live, h, req)
	}
	live.writeMu.Unlock()

	if err != nil {
		live.pending.Delete(requestID)
		c.fail(live, err)
		return nil, err
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		live.pending.Delete(requestID)
		return nil, ctx.Err()
	}
}

// readResponses reads responses in a loop and distributes them to waiting requests
func (c *clientConnection) readResponses(live *liveConn) {
	for {
		h, data, err := readFrame(live, nil)
		if err != nil {
			c.fail(live, fmt.Errorf("error reading response: %w", err))
			return
		}

		if respCh, found := live.pending.LoadAndDelete(h.requestID); found {
			respCh <- responseResult{data: data}
		} else {
			Logger.Warningf("Received response for unknown request ID %d with service ID %d", h.requestID, h.serviceID)
		}
	}
}

// fail closes a broken connection and fails all requests waiting on it
func (c *clientConnection) fail(live *liveConn, cause error) {
	c.mu.Lock()
	if c.live == live {
		c.live = nil
	}
	c.mu.Unlock()

	if err := live.Close(); err == nil && !c.parent.stopping.Load() {
		Logger.Warningf("Connection to %s lost: %v", c.endpoint, cause)
	}

	live.pending.Range(func(requestID uint64, _ chan responseResult) bool {
		if respCh, found := live.pending.LoadAndDelete(requestID); found {
			respCh <- responseResult{err: cause}
		}
		return true
	})
}
