package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	config     common.ClientConfig
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	idleTimeout := 90 * time.Second
	if config.TimeoutSecond > 0 {
		idleTimeout = time.Duration(config.TimeoutSecond) * time.Second
	}

	t.client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(config.ConnectionsPerEndpoint, 10),
			IdleConnTimeout:     idleTimeout,
		},
	}
	t.serverURLs = parsedURLs
	t.config = config

	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, serviceID uint64, req []byte) ([]byte, error) {
	if t.client == nil {
		return nil, transport.ErrClosed
	}

	if _, ok := ctx.Deadline(); !ok && t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	attempts := max(t.config.RetryCount, 1)
	backoff := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := t.send(ctx, serviceID, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if i+1 < attempts {
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	t.client = nil
	t.serverURLs = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// send performs a single attempt against the next server (round-robin)
func (t *httpClientTransport) send(ctx context.Context, serviceID uint64, req []byte) ([]byte, error) {
	serverURL := t.serverURLs[t.counter.Add(1)%uint32(len(t.serverURLs))]
	requestURL := serverURL.JoinPath(strconv.FormatUint(serviceID, 10)).String()

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")
	if deadline, ok := ctx.Deadline(); ok {
		httpRequest.Header.Set(deadlineHeader, strconv.FormatInt(deadline.UnixNano(), 10))
	}

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, errors.New("http error: " + httpResponse.Status)
	}
	return io.ReadAll(httpResponse.Body)
}
