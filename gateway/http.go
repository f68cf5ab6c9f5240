// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/secret"
	"github.com/bureau-foundation/provision/lib/version"
	"github.com/bureau-foundation/provision/server"
)

// ProtocolVersion is the API version the HTTP gateway requires.
const ProtocolVersion = "v1"

// DefaultTimeout bounds each form exchange when HTTPConfig.Timeout is
// zero.
const DefaultTimeout = 30 * time.Second

const apiPrefix = "/_provision/v1"

// HTTPConfig holds configuration for an HTTPGateway.
type HTTPConfig struct {
	// Scheme is "https" (default) or "http".
	Scheme string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Timeout bounds each AwaitResult. Zero means DefaultTimeout.
	Timeout time.Duration
	// Clock drives the exchange timeout. Nil means the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// HTTPGateway connects to provisioning servers over HTTP(S).
type HTTPGateway struct {
	scheme     string
	httpClient *http.Client
	timeout    time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates an HTTPGateway.
func NewHTTPGateway(config HTTPConfig) (*HTTPGateway, error) {
	scheme := config.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if scheme != "https" && scheme != "http" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", scheme)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		scheme:     scheme,
		httpClient: httpClient,
		timeout:    timeout,
		clock:      clk,
		logger:     logger,
	}, nil
}

type versionsResponse struct {
	Versions []string `json:"versions"`
}

type challengeResponse struct {
	Challenge []byte `json:"challenge"`
}

type loginRequest struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   []byte `json:"public_key"`
	Challenge   []byte `json:"challenge"`
	Signature   []byte `json:"signature"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type formRequest struct {
	ID   CorrelationID `json:"id"`
	Form Form          `json:"form"`
}

// Connect probes srv for protocol support and, when credentials are
// given, logs in by signing a server challenge.
func (g *HTTPGateway) Connect(ctx context.Context, srv server.Server, credentials Credentials) (Connection, error) {
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &httpConnection{
		gateway: g,
		server:  srv,
		baseURL: g.scheme + "://" + srv.Address(),
		ctx:     connCtx,
		cancel:  cancel,
		pending: make(map[CorrelationID]chan exchangeResult),
		logger:  g.logger.With("server", srv.String()),
	}

	var versions versionsResponse
	if err := conn.doRequest(ctx, http.MethodGet, "/versions", nil, &versions); err != nil {
		cancel()
		return nil, &ConnectError{Server: srv, Err: err}
	}
	if !slices.Contains(versions.Versions, ProtocolVersion) {
		cancel()
		return nil, &ConnectError{Server: srv, Err: fmt.Errorf("server does not support protocol %s (offers %v)", ProtocolVersion, versions.Versions)}
	}

	if credentials == nil {
		conn.logger.Debug("anonymous connection open")
		return conn, nil
	}

	if err := conn.login(ctx, credentials); err != nil {
		cancel()
		return nil, &ConnectError{Server: srv, Err: err}
	}
	conn.logger.Debug("authenticated connection open",
		"fingerprint", credentials.Fingerprint().String(),
	)
	return conn, nil
}

type exchangeResult struct {
	reply *Reply
	err   error
}

type httpConnection struct {
	gateway *HTTPGateway
	server  server.Server
	baseURL string
	logger  *slog.Logger

	// ctx bounds in-flight exchanges; Disconnect cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	token   *secret.Buffer
	pending map[CorrelationID]chan exchangeResult
	closed  bool
}

func (c *httpConnection) login(ctx context.Context, credentials Credentials) error {
	var challenge challengeResponse
	if err := c.doRequest(ctx, http.MethodGet, "/login/challenge", nil, &challenge); err != nil {
		return fmt.Errorf("fetching login challenge: %w", err)
	}
	if len(challenge.Challenge) == 0 {
		return fmt.Errorf("server sent an empty login challenge")
	}
	signature, err := credentials.Sign(challenge.Challenge)
	if err != nil {
		return fmt.Errorf("signing login challenge: %w", err)
	}

	var response loginResponse
	err = c.doRequest(ctx, http.MethodPost, "/login", loginRequest{
		Fingerprint: credentials.Fingerprint().String(),
		PublicKey:   credentials.PublicKeyBytes(),
		Challenge:   challenge.Challenge,
		Signature:   signature,
	}, &response)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if response.AccessToken == "" {
		return fmt.Errorf("login response has no access token")
	}
	token, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		return fmt.Errorf("protecting access token: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// Send starts the exchange in the background. The request outlives
// ctx; it is bounded by the connection and the gateway timeout.
func (c *httpConnection) Send(ctx context.Context, form Form) (CorrelationID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("gateway: send on closed connection to %s", c.server)
	}

	id := CorrelationID(uuid.NewString())
	result := make(chan exchangeResult, 1)
	c.pending[id] = result

	go func() {
		var reply Reply
		err := c.doRequest(c.ctx, http.MethodPost, "/forms", formRequest{ID: id, Form: form}, &reply)
		if err != nil {
			result <- exchangeResult{err: err}
			return
		}
		result <- exchangeResult{reply: &reply}
	}()

	c.logger.Debug("form sent", "correlation_id", string(id), "kind", string(form.Kind))
	return id, nil
}

func (c *httpConnection) AwaitResult(ctx context.Context, id CorrelationID) (*Reply, error) {
	c.mu.Lock()
	result, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("gateway: no exchange pending for %s", id)
	}
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.gateway.clock.After(c.gateway.timeout):
		return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, id, c.gateway.timeout)
	case outcome := <-result:
		if outcome.err != nil {
			return nil, outcome.err
		}
		if outcome.reply.ID != id {
			c.logger.Warn("ignoring reply with mismatched correlation id",
				"correlation_id", string(id),
				"reply_id", string(outcome.reply.ID),
			)
			return nil, fmt.Errorf("%w: %s", ErrNoResponse, id)
		}
		return outcome.reply, nil
	}
}

// Disconnect logs out (when authenticated) and aborts any exchange
// still in flight.
func (c *httpConnection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	token := c.token
	c.mu.Unlock()

	var logoutErr error
	if token != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		logoutErr = c.doRequest(ctx, http.MethodPost, "/logout", nil, nil)
		cancel()
	}
	c.cancel()

	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
	if token != nil {
		token.Close()
	}
	if logoutErr != nil {
		return fmt.Errorf("gateway: logout from %s: %w", c.server, logoutErr)
	}
	return nil
}

// doRequest performs a request against the server's provisioning API
// and decodes a 2xx JSON body into response (if non-nil). Non-2xx
// responses become *ProtocolError when the body has the error shape.
func (c *httpConnection) doRequest(ctx context.Context, method, path string, requestBody, response any) error {
	requestURL := c.baseURL + apiPrefix + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("gateway: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("gateway: failed to create request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent())
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.token != nil {
		request.Header.Set("Authorization", "Bearer "+c.token.String())
	}
	c.mu.Unlock()

	httpResponse, err := c.gateway.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("gateway: request to %s %s failed: %w", method, path, err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		body := netutil.ErrorBody(httpResponse.Body)
		var protocolErr ProtocolError
		if jsonErr := json.Unmarshal([]byte(body), &protocolErr); jsonErr != nil || protocolErr.Condition == "" {
			return fmt.Errorf("gateway: unexpected %d response from %s %s: %s",
				httpResponse.StatusCode, method, path, body)
		}
		protocolErr.StatusCode = httpResponse.StatusCode
		return &protocolErr
	}

	if response == nil {
		return nil
	}
	if err := netutil.DecodeResponse(httpResponse.Body, response); err != nil {
		return fmt.Errorf("gateway: failed to parse %s %s response: %w", method, path, err)
	}
	return nil
}
