// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package emby is the HTTP transport to an Emby media server: connection
// test, session listing and remote-control commands.
package emby

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Client talks to one Emby server with one API key.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string
	rnd        *rand.Rand
	mu         sync.Mutex
}

// Options configures the Emby client behavior.
type Options struct {
	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	MaxBackoff       time.Duration
	UserAgent        string
	RateLimit        rate.Limit
	RateLimitBurst   int
	BreakerThreshold int
	BreakerReset     time.Duration
	// VerifyTLS enables certificate verification for https servers. Emby
	// installs commonly use self-signed certificates, so it defaults to off.
	VerifyTLS bool
}

const (
	defaultTimeout          = 10 * time.Second
	defaultRetries          = 2
	defaultBackoff          = 200 * time.Millisecond
	defaultMaxBackoff       = 2 * time.Second
	defaultRateLimit        = 20
	defaultRateLimitBurst   = 40
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
	defaultUserAgent        = "UC-Emby-Integration/1.0.0"
)

// NewClient creates a client with default options.
func NewClient(serverURL, apiKey, userID string) *Client {
	return NewClientWithOptions(serverURL, apiKey, userID, Options{})
}

// NewClientWithOptions creates a client with explicit options.
func NewClientWithOptions(serverURL, apiKey, userID string, opts Options) *Client {
	nopts := normalizeOptions(opts)

	transport := &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: nopts.Timeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}
	if strings.HasPrefix(strings.ToLower(serverURL), "https://") && !nopts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- self-signed home servers
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		userID:  strings.TrimSpace(userID),
		httpClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker:    NewCircuitBreaker(nopts.BreakerThreshold, nopts.BreakerReset),
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		userAgent:  nopts.UserAgent,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	return opts
}

// ServerURL returns the normalized server base URL.
func (c *Client) ServerURL() string {
	return c.baseURL
}

// BreakerState exposes the transport circuit state for health checks.
func (c *Client) BreakerState() State {
	return c.breaker.State()
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// TestConnection reads /System/Info and reports the server name and version.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var info SystemInfo
	if err := c.getJSON(ctx, "test_connection", "/System/Info", nil, &info); err != nil {
		return "", err
	}
	return fmt.Sprintf("Connected to %s v%s", info.ServerName, info.Version), nil
}

// ListSessions returns the sessions currently reported by the server, scoped to
// sessions controllable by the configured user when one is set.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	params := url.Values{}
	if c.userID != "" {
		params.Set("ControllableByUserId", c.userID)
	}
	var sessions []Session
	if err := c.getJSON(ctx, "list_sessions", "/Sessions", params, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns the session with the given id, or nil when the server no
// longer reports it.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == sessionID {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// SendCommand posts a general command to a session. Commands without
// arguments use the bare /Command/{name} endpoint; commands with arguments
// post a {"Name","Arguments"} body. Commands are never retried.
func (c *Client) SendCommand(ctx context.Context, sessionID, name string, args map[string]any) error {
	path := "/Sessions/" + url.PathEscape(sessionID) + "/Command"
	var body []byte
	if len(args) == 0 {
		path += "/" + url.PathEscape(name)
	} else {
		payload, err := json.Marshal(struct {
			Name      string         `json:"Name"`
			Arguments map[string]any `json:"Arguments"`
		}{Name: name, Arguments: args})
		if err != nil {
			return fmt.Errorf("encode command %s: %w", name, err)
		}
		body = payload
	}

	resp, err := c.do(ctx, http.MethodPost, path, nil, body, 1)
	if err != nil {
		return wrapError("send_command", err, 0, "")
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return wrapError("send_command", nil, resp.StatusCode, string(respBody))
	}
	return nil
}

// PrimaryImageURL builds the artwork URL for an item's primary image tag.
func (c *Client) PrimaryImageURL(itemID, tag string) string {
	q := url.Values{}
	q.Set("tag", tag)
	q.Set("api_key", c.apiKey)
	return c.baseURL + "/Items/" + url.PathEscape(itemID) + "/Images/Primary?" + q.Encode()
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, params, nil, c.maxRetries+1)
	if err != nil {
		return wrapError(op, err, 0, "")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wrapError(op, nil, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) buildURL(path string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// do performs the request with retries on transport errors and 5xx. A
// response with status < 500 is returned to the caller unconsumed.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, maxAttempts int) (*http.Response, error) {
	rawURL, err := c.buildURL(path, params)
	if err != nil {
		return nil, err
	}
	endpoint := endpointLabel(path)

	tracer := telemetry.Tracer("uc-emby.client")
	ctx, span := tracer.Start(ctx, "emby.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.HTTPAttributes(method, endpoint, path, 0)...)
	defer span.End()

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		var resp *http.Response
		start := time.Now()
		execErr := c.breaker.Execute(func() error {
			var rdr io.Reader
			if body != nil {
				rdr = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
			if err != nil {
				return err
			}
			c.applyHeaders(req, body != nil)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

			r, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			resp = r
			if r.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("server returned status %d", r.StatusCode)
			}
			return nil
		})
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		var transportErr error
		if execErr != nil && resp == nil {
			transportErr = execErr
		}

		retry := execErr != nil && attempt < maxAttempts && shouldRetry(execErr)
		recordAttemptMetrics(method, endpoint, status, duration, transportErr, retry)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int("status", status),
		))

		if execErr == nil {
			span.SetAttributes(attribute.Int(telemetry.HTTPStatusCodeKey, status))
			if status >= http.StatusBadRequest {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return resp, nil
		}

		lastStatus = status
		if resp != nil {
			if !retry {
				// Hand the 5xx response back so the caller can classify it.
				span.SetStatus(codes.Error, http.StatusText(status))
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		lastErr = execErr

		if !retry {
			break
		}
		if err := sleepWithContext(ctx, c.backoffFor(attempt-1)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.RecordError(lastErr)
	span.SetAttributes(telemetry.ErrorAttributes(lastErr, errorType(lastErr))...)
	span.SetStatus(codes.Error, fmt.Sprintf("request failed (last status %d)", lastStatus))
	return nil, lastErr
}

func (c *Client) applyHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Emby-Token", c.apiKey)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func shouldRetry(err error) bool {
	return err != nil && !errors.Is(err, ErrCircuitOpen)
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
