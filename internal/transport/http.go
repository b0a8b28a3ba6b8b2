// Package transport performs the anonymous JMX fetch: a single HTTP(S) GET
// that also follows the non-standard Refresh header.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// RefreshHeader is the header the ResourceManager web UI uses to point a
	// standby at the active instance.
	RefreshHeader = "Refresh"

	// DefaultMaxRedirects bounds Refresh and Location hops per fetch.
	DefaultMaxRedirects = 10

	// MaxBodySize caps how much of a response body is read.
	MaxBodySize = 16 << 20
)

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Method     string `json:"method"`
	URL        string `json:"url"`
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), truncate(e.Body, 200))
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NewHTTPError creates an HTTPError with full context
func NewHTTPError(statusCode int, body, method, url string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Body:       body,
		Method:     method,
		URL:        url,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	URL        string // final URL after redirects
	Redirects  int
	Elapsed    time.Duration
}

// Fetcher issues one GET and returns the fully read body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error)
}

// ClientConfig holds configuration for the anonymous client
type ClientConfig struct {
	MaxRedirects       int
	InsecureSkipVerify bool
	// TraceHTTP wraps the transport with request/response logging.
	TraceHTTP bool
}

// DefaultClientConfig returns the default anonymous client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRedirects: DefaultMaxRedirects,
	}
}

// Client is the anonymous JMX fetcher.
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	logger     *zap.Logger
}

// NewClient creates an anonymous fetcher. A nil logger disables logging.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	logger = logger.Named("transport")

	var rt http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed RM certificates
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.TraceHTTP {
		rt = NewLoggingTransport(rt, logger)
	}

	maxRedirects := cfg.MaxRedirects
	return &Client{
		httpClient: &http.Client{
			Transport: rt,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// HTTPClient exposes the underlying client so other strategies can share its
// transport settings.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Fetch GETs rawURL, following Refresh headers, and returns the body of the
// final response. The whole exchange, redirects included, is bounded by
// timeout. Non-2xx responses are returned as *HTTPError.
func (c *Client) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	current := rawURL
	for hop := 0; ; hop++ {
		status, body, header, err := c.get(ctx, current)
		if err != nil {
			return nil, err
		}

		target, ok := refreshTarget(header, current)
		if ok {
			if hop >= c.config.MaxRedirects {
				return nil, fmt.Errorf("stopped after %d Refresh redirects", c.config.MaxRedirects)
			}
			c.logger.Debug("Following Refresh header",
				zap.String("from", current),
				zap.String("to", target),
				zap.Int("hop", hop+1))
			current = target
			continue
		}

		if status < 200 || status > 299 {
			return nil, NewHTTPError(status, string(body), http.MethodGet, current)
		}

		return &Response{
			StatusCode: status,
			Body:       body,
			URL:        current,
			Redirects:  hop,
			Elapsed:    time.Since(start),
		}, nil
	}
}

// get performs one request and always closes the body.
func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, describeError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return 0, nil, nil, describeError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	return resp.StatusCode, body, resp.Header, nil
}

// refreshTarget parses "N; url=<target>" (or "N;URL=<target>") and resolves
// the target against the request URL.
func refreshTarget(header http.Header, requestURL string) (string, bool) {
	value := header.Get(RefreshHeader)
	if value == "" {
		return "", false
	}

	idx := strings.Index(strings.ToLower(value), "url=")
	if idx < 0 {
		return "", false
	}
	target := strings.TrimSpace(value[idx+len("url="):])
	target = strings.Trim(target, `'"`)
	if target == "" {
		return "", false
	}

	base, err := url.Parse(requestURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// describeError keeps the underlying cause but states timeouts plainly.
func describeError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("connection timed out: %w", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("request cancelled: %w", err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
