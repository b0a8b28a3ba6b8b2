// Package cliclient talks to a running nmhealth serve process for CLI
// commands.
package cliclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/reqcontext"
)

// DefaultTimeout bounds every call except Evaluate, which waits for the
// evaluation to finish.
const DefaultTimeout = 10 * time.Second

// Client provides HTTP API access for CLI commands.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (status %d, request_id: %s)", e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// HasRequestID reports whether the server returned a request ID.
func (e *APIError) HasRequestID() bool {
	return e.RequestID != ""
}

// HistoryQuery selects records from a target's history.
type HistoryQuery struct {
	States         []contracts.AlertState
	Since          time.Time
	Until          time.Time
	Limit          int
	IncludeSkipped bool
}

// NewClient creates a new CLI HTTP client. endpoint is a base URL or a bare
// host:port.
func NewClient(endpoint string, logger *zap.SugaredLogger) *Client {
	return NewClientWithTLS(endpoint, nil, logger)
}

// NewClientWithTLS creates a client for a daemon serving HTTPS. A bare
// host:port endpoint gets the https scheme when tlsConfig is set.
func NewClientWithTLS(endpoint string, tlsConfig *tls.Config, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	scheme := "http://"
	httpClient := &http.Client{}
	if tlsConfig != nil {
		scheme = "https://"
		httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = scheme + endpoint
	}

	return &Client{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return nil
}

// ListAlerts returns the latest status of every target.
func (c *Client) ListAlerts(ctx context.Context) ([]contracts.TargetStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var statuses []contracts.TargetStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/alerts", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// GetAlert returns the latest status of one target.
func (c *Client) GetAlert(ctx context.Context, target string) (*contracts.TargetStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var status contracts.TargetStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/alerts/"+url.PathEscape(target), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Evaluate asks the daemon to evaluate target now.
func (c *Client) Evaluate(ctx context.Context, target string) (*contracts.AlertRecord, error) {
	var record contracts.AlertRecord
	path := "/api/v1/alerts/" + url.PathEscape(target) + "/evaluate"
	if err := c.call(ctx, http.MethodPost, path, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// History lists stored records of target, newest first.
func (c *Client) History(ctx context.Context, target string, q HistoryQuery) (*contracts.HistoryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(q.States) > 0 {
		states := make([]string, 0, len(q.States))
		for _, s := range q.States {
			states = append(states, string(s))
		}
		params.Set("state", strings.Join(states, ","))
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if q.IncludeSkipped {
		params.Set("include_skipped", "true")
	}

	var history contracts.HistoryResponse
	path := "/api/v1/alerts/" + url.PathEscape(target) + "/history"
	if err := c.call(ctx, http.MethodGet, path, params, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// call performs one request and decodes the data field of the response
// envelope into out.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !envelope.Success {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    envelope.Error,
			RequestID:  resp.Header.Get(reqcontext.Header),
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Debugw("API request failed",
			"path", path,
			"status", resp.StatusCode,
			"request_id", apiErr.RequestID)
		return apiErr
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}
