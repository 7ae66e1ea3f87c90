package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// DefaultEndpoint is the address revonto-d listens on by default.
const DefaultEndpoint = "http://127.0.0.1:8095"

// Client is the revonto-d SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	attempts int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the retry strategy. attempts counts the first try.
func WithRetry(b BackoffStrategy, attempts int) Option {
	return func(c *Client) {
		c.backoff = b
		c.attempts = attempts
	}
}

// NewClient creates a new revonto client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff:  DefaultBackoff(),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the daemon base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &status)
	return status, err
}

// RunStudy submits a query set and returns the scored records.
func (c *Client) RunStudy(ctx context.Context, req StudyRequest) (*StudyResult, error) {
	if len(req.Terms) == 0 {
		return nil, fmt.Errorf("invalid study: terms are required")
	}
	var out StudyResult
	if err := c.do(ctx, http.MethodPost, "/v1/study", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStudy fetches an archived study.
func (c *Client) GetStudy(ctx context.Context, id string) (*StudyResult, error) {
	var out StudyResult
	if err := c.do(ctx, http.MethodGet, "/v1/study/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStudies fetches recent study summaries.
func (c *Client) ListStudies(ctx context.Context, limit int) ([]StudySummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []StudySummary
	if err := c.do(ctx, http.MethodGet, "/v1/studies?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Population fetches the loaded annotation population summary.
func (c *Client) Population(ctx context.Context) (engine.Population, error) {
	var out engine.Population
	err := c.do(ctx, http.MethodGet, "/v1/population", nil, &out)
	return out, err
}

// Report downloads the CSV report of a study.
func (c *Client) Report(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := Retry(ctx, c.backoff, c.attempts, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, "/v1/reports/"+url.PathEscape(id), nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = io.ReadAll(resp.Body)
		return err
	})
	return out, err
}

// do sends a JSON request and decodes a JSON response into out.
// Network errors and 5xx responses are retried.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return Retry(ctx, c.backoff, c.attempts, func(ctx context.Context) error {
		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// send performs a single request and checks its status. The caller closes
// the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Retryable(fmt.Errorf("daemon unreachable: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
	if resp.StatusCode >= 500 {
		return nil, Retryable(apiErr)
	}
	return nil, apiErr
}
