package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"llm-crypto-trader/internal/logger"
)

// Client is an HTTP client with shared base URL, headers, rate limiting and logging.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    *rate.Limiter
	useLogging bool
}

func (c *Client) logDebug(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Debug(ctx, msg, args...)
	}
}

func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Warn(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Error(ctx, msg, args...)
	}
}

// ClientOption configures the API client
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBaseURL sets the base URL for all requests
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHeader sets a default header for all requests
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogging enables logging for the API client
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

// WithRateLimit makes every request wait for a token. A nil limiter disables limiting.
func WithRateLimit(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithHTTPClient replaces the underlying transport client, e.g. an httptest server client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		timeout := c.httpClient.Timeout
		c.httpClient = hc
		if c.httpClient.Timeout == 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// PerMinute builds a limiter allowing n requests per minute with a small burst.
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	burst := max(1, n/60)
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers:    make(map[string]string),
		useLogging: false,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Request represents an HTTP request configuration
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Body    any
	RawForm string
	Headers map[string]string
	ctx     context.Context
}

func NewRequest(method, url string) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// WithBody sets the request body (will be JSON encoded)
func (r *Request) WithBody(body any) *Request {
	r.Body = body
	return r
}

// WithRawForm sets an already encoded form body, for signed payloads whose
// parameter order must not change.
func (r *Request) WithRawForm(encoded string) *Request {
	r.RawForm = encoded
	return r
}

// WithQuery sets the encoded query string.
func (r *Request) WithQuery(q url.Values) *Request {
	r.Query = q
	return r
}

func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Do executes the HTTP request
func (c *Client) Do(req *Request) (*Response, error) {
	fullURL := req.URL
	if c.baseURL != "" {
		fullURL = c.baseURL + req.URL
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case req.RawForm != "":
		bodyReader = strings.NewReader(req.RawForm)
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			c.logError(req.ctx, "Failed to marshal request body", "error", err)
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(req.ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		c.logError(req.ctx, "Failed to create HTTP request", "error", err)
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	// Query strings may carry signatures; log the path only.
	c.logDebug(req.ctx, "HTTP Request", "method", req.Method, "url", req.URL)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logError(req.ctx, "HTTP request failed", "method", req.Method, "url", req.URL, "error", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logError(req.ctx, "Failed to read response body", "error", err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logDebug(req.ctx, "HTTP Response",
		"method", req.Method,
		"url", req.URL,
		"status", httpResp.StatusCode,
		"duration", time.Since(startTime),
		"bodySize", len(body))

	if httpResp.StatusCode >= 400 {
		c.logWarn(req.ctx, "HTTP error response",
			"method", req.Method,
			"url", req.URL,
			"status", httpResp.StatusCode,
			"body", string(body))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// POST performs a JSON POST request
func (c *Client) POST(ctx context.Context, url string, body any, headers ...map[string]string) (*Response, error) {
	req := NewRequest(http.MethodPost, url).
		WithContext(ctx).
		WithBody(body)
	if len(headers) > 0 {
		for key, value := range headers[0] {
			req.WithHeader(key, value)
		}
	}
	return c.Do(req)
}

// ParseJSON parses the response body as JSON into the given struct
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func (r *Response) String() string {
	return string(r.Body)
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		MaxWait:     5 * time.Second,
	}
}

// Retryable reports whether err is worth another attempt: transport errors,
// 429 and 5xx responses.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// DoWithRetry executes a request with exponential backoff. Client errors other
// than 429 are returned immediately.
func (c *Client) DoWithRetry(req *Request, config *RetryConfig) (*Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	waitTime := config.InitialWait

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		c.logDebug(req.ctx, "Request attempt", "attempt", attempt, "maxAttempts", config.MaxAttempts)

		resp, err := c.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}

		c.logWarn(req.ctx, "Request failed, retrying", "attempt", attempt, "error", err, "waitTime", waitTime)

		if attempt < config.MaxAttempts {
			select {
			case <-req.ctx.Done():
				return nil, req.ctx.Err()
			case <-time.After(waitTime):
			}
			waitTime *= 2
			if waitTime > config.MaxWait {
				waitTime = config.MaxWait
			}
		}
	}

	c.logError(req.ctx, "All retry attempts failed", "maxAttempts", config.MaxAttempts, "error", lastErr)
	return nil, fmt.Errorf("all %d retry attempts failed: %w", config.MaxAttempts, lastErr)
}
