// Package client provides the Census Data API HTTP client with bounded retry,
// request pacing, and optional Redis response caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/census-etl/pkg/cache"
	"github.com/Sternrassler/census-etl/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Census Data API root.
const DefaultBaseURL = "https://api.census.gov/data"

// Prometheus metrics for Census API operations.
var (
	censusRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_requests_total",
		Help: "Total Census API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	censusRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "census_request_duration_seconds",
		Help:    "Census API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	censusErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_errors_total",
		Help: "Total Census API errors by class",
	}, []string{"class"})

	censusRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	censusRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "census_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 3, 6, 12, 30, 60},
	}, []string{"error_class"})

	censusRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL)
	BaseURL string

	// APIKey is sent as the "key" query parameter (REQUIRED)
	APIKey string

	// UserAgent header
	UserAgent string

	// Timeout applies to each individual HTTP request
	Timeout time.Duration

	// Redis enables response caching and a shared rate limit window (optional)
	Redis *redis.Client

	// CacheTTL is how long responses stay cached (default: cache.DefaultTTL)
	CacheTTL time.Duration

	// RateLimit paces outgoing requests
	RateLimit ratelimit.Config

	// Retry controls the retry policy for failed requests
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		UserAgent: "census-etl/0.1.0",
		Timeout:   60 * time.Second,
		CacheTTL:  cache.DefaultTTL,
		RateLimit: ratelimit.DefaultConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// Response is a successful Census API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// Client is the Census Data API client. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	config      Config
	cache       *cache.Manager
	rateLimiter *ratelimit.Tracker
	retry       *retrier
	logger      zerolog.Logger
}

// New creates a new Census API client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger := log.With().Str("component", "census-client").Logger()

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		config:      cfg,
		cache:       cacheManager,
		rateLimiter: ratelimit.NewTracker(cfg.RateLimit, cfg.Redis, logger),
		retry:       newRetrier(cfg.Retry, logger),
		logger:      logger,
	}, nil
}

// GetJSON performs a GET and returns the raw response body. A 204 No Content
// response yields a nil body and no error.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	resp, err := c.Get(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Get performs a GET request against a Census API endpoint with caching,
// pacing and retry.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	cacheKey := cache.CacheKey{Endpoint: endpoint, QueryParams: query}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Str("key", cacheKey.String()).Msg("Cache hit")
			censusRequestsTotal.WithLabelValues(endpoint, "cache").Inc()
			return &Response{StatusCode: entry.StatusCode, Body: entry.Data, FromCache: true}, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	fields := map[string]any{"endpoint": endpoint}
	for _, p := range []string{"for", "in"} {
		if v := query.Get(p); v != "" {
			fields[p] = v
		}
	}

	var resp *Response
	err := c.retry.do(ctx, fields, func(attempt int) error {
		var reqErr error
		resp, reqErr = c.doOnce(ctx, endpoint, query)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry := cache.NewEntry(resp.StatusCode, resp.Body, resp.Header, c.config.CacheTTL)
		switch err := c.cache.Set(ctx, cacheKey, entry); {
		case errors.Is(err, cache.ErrInvalidEntry):
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("content_type", resp.Header.Get("Content-Type")).
				Int("bytes", len(resp.Body)).
				Msg("Response is not JSON, not cached")
		case err != nil:
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// doOnce performs a single HTTP round trip and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "rate limiter wait", Err: err}
	}

	req, err := c.newRequest(ctx, endpoint, query)
	if err != nil {
		return nil, &APIError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("for", query.Get("for")).
		Str("in", query.Get("in")).
		Msg("Executing Census request")

	startTime := time.Now()
	defer func() {
		censusRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		censusErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		censusRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	status := strconv.Itoa(httpResp.StatusCode)
	censusRequestsTotal.WithLabelValues(endpoint, status).Inc()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		censusErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	if errClass := classifyStatus(httpResp.StatusCode); errClass != "" {
		censusErrorsTotal.WithLabelValues(string(errClass)).Inc()

		if errClass == ErrorClassRateLimit {
			wait, ok := ratelimit.ParseRetryAfter(httpResp.Header, time.Now())
			if !ok {
				wait = c.config.Retry.InitialBackoff
			}
			if err := c.rateLimiter.Pause(ctx, wait); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to share pause window")
			}
		}

		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: errClass,
			Message:    errorMessage(httpResp.Status, body),
		}
	}

	if httpResp.StatusCode == http.StatusNoContent {
		return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}, nil
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, query url.Values) (*http.Request, error) {
	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("key", c.config.APIKey)

	fullURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if encoded := q.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, nil
}

// errorMessage builds a short message from the status line and the start of
// the body; the Census API explains bad queries in plain text.
func errorMessage(status string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	const maxLen = 200
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	return status + ": " + text
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
