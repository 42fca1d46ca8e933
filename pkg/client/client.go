// Package client provides the HTTP requester shared by every identity API:
// JSON requests with a fixed authorization header, bounded retries with
// uniform jitter, per-attempt timeouts and optional rate-limit gating.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/cardclient/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardclient_requests_total",
		Help: "Total API requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardclient_request_duration_seconds",
		Help:    "API request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardclient_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// RequestSpec describes a single logical request.
type RequestSpec struct {
	Method string
	URL    string
	Query  url.Values

	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Config holds the client configuration.
type Config struct {
	// HTTPClient defaults to a client without a global timeout; attempts are
	// bounded by Retry.Timeout instead.
	HTTPClient *http.Client

	// Authorization is sent verbatim in the Authorization header when set.
	Authorization string

	UserAgent string

	Retry RetryPolicy

	// RateLimiter gates attempts against hosts that announced a 429 window.
	RateLimiter *ratelimit.Tracker

	Logger *zerolog.Logger
}

// Client sends requests to a single identity API.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "api-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:  httpClient,
		rateLimiter: cfg.RateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Policy returns the retry policy the client was built with.
func (c *Client) Policy() RetryPolicy {
	return c.config.Retry
}

// Send performs spec, retrying transport failures and non-2xx responses
// according to the client's RetryPolicy. The final failure is returned as an
// *HTTPError (wrapped in ErrRetryExhausted when more than one attempt was made).
func (c *Client) Send(ctx context.Context, spec RequestSpec) (*Response, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url %q: %w", spec.URL, err)
	}
	if len(spec.Query) > 0 {
		q := target.Query()
		for k, vs := range spec.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var body []byte
	if spec.Body != nil {
		body, err = json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var resp *Response
	err = Retry(ctx, c.config.Retry, func(attempt int) error {
		r, attemptErr := c.attempt(ctx, method, target, body, attempt)
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs one try. The per-attempt timeout covers reading the body.
func (c *Client) attempt(ctx context.Context, method string, target *url.URL, body []byte, attempt int) (*Response, error) {
	host := target.Host

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, host); err != nil {
			return nil, Permanent(fmt.Errorf("wait for rate limit window: %w", err))
		}
	}

	attemptCtx := ctx
	if c.config.Retry.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.config.Retry.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target.String(), reader)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Authorization != "" {
		req.Header.Set("Authorization", c.config.Authorization)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", target.Path).
		Int("attempt", attempt).
		Msg("Executing API request")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
		return nil, c.transportError(ctx, err, target, attempt)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("read response body: %w", err), target, attempt)
	}

	requestsTotal.WithLabelValues(host, strconv.Itoa(httpResp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromResponse(ctx, host, httpResp.StatusCode, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from response")
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		errClass := classifyStatus(httpResp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", target.Path).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Msg("API request error")

		httpErr := &HTTPError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: errClass,
			Status:     httpResp.Status,
			URL:        target.String(),
			Body:       data,
		}
		if !shouldRetry(errClass) {
			return nil, Permanent(httpErr)
		}
		return nil, httpErr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// transportError classifies a failure that produced no status. Cancellation of
// the caller's context is never retried.
func (c *Client) transportError(ctx context.Context, err error, target *url.URL, attempt int) error {
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	requestsTotal.WithLabelValues(target.Host, "network_error").Inc()

	c.logger.Warn().
		Err(err).
		Str("endpoint", target.Path).
		Int("attempt", attempt).
		Msg("HTTP request failed")

	if ctx.Err() != nil {
		return Permanent(fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err()))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request to %s timed out: %w", target.Path, err)
	}
	return fmt.Errorf("request to %s: %w", target.Path, err)
}

// classifyStatus categorizes a non-2xx status for observability and handling.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 300:
		return ErrorClassClient
	default:
		return ""
	}
}
