// Package client executes single vendor requests with bearer authentication,
// utilization tracking and a per-request retry session.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/adfetch/pkg/backoff"
	"github.com/Sternrassler/adfetch/pkg/budget"
	"github.com/Sternrassler/adfetch/pkg/ratelimit"
	"github.com/Sternrassler/adfetch/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for vendor requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Total vendor requests by vendor and status",
	}, []string{"vendor", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_request_duration_seconds",
		Help:    "Vendor request duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"vendor"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_request_errors_total",
		Help: "Total vendor call failures by vendor and class",
	}, []string{"vendor", "class"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_response_bytes_total",
		Help: "Total response body bytes received by vendor",
	}, []string{"vendor"})
)

// Config holds the client configuration.
type Config struct {
	// Vendor names the integration in logs and metrics.
	Vendor string

	// BaseURL is prepended to relative request URLs.
	BaseURL string

	UserAgent string

	// Accept is the default Accept header (the vendor's documented format).
	Accept string

	// PageTokenParam is the query parameter carrying Request.NextPageToken.
	PageTokenParam string

	// Retry is the per-request backoff policy.
	Retry backoff.Policy

	// RetryHeaders name the response headers holding a vendor wait hint.
	RetryHeaders []string

	// RetryClientErrors retries 4xx responses like transient failures
	// instead of failing them immediately.
	RetryClientErrors bool

	// Telemetry configures the utilization tracker.
	Telemetry ratelimit.TelemetryConfig

	// Redis shares utilization state between processes. Optional.
	Redis *redis.Client

	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(vendor, baseURL string) Config {
	return Config{
		Vendor:         vendor,
		BaseURL:        baseURL,
		UserAgent:      "adfetch/0.1.0",
		Accept:         "application/json",
		PageTokenParam: "page_token",
		Retry:          backoff.DefaultPolicy(),
		RetryHeaders:   []string{"Retry-After"},
		Timeout:        60 * time.Second,
	}
}

// Client is the vendor HTTP client.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a new vendor client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Vendor == "" {
		return nil, fmt.Errorf("vendor name is required")
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return nil, fmt.Errorf("retry max attempts must be > 0 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Telemetry.Vendor == "" {
		cfg.Telemetry.Vendor = cfg.Vendor
	}

	logger = logger.With().Str("component", "vendor-client").Str("vendor", cfg.Vendor).Logger()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    ratelimit.NewTracker(cfg.Redis, cfg.Telemetry, logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

// Do executes req inside a fresh retry session. The session honors the
// budget attached to ctx (see budget.WithContext) and vendor wait hints from
// throttle signals and the configured retry headers. When stream is non-nil
// the body of the successful response is handed to it instead of being
// buffered.
func (c *Client) Do(ctx context.Context, req *Request, stream StreamFunc) (*Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(c.config.Vendor).Observe(time.Since(startTime).Seconds())
	}()

	session := retry.NewHeaderAware(retry.Config{
		Name:   c.config.Vendor,
		Policy: c.config.Retry,
		Budget: budget.FromContext(ctx),
		Logger: c.logger,
	}, c.config.RetryHeaders...)

	resp, err := retry.Do(ctx, session, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, req, stream)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return resp, nil
}

// Get performs a GET request against a path relative to the base URL.
func (c *Client) Get(ctx context.Context, path, token string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: path, Token: token}, nil)
}

// Tracker returns the utilization tracker.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) attempt(ctx context.Context, req *Request, stream StreamFunc) (*Response, error) {
	if err := c.tracker.Check(ctx); err != nil {
		requestsTotal.WithLabelValues(c.config.Vendor, "throttled").Inc()
		return nil, err
	}

	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	c.logger.Debug().
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.Redacted()).
		Int("page", req.PageIndex).
		Msg("Executing vendor request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errorsTotal.WithLabelValues(c.config.Vendor, string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(c.config.Vendor, "network_error").Inc()
		verr := &VendorError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		if ctx.Err() != nil {
			return nil, retry.Permanent(verr)
		}
		return nil, verr
	}
	defer httpResp.Body.Close()

	if err := c.tracker.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
		if _, ok := retry.AsThrottle(err); ok {
			requestsTotal.WithLabelValues(c.config.Vendor, "throttled").Inc()
			_, _ = io.Copy(io.Discard, httpResp.Body)
			return nil, err
		}
		c.logger.Warn().Err(err).Msg("Failed to update utilization from headers")
	}

	status := strconv.Itoa(httpResp.StatusCode)
	if httpResp.StatusCode >= 400 {
		errClass := classifyStatus(httpResp.StatusCode)
		errorsTotal.WithLabelValues(c.config.Vendor, string(errClass)).Inc()
		requestsTotal.WithLabelValues(c.config.Vendor, status).Inc()

		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		verr := &VendorError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: errClass,
			Message:    httpResp.Status,
			Body:       strings.TrimSpace(string(body)),
			Headers:    httpResp.Header.Clone(),
		}

		c.logger.Warn().
			Int("status", httpResp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Vendor request error")

		if !shouldRetry(errClass, c.config.RetryClientErrors) {
			return nil, retry.Permanent(verr)
		}
		return nil, verr
	}

	out := &Response{
		Request:    req,
		Headers:    httpResp.Header.Clone(),
		StatusCode: httpResp.StatusCode,
	}

	if stream != nil {
		n, err := stream(ctx, req, httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("stream response body: %w", err)
		}
		out.Bytes = n
	} else {
		payload, err := io.ReadAll(httpResp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(c.config.Vendor, string(ErrorClassNetwork)).Inc()
			return nil, &VendorError{
				StatusCode: httpResp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read response body",
				Err:        err,
			}
		}
		out.Payload = payload
		out.Bytes = int64(len(payload))
	}

	out.CompletedAt = time.Now()
	requestsTotal.WithLabelValues(c.config.Vendor, status).Inc()
	bytesTotal.WithLabelValues(c.config.Vendor).Add(float64(out.Bytes))
	return out, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	accept := req.Accept
	if accept == "" {
		accept = c.config.Accept
	}
	httpReq.Header.Set("Accept", accept)
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if len(req.Body) > 0 {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	return httpReq, nil
}

func (c *Client) resolve(req *Request) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		if c.config.BaseURL == "" {
			return "", fmt.Errorf("relative url %q without base url", req.URL)
		}
		base, err := url.Parse(strings.TrimSuffix(c.config.BaseURL, "/") + "/")
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = base.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery})
	}

	q := u.Query()
	for k, vals := range req.Query {
		q.Del(k)
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	if req.NextPageToken != "" && c.config.PageTokenParam != "" {
		q.Set(c.config.PageTokenParam, req.NextPageToken)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
