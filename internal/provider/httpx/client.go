// Package httpx is the shared upstream HTTP layer: per-call timeout, bounded
// retry with exponential backoff, a token-bucket rate limiter and a circuit
// breaker per provider. Every failure leaves as *provider.UpstreamError.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"conviction-lab/internal/observability"
	"conviction-lab/internal/provider"
)

// Default configuration values.
const (
	DefaultTimeout          = 15 * time.Second
	DefaultMaxRetries       = 2
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultMaxDelay         = 5 * time.Second
	DefaultBackoffMult      = 2.0
	DefaultBreakerFailures  = 5
	DefaultBreakerOpenDelay = 30 * time.Second
	maxErrorBody            = 512
)

// Client performs JSON requests against one upstream provider.
type Client struct {
	name        string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	headers     http.Header
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	breakerFailures  uint32
	breakerOpenDelay time.Duration
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts after the first call.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithRateLimit limits requests to rps with the given burst. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker sets the consecutive-failure trip count and the open-state duration.
// failures == 0 disables the breaker.
func WithBreaker(failures uint32, openDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerOpenDelay = openDelay
	}
}

// WithMetrics records per-attempt outcomes.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the named provider.
func New(name string, opts ...ClientOption) *Client {
	c := &Client{
		name:             name,
		client:           &http.Client{Timeout: DefaultTimeout},
		maxRetries:       DefaultMaxRetries,
		retryDelay:       DefaultRetryDelay,
		maxDelay:         DefaultMaxDelay,
		backoffMult:      DefaultBackoffMult,
		headers:          make(http.Header),
		logger:           zerolog.Nop(),
		breakerFailures:  DefaultBreakerFailures,
		breakerOpenDelay: DefaultBreakerOpenDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("provider", name).Logger()

	if c.breakerFailures > 0 {
		failures := c.breakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     c.breakerOpenDelay,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				// Client-side rejections mean the upstream is alive.
				var se *StatusError
				if errors.As(err, &se) {
					return se.Code != http.StatusTooManyRequests && se.Code < 500
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		})
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Execute runs fn under the limiter and breaker, retrying transient failures
// with exponential backoff. Errors are returned as *provider.UpstreamError.
func (c *Client) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (interface{}, error) {
			return nil, c.retry(ctx, fn)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.RecordProviderRequest(c.name, observability.OutcomeBreakerOpen, 0)
		}
	} else {
		err = c.retry(ctx, fn)
	}
	if err == nil {
		return nil
	}

	status := 0
	var se *StatusError
	if errors.As(err, &se) {
		status = se.Code
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		err = pe.err
	}
	return provider.NewUpstreamError(c.name, status, err)
}

// wrap reports a failure detected after a successful HTTP exchange.
func (c *Client) wrap(err error) error {
	return provider.NewUpstreamError(c.name, 0, err)
}

func (c *Client) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			c.metrics.RecordProviderRequest(c.name, observability.OutcomeOK, elapsed)
			return nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == c.maxRetries {
			c.metrics.RecordProviderRequest(c.name, observability.OutcomeError, elapsed)
			break
		}
		c.metrics.RecordProviderRequest(c.name, observability.OutcomeRetry, elapsed)
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying upstream call")
	}

	return lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.NewUpstreamError(c.name, 0, fmt.Errorf("marshal request: %w", err))
	}
	return c.doJSON(ctx, http.MethodPost, url, payload, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	return c.Execute(ctx, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return Permanent(fmt.Errorf("create request: %w", err))
		}
		for k, vs := range c.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg := string(respBody)
			if len(msg) > maxErrorBody {
				msg = msg[:maxErrorBody]
			}
			return &StatusError{Code: resp.StatusCode, Body: msg}
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	})
}
