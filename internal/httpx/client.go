package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitBackoff is how long a caller waits before its single retry after HTTP 429.
	DefaultRateLimitBackoff = 60 * time.Second

	// DefaultMaxBodyBytes is the largest response body a Client accepts.
	DefaultMaxBodyBytes = 8 << 20
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client performs GET requests against one provider. On HTTP 429 it waits
// the backoff once and retries; any other non-2xx status, a second 429 or an
// undecodable body is returned as *domain.ProviderError.
// The backoff blocks only the calling goroutine.
type Client struct {
	provider string
	http     *http.Client
	backoff  time.Duration
	limiter  *rate.Limiter
	sleep    SleepFunc
	maxBody  int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client (e.g. an OAuth2 client).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff overrides the wait before the rate-limit retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLimiter throttles outgoing requests. A nil limiter disables throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMaxBody overrides DefaultMaxBodyBytes.
func WithMaxBody(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithSleep replaces the backoff sleep, used by tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// New creates a Client for the named provider.
func New(provider string, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: 60 * time.Second},
		backoff:  DefaultRateLimitBackoff,
		sleep:    Sleep,
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name used in errors and metrics.
func (c *Client) Provider() string { return c.provider }

// GetJSON performs a GET and decodes a successful JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	body, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ProviderError{
			Provider: c.provider,
			Body:     string(body),
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return nil
}

// Get performs a GET and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	log := logger.FromContext(ctx)

	status, body, err := c.do(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		log.Warn().
			Str("provider", c.provider).
			Dur("backoff", c.backoff).
			Msg("Rate limited, retrying once after backoff")
		metrics.RateLimitRetriesTotal.WithLabelValues(c.provider).Inc()

		if err := c.sleep(ctx, c.backoff); err != nil {
			return nil, &domain.ProviderError{Provider: c.provider, StatusCode: status, Body: string(body), Err: err}
		}
		status, body, err = c.do(ctx, rawURL, header)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, &domain.ProviderError{Provider: c.provider, StatusCode: status, Body: string(body)}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, rawURL string, header http.Header) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, &domain.ProviderError{Provider: c.provider, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, &domain.ProviderError{Provider: c.provider, Err: fmt.Errorf("building request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &domain.ProviderError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	metrics.ProviderRequestsTotal.WithLabelValues(c.provider, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return resp.StatusCode, nil, &domain.ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return resp.StatusCode, nil, &domain.ProviderError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response body exceeds %d bytes", c.maxBody),
		}
	}
	return resp.StatusCode, body, nil
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
