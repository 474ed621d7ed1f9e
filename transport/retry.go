package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration
}

// Delay returns the wait before retry attempt (1-based): Backoff doubled per
// attempt and capped at BackoffMax.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := p.BackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryTransport retries idempotent requests on transient failures.
type RetryTransport struct {
	Base    http.RoundTripper
	Policy  RetryPolicy
	OnRetry func(req *http.Request, attempt int, cause error)

	retries atomic.Int64
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, policy RetryPolicy) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{Base: base, Policy: policy}
}

// Retries returns the number of retries issued so far.
func (t *RetryTransport) Retries() int {
	return int(t.retries.Load())
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Policy.MaxRetries <= 0 || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return t.Base.RoundTrip(req)
	}

	for attempt := 1; ; attempt++ {
		resp, err := t.Base.RoundTrip(req)
		retry, cause := retryable(req, resp, err)
		if !retry || attempt > t.Policy.MaxRetries {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		t.retries.Add(1)
		if t.OnRetry != nil {
			t.OnRetry(req, attempt, cause)
		}
		delay := t.Policy.Delay(attempt)
		slog.Debug("retrying request",
			slog.String("url", req.URL.String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("category", Label(cause)),
		)
		if err := sleep(req.Context(), delay); err != nil {
			return nil, ErrTimeout{Err: err}
		}
	}
}

func retryable(req *http.Request, resp *http.Response, err error) (bool, error) {
	if err != nil {
		classified := Classify(err, 0)
		switch classified.(type) {
		case ErrTimeout, ErrConnection:
			return true, classified
		}
		return false, classified
	}
	if resp != nil && retryStatuses[resp.StatusCode] {
		return true, StatusError(resp.StatusCode, req.URL.String())
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewHTTPTransport returns the pooled transport shared by both commands.
func NewHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// HeaderTransport sets default headers on requests that lack them.
type HeaderTransport struct {
	Base   http.RoundTripper
	Header http.Header
}

// RoundTrip implements http.RoundTripper.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for key, values := range t.Header {
		if clone.Header.Get(key) == "" {
			clone.Header[key] = values
		}
	}
	return t.Base.RoundTrip(clone)
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Timeout time.Duration
	// Streaming applies Timeout to connecting and to the response headers
	// only, leaving body reads for the caller to bound.
	Streaming bool
	UserAgent string
	Accept    string
	Policy    RetryPolicy
	// Base replaces the pooled transport; tests pass an httpmock transport.
	Base    http.RoundTripper
	OnRetry func(req *http.Request, attempt int, cause error)
}

// NewClient builds an http.Client with default headers and retries.
func NewClient(opts ClientOptions) *http.Client {
	base := opts.Base
	if base == nil {
		pooled := NewHTTPTransport(opts.Timeout)
		if opts.Streaming {
			pooled.ResponseHeaderTimeout = opts.Timeout
		}
		base = pooled
	}
	retry := NewRetryTransport(base, opts.Policy)
	retry.OnRetry = opts.OnRetry

	header := http.Header{}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}
	if opts.Accept != "" {
		header.Set("Accept", opts.Accept)
	}

	timeout := opts.Timeout
	if opts.Streaming {
		timeout = 0
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &HeaderTransport{Base: retry, Header: header},
	}
}
