// Package fetcher issues the HTTP GET at the root of each task's
// fetch-parse-report pipeline.
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"podcastcrawler/internal/metrics"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindConnectionFailed ErrorKind = "connection_failed"
	KindTimeout          ErrorKind = "timeout"
	KindRateLimited      ErrorKind = "rate_limited"
	KindInvalidResponse  ErrorKind = "invalid_response"
	KindTooManyRedirects ErrorKind = "too_many_redirects"
)

// Error is the typed failure Fetch returns. Timeout and ConnectionFailed
// are always retryable; InvalidResponse only for 5xx; RateLimited is
// retryable and carries the server's suggested delay; TooManyRedirects is
// not retryable.
type Error struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Retryable  bool
	Wrapped    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidResponse:
		return fmt.Sprintf("fetch: invalid response: status %d", e.Status)
	case KindRateLimited:
		return fmt.Sprintf("fetch: rate limited, retry after %s", e.RetryAfter)
	default:
		if e.Wrapped != nil {
			return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Wrapped)
		}
		return fmt.Sprintf("fetch: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Config tunes the Fetcher.
type Config struct {
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	UserAgent        string
	MaxRedirects     int
	MaxConcurrentReq int // per-host token bucket burst/rate
}

// Fetcher issues GET requests with a shared, connection-pooled HTTP client,
// a per-host rate limiter, and a per-host gobreaker.CircuitBreaker guarding
// the transport itself. Retry pacing for hosts that keep failing lives one
// layer up, in the workers' hosthealth penalties.
type Fetcher struct {
	cfg    Config
	client *http.Client
	m      *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Fetcher. m may be nil to disable metrics recording (tests).
func New(cfg Config, m *metrics.Metrics) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		m:        m,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}

	f.client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirectsOr(cfg.MaxRedirects) {
				return &Error{Kind: KindTooManyRedirects, Retryable: false}
			}
			return nil
		},
	}

	return f
}

func maxRedirectsOr(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

// Fetch performs a single GET against rawURL under the configured timeout,
// limiter, and transport breaker. The returned bytes are the full response
// body; Fetch itself does not retry (retry/backoff is the Worker's job).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	host := hostOf(rawURL)

	limiter := f.limiterFor(host)
	waitStart := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Retryable: true, Wrapped: err}
	}
	if f.m != nil {
		f.m.RateLimiterWait.Observe(time.Since(waitStart).Seconds())
	}

	cb := f.breakerFor(host)

	result, err := cb.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, rawURL)
	})
	if err != nil {
		if fe, ok := err.(*Error); ok {
			f.recordError(fe)
			return nil, fe
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			fe := &Error{Kind: KindConnectionFailed, Retryable: true, Wrapped: err}
			f.recordError(fe)
			return nil, fe
		}
		fe := &Error{Kind: KindConnectionFailed, Retryable: true, Wrapped: err}
		f.recordError(fe)
		return nil, fe
	}

	return result.([]byte), nil
}

func (f *Fetcher) recordError(e *Error) {
	if f.m != nil {
		f.m.FetchErrors.WithLabelValues(string(e.Kind)).Inc()
	}
}

func (f *Fetcher) doFetch(ctx context.Context, rawURL string) ([]byte, error) {
	timeout := f.cfg.RequestTimeout
	if timeout <= 0 {
		return nil, &Error{Kind: KindTimeout, Retryable: true}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Retryable: true, Wrapped: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		if reqCtx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Retryable: true, Wrapped: err}
		}
		return nil, &Error{Kind: KindConnectionFailed, Retryable: true, Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &Error{
			Kind:       KindRateLimited,
			Status:     resp.StatusCode,
			RetryAfter: clampRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After"))),
			Retryable:  true,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode >= 500
		return nil, &Error{Kind: KindInvalidResponse, Status: resp.StatusCode, Retryable: retryable}
	}

	maxBytes := f.cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}

	if cl := resp.ContentLength; cl > 0 && cl > maxBytes {
		return nil, &Error{Kind: KindInvalidResponse, Status: resp.StatusCode, Retryable: false}
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Retryable: true, Wrapped: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &Error{Kind: KindInvalidResponse, Status: resp.StatusCode, Retryable: false}
	}

	return body, nil
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}

	burst := f.cfg.MaxConcurrentReq
	if burst <= 0 {
		burst = 4
	}
	l := rate.NewLimiter(rate.Limit(burst), burst)
	f.limiters[host] = l
	return l
}

func (f *Fetcher) breakerFor(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.m != nil {
				f.m.CircuitBreaker.WithLabelValues(name).Set(breakerStateGauge(to))
			}
		},
	})
	f.breakers[host] = cb
	return cb
}

func breakerStateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "\x00unhosted"
	}
	h := strings.ToLower(u.Hostname())
	if h == "" {
		return "\x00unhosted"
	}
	return h
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func clampRetryAfter(d time.Duration) time.Duration {
	const min = 1 * time.Second
	const max = 60 * time.Second
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
