package client

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Backoff controls how reads against Supabase are retried.
type Backoff struct {
	Retries    int
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay that is randomized.
	Jitter float64
}

// DefaultBackoff retries reads three times starting at 100ms.
func DefaultBackoff() Backoff {
	return Backoff{
		Retries:    3,
		Base:       100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// BreakerState is the state of the upstream circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after Threshold consecutive upstream failures and lets a single
// trial call through once Cooldown has elapsed.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration
	// OnChange is invoked synchronously on every state change.
	OnChange func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// DefaultBreaker opens after five failures and tries again after 30s.
func DefaultBreaker() *Breaker {
	return &Breaker{Threshold: 5, Cooldown: 30 * time.Second}
}

// ErrUpstreamUnavailable is returned without calling Supabase while the breaker is open.
var ErrUpstreamUnavailable = errors.New("supabase: upstream unavailable")

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if time.Since(b.openedAt) < b.Cooldown {
			return ErrUpstreamUnavailable
		}
		b.setLocked(BreakerHalfOpen)
	}
	return nil
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != BreakerClosed {
		b.setLocked(BreakerClosed)
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.Threshold) {
		b.openedAt = time.Now()
		b.setLocked(BreakerOpen)
	}
}

func (b *Breaker) setLocked(to BreakerState) {
	from := b.state
	b.state = to
	if b.OnChange != nil {
		b.OnChange(from, to)
	}
}

// State reports the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TransportStats counts upstream traffic since start.
type TransportStats struct {
	Calls    int64 `json:"calls"`
	Retries  int64 `json:"retries"`
	Failures int64 `json:"failures"`
	Rejected int64 `json:"rejected"`
}

// Transport is an http.RoundTripper that retries idempotent Supabase calls on
// transient failures and stops calling a failing upstream.
type Transport struct {
	Base    http.RoundTripper
	Backoff Backoff
	Breaker *Breaker

	calls, retries, failures, rejected atomic.Int64
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, backoff Backoff, breaker *Breaker) *Transport {
	if base == nil {
		base = &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}
	if breaker == nil {
		breaker = DefaultBreaker()
	}
	return &Transport{Base: base, Backoff: backoff, Breaker: breaker}
}

// RoundTrip implements http.RoundTripper. The last response is returned as is
// when retries run out, so callers still see the upstream status and body.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	if err := t.Breaker.allow(); err != nil {
		t.rejected.Add(1)
		return nil, err
	}

	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t.retries.Add(1)
			select {
			case <-req.Context().Done():
				t.failures.Add(1)
				return nil, req.Context().Err()
			case <-time.After(t.Backoff.delay(attempt)):
			}
			req = req.Clone(req.Context())
		}
		more := idempotent && attempt < t.Backoff.Retries

		resp, err := t.Base.RoundTrip(req)
		if err != nil {
			if more && transient(err) {
				continue
			}
			t.failures.Add(1)
			if !errors.Is(err, context.Canceled) {
				t.Breaker.failure()
			}
			return nil, err
		}

		if upstreamFault(resp.StatusCode) {
			if more {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				_ = resp.Body.Close()
				continue
			}
			t.failures.Add(1)
			t.Breaker.failure()
			return resp, nil
		}

		t.Breaker.success()
		return resp, nil
	}
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Calls:    t.calls.Load(),
		Retries:  t.retries.Load(),
		Failures: t.failures.Load(),
		Rejected: t.rejected.Load(),
	}
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func upstreamFault(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewWithTransport builds a Client whose calls go through a retrying Transport.
func NewWithTransport(cfg Config, backoff Backoff, breaker *Breaker) (*Client, *Transport, error) {
	var base http.RoundTripper
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
	}
	t := NewTransport(base, backoff, breaker)
	cfg.HTTPClient = &http.Client{Transport: t, Timeout: 30 * time.Second}
	c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, t, nil
}

type requestIDKey struct{}

// WithRequestID makes outgoing calls made with ctx carry X-Request-ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
