// Package gate blocks until a dependent service's control port accepts
// connections, so bootstrap actions (model pulls, smoke checks) only run
// against a listening endpoint.
package gate

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Endpoint describes a probe target: either a raw TCP address or an HTTP(S) URL.
type Endpoint struct {
	Scheme  string
	Address string
	URL     string
}

// ParseEndpoint accepts tcp://host:port, host:port, or an http(s) URL.
func ParseEndpoint(raw string) (Endpoint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Endpoint{}, errors.New("endpoint must not be empty")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "tcp://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint: %w", err)
	}

	switch parsed.Scheme {
	case "tcp":
		if parsed.Port() == "" {
			return Endpoint{}, fmt.Errorf("tcp endpoint %q requires a port", raw)
		}
		return Endpoint{Scheme: "tcp", Address: parsed.Host}, nil
	case "http", "https":
		return Endpoint{Scheme: parsed.Scheme, URL: parsed.String()}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

// TimeoutError reports that the endpoint never became ready within the
// configured window.
type TimeoutError struct {
	Endpoint string
	Elapsed  time.Duration
	LastErr  error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("endpoint %s not ready after %s (last error: %v)", e.Endpoint, e.Elapsed.Round(time.Millisecond), e.LastErr)
	}
	return fmt.Sprintf("endpoint %s not ready after %s", e.Endpoint, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Waiter polls an endpoint at a fixed interval until it accepts.
type Waiter struct {
	attemptTimeout time.Duration
	now            func() time.Time
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithAttemptTimeout bounds each individual connection attempt.
func WithAttemptTimeout(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		if d > 0 {
			w.attemptTimeout = d
		}
	}
}

// NewWaiter constructs a Waiter.
func NewWaiter(opts ...WaiterOption) *Waiter {
	waiter := &Waiter{
		attemptTimeout: 3 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(waiter)
	}
	return waiter
}

// WaitReady repeatedly attempts a lightweight connection to the endpoint until
// one attempt succeeds or the timeout elapses. Attempts are spaced by the poll
// interval; the loop never busy-spins.
func (w *Waiter) WaitReady(ctx context.Context, endpoint Endpoint, timeout, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return errors.New("timeout must be greater than zero")
	}
	if interval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := w.now()
	var lastErr error

	operation := func() error {
		err := w.attempt(deadlineCtx, endpoint)
		if err != nil {
			lastErr = err
		}
		return err
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), deadlineCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		if parentErr := ctx.Err(); parentErr != nil && deadlineCtx.Err() == context.Canceled {
			return parentErr
		}
		return &TimeoutError{
			Endpoint: endpointLabel(endpoint),
			Elapsed:  w.now().Sub(start),
			LastErr:  lastErr,
		}
	}
	return nil
}

func (w *Waiter) attempt(ctx context.Context, endpoint Endpoint) error {
	switch endpoint.Scheme {
	case "tcp":
		dialer := net.Dialer{Timeout: w.attemptTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address)
		if err != nil {
			return err
		}
		return conn.Close()
	case "http", "https":
		client := &http.Client{
			Timeout: w.attemptTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		// Any response means the listener is up; readiness is reachability,
		// not application health.
		return resp.Body.Close()
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", endpoint.Scheme)
	}
}

func endpointLabel(endpoint Endpoint) string {
	if endpoint.Scheme == "tcp" {
		return "tcp://" + endpoint.Address
	}
	return endpoint.URL
}
