package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"proximity-map/internal/logging"
	"proximity-map/internal/metrics"
)

var (
	// ErrUpstreamUnavailable covers timeouts, refused connections, DNS
	// failures, non-2xx answers and an open circuit breaker.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedPayload means the upstream answered with something that is
	// not a proximity envelope.
	ErrMalformedPayload = errors.New("malformed upstream payload")
)

// BreakerSettings configures the relay's circuit breaker.
type BreakerSettings struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Relay answers GET /api/data. Every call is one fresh upstream request; any
// failure is absorbed into a well-formed fallback envelope.
type Relay struct {
	source ProximitySource
	cb     *gobreaker.CircuitBreaker[[]byte]
}

const breakerName = "upstream"

func NewRelay(source ProximitySource, bs BreakerSettings) *Relay {
	r := &Relay{source: source}
	if !bs.Enabled {
		return r
	}

	threshold := bs.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	r.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A viewer closing the page is not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})
	return r
}

// Current returns the upstream envelope, or the fallback envelope when the
// upstream cannot be used. It never fails.
func (r *Relay) Current(ctx context.Context) []byte {
	start := time.Now()
	body, err := r.fetch(ctx)
	metrics.RecordUpstream(resultLabel(err), time.Since(start))
	if err != nil {
		logging.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("upstream fetch failed")
		return fallbackEnvelope(err)
	}
	return body
}

func (r *Relay) fetch(ctx context.Context) ([]byte, error) {
	if r.cb == nil {
		return r.source.Fetch(ctx)
	}
	body, err := r.cb.Execute(func() ([]byte, error) {
		return r.source.Fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return body, err
}

// ServeHTTP implements GET /api/data. The status is always 200 so the page
// never has to special-case transport errors.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body := r.Current(req.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	default:
		return "unavailable"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
