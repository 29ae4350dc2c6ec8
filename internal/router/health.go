package router

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProbeConfig tunes Router.probe, per spec.md §4.4.1: each candidate is
// probed through UpstreamAdapter.Available bounded by Timeout, retried up
// to Retries times with exponential backoff (Base * 2^(attempt-1)) plus
// jitter.
//
// Grounded on promoting the teacher's already-imported (but, in the
// teacher, never directly invoked) github.com/cenkalti/backoff/v4 — present
// transitively through the AWS/otel dependency chain — into a library this
// tree actually calls.
type ProbeConfig struct {
	Timeout time.Duration
	Retries int
	Base    time.Duration
}

// DefaultProbeConfig matches spec.md §4.4.1's stated defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout: 5 * time.Second,
		Retries: 3,
		Base:    100 * time.Millisecond,
	}
}

// probeAvailable runs adapter.Available against modelID, retrying on
// failure with exponential backoff and jitter. It returns false (no error)
// if every attempt fails or the context is cancelled — the router treats
// an unavailable candidate as "skip", not as a request-ending error.
func probeAvailable(ctx context.Context, adapter UpstreamAdapter, modelID string, cfg ProbeConfig) bool {
	attempt := 0
	operation := func() error {
		attempt++
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if adapter.Available(probeCtx, modelID) {
			return nil
		}
		return errUnavailable
	}

	bo := backoff.WithMaxRetries(
		backoff.WithContext(jitteredExponential(cfg.Base), ctx),
		uint64(cfg.Retries),
	)

	err := backoff.Retry(operation, bo)
	return err == nil
}

var errUnavailable = probeError("candidate unavailable")

type probeError string

func (e probeError) Error() string { return string(e) }

// jitteredExponential builds a backoff.BackOff whose n-th interval is
// base*2^(n-1), randomized by up to ±20% (0.8x–1.2x), matching spec.md §4.4.1 exactly
// ("base × 2^(attempt-1) and small jitter").
func jitteredExponential(base time.Duration) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0 // bounded instead by WithMaxRetries
	return eb
}

// jitter returns a duration in [d, d*1.2] — a one-shot jittered delay
// without the full backoff.BackOff state machine. Nothing in the tree calls
// it; internal/webhook's retry schedule is its own unjittered doublingBackoff.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}
