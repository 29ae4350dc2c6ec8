// Package router implements the request router (spec.md §4.4): strategy
// driven candidate ordering, feature gating, per-candidate health probing,
// and failover dispatch through an UpstreamAdapter.
//
// Grounded on the teacher's internal/proxy/{routing.go,failover.go,
// circuitbreaker.go,healthchecker.go}, generalized from a fixed
// provider-name fallback list to a catalog-driven, strategy-selectable
// candidate order keyed by model id.
package router

import (
	"context"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
)

// Router selects and dispatches a ModelRequest against the model catalog.
type Router struct {
	cat     *catalog.Catalog
	adapter UpstreamAdapter
	probe   ProbeConfig
	cb      *CircuitBreaker // optional; nil disables circuit breaking
}

// Option configures a Router.
type Option func(*Router)

// WithProbeConfig overrides the default health-probe tuning.
func WithProbeConfig(cfg ProbeConfig) Option {
	return func(r *Router) { r.probe = cfg }
}

// WithCircuitBreaker attaches a CircuitBreaker; candidates it reports as
// open are skipped without a health probe.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(r *Router) { r.cb = cb }
}

// New builds a Router over cat and adapter.
func New(cat *catalog.Catalog, adapter UpstreamAdapter, opts ...Option) *Router {
	r := &Router{cat: cat, adapter: adapter, probe: DefaultProbeConfig()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of a successful Route/RouteStream call: which
// candidate actually served the request, and its response. Whether that was
// a fallback is read by comparing ModelID with req.Model.
type Result struct {
	ModelID  string
	Response *core.ModelResponse
}

// Route tries req's candidates in strategy order and returns the first
// successful completion. A non-retryable error from a candidate is returned
// at once, unchanged. It returns a *core.Error with kind ErrNoModelAvail if
// no candidate is eligible or every candidate is skipped as unhealthy, and
// surfaces the last retryable error otherwise — matching spec.md §4.4's
// "exhausted candidates" behavior.
func (r *Router) Route(ctx context.Context, req *core.ModelRequest) (*Result, error) {
	candidates := buildCandidates(r.cat, req)
	if len(candidates) == 0 {
		return nil, core.NewError(core.ErrNoModelAvail, "no eligible model for request")
	}

	var lastErr error
	for _, modelID := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, core.Wrap(core.ErrCancelled, "request cancelled", err)
		}
		if r.cb != nil && !r.cb.Allow(modelID) {
			continue
		}
		if !probeAvailable(ctx, r.adapter, modelID, r.probe) {
			if r.cb != nil {
				r.cb.RecordFailure(modelID)
			}
			continue
		}

		resp, err := r.adapter.Complete(ctx, modelID, req)
		if err == nil {
			if r.cb != nil {
				r.cb.RecordSuccess(modelID)
			}
			return &Result{ModelID: modelID, Response: resp}, nil
		}

		if r.cb != nil {
			r.cb.RecordFailure(modelID)
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewError(core.ErrNoModelAvail, "no healthy candidate available")
}

// RouteStream behaves like Route but dispatches through Stream; only the
// leading candidate selection can fail over, since once streaming begins
// there is no way to retry mid-stream without re-sending already-emitted
// tokens to the caller.
func (r *Router) RouteStream(ctx context.Context, req *core.ModelRequest) (string, <-chan core.StreamDelta, error) {
	candidates := buildCandidates(r.cat, req)
	if len(candidates) == 0 {
		return "", nil, core.NewError(core.ErrNoModelAvail, "no eligible model for request")
	}

	var lastErr error
	for _, modelID := range candidates {
		if err := ctx.Err(); err != nil {
			return "", nil, core.Wrap(core.ErrCancelled, "request cancelled", err)
		}
		if r.cb != nil && !r.cb.Allow(modelID) {
			continue
		}
		if !probeAvailable(ctx, r.adapter, modelID, r.probe) {
			if r.cb != nil {
				r.cb.RecordFailure(modelID)
			}
			continue
		}

		ch, err := r.adapter.Stream(ctx, modelID, req)
		if err == nil {
			if r.cb != nil {
				r.cb.RecordSuccess(modelID)
			}
			return modelID, ch, nil
		}

		if r.cb != nil {
			r.cb.RecordFailure(modelID)
		}
		lastErr = err
		if !isRetryable(err) {
			return "", nil, err
		}
	}

	if lastErr != nil {
		return "", nil, lastErr
	}
	return "", nil, core.NewError(core.ErrNoModelAvail, "no healthy candidate available")
}

// isRetryable mirrors the teacher's internal/proxy/failover.go isRetryable:
// upstream errors, timeouts, and rate limits warrant trying the next
// candidate; invalid-request/not-found/cancelled do not.
func isRetryable(err error) bool {
	switch core.KindOf(err) {
	case core.ErrUpstreamError, core.ErrUpstreamTimeout, core.ErrRateLimited:
		return true
	default:
		return false
	}
}

// Candidates exposes buildCandidates for callers (e.g. batch/webhook
// components, or tests) that need the ordering without dispatching.
func (r *Router) Candidates(req *core.ModelRequest) []string {
	return buildCandidates(r.cat, req)
}

// Dispatch adapts Route to the flat (modelID, resp, err) shape
// internal/core.Router expects, so *Router satisfies that interface
// without internal/core needing to import this package.
func (r *Router) Dispatch(ctx context.Context, req *core.ModelRequest) (string, *core.ModelResponse, error) {
	res, err := r.Route(ctx, req)
	if err != nil {
		return "", nil, err
	}
	return res.ModelID, res.Response, nil
}

// DispatchStream is RouteStream under the name internal/core.Router expects.
func (r *Router) DispatchStream(ctx context.Context, req *core.ModelRequest) (string, <-chan core.StreamDelta, error) {
	return r.RouteStream(ctx, req)
}

// ModelState reports the circuit breaker's view of modelID, or "closed" if
// no breaker is attached.
func (r *Router) ModelState(modelID string) string {
	if r.cb == nil {
		return "closed"
	}
	return r.cb.State(modelID)
}
