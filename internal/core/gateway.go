package core

import (
	"context"
	"time"

	"github.com/nulpointcorp/modelgate/internal/catalog"
)

// Router is the narrow capability Gateway needs from internal/router.
// *router.Router satisfies this via its Dispatch/DispatchStream adapter
// methods (thin wrappers over Route/RouteStream's *router.Result return
// shape) — core never imports internal/router, since router imports core
// for ModelRequest/ModelResponse and the reverse import would cycle.
type Router interface {
	Dispatch(ctx context.Context, req *ModelRequest) (modelID string, resp *ModelResponse, err error)
	DispatchStream(ctx context.Context, req *ModelRequest) (modelID string, stream <-chan StreamDelta, err error)
}

// Cache is the narrow capability Gateway needs from internal/cache;
// *cache.ResponseCache already has exactly this shape.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
}

// EndpointStore is the narrow capability Gateway needs from
// internal/endpoint; *endpoint.Store already has exactly this shape.
type EndpointStore interface {
	Get(id, caller string) (*CustomEndpoint, error)
}

// Validator is the narrow capability Gateway needs from internal/validator.
type Validator interface {
	Validate(req *ModelRequest) error
}

// Recorder is the narrow capability Gateway needs from internal/analytics;
// analytics.Recorder (and so MemoryRecorder/ClickHouseRecorder) already
// satisfy it.
type Recorder interface {
	LogUsage(ctx context.Context, rec UsageRecord)
}

// Notifier is the narrow capability Gateway needs from internal/webhook;
// *webhook.Dispatcher already has exactly this shape.
type Notifier interface {
	TriggerEvent(ctx context.Context, owner string, t WebhookEventType, data map[string]any)
}

// Metrics is the narrow capability Gateway needs from internal/metrics;
// *metrics.Registry already has exactly this shape.
type Metrics interface {
	CacheGetHit()
	CacheGetMiss()
	CacheGetBypass()
	AddTokens(provider, route string, inputTokens, outputTokens int, cached bool)
}

// FingerprintFunc computes a cache key for req. Supplied by the caller
// (internal/app wires in cache.Fingerprint with its configured KeyPolicy)
// so core never needs to import internal/cache's keying policy type.
type FingerprintFunc func(owner, endpointID string, req *ModelRequest) string

// RewriteFunc merges a CustomEndpoint preset into req. Supplied by the
// caller as endpoint.Rewrite.
type RewriteFunc func(req ModelRequest, e *CustomEndpoint) ModelRequest

// Gateway strings the request-plane components together:
// EndpointRewrite -> Validate -> Cache.Get -> Router -> UpstreamAdapter ->
// Cache.Set/Analytics -> Webhook.Emit. It is framing-agnostic: nothing here
// touches HTTP, SSE, or a provider SDK directly — see internal/httpapi and
// internal/router for those concerns.
//
// Grounded on the teacher's internal/proxy/gateway.go dispatchChat, which
// follows the same cache-then-dispatch order but writes straight to a
// *fasthttp.RequestCtx; here each step returns plain Go values so
// internal/httpapi can frame the result however its transport needs.
type Gateway struct {
	cat       *catalog.Catalog
	router    Router
	cache     Cache // nil disables caching entirely
	endpoints EndpointStore
	validator Validator
	recorder  Recorder
	notifier  Notifier
	metrics   Metrics // nil disables instrumentation entirely

	fingerprint FingerprintFunc
	rewrite     RewriteFunc
	cacheTTL    time.Duration
}

// GatewayOption configures optional Gateway dependencies.
type GatewayOption func(*Gateway)

func WithCache(c Cache, fp FingerprintFunc, ttl time.Duration) GatewayOption {
	return func(g *Gateway) { g.cache = c; g.fingerprint = fp; g.cacheTTL = ttl }
}

func WithEndpoints(store EndpointStore, rewrite RewriteFunc) GatewayOption {
	return func(g *Gateway) { g.endpoints = store; g.rewrite = rewrite }
}

func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

func WithNotifier(n Notifier) GatewayOption {
	return func(g *Gateway) { g.notifier = n }
}

func WithMetrics(m Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway builds a Gateway over the required catalog, router, and
// validator, with optional cache/endpoint/recorder/notifier capabilities
// attached via options — any capability left unattached degrades to a
// no-op (matching spec.md §4.3's "disabled cache is a no-op").
func NewGateway(cat *catalog.Catalog, router Router, validator Validator, opts ...GatewayOption) *Gateway {
	g := &Gateway{cat: cat, router: router, validator: validator}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChatComplete runs req through the full non-streaming pipeline.
func (g *Gateway) ChatComplete(ctx context.Context, owner string, req ModelRequest) (*ModelResponse, error) {
	start := time.Now()

	req, err := g.applyEndpoint(owner, req)
	if err != nil {
		return nil, err
	}
	if err := g.validator.Validate(&req); err != nil {
		return nil, err
	}

	key := g.keyFor(owner, req)
	if key != "" {
		if entry, ok := g.cache.Get(ctx, key); ok {
			resp := entry.Response
			g.record(ctx, owner, req, &resp, true, time.Since(start), nil)
			g.observe(req, &resp, true)
			return &resp, nil
		}
	}

	modelID, resp, err := g.router.Dispatch(ctx, &req)
	latency := time.Since(start)
	if err != nil {
		g.record(ctx, owner, req, nil, false, latency, err)
		g.emitFailure(ctx, owner, req, err)
		return nil, err
	}

	g.storeInCache(ctx, key, modelID, resp)
	g.record(ctx, owner, req, resp, false, latency, nil)
	g.emitSuccess(ctx, owner, req, modelID)
	g.observe(req, resp, false)

	return resp, nil
}

// observe reports cache hit/miss and token usage to the optional metrics
// registry. A no-op when WithMetrics wasn't supplied.
func (g *Gateway) observe(req ModelRequest, resp *ModelResponse, cacheHit bool) {
	if g.metrics == nil {
		return
	}
	switch {
	case g.cache == nil:
		g.metrics.CacheGetBypass()
	case cacheHit:
		g.metrics.CacheGetHit()
	default:
		g.metrics.CacheGetMiss()
	}
	g.metrics.AddTokens(resp.Model, string(req.Route), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cacheHit)
}

// ChatStream runs req through the streaming pipeline. Streaming responses
// are never served from or written to cache: the cache stores a single
// complete ModelResponse, and a partially-consumed stream has no complete
// response to store until the last delta — by which point the caller has
// already received the content directly.
func (g *Gateway) ChatStream(ctx context.Context, owner string, req ModelRequest) (string, <-chan StreamDelta, error) {
	start := time.Now()

	req, err := g.applyEndpoint(owner, req)
	if err != nil {
		return "", nil, err
	}
	if err := g.validator.Validate(&req); err != nil {
		return "", nil, err
	}

	modelID, ch, err := g.router.DispatchStream(ctx, &req)
	if err != nil {
		g.record(ctx, owner, req, nil, false, time.Since(start), err)
		g.emitFailure(ctx, owner, req, err)
		return "", nil, err
	}

	g.record(ctx, owner, req, &ModelResponse{Model: modelID}, false, time.Since(start), nil)
	g.emitSuccess(ctx, owner, req, modelID)
	return modelID, ch, nil
}

func (g *Gateway) applyEndpoint(owner string, req ModelRequest) (ModelRequest, error) {
	if req.EndpointID == "" || g.endpoints == nil || g.rewrite == nil {
		return req, nil
	}
	ep, err := g.endpoints.Get(req.EndpointID, owner)
	if err != nil {
		return req, err
	}
	return g.rewrite(req, ep), nil
}

func (g *Gateway) keyFor(owner string, req ModelRequest) string {
	if g.cache == nil || g.fingerprint == nil {
		return ""
	}
	return g.fingerprint(owner, req.EndpointID, &req)
}

func (g *Gateway) storeInCache(ctx context.Context, key, modelID string, resp *ModelResponse) {
	if key == "" || g.cache == nil {
		return
	}
	now := time.Now()
	entry := CacheEntry{
		ModelID:   modelID,
		Response:  *resp,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cacheTTL),
		Usage:     resp.Usage,
	}
	_ = g.cache.Set(ctx, key, entry, g.cacheTTL)
}

func (g *Gateway) record(ctx context.Context, owner string, req ModelRequest, resp *ModelResponse, cacheHit bool, latency time.Duration, err error) {
	if g.recorder == nil {
		return
	}
	rec := UsageRecord{
		TS:              time.Now(),
		Owner:           owner,
		RequestedModel:  req.Model,
		RoutingStrategy: req.Route,
		EndpointID:      req.EndpointID,
		LatencyMs:       latency.Milliseconds(),
		CacheHit:        cacheHit,
	}
	if err != nil {
		rec.Success = false
		rec.ErrorKind = KindOf(err)
		rec.ActualModel = req.Model
	} else {
		rec.Success = true
		rec.ActualModel = resp.Model
		rec.InputTokens = resp.Usage.PromptTokens
		rec.OutputTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		rec.CostUSD = g.cost(resp.Model, resp.Usage)
	}
	g.recorder.LogUsage(ctx, rec)
}

// cost applies spec.md §4.7's formula directly against the catalog's price
// table. Duplicated (rather than imported) from internal/analytics.Cost:
// analytics imports core for UsageRecord, so core importing analytics back
// would cycle — this one-line formula is cheap enough to keep in both
// places rather than introduce a third shared package for it.
func (g *Gateway) cost(modelID string, usage Usage) float64 {
	m, ok := g.cat.Lookup(modelID)
	if !ok {
		return 0
	}
	return (float64(usage.PromptTokens)*m.InputPrice + float64(usage.CompletionTokens)*m.OutputPrice) / 1e6
}

func (g *Gateway) emitSuccess(ctx context.Context, owner string, req ModelRequest, modelID string) {
	if g.notifier == nil {
		return
	}
	if modelID != req.Model && req.Model != "" {
		g.notifier.TriggerEvent(ctx, owner, EventModelFallback, map[string]any{
			"requested_model": req.Model,
			"actual_model":    modelID,
		})
	}
	g.notifier.TriggerEvent(ctx, owner, EventRequestCompleted, map[string]any{
		"model": modelID,
	})
}

func (g *Gateway) emitFailure(ctx context.Context, owner string, req ModelRequest, err error) {
	if g.notifier == nil {
		return
	}
	kind := KindOf(err)
	if kind == ErrNoModelAvail {
		g.notifier.TriggerEvent(ctx, owner, EventModelUnavailable, map[string]any{
			"requested_model": req.Model,
		})
		return
	}
	g.notifier.TriggerEvent(ctx, owner, EventRequestFailed, map[string]any{
		"requested_model": req.Model,
		"error":           err.Error(),
	})
}
