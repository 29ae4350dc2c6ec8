package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/modelgate/internal/analytics"
	"github.com/nulpointcorp/modelgate/internal/batch"
	npCache "github.com/nulpointcorp/modelgate/internal/cache"
	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/internal/endpoint"
	"github.com/nulpointcorp/modelgate/internal/httpapi"
	"github.com/nulpointcorp/modelgate/internal/metrics"
	"github.com/nulpointcorp/modelgate/internal/ratelimit"
	"github.com/nulpointcorp/modelgate/internal/router"
	"github.com/nulpointcorp/modelgate/internal/validator"
	"github.com/nulpointcorp/modelgate/internal/webhook"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the LLM provider map and fails when it is empty.
// Config loading already requires a provider key unless AllowClientAPIKeys
// is set.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices builds the model catalog, cache backend, analytics recorder,
// and Prometheus metrics registry — the subsystems initGateway strings
// together but that carry no dependency on each other.
func (a *App) initServices(ctx context.Context) error {
	a.cat = catalog.New()

	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	switch a.cfg.Analytics.Backend {
	case "memory":
		a.usageMem = analytics.NewMemoryRecorder(a.cfg.Analytics.MemoryCapacity)
		a.log.Info("analytics backend: memory", slog.Int("capacity", a.cfg.Analytics.MemoryCapacity))

	case "clickhouse":
		rec, err := analytics.NewClickHouseRecorder(ctx, analytics.ClickHouseConfig{
			Addr:     a.cfg.Analytics.ClickHouse.Addr,
			Database: a.cfg.Analytics.ClickHouse.Database,
			Username: a.cfg.Analytics.ClickHouse.Username,
			Password: a.cfg.Analytics.ClickHouse.Password,
		}, a.log)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.usageCH = rec
		a.log.Info("analytics backend: clickhouse", slog.String("addr", a.cfg.Analytics.ClickHouse.Addr))

	default:
		return fmt.Errorf("unknown analytics backend: %s", a.cfg.Analytics.Backend)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway wires the router, endpoint store, webhook dispatcher, batch
// scheduler, and core.Gateway together, then builds the httpapi.Server over
// them.
func (a *App) initGateway(_ context.Context) error {
	// ── Cache backend → core.Cache ────────────────────────────────────────────
	var cacheBackend npCache.Cache
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheBackend = npCache.NewExactCacheFromClient(a.rdb)
	case "memory":
		cacheBackend = a.memCache
	case "none":
		// nil backend — ResponseCache degrades to a permanent no-op.
	}
	responseCache := npCache.NewResponseCache(cacheBackend)

	keyPolicy := npCache.KeyPolicy{
		Strategy:          a.cfg.Cache.KeyStrategy,
		IgnoreTemperature: a.cfg.Cache.IgnoreTemperature,
		IgnoreTopP:        a.cfg.Cache.IgnoreTopP,
	}
	fingerprint := func(owner, endpointID string, req *core.ModelRequest) string {
		return npCache.Fingerprint(owner, endpointID, req, keyPolicy)
	}

	// ── Router ─────────────────────────────────────────────────────────────────
	adapter := router.NewProviderAdapter(a.provs, a.cat)
	cb := router.NewCircuitBreaker(router.CBConfig{
		ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
		TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
		HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
	})
	rt := router.New(a.cat, adapter, router.WithCircuitBreaker(cb))
	val := validator.New(a.cat)

	// ── Endpoint store, webhook dispatcher, batch scheduler ───────────────────
	a.endpoints = endpoint.New()
	a.webhooks = webhook.New(a.cfg.Webhook.DeliveryTimeout, a.cfg.Webhook.DefaultRetries, a.log)

	notifyBatchDone := func(ctx context.Context, b core.Batch) {
		a.webhooks.TriggerEvent(ctx, b.Owner, core.EventBatchCompleted, map[string]any{
			"batch_id": b.ID,
			"state":    string(b.State),
		})
	}
	a.batches = batch.New(a.baseCtx, rt, val, a.cfg.Batch.MaxConcurrent, notifyBatchDone, a.log)

	// ── Recorder (narrows to core.Recorder; only one of these is non-nil) ────
	var recorder core.Recorder
	if a.usageMem != nil {
		recorder = a.usageMem
	} else {
		recorder = a.usageCH
	}

	// ── Assemble the gateway ───────────────────────────────────────────────────
	a.gw = core.NewGateway(a.cat, rt, val,
		core.WithCache(responseCache, fingerprint, a.cfg.Cache.TTL),
		core.WithEndpoints(a.endpoints, core.RewriteFunc(endpoint.Rewrite)),
		core.WithRecorder(recorder),
		core.WithNotifier(a.webhooks),
		core.WithMetrics(a.prom),
	)

	a.srv = httpapi.New(a.gw, a.endpoints, a.batches, a.webhooks, a.usageMem)
	a.srv.SetCORSOrigins(a.cfg.CORSOrigins)
	a.srv.SetMetrics(a.prom)

	if a.rdb != nil {
		a.srv.SetRateLimiter(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.srv.SetRedisHealthCheck(redisPinger(a.baseCtx, a.rdb))
		a.log.Info("per-endpoint rate limiting enabled")
	}

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
