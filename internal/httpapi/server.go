package httpapi

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/analytics"
	"github.com/nulpointcorp/modelgate/internal/batch"
	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/internal/endpoint"
	"github.com/nulpointcorp/modelgate/internal/metrics"
	"github.com/nulpointcorp/modelgate/internal/ratelimit"
	"github.com/nulpointcorp/modelgate/internal/webhook"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

// Server exposes internal/core.Gateway (plus the batch, webhook, and
// endpoint stores it doesn't own) over the HTTP+JSON surface spec.md §6
// describes.
//
// Grounded on the teacher's internal/proxy.Gateway: a plain struct holding
// already-constructed dependencies, with an HTTP server built around it in
// a sibling file (router.go there, server.go here).
type Server struct {
	gateway   *core.Gateway
	endpoints *endpoint.Store
	batches   *batch.Scheduler
	webhooks  *webhook.Dispatcher
	usage     *analytics.MemoryRecorder // nil when Backend=clickhouse; query endpoints degrade to 501

	corsOrigins []string
	metrics     *metrics.Registry     // optional; nil disables GET /metrics and HTTP instrumentation
	rateLimiter *ratelimit.RPMLimiter // optional; nil when Redis isn't configured
	redisHealth func() bool           // optional; nil when Redis isn't configured
}

// New builds a Server. usage may be nil — it is only consulted by the
// QueryUsage/GetMetrics endpoints, which aren't available when the
// analytics backend is ClickHouse (query access there is via ClickHouse
// SQL directly, per SPEC_FULL.md §4.7).
func New(gw *core.Gateway, endpoints *endpoint.Store, batches *batch.Scheduler, webhooks *webhook.Dispatcher, usage *analytics.MemoryRecorder) *Server {
	return &Server{gateway: gw, endpoints: endpoints, batches: batches, webhooks: webhooks, usage: usage}
}

// SetCORSOrigins configures the allowed CORS origins.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

// SetMetrics wires a Prometheus registry: GET /metrics scrapes it, and every
// request is instrumented via metricsMiddleware (in-flight gauge, per-route
// request/duration/size histograms) — the same optional-management-route
// shape as the teacher's ManagementRoutes.
func (s *Server) SetMetrics(reg *metrics.Registry) {
	s.metrics = reg
}

// SetRateLimiter enables per-endpoint RateLimitRPM enforcement. Only
// meaningful when Redis is configured — without it, CustomEndpoint's
// RateLimitRPM field stays descriptive-only (see DESIGN.md).
func (s *Server) SetRateLimiter(rl *ratelimit.RPMLimiter) {
	s.rateLimiter = rl
}

// SetRedisHealthCheck wires a cheap PING probe into GET /health's report.
// Omitted from the response entirely when unset (cache mode != redis).
func (s *Server) SetRedisHealthCheck(probe func() bool) {
	s.redisHealth = probe
}

// checkEndpointRateLimit enforces endpointID's RateLimitRPM (if set and a
// limiter is configured). Returns false and writes a 429 when the caller
// should be rejected.
func (s *Server) checkEndpointRateLimit(ctx *fasthttp.RequestCtx, owner, endpointID string) bool {
	if s.rateLimiter == nil || endpointID == "" || s.endpoints == nil {
		return true
	}
	ep, err := s.endpoints.Get(endpointID, owner)
	if err != nil || ep.RateLimitRPM <= 0 {
		return true
	}
	allowed, err := s.rateLimiter.AllowKey(ctx, owner+":"+endpointID, ep.RateLimitRPM)
	if err != nil || allowed {
		if s.metrics != nil {
			s.metrics.RecordRateLimit("allowed")
		}
		return true
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimit("rejected")
	}
	apierr.WriteRateLimit(ctx)
	return false
}

// Start starts the HTTP server on addr (e.g. ":8080").
func (s *Server) Start(addr string) error {
	r := router.New()

	r.POST("/v1/chat/completions", auth(s.handleChatCompletions))

	r.POST("/v1/batches", auth(s.handleCreateBatch))
	r.GET("/v1/batches", auth(s.handleListBatches))
	r.GET("/v1/batches/{id}", auth(s.handleGetBatch))
	r.POST("/v1/batches/{id}/cancel", auth(s.handleCancelBatch))

	r.POST("/v1/webhooks", auth(s.handleCreateWebhook))
	r.GET("/v1/webhooks", auth(s.handleListWebhooks))
	r.GET("/v1/webhooks/{id}", auth(s.handleGetWebhook))
	r.PATCH("/v1/webhooks/{id}", auth(s.handleUpdateWebhook))
	r.DELETE("/v1/webhooks/{id}", auth(s.handleDeleteWebhook))

	r.POST("/v1/endpoints", auth(s.handleCreateEndpoint))
	r.GET("/v1/endpoints", auth(s.handleListEndpoints))
	r.GET("/v1/endpoints/{id}", auth(s.handleGetEndpoint))
	r.PATCH("/v1/endpoints/{id}", auth(s.handleUpdateEndpoint))
	r.DELETE("/v1/endpoints/{id}", auth(s.handleDeleteEndpoint))

	r.GET("/v1/usage", auth(s.handleQueryUsage))
	r.GET("/v1/usage/metrics", auth(s.handleGetMetrics))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		metricsMiddleware(s.metrics),
		corsHandler(s.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	body := map[string]any{"status": "ok"}
	if s.redisHealth != nil {
		if s.redisHealth() {
			body["redis"] = "ok"
		} else {
			body["redis"] = "unreachable"
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, body)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
