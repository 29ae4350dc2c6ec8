package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/analytics"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

// parseRange reads the "since"/"until" RFC3339 query parameters, leaving
// either bound open (zero time) when absent or malformed.
func parseRange(ctx *fasthttp.RequestCtx) (since, until time.Time) {
	if raw := string(ctx.QueryArgs().Peek("since")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}
	if raw := string(ctx.QueryArgs().Peek("until")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			until = t
		}
	}
	return since, until
}

// parseFilter reads the "models" (comma-separated), "endpoint_id", "offset",
// and "limit" query parameters into a QueryFilter, per spec.md §4.7.
func parseFilter(ctx *fasthttp.RequestCtx) analytics.QueryFilter {
	var f analytics.QueryFilter
	if raw := string(ctx.QueryArgs().Peek("models")); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				f.Models = append(f.Models, m)
			}
		}
	}
	f.EndpointID = string(ctx.QueryArgs().Peek("endpoint_id"))
	if raw := string(ctx.QueryArgs().Peek("offset")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Offset = n
		}
	}
	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Limit = n
		}
	}
	return f
}

func (s *Server) handleQueryUsage(ctx *fasthttp.RequestCtx) {
	if s.usage == nil {
		apierr.Write(ctx, fasthttp.StatusNotImplemented,
			"usage querying is unavailable for the configured analytics backend",
			apierr.TypeServerError, apierr.CodeNotImplemented)
		return
	}

	since, until := parseRange(ctx)
	records := s.usage.QueryUsage(ownerOf(ctx), since, until, parseFilter(ctx))
	out := make([]usageRecordDTO, len(records))
	for i, r := range records {
		out[i] = usageRecordFromCore(r)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"records": out})
}

func (s *Server) handleGetMetrics(ctx *fasthttp.RequestCtx) {
	if s.usage == nil {
		apierr.Write(ctx, fasthttp.StatusNotImplemented,
			"metrics querying is unavailable for the configured analytics backend",
			apierr.TypeServerError, apierr.CodeNotImplemented)
		return
	}

	since, until := parseRange(ctx)
	m := s.usage.GetMetrics(ownerOf(ctx), since, until, parseFilter(ctx))
	writeJSON(ctx, fasthttp.StatusOK, metricsDTO{
		RequestCount:  m.RequestCount,
		TotalTokens:   m.TotalTokens,
		TotalCostUSD:  m.TotalCostUSD,
		ErrorCount:    m.ErrorCount,
		FallbackCount: m.FallbackCount,
		CacheHitCount: m.CacheHitCount,
		AvgLatencyMs:  m.AvgLatencyMs,
	})
}
