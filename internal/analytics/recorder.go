// Package analytics implements the usage/cost analytics recorder
// (spec.md §4.7): per-request usage records, aggregate queries, and the
// cost formula cost = (in*price_in + out*price_out) / 1e6.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/modelgate/internal/core"
)

// Recorder is the write capability every analytics backend offers —
// satisfied by MemoryRecorder and ClickHouseRecorder. internal/core.Gateway
// depends on its own identically shaped core.Recorder instead, so core never
// imports analytics, avoiding the cyclic core<->analytics import spec.md §9
// flags as a risk.
type Recorder interface {
	LogUsage(ctx context.Context, rec core.UsageRecord)
}

// QueryFilter narrows QueryUsage/GetMetrics to a subset of records, per
// spec.md §4.7's "filters {owner?, start, end, models?, endpoint_id?} and
// pagination". Owner/since/until stay positional arguments since every
// caller supplies them; Models/EndpointID/pagination are optional and
// grouped here instead.
type QueryFilter struct {
	Models     []string // empty means "no model filter"
	EndpointID string   // empty means "no endpoint filter"
	Offset     int
	Limit      int // <= 0 means "no limit"
}

func (f QueryFilter) matches(r core.UsageRecord) bool {
	if f.EndpointID != "" && r.EndpointID != f.EndpointID {
		return false
	}
	if len(f.Models) > 0 {
		match := false
		for _, m := range f.Models {
			if r.ActualModel == m || r.RequestedModel == m {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// paginate applies Offset/Limit to an already-filtered, already-sorted slice.
func (f QueryFilter) paginate(records []core.UsageRecord) []core.UsageRecord {
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []core.UsageRecord{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(records) {
		records = records[:f.Limit]
	}
	return records
}

// Metrics is an aggregate summary over a set of UsageRecords.
type Metrics struct {
	RequestCount   int
	TotalTokens    int64
	TotalCostUSD   float64
	ErrorCount     int
	FallbackCount  int
	CacheHitCount  int
	AvgLatencyMs   float64
	ByModel        map[string]int
	ByRoutingKind  map[core.RouteStrategy]int
}

// Cost computes the USD cost of a request given per-1e6-token prices, per
// spec.md §4.7: cost = (in*price_in + out*price_out) / 1e6.
func Cost(inputTokens, outputTokens int, pricePerMillionIn, pricePerMillionOut float64) float64 {
	return (float64(inputTokens)*pricePerMillionIn + float64(outputTokens)*pricePerMillionOut) / 1e6
}

// MemoryRecorder is an in-process Recorder backed by a guarded slice — the
// same sync.RWMutex-guarded-collection idiom as internal/cache.MemoryCache,
// applied here to an append-only log instead of a keyed map.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []core.UsageRecord
	cap     int
}

// NewMemoryRecorder builds a MemoryRecorder retaining at most capacity
// records (oldest evicted first). capacity <= 0 means unbounded.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	return &MemoryRecorder{cap: capacity}
}

// LogUsage appends rec, assigning an ID/timestamp if unset.
func (m *MemoryRecorder) LogUsage(_ context.Context, rec core.UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if m.cap > 0 && len(m.records) > m.cap {
		m.records = m.records[len(m.records)-m.cap:]
	}
}

// QueryUsage returns records for owner within [since, until) matching
// filter, newest first, with filter's pagination applied last. A zero
// since/until leaves that bound open; a zero-value filter matches every
// record and applies no pagination.
func (m *MemoryRecorder) QueryUsage(owner string, since, until time.Time, filter QueryFilter) []core.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.UsageRecord, 0)
	for _, r := range m.records {
		if owner != "" && r.Owner != owner {
			continue
		}
		if !since.IsZero() && r.TS.Before(since) {
			continue
		}
		if !until.IsZero() && !r.TS.Before(until) {
			continue
		}
		if !filter.matches(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	return filter.paginate(out)
}

// GetMetrics aggregates QueryUsage's (unpaginated) result set into a Metrics
// summary — aggregates must cover the full filtered window, not one page
// of it, so filter's Offset/Limit are ignored here.
func (m *MemoryRecorder) GetMetrics(owner string, since, until time.Time, filter QueryFilter) Metrics {
	filter.Offset, filter.Limit = 0, 0
	records := m.QueryUsage(owner, since, until, filter)

	met := Metrics{ByModel: make(map[string]int), ByRoutingKind: make(map[core.RouteStrategy]int)}
	var totalLatency int64
	for _, r := range records {
		met.RequestCount++
		met.TotalTokens += int64(r.TotalTokens)
		met.TotalCostUSD += r.CostUSD
		if !r.Success {
			met.ErrorCount++
		}
		if r.Fallback() {
			met.FallbackCount++
		}
		if r.CacheHit {
			met.CacheHitCount++
		}
		totalLatency += r.LatencyMs
		met.ByModel[r.ActualModel]++
		met.ByRoutingKind[r.RoutingStrategy]++
	}
	if met.RequestCount > 0 {
		met.AvgLatencyMs = float64(totalLatency) / float64(met.RequestCount)
	}
	return met
}
