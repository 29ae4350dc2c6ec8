package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/modelgate/internal/core"
)

func TestCost_FormulaMatchesSpec(t *testing.T) {
	got := Cost(1_000_000, 500_000, 2.50, 10.00)
	want := (1_000_000.0*2.50 + 500_000.0*10.00) / 1e6
	if got != want {
		t.Errorf("Cost(1e6, 5e5, 2.5, 10) = %v, want %v", got, want)
	}
}

func TestMemoryRecorder_QueryUsage_FiltersByOwner(t *testing.T) {
	r := NewMemoryRecorder(0)
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "alice", ActualModel: "openai/gpt-4o"})
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "bob", ActualModel: "openai/gpt-4o"})

	got := r.QueryUsage("alice", time.Time{}, time.Time{}, QueryFilter{})
	if len(got) != 1 || got[0].Owner != "alice" {
		t.Fatalf("expected exactly alice's record, got %+v", got)
	}
}

func TestMemoryRecorder_CapacityEvictsOldest(t *testing.T) {
	r := NewMemoryRecorder(2)
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "a", ID: "1"})
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "a", ID: "2"})
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "a", ID: "3"})

	got := r.QueryUsage("a", time.Time{}, time.Time{}, QueryFilter{})
	if len(got) != 2 {
		t.Fatalf("expected capacity-bounded to 2 records, got %d", len(got))
	}
	for _, rec := range got {
		if rec.ID == "1" {
			t.Error("oldest record should have been evicted")
		}
	}
}

func TestMemoryRecorder_GetMetrics_Aggregates(t *testing.T) {
	r := NewMemoryRecorder(0)
	r.LogUsage(context.Background(), core.UsageRecord{
		Owner: "alice", ActualModel: "openai/gpt-4o", RequestedModel: "openai/gpt-4o",
		TotalTokens: 100, CostUSD: 0.01, Success: true, LatencyMs: 200,
	})
	r.LogUsage(context.Background(), core.UsageRecord{
		Owner: "alice", ActualModel: "anthropic/claude-3-haiku", RequestedModel: "openai/gpt-4o",
		TotalTokens: 50, CostUSD: 0.002, Success: false, LatencyMs: 400, CacheHit: true,
	})

	m := r.GetMetrics("alice", time.Time{}, time.Time{}, QueryFilter{})
	if m.RequestCount != 2 {
		t.Errorf("expected 2 requests, got %d", m.RequestCount)
	}
	if m.TotalTokens != 150 {
		t.Errorf("expected 150 total tokens, got %d", m.TotalTokens)
	}
	if m.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", m.ErrorCount)
	}
	if m.FallbackCount != 1 {
		t.Errorf("expected 1 fallback (requested != actual), got %d", m.FallbackCount)
	}
	if m.CacheHitCount != 1 {
		t.Errorf("expected 1 cache hit, got %d", m.CacheHitCount)
	}
	if m.AvgLatencyMs != 300 {
		t.Errorf("expected avg latency 300, got %v", m.AvgLatencyMs)
	}
}

func TestMemoryRecorder_QueryUsage_FiltersByModelAndEndpoint(t *testing.T) {
	r := NewMemoryRecorder(0)
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "alice", ActualModel: "openai/gpt-4o", EndpointID: "ep1"})
	r.LogUsage(context.Background(), core.UsageRecord{Owner: "alice", ActualModel: "anthropic/claude-3-haiku", EndpointID: "ep2"})

	byModel := r.QueryUsage("alice", time.Time{}, time.Time{}, QueryFilter{Models: []string{"openai/gpt-4o"}})
	if len(byModel) != 1 || byModel[0].ActualModel != "openai/gpt-4o" {
		t.Fatalf("expected exactly the gpt-4o record, got %+v", byModel)
	}

	byEndpoint := r.QueryUsage("alice", time.Time{}, time.Time{}, QueryFilter{EndpointID: "ep2"})
	if len(byEndpoint) != 1 || byEndpoint[0].EndpointID != "ep2" {
		t.Fatalf("expected exactly ep2's record, got %+v", byEndpoint)
	}
}

func TestMemoryRecorder_QueryUsage_Paginates(t *testing.T) {
	r := NewMemoryRecorder(0)
	for i := 0; i < 5; i++ {
		r.LogUsage(context.Background(), core.UsageRecord{Owner: "alice"})
	}

	got := r.QueryUsage("alice", time.Time{}, time.Time{}, QueryFilter{Offset: 2, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("expected 2 records from offset/limit pagination, got %d", len(got))
	}
}

func TestMemoryRecorder_GetMetrics_IgnoresPagination(t *testing.T) {
	r := NewMemoryRecorder(0)
	for i := 0; i < 5; i++ {
		r.LogUsage(context.Background(), core.UsageRecord{Owner: "alice", TotalTokens: 10})
	}

	m := r.GetMetrics("alice", time.Time{}, time.Time{}, QueryFilter{Offset: 2, Limit: 2})
	if m.RequestCount != 5 {
		t.Errorf("expected GetMetrics to aggregate the full filtered window regardless of pagination, got %d", m.RequestCount)
	}
}
