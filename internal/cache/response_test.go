package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nulpointcorp/modelgate/internal/core"
)

func TestResponseCache_SetGetRoundTrip(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(context.Background()))
	entry := core.CacheEntry{ModelID: "openai/gpt-4o", ExpiresAt: time.Now().Add(time.Minute)}

	if err := rc.Set(context.Background(), "k1", entry, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := rc.Get(context.Background(), "k1")
	if !ok || got.ModelID != "openai/gpt-4o" {
		t.Fatalf("expected a hit with ModelID openai/gpt-4o, got %+v, ok=%v", got, ok)
	}
}

func TestResponseCache_Invalidate_ByModelViaLocalIndex(t *testing.T) {
	rc := NewResponseCache(NewMemoryCache(context.Background()))
	_ = rc.Set(context.Background(), "k1", core.CacheEntry{ModelID: "openai/gpt-4o", ExpiresAt: time.Now().Add(time.Minute)}, time.Minute)
	_ = rc.Set(context.Background(), "k2", core.CacheEntry{ModelID: "anthropic/claude-3-haiku", ExpiresAt: time.Now().Add(time.Minute)}, time.Minute)

	n := rc.Invalidate(context.Background(), "openai/gpt-4o")
	if n != 1 {
		t.Fatalf("expected exactly 1 key invalidated, got %d", n)
	}
	if _, ok := rc.Get(context.Background(), "k1"); ok {
		t.Error("k1 should have been invalidated")
	}
	if _, ok := rc.Get(context.Background(), "k2"); !ok {
		t.Error("k2 should still be cached")
	}
}

// TestResponseCache_Invalidate_RedisCrossReplica exercises ScanAll: an entry
// written directly against the shared Redis backend (simulating a sibling
// replica's Set, which this instance's byKey index never learned about)
// must still be found and removed by Invalidate.
func TestResponseCache_Invalidate_RedisCrossReplica(t *testing.T) {
	ec, _ := newTestCache(t)
	rc := NewResponseCache(ec)

	// Written through this instance — byKey knows about it.
	_ = rc.Set(context.Background(), "resp:local", core.CacheEntry{ModelID: "openai/gpt-4o", ExpiresAt: time.Now().Add(time.Minute)}, time.Minute)

	// Written as if by another replica — byKey never sees this key.
	raw, _ := json.Marshal(core.CacheEntry{ModelID: "openai/gpt-4o", ExpiresAt: time.Now().Add(time.Minute)})
	if err := ec.Set(context.Background(), "resp:remote", raw, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n := rc.Invalidate(context.Background(), "openai/gpt-4o")
	if n != 2 {
		t.Fatalf("expected both the local and cross-replica entries invalidated, got %d", n)
	}
	if _, ok := ec.Get(context.Background(), "resp:remote"); ok {
		t.Error("cross-replica entry should have been invalidated via ScanAll")
	}
}

func TestResponseCache_Invalidate_RedisClearAll(t *testing.T) {
	ec, _ := newTestCache(t)
	rc := NewResponseCache(ec)

	_ = rc.Set(context.Background(), "resp:a", core.CacheEntry{ModelID: "openai/gpt-4o", ExpiresAt: time.Now().Add(time.Minute)}, time.Minute)
	raw, _ := json.Marshal(core.CacheEntry{ModelID: "anthropic/claude-3-haiku", ExpiresAt: time.Now().Add(time.Minute)})
	_ = ec.Set(context.Background(), "resp:b", raw, time.Minute)

	n := rc.Invalidate(context.Background(), "")
	if n != 2 {
		t.Fatalf("expected an empty modelID to clear every entry, got %d removed", n)
	}
}
