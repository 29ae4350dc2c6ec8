package core

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/modelgate/internal/catalog"
)

type stubRouter struct {
	modelID string
	resp    *ModelResponse
	err     error
}

func (s *stubRouter) Dispatch(context.Context, *ModelRequest) (string, *ModelResponse, error) {
	return s.modelID, s.resp, s.err
}
func (s *stubRouter) DispatchStream(context.Context, *ModelRequest) (string, <-chan StreamDelta, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	ch := make(chan StreamDelta, 1)
	ch <- StreamDelta{Content: "hi", FinishReason: "stop"}
	close(ch)
	return s.modelID, ch, nil
}

type stubCache struct {
	store map[string]CacheEntry
}

func newStubCache() *stubCache { return &stubCache{store: map[string]CacheEntry{}} }

func (c *stubCache) Get(_ context.Context, key string) (*CacheEntry, bool) {
	e, ok := c.store[key]
	if !ok {
		return nil, false
	}
	return &e, true
}
func (c *stubCache) Set(_ context.Context, key string, entry CacheEntry, _ time.Duration) error {
	c.store[key] = entry
	return nil
}

type stubValidator struct{ err error }

func (v stubValidator) Validate(*ModelRequest) error { return v.err }

type stubRecorder struct{ records []UsageRecord }

func (r *stubRecorder) LogUsage(_ context.Context, rec UsageRecord) {
	r.records = append(r.records, rec)
}

type stubNotifier struct{ events []WebhookEventType }

func (n *stubNotifier) TriggerEvent(_ context.Context, _ string, t WebhookEventType, _ map[string]any) {
	n.events = append(n.events, t)
}

func fixedFingerprint(owner, endpointID string, req *ModelRequest) string {
	return owner + "|" + endpointID + "|" + req.Model
}

type stubMetrics struct {
	hits, misses, bypasses int
	tokenCalls             int
}

func (m *stubMetrics) CacheGetHit()    { m.hits++ }
func (m *stubMetrics) CacheGetMiss()   { m.misses++ }
func (m *stubMetrics) CacheGetBypass() { m.bypasses++ }
func (m *stubMetrics) AddTokens(string, string, int, int, bool) {
	m.tokenCalls++
}

func TestGateway_ChatComplete_CacheMissThenHit(t *testing.T) {
	router := &stubRouter{modelID: "openai/gpt-4o", resp: &ModelResponse{Model: "openai/gpt-4o", Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}}
	cache := newStubCache()
	recorder := &stubRecorder{}

	g := NewGateway(catalog.New(), router, stubValidator{}, WithCache(cache, fixedFingerprint, time.Minute), WithRecorder(recorder))

	req := ModelRequest{Model: "openai/gpt-4o"}
	resp1, err := g.ChatComplete(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.Model != "openai/gpt-4o" {
		t.Errorf("expected openai/gpt-4o, got %s", resp1.Model)
	}

	resp2, err := g.ChatComplete(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if resp2.Model != "openai/gpt-4o" {
		t.Errorf("cached response should echo model, got %s", resp2.Model)
	}

	if len(recorder.records) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(recorder.records))
	}
	if recorder.records[0].CacheHit {
		t.Error("first request should be a cache miss")
	}
	if !recorder.records[1].CacheHit {
		t.Error("second request should be a cache hit")
	}
}

func TestGateway_ChatComplete_MetricsCacheMissThenHit(t *testing.T) {
	router := &stubRouter{modelID: "openai/gpt-4o", resp: &ModelResponse{Model: "openai/gpt-4o", Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}}
	cache := newStubCache()
	m := &stubMetrics{}

	g := NewGateway(catalog.New(), router, stubValidator{}, WithCache(cache, fixedFingerprint, time.Minute), WithMetrics(m))

	req := ModelRequest{Model: "openai/gpt-4o"}
	if _, err := g.ChatComplete(context.Background(), "alice", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.ChatComplete(context.Background(), "alice", req); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}

	if m.misses != 1 || m.hits != 1 {
		t.Errorf("expected 1 miss and 1 hit, got misses=%d hits=%d", m.misses, m.hits)
	}
	if m.tokenCalls != 2 {
		t.Errorf("expected AddTokens called once per request, got %d", m.tokenCalls)
	}
}

func TestGateway_ChatComplete_MetricsBypassWithoutCache(t *testing.T) {
	router := &stubRouter{modelID: "openai/gpt-4o", resp: &ModelResponse{Model: "openai/gpt-4o"}}
	m := &stubMetrics{}

	g := NewGateway(catalog.New(), router, stubValidator{}, WithMetrics(m))

	if _, err := g.ChatComplete(context.Background(), "alice", ModelRequest{Model: "openai/gpt-4o"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.bypasses != 1 || m.hits != 0 || m.misses != 0 {
		t.Errorf("expected a single cache bypass observation, got %+v", m)
	}
}

func TestGateway_ChatComplete_ValidationErrorShortCircuits(t *testing.T) {
	router := &stubRouter{}
	g := NewGateway(catalog.New(), router, stubValidator{err: NewError(ErrInvalidRequest, "bad")})

	_, err := g.ChatComplete(context.Background(), "alice", ModelRequest{})
	if KindOf(err) != ErrInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestGateway_ChatComplete_RouterErrorEmitsFailureEvent(t *testing.T) {
	router := &stubRouter{err: NewError(ErrNoModelAvail, "nothing healthy")}
	notifier := &stubNotifier{}
	g := NewGateway(catalog.New(), router, stubValidator{}, WithNotifier(notifier))

	_, err := g.ChatComplete(context.Background(), "alice", ModelRequest{Model: "openai/gpt-4o"})
	if KindOf(err) != ErrNoModelAvail {
		t.Fatalf("expected NO_MODEL_AVAILABLE, got %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventModelUnavailable {
		t.Errorf("expected a model.unavailable event, got %v", notifier.events)
	}
}

func TestGateway_ChatComplete_FallbackEmitsFallbackEvent(t *testing.T) {
	router := &stubRouter{modelID: "anthropic/claude-3-5-sonnet", resp: &ModelResponse{Model: "anthropic/claude-3-5-sonnet"}}
	notifier := &stubNotifier{}
	g := NewGateway(catalog.New(), router, stubValidator{}, WithNotifier(notifier))

	_, err := g.ChatComplete(context.Background(), "alice", ModelRequest{Model: "openai/gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.events) != 2 || notifier.events[0] != EventModelFallback || notifier.events[1] != EventRequestCompleted {
		t.Errorf("expected [model.fallback, request.completed], got %v", notifier.events)
	}
}

func TestGateway_ChatStream_ReturnsDeltas(t *testing.T) {
	router := &stubRouter{modelID: "openai/gpt-4o"}
	g := NewGateway(catalog.New(), router, stubValidator{})

	modelID, ch, err := g.ChatStream(context.Background(), "alice", ModelRequest{Model: "openai/gpt-4o", Stream: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if modelID != "openai/gpt-4o" {
		t.Errorf("expected openai/gpt-4o, got %s", modelID)
	}
	delta := <-ch
	if delta.Content != "hi" {
		t.Errorf("expected streamed delta, got %q", delta.Content)
	}
}
