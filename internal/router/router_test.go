package router

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
)

// fakeAdapter lets tests script per-model availability/completion behavior
// without standing up a real provider SDK.
type fakeAdapter struct {
	unavailable map[string]bool
	failWith    map[string]error
	calls       []string
}

func (f *fakeAdapter) Available(_ context.Context, modelID string) bool {
	return !f.unavailable[modelID]
}

func (f *fakeAdapter) Complete(_ context.Context, modelID string, req *core.ModelRequest) (*core.ModelResponse, error) {
	f.calls = append(f.calls, modelID)
	if err, ok := f.failWith[modelID]; ok {
		return nil, err
	}
	return &core.ModelResponse{Model: modelID, RoutedThrough: modelID}, nil
}

func (f *fakeAdapter) Stream(_ context.Context, modelID string, req *core.ModelRequest) (<-chan core.StreamDelta, error) {
	f.calls = append(f.calls, modelID)
	if err, ok := f.failWith[modelID]; ok {
		return nil, err
	}
	ch := make(chan core.StreamDelta, 1)
	ch <- core.StreamDelta{Content: "hi", FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func fastProbe() ProbeConfig {
	return ProbeConfig{Timeout: 50 * time.Millisecond, Retries: 0, Base: time.Millisecond}
}

func TestRouter_Route_SucceedsOnRequestedModel(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	res, err := r.Route(context.Background(), &core.ModelRequest{Model: "openai/gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModelID != "openai/gpt-4o" {
		t.Errorf("expected openai/gpt-4o, got %s", res.ModelID)
	}
}

func TestRouter_Route_FailsOverOnRetryableError(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{
		failWith: map[string]error{
			"openai/gpt-4o": core.NewError(core.ErrUpstreamError, "boom"),
		},
	}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	req := &core.ModelRequest{
		Model:     "openai/gpt-4o",
		Route:     core.RouteFallback,
		Fallbacks: []string{"anthropic/claude-3-5-sonnet"},
	}
	res, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModelID != "anthropic/claude-3-5-sonnet" {
		t.Errorf("expected failover to claude-3-5-sonnet, got %s", res.ModelID)
	}
}

func TestRouter_Route_StopsOnNonRetryableError(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{
		failWith: map[string]error{
			"openai/gpt-4o": core.NewError(core.ErrInvalidRequest, "bad request"),
		},
	}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	req := &core.ModelRequest{
		Model:     "openai/gpt-4o",
		Route:     core.RouteFallback,
		Fallbacks: []string{"anthropic/claude-3-5-sonnet"},
	}
	_, err := r.Route(context.Background(), req)
	if core.KindOf(err) != core.ErrInvalidRequest {
		t.Fatalf("expected a non-retryable error to abort immediately, got %v", err)
	}
	if len(adapter.calls) != 1 {
		t.Errorf("expected exactly one dispatch attempt, got %d: %v", len(adapter.calls), adapter.calls)
	}
}

func TestRouter_Route_SkipsUnavailableCandidates(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{unavailable: map[string]bool{"openai/gpt-4o": true}}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	req := &core.ModelRequest{
		Model:     "openai/gpt-4o",
		Route:     core.RouteFallback,
		Fallbacks: []string{"anthropic/claude-3-5-sonnet"},
	}
	res, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModelID != "anthropic/claude-3-5-sonnet" {
		t.Errorf("expected skip-unavailable to land on claude-3-5-sonnet, got %s", res.ModelID)
	}
}

func TestRouter_Route_ExhaustedCandidatesReturnsNoModelAvailable(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{}
	for _, m := range cat.All() {
		if adapter.unavailable == nil {
			adapter.unavailable = map[string]bool{}
		}
		adapter.unavailable[m.ID] = true
	}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	_, err := r.Route(context.Background(), &core.ModelRequest{Model: "openai/gpt-4o"})
	if core.KindOf(err) != core.ErrNoModelAvail {
		t.Fatalf("expected NO_MODEL_AVAILABLE, got %v", err)
	}
}

func TestRouter_RouteStream_FailsOverBeforeStreamStarts(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{
		failWith: map[string]error{
			"openai/gpt-4o": core.NewError(core.ErrUpstreamTimeout, "timed out"),
		},
	}
	r := New(cat, adapter, WithProbeConfig(fastProbe()))

	req := &core.ModelRequest{
		Model:     "openai/gpt-4o",
		Route:     core.RouteFallback,
		Fallbacks: []string{"anthropic/claude-3-5-sonnet"},
		Stream:    true,
	}
	modelID, ch, err := r.RouteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if modelID != "anthropic/claude-3-5-sonnet" {
		t.Errorf("expected failover to claude-3-5-sonnet, got %s", modelID)
	}
	delta := <-ch
	if delta.Content != "hi" {
		t.Errorf("expected streamed content, got %q", delta.Content)
	}
}

func TestRouter_CircuitBreakerSkipsOpenCandidate(t *testing.T) {
	cat := catalog.New()
	adapter := &fakeAdapter{}
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1})
	cb.RecordFailure("openai/gpt-4o") // trips it open immediately

	r := New(cat, adapter, WithProbeConfig(fastProbe()), WithCircuitBreaker(cb))
	req := &core.ModelRequest{
		Model:     "openai/gpt-4o",
		Route:     core.RouteFallback,
		Fallbacks: []string{"anthropic/claude-3-5-sonnet"},
	}

	res, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModelID != "anthropic/claude-3-5-sonnet" {
		t.Errorf("expected open breaker to skip gpt-4o, got %s", res.ModelID)
	}
	for _, called := range adapter.calls {
		if called == "openai/gpt-4o" {
			t.Error("breaker-open candidate should never reach Complete")
		}
	}
}
