package router

import (
	"context"
	"strings"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/internal/providers"
)

// UpstreamAdapter is the capability the Router dispatches candidates
// through, per spec.md §6's "UpstreamAdapter: Available / Complete / Stream
// / Translate". It is the narrow seam between internal/router's
// strategy/failover logic and the concrete provider SDKs in
// internal/providers, so the router package never imports a provider SDK
// directly.
type UpstreamAdapter interface {
	// Available reports whether modelID's upstream is currently reachable.
	// Implementations should bound their own work to a short timeout;
	// probeAvailable additionally wraps calls with retry/backoff.
	Available(ctx context.Context, modelID string) bool

	// Complete dispatches req to modelID and returns the normalized response.
	Complete(ctx context.Context, modelID string, req *core.ModelRequest) (*core.ModelResponse, error)

	// Stream dispatches req to modelID and returns a channel of deltas,
	// closed when the upstream finishes or the context is cancelled.
	Stream(ctx context.Context, modelID string, req *core.ModelRequest) (<-chan core.StreamDelta, error)
}

// ProviderAdapter implements UpstreamAdapter over the teacher's
// providers.Provider map, translating core's normalized request/response
// shapes to and from providers.ProxyRequest/ProxyResponse.
//
// Grounded on internal/proxy/routing.go's resolveProvider plus
// internal/proxy/gateway.go's request/response translation — generalized
// to take a catalog-qualified model id instead of a bare model name, and to
// split provider resolution from request translation into its own adapter
// rather than doing both inline in a dispatch loop.
type ProviderAdapter struct {
	providers map[string]providers.Provider // keyed by provider name, e.g. "openai"
	cat       *catalog.Catalog
}

// NewProviderAdapter builds a ProviderAdapter over provs (keyed by provider
// name, matching internal/app.buildProviders's output) and cat.
func NewProviderAdapter(provs map[string]providers.Provider, cat *catalog.Catalog) *ProviderAdapter {
	return &ProviderAdapter{providers: provs, cat: cat}
}

func (a *ProviderAdapter) resolve(modelID string) (providers.Provider, string, bool) {
	name := ""
	if m, ok := a.cat.Lookup(modelID); ok {
		name = m.Provider
	} else if idx := strings.IndexByte(modelID, '/'); idx > 0 {
		// Unknown to the catalog but shaped like "provider/model" — fall
		// back to the prefix so ad-hoc/unseeded models still resolve.
		name = modelID[:idx]
	}
	p, ok := a.providers[name]
	return p, name, ok
}

// Available runs the provider's existing HealthCheck.
func (a *ProviderAdapter) Available(ctx context.Context, modelID string) bool {
	p, _, ok := a.resolve(modelID)
	if !ok {
		return false
	}
	return p.HealthCheck(ctx) == nil
}

// Complete translates req into a providers.ProxyRequest, dispatches it
// through the resolved provider, and translates the result back.
func (a *ProviderAdapter) Complete(ctx context.Context, modelID string, req *core.ModelRequest) (*core.ModelResponse, error) {
	p, providerName, ok := a.resolve(modelID)
	if !ok {
		return nil, core.NewError(core.ErrNoModelAvail, "no provider for model "+modelID)
	}

	presp, err := p.Request(ctx, toProxyRequest(modelID, req))
	if err != nil {
		return nil, classifyProviderError(providerName, err)
	}
	return toModelResponse(modelID, presp), nil
}

// Stream dispatches req with Stream=true and adapts the provider's
// StreamChunk channel into core.StreamDelta.
func (a *ProviderAdapter) Stream(ctx context.Context, modelID string, req *core.ModelRequest) (<-chan core.StreamDelta, error) {
	p, providerName, ok := a.resolve(modelID)
	if !ok {
		return nil, core.NewError(core.ErrNoModelAvail, "no provider for model "+modelID)
	}

	preq := toProxyRequest(modelID, req)
	preq.Stream = true
	presp, err := p.Request(ctx, preq)
	if err != nil {
		return nil, classifyProviderError(providerName, err)
	}
	if presp.Stream == nil {
		// Provider ignored Stream=true; degrade to a single synthetic delta
		// rather than blocking a caller that expects a channel.
		out := make(chan core.StreamDelta, 1)
		out <- core.StreamDelta{Content: presp.Content, FinishReason: "stop"}
		close(out)
		return out, nil
	}

	out := make(chan core.StreamDelta)
	go func() {
		defer close(out)
		for chunk := range presp.Stream {
			select {
			case out <- core.StreamDelta{Content: chunk.Content, FinishReason: chunk.FinishReason}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toProxyRequest(modelID string, req *core.ModelRequest) *providers.ProxyRequest {
	msgs := make([]providers.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: textContent(m)}
	}
	pr := &providers.ProxyRequest{
		Model:    bareModelName(modelID),
		Messages: msgs,
		Stream:   req.Stream,
	}
	if req.Temperature != nil {
		pr.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		pr.MaxTokens = *req.MaxTokens
	}
	return pr
}

func toModelResponse(modelID string, presp *providers.ProxyResponse) *core.ModelResponse {
	return &core.ModelResponse{
		ID:      presp.ID,
		Model:   modelID,
		Choices: []core.Choice{{Index: 0, Message: core.ChatMessage{Role: "assistant", Text: presp.Content}, FinishReason: "stop"}},
		Usage: core.Usage{
			PromptTokens:     presp.Usage.InputTokens,
			CompletionTokens: presp.Usage.OutputTokens,
			TotalTokens:      presp.Usage.InputTokens + presp.Usage.OutputTokens,
		},
		RoutedThrough: modelID,
	}
}

func textContent(m core.ChatMessage) string {
	if m.Text != "" || len(m.Parts) == 0 {
		return m.Text
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == core.ContentText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// bareModelName strips the catalog's "provider/" namespace prefix, since
// provider SDKs expect their own native model name.
func bareModelName(modelID string) string {
	if idx := strings.IndexByte(modelID, '/'); idx > 0 {
		return modelID[idx+1:]
	}
	return modelID
}

// classifyProviderError maps a raw provider error into a core.Error kind,
// generalizing the teacher's internal/proxy/failover.go classifyError.
func classifyProviderError(providerName string, err error) *core.Error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return core.Wrap(core.ErrRateLimited, providerName+": rate limited", err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return core.Wrap(core.ErrUpstreamTimeout, providerName+": timeout", err)
	case strings.Contains(lower, "context canceled"):
		return core.Wrap(core.ErrCancelled, providerName+": cancelled", err)
	default:
		return core.Wrap(core.ErrUpstreamError, providerName+": request failed", err)
	}
}
