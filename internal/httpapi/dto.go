// Package httpapi is the framing layer spec.md §6 puts out of scope for the
// core: it parses HTTP+JSON into internal/core's request-plane types,
// authenticates the caller, frames streaming responses as Server-Sent
// Events, and translates internal/core.Error into the OpenAI-shaped error
// envelope via pkg/apierr. Nothing in internal/core imports this package.
//
// Grounded on the teacher's internal/proxy package: fasthttp +
// fasthttp/router, the same middleware chain, and writeSSE's
// bufio.Writer-backed SetBodyStreamWriter, generalized from a single
// chat-completions route to the full entry-point table of spec.md §6.
package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/modelgate/internal/core"
)

// ── chat ────────────────────────────────────────────────────────────────

type inboundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type inboundRequest struct {
	Model            string           `json:"model"`
	Messages         []inboundMessage `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	Route            string           `json:"route,omitempty"`
	Fallbacks        []string         `json:"fallbacks,omitempty"`
	EndpointID       string           `json:"endpoint_id,omitempty"`
	ResponseFormat   *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

func (r inboundRequest) toModelRequest() core.ModelRequest {
	msgs := make([]core.ChatMessage, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = core.ChatMessage{Role: m.Role, Text: m.Content, Name: m.Name}
	}
	req := core.ModelRequest{
		Model:            r.Model,
		Messages:         msgs,
		Temperature:      r.Temperature,
		TopP:             r.TopP,
		FrequencyPenalty: r.FrequencyPenalty,
		PresencePenalty:  r.PresencePenalty,
		MaxTokens:        r.MaxTokens,
		Stop:             r.Stop,
		Stream:           r.Stream,
		Route:            core.RouteStrategy(r.Route),
		Fallbacks:        r.Fallbacks,
		EndpointID:       r.EndpointID,
	}
	if r.ResponseFormat != nil {
		req.ResponseFormat = &core.ResponseFormat{Type: r.ResponseFormat.Type}
	}
	return req
}

type outboundUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type outboundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type outboundChoice struct {
	Index        int             `json:"index"`
	Message      outboundMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type outboundResponse struct {
	ID            string           `json:"id"`
	Object        string           `json:"object"`
	Created       int64            `json:"created"`
	Model         string           `json:"model"`
	Choices       []outboundChoice `json:"choices"`
	Usage         outboundUsage    `json:"usage"`
	RoutedThrough string           `json:"routed_through,omitempty"`
}

func fromModelResponse(resp *core.ModelResponse) outboundResponse {
	choices := make([]outboundChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = outboundChoice{
			Index:        c.Index,
			Message:      outboundMessage{Role: c.Message.Role, Content: c.Message.Text},
			FinishReason: c.FinishReason,
		}
	}
	if len(choices) == 0 {
		choices = []outboundChoice{{Index: 0, Message: outboundMessage{Role: "assistant"}, FinishReason: "stop"}}
	}
	return outboundResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: outboundUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		RoutedThrough: resp.RoutedThrough,
	}
}

// ── custom endpoints ────────────────────────────────────────────────────

type endpointDTO struct {
	ID                      string   `json:"id,omitempty"`
	Name                    string   `json:"name"`
	BaseModel               string   `json:"base_model"`
	Fallbacks               []string `json:"fallbacks,omitempty"`
	RoutingStrategy         string   `json:"routing_strategy,omitempty"`
	DefaultTemperature      *float64 `json:"default_temperature,omitempty"`
	DefaultTopP             *float64 `json:"default_top_p,omitempty"`
	DefaultFrequencyPenalty *float64 `json:"default_frequency_penalty,omitempty"`
	DefaultPresencePenalty  *float64 `json:"default_presence_penalty,omitempty"`
	DefaultMaxTokens        *int     `json:"default_max_tokens,omitempty"`
	SystemPrompt            string   `json:"system_prompt,omitempty"`
	IsPublic                bool     `json:"is_public,omitempty"`
	RateLimitRPM            int      `json:"rate_limit_rpm,omitempty"`
}

func (d endpointDTO) toCore() core.CustomEndpoint {
	return core.CustomEndpoint{
		Name:                    d.Name,
		BaseModel:               d.BaseModel,
		Fallbacks:               d.Fallbacks,
		RoutingStrategy:         core.RouteStrategy(d.RoutingStrategy),
		DefaultTemperature:      d.DefaultTemperature,
		DefaultTopP:             d.DefaultTopP,
		DefaultFrequencyPenalty: d.DefaultFrequencyPenalty,
		DefaultPresencePenalty:  d.DefaultPresencePenalty,
		DefaultMaxTokens:        d.DefaultMaxTokens,
		SystemPrompt:            d.SystemPrompt,
		IsPublic:                d.IsPublic,
		RateLimitRPM:            d.RateLimitRPM,
	}
}

func endpointFromCore(e *core.CustomEndpoint) endpointDTO {
	return endpointDTO{
		ID:                      e.ID,
		Name:                    e.Name,
		BaseModel:               e.BaseModel,
		Fallbacks:               e.Fallbacks,
		RoutingStrategy:         string(e.RoutingStrategy),
		DefaultTemperature:      e.DefaultTemperature,
		DefaultTopP:             e.DefaultTopP,
		DefaultFrequencyPenalty: e.DefaultFrequencyPenalty,
		DefaultPresencePenalty:  e.DefaultPresencePenalty,
		DefaultMaxTokens:        e.DefaultMaxTokens,
		SystemPrompt:            e.SystemPrompt,
		IsPublic:                e.IsPublic,
		RateLimitRPM:            e.RateLimitRPM,
	}
}

// ── webhooks ────────────────────────────────────────────────────────────

type webhookDTO struct {
	ID         string            `json:"id,omitempty"`
	URL        string            `json:"url"`
	Name       string            `json:"name,omitempty"`
	Events     []string          `json:"events"`
	Secret     string            `json:"secret,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Retries    int               `json:"retries,omitempty"`
	Active     bool              `json:"active,omitempty"`
	LastStatus int               `json:"last_status,omitempty"`
}

func (d webhookDTO) toCore() core.WebhookConfig {
	events := make([]core.WebhookEventType, len(d.Events))
	for i, e := range d.Events {
		events[i] = core.WebhookEventType(e)
	}
	return core.WebhookConfig{
		URL:     d.URL,
		Name:    d.Name,
		Events:  events,
		Secret:  d.Secret,
		Headers: d.Headers,
		Retries: d.Retries,
	}
}

func webhookFromCore(w *core.WebhookConfig) webhookDTO {
	events := make([]string, len(w.Events))
	for i, e := range w.Events {
		events[i] = string(e)
	}
	return webhookDTO{
		ID:         w.ID,
		URL:        w.URL,
		Name:       w.Name,
		Events:     events,
		Headers:    w.Headers,
		Retries:    w.Retries,
		Active:     w.Active,
		LastStatus: w.LastStatus,
	}
}

// ── batches ─────────────────────────────────────────────────────────────

type createBatchRequest struct {
	Requests    []inboundRequest  `json:"requests"`
	Priority    string            `json:"priority,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type batchResultDTO struct {
	Response *outboundResponse `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type batchDTO struct {
	ID             string            `json:"id"`
	State          string            `json:"state"`
	Priority       string            `json:"priority"`
	RequestCount   int               `json:"request_count"`
	CompletedCount int               `json:"completed_count"`
	FailedCount    int               `json:"failed_count"`
	Results        []*batchResultDTO `json:"results,omitempty"`
	CallbackURL    string            `json:"callback_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          string            `json:"error,omitempty"`
}

func batchFromCore(b *core.Batch) batchDTO {
	results := make([]*batchResultDTO, len(b.Results))
	for i, r := range b.Results {
		if r == nil {
			continue
		}
		dto := &batchResultDTO{Error: r.Error}
		if r.Response != nil {
			resp := fromModelResponse(r.Response)
			dto.Response = &resp
		}
		results[i] = dto
	}
	return batchDTO{
		ID:             b.ID,
		State:          string(b.State),
		Priority:       string(b.Priority),
		RequestCount:   b.RequestCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Results:        results,
		CallbackURL:    b.CallbackURL,
		Metadata:       b.Metadata,
		Error:          b.Error,
	}
}

// ── usage / metrics ─────────────────────────────────────────────────────

type metricsDTO struct {
	RequestCount  int     `json:"request_count"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	ErrorCount    int     `json:"error_count"`
	FallbackCount int     `json:"fallback_count"`
	CacheHitCount int     `json:"cache_hit_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

type usageRecordDTO struct {
	ID              string  `json:"id"`
	RequestedModel  string  `json:"requested_model"`
	ActualModel     string  `json:"actual_model"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	LatencyMs       int64   `json:"latency_ms"`
	Success         bool    `json:"success"`
	RoutingStrategy string  `json:"routing_strategy,omitempty"`
	CacheHit        bool    `json:"cache_hit"`
}

func usageRecordFromCore(r core.UsageRecord) usageRecordDTO {
	return usageRecordDTO{
		ID:              r.ID,
		RequestedModel:  r.RequestedModel,
		ActualModel:     r.ActualModel,
		InputTokens:     r.InputTokens,
		OutputTokens:    r.OutputTokens,
		TotalTokens:     r.TotalTokens,
		CostUSD:         r.CostUSD,
		LatencyMs:       r.LatencyMs,
		Success:         r.Success,
		RoutingStrategy: string(r.RoutingStrategy),
		CacheHit:        r.CacheHit,
	}
}

func decodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("request body is empty")
	}
	return json.Unmarshal(body, v)
}
