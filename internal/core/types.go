// Package core holds the gateway's request-plane data model and the
// Gateway orchestrator that strings the request-plane components together.
// Nothing in this package touches HTTP framing or a provider SDK directly —
// those concerns live in internal/httpapi and internal/providers.
package core

import "time"

// RouteStrategy selects how the Router orders candidate models.
type RouteStrategy string

const (
	RouteDefault        RouteStrategy = "default"
	RouteFallback       RouteStrategy = "fallback"
	RouteLowestCost     RouteStrategy = "lowest_cost"
	RouteFastest        RouteStrategy = "fastest"
	RouteHighestQuality RouteStrategy = "highest_quality"
)

// Valid reports whether s is one of the known strategies. The zero value
// ("") is treated as RouteDefault by callers, not as valid on its own.
func (s RouteStrategy) Valid() bool {
	switch s {
	case RouteDefault, RouteFallback, RouteLowestCost, RouteFastest, RouteHighestQuality:
		return true
	}
	return false
}

// CacheKeyStrategy selects how request fingerprints are computed.
type CacheKeyStrategy string

const (
	CacheKeyExact    CacheKeyStrategy = "exact"
	CacheKeySemantic CacheKeyStrategy = "semantic"
)

func (s CacheKeyStrategy) Valid() bool {
	return s == CacheKeyExact || s == CacheKeySemantic
}

// Priority orders batches in the scheduler's queue: high before normal
// before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// rank returns a sort key where a lower value means higher priority.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Rank exposes the priority ordering used by the batch scheduler's heap.
func (p Priority) Rank() int { return p.rank() }

// WebhookEventType is the closed set of event types a webhook may subscribe to.
type WebhookEventType string

const (
	EventRequestCreated   WebhookEventType = "request.created"
	EventRequestCompleted WebhookEventType = "request.completed"
	EventRequestFailed    WebhookEventType = "request.failed"
	EventModelUnavailable WebhookEventType = "model.unavailable"
	EventModelFallback    WebhookEventType = "model.fallback"
	EventEndpointCreated  WebhookEventType = "endpoint.created"
	EventEndpointUpdated  WebhookEventType = "endpoint.updated"
	EventEndpointDeleted  WebhookEventType = "endpoint.deleted"
	EventCreditLow        WebhookEventType = "credit.low"
	EventBatchCompleted   WebhookEventType = "batch.completed"
	EventError            WebhookEventType = "error"
)

func (t WebhookEventType) Valid() bool {
	switch t {
	case EventRequestCreated, EventRequestCompleted, EventRequestFailed,
		EventModelUnavailable, EventModelFallback,
		EventEndpointCreated, EventEndpointUpdated, EventEndpointDeleted,
		EventCreditLow, EventBatchCompleted, EventError:
		return true
	}
	return false
}

// BatchState is the lifecycle state of a Batch.
type BatchState string

const (
	BatchPending    BatchState = "pending"
	BatchProcessing BatchState = "processing"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
)

// ModelFeatures is the flag set a ModelInfo declares support for.
type ModelFeatures struct {
	Vision          bool
	FunctionCalling bool
	ToolUse         bool
	JSONMode        bool
}

// Covers reports whether f is a superset of required — every feature flag
// that required sets must also be set in f.
func (f ModelFeatures) Covers(required ModelFeatures) bool {
	if required.Vision && !f.Vision {
		return false
	}
	if required.FunctionCalling && !f.FunctionCalling {
		return false
	}
	if required.ToolUse && !f.ToolUse {
		return false
	}
	if required.JSONMode && !f.JSONMode {
		return false
	}
	return true
}

// ModelInfo is an immutable model catalog entry. The catalog loads a
// process-wide read-only table of these at startup.
type ModelInfo struct {
	ID              string // namespaced "provider/name", e.g. "anthropic/claude-3-opus"
	Provider        string
	Name            string
	ContextWindow   int
	InputPrice      float64 // USD per 1e6 tokens
	OutputPrice     float64 // USD per 1e6 tokens
	Strengths       []string
	Features        ModelFeatures
	MaxOutputTokens int
}

// ContentPartType distinguishes the two kinds of ChatMessage content parts.
type ContentPartType string

const (
	ContentText     ContentPartType = "text"
	ContentImageURL ContentPartType = "image_url"
)

// ContentPart is one element of a multi-part ChatMessage.Content.
type ContentPart struct {
	Type     ContentPartType
	Text     string
	ImageURL string
	Detail   string
}

// ChatMessage is a single conversation turn. Content is either a plain
// string (Text populated, Parts nil) or an ordered sequence of parts.
type ChatMessage struct {
	Role       string // system | user | assistant | tool
	Text       string
	Parts      []ContentPart
	Name       string
	ToolCallID string
}

// HasImage reports whether the message contains an image_url part.
func (m ChatMessage) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == ContentImageURL {
			return true
		}
	}
	return false
}

// ResponseFormat mirrors the OpenAI response_format knob.
type ResponseFormat struct {
	Type string // "text" | "json_object"
}

// ToolDeclaration mirrors a single OpenAI-style tool/function declaration.
// Only the name is needed by the core (feature gating); the JSON schema
// body is carried opaquely for the upstream adapter to translate.
type ToolDeclaration struct {
	Name   string
	Schema []byte
}

// ModelRequest is the normalized inbound request to the request plane.
type ModelRequest struct {
	Model    string
	Messages []ChatMessage

	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
	Stop             []string
	Stream           bool

	Functions      []ToolDeclaration
	FunctionCall   string
	Tools          []ToolDeclaration
	ResponseFormat *ResponseFormat

	Route     RouteStrategy
	Fallbacks []string

	// EndpointID, set by the caller, selects a CustomEndpoint preset to
	// rewrite this request through before validation/routing.
	EndpointID string
}

// Usage holds token accounting shared by ModelResponse, CacheEntry, and
// UsageRecord.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Choice is one completion alternative in a ModelResponse.
type Choice struct {
	Index        int
	Message      ChatMessage
	FinishReason string
}

// ModelResponse is the OpenAI-shaped response returned to the framing layer.
type ModelResponse struct {
	ID            string
	Created       int64
	Model         string // the actual model used
	Choices       []Choice
	Usage         Usage
	RoutedThrough string // extension: echoes the selected upstream id
}

// StreamDelta is a single chunk of a streaming ModelResponse.
type StreamDelta struct {
	Content      string
	FinishReason string
}

// CustomEndpoint is a named preset merged into incoming requests.
type CustomEndpoint struct {
	ID              string
	Owner           string
	Name            string
	BaseModel       string
	Fallbacks       []string
	RoutingStrategy RouteStrategy

	DefaultTemperature      *float64
	DefaultTopP             *float64
	DefaultFrequencyPenalty *float64
	DefaultPresencePenalty  *float64
	DefaultMaxTokens        *int

	SystemPrompt string
	IsPublic     bool
	RateLimitRPM int // deployment policy, not enforced by the core; see DESIGN.md

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Accessible reports whether caller may read e, per spec.md §3:
// "owner == caller || is_public".
func (e *CustomEndpoint) Accessible(caller string) bool {
	return e.Owner == caller || e.IsPublic
}

// Mutable reports whether caller may mutate or delete e.
func (e *CustomEndpoint) Mutable(caller string) bool {
	return e.Owner == caller
}

// CacheEntry is a stored response keyed by request fingerprint.
type CacheEntry struct {
	ModelID   string
	Response  ModelResponse
	CreatedAt time.Time
	ExpiresAt time.Time
	Usage     Usage
}

// Expired reports whether the entry must no longer be returned from Get.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// BatchResult is one child result: either a ModelResponse or an error message.
type BatchResult struct {
	Response *ModelResponse
	Error    string
}

// Batch tracks a collection of child requests submitted as a unit.
type Batch struct {
	ID       string
	Owner    string
	Requests []ModelRequest
	State    BatchState
	Priority Priority

	RequestCount   int
	CompletedCount int
	FailedCount    int

	Results []*BatchResult // indexed 1:1 with Requests; nil until computed

	CallbackURL string
	Metadata    map[string]string
	Error       string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether b is in a terminal state.
func (b *Batch) Terminal() bool {
	return b.State == BatchCompleted || b.State == BatchFailed
}

// WebhookConfig is a per-owner subscription to WebhookEventType events.
type WebhookConfig struct {
	ID         string
	Owner      string
	URL        string
	Name       string
	Events     []WebhookEventType
	Secret     string
	Headers    map[string]string
	Retries    int // 0-10, default 3
	Active     bool
	LastStatus int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subscribes reports whether w should receive events of type t.
func (w *WebhookConfig) Subscribes(t WebhookEventType) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// WebhookEvent is an append-only record emitted by the core.
type WebhookEvent struct {
	ID    string
	TS    time.Time
	Owner string
	Type  WebhookEventType
	Data  map[string]any
}

// WebhookDelivery records one attempt to deliver an event to a webhook.
type WebhookDelivery struct {
	ID           string
	WebhookID    string
	EventID      string
	Attempt      int
	TS           time.Time
	Success      bool
	StatusCode   int
	ResponseBody string
	NextRetry    *time.Time
}

// UsageRecord is a per-request analytics audit entry.
type UsageRecord struct {
	ID    string
	TS    time.Time
	Owner string

	RequestedModel string
	ActualModel    string

	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64

	LatencyMs int64
	Success   bool
	ErrorKind ErrorKind

	RoutingStrategy RouteStrategy
	EndpointID      string

	CacheHit bool
	CacheTTL *time.Duration
}

// Fallback reports whether the request was served by a different model
// than requested.
func (r UsageRecord) Fallback() bool {
	return r.RequestedModel != r.ActualModel
}
