// Package catalog is the process-wide, read-only model catalog: the table
// of ModelInfo entries the router selects candidates from, plus the
// speed/quality rank tables the "fastest" and "highest_quality" routing
// strategies sort by.
//
// This is the generalization of the teacher's internal/providers.ModelAliases
// table (model name → provider name) into a full catalog entry per model,
// keyed by a namespaced "provider/name" id as spec.md §3 requires.
package catalog

import "fmt"

// Catalog is a read-only snapshot of known models. It is safe for
// concurrent use by any number of readers — nothing in it mutates after
// construction.
type Catalog struct {
	models map[string]ModelInfoView
	order  []string // insertion order, used for deterministic tie-breaks
}

// ModelInfoView mirrors core.ModelInfo. It is declared independently so
// this package has no import-cycle dependency on internal/core; callers
// convert at the boundary (see internal/router).
type ModelInfoView struct {
	ID              string
	Provider        string
	Name            string
	ContextWindow   int
	InputPrice      float64
	OutputPrice     float64
	Strengths       []string
	Vision          bool
	FunctionCalling bool
	ToolUse         bool
	JSONMode        bool
	MaxOutputTokens int
}

// New builds a Catalog from the built-in seed table.
func New() *Catalog {
	c := &Catalog{models: make(map[string]ModelInfoView, len(seed))}
	for _, m := range seed {
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c
}

// Lookup returns the catalog entry for id.
func (c *Catalog) Lookup(id string) (ModelInfoView, bool) {
	m, ok := c.models[id]
	return m, ok
}

// All returns every catalog entry in deterministic (insertion) order.
func (c *Catalog) All() []ModelInfoView {
	out := make([]ModelInfoView, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

// Len returns the number of models in the catalog.
func (c *Catalog) Len() int { return len(c.models) }

// SpeedRank returns the speed-ordering rank for id (lower = faster). Models
// absent from the table rank last (slowest), per spec.md §4.4's "fixed
// speed rank table" — ties among absent models are broken by catalog
// insertion order downstream in internal/router.
func (c *Catalog) SpeedRank(id string) int {
	if r, ok := speedRank[id]; ok {
		return r
	}
	return len(speedRank) + 1
}

// QualityRank returns the quality-ordering rank for id (lower = higher
// quality), mirroring SpeedRank.
func (c *Catalog) QualityRank(id string) int {
	if r, ok := qualityRank[id]; ok {
		return r
	}
	return len(qualityRank) + 1
}

// seed is the built-in model catalog. Prices are USD per 1e6 tokens.
// Coverage matches the providers the teacher's adapters implement, so every
// entry's Provider routes straight into the existing providers.Provider map.
var seed = []ModelInfoView{
	{ID: "openai/gpt-4o", Provider: "openai", Name: "GPT-4o", ContextWindow: 128_000,
		InputPrice: 2.50, OutputPrice: 10.00, Strengths: []string{"general", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 16_384},
	{ID: "openai/gpt-4o-mini", Provider: "openai", Name: "GPT-4o mini", ContextWindow: 128_000,
		InputPrice: 0.15, OutputPrice: 0.60, Strengths: []string{"cheap", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 16_384},
	{ID: "openai/gpt-4-turbo", Provider: "openai", Name: "GPT-4 Turbo", ContextWindow: 128_000,
		InputPrice: 10.00, OutputPrice: 30.00, Strengths: []string{"general"},
		Vision: false, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},
	{ID: "openai/gpt-3.5-turbo", Provider: "openai", Name: "GPT-3.5 Turbo", ContextWindow: 16_385,
		InputPrice: 0.50, OutputPrice: 1.50, Strengths: []string{"cheap", "fast"},
		FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},

	{ID: "anthropic/claude-3-opus", Provider: "anthropic", Name: "Claude 3 Opus", ContextWindow: 200_000,
		InputPrice: 15.00, OutputPrice: 75.00, Strengths: []string{"quality", "reasoning", "vision"},
		Vision: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},
	{ID: "anthropic/claude-3-5-sonnet", Provider: "anthropic", Name: "Claude 3.5 Sonnet", ContextWindow: 200_000,
		InputPrice: 3.00, OutputPrice: 15.00, Strengths: []string{"general", "vision"},
		Vision: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 8_192},
	{ID: "anthropic/claude-3-haiku", Provider: "anthropic", Name: "Claude 3 Haiku", ContextWindow: 200_000,
		InputPrice: 0.25, OutputPrice: 1.25, Strengths: []string{"cheap", "fast", "vision"},
		Vision: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},

	{ID: "gemini/gemini-1.5-pro", Provider: "gemini", Name: "Gemini 1.5 Pro", ContextWindow: 2_000_000,
		InputPrice: 1.25, OutputPrice: 5.00, Strengths: []string{"general", "long_context", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 8_192},
	{ID: "gemini/gemini-1.5-flash", Provider: "gemini", Name: "Gemini 1.5 Flash", ContextWindow: 1_000_000,
		InputPrice: 0.075, OutputPrice: 0.30, Strengths: []string{"cheap", "fast", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 8_192},

	{ID: "mistral/mistral-large-latest", Provider: "mistral", Name: "Mistral Large", ContextWindow: 128_000,
		InputPrice: 2.00, OutputPrice: 6.00, Strengths: []string{"general"},
		FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},
	{ID: "mistral/mistral-small-latest", Provider: "mistral", Name: "Mistral Small", ContextWindow: 128_000,
		InputPrice: 0.20, OutputPrice: 0.60, Strengths: []string{"cheap", "fast"},
		FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 4_096},
	{ID: "mistral/pixtral-large-2411", Provider: "mistral", Name: "Pixtral Large", ContextWindow: 128_000,
		InputPrice: 2.00, OutputPrice: 6.00, Strengths: []string{"vision"},
		Vision: true, ToolUse: true, MaxOutputTokens: 4_096},

	{ID: "bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock", Name: "Claude 3.5 Sonnet (Bedrock)",
		ContextWindow: 200_000, InputPrice: 3.00, OutputPrice: 15.00, Strengths: []string{"general", "vision"},
		Vision: true, ToolUse: true, MaxOutputTokens: 8_192},

	{ID: "azure/azure-gpt-4o", Provider: "azure", Name: "GPT-4o (Azure)", ContextWindow: 128_000,
		InputPrice: 2.50, OutputPrice: 10.00, Strengths: []string{"general", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 16_384},

	{ID: "vertexai/vertexai-gemini-1.5-pro", Provider: "vertexai", Name: "Gemini 1.5 Pro (Vertex)",
		ContextWindow: 2_000_000, InputPrice: 1.25, OutputPrice: 5.00, Strengths: []string{"general", "long_context", "vision"},
		Vision: true, FunctionCalling: true, ToolUse: true, JSONMode: true, MaxOutputTokens: 8_192},

	{ID: "xai/grok-2", Provider: "xai", Name: "Grok 2", ContextWindow: 128_000,
		InputPrice: 2.00, OutputPrice: 10.00, Strengths: []string{"general"},
		FunctionCalling: true, ToolUse: true, MaxOutputTokens: 4_096},
	{ID: "groq/llama-3.3-70b-versatile", Provider: "groq", Name: "Llama 3.3 70B (Groq)", ContextWindow: 128_000,
		InputPrice: 0.59, OutputPrice: 0.79, Strengths: []string{"cheap", "fast"},
		ToolUse: true, MaxOutputTokens: 8_192},
}

// speedRank orders models fastest-first, per spec.md §4.4's example ordering
// ("haiku < 3.5-turbo < flash < ... < opus"). Grounded on the teacher's
// DefaultFallbackOrder rank-table idiom (providers/provider.go).
var speedRank = buildRank([]string{
	"anthropic/claude-3-haiku",
	"groq/llama-3.3-70b-versatile",
	"openai/gpt-3.5-turbo",
	"gemini/gemini-1.5-flash",
	"mistral/mistral-small-latest",
	"openai/gpt-4o-mini",
	"xai/grok-2",
	"openai/gpt-4o",
	"azure/azure-gpt-4o",
	"bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0",
	"anthropic/claude-3-5-sonnet",
	"mistral/mistral-large-latest",
	"mistral/pixtral-large-2411",
	"gemini/gemini-1.5-pro",
	"vertexai/vertexai-gemini-1.5-pro",
	"openai/gpt-4-turbo",
	"anthropic/claude-3-opus",
})

// qualityRank orders models highest-quality-first, per spec.md §4.4's
// example ordering ("opus > gpt-4o > pro > ...").
var qualityRank = buildRank([]string{
	"anthropic/claude-3-opus",
	"openai/gpt-4-turbo",
	"openai/gpt-4o",
	"azure/azure-gpt-4o",
	"anthropic/claude-3-5-sonnet",
	"bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0",
	"gemini/gemini-1.5-pro",
	"vertexai/vertexai-gemini-1.5-pro",
	"mistral/mistral-large-latest",
	"mistral/pixtral-large-2411",
	"xai/grok-2",
	"openai/gpt-4o-mini",
	"groq/llama-3.3-70b-versatile",
	"gemini/gemini-1.5-flash",
	"openai/gpt-3.5-turbo",
	"mistral/mistral-small-latest",
	"anthropic/claude-3-haiku",
})

func buildRank(order []string) map[string]int {
	m := make(map[string]int, len(order))
	for i, id := range order {
		m[id] = i
	}
	return m
}

// ModelIDForAlias maps a bare model alias (as accepted by the teacher's
// providers.ModelAliases, e.g. "gpt-4o") to a namespaced catalog id
// (e.g. "openai/gpt-4o"), for backward-compatible request bodies.
func ModelIDForAlias(provider, alias string) string {
	return fmt.Sprintf("%s/%s", provider, alias)
}
