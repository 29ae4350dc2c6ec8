// Package endpoint implements the custom-endpoint rewriter (spec.md §4.2):
// named presets, owned per-caller, that are merged into incoming requests
// before validation and routing.
//
// Grounded on the teacher's internal/cache.MemoryCache — the same
// sync.RWMutex-guarded-map concurrency idiom, applied to a different store
// shape.
package endpoint

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/modelgate/internal/core"
)

// Store is an in-memory, per-owner CRUD store of CustomEndpoint presets.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	endpoints map[string]*core.CustomEndpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{endpoints: make(map[string]*core.CustomEndpoint)}
}

// Create allocates a new CustomEndpoint owned by owner.
func (s *Store) Create(owner string, e core.CustomEndpoint) *core.CustomEndpoint {
	now := time.Now()
	e.ID = uuid.NewString()
	e.Owner = owner
	e.CreatedAt = now
	e.UpdatedAt = now

	s.mu.Lock()
	s.endpoints[e.ID] = &e
	s.mu.Unlock()

	return &e
}

// Get returns the endpoint with the given id iff it exists and is
// accessible to caller (owner==caller || is_public), else core.ErrNotFound.
func (s *Store) Get(id, caller string) (*core.CustomEndpoint, error) {
	s.mu.RLock()
	e, ok := s.endpoints[id]
	s.mu.RUnlock()

	if !ok || !e.Accessible(caller) {
		return nil, core.NewError(core.ErrNotFound, "endpoint not found")
	}
	cp := *e
	return &cp, nil
}

// List returns every endpoint accessible to caller.
func (s *Store) List(caller string) []*core.CustomEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.CustomEndpoint, 0)
	for _, e := range s.endpoints {
		if e.Accessible(caller) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Update applies fn to the endpoint with the given id if caller is its
// owner. Returns core.ErrNotFound if missing/inaccessible.
func (s *Store) Update(id, caller string, fn func(*core.CustomEndpoint)) (*core.CustomEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok || !e.Mutable(caller) {
		return nil, core.NewError(core.ErrNotFound, "endpoint not found")
	}
	fn(e)
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

// Delete removes the endpoint with the given id if caller is its owner.
func (s *Store) Delete(id, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok || !e.Mutable(caller) {
		return core.NewError(core.ErrNotFound, "endpoint not found")
	}
	delete(s.endpoints, id)
	return nil
}

// Rewrite produces a new ModelRequest from req by merging in endpoint e,
// with caller-supplied values always winning over the preset. Rewrite is
// idempotent: Rewrite(Rewrite(r,e),e) == Rewrite(r,e), since every field it
// touches is only set when the caller left it unset.
func Rewrite(req core.ModelRequest, e *core.CustomEndpoint) core.ModelRequest {
	out := req

	// 1. model <- endpoint.base_model, route <- endpoint.routing_strategy.
	out.Model = e.BaseModel
	out.Route = e.RoutingStrategy

	// 2. If caller supplied no fallbacks, copy from endpoint.
	if len(out.Fallbacks) == 0 {
		out.Fallbacks = append([]string(nil), e.Fallbacks...)
	}

	// 3. Prepend endpoint system_prompt iff caller supplied no system message.
	if e.SystemPrompt != "" && !hasSystemMessage(out.Messages) {
		sysMsg := core.ChatMessage{Role: "system", Text: e.SystemPrompt}
		out.Messages = append([]core.ChatMessage{sysMsg}, out.Messages...)
	}

	// 4. Sampling knobs: caller's value if present, else the endpoint default.
	if out.Temperature == nil {
		out.Temperature = e.DefaultTemperature
	}
	if out.TopP == nil {
		out.TopP = e.DefaultTopP
	}
	if out.FrequencyPenalty == nil {
		out.FrequencyPenalty = e.DefaultFrequencyPenalty
	}
	if out.PresencePenalty == nil {
		out.PresencePenalty = e.DefaultPresencePenalty
	}
	if out.MaxTokens == nil {
		out.MaxTokens = e.DefaultMaxTokens
	}

	return out
}

func hasSystemMessage(msgs []core.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}
