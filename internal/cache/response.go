// Package cache provides the response cache for the request plane
// (spec.md §4.3): fingerprint keying, TTL, and invalidation, layered over
// the teacher's MemoryCache/ExactCache backends.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/modelgate/internal/core"
)

// KeyPolicy configures how Fingerprint canonicalizes a request.
type KeyPolicy struct {
	Strategy          core.CacheKeyStrategy
	IgnoreTemperature bool
	IgnoreTopP        bool
}

// canonicalMessage is the JSON shape hashed into the fingerprint. Field
// names are short and fixed so the hash is stable across code changes.
type canonicalMessage struct {
	Role    string `json:"r"`
	Content string `json:"c"`
}

// Fingerprint returns the deterministic cache key for req under policy.
// Grounded on the teacher's buildCacheKey (internal/proxy/gateway.go): a
// canonical struct marshaled to JSON and SHA-256 hashed, generalized to
// take a keying policy and support the "semantic" strategy of spec.md §4.3.
func Fingerprint(owner, endpointID string, req *core.ModelRequest, policy KeyPolicy) string {
	msgs := canonicalize(req.Messages, policy.Strategy)

	temp := ""
	if !policy.IgnoreTemperature && req.Temperature != nil {
		temp = fmt.Sprintf("%.4f", *req.Temperature)
	}
	topP := ""
	if !policy.IgnoreTopP && req.TopP != nil {
		topP = fmt.Sprintf("%.4f", *req.TopP)
	}
	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	payload := struct {
		Owner      string             `json:"o"`
		Endpoint   string             `json:"e"`
		Model      string             `json:"m"`
		Temp       string             `json:"t"`
		TopP       string             `json:"p"`
		MaxTokens  int                `json:"mt"`
		Messages   []canonicalMessage `json:"msgs"`
		FreqPenal  float64            `json:"fp,omitempty"`
		PresPenal  float64            `json:"pp,omitempty"`
	}{
		Owner:     owner,
		Endpoint:  endpointID,
		Model:     req.Model,
		Temp:      temp,
		TopP:      topP,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.FrequencyPenalty != nil {
		payload.FreqPenal = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		payload.PresPenal = *req.PresencePenalty
	}

	// Canonical JSON: encoding/json already sorts struct fields by their
	// declared (fixed) order; we additionally sort the message slice for
	// "exact" keying so message order variance in equivalent requests does
	// not fragment the cache (the stored semantics are order-sensitive for
	// replay, but the fingerprint only needs to be a stable function of
	// content).
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return "resp:" + hex.EncodeToString(sum[:])
}

func canonicalize(msgs []core.ChatMessage, strategy core.CacheKeyStrategy) []canonicalMessage {
	if strategy == core.CacheKeySemantic {
		out := make([]canonicalMessage, 0, len(msgs))
		for _, m := range msgs {
			if m.Role != "user" {
				continue
			}
			out = append(out, canonicalMessage{
				Role:    "user",
				Content: strings.TrimSpace(strings.ToLower(textOf(m))),
			})
		}
		return out
	}

	out := make([]canonicalMessage, len(msgs))
	for i, m := range msgs {
		out[i] = canonicalMessage{Role: m.Role, Content: textOf(m)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Content < out[j].Content
	})
	return out
}

func textOf(m core.ChatMessage) string {
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

// ResponseCache wraps a Cache backend with fingerprint-keyed
// CacheEntry storage and model-scoped invalidation.
type ResponseCache struct {
	backend Cache
	// index tracks fingerprint -> model_id for Invalidate(partial); kept in
	// lock-step with the backend since Cache itself has no iteration
	// contract (ExactCache is Redis-backed).
	mu    sync.Mutex
	byKey map[string]string
}

// NewResponseCache wraps backend. backend may be nil, in which case the
// ResponseCache degrades to a permanent no-op (mirrors CACHE_MODE=none).
func NewResponseCache(backend Cache) *ResponseCache {
	return &ResponseCache{backend: backend, byKey: make(map[string]string)}
}

// Get returns the cached entry for key iff present and unexpired. Expired
// entries are removed on access, per spec.md §4.3.
func (r *ResponseCache) Get(ctx context.Context, key string) (*core.CacheEntry, bool) {
	if r.backend == nil {
		return nil, false
	}
	raw, ok := r.backend.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var entry core.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: evict and miss (spec.md §7 "cache swallows store
		// corruption on a single key").
		_ = r.backend.Delete(ctx, key)
		r.forget(key)
		return nil, false
	}
	if entry.Expired(time.Now()) {
		_ = r.backend.Delete(ctx, key)
		r.forget(key)
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key with the given ttl. A nil backend makes this
// a no-op, matching "if caching is disabled by options the call is a
// no-op" (spec.md §4.3).
func (r *ResponseCache) Set(ctx context.Context, key string, entry core.CacheEntry, ttl time.Duration) error {
	if r.backend == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.backend.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	r.remember(key, entry.ModelID)
	return nil
}

// Invalidate removes every entry whose stored model_id matches modelID.
// An empty modelID clears everything. Returns the count removed.
//
// byKey only indexes entries this instance's own Set calls populated, which
// under CACHE_MODE=redis with multiple replicas misses entries a sibling
// process wrote. When the backend is Redis-backed, Invalidate additionally
// sweeps it directly via ExactCache.ScanAll (go-redis's Scan cursor API,
// the teacher's existing dependency) instead of KEYS, so invalidation never
// blocks the server on a large keyspace and also reaches cross-replica
// entries that byKey never learned about.
func (r *ResponseCache) Invalidate(ctx context.Context, modelID string) int {
	if r.backend == nil {
		return 0
	}

	r.mu.Lock()
	toDelete := make([]string, 0)
	for key, mid := range r.byKey {
		if modelID == "" || mid == modelID {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		delete(r.byKey, key)
	}
	r.mu.Unlock()

	seen := make(map[string]bool, len(toDelete))
	for _, key := range toDelete {
		seen[key] = true
	}

	if ec, ok := r.backend.(*ExactCache); ok {
		if keys, err := ec.ScanAll(ctx, "resp:"); err == nil {
			for _, key := range keys {
				if seen[key] {
					continue
				}
				if modelID != "" && !ec.matchesModel(ctx, key, modelID) {
					continue
				}
				seen[key] = true
				toDelete = append(toDelete, key)
			}
		}
	}

	removed := 0
	for _, key := range toDelete {
		if err := r.backend.Delete(ctx, key); err == nil {
			removed++
		}
	}

	return removed
}

func (r *ResponseCache) remember(key, modelID string) {
	r.mu.Lock()
	r.byKey[key] = modelID
	r.mu.Unlock()
}

func (r *ResponseCache) forget(key string) {
	r.mu.Lock()
	delete(r.byKey, key)
	r.mu.Unlock()
}

// ScanAll returns every key in the Redis backend matching prefix, using
// go-redis's Scan cursor API (the teacher's existing dependency) instead of
// KEYS so a large keyspace never blocks the server. Invalidate uses this to
// reach cross-replica entries its own byKey index never learned about.
func (ec *ExactCache) ScanAll(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := ec.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return keys, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// matchesModel reports whether the CacheEntry stored under key has
// ModelID == modelID. A missing or corrupt entry never matches.
func (ec *ExactCache) matchesModel(ctx context.Context, key, modelID string) bool {
	raw, ok := ec.Get(ctx, key)
	if !ok {
		return false
	}
	var entry core.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return entry.ModelID == modelID
}
