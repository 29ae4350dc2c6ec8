package router

import (
	"sort"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
)

// requiredFeatures computes the feature set req needs, per spec.md §4.4.
func requiredFeatures(req *core.ModelRequest) core.ModelFeatures {
	var f core.ModelFeatures
	for _, m := range req.Messages {
		if m.HasImage() {
			f.Vision = true
		}
	}
	if len(req.Functions) > 0 || req.FunctionCall != "" {
		f.FunctionCalling = true
	}
	if len(req.Tools) > 0 {
		f.ToolUse = true
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		f.JSONMode = true
	}
	return f
}

func featuresOf(m catalog.ModelInfoView) core.ModelFeatures {
	return core.ModelFeatures{
		Vision:          m.Vision,
		FunctionCalling: m.FunctionCalling,
		ToolUse:         m.ToolUse,
		JSONMode:        m.JSONMode,
	}
}

// eligible reports whether m's features cover required.
func eligible(m catalog.ModelInfoView, required core.ModelFeatures) bool {
	return featuresOf(m).Covers(required)
}

// eligibleModels returns every catalog entry eligible for required, in
// catalog (deterministic) order.
func eligibleModels(cat *catalog.Catalog, required core.ModelFeatures) []catalog.ModelInfoView {
	all := cat.All()
	out := make([]catalog.ModelInfoView, 0, len(all))
	for _, m := range all {
		if eligible(m, required) {
			out = append(out, m)
		}
	}
	return out
}

// buildCandidates returns the ordered list of model ids the router should
// try for req, per the strategy table in spec.md §4.4. The requested model
// (if it exists and is eligible) always leads a default/fallback ordering;
// for cost/speed/quality strategies the requested model is not special-cased
// — the whole eligible set is sorted by the strategy's key.
func buildCandidates(cat *catalog.Catalog, req *core.ModelRequest) []string {
	required := requiredFeatures(req)
	strategy := req.Route
	if strategy == "" {
		strategy = core.RouteDefault
	}

	switch strategy {
	case core.RouteLowestCost:
		return sortByCost(eligibleModels(cat, required))
	case core.RouteFastest:
		return sortByRank(cat, eligibleModels(cat, required), cat.SpeedRank)
	case core.RouteHighestQuality:
		return sortByRank(cat, eligibleModels(cat, required), cat.QualityRank)
	case core.RouteFallback:
		return orderedList(cat, req.Model, req.Fallbacks, required)
	default: // core.RouteDefault
		return orderedList(cat, req.Model, catalogFallbacks(cat, req.Model), required)
	}
}

// catalogFallbacks returns the catalog-recommended fallback order for
// modelID: every other catalog model, in deterministic catalog order.
// Eligibility filtering and provider diversification happen afterwards, in
// the caller's ordering step. The core ships no per-model curated fallback
// list (spec.md leaves this a deployment-seeded table); we fall back to
// "any eligible model" exactly as the "default" row of spec.md §4.4's
// strategy table describes.
func catalogFallbacks(cat *catalog.Catalog, modelID string) []string {
	var out []string
	for _, m := range cat.All() {
		if m.ID != modelID {
			out = append(out, m.ID)
		}
	}
	return out
}

// orderedList builds "requested model, then explicit list, then any
// eligible model", deduplicated, filtered to eligible/known ids, with
// provider diversification tie-breaks applied via diversify.
func orderedList(cat *catalog.Catalog, primary string, rest []string, required core.ModelFeatures) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(id string) {
		if seen[id] {
			return
		}
		m, ok := cat.Lookup(id)
		if !ok || !eligible(m, required) {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(primary)
	for _, id := range rest {
		add(id)
	}
	for _, m := range eligibleModels(cat, required) {
		add(m.ID)
	}

	return diversify(cat, out)
}

func sortByCost(models []catalog.ModelInfoView) []string {
	sorted := append([]catalog.ModelInfoView(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci := sorted[i].InputPrice + sorted[i].OutputPrice
		cj := sorted[j].InputPrice + sorted[j].OutputPrice
		if ci != cj {
			return ci < cj
		}
		return sorted[i].ID < sorted[j].ID // deterministic tie-break
	})
	return diversifyViews(sorted, func(m catalog.ModelInfoView) float64 {
		return m.InputPrice + m.OutputPrice
	})
}

func sortByRank(cat *catalog.Catalog, models []catalog.ModelInfoView, rankOf func(string) int) []string {
	sorted := append([]catalog.ModelInfoView(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rankOf(sorted[i].ID), rankOf(sorted[j].ID)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return diversifyViews(sorted, func(m catalog.ModelInfoView) float64 {
		return float64(rankOf(m.ID))
	})
}

// diversifyViews applies diversifyIDs' provider-diversification pass, gating
// each swap on keyOf being equal between the two candidates so the
// strategy's sort order (cost/speed-rank/quality-rank) is never disturbed.
func diversifyViews(models []catalog.ModelInfoView, keyOf func(catalog.ModelInfoView) float64) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	byID := make(map[string]catalog.ModelInfoView, len(models))
	keyByID := make(map[string]float64, len(models))
	for _, m := range models {
		byID[m.ID] = m
		keyByID[m.ID] = keyOf(m)
	}
	return diversifyIDs(ids, byID, func(a, b string) bool {
		return keyByID[a] == keyByID[b]
	})
}

// diversify applies diversifyIDs' provider-diversification pass to
// orderedList's priority list ("requested model, then explicit fallbacks,
// then any eligible model"), where adjacent entries already encode a
// priority order rather than a numeric sort key — any adjacent swap is
// considered "tied" there.
func diversify(cat *catalog.Catalog, ids []string) []string {
	byID := make(map[string]catalog.ModelInfoView, len(ids))
	for _, id := range ids {
		if m, ok := cat.Lookup(id); ok {
			byID[id] = m
		}
	}
	return diversifyIDs(ids, byID, func(a, b string) bool { return true })
}

// diversifyIDs implements spec.md §4.4's tie-break: "when two models have
// equal sort keys, prefer the one whose provider differs from the
// previously tried candidate." It is a stable pass that swaps a
// same-provider-as-previous candidate forward with the next candidate from a
// different provider, but only when tied(current, candidate) holds — so a
// strategy's primary sort order (cost/speed-rank/quality-rank) is never
// broken by a diversification swap between candidates that aren't actually
// tied.
func diversifyIDs(ids []string, byID map[string]catalog.ModelInfoView, tied func(a, b string) bool) []string {
	out := append([]string(nil), ids...)
	for i := 1; i < len(out); i++ {
		prev, ok1 := byID[out[i-1]]
		cur, ok2 := byID[out[i]]
		if !ok1 || !ok2 || prev.Provider != cur.Provider {
			continue
		}
		// Look ahead for a different-provider candidate that is "equal
		// enough" to swap forward — only adjacent, to preserve the
		// strategy's sort order otherwise.
		for j := i + 1; j < len(out); j++ {
			cand, ok := byID[out[j]]
			if !ok {
				continue
			}
			if cand.Provider != prev.Provider {
				if tied(out[i], out[j]) {
					out[i], out[j] = out[j], out[i]
				}
				break
			}
			break // next candidate is also same-provider; stop looking
		}
	}
	return out
}
