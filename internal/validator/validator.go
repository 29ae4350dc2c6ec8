// Package validator implements the request-plane's pure, total request
// validation (spec.md §4.1). It performs no I/O and returns an explicit
// *core.Error on every rejection path instead of panicking or writing an
// HTTP response — that translation happens in internal/httpapi.
package validator

import (
	"fmt"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
)

// AutoModel is the reserved model name that defers model selection to the
// router's default strategy.
const AutoModel = "auto"

// Validator checks ModelRequest values against the catalog.
type Validator struct {
	catalog *catalog.Catalog
}

// New builds a Validator backed by cat for model-id existence checks.
func New(cat *catalog.Catalog) *Validator {
	return &Validator{catalog: cat}
}

// Validate rejects req with core.ErrInvalidRequest if any required field is
// missing, mistyped, or a numeric knob falls outside its documented range.
func (v *Validator) Validate(req *core.ModelRequest) error {
	if req == nil {
		return core.NewError(core.ErrInvalidRequest, "request must not be nil")
	}

	if req.Model == "" {
		return core.NewError(core.ErrInvalidRequest, "field 'model' is required")
	}
	if req.Model != AutoModel {
		if _, ok := v.catalog.Lookup(req.Model); !ok {
			return core.NewError(core.ErrInvalidRequest,
				fmt.Sprintf("model %q is not a known catalog id and is not %q", req.Model, AutoModel))
		}
	}

	if len(req.Messages) == 0 {
		return core.NewError(core.ErrInvalidRequest, "field 'messages' must be non-empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return core.NewError(core.ErrInvalidRequest,
				fmt.Sprintf("messages[%d]: invalid role %q", i, m.Role))
		}
		if m.Text == "" && len(m.Parts) == 0 {
			return core.NewError(core.ErrInvalidRequest,
				fmt.Sprintf("messages[%d]: content must not be empty", i))
		}
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return core.NewError(core.ErrInvalidRequest, "field 'temperature' must be within [0, 2]")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return core.NewError(core.ErrInvalidRequest, "field 'top_p' must be within [0, 1]")
	}
	if req.FrequencyPenalty != nil && (*req.FrequencyPenalty < -2 || *req.FrequencyPenalty > 2) {
		return core.NewError(core.ErrInvalidRequest, "field 'frequency_penalty' must be within [-2, 2]")
	}
	if req.PresencePenalty != nil && (*req.PresencePenalty < -2 || *req.PresencePenalty > 2) {
		return core.NewError(core.ErrInvalidRequest, "field 'presence_penalty' must be within [-2, 2]")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return core.NewError(core.ErrInvalidRequest, "field 'max_tokens' must be > 0")
	}

	if req.Route != "" && !req.Route.Valid() {
		return core.NewError(core.ErrInvalidRequest, fmt.Sprintf("invalid 'route' strategy %q", req.Route))
	}

	if needsImage(req) && req.Model != AutoModel {
		if mi, ok := v.catalog.Lookup(req.Model); ok && !mi.Vision {
			return core.NewError(core.ErrInvalidRequest,
				fmt.Sprintf("model %q does not support image content (vision feature required)", req.Model))
		}
	}

	return nil
}

func needsImage(req *core.ModelRequest) bool {
	for _, m := range req.Messages {
		if m.HasImage() {
			return true
		}
	}
	return false
}
