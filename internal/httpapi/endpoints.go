package httpapi

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

func (s *Server) handleCreateEndpoint(ctx *fasthttp.RequestCtx) {
	owner := ownerOf(ctx)

	var in endpointDTO
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if in.Name == "" || in.BaseModel == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"fields 'name' and 'base_model' are required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	e := s.endpoints.Create(owner, in.toCore())
	writeJSON(ctx, fasthttp.StatusCreated, endpointFromCore(e))
}

func (s *Server) handleGetEndpoint(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	e, err := s.endpoints.Get(id, ownerOf(ctx))
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, endpointFromCore(e))
}

func (s *Server) handleListEndpoints(ctx *fasthttp.RequestCtx) {
	endpoints := s.endpoints.List(ownerOf(ctx))
	out := make([]endpointDTO, len(endpoints))
	for i, e := range endpoints {
		out[i] = endpointFromCore(e)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"endpoints": out})
}

func (s *Server) handleUpdateEndpoint(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	var in endpointDTO
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	e, err := s.endpoints.Update(id, ownerOf(ctx), func(e *core.CustomEndpoint) {
		if in.Name != "" {
			e.Name = in.Name
		}
		if in.BaseModel != "" {
			e.BaseModel = in.BaseModel
		}
		if in.Fallbacks != nil {
			e.Fallbacks = in.Fallbacks
		}
		if in.RoutingStrategy != "" {
			e.RoutingStrategy = core.RouteStrategy(in.RoutingStrategy)
		}
		if in.DefaultTemperature != nil {
			e.DefaultTemperature = in.DefaultTemperature
		}
		if in.DefaultTopP != nil {
			e.DefaultTopP = in.DefaultTopP
		}
		if in.DefaultFrequencyPenalty != nil {
			e.DefaultFrequencyPenalty = in.DefaultFrequencyPenalty
		}
		if in.DefaultPresencePenalty != nil {
			e.DefaultPresencePenalty = in.DefaultPresencePenalty
		}
		if in.DefaultMaxTokens != nil {
			e.DefaultMaxTokens = in.DefaultMaxTokens
		}
		if in.SystemPrompt != "" {
			e.SystemPrompt = in.SystemPrompt
		}
		e.IsPublic = in.IsPublic
		if in.RateLimitRPM > 0 {
			e.RateLimitRPM = in.RateLimitRPM
		}
	})
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, endpointFromCore(e))
}

func (s *Server) handleDeleteEndpoint(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.endpoints.Delete(id, ownerOf(ctx)); err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
