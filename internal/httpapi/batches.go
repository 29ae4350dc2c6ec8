package httpapi

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

func (s *Server) handleCreateBatch(ctx *fasthttp.RequestCtx) {
	owner := ownerOf(ctx)

	var in createBatchRequest
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if len(in.Requests) == 0 {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'requests' must not be empty",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	reqs := make([]core.ModelRequest, len(in.Requests))
	for i, r := range in.Requests {
		reqs[i] = r.toModelRequest()
	}

	b, err := s.batches.CreateBatch(owner, reqs, core.Priority(in.Priority), in.CallbackURL, in.Metadata)
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusAccepted, batchFromCore(b))
}

func (s *Server) handleGetBatch(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	b, err := s.batches.GetBatch(id, ownerOf(ctx))
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, batchFromCore(b))
}

func (s *Server) handleListBatches(ctx *fasthttp.RequestCtx) {
	batches := s.batches.ListBatches(ownerOf(ctx))
	out := make([]batchDTO, len(batches))
	for i, b := range batches {
		out[i] = batchFromCore(b)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"batches": out})
}

func (s *Server) handleCancelBatch(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.batches.CancelBatch(id, ownerOf(ctx)); err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "cancelled"})
}
