package httpapi

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

func (s *Server) handleCreateWebhook(ctx *fasthttp.RequestCtx) {
	owner := ownerOf(ctx)

	var in webhookDTO
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if in.URL == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'url' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	w, err := s.webhooks.CreateWebhook(owner, in.toCore())
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, webhookFromCore(w))
}

func (s *Server) handleGetWebhook(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	w, err := s.webhooks.GetWebhook(id, ownerOf(ctx))
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, webhookFromCore(w))
}

func (s *Server) handleListWebhooks(ctx *fasthttp.RequestCtx) {
	webhooks := s.webhooks.ListWebhooks(ownerOf(ctx))
	out := make([]webhookDTO, len(webhooks))
	for i, w := range webhooks {
		out[i] = webhookFromCore(w)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"webhooks": out})
}

func (s *Server) handleUpdateWebhook(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	var in webhookDTO
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	w, err := s.webhooks.UpdateWebhook(id, ownerOf(ctx), func(w *core.WebhookConfig) {
		if in.URL != "" {
			w.URL = in.URL
		}
		if in.Name != "" {
			w.Name = in.Name
		}
		if len(in.Events) > 0 {
			events := make([]core.WebhookEventType, len(in.Events))
			for i, e := range in.Events {
				events[i] = core.WebhookEventType(e)
			}
			w.Events = events
		}
		if in.Secret != "" {
			w.Secret = in.Secret
		}
		if in.Headers != nil {
			w.Headers = in.Headers
		}
		if in.Retries > 0 {
			w.Retries = in.Retries
		}
	})
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, webhookFromCore(w))
}

func (s *Server) handleDeleteWebhook(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.webhooks.DeleteWebhook(id, ownerOf(ctx)); err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
