package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/pkg/apierr"
)

// handleChatCompletions serves both non-streaming and streaming chat
// requests (the "stream" field in the body selects which), matching the
// teacher's single dispatchChat handler for /v1/chat/completions and
// /v1/completions.
func (s *Server) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	owner := ownerOf(ctx)

	var in inboundRequest
	if err := decodeJSON(ctx.PostBody(), &in); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	req := in.toModelRequest()

	if !s.checkEndpointRateLimit(ctx, owner, req.EndpointID) {
		return
	}

	if req.Stream {
		s.streamChat(ctx, owner, req)
		return
	}

	resp, err := s.gateway.ChatComplete(ctx, owner, req)
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, fromModelResponse(resp))
}

// streamChat frames core.Gateway.ChatStream's delta channel as
// Server-Sent Events, directly adapted from the teacher's writeSSE.
func (s *Server) streamChat(ctx *fasthttp.RequestCtx, owner string, req core.ModelRequest) {
	_, deltas, err := s.gateway.ChatStream(ctx, owner, req)
	if err != nil {
		apierr.WriteCoreError(ctx, err)
		return
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		for delta := range deltas {
			chunk := map[string]any{
				"object":  "chat.completion.chunk",
				"created": time.Now().Unix(),
				"choices": []map[string]any{
					{
						"index": 0,
						"delta": map[string]string{"content": delta.Content},
						"finish_reason": func() any {
							if delta.FinishReason != "" {
								return delta.FinishReason
							}
							return nil
						}(),
					},
				},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush() //nolint:errcheck
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}
