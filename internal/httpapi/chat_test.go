package httpapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
)

type fakeRouter struct {
	resp *core.ModelResponse
	err  error
}

func (f *fakeRouter) Dispatch(context.Context, *core.ModelRequest) (string, *core.ModelResponse, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.resp.Model, f.resp, nil
}
func (f *fakeRouter) DispatchStream(context.Context, *core.ModelRequest) (string, <-chan core.StreamDelta, error) {
	return "", nil, f.err
}

type passValidator struct{}

func (passValidator) Validate(*core.ModelRequest) error { return nil }

func TestHandleChatCompletions_Success(t *testing.T) {
	router := &fakeRouter{resp: &core.ModelResponse{
		Model: "openai/gpt-4o",
		Choices: []core.Choice{{
			Message:      core.ChatMessage{Role: "assistant", Text: "hello"},
			FinishReason: "stop",
		}},
		Usage: core.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}}
	gw := core.NewGateway(nil, router, passValidator{})
	srv := New(gw, nil, nil, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBody([]byte(`{"model":"openai/gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	ctx.SetUserValue("owner", "alice")

	srv.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var out outboundResponse
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if out.Model != "openai/gpt-4o" {
		t.Errorf("expected model echoed, got %s", out.Model)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "hello" {
		t.Errorf("unexpected choices: %+v", out.Choices)
	}
}

func TestHandleChatCompletions_InvalidJSON(t *testing.T) {
	gw := core.NewGateway(nil, &fakeRouter{}, passValidator{})
	srv := New(gw, nil, nil, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(`not json`))
	ctx.SetUserValue("owner", "alice")

	srv.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleChatCompletions_RouterErrorMapsToStatus(t *testing.T) {
	router := &fakeRouter{err: core.NewError(core.ErrNoModelAvail, "nothing healthy")}
	gw := core.NewGateway(nil, router, passValidator{})
	srv := New(gw, nil, nil, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(`{"model":"openai/gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	ctx.SetUserValue("owner", "alice")

	srv.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", ctx.Response.StatusCode())
	}
}
