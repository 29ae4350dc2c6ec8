// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/modelgate/internal/core"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
	TypeNotFoundError     = "not_found_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeNoModelAvailable  = "no_model_available"
	CodeCancelled         = "request_cancelled"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 5xx  → 502
//	Default       → 502
//
// Timeouts are not mapped here; WriteTimeout writes the 504.
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 500 && providerStatus < 600:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// FromCoreError maps a core.Error kind to the (status, type, code) triple
// WriteCoreError sends to the client, generalizing WriteProviderError's
// kind-to-status switch to the request plane's full error taxonomy
// (spec.md §7).
func FromCoreError(err error) (status int, errType, code string) {
	switch core.KindOf(err) {
	case core.ErrInvalidRequest:
		return fasthttp.StatusBadRequest, TypeInvalidRequest, CodeInvalidRequest
	case core.ErrNotFound:
		return fasthttp.StatusNotFound, TypeNotFoundError, CodeNotFound
	case core.ErrNoModelAvail:
		return fasthttp.StatusServiceUnavailable, TypeProviderError, CodeNoModelAvailable
	case core.ErrUpstreamTimeout:
		return fasthttp.StatusGatewayTimeout, TypeProviderError, CodeRequestTimeout
	case core.ErrRateLimited:
		return fasthttp.StatusTooManyRequests, TypeRateLimitError, CodeRateLimitExceeded
	case core.ErrCancelled:
		return fasthttp.StatusRequestTimeout, TypeProviderError, CodeCancelled
	case core.ErrUpstreamError:
		return fasthttp.StatusBadGateway, TypeProviderError, CodeProviderError
	default:
		return fasthttp.StatusInternalServerError, TypeServerError, CodeInternalError
	}
}

// WriteCoreError writes a core.Error to the client via FromCoreError.
func WriteCoreError(ctx *fasthttp.RequestCtx, err error) {
	status, errType, code := FromCoreError(err)
	if status == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
	}
	Write(ctx, status, err.Error(), errType, code)
}
