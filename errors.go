package pyroxy

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies proxy errors for mapping to HTTP responses.
type ErrorKind int

const (
	// ErrInvalidURL means the url parameter was missing or unparsable.
	ErrInvalidURL ErrorKind = iota
	// ErrInvalidCallback means the JSONP callback name was malformed.
	ErrInvalidCallback
	// ErrInvalidParam means another query parameter failed strict parsing.
	ErrInvalidParam
	// ErrUpstreamUnavailable wraps a failed upstream fetch.
	ErrUpstreamUnavailable
)

// ProxyError is the error type surfaced to clients.
// All request handling failures are funneled into one of these.
type ProxyError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProxyError) Error() string {
	return e.Message
}

func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the error to the HTTP status sent to the client.
// Client mistakes are 400, upstream timeouts 504 and other upstream
// failures 502.
func (e *ProxyError) StatusCode() int {
	switch e.Kind {
	case ErrInvalidURL, ErrInvalidCallback, ErrInvalidParam:
		return http.StatusBadRequest
	case ErrUpstreamUnavailable:
		if fe, ok := e.Cause.(*FetchError); ok && fe.Kind == FetchTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func invalidURLError(message string) *ProxyError {
	return &ProxyError{Kind: ErrInvalidURL, Message: message}
}

func invalidParamError(param, value string) *ProxyError {
	return &ProxyError{
		Kind:    ErrInvalidParam,
		Message: fmt.Sprintf("Invalid value %q for parameter %q.", value, param),
	}
}

// upstreamError wraps a fetch failure. The message names the upstream
// host and failure class only, never internal error detail.
func upstreamError(host string, cause *FetchError) *ProxyError {
	return &ProxyError{
		Kind:    ErrUpstreamUnavailable,
		Message: fmt.Sprintf("Upstream %s unavailable: %s.", host, cause.Kind),
		Cause:   cause,
	}
}
