// Package apierr defines the runner's error taxonomy and its mapping onto
// HTTP status codes and JSON bodies.
package apierr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind identifies a category of error. No type names are exposed beyond
// this string — kinds signal intent, not Go types.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindException      Kind = "exception"
)

// Error is a structured API error carrying enough context to render its
// JSON body.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails attaches structured detail fields.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Invalid is a convenience constructor for KindInvalidRequest.
func Invalid(message string) *Error { return New(KindInvalidRequest, message) }

// NotFound is a convenience constructor for KindNotFound.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// InvalidState is a convenience constructor for KindInvalidState.
func InvalidState(message string) *Error { return New(KindInvalidState, message) }

// Unauthorized is a convenience constructor for KindUnauthorized.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// statusFor maps a Kind to its HTTP status.
func statusFor(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Body is the wire shape of an error response.
type Body struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Respond writes err to the gin context using the standard status/body
// mapping. Non-*Error values are treated as KindException and logged by
// the caller before calling Respond.
func Respond(c *gin.Context, err error) {
	if apiErr, ok := err.(*Error); ok {
		c.AbortWithStatusJSON(statusFor(apiErr.Kind), Body{
			Error:   string(apiErr.Kind),
			Message: apiErr.Message,
			Details: apiErr.Details,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, Body{
		Error:   string(KindException),
		Message: err.Error(),
	})
}
