// Package domain provides the core types and canonical error taxonomy
// for the shelf gap pipeline.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes a pipeline failure. Every failure path in the
// pipeline surfaces one of these; nothing is silently swallowed except
// the documented skip of unmapped detection labels, which is logged.
type ErrorKind string

const (
	// ErrKindUnknownProduct indicates a detection label with no product mapping.
	ErrKindUnknownProduct ErrorKind = "unknown_product"

	// ErrKindMalformedEvent indicates a gap event missing required fields.
	ErrKindMalformedEvent ErrorKind = "malformed_event"

	// ErrKindMalformedModelResponse indicates the reasoning backend returned
	// an unexpected shape: unknown tool name, malformed arguments, an empty
	// response, or a second tool call after the tool round.
	ErrKindMalformedModelResponse ErrorKind = "malformed_model_response"

	// ErrKindDecisionParse indicates the model's final content did not
	// deserialize into a complete Decision.
	ErrKindDecisionParse ErrorKind = "decision_parse"

	// ErrKindPolicyViolation indicates a parsed Decision that contradicts
	// the stock policy (alert with zero stock, reorder with stock on hand).
	ErrKindPolicyViolation ErrorKind = "policy_violation"

	// ErrKindModelTimeout indicates a reasoning backend call exceeded its deadline.
	ErrKindModelTimeout ErrorKind = "model_timeout"

	// ErrKindBackendUnavailable indicates the reasoning backend could not be
	// reached or answered with a transport-level failure.
	ErrKindBackendUnavailable ErrorKind = "backend_unavailable"

	// ErrKindStoreUnavailable indicates the inventory store could not be reached.
	ErrKindStoreUnavailable ErrorKind = "store_unavailable"

	// ErrKindProductNotFound indicates a decision names a product that does
	// not exist in the inventory store.
	ErrKindProductNotFound ErrorKind = "product_not_found"

	// ErrKindInvalidQuantity indicates a reorder decision with a non-positive quantity.
	ErrKindInvalidQuantity ErrorKind = "invalid_quantity"

	// ErrKindNotFound indicates a read miss (stock lookup, record fetch).
	ErrKindNotFound ErrorKind = "not_found"

	// ErrKindConfig indicates a fatal configuration error detected at startup.
	ErrKindConfig ErrorKind = "config"
)

// PipelineError is the tagged error returned by every component of the
// pipeline: a kind for programmatic handling plus a human-readable message.
type PipelineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error kind to an HTTP status for API surfaces.
func (e *PipelineError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrKindUnknownProduct, ErrKindMalformedEvent, ErrKindInvalidQuantity:
		return http.StatusBadRequest
	case ErrKindProductNotFound, ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindMalformedModelResponse, ErrKindDecisionParse, ErrKindPolicyViolation:
		return http.StatusBadGateway
	case ErrKindModelTimeout:
		return http.StatusGatewayTimeout
	case ErrKindStoreUnavailable, ErrKindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new pipeline error.
func NewError(kind ErrorKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// WithErr attaches a wrapped cause.
func (e *PipelineError) WithErr(err error) *PipelineError {
	e.Err = err
	return e
}

// KindOf returns the kind of err if it is (or wraps) a PipelineError,
// or the empty string otherwise.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for common errors

// ErrUnknownProduct creates an unknown product mapping error.
func ErrUnknownProduct(label string) *PipelineError {
	return NewError(ErrKindUnknownProduct, fmt.Sprintf("no product mapping for detection label %q", label))
}

// ErrMalformedEvent creates a malformed gap event error.
func ErrMalformedEvent(message string) *PipelineError {
	return NewError(ErrKindMalformedEvent, message)
}

// ErrMalformedModelResponse creates a backend protocol error.
func ErrMalformedModelResponse(message string) *PipelineError {
	return NewError(ErrKindMalformedModelResponse, message)
}

// ErrDecisionParse creates a decision parse error.
func ErrDecisionParse(message string) *PipelineError {
	return NewError(ErrKindDecisionParse, message)
}

// ErrPolicyViolation creates a stock policy violation error.
func ErrPolicyViolation(message string) *PipelineError {
	return NewError(ErrKindPolicyViolation, message)
}

// ErrModelTimeout creates a reasoning backend timeout error.
func ErrModelTimeout(message string) *PipelineError {
	return NewError(ErrKindModelTimeout, message)
}

// ErrBackendUnavailable creates a reasoning backend connectivity error.
func ErrBackendUnavailable(err error) *PipelineError {
	return NewError(ErrKindBackendUnavailable, "reasoning backend unavailable").WithErr(err)
}

// ErrStoreUnavailable creates a store connectivity error.
func ErrStoreUnavailable(err error) *PipelineError {
	return NewError(ErrKindStoreUnavailable, "inventory store unavailable").WithErr(err)
}

// ErrProductNotFound creates a product resolution error.
func ErrProductNotFound(name string) *PipelineError {
	return NewError(ErrKindProductNotFound, fmt.Sprintf("product %q not found", name))
}

// ErrInvalidQuantity creates an invalid reorder quantity error.
func ErrInvalidQuantity(quantity int) *PipelineError {
	return NewError(ErrKindInvalidQuantity, fmt.Sprintf("reorder quantity must be positive, got %d", quantity))
}

// ErrNotFound creates a generic read miss error.
func ErrNotFound(message string) *PipelineError {
	return NewError(ErrKindNotFound, message)
}

// ErrConfig creates a fatal configuration error.
func ErrConfig(message string) *PipelineError {
	return NewError(ErrKindConfig, message)
}
