package domain

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrorKind is the discriminated category of a pipeline error. Kinds appear
// verbatim in the response envelope's error.code field.
type ErrorKind string

const (
	// KindUnauthorized covers missing, malformed, unknown, expired, and
	// revoked credentials.
	KindUnauthorized ErrorKind = "UNAUTHORIZED"

	// KindForbidden covers environment mismatches and scope mismatches.
	KindForbidden ErrorKind = "FORBIDDEN"

	// KindNotFound covers unknown processes, cross-tenant processes, and
	// processes without a servable version.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindBadRequest covers malformed request bodies.
	KindBadRequest ErrorKind = "BAD_REQUEST"

	// KindValidation covers input schema violations.
	KindValidation ErrorKind = "VALIDATION_ERROR"

	// KindLLMTimeout indicates the generation backend exceeded its deadline.
	KindLLMTimeout ErrorKind = "LLM_TIMEOUT"

	// KindLLMError indicates the generation backend failed or is unavailable.
	KindLLMError ErrorKind = "LLM_ERROR"

	// KindOutputParse indicates the backend output could not be parsed after
	// the corrective retry, with no output schema to report against.
	KindOutputParse ErrorKind = "OUTPUT_PARSE_FAILED"

	// KindOutputValidation indicates the backend output failed schema
	// validation after the corrective retry.
	KindOutputValidation ErrorKind = "OUTPUT_VALIDATION_FAILED"

	// KindInternal covers anything unclassified. Messages are sanitized
	// before reaching the caller.
	KindInternal ErrorKind = "INTERNAL_ERROR"
)

// Error is the canonical error value returned by every pipeline component.
// It propagates by return value so call sites handle it explicitly.
type Error struct {
	Kind    ErrorKind `json:"code"`
	Message string    `json:"message"`

	// Issues carries field-level findings for validation kinds.
	Issues []Issue `json:"issues,omitempty"`

	// RetryAfterSeconds is set on retryable kinds (LLM_TIMEOUT, LLM_ERROR).
	RetryAfterSeconds int `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Issues) > 0 {
		return fmt.Sprintf("%s: %s (%d issues)", e.Kind, e.Message, len(e.Issues))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the caller may retry after a delay.
func (e *Error) Retryable() bool {
	return e.Kind == KindLLMTimeout || e.Kind == KindLLMError
}

// HTTPStatus maps the kind to its transport status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindValidation:
		return http.StatusBadRequest
	case KindLLMTimeout:
		return http.StatusGatewayTimeout
	case KindLLMError:
		return http.StatusServiceUnavailable
	case KindOutputParse, KindOutputValidation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithIssues attaches field-level findings.
func (e *Error) WithIssues(issues ...Issue) *Error {
	e.Issues = append(e.Issues, issues...)
	return e
}

// WithRetryAfter sets the retry hint in whole seconds (minimum 1).
func (e *Error) WithRetryAfter(seconds int) *Error {
	if seconds < 1 {
		seconds = 1
	}
	e.RetryAfterSeconds = seconds
	return e
}

// WithCause wraps an underlying error for logging; the cause never reaches
// the response body.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ErrUnauthorized creates an UNAUTHORIZED error.
func ErrUnauthorized(message string) *Error {
	return NewError(KindUnauthorized, message)
}

// ErrForbidden creates a FORBIDDEN error.
func ErrForbidden(message string) *Error {
	return NewError(KindForbidden, message)
}

// ErrNotFound creates a NOT_FOUND error.
func ErrNotFound(message string) *Error {
	return NewError(KindNotFound, message)
}

// ErrBadRequest creates a BAD_REQUEST error.
func ErrBadRequest(message string) *Error {
	return NewError(KindBadRequest, message)
}

// ErrValidation creates a VALIDATION_ERROR carrying the collected issues.
func ErrValidation(message string, issues []Issue) *Error {
	return NewError(KindValidation, message).WithIssues(issues...)
}

// ErrLLMTimeout creates an LLM_TIMEOUT error with a retry hint.
func ErrLLMTimeout(message string, retryAfterSeconds int) *Error {
	return NewError(KindLLMTimeout, message).WithRetryAfter(retryAfterSeconds)
}

// ErrLLMError creates an LLM_ERROR with a retry hint.
func ErrLLMError(message string, retryAfterSeconds int) *Error {
	return NewError(KindLLMError, message).WithRetryAfter(retryAfterSeconds)
}

// ErrOutputParse creates an OUTPUT_PARSE_FAILED error.
func ErrOutputParse(message string) *Error {
	return NewError(KindOutputParse, message)
}

// ErrOutputValidation creates an OUTPUT_VALIDATION_FAILED error carrying the
// last attempt's issues.
func ErrOutputValidation(message string, issues []Issue) *Error {
	return NewError(KindOutputValidation, message).WithIssues(issues...)
}

// ErrInternal creates an INTERNAL_ERROR with a sanitized message.
func ErrInternal(message string) *Error {
	return NewError(KindInternal, SanitizeMessage(message))
}

// AsError extracts a pipeline *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Classify returns err as a pipeline error, converting unclassified errors
// into sanitized INTERNAL_ERROR values.
func Classify(err error) *Error {
	if e, ok := AsError(err); ok {
		return e
	}
	return ErrInternal(err.Error()).WithCause(err)
}

// pathLike matches tokens that would leak implementation detail: file paths,
// Go source references, and module paths.
var pathLike = regexp.MustCompile(`\S*(/|\\|\.go\b)\S*`)

// SanitizeMessage strips file paths, stack fragments, and module names from
// a message destined for an INTERNAL_ERROR response.
func SanitizeMessage(message string) string {
	cleaned := pathLike.ReplaceAllString(message, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, " :,.")
	if cleaned == "" {
		return "internal error"
	}
	return cleaned
}
