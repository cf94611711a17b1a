// Package apierror classifies errors the orchestrator returns to HTTP
// callers, mapping each Kind to an HTTP status the way a gin handler
// layer would, but with the controller's own vocabulary.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the controller's error categories. Every handler error
// should ultimately be classifiable into one of these.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindPreconditionFailed
	KindResourceUnavailable
	KindTimeout
	KindShuttingDown
)

// Status returns the HTTP status code this Kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindResourceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindBadRequest:
		return "BadRequest"
	case KindConflict:
		return "Conflict"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindResourceUnavailable:
		return "ResourceUnavailable"
	case KindTimeout:
		return "Timeout"
	case KindShuttingDown:
		return "ShuttingDown"
	default:
		return "InternalServerError"
	}
}

// Error wraps an underlying cause with a Kind so HTTP handlers can map
// it to a status code without re-inspecting error strings.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func NotFound(msg string) *Error            { return New(KindNotFound, msg) }
func BadRequest(msg string) *Error          { return New(KindBadRequest, msg) }
func Conflict(msg string) *Error            { return New(KindConflict, msg) }
func PreconditionFailed(msg string) *Error  { return New(KindPreconditionFailed, msg) }
func ResourceUnavailable(msg string) *Error { return New(KindResourceUnavailable, msg) }
func Timeout(msg string) *Error             { return New(KindTimeout, msg) }
func ShuttingDown(msg string) *Error        { return New(KindShuttingDown, msg) }

// KindOf extracts the Kind from err, defaulting to KindInternal for
// plain errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FromPageserverStatus classifies a pageserver HTTP response status
// into the retry/fail policy callers should apply.
func FromPageserverStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusServiceUnavailable:
		return KindResourceUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInternal
	default:
		return KindConflict
	}
}
