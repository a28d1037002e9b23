// Package apperr defines the typed failures returned by the conference core.
//
// Every failure carries a Kind and a stable Reason string so that an outer layer
// can render a status without inspecting internal state. Sentinels are compared
// by Kind and Reason, which lets callers attach a Detail without breaking errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Conflict
	Forbidden
	InvalidQuery
	InvalidArgument
	Unauthorized
	AllocationExhausted
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	case InvalidQuery:
		return "invalid_query"
	case InvalidArgument:
		return "invalid_argument"
	case Unauthorized:
		return "unauthorized"
	case AllocationExhausted:
		return "allocation_exhausted"
	default:
		return "internal"
	}
}

// Error is a typed failure.
type Error struct {
	Kind      Kind
	Reason    string
	Detail    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind and Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// WithDetail returns a copy of e carrying a formatted detail message.
func (e *Error) WithDetail(format string, args ...any) *Error {
	cp := *e
	cp.Detail = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// New builds an error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Sentinels shared across packages.
var (
	ErrConferenceNotFound = New(NotFound, "conference not found")
	ErrProfileNotFound    = New(NotFound, "profile not found")
	ErrAlreadyRegistered  = New(Conflict, "already registered")
	ErrNoSeatsAvailable   = New(Conflict, "no seats available")
	ErrNotRegistered      = New(Conflict, "not registered")
	ErrNotOrganizer       = New(Forbidden, "only the organizer can update the conference")
	ErrInvalidQuery       = New(InvalidQuery, "invalid query")
	ErrInvalidArgument    = New(InvalidArgument, "invalid argument")
	ErrUnauthorized       = New(Unauthorized, "authorization required")
	ErrIDSpaceExhausted   = New(AllocationExhausted, "id space exhausted")

	// ErrConcurrentTransaction is the structural conflict: the snapshot went stale
	// before commit. It is the only failure that is safe to retry blindly.
	ErrConcurrentTransaction = &Error{Kind: Conflict, Reason: "concurrent transaction", Retryable: true}
)

// KindOf returns the Kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf returns the stable reason string of err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal error"
}

// IsRetryable reports whether err is a structural conflict.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
