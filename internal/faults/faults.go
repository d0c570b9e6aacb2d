package faults

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/lib/pq"
)

// Kind classifies a failure so callers can branch structurally instead of
// matching on message text.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	Conflict        Kind = "conflict"
	InvalidState    Kind = "invalid_state"
	NotFound        Kind = "not_found"
	Transient       Kind = "transient"
	Internal        Kind = "internal"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or Internal for anything untyped.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Reason returns the human-readable reason, falling back to err.Error().
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsTransient reports whether err is safe to retry: either already tagged
// Transient or a recognizable infrastructure failure from the store.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == Transient {
		return true
	}
	return classifyInfra(err)
}

// classifyInfra recognizes connection-level failures structurally. Postgres
// class 08 is connection exceptions; 40001/40P01 are serialization/deadlock
// losses that a fresh attempt can win.
func classifyInfra(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		if pe.Code.Class() == "08" {
			return true
		}
		switch pe.Code {
		case "40001", "40P01", "57P03":
			return true
		}
	}
	return false
}

// HTTPStatus maps a failure kind to the transport status code. Callers still
// read the ok discriminant in the body; the status is advisory.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case InvalidState:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
