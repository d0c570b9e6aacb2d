package faults

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/lib/pq"
)

func TestKindOfAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(Conflict, "ride already accepted", base)
	if KindOf(err) != Conflict {
		t.Fatalf("expected conflict, got %s", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped cause must survive errors.Is")
	}
	// kind survives further wrapping by callers
	outer := fmt.Errorf("accept ride: %w", err)
	if KindOf(outer) != Conflict {
		t.Fatalf("expected conflict through fmt wrap, got %s", KindOf(outer))
	}
	if KindOf(errors.New("untyped")) != Internal {
		t.Fatal("untyped errors default to internal")
	}
	if KindOf(nil) != Internal {
		t.Fatal("nil defaults to internal")
	}
}

func TestReason(t *testing.T) {
	if got := Reason(New(Validation, "distance must be positive")); got != "distance must be positive" {
		t.Fatalf("got %q", got)
	}
	if got := Reason(errors.New("raw")); got != "raw" {
		t.Fatalf("got %q", got)
	}
	if got := Reason(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tagged transient", New(Transient, "store unavailable"), true},
		{"bad conn", driver.ErrBadConn, true},
		{"eof", io.EOF, true},
		{"net error", timeoutErr{}, true},
		{"wrapped net error", fmt.Errorf("query: %w", timeoutErr{}), true},
		{"pq connection failure", &pq.Error{Code: "08006"}, true},
		{"pq serialization", &pq.Error{Code: "40001"}, true},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true},
		{"pq cannot connect now", &pq.Error{Code: "57P03"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"validation", New(Validation, "bad input"), false},
		{"conflict", New(Conflict, "taken"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Validation, http.StatusBadRequest},
		{Unauthenticated, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{Conflict, http.StatusConflict},
		{InvalidState, http.StatusUnprocessableEntity},
		{NotFound, http.StatusNotFound},
		{Transient, http.StatusServiceUnavailable},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(New(tc.kind, "x")); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
	if got := HTTPStatus(errors.New("untyped")); got != http.StatusInternalServerError {
		t.Fatalf("untyped = %d", got)
	}
}
