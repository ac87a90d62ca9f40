package core

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("session not found")
	if got := err.Error(); !strings.Contains(got, "not_found_error") || !strings.Contains(got, "session not found") {
		t.Fatalf("error string = %q", got)
	}

	withCode := &Error{Type: ErrAPI, Message: "boom", Code: "upstream_down"}
	if got := withCode.Error(); !strings.Contains(got, "code: upstream_down") {
		t.Fatalf("error string = %q", got)
	}
}

func TestErrorAsTarget(t *testing.T) {
	t.Parallel()

	var wrapped error = NewProtocolError("unknown node id")
	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatalf("errors.As failed for *core.Error")
	}
	if target.Type != ErrProtocol {
		t.Fatalf("type = %q, want %q", target.Type, ErrProtocol)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if NewNotFoundError("gone").IsRetryable() {
		t.Fatalf("not found should not be retryable")
	}
	if !NewConnectionError("reset").IsRetryable() {
		t.Fatalf("connection errors should be retryable")
	}
}
