package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestError_Permanent(t *testing.T) {
	if !(&Error{Code: "21656"}).Permanent() {
		t.Fatalf("expected 21656 to be permanent")
	}
	if (&Error{Code: "20429"}).Permanent() {
		t.Fatalf("expected 20429 (too many requests) to be retryable")
	}
	if (&Error{Code: ""}).Permanent() {
		t.Fatalf("expected empty code to be retryable")
	}
	if !IsPermanentCode("21610") {
		t.Fatalf("expected 21610 to be permanent")
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: "21211", Message: "Invalid 'To' Phone Number", Status: 400}
	if got := err.Error(); !strings.Contains(got, "21211") || !strings.Contains(got, "http 400") {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	err := &TransportError{Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected errors.Is to see the wrapped error")
	}

	var te *TransportError
	if !errors.As(error(err), &te) {
		t.Fatalf("expected errors.As to match *TransportError")
	}
}
