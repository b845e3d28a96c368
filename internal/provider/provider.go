// Package provider defines the outbound messaging port and the error shapes
// a provider adapter must return.
package provider

import (
	"context"
	"fmt"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

// Sender delivers one template message and returns the provider's message id.
//
// Failures must be either *Error (the provider answered and refused) or
// *TransportError (no usable answer: network, timeout, malformed response).
type Sender interface {
	Send(ctx context.Context, to, templateSID string, vars model.Variables) (string, error)
}

// Error is a request the provider rejected with an error code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error %s (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *Error) Permanent() bool { return IsPermanentCode(e.Code) }

// TransportError wraps a failure to get any provider verdict.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "provider transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Twilio error codes that fail the same way on every attempt.
var permanentCodes = map[string]struct{}{
	"21211": {}, // invalid 'To' number
	"21408": {}, // region not enabled
	"21610": {}, // recipient unsubscribed
	"21614": {}, // 'To' is not a valid mobile number
	"21656": {}, // invalid ContentVariables
	"63016": {}, // outside the allowed window, template required
}

// IsPermanentCode reports whether a provider error code is in the permanent
// failure table.
func IsPermanentCode(code string) bool {
	_, ok := permanentCodes[code]
	return ok
}
