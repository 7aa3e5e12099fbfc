// ABOUTME: Dispatch error taxonomy: operation lookup failures and transport error kinds.
// ABOUTME: TransportError carries operation, endpoint and timeout for diagnosis.

package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrOperationNotFound indicates the operation is not in the catalog.
var ErrOperationNotFound = errors.New("operation not found")

// ErrNoRoute indicates neither a direct provider nor a transport target exists.
var ErrNoRoute = errors.New("no route to capability")

// Transport sentinels, matched with errors.Is against a *TransportError.
var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrTimeout           = errors.New("timeout")
	ErrBadStatus         = errors.New("bad status")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnexpected        = errors.New("unexpected transport error")
)

// Kind classifies a transport failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindTimeout
	KindBadStatus
	KindMalformedResponse
	KindUnexpected
)

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnectionFailure
	case KindTimeout:
		return ErrTimeout
	case KindBadStatus:
		return ErrBadStatus
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return ErrUnexpected
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// TransportError is a failure on the network fallback path.
type TransportError struct {
	Kind      Kind
	Operation string
	Endpoint  string
	Timeout   time.Duration
	Status    int    // set for KindBadStatus
	Detail    string // server-provided error text, if any
	Err       error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("dispatch %s via %s (timeout %s): %s", e.Operation, e.Endpoint, e.Timeout, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *TransportError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
