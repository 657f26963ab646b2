package selection

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindNetwork       Kind = "network"
	KindProtocol      Kind = "protocol"
	KindDecode        Kind = "decode"
	KindConfiguration Kind = "configuration"
)

var (
	ErrNetwork       = errors.New("selection: network error")
	ErrProtocol      = errors.New("selection: protocol error")
	ErrDecode        = errors.New("selection: decode error")
	ErrConfiguration = errors.New("selection: configuration error")
)

// RequestError is the single failure type returned by RequestSelection.
// errors.Is matches both the kind sentinel and the wrapped cause.
type RequestError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *RequestError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("selection %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("selection %s error (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *RequestError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// Timeout reports whether the failure came from a deadline.
func (e *RequestError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindProtocol:
		return ErrProtocol
	case KindDecode:
		return ErrDecode
	default:
		return ErrConfiguration
	}
}

func newErr(kind Kind, op string, err error) *RequestError {
	return &RequestError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a selection failure, or "" when err is not one.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
