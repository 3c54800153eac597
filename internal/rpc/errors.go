package rpc

import (
	"errors"
	"fmt"

	"ledgerflow/internal/codec"
)

var (
	ErrTimeout = errors.New("rpc: request timed out")
	ErrClosed  = errors.New("rpc: client closed")
)

// TransportError reports a publish failure or a reply consumer crash.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("rpc: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// asValidation folds any reply decode failure into a *codec.ValidationError.
func asValidation(err error) error {
	var ve *codec.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &codec.ValidationError{Reason: err.Error()}
}

func outcome(err error) string {
	var te *TransportError
	var ve *codec.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &ve):
		return "invalid"
	default:
		return "cancelled"
	}
}
