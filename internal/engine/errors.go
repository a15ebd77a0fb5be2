package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. Every kind except KindStorage is a business-rule
// rejection caused by the caller's input or the ledger state.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindStaleQuote
	KindInsufficientFunds
	KindInsufficientHoldings
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindStaleQuote:
		return "stale quote"
	case KindInsufficientFunds:
		return "insufficient funds"
	case KindInsufficientHoldings:
		return "insufficient holdings"
	case KindStorage:
		return "storage error"
	default:
		return "unknown error"
	}
}

// Error is returned by every Service method that fails.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrNotFound) works for
// any NotFound error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrStaleQuote           = &Error{Kind: KindStaleQuote}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientHoldings = &Error{Kind: KindInsufficientHoldings}
	ErrStorage              = &Error{Kind: KindStorage}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an engine error, or KindStorage for any other error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsBusiness reports whether err is a business-rule rejection rather than a
// persistence failure.
func IsBusiness(err error) bool {
	return err != nil && KindOf(err) != KindStorage
}
