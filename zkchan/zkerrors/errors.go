// Package zkerrors implements the error taxonomy of SPEC_FULL.md §7: the
// public operations of zkchan/customer, zkchan/merchant and zkchan/mpcbridge
// return a *Error tagged with one of the six kinds below instead of an
// ad-hoc error string, so callers can dispatch on failure class with
// errors.As. The zkchan/protocol drivers wrap those errors with fmt.Errorf,
// which keeps the *Error reachable through errors.As.
package zkerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// InputMalformed covers bad hex, wrong length, or JSON parse failure.
	// No state is changed.
	InputMalformed Kind = iota

	// ProtocolViolation covers a wrong sub-protocol step, wrong channel
	// status, a replayed nonce, or a MAC/HMAC/commitment mismatch. The
	// specific session is marked Error on the merchant side; global
	// state is otherwise intact.
	ProtocolViolation

	// EconomicPolicy covers a balance that would fall below dust, or a
	// negative payment without justification. No state is changed.
	EconomicPolicy

	// MPCAbort covers a counterparty that dropped or cheated during the
	// MPC. Both sides mark the session Error; the customer retries from
	// the same index.
	MPCAbort

	// CryptoVerifyFail covers a signature or commitment that fails to
	// verify at unmask time. Treated the same as MPCAbort: the session
	// is burned but the customer's state pointer has not advanced.
	CryptoVerifyFail

	// Irrecoverable covers a merchant persistent-store outage or a
	// missing customer closing transaction. Fatal; the process should
	// terminate.
	Irrecoverable
)

func (k Kind) String() string {
	switch k {
	case InputMalformed:
		return "input-malformed"
	case ProtocolViolation:
		return "protocol-violation"
	case EconomicPolicy:
		return "economic-policy"
	case MPCAbort:
		return "mpc-abort"
	case CryptoVerifyFail:
		return "crypto-verify-fail"
	case Irrecoverable:
		return "irrecoverable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its Kind and a stack trace (via
// go-errors/errors, matching the teacher's own error-wrapping dependency).
type Error struct {
	Kind Kind
	err  *goerrors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.err.Error())
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err.Err
}

// ErrorStack returns the captured stack trace, useful when an Irrecoverable
// error is logged before the process terminates.
func (e *Error) ErrorStack() string {
	return e.err.ErrorStack()
}

// New builds a *Error of the given kind from a format string.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		err:  goerrors.Wrap(fmt.Errorf(format, args...), 1),
	}
}

// Wrap builds a *Error of the given kind from an existing error, preserving
// it as the unwrap target.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		err:  goerrors.Wrap(err, 1),
	}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ze *Error
	if e, ok := err.(*Error); ok {
		ze = e
	} else {
		return false
	}
	return ze.Kind == kind
}
