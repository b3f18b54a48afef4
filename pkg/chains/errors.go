package chains

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrInvalidPin           = errors.New("invalid pin")
	ErrUnsupportedChain     = errors.New("unsupported chain")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNetwork              = errors.New("network error")
	ErrBridgeMessage        = errors.New("bridge message error")
	ErrCompensationFailure  = errors.New("compensation failure")
	ErrConfigNotInitialized = errors.New("config not initialized")
)

var kinds = []error{
	ErrCompensationFailure,
	ErrValidation,
	ErrInvalidPin,
	ErrUnsupportedChain,
	ErrWalletNotFound,
	ErrInsufficientBalance,
	ErrConfigNotInitialized,
	ErrBridgeMessage,
	ErrNetwork,
}

// Error is a classified failure from a chain operation
type Error struct {
	Kind  error  // one of the Err* kinds above
	Chain string // chain id, may be empty
	Op    string // operation name, may be empty
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Chain != "" {
		msg = e.Chain + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError builds a classified error
func NewError(kind error, chain, op string, err error) *Error {
	return &Error{Kind: kind, Chain: chain, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause
func Errorf(kind error, chain, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Chain: chain, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or nil if err is unclassified.
// A compensation failure outranks every other kind it is attached to.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether err is a transient network failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// UnconfirmedError reports a signed transaction that may have reached the chain but whose
// outcome is unknown. Callers must not assume the funds did not move.
type UnconfirmedError struct {
	Hash string
	Err  error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s unconfirmed: %v", e.Hash, e.Err)
}

func (e *UnconfirmedError) Unwrap() error {
	return e.Err
}

// UnconfirmedHash returns the transaction hash when err reports an unconfirmed transaction
func UnconfirmedHash(err error) (string, bool) {
	var unconfirmed *UnconfirmedError
	if errors.As(err, &unconfirmed) {
		return unconfirmed.Hash, true
	}
	return "", false
}
