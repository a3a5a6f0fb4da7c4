// Package apperr defines the closed error taxonomy shared by the policy
// engine, ledger, and admission pipeline. Every error the core produces is
// one of these kinds so the HTTP edge can map it to a status code without
// inspecting error strings.
package apperr

import "github.com/pkg/errors"

// Kind is a closed enumeration of the error categories the core can raise.
type Kind int

const (
	// KindInternal is the zero value and maps to 500.
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyRegistered
	KindConditionAlreadyExists
	KindEntrypointDisabled
	KindNotEnoughFunds
	KindTooManyCallsThisMonth
	KindConditionExceeded
	KindInvalidAddress
	KindEmptyOperationList
	KindInvalidSignature
	KindBadWithdrawCounter
	KindSimulationFailed
	KindBatchConflict
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New creates a taxonomy error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap attaches a taxonomy Kind to cause, adding a stack trace via pkg/errors.
// A nil cause yields a nil error.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(cause)}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors matching the names used across §7 of the spec.

func NotFound(what string) error              { return New(KindNotFound, what+" not found") }
func AlreadyRegistered(what string) error      { return New(KindAlreadyRegistered, what+" already registered") }
func ConditionAlreadyExists(what string) error { return New(KindConditionAlreadyExists, what) }
func EntrypointDisabled(name string) error {
	return New(KindEntrypointDisabled, "entrypoint "+name+" is disabled")
}
func NotEnoughFunds(msg string) error          { return New(KindNotEnoughFunds, msg) }
func TooManyCallsThisMonth() error             { return New(KindTooManyCallsThisMonth, "monthly call cap reached") }
func ConditionExceeded(msg string) error       { return New(KindConditionExceeded, msg) }
func InvalidAddress(addr string) error         { return New(KindInvalidAddress, "invalid address "+addr) }
func EmptyOperationList() error                { return New(KindEmptyOperationList, "empty operation list") }
func InvalidSignature() error                  { return New(KindInvalidSignature, "invalid signature") }
func BadWithdrawCounter() error                { return New(KindBadWithdrawCounter, "stale withdraw counter") }
func SimulationFailed(cause error) error       { return Wrap(KindSimulationFailed, cause, "simulation failed") }
func BatchConflict() error                     { return New(KindBatchConflict, "operation evicted from batch") }
func Internal(cause error) error               { return Wrap(KindInternal, cause, "internal error") }
