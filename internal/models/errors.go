package models

import (
	"errors"
)

// Kind classifies ledger errors. Every kind surfaces as a client error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindDuplicate
	KindDrinkCodeCollision
	KindUnauthorized
	KindNotFound
	KindInvalidAmount
	KindInsolvency
	KindBackend
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindInvalidInput:       "invalid_input",
	KindDuplicate:          "duplicate",
	KindDrinkCodeCollision: "drink_code_collision",
	KindUnauthorized:       "unauthorized",
	KindNotFound:           "not_found",
	KindInvalidAmount:      "invalid_amount",
	KindInsolvency:         "insolvency",
	KindBackend:            "backend",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the single error type returned by ledger operations. Msg is the
// single-line text shown to the client.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind and message, so the package
// level values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrIncompleteRequest = newError(KindInvalidInput, "Incomplete request")
	ErrPasswordTooLong   = newError(KindInvalidInput, "Password must not exceed 72 bytes")

	ErrDrinkCodeCollision   = newError(KindDrinkCodeCollision, "This code is already used for a drink")
	ErrAccountCodeCollision = newError(KindDuplicate, "This code is already used for an account")

	ErrWrongPassword          = newError(KindUnauthorized, "Wrong password")
	ErrWrongSuperuserPassword = newError(KindUnauthorized, "Wrong superuserpassword")

	ErrNoSuchAccount      = newError(KindNotFound, "No such account in database")
	ErrUnknownAccountCode = newError(KindNotFound, "Barcode does not belong to an account")
	ErrNoSuchDrink        = newError(KindNotFound, "No such drink in database")

	ErrMoneyNotCents     = newError(KindInvalidAmount, "Money must be specified in cents")
	ErrMoneyNotPositive  = newError(KindInvalidAmount, "Zero/negative money given")
	ErrPriceNotCents     = newError(KindInvalidAmount, "Price must be specified in cents")
	ErrPriceNotPositive  = newError(KindInvalidAmount, "Zero/negative price given")
	ErrContentNotInteger = newError(KindInvalidAmount, "Content must be specified in ml")

	ErrInsufficientFunds = newError(KindInsolvency, "Insufficient funds")
	ErrBalanceOverflow   = newError(KindInvalidAmount, "Balance limit exceeded")

	ErrDatabaseTimeout = newError(KindBackend, "Database timeout")
)

// DuplicateError reports a unique constraint violation on field.
func DuplicateError(field string, cause error) *Error {
	return &Error{Kind: KindDuplicate, Msg: field + " already exists", Err: cause}
}

// BackendError wraps an unexpected store failure.
func BackendError(cause error) *Error {
	return &Error{Kind: KindBackend, Msg: cause.Error(), Err: cause}
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
