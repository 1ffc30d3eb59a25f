// Package programerr defines the error taxonomy surfaced by the chain oracle.
//
// Two namespaces exist. Custom errors belong to this program and carry small
// stable codes (0, 1, 2). Environment errors are the generic failures a hosting
// ledger reports for any program (bad ownership, missing signature, ...).
// Both are *Error values compared by identity with errors.Is.
package programerr

import (
	"errors"
	"fmt"
)

// Error is a program or environment error with a stable numeric code.
type Error struct {
	Code   uint32
	Name   string
	Custom bool
	msg    string
}

func (e *Error) Error() string { return e.msg }

// String returns the code-qualified form, e.g. "custom program error 2 (IncorrectSecretOrHash)".
func (e *Error) String() string {
	if e.Custom {
		return fmt.Sprintf("custom program error %d (%s)", e.Code, e.Name)
	}
	return fmt.Sprintf("program error %d (%s)", e.Code, e.Name)
}

func custom(code uint32, name, msg string) *Error {
	return &Error{Code: code, Name: name, Custom: true, msg: msg}
}

func env(code uint32, name, msg string) *Error {
	return &Error{Code: code, Name: name, msg: msg}
}

// Custom program errors.
var (
	ErrInvalidInstruction    = custom(0, "InvalidInstruction", "invalid instruction")
	ErrTooManyCallbacks      = custom(1, "TooManyCallbacks", "more callbacks than space allocated")
	ErrIncorrectSecretOrHash = custom(2, "IncorrectSecretOrHash", "incorrect secret or hash")
)

// Environment errors.
var (
	ErrInvalidArgument           = env(1, "InvalidArgument", "invalid argument")
	ErrInvalidAccountData        = env(2, "InvalidAccountData", "invalid account data")
	ErrIncorrectProgramID        = env(3, "IncorrectProgramId", "incorrect program id")
	ErrMissingRequiredSignature  = env(4, "MissingRequiredSignature", "missing required signature")
	ErrAccountAlreadyInitialized = env(5, "AccountAlreadyInitialized", "account already initialized")
	ErrUninitializedAccount      = env(6, "UninitializedAccount", "uninitialized account")
	ErrAccountNotRentExempt      = env(7, "AccountNotRentExempt", "account not rent exempt")
	ErrMaxSeedLengthExceeded     = env(8, "MaxSeedLengthExceeded", "max seed length exceeded")
	ErrArithmeticOverflow        = env(9, "ArithmeticOverflow", "arithmetic overflow")
)

// As returns the *Error wrapped anywhere in err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
