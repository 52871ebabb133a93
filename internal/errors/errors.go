// Package errors defines the lending engine's error taxonomy.
//
// Every failure carries a machine-readable Code and belongs to one Kind.
// Callers match with the standard library: errors.Is(err, ErrLoanNotReturned).
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups codes by how the caller should react.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindPolicy     Kind = "POLICY"
	KindDenied     Kind = "DENIED"
	KindInternal   Kind = "INTERNAL"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInvalidAmount   Code = "INVALID_AMOUNT"

	// Lookup errors
	CodePatronNotFound Code = "PATRON_NOT_FOUND"
	CodeLoanNotFound   Code = "LOAN_NOT_FOUND"
	CodeFineNotFound   Code = "FINE_NOT_FOUND"
	CodeMediaNotFound  Code = "MEDIA_NOT_FOUND"

	// Borrowing denials
	CodeAccountInactive Code = "ACCOUNT_INACTIVE"
	CodeNotEligible     Code = "NOT_ELIGIBLE"

	// State conflicts
	CodeMediaUnavailable      Code = "MEDIA_UNAVAILABLE"
	CodeAlreadyReturned       Code = "ALREADY_RETURNED"
	CodeAlreadyPaid           Code = "ALREADY_PAID"
	CodeLoanNotReturned       Code = "LOAN_NOT_RETURNED"
	CodeLoanOwnershipMismatch Code = "LOAN_OWNERSHIP_MISMATCH"

	// Fine policy errors
	CodePolicyNotFound      Code = "POLICY_NOT_FOUND"
	CodeInvalidPolicyAmount Code = "INVALID_POLICY_AMOUNT"
)

// Kind returns the category of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidArgument, CodeInvalidAmount:
		return KindValidation
	case CodePatronNotFound, CodeLoanNotFound, CodeFineNotFound, CodeMediaNotFound:
		return KindNotFound
	case CodeAccountInactive, CodeNotEligible:
		return KindDenied
	case CodeMediaUnavailable, CodeAlreadyReturned, CodeAlreadyPaid, CodeLoanNotReturned, CodeLoanOwnershipMismatch:
		return KindConflict
	case CodePolicyNotFound, CodeInvalidPolicyAmount:
		return KindPolicy
	default:
		return KindInternal
	}
}

// Sentinels for errors.Is matching. Is compares codes only.
var (
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidAmount         = &Error{Code: CodeInvalidAmount, Message: "amount must be positive"}
	ErrPatronNotFound        = &Error{Code: CodePatronNotFound, Message: "patron not found"}
	ErrLoanNotFound          = &Error{Code: CodeLoanNotFound, Message: "loan not found"}
	ErrFineNotFound          = &Error{Code: CodeFineNotFound, Message: "fine not found"}
	ErrMediaNotFound         = &Error{Code: CodeMediaNotFound, Message: "media not found"}
	ErrAccountInactive       = &Error{Code: CodeAccountInactive, Message: "account is not active"}
	ErrNotEligible           = &Error{Code: CodeNotEligible, Message: "patron is not eligible to borrow"}
	ErrMediaUnavailable      = &Error{Code: CodeMediaUnavailable, Message: "media is already borrowed"}
	ErrAlreadyReturned       = &Error{Code: CodeAlreadyReturned, Message: "media already returned"}
	ErrAlreadyPaid           = &Error{Code: CodeAlreadyPaid, Message: "fine is already paid"}
	ErrLoanNotReturned       = &Error{Code: CodeLoanNotReturned, Message: "item must be returned before paying its fine"}
	ErrLoanOwnershipMismatch = &Error{Code: CodeLoanOwnershipMismatch, Message: "loan does not belong to patron"}
	ErrPolicyNotFound        = &Error{Code: CodePolicyNotFound, Message: "no fine policy for media type"}
	ErrInvalidPolicyAmount   = &Error{Code: CodeInvalidPolicyAmount, Message: "fine policy amount must be positive"}
)

// Error is a coded engine error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf extracts the kind from err.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

// Reason returns the human-readable message carried by err.
func Reason(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
