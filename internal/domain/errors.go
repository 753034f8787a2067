// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule rejection; it maps onto an HTTP status.
type Kind string

const (
	KindNotFound    Kind = "NOT_FOUND"
	KindConflict    Kind = "CONFLICT"
	KindValidation  Kind = "VALIDATION_ERROR"
	KindForbidden   Kind = "FORBIDDEN"
	KindUnavailable Kind = "UNAVAILABLE"
	KindRateLimited Kind = "RATE_LIMITED"
)

// Code identifies the exact rule that rejected an operation.
type Code string

const (
	CodeBookNotFound          Code = "BOOK_NOT_FOUND"
	CodeLoanNotFound          Code = "LOAN_NOT_FOUND"
	CodeWaitlistNotFound      Code = "WAITLIST_NOT_FOUND"
	CodeMemberNotFound        Code = "MEMBER_NOT_FOUND"
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeNotificationNotFound  Code = "NOTIFICATION_NOT_FOUND"
	CodeAlreadyBorrowed       Code = "ALREADY_BORROWED"
	CodeAlreadyInWaitlist     Code = "ALREADY_IN_WAITLIST"
	CodeAlreadyRenewed        Code = "ALREADY_RENEWED"
	CodeInvalidStatus         Code = "INVALID_STATUS"
	CodeWaitlistExists        Code = "WAITLIST_EXISTS"
	CodeMaxLoansExceeded      Code = "MAX_LOANS_EXCEEDED"
	CodeStockBelowActiveLoans Code = "STOCK_BELOW_ACTIVE_LOANS"
	CodeNoStock               Code = "NO_STOCK"
	CodeLoanOverdue           Code = "LOAN_OVERDUE"
	CodeEmailTaken            Code = "EMAIL_TAKEN"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeForbidden             Code = "FORBIDDEN"
	CodeCatalogUnavailable    Code = "CATALOG_UNAVAILABLE"
	CodeRateLimited           Code = "RATE_LIMITED"
)

// Error is a typed, synchronous rejection of a user-initiated operation.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// With attaches a detail to the error and returns it for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func NotFound(code Code, msg string) *Error    { return newError(KindNotFound, code, msg) }
func Conflict(code Code, msg string) *Error    { return newError(KindConflict, code, msg) }
func Validation(msg string) *Error             { return newError(KindValidation, CodeValidation, msg) }
func Forbidden(msg string) *Error              { return newError(KindForbidden, CodeForbidden, msg) }
func Unavailable(code Code, msg string) *Error { return newError(KindUnavailable, code, msg) }
func RateLimited(msg string) *Error            { return newError(KindRateLimited, CodeRateLimited, msg) }

// AsError extracts a domain error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of a domain error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}

// CodeOf returns the code of a domain error, or "".
func CodeOf(err error) Code {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
