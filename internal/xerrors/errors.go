// Package xerrors defines the engine's unified error taxonomy.
//
// Codes mirror the discriminated exchange-facade result kind
// (spec.md §6: RateLimit, Authentication, InvalidOrder, OrderNotFound, OrderCompleted,
// InsufficientFunds, Parsing, Network, Unknown) plus an internal InvariantViolation
// reserved for logic bugs that must never be silently swallowed.
package xerrors

import (
	"fmt"
	"net/http"
)

// Code identifies the category of an engine error.
type Code string

const (
	CodeOK      Code = "OK"
	CodeUnknown Code = "UNKNOWN"

	// Exchange result kinds (spec.md §6).
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeAuthentication     Code = "AUTHENTICATION"
	CodeInvalidOrder       Code = "INVALID_ORDER"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
	CodeOrderCompleted     Code = "ORDER_COMPLETED"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeParsing            Code = "PARSING"
	CodeNetwork            Code = "NETWORK"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Reservation/ledger specific.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeUnknownAccount      Code = "UNKNOWN_ACCOUNT"
	CodeInvalidParam        Code = "INVALID_PARAM"

	// Cancellation.
	CodeOperationCanceled Code = "OPERATION_CANCELED"
)

// Error is the engine's structured error type.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New creates an Error with the retryability implied by code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: isRetryable(code)}
}

// Newf creates a formatted Error.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// HTTPStatus maps the code onto an HTTP status, used by the control surface.
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

func isRetryable(code Code) bool {
	switch code {
	case CodeRateLimit, CodeNetwork:
		return true
	default:
		return false
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidOrder, CodeInvalidParam, CodeParsing:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeOrderNotFound, CodeUnknownAccount:
		return http.StatusNotFound
	case CodeOrderCompleted:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeInsufficientFunds, CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case CodeInvariantViolation:
		return http.StatusInternalServerError
	case CodeNetwork:
		return http.StatusBadGateway
	case CodeOperationCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Predefined sentinel errors used across the core for common checks.
var (
	ErrOperationCanceled    = New(CodeOperationCanceled, "operation canceled")
	ErrOrderNotFound        = New(CodeOrderNotFound, "order not found")
	ErrInsufficientBalance  = New(CodeInsufficientBalance, "insufficient balance")
	ErrInvariantViolation   = New(CodeInvariantViolation, "invariant violation")
	ErrDuplicateClientOrder = New(CodeInvalidParam, "duplicate client order id")
)
