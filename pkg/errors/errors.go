package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound                = errors.New("resource not found")
	ErrBadRequest              = errors.New("bad request")
	ErrConflict                = errors.New("resource conflict")
	ErrInternal                = errors.New("internal server error")
	ErrValidation              = errors.New("validation error")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrTotalMismatch           = errors.New("document totals do not reconcile")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrOverReturn              = errors.New("return exceeds allocated quantity")
	ErrStockInvariantViolation = errors.New("stock invariant violation")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrAlreadyProcessed        = errors.New("document already processed")
	ErrBusy                    = errors.New("resource busy")
	ErrCorruptState            = errors.New("corrupt stock state")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Stock ledger error constructors.
//
// These form the recoverable taxonomy of the allocation core. Every failure
// below leaves persistent state exactly as it was before the call, so the
// caller may always retry. The one exception is CorruptState, which marks a
// broken programming invariant and aborts the operation.

// InvalidQuantity signals a zero or negative quantity on a stock-mutating call.
func InvalidQuantity(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidQuantity,
		Code:       "INVALID_QUANTITY",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// TotalMismatch signals that a document's header totals do not match the sum
// of its line items within the configured rounding tolerance.
func TotalMismatch(message string) *AppError {
	return &AppError{
		Err:        ErrTotalMismatch,
		Code:       "TOTAL_MISMATCH",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// InsufficientStock signals that eligible lots were exhausted before the
// requested quantity could be fully allocated.
func InsufficientStock(message string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// OverReturn signals a return credit that would exceed the quantity
// previously debited from the referenced lots.
func OverReturn(message string) *AppError {
	return &AppError{
		Err:        ErrOverReturn,
		Code:       "OVER_RETURN",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// StockInvariantViolation signals an adjustment that would push a lot's
// remaining quantity outside [0, original_quantity].
func StockInvariantViolation(message string) *AppError {
	return &AppError{
		Err:        ErrStockInvariantViolation,
		Code:       "STOCK_INVARIANT_VIOLATION",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// InvalidState signals an illegal document state transition, such as editing
// a processed return.
func InvalidState(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidState,
		Code:       "INVALID_STATE",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// AlreadyProcessed is the idempotency guard: re-processing a completed
// document fails without touching stock.
func AlreadyProcessed(resource string) *AppError {
	return &AppError{
		Err:        ErrAlreadyProcessed,
		Code:       "ALREADY_PROCESSED",
		Message:    fmt.Sprintf("%s has already been processed", resource),
		StatusCode: http.StatusConflict,
	}
}

// Busy signals that a per-product lock could not be acquired within the
// configured wait bound.
func Busy(resource string) *AppError {
	return &AppError{
		Err:        ErrBusy,
		Code:       "BUSY",
		Message:    fmt.Sprintf("%s is busy, retry later", resource),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// CorruptState signals a programming-invariant violation found at read time,
// such as a lot with negative remaining quantity.
func CorruptState(message string) *AppError {
	return &AppError{
		Err:        ErrCorruptState,
		Code:       "CORRUPT_STATE",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
