// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes grouped by the failure taxonomy of the calculation engine.
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule       = "BUSINESS_RULE_VIOLATION"
	CodeInvalidCoupon      = "INVALID_COUPON"
	CodeMinimumOrder       = "MINIMUM_ORDER_NOT_MET"
	CodeCustomerMismatch   = "CUSTOMER_MISMATCH"
	CodeCouponAlreadyUsed  = "COUPON_ALREADY_USED"
	CodeUsageLimit         = "USAGE_LIMIT_EXCEEDED"
	CodeInsufficientPoints = "INSUFFICIENT_POINTS"
	CodeAlreadyFinalized   = "ALREADY_FINALIZED"

	// Concurrency conflicts (409)
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, amounts, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInvalidCoupon is returned when a coupon code is unknown, inactive
// or outside its validity window.
func NewInvalidCoupon(code string) *AppError {
	return &AppError{
		Code:       CodeInvalidCoupon,
		Message:    "Coupon is invalid or expired",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"coupon_code": code},
	}
}

// NewMinimumOrderNotMet is returned when the order subtotal is below
// the coupon's minimum qualifying amount.
func NewMinimumOrderNotMet(code, minimum, subtotal string) *AppError {
	return &AppError{
		Code:       CodeMinimumOrder,
		Message:    "Order subtotal is below the coupon minimum",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"coupon_code": code,
			"minimum":     minimum,
			"subtotal":    subtotal,
		},
	}
}

// NewCustomerMismatch is returned when a coupon is bound to a different customer.
func NewCustomerMismatch(code string) *AppError {
	return &AppError{
		Code:       CodeCustomerMismatch,
		Message:    "Coupon is bound to another customer",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"coupon_code": code},
	}
}

// NewCouponAlreadyUsed is returned when a single-use coupon already has
// a usage record for the redeeming customer.
func NewCouponAlreadyUsed(code, customerID string) *AppError {
	return &AppError{
		Code:       CodeCouponAlreadyUsed,
		Message:    "Coupon was already used by this customer",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"coupon_code": code, "customer_id": customerID},
	}
}

// NewUsageLimitExceeded is returned when a multi-use coupon has exhausted
// its configured maximum number of redemptions.
func NewUsageLimitExceeded(code string, maxUses int) *AppError {
	return &AppError{
		Code:       CodeUsageLimit,
		Message:    "Coupon usage limit exceeded",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"coupon_code": code, "max_uses": maxUses},
	}
}

// NewInsufficientPoints is returned when a redemption request exceeds
// the customer's loyalty balance.
func NewInsufficientPoints(requested, available int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientPoints,
		Message:    "Insufficient loyalty points",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"requested": requested,
			"available": available,
		},
	}
}

// NewAlreadyFinalized is returned when finalize is re-invoked for a
// transaction reference that already has a finalized calculation.
func NewAlreadyFinalized(transactionRef string) *AppError {
	return &AppError{
		Code:       CodeAlreadyFinalized,
		Message:    "Transaction is already finalized",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"transaction_ref": transactionRef},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another operation. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsCode checks if error is an AppError with the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return IsCode(err, CodeConcurrentModification)
}

// IsDuplicate checks if error is CodeDuplicate
func IsDuplicate(err error) bool {
	return IsCode(err, CodeDuplicate)
}
