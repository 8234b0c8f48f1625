package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a boatscanner error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"      // 401
	ErrInvalidSignature ErrorCode = "INVALID_SIGNATURE" // 401
	ErrNoCredits        ErrorCode = "NO_CREDITS"        // 402
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrAlreadyReviewed  ErrorCode = "ALREADY_REVIEWED"  // 409
	ErrConflict         ErrorCode = "CONFLICT"          // 409
	ErrImageTooLarge    ErrorCode = "IMAGE_TOO_LARGE"   // 413
	ErrInternal         ErrorCode = "INTERNAL"          // 500
	ErrUpstreamFailure  ErrorCode = "UPSTREAM_FAILURE"  // 502
)

// ScanError represents a structured error with code, status, and details.
type ScanError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ScanError {
	return &ScanError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for a missing or rejected session.
func NewUnauthorized(msg string) *ScanError {
	if msg == "" {
		msg = "you must be signed in"
	}
	return &ScanError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewInvalidSignature creates a 401 error for a webhook whose HMAC does not match.
func NewInvalidSignature() *ScanError {
	return &ScanError{
		Code:    ErrInvalidSignature,
		Status:  401,
		Message: "invalid signature",
	}
}

// NewNoCredits creates a 402 error when a search is blocked by an empty balance.
func NewNoCredits() *ScanError {
	return &ScanError{
		Code:    ErrNoCredits,
		Status:  402,
		Message: "no credits remaining; purchase more credits to continue searching",
	}
}

// NewNotFound creates a 404 error for a missing resource.
func NewNotFound(kind, identifier string) *ScanError {
	return &ScanError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewAlreadyReviewed creates a 409 error for a user's second review.
func NewAlreadyReviewed(bonusAwarded bool) *ScanError {
	return &ScanError{
		Code:    ErrAlreadyReviewed,
		Status:  409,
		Message: "you have already submitted a review",
		Details: map[string]any{"bonus_already_awarded": bonusAwarded},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *ScanError {
	return &ScanError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewImageTooLarge creates a 413 error when an upload exceeds the size limit.
func NewImageTooLarge(max int64) *ScanError {
	return &ScanError{
		Code:    ErrImageTooLarge,
		Status:  413,
		Message: fmt.Sprintf("image exceeds maximum size of %d bytes", max),
		Details: map[string]any{"max_bytes": max},
	}
}

// NewImageDimensionsTooLarge creates a 413 error when an upload's pixel count exceeds the limit.
func NewImageDimensionsTooLarge(width, height, maxPixels int) *ScanError {
	return &ScanError{
		Code:    ErrImageTooLarge,
		Status:  413,
		Message: fmt.Sprintf("image is %dx%d; at most %d pixels are accepted", width, height, maxPixels),
		Details: map[string]any{"width": width, "height": height, "max_pixels": maxPixels},
	}
}

// NewUpstreamFailure creates a 502 error when the matching webhook cannot be reached.
func NewUpstreamFailure(reason string) *ScanError {
	return &ScanError{
		Code:    ErrUpstreamFailure,
		Status:  502,
		Message: "unable to process your image; please try again",
		Details: map[string]any{"reason": reason},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ScanError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ScanError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a ScanError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *ScanError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
