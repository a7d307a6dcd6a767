package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeClassification = "CLASSIFICATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// Input validation and processing failures. Callers test with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidAge         = errors.New("invalid age")
	ErrInvalidCycleLength = errors.New("invalid cycle length")
	ErrInvalidDate        = errors.New("invalid last menstrual period date")
	ErrClassification     = errors.New("cell classification failed")
	ErrTooManyImages      = errors.New("too many images")
	ErrNoImages           = errors.New("no images supplied")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
	cause   error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap exposes the sentinel the validation failure belongs to, if any.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// ClassificationError reports a classifier failure on one image of a case.
type ClassificationError struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	Err      error  `json:"-"`
}

// Error implements the error interface
func (e *ClassificationError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("classifying image %d (%s): %v", e.Index, e.Filename, e.Err)
	}
	return fmt.Sprintf("classifying image %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying classifier error.
func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Is makes every ClassificationError match ErrClassification.
func (e *ClassificationError) Is(target error) bool {
	return target == ErrClassification
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewInvalidAgeError reports a negative age.
func NewInvalidAgeError(ageDays int) *ValidationError {
	return &ValidationError{Field: "age", Message: "age in days must be >= 0", Value: ageDays, cause: ErrInvalidAge}
}

// NewInvalidCycleLengthError reports a non-positive cycle length.
func NewInvalidCycleLengthError(cycleLength int) *ValidationError {
	return &ValidationError{Field: "cycle_length", Message: "cycle length must be > 0", Value: cycleLength, cause: ErrInvalidCycleLength}
}

// NewInvalidDateError reports an LMP date after the current date.
func NewInvalidDateError(lmp time.Time) *ValidationError {
	return &ValidationError{Field: "lmp_date", Message: "last menstrual period must not be in the future", Value: lmp.Format(DateLayout), cause: ErrInvalidDate}
}

// NewNoImagesError reports a case submitted without images.
func NewNoImagesError() *ValidationError {
	return &ValidationError{Field: "images", Message: "at least one image is required", Value: 0, cause: ErrNoImages}
}

// NewTooManyImagesError reports a case with more images than accepted.
func NewTooManyImagesError(count, max int) *ValidationError {
	return &ValidationError{
		Field:   "images",
		Message: fmt.Sprintf("at most %d images are accepted", max),
		Value:   count,
		cause:   ErrTooManyImages,
	}
}
