// Package embederrors provides sentinel and custom error types for the application.
package embederrors

// ErrValidation represents a validation error.
// Use when client input (the uploaded image) fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrTooLarge is the sentinel for inputs that decode fine but exceed a configured size limit
// (e.g. image width, height, or pixel count).
var ErrTooLarge = &TooLargeError{}

// TooLargeError is a sentinel error for inputs over a configured limit.
type TooLargeError struct {
	Message string
}

// NewTooLargeError creates a TooLargeError with a custom message.
func NewTooLargeError(message string) *TooLargeError {
	return &TooLargeError{Message: message}
}

// Error implements the error interface.
func (e *TooLargeError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "input too large"
}

// Is implements the error interface for error comparison.
func (e *TooLargeError) Is(target error) bool {
	_, ok := target.(*TooLargeError)

	return ok
}

// ErrUnavailable is the sentinel for requests that could not be served in time
// (inference slot not acquired before the deadline, or inference timed out).
var ErrUnavailable = &UnavailableError{}

// UnavailableError is a sentinel error for temporarily unavailable inference.
type UnavailableError struct {
	Message string
	Err     error
}

// NewUnavailableError creates an UnavailableError wrapping the underlying cause.
func NewUnavailableError(message string, err error) *UnavailableError {
	return &UnavailableError{Message: message, Err: err}
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "service unavailable"
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *UnavailableError) Is(target error) bool {
	_, ok := target.(*UnavailableError)

	return ok
}
