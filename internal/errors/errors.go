// Package errors provides centralized error handling with category metadata
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "validation"
	CategoryFileIO       ErrorCategory = "file-io"
	CategoryNetwork      ErrorCategory = "network"
	CategoryDatabase     ErrorCategory = "database"
	CategoryConflict     ErrorCategory = "conflict"
	CategoryNotFound     ErrorCategory = "not-found"
	CategoryImage        ErrorCategory = "image-processing"
	CategoryDetection    ErrorCategory = "object-detection"
	CategoryRecognition  ErrorCategory = "face-recognition"
	CategoryLockControl  ErrorCategory = "lock-control"
	CategoryNotification ErrorCategory = "notification"
	CategoryMQTT         ErrorCategory = "mqtt-connection"
	CategoryConfig       ErrorCategory = "configuration"
	CategoryWorker       ErrorCategory = "worker-pool"
	CategoryTimeout      ErrorCategory = "timeout"
	CategoryCancellation ErrorCategory = "cancellation"
	CategoryGeneric      ErrorCategory = "generic"
)

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap returns the original error for errors.Is/As compatibility
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// GetCategory returns the error category as a string
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a context value by key
func (ee *EnhancedError) GetContext(key string) (any, bool) {
	v, ok := ee.Context[key]
	return v, ok
}

// ErrorBuilder provides a fluent interface for building enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping an existing error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf creates a new error builder from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component where the error occurred
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category sets the error category
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

// Context adds a key-value pair to the error context
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build creates the final EnhancedError
func (b *ErrorBuilder) Build() *EnhancedError {
	var ctx map[string]any
	if b.context != nil {
		ctx = make(map[string]any, len(b.context))
		maps.Copy(ctx, b.context)
	}
	return &EnhancedError{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   ctx,
		Timestamp: time.Now(),
	}
}

// HasCategory reports whether err (or anything it wraps) carries the given category.
func HasCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// Standard library passthroughs so callers only import this package.

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error wrapping the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
