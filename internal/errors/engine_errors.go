package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the kind of failure raised by the engine
type ErrorCategory string

const (
	// Errors that should stop the driver
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryState         ErrorCategory = "STATE"

	// Errors the driver can skip or retry
	ErrorCategoryStorage    ErrorCategory = "STORAGE"
	ErrorCategoryJournal    ErrorCategory = "JOURNAL"
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryTemporary  ErrorCategory = "TEMPORARY"
)

// EngineError represents a categorized error with context
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the driver
func (e *EngineError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal ||
		e.Category == ErrorCategoryConfiguration ||
		e.Category == ErrorCategoryState
}

// NewEngineError creates a new categorized error
func NewEngineError(category ErrorCategory, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with engine error context
func WrapError(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryStorage, ErrorCategoryJournal, ErrorCategoryTemporary:
		return true
	default:
		return false
	}
}

// CategoryOf returns the category of err, or "" when err is not an EngineError
func CategoryOf(err error) ErrorCategory {
	var engErr *EngineError
	if stderrors.As(err, &engErr) {
		return engErr.Category
	}
	return ""
}

// Common error constructors
func NewStorageError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryStorage, component, operation)
}

func NewJournalError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryJournal, component, operation)
}

func NewStateError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryState, component, operation)
}

func NewValidationError(component, operation, message string) *EngineError {
	return NewEngineError(ErrorCategoryValidation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *EngineError {
	return NewEngineError(ErrorCategoryConfiguration, component, operation, message)
}

// RecoveryAction is what the driver should do after an error
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *EngineError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryConfiguration, ErrorCategoryState:
		return RecoveryActionStop
	case ErrorCategoryValidation:
		return RecoveryActionSkip
	default:
		if e.Retryable {
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	}
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*EngineError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*EngineError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *EngineError) {
	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}
