package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeSchema represents taxonomy definition errors (fatal at startup)
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeValidation represents batch-shape or property validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage represents graph store transport/transaction errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeExtraction represents LLM extraction errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeEmbedding represents embedding service errors
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeVerification represents verification workflow errors
	ErrorTypeVerification ErrorType = "verification"
	// ErrorTypeNotFound represents lookup misses for nodes or requests
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrType reports the error category; promoted into every typed wrapper
// so IsErrorType works on wrappers without reflection.
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Schema Errors

// SchemaError is returned when a taxonomy definition file is malformed
// or references a missing parent type
type SchemaError struct {
	*BaseError
	File     string
	TypeName string
}

func NewSchemaError(file, typeName, message string, err error) *SchemaError {
	return &SchemaError{
		BaseError: NewBaseError(ErrorTypeSchema, message, err),
		File:      file,
		TypeName:  typeName,
	}
}

// Validation Errors

// ValidationError is returned for malformed batch shapes, missing required
// properties, enum violations, and self-merge attempts
type ValidationError struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Storage Errors

// StorageError is returned when a graph store operation fails.
// Commit indicates a transaction-commit failure, which aborts the whole
// batch rather than being collected per item.
type StorageError struct {
	*BaseError
	Operation string
	Commit    bool
}

func NewStorageError(operation string, err error) *StorageError {
	return &StorageError{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

func NewCommitError(err error) *StorageError {
	return &StorageError{
		BaseError: NewBaseError(ErrorTypeStorage, "transaction commit failed", err),
		Operation: "commit",
		Commit:    true,
	}
}

// NotFound Errors

// NotFoundError is returned when a node, request, or type lookup misses
type NotFoundError struct {
	*BaseError
	Kind string
	ID   string
}

func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", kind, id), nil),
		Kind:      kind,
		ID:        id,
	}
}

// Extraction Errors

// ExtractionError is returned when the LLM extraction call fails or
// returns output that cannot be parsed
type ExtractionError struct {
	*BaseError
	Model string
}

func NewExtractionFailed(model string, err error) *ExtractionError {
	return &ExtractionError{
		BaseError: NewBaseError(ErrorTypeExtraction, fmt.Sprintf("extraction failed (model: %s)", model), err),
		Model:     model,
	}
}

// Embedding Errors

// EmbeddingError is returned when embedding generation fails.
// Callers treat it as non-fatal: matching simply skips the vector step.
type EmbeddingError struct {
	*BaseError
	Model string
}

func NewEmbeddingFailed(model string, err error) *EmbeddingError {
	return &EmbeddingError{
		BaseError: NewBaseError(ErrorTypeEmbedding, fmt.Sprintf("embedding failed (model: %s)", model), err),
		Model:     model,
	}
}

// Verification Errors

// VerificationError is returned when a verification action cannot be applied
type VerificationError struct {
	*BaseError
	RequestID string
	Action    string
}

func NewVerificationFailed(requestID, action string, err error) *VerificationError {
	return &VerificationError{
		BaseError: NewBaseError(ErrorTypeVerification, fmt.Sprintf("verification action failed: %s", action), err),
		RequestID: requestID,
		Action:    action,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled mid-operation
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if typed, ok := err.(interface{ ErrType() ErrorType }); ok {
		return typed.ErrType() == errType
	}
	// Check wrapped errors
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if inner := wrapped.Unwrap(); inner != nil {
			return IsErrorType(inner, errType)
		}
	}
	return false
}

// IsCommitError reports whether err is a transaction-commit failure,
// which callers must treat as a whole-batch abort rather than a soft
// per-item error
func IsCommitError(err error) bool {
	for err != nil {
		if se, ok := err.(*StorageError); ok {
			return se.Commit
		}
		wrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapped.Unwrap()
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// Validation and schema errors never resolve themselves
	if IsErrorType(err, ErrorTypeValidation) || IsErrorType(err, ErrorTypeSchema) {
		return false
	}
	// Transport-level storage and LLM errors may be transient
	if IsErrorType(err, ErrorTypeStorage) {
		return !IsCommitError(err)
	}
	if IsErrorType(err, ErrorTypeExtraction) || IsErrorType(err, ErrorTypeEmbedding) {
		return true
	}
	return false
}
