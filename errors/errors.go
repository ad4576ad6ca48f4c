// Package errors defines the error taxonomy shared by the granary
// store and its expression languages. Every typed error implements Is
// against a sentinel, so callers can branch with errors.Is without
// caring which operation produced the failure.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is the sentinel for malformed or unsupported
	// expressions. Anything the expression languages do not
	// explicitly accept fails with this; unparsed input never
	// evaluates.
	ErrParse = errors.New("expression parse failed")

	// ErrConditionalCheckFailed is the sentinel for a write whose
	// condition expression evaluated false.
	ErrConditionalCheckFailed = errors.New("conditional check failed")

	// ErrTransactionCanceled is the sentinel for a transaction
	// aborted during validation.
	ErrTransactionCanceled = errors.New("transaction canceled")

	// ErrValidation is the sentinel for malformed requests, key
	// schema violations, unknown item kinds and business-rule
	// rejections.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by reads of absent keys.
	ErrNotFound = errors.New("item not found")
)

// ParseError reports where and why an expression was rejected. Offset
// is a byte offset into Expression.
type ParseError struct {
	Expression string
	Offset     int
	Message    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s (offset %d)", e.Expression, e.Message, e.Offset)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ConditionalCheckFailedError identifies the write whose condition
// evaluated false.
type ConditionalCheckFailedError struct {
	Key       string
	Condition string
}

func (e *ConditionalCheckFailedError) Error() string {
	return fmt.Sprintf("conditional check failed for key %s: %s", e.Key, e.Condition)
}

func (e *ConditionalCheckFailedError) Is(target error) bool {
	return target == ErrConditionalCheckFailed
}

// TransactionCanceledError names the first transaction operation that
// failed validation. No effect of the transaction was applied.
type TransactionCanceledError struct {
	Index  int
	Reason error
}

func (e *TransactionCanceledError) Error() string {
	return fmt.Sprintf("transaction canceled: operation %d: %v", e.Index, e.Reason)
}

func (e *TransactionCanceledError) Is(target error) bool {
	return target == ErrTransactionCanceled
}

func (e *TransactionCanceledError) Unwrap() error {
	return e.Reason
}

// ValidationError describes a rejected request or item.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports the missing key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewParseError builds a ParseError.
func NewParseError(expression string, offset int, format string, args ...any) error {
	return &ParseError{Expression: expression, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError builds a field-less ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NewFieldValidationError builds a ValidationError naming a field.
func NewFieldValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewConditionalCheckFailedError builds a ConditionalCheckFailedError.
func NewConditionalCheckFailedError(key, condition string) error {
	return &ConditionalCheckFailedError{Key: key, Condition: condition}
}

// NewTransactionCanceledError wraps the validation failure of the
// operation at index.
func NewTransactionCanceledError(index int, reason error) error {
	return &TransactionCanceledError{Index: index, Reason: reason}
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(key string) error {
	return &NotFoundError{Key: key}
}

// IsParse reports whether err is a parse failure.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsConditionalCheckFailed reports whether err is a failed condition.
func IsConditionalCheckFailed(err error) bool {
	return errors.Is(err, ErrConditionalCheckFailed)
}

// IsTransactionCanceled reports whether err is a canceled transaction.
func IsTransactionCanceled(err error) bool {
	return errors.Is(err, ErrTransactionCanceled)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err is a missing-item read.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
