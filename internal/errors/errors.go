// Package errors provides the structured error type used at symdex's user
// surfaces. Internal code paths wrap with fmt.Errorf("%w"); CLI and engine
// boundaries attach a code so failures stay actionable.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups errors by subsystem.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryStorage Category = "storage"
	CategoryIndex   Category = "index"
	CategoryEmbed   Category = "embed"
	CategoryInput   Category = "input"
)

// Error codes. The numeric band encodes the category.
const (
	CodeConfigInvalid   = "ERR_100_CONFIG_INVALID"
	CodeStorageIO       = "ERR_200_STORAGE_IO"
	CodeStorageCorrupt  = "ERR_201_STORAGE_CORRUPT"
	CodeStorageLocked   = "ERR_202_STORAGE_LOCKED"
	CodeIndexFailed     = "ERR_300_INDEX_FAILED"
	CodeElementNotFound = "ERR_301_ELEMENT_NOT_FOUND"
	CodeEmbedFailed     = "ERR_400_EMBED_FAILED"
	CodeInvalidInput    = "ERR_500_INVALID_INPUT"
)

// Error is the coded error type for symdex.
type Error struct {
	// Code is the unique error code (e.g. "ERR_200_STORAGE_IO").
	Code string

	// Message is the human-readable message.
	Message string

	// Category is the owning subsystem.
	Category Category

	// Cause is the wrapped underlying error.
	Cause error

	// Retryable indicates whether the operation may succeed on retry.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New creates a coded error. Category and retryability derive from the code.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Cause:     cause,
		Retryable: code == CodeStorageIO || code == CodeEmbedFailed,
	}
}

// Wrap creates a coded error from an existing one, keeping its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CodeOf extracts the code from a coded error anywhere in err's chain,
// or "".
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err's chain contains a retryable coded
// error.
func IsRetryable(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Retryable
}

func categoryFromCode(code string) Category {
	switch {
	case len(code) > 5 && code[4] == '1':
		return CategoryConfig
	case len(code) > 5 && code[4] == '2':
		return CategoryStorage
	case len(code) > 5 && code[4] == '3':
		return CategoryIndex
	case len(code) > 5 && code[4] == '4':
		return CategoryEmbed
	default:
		return CategoryInput
	}
}
