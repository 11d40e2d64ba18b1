package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error taxonomy. Per-document errors are converted into a failed result at
// the document boundary; only ErrConfig aborts a run.
var (
	ErrUnreadableDocument = errors.New("unreadable document")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrEmptyDocument      = errors.New("document has no extractable text")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrParseFailed        = errors.New("response is not parseable json")
	ErrSchemaInvalid      = errors.New("response does not match schema")
	ErrAttemptsExhausted  = errors.New("attempts exhausted")
	ErrConfig             = errors.New("invalid configuration")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Unreadable marks err as a loader-level failure for path.
func Unreadable(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreadableDocument) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnreadableDocument, path, err)
}

// BackendUnavailable marks err as a transport/auth failure of the extraction backend.
func BackendUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
