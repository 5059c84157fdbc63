package errors

import (
	"errors"
	"fmt"
)

// Kind classifies the failures the sync run can encounter
type Kind string

const (
	// KindIO represents local filesystem errors (unreadable file, disk full)
	KindIO Kind = "IO_ERROR"
	// KindStorage represents remote storage errors (network, auth, rate limit)
	KindStorage Kind = "STORAGE_ERROR"
	// KindVerification represents a post-upload fingerprint disagreement
	KindVerification Kind = "VERIFICATION_ERROR"
	// KindConfiguration represents invalid or missing configuration; always fatal
	KindConfiguration Kind = "CONFIGURATION_ERROR"
)

// SyncError is an error with a kind, a message and optional context fields
type SyncError struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context field to the error and returns it
func (e *SyncError) WithContext(key string, value interface{}) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewSyncError creates a new SyncError of the given kind
func NewSyncError(kind Kind, message string, cause error) *SyncError {
	return &SyncError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewIOError creates a local filesystem error
func NewIOError(message string, cause error) *SyncError {
	return NewSyncError(KindIO, message, cause)
}

// NewStorageError creates a remote storage error
func NewStorageError(message string, cause error) *SyncError {
	return NewSyncError(KindStorage, message, cause)
}

// NewVerificationError creates a post-upload verification error
func NewVerificationError(message string, cause error) *SyncError {
	return NewSyncError(KindVerification, message, cause)
}

// NewConfigurationError creates a fatal configuration error
func NewConfigurationError(message string, cause error) *SyncError {
	return NewSyncError(KindConfiguration, message, cause)
}

// IsKind reports whether err or any error in its chain is a SyncError of the given kind
func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
// Configuration errors abort the run before any mutation.
func IsConfiguration(err error) bool {
	return IsKind(err, KindConfiguration)
}

// GetKind returns the kind of err, or an empty Kind for untyped errors
func GetKind(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}
