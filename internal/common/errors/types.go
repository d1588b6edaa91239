package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers should react to it.
type Kind string

const (
	// KindStoreUnavailable means the credential store could not be reached;
	// callers degrade to the local fallback where one exists.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindConfiguration means required settings (client credentials, endpoints)
	// are missing; fatal to the specific operation.
	KindConfiguration Kind = "configuration"
	// KindProviderRejected means the provider declared the refresh token
	// invalid; the cycle is unrecoverable without a new user authorization.
	KindProviderRejected Kind = "provider_rejected"
	// KindProviderTransient means the provider returned a retryable failure;
	// token state is left untouched.
	KindProviderTransient Kind = "provider_transient"
	// KindNotFound represents a missing resource.
	KindNotFound Kind = "not_found"
	// KindValidation represents invalid input.
	KindValidation Kind = "validation"
	// KindAuth represents an authentication failure on our own API surface.
	KindAuth Kind = "authentication"
	// KindConnection represents a network-level failure.
	KindConnection Kind = "connection"
	// KindInternal represents an unexpected internal failure.
	KindInternal Kind = "internal"
)

// AppError is a structured application error carrying a kind, an optional
// cause and free-form context.
type AppError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	parts := []string{string(e.Kind), e.Message}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		kv := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			kv = append(kv, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(kv, ", ")))
	}
	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key-value pair to the error and returns it.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// StoreUnavailable creates a store connectivity error.
func StoreUnavailable(msg string, cause error) *AppError {
	return &AppError{Kind: KindStoreUnavailable, Message: msg, Cause: cause}
}

// Configuration creates a missing-configuration error.
func Configuration(msg string) *AppError {
	return &AppError{Kind: KindConfiguration, Message: msg}
}

// ProviderRejected creates an unrecoverable provider rejection error.
func ProviderRejected(msg string, cause error) *AppError {
	return &AppError{Kind: KindProviderRejected, Message: msg, Cause: cause}
}

// ProviderTransient creates a retryable provider error.
func ProviderTransient(msg string, cause error) *AppError {
	return &AppError{Kind: KindProviderTransient, Message: msg, Cause: cause}
}

// NotFound creates a resource-not-found error.
func NotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// Validation creates an invalid-input error.
func Validation(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg}
}

// Auth creates an authentication error.
func Auth(msg string) *AppError {
	return &AppError{Kind: KindAuth, Message: msg}
}

// Connection creates a network-level error.
func Connection(msg string, cause error) *AppError {
	return &AppError{Kind: KindConnection, Message: msg, Cause: cause}
}

// Internal creates an unexpected internal error.
func Internal(msg string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Cause: cause}
}

// IsKind reports whether err (or anything it wraps) is an AppError of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return KindInternal
	}
	return appErr.Kind
}
