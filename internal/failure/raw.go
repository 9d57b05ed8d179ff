// internal/failure/raw.go
package failure

import (
	"fmt"
	"strings"
)

// StatusError is an HTTP-like status returned by a remote service.
type StatusError struct {
	Code int
	// RetryAfter is the raw Retry-After header value, if any.
	RetryAfter string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// ParseFailure is a structured payload that was malformed or violated its schema.
type ParseFailure struct {
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to parse response: %s", e.Reason)
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// StoreAccessDenied is the health-record store refusing access.
type StoreAccessDenied struct {
	Permissions []string
	Err         error
}

func (e *StoreAccessDenied) Error() string {
	return fmt.Sprintf("health store access denied (%s): %v", strings.Join(e.Permissions, ","), e.Err)
}

func (e *StoreAccessDenied) Unwrap() error { return e.Err }

// StoreUnavailable is a transient health-record store outage.
type StoreUnavailable struct {
	Err error
}

func (e *StoreUnavailable) Error() string { return fmt.Sprintf("health store unavailable: %v", e.Err) }

func (e *StoreUnavailable) Unwrap() error { return e.Err }

type StorageFullError struct {
	Err error
}

func (e *StorageFullError) Error() string { return fmt.Sprintf("storage full: %v", e.Err) }

func (e *StorageFullError) Unwrap() error { return e.Err }

// CredentialMissingError is returned before any network call when no usable
// credential is configured.
type CredentialMissingError struct {
	Credential string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("credential %q is not configured", e.Credential)
}

// CameraAccessError is the photo source refusing to hand over a capture.
type CameraAccessError struct {
	Err error
}

func (e *CameraAccessError) Error() string { return fmt.Sprintf("photo access denied: %v", e.Err) }

func (e *CameraAccessError) Unwrap() error { return e.Err }
