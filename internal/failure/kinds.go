// Package failure holds the closed taxonomy of analysis failures, the raw
// failure types adapters return, and the single classifier that maps one onto
// the other. Nothing downstream of Classify inspects raw error types.
package failure

// ErrorKind is one classified failure category. The set of implementations is
// closed: only the twelve types in this file satisfy it.
type ErrorKind interface {
	// Name is a stable identifier used in logs, the job ledger and traces.
	Name() string
	isErrorKind()
}

type NetworkError struct{}

type ServerError struct {
	StatusCode int
}

type ExternalStoreUnavailable struct{}

type AuthError struct{}

// RateLimitError carries the server-suggested wait in seconds, nil when the
// response had no usable Retry-After header.
type RateLimitError struct {
	RetryAfter *int
}

type ParseError struct{}

type ValidationError struct {
	Field  string
	Reason string
}

type PermissionDenied struct {
	Permissions []string
}

type CameraPermissionDenied struct{}

type CredentialMissing struct{}

type StorageFull struct{}

type UnknownError struct{}

func (NetworkError) Name() string             { return "network_error" }
func (ServerError) Name() string              { return "server_error" }
func (ExternalStoreUnavailable) Name() string { return "external_store_unavailable" }
func (AuthError) Name() string                { return "auth_error" }
func (RateLimitError) Name() string           { return "rate_limit_error" }
func (ParseError) Name() string               { return "parse_error" }
func (ValidationError) Name() string          { return "validation_error" }
func (PermissionDenied) Name() string         { return "permission_denied" }
func (CameraPermissionDenied) Name() string   { return "camera_permission_denied" }
func (CredentialMissing) Name() string        { return "credential_missing" }
func (StorageFull) Name() string              { return "storage_full" }
func (UnknownError) Name() string             { return "unknown_error" }

func (NetworkError) isErrorKind()             {}
func (ServerError) isErrorKind()              {}
func (ExternalStoreUnavailable) isErrorKind() {}
func (AuthError) isErrorKind()                {}
func (RateLimitError) isErrorKind()           {}
func (ParseError) isErrorKind()               {}
func (ValidationError) isErrorKind()          {}
func (PermissionDenied) isErrorKind()         {}
func (CameraPermissionDenied) isErrorKind()   {}
func (CredentialMissing) isErrorKind()        {}
func (StorageFull) isErrorKind()              {}
func (UnknownError) isErrorKind()             {}

// IsRetryable reports whether a failure of this kind is expected to heal on
// its own. Everything else needs user action or is permanent.
func IsRetryable(kind ErrorKind) bool {
	switch kind.(type) {
	case NetworkError, ServerError, ExternalStoreUnavailable:
		return true
	default:
		return false
	}
}
