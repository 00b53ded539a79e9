// Package errors defines the typed error vocabulary shared across the vMCP
// gateway. Every error that crosses a component boundary (session runner,
// client manager, sandbox lifecycle, composer) is wrapped into an *Error so
// callers can branch on Type without parsing messages.
package errors

import "fmt"

// Error kinds. Each corresponds to a distinct recovery strategy upstream:
// ErrAuthenticationRequired triggers the OAuth PKCE flow, ErrInvalidSessionID
// is retried once after a back-off, the rest are terminal.
const (
	ErrInvalidArgument       = "invalid_argument"
	ErrConnectionTimeout     = "connection_timeout"
	ErrInvalidSessionID      = "invalid_session_id"
	ErrHTTPError             = "http_error"
	ErrAuthenticationRequired = "authentication_required"
	ErrOperationCancelled    = "operation_cancelled"
	ErrOperationTimedOut     = "operation_timed_out"
	ErrUpstreamFailure       = "upstream_failure"
	ErrSandboxFailure        = "sandbox_failure"
	ErrSecurityError         = "security_error"
	ErrPolicyCompileError    = "policy_compile_error"
	ErrConfigError           = "config_error"
	ErrTransport             = "transport_error"
	ErrInternal              = "internal"
)

// Error is the gateway's single structured error type. Type is a stable
// machine-readable tag (see the Err* constants); Message is a human-readable
// detail; Cause, when set, is chained via Unwrap so errors.Is/As still work
// against the wrapped error. AuthURL is set only on an ErrAuthenticationRequired
// produced once an OAuth flow has actually been started for the backend in
// question; callers surface it to the downstream caller verbatim.
type Error struct {
	Type    string
	Message string
	Cause   error
	AuthURL string
}

func (e *Error) Error() string {
	msg := e.Message
	if e.AuthURL != "" {
		msg = fmt.Sprintf("%s (auth_url=%s)", msg, e.AuthURL)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error of the given kind. Prefer the typed constructors
// below; this is for kinds that don't warrant their own helper.
func NewError(errType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

func NewConnectionTimeoutError(message string, cause error) *Error {
	return NewError(ErrConnectionTimeout, message, cause)
}

func NewInvalidSessionIDError(message string, cause error) *Error {
	return NewError(ErrInvalidSessionID, message, cause)
}

func NewHTTPError(message string, cause error) *Error {
	return NewError(ErrHTTPError, message, cause)
}

func NewAuthenticationRequiredError(message string, cause error) *Error {
	return NewError(ErrAuthenticationRequired, message, cause)
}

// NewAuthenticationRequiredErrorWithURL is NewAuthenticationRequiredError
// with an authorization URL the caller should be pointed at, produced once
// an OAuth flow has actually been started for the failing backend.
func NewAuthenticationRequiredErrorWithURL(message, authURL string, cause error) *Error {
	return &Error{Type: ErrAuthenticationRequired, Message: message, Cause: cause, AuthURL: authURL}
}

func NewOperationCancelledError(message string, cause error) *Error {
	return NewError(ErrOperationCancelled, message, cause)
}

func NewOperationTimedOutError(message string, cause error) *Error {
	return NewError(ErrOperationTimedOut, message, cause)
}

func NewUpstreamFailureError(message string, cause error) *Error {
	return NewError(ErrUpstreamFailure, message, cause)
}

func NewSandboxFailureError(message string, cause error) *Error {
	return NewError(ErrSandboxFailure, message, cause)
}

func NewSecurityError(message string, cause error) *Error {
	return NewError(ErrSecurityError, message, cause)
}

func NewPolicyCompileError(message string, cause error) *Error {
	return NewError(ErrPolicyCompileError, message, cause)
}

func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfigError, message, cause)
}

func NewTransportError(message string, cause error) *Error {
	return NewError(ErrTransport, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// Is reports whether err is an *Error of the given kind. It walks the
// standard Unwrap chain so a wrapped *Error several layers deep still
// matches.
func Is(err error, errType string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Type == errType {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
