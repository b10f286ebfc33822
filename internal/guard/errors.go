package guard

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a guard failure so the transport layer can map it to a
// status code without inspecting messages.
type Kind int

// Failure kinds.
const (
	KindAuthentication Kind = iota + 1 // identity could not be established (401)
	KindAuthorization                  // identity established, access refused (403)
	KindInfrastructure                 // store or cache failure (500)
)

// HTTPStatus returns the status code for a failure kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified guard failure. The message is safe to return to
// clients; the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client-facing denial messages.
const (
	MsgSessionExpired     = "Session expired. Please login again."
	MsgUnauthorizedDevice = "Unauthorized device access."
	MsgTwoFactorRequired  = "Two factor authentication is required to access this feature"
	MsgInvalidAuthCode    = "Invalid authentication code."
	MsgNoRolePermissions  = "Access Denied: No valid role or permissions found"
)

// ErrSessionExpired builds the standard authentication denial for missing,
// invalid, expired or revoked tokens.
func ErrSessionExpired() *Error {
	return &Error{Kind: KindAuthentication, Message: MsgSessionExpired}
}

// ErrUnauthorizedDevice builds the denial for requests from an unregistered
// device.
func ErrUnauthorizedDevice() *Error {
	return &Error{Kind: KindAuthentication, Message: MsgUnauthorizedDevice}
}

// ErrTwoFactorRequired builds the denial for a missing authentication code.
func ErrTwoFactorRequired() *Error {
	return &Error{Kind: KindAuthentication, Message: MsgTwoFactorRequired}
}

// ErrInvalidAuthCode builds the denial for a rejected authentication code.
func ErrInvalidAuthCode() *Error {
	return &Error{Kind: KindAuthentication, Message: MsgInvalidAuthCode}
}

// ErrMissingPermissions builds the authorization denial naming every
// permission that would have satisfied the check.
func ErrMissingPermissions(acceptable []string) *Error {
	return &Error{
		Kind:    KindAuthorization,
		Message: "Access Denied: You need one of the following permissions: " + strings.Join(acceptable, ", "),
	}
}

// ErrNoRole builds the authorization denial for users without a usable
// membership in the requested team.
func ErrNoRole() *Error {
	return &Error{Kind: KindAuthorization, Message: MsgNoRolePermissions}
}

// ErrInternal wraps a store or cache failure. The client message stays
// generic.
func ErrInternal(err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: "Internal server error", Err: err}
}
