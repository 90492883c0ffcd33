package request

import (
	"fmt"

	"github.com/pardot/oidcop/client"
)

// ErrorCode is the OAuth error code reported for a failed resolution.
type ErrorCode string

// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
const (
	CodeUnregisteredRequestURI ErrorCode = "unregistered_request_uri"
	CodeRequestURITooLong      ErrorCode = "request_uri_too_long"
	CodeRequestURIFetchFailed  ErrorCode = "request_uri_fetch_failed"
	CodeRequestURIBadHash      ErrorCode = "request_uri_bad_hash"
	CodeInvalidRequestURI      ErrorCode = "invalid_request_uri"
	CodeInvalidRequestObject   ErrorCode = "invalid_request_object"
)

// Error is a classified request object resolution failure. Two errors match
// with errors.Is when their codes are equal, so the Err* values can be used
// as sentinels.
type Error struct {
	Code ErrorCode
	// Description is safe to present to the client.
	Description string
	// Status is the HTTP status returned by the request_uri, for
	// CodeRequestURIFetchFailed.
	Status int
	// Cause is for internal diagnostics only, it is never presented.
	Cause error
}

func (e *Error) Error() string {
	str := fmt.Sprintf("%s: %s", e.Code, e.Description)
	if e.Status != 0 {
		str = fmt.Sprintf("%s (status %d)", str, e.Status)
	}
	if e.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, e.Cause.Error())
	}
	return str
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnregisteredRequestURI = &Error{Code: CodeUnregisteredRequestURI, Description: "request_uri is not pre-registered"}
	ErrRequestURITooLong      = &Error{Code: CodeRequestURITooLong, Description: "request_uri exceeds 512 characters"}
	ErrRequestURIFetchFailed  = &Error{Code: CodeRequestURIFetchFailed, Description: "request_uri returned an error"}
	ErrRequestURIBadHash      = &Error{Code: CodeRequestURIBadHash, Description: "request_uri content does not match the fragment hash"}
	ErrInvalidRequestURI      = &Error{Code: CodeInvalidRequestURI, Description: "request_uri returned no content"}
	ErrInvalidRequestObject   = &Error{Code: CodeInvalidRequestObject, Description: "request object is invalid"}
)

func fetchFailed(status int) error {
	return &Error{
		Code:        CodeRequestURIFetchFailed,
		Description: ErrRequestURIFetchFailed.Description,
		Status:      status,
	}
}

func invalidRequestObject(cause error) error {
	return &Error{
		Code:        CodeInvalidRequestObject,
		Description: ErrInvalidRequestObject.Description,
		Cause:       cause,
	}
}

// ServerConfigurationError indicates the client registration is unusable.
// It is caused by deployment, not by the request, and must not be reported as
// a request error.
type ServerConfigurationError struct {
	ClientID string
	Reason   string
}

func (s *ServerConfigurationError) Error() string {
	return fmt.Sprintf("server configuration error for client %s: %s", s.ClientID, s.Reason)
}

// noSecret reports a client using a shared secret algorithm without having
// registered a secret.
func noSecret(c *client.Client, use string) error {
	return &ServerConfigurationError{ClientID: c.ID, Reason: use + " requires a client secret"}
}
