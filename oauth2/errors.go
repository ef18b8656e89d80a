package oauth2

import "fmt"

// ErrorCode is an RFC-named protocol error code. These are the only error
// identifiers ever surfaced to callers; every internal failure is mapped to
// one of them before crossing the component boundary.
type ErrorCode string

const (
	// RFC 6749 §4.1.2.1 / §5.2
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidClient        ErrorCode = "invalid_client"
	ErrInvalidGrant         ErrorCode = "invalid_grant"
	ErrUnauthorizedClient   ErrorCode = "unauthorized_client"
	ErrUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrInvalidScope         ErrorCode = "invalid_scope"
	ErrAccessDenied         ErrorCode = "access_denied"
	ErrServerError          ErrorCode = "server_error"

	ErrUnsupportedResponseType ErrorCode = "unsupported_response_type"

	// OIDC Core §3.1.2.6
	ErrLoginRequired          ErrorCode = "login_required"
	ErrInteractionRequired    ErrorCode = "interaction_required"
	ErrRequestURINotSupported ErrorCode = "request_uri_not_supported"
	ErrInvalidRequestObject   ErrorCode = "invalid_request_object"
	ErrInvalidRequestURI      ErrorCode = "invalid_request_uri"

	// CIBA Core §13
	ErrUnknownUserID        ErrorCode = "unknown_user_id"
	ErrInvalidUserCode      ErrorCode = "invalid_user_code"
	ErrMissingUserCode      ErrorCode = "missing_user_code"
	ErrAuthorizationPending ErrorCode = "authorization_pending"
	ErrSlowDown             ErrorCode = "slow_down"
	ErrExpiredToken         ErrorCode = "expired_token"
)

// Error is a protocol-level error. Redirectable errors (raised during
// authorization after the redirect URI has been validated) carry enough
// state to be delivered to the client via redirect with the state echoed
// back; all others are delivered as a direct error body.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`

	// RedirectURI and State are set only when the error may be answered
	// per RFC 6749 §4.1.2.1 by redirecting the user agent.
	RedirectURI  string           `json:"-"`
	State        string           `json:"-"`
	ResponseMode ResponseModeType `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Redirectable reports whether the error can be answered via redirect.
func (e *Error) Redirectable() bool {
	return e.RedirectURI != ""
}

// NewError creates a non-redirectable protocol error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// NewRedirectableError creates a protocol error that is delivered by
// redirecting to the client's validated redirect URI.
func NewRedirectableError(code ErrorCode, redirectURI, state string, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		Description: fmt.Sprintf(format, args...),
		RedirectURI: redirectURI,
		State:       state,
	}
}
