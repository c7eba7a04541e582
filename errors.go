package oauth

import (
	"fmt"
	"net/http"
)

// RFC 6749 error codes, plus the bearer-token and throttling codes the HTTP
// surface emits.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// OAuthError is the error value every flow operation returns on rejection.
// Code and Description map directly onto the RFC 6749 error response body;
// Status is the HTTP status the error carries when it reaches the wire.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError builds an OAuthError from its parts. The Err* constructors
// below cover the usual cases.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Constructors for the error classes the flow engine produces. The
// description is the client-facing diagnostic; descriptions for grant
// failures are deliberately specific (replayed vs. expired vs. wrong
// redirect URI) while token-state failures stay opaque.
var (
	// ErrInvalidRequest: a required parameter is missing or malformed.
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant: the presented code or refresh token cannot be
	// redeemed (unknown, replayed, expired, or failing a bound check).
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient: client authentication failed or the application
	// cannot participate in flows.
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope: a requested scope is unregistered, duplicated, or
	// wider than the original grant.
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken: the bearer token does not resolve to a live grant.
	// Revoked, expired, and never-issued tokens all produce this error.
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnsupportedGrantType: the token endpoint saw a grant_type other
	// than authorization_code or refresh_token.
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError: an internal invariant broke (storage failure,
	// issuance returning no record). Logged loudly, never retried here.
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied: the user declined consent, or no session backs a
	// first-party request.
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}
)
