package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestOAuthErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    *OAuthError
		code   string
		status int
	}{
		{ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
		{ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("expected code %q, got %q", tc.code, tc.err.Code)
		}
		if tc.err.Status != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.code, tc.status, tc.err.Status)
		}
	}
}

func TestOAuthErrorMessage(t *testing.T) {
	err := ErrInvalidGrant("Invalid authorization code")
	if got := err.Error(); got != "invalid_grant: Invalid authorization code" {
		t.Errorf("unexpected error string %q", got)
	}
}

func TestOAuthErrorUnwrapsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", ErrInvalidToken("expired"))

	var oe *OAuthError
	if !errors.As(wrapped, &oe) {
		t.Fatal("errors.As must find the OAuthError through wrapping")
	}
	if oe.Code != ErrorCodeInvalidToken {
		t.Errorf("expected invalid_token, got %q", oe.Code)
	}
}
