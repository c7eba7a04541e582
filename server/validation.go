package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/middayhq/connect-oauth/storage"

	oauth "github.com/middayhq/connect-oauth"
)

// applicationUsable reports whether an application may participate in flows.
// Only the active flag gates flows; Status tracks marketplace review and a
// draft application can still complete the flow against its own team.
func applicationUsable(app *storage.Application) bool {
	return app.Active
}

// validRedirectURI checks exact string membership in the application's
// registered redirect URIs. No prefix or wildcard matching.
func validRedirectURI(app *storage.Application, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	for _, registered := range app.RedirectURIs {
		if registered == redirectURI {
			return true
		}
	}
	return false
}

// validateScopes checks that every requested scope is registered on the
// application and that the request contains no duplicates.
func validateScopes(requested, allowed []string) error {
	if len(requested) == 0 {
		return oauth.ErrInvalidScope("At least one scope is required")
	}
	seen := make(map[string]struct{}, len(requested))
	for _, scope := range requested {
		if scope == "" {
			return oauth.ErrInvalidScope("Empty scope")
		}
		if _, dup := seen[scope]; dup {
			return oauth.ErrInvalidScope(fmt.Sprintf("Duplicate scope: %s", scope))
		}
		seen[scope] = struct{}{}
	}
	if !scopesSubset(requested, allowed) {
		return oauth.ErrInvalidScope("Requested scope is not registered for this application")
	}
	return nil
}

// scopesSubset reports whether every element of sub appears in super.
func scopesSubset(sub, super []string) bool {
	allowed := make(map[string]struct{}, len(super))
	for _, s := range super {
		allowed[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

// ParseScopeList splits a space-delimited scope parameter, dropping empty
// segments.
func ParseScopeList(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ValidateRedirectURIFormat checks the well-formedness rules applied at
// registration time: absolute https URL, or http on localhost for
// development.
func ValidateRedirectURIFormat(redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("redirect URI must be absolute")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("http redirect URIs are only allowed on localhost")
	default:
		return fmt.Errorf("unsupported redirect URI scheme %q", u.Scheme)
	}
}
