package server

import (
	"log/slog"

	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

const (
	// DefaultAuthorizationCodeTTL is the authorization code lifetime in
	// seconds (5 minutes)
	DefaultAuthorizationCodeTTL int64 = 300

	// DefaultAccessTokenTTL is the access token lifetime in seconds (1 hour)
	DefaultAccessTokenTTL int64 = 3600

	// DefaultRefreshTokenTTL is the refresh token lifetime in seconds
	// (30 days)
	DefaultRefreshTokenTTL int64 = 2592000
)

// Config holds the authorization server configuration.
type Config struct {
	// FlowStore persists authorization codes. Required.
	FlowStore storage.FlowStore

	// TokenStore persists token pairs. Required.
	TokenStore storage.TokenStore

	// ApplicationStore resolves registered applications. Required.
	ApplicationStore storage.ApplicationStore

	// UserStore resolves user records for consent screens. Optional.
	UserStore storage.UserStore

	// AuthorizationCodeTTL is the authorization code lifetime in seconds.
	// Defaults to DefaultAuthorizationCodeTTL.
	AuthorizationCodeTTL int64

	// AccessTokenTTL is the access token lifetime in seconds. Defaults to
	// DefaultAccessTokenTTL.
	AccessTokenTTL int64

	// RefreshTokenTTL is the refresh token lifetime in seconds. Defaults to
	// DefaultRefreshTokenTTL.
	RefreshTokenTTL int64

	// Now is the time source. Defaults to UTC wall-clock time. Tests inject
	// a fixed clock here.
	Now security.Clock

	// Auditor records security-relevant events. Optional.
	Auditor *security.Auditor

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Instrumentation wires OpenTelemetry metrics and traces. Optional.
	Instrumentation *instrumentation.Instrumentation
}

func (c *Config) applyDefaults() {
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
