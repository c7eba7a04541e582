// Package server implements the core OAuth 2.0 authorization server flows:
// authorization code issuance with mandatory PKCE, code exchange, refresh
// token rotation, token validation, and revocation.
//
// Tokens are opaque prefixed random strings. All state lives behind the
// storage interfaces, so the same flow logic runs against the in-memory,
// Postgres, and Redis stores.
package server

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

// Server is the authorization server core. All methods are safe for
// concurrent use.
type Server struct {
	flows   storage.FlowStore
	tokens  storage.TokenStore
	apps    storage.ApplicationStore
	users   storage.UserStore
	config  Config
	auditor *security.Auditor
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// New creates an authorization server from the given configuration.
func New(config Config) (*Server, error) {
	config.applyDefaults()

	if config.FlowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config.TokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config.ApplicationStore == nil {
		return nil, fmt.Errorf("application store is required")
	}

	// A noop instrumentation keeps every metric and span call site valid
	// without guards.
	instr := config.Instrumentation
	if instr == nil {
		var err error
		instr, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
	}

	return &Server{
		flows:   config.FlowStore,
		tokens:  config.TokenStore,
		apps:    config.ApplicationStore,
		users:   config.UserStore,
		config:  config,
		auditor: config.Auditor,
		logger:  config.Logger,
		metrics: instr.Metrics(),
		tracer:  instr.Tracer("server"),
	}, nil
}

// Config returns a copy of the server configuration.
func (s *Server) Config() Config {
	return s.config
}
