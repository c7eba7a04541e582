package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/internal/util"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"

	oauth "github.com/middayhq/connect-oauth"
)

// CreateAuthorizationCodeRequest carries the parameters of an approved
// authorization request. The caller has already authenticated the user and
// collected consent.
type CreateAuthorizationCodeRequest struct {
	ApplicationID       string
	UserID              string
	TeamID              string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationCodeGrant is the result of issuing an authorization code.
type AuthorizationCodeGrant struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// ExchangeRequest carries the parameters of an authorization code exchange.
type ExchangeRequest struct {
	Code          string
	ApplicationID string
	RedirectURI   string
	CodeVerifier  string
}

// RefreshRequest carries the parameters of a refresh token rotation.
type RefreshRequest struct {
	RefreshToken  string
	ApplicationID string

	// Scopes optionally narrows the grant. Empty inherits the original
	// scopes; any scope outside the original set is rejected.
	Scopes []string
}

// TokenPair is a freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	TokenType             string
	ExpiresIn             int64
	RefreshTokenExpiresIn int64
	Scopes                []string
}

// AuthContext is the identity attached to a validated access token.
type AuthContext struct {
	TokenID       string
	UserID        string
	TeamID        string
	ApplicationID string
	Scopes        []string
	User          *storage.User
	Application   *storage.Application
}

// HasScope reports whether the grant carries the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CreateAuthorizationCode issues a short-lived single-use authorization code
// bound to the application, user, redirect URI, scopes, and PKCE challenge.
func (s *Server) CreateAuthorizationCode(ctx context.Context, req CreateAuthorizationCodeRequest) (*AuthorizationCodeGrant, error) {
	ctx, span := s.tracer.Start(ctx, "CreateAuthorizationCode")
	defer span.End()

	app, err := s.apps.GetApplication(ctx, req.ApplicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidRequest)
			return nil, oauth.ErrInvalidClient("Invalid client")
		}
		return nil, oauth.ErrServerError("Failed to load application")
	}
	if !applicationUsable(app) {
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidRequest)
		return nil, oauth.ErrInvalidClient("Application is not active")
	}
	if !validRedirectURI(app, req.RedirectURI) {
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidRequest)
		return nil, oauth.ErrInvalidRequest("Invalid redirect URI")
	}
	if err := validateScopes(req.Scopes, app.Scopes); err != nil {
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidScope)
		return nil, err
	}
	if req.CodeChallenge == "" && app.IsPublic {
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidRequest)
		return nil, oauth.ErrInvalidRequest("Code challenge is required")
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != security.PKCEMethodS256 {
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeInvalidRequest)
		return nil, oauth.ErrInvalidRequest("Unsupported code challenge method")
	}

	now := s.config.Now.Now()
	code := &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                security.NewToken(security.PrefixAuthorizationCode),
		ApplicationID:       app.ID,
		UserID:              req.UserID,
		TeamID:              req.TeamID,
		Scopes:              req.Scopes,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.flows.CreateAuthorizationCode(ctx, code); err != nil {
		s.logger.Error("failed to store authorization code", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeError)
		return nil, oauth.ErrServerError("Failed to create authorization code")
	}

	s.auditor.LogCodeIssued(req.UserID, app.ID, req.TeamID, req.Scopes)
	s.metrics.RecordOutcome(ctx, s.metrics.CodesIssued, instrumentation.OutcomeSuccess)
	s.logger.Info("issued authorization code",
		"application_id", app.ID,
		"code_prefix", util.SafeTruncate(code.Code, 8))

	return &AuthorizationCodeGrant{ID: code.ID, Code: code.Code, ExpiresAt: code.ExpiresAt}, nil
}

// ExchangeAuthorizationCode redeems an authorization code for a token pair.
// Validation failures are reported before redemption so callers get a
// precise diagnostic; the code is only consumed once every check passes,
// and consumption is the atomic step, so exactly one concurrent exchange of
// the same code succeeds.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "ExchangeAuthorizationCode")
	defer span.End()

	code, err := s.flows.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.authFailure("", req.ApplicationID, "unknown authorization code")
			s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
			return nil, oauth.ErrInvalidGrant("Invalid authorization code")
		}
		return nil, oauth.ErrServerError("Failed to load authorization code")
	}

	// The code is bound to one application. A mismatch is reported exactly
	// like an unknown code so a stolen code cannot be probed across clients.
	if req.ApplicationID != "" && code.ApplicationID != req.ApplicationID {
		s.authFailure(code.UserID, req.ApplicationID, "authorization code application mismatch")
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Invalid authorization code")
	}

	now := s.config.Now.Now()
	switch {
	case code.Used:
		s.authFailure(code.UserID, code.ApplicationID, "authorization code replay")
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Authorization code already used")
	case security.IsExpired(now, code.ExpiresAt):
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Authorization code expired")
	case code.RedirectURI != req.RedirectURI:
		s.authFailure(code.UserID, code.ApplicationID, "redirect URI mismatch on exchange")
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Invalid redirect URI")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidRequest)
			return nil, oauth.ErrInvalidRequest("Code verifier is required when code challenge is present")
		}
		if !security.VerifyPKCES256(req.CodeVerifier, code.CodeChallenge) {
			s.authFailure(code.UserID, code.ApplicationID, "PKCE verification failed")
			s.metrics.RecordOutcome(ctx, s.metrics.PKCEFailures, instrumentation.OutcomeInvalidGrant)
			s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
			return nil, oauth.ErrInvalidGrant("Invalid code verifier")
		}
	}

	// Linearization point. Whichever concurrent exchange flips used first
	// wins; everyone else sees a replay.
	won, err := s.flows.MarkAuthorizationCodeUsed(ctx, code.ID)
	if err != nil {
		s.logger.Error("failed to consume authorization code", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeError)
		return nil, oauth.ErrServerError("Failed to create access token")
	}
	if !won {
		s.authFailure(code.UserID, code.ApplicationID, "authorization code replay")
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Authorization code already used")
	}

	pair, err := s.mintTokenPair(ctx, code.ApplicationID, code.UserID, code.TeamID, code.Scopes)
	if err != nil {
		s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeError)
		return nil, err
	}

	s.auditor.LogTokenIssued(code.UserID, code.ApplicationID, code.TeamID, code.Scopes)
	s.metrics.RecordOutcome(ctx, s.metrics.CodeExchanges, instrumentation.OutcomeSuccess)
	s.metrics.RecordOutcome(ctx, s.metrics.TokensIssued, instrumentation.OutcomeSuccess)
	s.logger.Info("exchanged authorization code",
		"application_id", code.ApplicationID,
		"code_prefix", util.SafeTruncate(code.Code, 8))
	return pair, nil
}

// RefreshAccessToken rotates a refresh token: the presented pair is revoked
// and a new pair is issued in one atomic storage step. A revoked refresh
// token is indistinguishable from an unknown one.
func (s *Server) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "RefreshAccessToken")
	defer span.End()

	current, err := s.tokens.GetLiveTokenByRefresh(ctx, req.RefreshToken, req.ApplicationID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.authFailure("", req.ApplicationID, "unknown or revoked refresh token")
			s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeInvalidGrant)
			return nil, oauth.ErrInvalidGrant("Invalid refresh token")
		}
		return nil, oauth.ErrServerError("Failed to load refresh token")
	}

	now := s.config.Now.Now()
	if security.IsExpired(now, current.RefreshTokenExpiresAt) {
		s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidGrant("Refresh token expired")
	}

	scopes := current.Scopes
	if len(req.Scopes) > 0 {
		if !scopesSubset(req.Scopes, current.Scopes) {
			s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeInvalidScope)
			return nil, oauth.ErrInvalidScope("Requested scope exceeds the original grant")
		}
		scopes = req.Scopes
	}

	replacement := s.newTokenRecord(current.ApplicationID, current.UserID, current.TeamID, scopes, now)
	rotated, err := s.tokens.RotateAccessToken(ctx, current.ID, replacement, now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			// Lost a rotation race. The presented token is spent.
			s.authFailure(current.UserID, current.ApplicationID, "refresh token replay")
			s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeInvalidGrant)
			return nil, oauth.ErrInvalidGrant("Invalid refresh token")
		}
		s.logger.Error("failed to rotate token pair", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeError)
		return nil, oauth.ErrServerError("Failed to create access token")
	}

	s.auditor.LogTokenRefreshed(current.UserID, current.ApplicationID)
	s.metrics.RecordOutcome(ctx, s.metrics.TokensRefreshed, instrumentation.OutcomeSuccess)
	s.logger.Info("rotated token pair",
		"application_id", current.ApplicationID,
		"token_prefix", util.SafeTruncate(rotated.Token, 8))
	return pairFromRecord(rotated, now), nil
}

// ValidateAccessToken resolves an access token to its authenticated
// identity. Unknown, expired, and revoked tokens all return ErrInvalidToken;
// storage failures fail closed.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*AuthContext, error) {
	ctx, span := s.tracer.Start(ctx, "ValidateAccessToken")
	defer span.End()

	now := s.config.Now.Now()
	grant, err := s.tokens.GetLiveAccessToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.metrics.RecordOutcome(ctx, s.metrics.TokenValidations, instrumentation.OutcomeInvalidGrant)
			return nil, oauth.ErrInvalidToken("Invalid or expired access token")
		}
		s.logger.Error("token validation storage failure", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.TokenValidations, instrumentation.OutcomeError)
		return nil, oauth.ErrServerError("Failed to validate access token")
	}

	// A grant for a suspended application is dead even while its record is
	// otherwise live.
	if grant.Application == nil || !applicationUsable(grant.Application) {
		s.metrics.RecordOutcome(ctx, s.metrics.TokenValidations, instrumentation.OutcomeInvalidGrant)
		return nil, oauth.ErrInvalidToken("Invalid or expired access token")
	}

	// Last-used telemetry must not block or fail the request path.
	go func(id string) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tokens.TouchAccessToken(touchCtx, id, now); err != nil {
			s.logger.Debug("failed to record token usage", "error", err)
		}
	}(grant.Token.ID)

	s.metrics.RecordOutcome(ctx, s.metrics.TokenValidations, instrumentation.OutcomeSuccess)
	return &AuthContext{
		TokenID:       grant.Token.ID,
		UserID:        grant.Token.UserID,
		TeamID:        grant.Token.TeamID,
		ApplicationID: grant.Token.ApplicationID,
		Scopes:        grant.Token.Scopes,
		User:          grant.User,
		Application:   grant.Application,
	}, nil
}

// RevokeAccessToken revokes a single token pair by access token string.
// When applicationID is non-empty the revocation is scoped to that
// application's grants.
func (s *Server) RevokeAccessToken(ctx context.Context, token, applicationID, ipAddress string) error {
	ctx, span := s.tracer.Start(ctx, "RevokeAccessToken")
	defer span.End()

	now := s.config.Now.Now()
	rec, err := s.tokens.RevokeAccessToken(ctx, token, applicationID, now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.metrics.RecordOutcome(ctx, s.metrics.TokensRevoked, instrumentation.OutcomeInvalidGrant)
			return oauth.ErrInvalidToken("Invalid access token")
		}
		s.logger.Error("failed to revoke token", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.TokensRevoked, instrumentation.OutcomeError)
		return oauth.ErrServerError("Failed to revoke access token")
	}

	s.auditor.LogTokenRevoked(rec.UserID, rec.ApplicationID, ipAddress)
	s.metrics.RecordOutcome(ctx, s.metrics.TokensRevoked, instrumentation.OutcomeSuccess)
	s.logger.Info("revoked token",
		"application_id", rec.ApplicationID,
		"token_prefix", util.SafeTruncate(token, 8))
	return nil
}

// RevokeUserApplicationTokens disconnects an application: every live grant
// the user holds for it is revoked. Revoking zero tokens is not an error.
func (s *Server) RevokeUserApplicationTokens(ctx context.Context, userID, applicationID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "RevokeUserApplicationTokens")
	defer span.End()

	now := s.config.Now.Now()
	count, err := s.tokens.RevokeUserApplicationTokens(ctx, userID, applicationID, now)
	if err != nil {
		s.logger.Error("failed to bulk revoke tokens", "error", err)
		s.metrics.RecordOutcome(ctx, s.metrics.TokensRevoked, instrumentation.OutcomeError)
		return 0, oauth.ErrServerError("Failed to revoke access tokens")
	}

	s.auditor.LogBulkRevocation(userID, applicationID, count)
	s.metrics.RecordOutcome(ctx, s.metrics.TokensRevoked, instrumentation.OutcomeSuccess)
	s.logger.Info("bulk revoked tokens",
		"application_id", applicationID,
		"count", count)
	return count, nil
}

// ListAuthorizedApplications returns the applications a user has live grants
// for within a team, most recently used first.
func (s *Server) ListAuthorizedApplications(ctx context.Context, userID, teamID string) ([]*storage.AuthorizedApplication, error) {
	ctx, span := s.tracer.Start(ctx, "ListAuthorizedApplications")
	defer span.End()

	now := s.config.Now.Now()
	apps, err := s.tokens.ListUserAuthorizedApplications(ctx, userID, teamID, now)
	if err != nil {
		s.logger.Error("failed to list authorized applications", "error", err)
		return nil, oauth.ErrServerError("Failed to list authorized applications")
	}
	return apps, nil
}

// CreateAccessToken mints a token pair directly, outside a code exchange.
// The caller has already established the grant (for example a first-party
// integration issuing tokens on the user's behalf).
func (s *Server) CreateAccessToken(ctx context.Context, applicationID, userID, teamID string, scopes []string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "CreateAccessToken")
	defer span.End()

	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return nil, oauth.ErrInvalidClient("Invalid client")
		}
		return nil, oauth.ErrServerError("Failed to load application")
	}
	if !applicationUsable(app) {
		return nil, oauth.ErrInvalidClient("Application is not active")
	}
	if err := validateScopes(scopes, app.Scopes); err != nil {
		return nil, err
	}

	pair, err := s.mintTokenPair(ctx, app.ID, userID, teamID, scopes)
	if err != nil {
		s.metrics.RecordOutcome(ctx, s.metrics.TokensIssued, instrumentation.OutcomeError)
		return nil, err
	}

	s.auditor.LogTokenIssued(userID, app.ID, teamID, scopes)
	s.metrics.RecordOutcome(ctx, s.metrics.TokensIssued, instrumentation.OutcomeSuccess)
	s.logger.Info("issued token pair",
		"application_id", app.ID,
		"token_prefix", util.SafeTruncate(pair.AccessToken, 8))
	return pair, nil
}

// mintTokenPair creates and stores a fresh pair for the given grant.
func (s *Server) mintTokenPair(ctx context.Context, applicationID, userID, teamID string, scopes []string) (*TokenPair, error) {
	now := s.config.Now.Now()
	rec := s.newTokenRecord(applicationID, userID, teamID, scopes, now)
	stored, err := s.tokens.InsertAccessToken(ctx, rec)
	if err != nil {
		s.logger.Error("failed to store token pair", "error", err)
		return nil, oauth.ErrServerError("Failed to create access token")
	}
	return pairFromRecord(stored, now), nil
}

func (s *Server) newTokenRecord(applicationID, userID, teamID string, scopes []string, now time.Time) *storage.AccessToken {
	return &storage.AccessToken{
		ID:                    uuid.NewString(),
		Token:                 security.NewToken(security.PrefixAccessToken),
		RefreshToken:          security.NewToken(security.PrefixRefreshToken),
		ApplicationID:         applicationID,
		UserID:                userID,
		TeamID:                teamID,
		Scopes:                scopes,
		ExpiresAt:             now.Add(time.Duration(s.config.AccessTokenTTL) * time.Second),
		RefreshTokenExpiresAt: now.Add(time.Duration(s.config.RefreshTokenTTL) * time.Second),
		CreatedAt:             now,
	}
}

func pairFromRecord(rec *storage.AccessToken, now time.Time) *TokenPair {
	return &TokenPair{
		AccessToken:           rec.Token,
		RefreshToken:          rec.RefreshToken,
		TokenType:             "Bearer",
		ExpiresIn:             int64(rec.ExpiresAt.Sub(now).Seconds()),
		RefreshTokenExpiresIn: int64(rec.RefreshTokenExpiresAt.Sub(now).Seconds()),
		Scopes:                rec.Scopes,
	}
}

func (s *Server) authFailure(userID, applicationID, reason string) {
	s.auditor.LogAuthFailure(userID, applicationID, "", reason)
}
