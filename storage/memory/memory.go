// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/internal/util"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

const (
	// tokenIDLogLength is the number of characters included when logging
	// token values: enough uniqueness for debugging, never the credential
	tokenIDLogLength = 8

	// defaultUsedCodeRetention is how long redeemed authorization codes are
	// kept past expiry as audit/replay records before the cleanup sweep
	// removes them
	defaultUsedCodeRetention = 24 * time.Hour
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	// Authorization codes, indexed by code string plus an id -> code map for
	// the conditional mark-used update
	codes     map[string]*storage.AuthorizationCode
	codesByID map[string]string

	// Token pairs, indexed by access token string, with id and refresh-token
	// lookup maps
	tokens          map[string]*storage.AccessToken
	tokensByID      map[string]string
	tokensByRefresh map[string]string

	// Reference data
	apps           map[string]*storage.Application
	appsByClientID map[string]string
	users          map[string]*storage.User

	clock             security.Clock
	usedCodeRetention time.Duration

	instr  *instrumentation.Instrumentation
	tracer trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.FlowStore        = (*Store)(nil)
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ApplicationStore = (*Store)(nil)
	_ storage.UserStore        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. Call Stop when done to terminate the cleanup goroutine.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		codes:             make(map[string]*storage.AuthorizationCode),
		codesByID:         make(map[string]string),
		tokens:            make(map[string]*storage.AccessToken),
		tokensByID:        make(map[string]string),
		tokensByRefresh:   make(map[string]string),
		apps:              make(map[string]*storage.Application),
		appsByClientID:    make(map[string]string),
		users:             make(map[string]*storage.User),
		usedCodeRetention: defaultUsedCodeRetention,
		cleanupInterval:   cleanupInterval,
		stopCleanup:       make(chan struct{}),
		logger:            slog.Default(),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// SetClock injects the time source used for cleanup decisions. Call before
// the store is shared between goroutines.
func (s *Store) SetClock(clock security.Clock) {
	s.clock = clock
}

// SetLogger replaces the default logger. Call before the store is shared.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation wires OpenTelemetry spans and metrics into storage
// operations. Call before the store is shared.
func (s *Store) SetInstrumentation(instr *instrumentation.Instrumentation) {
	s.instr = instr
	if instr != nil {
		s.tracer = instr.Tracer("storage")
	}
}

// Stop terminates the cleanup goroutine. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// startSpan opens a storage span when instrumentation is wired.
func (s *Store) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, "storage.memory."+op)
}

func (s *Store) endSpan(ctx context.Context, span trace.Span, op string, err error, start time.Time) {
	if s.instr != nil {
		s.instr.Metrics().RecordStorageOperation(ctx, op, err, start)
	}
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ============================================================
// FlowStore
// ============================================================

// CreateAuthorizationCode persists a freshly minted authorization code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startSpan(ctx, "create_authorization_code")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "create_authorization_code", err, start) }()

	if code == nil || code.Code == "" || code.ID == "" {
		return fmt.Errorf("invalid authorization code record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = cloneCode(code)
	s.codesByID[code.ID] = code.Code

	s.logger.Debug("stored authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"application_id", code.ApplicationID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code by exact string match.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (rec *storage.AuthorizationCode, err error) {
	ctx, span := s.startSpan(ctx, "get_authorization_code")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_authorization_code", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	return cloneCode(stored), nil
}

// MarkAuthorizationCodeUsed atomically flips used=false to used=true.
//
// The write lock makes the check-and-set atomic: only one concurrent
// exchange can observe used=false and win the flip.
func (s *Store) MarkAuthorizationCodeUsed(ctx context.Context, id string) (won bool, err error) {
	ctx, span := s.startSpan(ctx, "mark_authorization_code_used")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "mark_authorization_code_used", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codesByID[id]
	if !ok {
		return false, storage.ErrCodeNotFound
	}
	stored := s.codes[code]
	if stored.Used {
		return false, nil
	}
	stored.Used = true

	s.logger.Debug("marked authorization code used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return true, nil
}

// ============================================================
// TokenStore
// ============================================================

// InsertAccessToken persists a new token pair record.
func (s *Store) InsertAccessToken(ctx context.Context, token *storage.AccessToken) (rec *storage.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "insert_access_token")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "insert_access_token", err, start) }()

	if token == nil || token.ID == "" || token.Token == "" || token.RefreshToken == "" {
		return nil, fmt.Errorf("invalid access token record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneToken(token)
	s.tokens[stored.Token] = stored
	s.tokensByID[stored.ID] = stored.Token
	s.tokensByRefresh[stored.RefreshToken] = stored.Token

	s.logger.Debug("stored token pair",
		"token_prefix", util.SafeTruncate(stored.Token, tokenIDLogLength),
		"application_id", stored.ApplicationID)
	return cloneToken(stored), nil
}

// GetLiveAccessToken retrieves a live grant: the token record joined with its
// user and application, filtered to unrevoked and unexpired.
func (s *Store) GetLiveAccessToken(ctx context.Context, token string, now time.Time) (grant *storage.Grant, err error) {
	ctx, span := s.startSpan(ctx, "get_live_access_token")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_live_access_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.tokens[token]
	if !ok || stored.Revoked || security.IsExpired(now, stored.ExpiresAt) {
		return nil, storage.ErrTokenNotFound
	}

	grant = &storage.Grant{Token: cloneToken(stored)}
	if user, ok := s.users[stored.UserID]; ok {
		grant.User = cloneUser(user)
	}
	if app, ok := s.apps[stored.ApplicationID]; ok {
		grant.Application = cloneApp(app)
	}
	return grant, nil
}

// GetLiveTokenByRefresh retrieves the unrevoked record for a refresh token
// scoped to an application. Revoked records are indistinguishable from absent
// ones.
func (s *Store) GetLiveTokenByRefresh(ctx context.Context, refreshToken, applicationID string) (rec *storage.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "get_live_token_by_refresh")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_live_token_by_refresh", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokensByRefresh[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	stored := s.tokens[token]
	if stored == nil || stored.Revoked || stored.ApplicationID != applicationID {
		return nil, storage.ErrTokenNotFound
	}
	return cloneToken(stored), nil
}

// RotateAccessToken conditionally revokes the old record and inserts the
// replacement under one lock acquisition, so concurrent refresh calls with
// the same refresh token rotate at most once.
func (s *Store) RotateAccessToken(ctx context.Context, oldID string, replacement *storage.AccessToken, now time.Time) (rec *storage.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "rotate_access_token")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "rotate_access_token", err, start) }()

	if replacement == nil || replacement.ID == "" || replacement.Token == "" || replacement.RefreshToken == "" {
		return nil, fmt.Errorf("invalid replacement token record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldToken, ok := s.tokensByID[oldID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	old := s.tokens[oldToken]
	if old.Revoked {
		// Lost the race: another refresh already rotated this record.
		return nil, storage.ErrTokenNotFound
	}

	revokedAt := now
	old.Revoked = true
	old.RevokedAt = &revokedAt

	stored := cloneToken(replacement)
	s.tokens[stored.Token] = stored
	s.tokensByID[stored.ID] = stored.Token
	s.tokensByRefresh[stored.RefreshToken] = stored.Token

	s.logger.Debug("rotated token pair",
		"old_token_prefix", util.SafeTruncate(oldToken, tokenIDLogLength),
		"new_token_prefix", util.SafeTruncate(stored.Token, tokenIDLogLength))
	return cloneToken(stored), nil
}

// RevokeAccessToken revokes a single unrevoked record matching the token
// string, optionally scoped to one application.
func (s *Store) RevokeAccessToken(ctx context.Context, token, applicationID string, now time.Time) (rec *storage.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "revoke_access_token")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "revoke_access_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[token]
	if !ok || stored.Revoked {
		return nil, storage.ErrTokenNotFound
	}
	if applicationID != "" && stored.ApplicationID != applicationID {
		return nil, storage.ErrTokenNotFound
	}

	revokedAt := now
	stored.Revoked = true
	stored.RevokedAt = &revokedAt

	s.logger.Debug("revoked token",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return cloneToken(stored), nil
}

// RevokeUserApplicationTokens revokes every live record the user holds for
// the application. Idempotent.
func (s *Store) RevokeUserApplicationTokens(ctx context.Context, userID, applicationID string, now time.Time) (count int, err error) {
	ctx, span := s.startSpan(ctx, "revoke_user_application_tokens")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "revoke_user_application_tokens", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.tokens {
		if stored.Revoked || stored.UserID != userID || stored.ApplicationID != applicationID {
			continue
		}
		revokedAt := now
		stored.Revoked = true
		stored.RevokedAt = &revokedAt
		count++
	}

	if count > 0 {
		s.logger.Debug("bulk revoked tokens",
			"application_id", applicationID,
			"count", count)
	}
	return count, nil
}

// TouchAccessToken records last-used telemetry on a token record.
func (s *Store) TouchAccessToken(ctx context.Context, id string, now time.Time) (err error) {
	ctx, span := s.startSpan(ctx, "touch_access_token")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "touch_access_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokensByID[id]
	if !ok {
		return storage.ErrTokenNotFound
	}
	lastUsed := now
	s.tokens[token].LastUsedAt = &lastUsed
	return nil
}

// ListUserAuthorizedApplications returns the applications the user has live
// grants for within a team, most recently used first.
func (s *Store) ListUserAuthorizedApplications(ctx context.Context, userID, teamID string, now time.Time) (apps []*storage.AuthorizedApplication, err error) {
	ctx, span := s.startSpan(ctx, "list_user_authorized_applications")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "list_user_authorized_applications", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest live grant per application wins.
	newest := make(map[string]*storage.AccessToken)
	for _, stored := range s.tokens {
		if stored.Revoked || stored.UserID != userID || stored.TeamID != teamID {
			continue
		}
		if security.IsExpired(now, stored.ExpiresAt) {
			continue
		}
		current, ok := newest[stored.ApplicationID]
		if !ok || stored.CreatedAt.After(current.CreatedAt) {
			newest[stored.ApplicationID] = stored
		}
	}

	for appID, grant := range newest {
		app, ok := s.apps[appID]
		if !ok {
			continue
		}
		apps = append(apps, &storage.AuthorizedApplication{
			ID:          app.ID,
			Name:        app.Name,
			Description: app.Description,
			LogoURL:     app.LogoURL,
			Website:     app.Website,
			Scopes:      append([]string(nil), grant.Scopes...),
			LastUsedAt:  cloneTime(grant.LastUsedAt),
			CreatedAt:   grant.CreatedAt,
		})
	}

	sort.Slice(apps, func(i, j int) bool {
		li, lj := apps[i].LastUsedAt, apps[j].LastUsedAt
		switch {
		case li != nil && lj != nil:
			return li.After(*lj)
		case li != nil:
			return true
		case lj != nil:
			return false
		default:
			return apps[i].CreatedAt.After(apps[j].CreatedAt)
		}
	})
	return apps, nil
}

// ============================================================
// ApplicationStore / UserStore
// ============================================================

// SaveApplication inserts or updates an application.
func (s *Store) SaveApplication(ctx context.Context, app *storage.Application) (err error) {
	ctx, span := s.startSpan(ctx, "save_application")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "save_application", err, start) }()

	if app == nil || app.ID == "" || app.ClientID == "" {
		return fmt.Errorf("invalid application record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.apps[app.ID] = cloneApp(app)
	s.appsByClientID[app.ClientID] = app.ID
	return nil
}

// GetApplication retrieves an application by record ID.
func (s *Store) GetApplication(ctx context.Context, id string) (app *storage.Application, err error) {
	ctx, span := s.startSpan(ctx, "get_application")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_application", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.apps[id]
	if !ok {
		return nil, storage.ErrApplicationNotFound
	}
	return cloneApp(stored), nil
}

// GetApplicationByClientID retrieves an application by its public client ID.
func (s *Store) GetApplicationByClientID(ctx context.Context, clientID string) (app *storage.Application, err error) {
	ctx, span := s.startSpan(ctx, "get_application_by_client_id")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_application_by_client_id", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.appsByClientID[clientID]
	if !ok {
		return nil, storage.ErrApplicationNotFound
	}
	return cloneApp(s.apps[id]), nil
}

// SaveUser inserts or updates a user record.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, span := s.startSpan(ctx, "save_user")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "save_user", err, start) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = cloneUser(user)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (user *storage.User, err error) {
	ctx, span := s.startSpan(ctx, "get_user")
	start := time.Now()
	defer func() { s.endSpan(ctx, span, "get_user", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return cloneUser(stored), nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Expired unused codes go at expiry; redeemed codes are retained past
	// expiry as replay-detection records, then swept.
	for code, rec := range s.codes {
		cutoff := rec.ExpiresAt
		if rec.Used {
			cutoff = cutoff.Add(s.usedCodeRetention)
		}
		if security.IsExpired(now, cutoff) {
			delete(s.codes, code)
			delete(s.codesByID, rec.ID)
			cleaned++
		}
	}

	// Token records are dead once the refresh token can no longer be used.
	for token, rec := range s.tokens {
		if security.IsExpired(now, rec.RefreshTokenExpiresAt) {
			delete(s.tokens, token)
			delete(s.tokensByID, rec.ID)
			delete(s.tokensByRefresh, rec.RefreshToken)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("cleanup removed expired records", "count", cleaned)
	}
}

// ============================================================
// Clone helpers: never hand internal pointers to callers
// ============================================================

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

func cloneToken(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	out.RevokedAt = cloneTime(t.RevokedAt)
	out.LastUsedAt = cloneTime(t.LastUsedAt)
	return &out
}

func cloneApp(a *storage.Application) *storage.Application {
	out := *a
	out.RedirectURIs = append([]string(nil), a.RedirectURIs...)
	out.Scopes = append([]string(nil), a.Scopes...)
	return &out
}

func cloneUser(u *storage.User) *storage.User {
	out := *u
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
