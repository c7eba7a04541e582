// Package postgres implements the storage interfaces on PostgreSQL using
// pgx. Conditional updates carry the redemption and rotation invariants:
// both are single UPDATE statements guarded on the current state, so row
// locking makes concurrent redeems and rotations settle to one winner.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/storage"
)

// Store is a PostgreSQL-backed implementation of all storage interfaces.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	instr  *instrumentation.Instrumentation
}

var (
	_ storage.FlowStore        = (*Store)(nil)
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ApplicationStore = (*Store)(nil)
	_ storage.UserStore        = (*Store)(nil)
)

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, logger: slog.Default()}, nil
}

// NewWithPool wraps an existing pool. The caller retains ownership.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, logger: slog.Default()}
}

// SetLogger replaces the default logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation wires OpenTelemetry metrics into storage operations.
func (s *Store) SetInstrumentation(instr *instrumentation.Instrumentation) {
	s.instr = instr
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) record(ctx context.Context, op string, err error, start time.Time) {
	if s.instr != nil {
		s.instr.Metrics().RecordStorageOperation(ctx, op, err, start)
	}
}

// ============================================================
// FlowStore
// ============================================================

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "create_authorization_code", err, start) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO oauth_authorization_codes (
			id, code, application_id, user_id, team_id, scopes,
			redirect_uri, code_challenge, code_challenge_method,
			used, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11)`,
		code.ID, code.Code, code.ApplicationID, code.UserID, code.TeamID,
		code.Scopes, code.RedirectURI, code.CodeChallenge,
		code.CodeChallengeMethod, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (rec *storage.AuthorizationCode, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_authorization_code", err, start) }()

	rec = &storage.AuthorizationCode{}
	err = s.pool.QueryRow(ctx, `
		SELECT id, code, application_id, user_id, team_id, scopes,
		       redirect_uri, code_challenge, code_challenge_method,
		       used, created_at, expires_at
		FROM oauth_authorization_codes
		WHERE code = $1`, code).Scan(
		&rec.ID, &rec.Code, &rec.ApplicationID, &rec.UserID, &rec.TeamID,
		&rec.Scopes, &rec.RedirectURI, &rec.CodeChallenge,
		&rec.CodeChallengeMethod, &rec.Used, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query authorization code: %w", err)
	}
	return rec, nil
}

func (s *Store) MarkAuthorizationCodeUsed(ctx context.Context, id string) (won bool, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "mark_authorization_code_used", err, start) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_authorization_codes
		SET used = true
		WHERE id = $1 AND used = false`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the code does not exist or another exchange already won.
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM oauth_authorization_codes WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check authorization code: %w", err)
		}
		if !exists {
			return false, storage.ErrCodeNotFound
		}
		return false, nil
	}
	return true, nil
}

// ============================================================
// TokenStore
// ============================================================

const tokenColumns = `id, token, refresh_token, application_id, user_id, team_id,
	scopes, expires_at, refresh_token_expires_at, revoked, revoked_at,
	last_used_at, created_at`

func scanToken(row pgx.Row) (*storage.AccessToken, error) {
	rec := &storage.AccessToken{}
	err := row.Scan(
		&rec.ID, &rec.Token, &rec.RefreshToken, &rec.ApplicationID,
		&rec.UserID, &rec.TeamID, &rec.Scopes, &rec.ExpiresAt,
		&rec.RefreshTokenExpiresAt, &rec.Revoked, &rec.RevokedAt,
		&rec.LastUsedAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) InsertAccessToken(ctx context.Context, token *storage.AccessToken) (rec *storage.AccessToken, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "insert_access_token", err, start) }()

	rec, err = scanToken(s.pool.QueryRow(ctx, `
		INSERT INTO oauth_access_tokens (
			id, token, refresh_token, application_id, user_id, team_id,
			scopes, expires_at, refresh_token_expires_at, revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
		RETURNING `+tokenColumns,
		token.ID, token.Token, token.RefreshToken, token.ApplicationID,
		token.UserID, token.TeamID, token.Scopes, token.ExpiresAt,
		token.RefreshTokenExpiresAt, token.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert access token: %w", err)
	}
	return rec, nil
}

func (s *Store) GetLiveAccessToken(ctx context.Context, token string, now time.Time) (grant *storage.Grant, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_live_access_token", err, start) }()

	rec := &storage.AccessToken{}
	user := &storage.User{}
	app := &storage.Application{}
	err = s.pool.QueryRow(ctx, `
		SELECT t.id, t.token, t.refresh_token, t.application_id, t.user_id,
		       t.team_id, t.scopes, t.expires_at, t.refresh_token_expires_at,
		       t.revoked, t.revoked_at, t.last_used_at, t.created_at,
		       u.id, u.full_name, u.email, u.avatar_url,
		       a.id, a.name, a.slug, a.description, a.logo_url, a.website,
		       a.redirect_uris, a.client_id, a.client_secret_hash, a.scopes,
		       a.team_id, a.created_by, a.is_public, a.active, a.status,
		       a.created_at, a.updated_at
		FROM oauth_access_tokens t
		JOIN users u ON u.id = t.user_id
		JOIN oauth_applications a ON a.id = t.application_id
		WHERE t.token = $1 AND t.revoked = false AND t.expires_at >= $2`,
		token, now).Scan(
		&rec.ID, &rec.Token, &rec.RefreshToken, &rec.ApplicationID,
		&rec.UserID, &rec.TeamID, &rec.Scopes, &rec.ExpiresAt,
		&rec.RefreshTokenExpiresAt, &rec.Revoked, &rec.RevokedAt,
		&rec.LastUsedAt, &rec.CreatedAt,
		&user.ID, &user.FullName, &user.Email, &user.AvatarURL,
		&app.ID, &app.Name, &app.Slug, &app.Description, &app.LogoURL,
		&app.Website, &app.RedirectURIs, &app.ClientID,
		&app.ClientSecretHash, &app.Scopes, &app.TeamID, &app.CreatedBy,
		&app.IsPublic, &app.Active, &app.Status, &app.CreatedAt,
		&app.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query access token: %w", err)
	}
	return &storage.Grant{Token: rec, User: user, Application: app}, nil
}

func (s *Store) GetLiveTokenByRefresh(ctx context.Context, refreshToken, applicationID string) (rec *storage.AccessToken, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_live_token_by_refresh", err, start) }()

	// Expiry is deliberately not filtered here: the caller distinguishes an
	// expired refresh token from an unknown one.
	rec, err = scanToken(s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM oauth_access_tokens
		WHERE refresh_token = $1 AND application_id = $2 AND revoked = false`,
		refreshToken, applicationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return rec, nil
}

func (s *Store) RotateAccessToken(ctx context.Context, oldID string, replacement *storage.AccessToken, now time.Time) (rec *storage.AccessToken, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "rotate_access_token", err, start) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET revoked = true, revoked_at = $2
		WHERE id = $1 AND revoked = false`, oldID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke rotated token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrTokenNotFound
	}

	rec, err = scanToken(tx.QueryRow(ctx, `
		INSERT INTO oauth_access_tokens (
			id, token, refresh_token, application_id, user_id, team_id,
			scopes, expires_at, refresh_token_expires_at, revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
		RETURNING `+tokenColumns,
		replacement.ID, replacement.Token, replacement.RefreshToken,
		replacement.ApplicationID, replacement.UserID, replacement.TeamID,
		replacement.Scopes, replacement.ExpiresAt,
		replacement.RefreshTokenExpiresAt, replacement.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert replacement token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return rec, nil
}

func (s *Store) RevokeAccessToken(ctx context.Context, token, applicationID string, now time.Time) (rec *storage.AccessToken, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "revoke_access_token", err, start) }()

	rec, err = scanToken(s.pool.QueryRow(ctx, `
		UPDATE oauth_access_tokens
		SET revoked = true, revoked_at = $3
		WHERE token = $1
		  AND revoked = false
		  AND ($2 = '' OR application_id = $2)
		RETURNING `+tokenColumns,
		token, applicationID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke access token: %w", err)
	}
	return rec, nil
}

func (s *Store) RevokeUserApplicationTokens(ctx context.Context, userID, applicationID string, now time.Time) (count int, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "revoke_user_application_tokens", err, start) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET revoked = true, revoked_at = $3
		WHERE user_id = $1 AND application_id = $2 AND revoked = false`,
		userID, applicationID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk revoke tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) TouchAccessToken(ctx context.Context, id string, now time.Time) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "touch_access_token", err, start) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET last_used_at = $2
		WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

func (s *Store) ListUserAuthorizedApplications(ctx context.Context, userID, teamID string, now time.Time) (apps []*storage.AuthorizedApplication, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "list_user_authorized_applications", err, start) }()

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.name, a.description, a.logo_url, a.website,
		       g.scopes, g.last_used_at, g.created_at
		FROM (
			SELECT DISTINCT ON (application_id)
			       application_id, scopes, last_used_at, created_at
			FROM oauth_access_tokens
			WHERE user_id = $1 AND team_id = $2
			  AND revoked = false AND expires_at >= $3
			ORDER BY application_id, created_at DESC
		) g
		JOIN oauth_applications a ON a.id = g.application_id
		ORDER BY g.last_used_at DESC NULLS LAST, g.created_at DESC`,
		userID, teamID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		app := &storage.AuthorizedApplication{}
		if err := rows.Scan(&app.ID, &app.Name, &app.Description,
			&app.LogoURL, &app.Website, &app.Scopes, &app.LastUsedAt,
			&app.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan authorized application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read authorized applications: %w", err)
	}
	return apps, nil
}

// ============================================================
// ApplicationStore / UserStore
// ============================================================

const applicationColumns = `id, name, slug, description, logo_url, website,
	redirect_uris, client_id, client_secret_hash, scopes, team_id,
	created_by, is_public, active, status, created_at, updated_at`

func scanApplication(row pgx.Row) (*storage.Application, error) {
	app := &storage.Application{}
	err := row.Scan(
		&app.ID, &app.Name, &app.Slug, &app.Description, &app.LogoURL,
		&app.Website, &app.RedirectURIs, &app.ClientID,
		&app.ClientSecretHash, &app.Scopes, &app.TeamID, &app.CreatedBy,
		&app.IsPublic, &app.Active, &app.Status, &app.CreatedAt,
		&app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *Store) SaveApplication(ctx context.Context, app *storage.Application) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "save_application", err, start) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO oauth_applications (
			id, name, slug, description, logo_url, website, redirect_uris,
			client_id, client_secret_hash, scopes, team_id, created_by,
			is_public, active, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		          $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			description = EXCLUDED.description,
			logo_url = EXCLUDED.logo_url,
			website = EXCLUDED.website,
			redirect_uris = EXCLUDED.redirect_uris,
			client_secret_hash = EXCLUDED.client_secret_hash,
			scopes = EXCLUDED.scopes,
			is_public = EXCLUDED.is_public,
			active = EXCLUDED.active,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		app.ID, app.Name, app.Slug, app.Description, app.LogoURL,
		app.Website, app.RedirectURIs, app.ClientID, app.ClientSecretHash,
		app.Scopes, app.TeamID, app.CreatedBy, app.IsPublic, app.Active,
		app.Status, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (app *storage.Application, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_application", err, start) }()

	app, err = scanApplication(s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM oauth_applications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query application: %w", err)
	}
	return app, nil
}

func (s *Store) GetApplicationByClientID(ctx context.Context, clientID string) (app *storage.Application, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_application_by_client_id", err, start) }()

	app, err = scanApplication(s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM oauth_applications WHERE client_id = $1`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query application: %w", err)
	}
	return app, nil
}

func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "save_user", err, start) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, full_name, email, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url`,
		user.ID, user.FullName, user.Email, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user *storage.User, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_user", err, start) }()

	user = &storage.User{}
	err = s.pool.QueryRow(ctx, `
		SELECT id, full_name, email, avatar_url
		FROM users WHERE id = $1`, id).Scan(
		&user.ID, &user.FullName, &user.Email, &user.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// ============================================================
// Cleanup
// ============================================================

// CleanupExpired removes dead rows: unused codes past expiry, redeemed codes
// past the retention window, and token rows whose refresh token has lapsed.
// Intended to run periodically.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time, usedCodeRetention time.Duration) (removed int64, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "cleanup_expired", err, start) }()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM oauth_authorization_codes
		WHERE (used = false AND expires_at < $1)
		   OR (used = true AND expires_at < $2)`,
		now, now.Add(-usedCodeRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up authorization codes: %w", err)
	}
	removed = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `
		DELETE FROM oauth_access_tokens
		WHERE refresh_token_expires_at < $1`, now)
	if err != nil {
		return removed, fmt.Errorf("failed to clean up access tokens: %w", err)
	}
	removed += tag.RowsAffected()

	if removed > 0 {
		s.logger.Debug("cleanup removed expired rows", "count", removed)
	}
	return removed, nil
}
