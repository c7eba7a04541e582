// Package redis implements the storage interfaces on Redis. Records are
// JSON values under prefixed keys with TTLs derived from their expiry, so
// dead records age out without a sweeper. The conditional redeem and rotate
// steps run as Lua scripts, which Redis executes atomically.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all keys
	DefaultKeyPrefix = "connect:"

	// defaultUsedCodeRetention is how long redeemed authorization codes are
	// kept past expiry as replay-detection records
	defaultUsedCodeRetention = 24 * time.Hour

	// connectionVerifyTimeout is the timeout for initial connection
	// verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "connect:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default slog.Default())
	Logger *slog.Logger

	// UsedCodeRetention overrides how long redeemed codes are kept past
	// expiry
	UsedCodeRetention time.Duration
}

// Store is a Redis-backed implementation of all storage interfaces.
type Store struct {
	client            *goredis.Client
	prefix            string
	logger            *slog.Logger
	usedCodeRetention time.Duration
}

var (
	_ storage.FlowStore        = (*Store)(nil)
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ApplicationStore = (*Store)(nil)
	_ storage.UserStore        = (*Store)(nil)
)

// New connects to Redis and verifies the connection.
func New(config Config) (*Store, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UsedCodeRetention <= 0 {
		config.UsedCodeRetention = defaultUsedCodeRetention
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      config.Address,
		Password:  config.Password,
		DB:        config.DB,
		TLSConfig: config.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{
		client:            client,
		prefix:            config.KeyPrefix,
		logger:            config.Logger,
		usedCodeRetention: config.UsedCodeRetention,
	}, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) codeKey(code string) string   { return s.prefix + "code:" + code }
func (s *Store) codeIDKey(id string) string   { return s.prefix + "code_id:" + id }
func (s *Store) tokenKey(token string) string { return s.prefix + "token:" + token }
func (s *Store) tokenIDKey(id string) string  { return s.prefix + "token_id:" + id }
func (s *Store) refreshKey(rt string) string  { return s.prefix + "refresh:" + rt }
func (s *Store) appKey(id string) string      { return s.prefix + "app:" + id }
func (s *Store) clientIDKey(c string) string  { return s.prefix + "client:" + c }
func (s *Store) userKey(id string) string     { return s.prefix + "user:" + id }

func (s *Store) userAppKey(userID, appID string) string {
	return s.prefix + "user_app:" + userID + ":" + appID
}

func (s *Store) userTeamKey(userID, teamID string) string {
	return s.prefix + "user_team:" + userID + ":" + teamID
}

// JSON shapes. Field names are load-bearing: the Lua scripts read and write
// them through cjson.
type codeJSON struct {
	ID                  string    `json:"id"`
	Code                string    `json:"code"`
	ApplicationID       string    `json:"application_id"`
	UserID              string    `json:"user_id"`
	TeamID              string    `json:"team_id"`
	Scopes              []string  `json:"scopes"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Used                bool      `json:"used"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

type tokenJSON struct {
	ID                    string     `json:"id"`
	Token                 string     `json:"token"`
	RefreshToken          string     `json:"refresh_token"`
	ApplicationID         string     `json:"application_id"`
	UserID                string     `json:"user_id"`
	TeamID                string     `json:"team_id"`
	Scopes                []string   `json:"scopes"`
	ExpiresAt             time.Time  `json:"expires_at"`
	RefreshTokenExpiresAt time.Time  `json:"refresh_token_expires_at"`
	Revoked               bool       `json:"revoked"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt            *time.Time `json:"last_used_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// redeemScript flips used=false to used=true on a code record. Returns 1 on
// a win, 0 on a replay, -1 when the record is gone.
var redeemScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local o = cjson.decode(v)
if o.used then return 0 end
o.used = true
redis.call('SET', KEYS[1], cjson.encode(o), 'KEEPTTL')
return 1
`)

// revokeScript conditionally revokes a token record, optionally scoped to an
// application. Returns the updated JSON, or false when the record is absent,
// already revoked, or scoped to another application.
var revokeScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return false end
local o = cjson.decode(v)
if o.revoked then return false end
if ARGV[2] ~= '' and o.application_id ~= ARGV[2] then return false end
o.revoked = true
o.revoked_at = ARGV[1]
local out = cjson.encode(o)
redis.call('SET', KEYS[1], out, 'KEEPTTL')
return out
`)

// rotateScript revokes the old record and installs the replacement with its
// lookup keys in one atomic step. Returns 1 on a win, 0 when the old record
// is absent or already revoked.
var rotateScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local o = cjson.decode(v)
if o.revoked then return 0 end
o.revoked = true
o.revoked_at = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(o), 'KEEPTTL')
redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
redis.call('SET', KEYS[3], ARGV[4], 'EX', ARGV[3])
redis.call('SET', KEYS[4], ARGV[4], 'EX', ARGV[3])
redis.call('SADD', KEYS[5], ARGV[4])
redis.call('SADD', KEYS[6], ARGV[4])
return 1
`)

// touchScript updates last-used telemetry without disturbing the TTL.
var touchScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local o = cjson.decode(v)
o.last_used_at = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(o), 'KEEPTTL')
return 1
`)

func calculateTTL(now, expiresAt time.Time) time.Duration {
	return expiresAt.Sub(now)
}

// ============================================================
// FlowStore
// ============================================================

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" || code.ID == "" {
		return fmt.Errorf("invalid authorization code record")
	}

	data, err := json.Marshal(toCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	// The record outlives its redeemable window by the retention period so
	// replays produce a precise diagnostic instead of "not found".
	ttl := calculateTTL(code.CreatedAt, code.ExpiresAt) + s.usedCodeRetention
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.codeKey(code.Code), data, ttl)
	pipe.Set(ctx, s.codeIDKey(code.ID), code.Code, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var j codeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return fromCodeJSON(&j), nil
}

func (s *Store) MarkAuthorizationCodeUsed(ctx context.Context, id string) (bool, error) {
	code, err := s.client.Get(ctx, s.codeIDKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, storage.ErrCodeNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve authorization code id: %w", err)
	}

	res, err := redeemScript.Run(ctx, s.client, []string{s.codeKey(code)}).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, storage.ErrCodeNotFound
	}
}

// ============================================================
// TokenStore
// ============================================================

func (s *Store) InsertAccessToken(ctx context.Context, token *storage.AccessToken) (*storage.AccessToken, error) {
	if token == nil || token.ID == "" || token.Token == "" || token.RefreshToken == "" {
		return nil, fmt.Errorf("invalid access token record")
	}

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access token: %w", err)
	}

	// Record TTL tracks the refresh token, the longer-lived half of the pair.
	ttl := calculateTTL(token.CreatedAt, token.RefreshTokenExpiresAt)
	if ttl <= 0 {
		return nil, fmt.Errorf("access token already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(token.Token), data, ttl)
	pipe.Set(ctx, s.tokenIDKey(token.ID), token.Token, ttl)
	pipe.Set(ctx, s.refreshKey(token.RefreshToken), token.Token, ttl)
	pipe.SAdd(ctx, s.userAppKey(token.UserID, token.ApplicationID), token.Token)
	pipe.SAdd(ctx, s.userTeamKey(token.UserID, token.TeamID), token.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}
	return cloneRecord(token), nil
}

func (s *Store) getToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	data, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	return fromTokenJSON(&j), nil
}

func (s *Store) GetLiveAccessToken(ctx context.Context, token string, now time.Time) (*storage.Grant, error) {
	rec, err := s.getToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked || security.IsExpired(now, rec.ExpiresAt) {
		return nil, storage.ErrTokenNotFound
	}

	grant := &storage.Grant{Token: rec}
	if user, err := s.GetUser(ctx, rec.UserID); err == nil {
		grant.User = user
	}
	if app, err := s.GetApplication(ctx, rec.ApplicationID); err == nil {
		grant.Application = app
	}
	return grant, nil
}

func (s *Store) GetLiveTokenByRefresh(ctx context.Context, refreshToken, applicationID string) (*storage.AccessToken, error) {
	token, err := s.client.Get(ctx, s.refreshKey(refreshToken)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}

	rec, err := s.getToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked || rec.ApplicationID != applicationID {
		return nil, storage.ErrTokenNotFound
	}
	return rec, nil
}

func (s *Store) RotateAccessToken(ctx context.Context, oldID string, replacement *storage.AccessToken, now time.Time) (*storage.AccessToken, error) {
	if replacement == nil || replacement.ID == "" || replacement.Token == "" || replacement.RefreshToken == "" {
		return nil, fmt.Errorf("invalid replacement token record")
	}

	oldToken, err := s.client.Get(ctx, s.tokenIDKey(oldID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token id: %w", err)
	}

	data, err := json.Marshal(toTokenJSON(replacement))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replacement token: %w", err)
	}
	ttl := calculateTTL(replacement.CreatedAt, replacement.RefreshTokenExpiresAt)
	if ttl <= 0 {
		return nil, fmt.Errorf("replacement token already expired")
	}

	res, err := rotateScript.Run(ctx, s.client,
		[]string{
			s.tokenKey(oldToken),
			s.tokenKey(replacement.Token),
			s.tokenIDKey(replacement.ID),
			s.refreshKey(replacement.RefreshToken),
			s.userAppKey(replacement.UserID, replacement.ApplicationID),
			s.userTeamKey(replacement.UserID, replacement.TeamID),
		},
		now.UTC().Format(time.RFC3339Nano),
		string(data),
		int(ttl.Seconds()),
		replacement.Token,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to rotate token pair: %w", err)
	}
	if res != 1 {
		return nil, storage.ErrTokenNotFound
	}
	return cloneRecord(replacement), nil
}

func (s *Store) RevokeAccessToken(ctx context.Context, token, applicationID string, now time.Time) (*storage.AccessToken, error) {
	res, err := revokeScript.Run(ctx, s.client,
		[]string{s.tokenKey(token)},
		now.UTC().Format(time.RFC3339Nano),
		applicationID,
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke access token: %w", err)
	}

	data, ok := res.(string)
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revoked token: %w", err)
	}
	return fromTokenJSON(&j), nil
}

func (s *Store) RevokeUserApplicationTokens(ctx context.Context, userID, applicationID string, now time.Time) (int, error) {
	tokens, err := s.client.SMembers(ctx, s.userAppKey(userID, applicationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user tokens: %w", err)
	}

	count := 0
	for _, token := range tokens {
		_, err := s.RevokeAccessToken(ctx, token, applicationID, now)
		if errors.Is(err, storage.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) TouchAccessToken(ctx context.Context, id string, now time.Time) error {
	token, err := s.client.Get(ctx, s.tokenIDKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return storage.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve token id: %w", err)
	}

	res, err := touchScript.Run(ctx, s.client,
		[]string{s.tokenKey(token)},
		now.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	if res != 1 {
		return storage.ErrTokenNotFound
	}
	return nil
}

func (s *Store) ListUserAuthorizedApplications(ctx context.Context, userID, teamID string, now time.Time) ([]*storage.AuthorizedApplication, error) {
	members, err := s.client.SMembers(ctx, s.userTeamKey(userID, teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user grants: %w", err)
	}

	// Newest live grant per application wins. Dead set members are pruned as
	// a side effect.
	newest := make(map[string]*storage.AccessToken)
	var dead []interface{}
	for _, token := range members {
		rec, err := s.getToken(ctx, token)
		if errors.Is(err, storage.ErrTokenNotFound) {
			dead = append(dead, token)
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Revoked || security.IsExpired(now, rec.ExpiresAt) {
			continue
		}
		current, ok := newest[rec.ApplicationID]
		if !ok || rec.CreatedAt.After(current.CreatedAt) {
			newest[rec.ApplicationID] = rec
		}
	}
	if len(dead) > 0 {
		if err := s.client.SRem(ctx, s.userTeamKey(userID, teamID), dead...).Err(); err != nil {
			s.logger.Warn("failed to prune dead grant index entries", "error", err)
		}
	}

	var apps []*storage.AuthorizedApplication
	for appID, grant := range newest {
		app, err := s.GetApplication(ctx, appID)
		if errors.Is(err, storage.ErrApplicationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		apps = append(apps, &storage.AuthorizedApplication{
			ID:          app.ID,
			Name:        app.Name,
			Description: app.Description,
			LogoURL:     app.LogoURL,
			Website:     app.Website,
			Scopes:      grant.Scopes,
			LastUsedAt:  grant.LastUsedAt,
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

func (s *Store) SaveApplication(ctx context.Context, app *storage.Application) error {
	if app == nil || app.ID == "" || app.ClientID == "" {
		return fmt.Errorf("invalid application record")
	}
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to marshal application: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.appKey(app.ID), data, 0)
	pipe.Set(ctx, s.clientIDKey(app.ClientID), app.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*storage.Application, error) {
	data, err := s.client.Get(ctx, s.appKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	app := &storage.Application{}
	if err := json.Unmarshal([]byte(data), app); err != nil {
		return nil, fmt.Errorf("failed to unmarshal application: %w", err)
	}
	return app, nil
}

func (s *Store) GetApplicationByClientID(ctx context.Context, clientID string) (*storage.Application, error) {
	id, err := s.client.Get(ctx, s.clientIDKey(clientID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client id: %w", err)
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user record")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.client.Set(ctx, s.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	data, err := s.client.Get(ctx, s.userKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user := &storage.User{}
	if err := json.Unmarshal([]byte(data), user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return user, nil
}

// ============================================================
// JSON conversion
// ============================================================

func toCodeJSON(c *storage.AuthorizationCode) *codeJSON {
	return &codeJSON{
		ID:                  c.ID,
		Code:                c.Code,
		ApplicationID:       c.ApplicationID,
		UserID:              c.UserID,
		TeamID:              c.TeamID,
		Scopes:              c.Scopes,
		RedirectURI:         c.RedirectURI,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Used:                c.Used,
		CreatedAt:           c.CreatedAt,
		ExpiresAt:           c.ExpiresAt,
	}
}

func fromCodeJSON(j *codeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		ID:                  j.ID,
		Code:                j.Code,
		ApplicationID:       j.ApplicationID,
		UserID:              j.UserID,
		TeamID:              j.TeamID,
		Scopes:              j.Scopes,
		RedirectURI:         j.RedirectURI,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		Used:                j.Used,
		CreatedAt:           j.CreatedAt,
		ExpiresAt:           j.ExpiresAt,
	}
}

func toTokenJSON(t *storage.AccessToken) *tokenJSON {
	return &tokenJSON{
		ID:                    t.ID,
		Token:                 t.Token,
		RefreshToken:          t.RefreshToken,
		ApplicationID:         t.ApplicationID,
		UserID:                t.UserID,
		TeamID:                t.TeamID,
		Scopes:                t.Scopes,
		ExpiresAt:             t.ExpiresAt,
		RefreshTokenExpiresAt: t.RefreshTokenExpiresAt,
		Revoked:               t.Revoked,
		RevokedAt:             t.RevokedAt,
		LastUsedAt:            t.LastUsedAt,
		CreatedAt:             t.CreatedAt,
	}
}

func fromTokenJSON(j *tokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		ID:                    j.ID,
		Token:                 j.Token,
		RefreshToken:          j.RefreshToken,
		ApplicationID:         j.ApplicationID,
		UserID:                j.UserID,
		TeamID:                j.TeamID,
		Scopes:                j.Scopes,
		ExpiresAt:             j.ExpiresAt,
		RefreshTokenExpiresAt: j.RefreshTokenExpiresAt,
		Revoked:               j.Revoked,
		RevokedAt:             j.RevokedAt,
		LastUsedAt:            j.LastUsedAt,
		CreatedAt:             j.CreatedAt,
	}
}

func cloneRecord(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	return &out
}
