package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

// Integration tests run against a real Redis:
//
//	CONNECT_OAUTH_TEST_REDIS_ADDR=localhost:6379 go test ./storage/redis/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("CONNECT_OAUTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONNECT_OAUTH_TEST_REDIS_ADDR not set")
	}
	store, err := New(Config{
		Address:   addr,
		KeyPrefix: "connect_test_" + uuid.NewString()[:8] + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newCode(now time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                security.NewToken(security.PrefixAuthorizationCode),
		ApplicationID:       "app-1",
		UserID:              "user-1",
		TeamID:              "team-1",
		Scopes:              []string{"transactions.read"},
		RedirectURI:         "https://example.com/callback",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: security.PKCEMethodS256,
		CreatedAt:           now,
		ExpiresAt:           now.Add(5 * time.Minute),
	}
}

func newToken(now time.Time) *storage.AccessToken {
	return &storage.AccessToken{
		ID:                    uuid.NewString(),
		Token:                 security.NewToken(security.PrefixAccessToken),
		RefreshToken:          security.NewToken(security.PrefixRefreshToken),
		ApplicationID:         "app-1",
		UserID:                "user-1",
		TeamID:                "team-1",
		Scopes:                []string{"transactions.read"},
		ExpiresAt:             now.Add(time.Hour),
		RefreshTokenExpiresAt: now.Add(30 * 24 * time.Hour),
		CreatedAt:             now,
	}
}

func TestAuthorizationCodeRedemption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	code := newCode(now)
	require.NoError(t, store.CreateAuthorizationCode(ctx, code))

	got, err := store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	require.Equal(t, code.ID, got.ID)
	require.False(t, got.Used)

	won, err := store.MarkAuthorizationCodeUsed(ctx, code.ID)
	require.NoError(t, err)
	require.True(t, won)

	won, err = store.MarkAuthorizationCodeUsed(ctx, code.ID)
	require.NoError(t, err)
	require.False(t, won, "second redemption must lose")

	// The used record is still readable for replay diagnostics.
	got, err = store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	require.True(t, got.Used)

	_, err = store.MarkAuthorizationCodeUsed(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestTokenRotation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newToken(now)
	_, err := store.InsertAccessToken(ctx, old)
	require.NoError(t, err)

	live, err := store.GetLiveTokenByRefresh(ctx, old.RefreshToken, "app-1")
	require.NoError(t, err)
	require.Equal(t, old.ID, live.ID)

	replacement := newToken(now)
	_, err = store.RotateAccessToken(ctx, old.ID, replacement, now)
	require.NoError(t, err)

	// Old pair dead, new pair live.
	_, err = store.GetLiveTokenByRefresh(ctx, old.RefreshToken, "app-1")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	rotated, err := store.GetLiveTokenByRefresh(ctx, replacement.RefreshToken, "app-1")
	require.NoError(t, err)
	require.Equal(t, replacement.ID, rotated.ID)

	// Double rotation loses.
	_, err = store.RotateAccessToken(ctx, old.ID, newToken(now), now)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRevocationAndListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := &storage.Application{
		ID:       "app-1",
		Name:     "Raycast",
		ClientID: security.NewClientID(),
		Active:   true,
		Status:   storage.ApplicationStatusApproved,
	}
	require.NoError(t, store.SaveApplication(ctx, app))
	require.NoError(t, store.SaveUser(ctx, &storage.User{ID: "user-1", Email: "u@example.com"}))

	first := newToken(now)
	_, err := store.InsertAccessToken(ctx, first)
	require.NoError(t, err)
	second := newToken(now.Add(time.Second))
	_, err = store.InsertAccessToken(ctx, second)
	require.NoError(t, err)

	grant, err := store.GetLiveAccessToken(ctx, first.Token, now)
	require.NoError(t, err)
	require.Equal(t, "Raycast", grant.Application.Name)
	require.Equal(t, "u@example.com", grant.User.Email)

	apps, err := store.ListUserAuthorizedApplications(ctx, "user-1", "team-1", now)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	count, err := store.RevokeUserApplicationTokens(ctx, "user-1", "app-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = store.GetLiveAccessToken(ctx, first.Token, now)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	apps, err = store.ListUserAuthorizedApplications(ctx, "user-1", "team-1", now)
	require.NoError(t, err)
	require.Empty(t, apps)
}

func TestScopedRevocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	token := newToken(now)
	_, err := store.InsertAccessToken(ctx, token)
	require.NoError(t, err)

	_, err = store.RevokeAccessToken(ctx, token.Token, "app-2", now)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	rec, err := store.RevokeAccessToken(ctx, token.Token, "app-1", now)
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.NotNil(t, rec.RevokedAt)

	_, err = store.RevokeAccessToken(ctx, token.Token, "app-1", now)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}
