package storage

import (
	"context"
	"time"
)

// FlowStore persists authorization codes.
//
// Codes are single-use, short-lived records. They are never deleted on
// redemption: a used code is kept as an audit and replay-detection record
// until a cleanup sweep removes it well after expiry.
type FlowStore interface {
	// CreateAuthorizationCode persists a freshly minted authorization code.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code by exact string
	// match. Returns ErrCodeNotFound if absent.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkAuthorizationCodeUsed flips used=false to used=true for the code
	// record with the given ID and reports whether this call won the flip.
	// A false return with nil error means another exchange already redeemed
	// the code.
	//
	// SECURITY: this MUST be a single atomic conditional update, not a
	// read-then-write. It is the linearization point for exactly-once
	// code redemption under concurrent exchange attempts.
	MarkAuthorizationCodeUsed(ctx context.Context, id string) (bool, error)
}

// TokenStore persists access/refresh token pairs. One record holds both
// tokens with independent expiries.
type TokenStore interface {
	// InsertAccessToken persists a new token pair and returns the stored
	// record. Implementations must return the inserted record; the issuer
	// treats a nil result as a fatal invariant violation.
	InsertAccessToken(ctx context.Context, token *AccessToken) (*AccessToken, error)

	// GetLiveAccessToken retrieves the grant for an access token in a single
	// lookup joined with its user and application, filtered to
	// revoked=false AND expiresAt >= now. Returns ErrTokenNotFound when no
	// such live record exists; revoked, expired, and never-issued tokens are
	// indistinguishable to the caller.
	GetLiveAccessToken(ctx context.Context, token string, now time.Time) (*Grant, error)

	// GetLiveTokenByRefresh retrieves the unrevoked record matching a refresh
	// token and application. The query filters revoked=false, so a revoked
	// token reports ErrTokenNotFound exactly like a never-issued one.
	// Refresh-token expiry is NOT filtered here; the caller checks it to
	// produce a distinct diagnostic.
	GetLiveTokenByRefresh(ctx context.Context, refreshToken, applicationID string) (*AccessToken, error)

	// RotateAccessToken conditionally revokes the record with the given ID
	// (revoked=false -> revoked=true, revokedAt=now) and inserts the
	// replacement as one atomic unit. Returns ErrTokenNotFound if the old
	// record was already revoked or gone; in that case nothing is inserted.
	//
	// SECURITY: the conditional revoke is the linearization point ensuring a
	// refresh token rotates at most once under concurrent refresh calls.
	RotateAccessToken(ctx context.Context, oldID string, replacement *AccessToken, now time.Time) (*AccessToken, error)

	// RevokeAccessToken revokes a single unrevoked record matching the access
	// token string, optionally scoped to one application (empty applicationID
	// matches any). Returns ErrTokenNotFound if no live record matched.
	RevokeAccessToken(ctx context.Context, token, applicationID string, now time.Time) (*AccessToken, error)

	// RevokeUserApplicationTokens revokes every currently-unrevoked record
	// owned by the user for the application and returns how many were
	// revoked. Idempotent: revoking an already-revoked set is a no-op.
	RevokeUserApplicationTokens(ctx context.Context, userID, applicationID string, now time.Time) (int, error)

	// TouchAccessToken records lastUsedAt=now on the token record. This is
	// telemetry only: callers invoke it best-effort and ignore failures.
	TouchAccessToken(ctx context.Context, id string, now time.Time) error

	// ListUserAuthorizedApplications returns the applications the user has
	// live grants for within a team, most recently used first.
	ListUserAuthorizedApplications(ctx context.Context, userID, teamID string, now time.Time) ([]*AuthorizedApplication, error)
}

// ApplicationStore manages registered OAuth applications. The flow engine
// treats applications as reference data; an inactive application fails every
// validation closed.
type ApplicationStore interface {
	// SaveApplication inserts or updates an application.
	SaveApplication(ctx context.Context, app *Application) error

	// GetApplication retrieves an application by record ID.
	GetApplication(ctx context.Context, id string) (*Application, error)

	// GetApplicationByClientID retrieves an application by its public client
	// identifier.
	GetApplicationByClientID(ctx context.Context, clientID string) (*Application, error)
}

// UserStore provides read access to user reference data for token validation.
type UserStore interface {
	// SaveUser inserts or updates a user record.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*User, error)
}
