package storage

import "time"

// Application review statuses.
const (
	ApplicationStatusDraft    = "draft"
	ApplicationStatusPending  = "pending"
	ApplicationStatusApproved = "approved"
	ApplicationStatusRejected = "rejected"
)

// AuthorizationCode is a single-use code binding a client application, user,
// team, scope set, redirect URI, and optional PKCE challenge.
//
// A code is redeemable only while Used is false and the clock is before
// ExpiresAt. Redeemed codes are kept (Used=true) as audit records.
type AuthorizationCode struct {
	ID                  string
	Code                string
	ApplicationID       string
	UserID              string
	TeamID              string
	Scopes              []string
	RedirectURI         string // stored verbatim; compared by strict equality at exchange
	CodeChallenge       string
	CodeChallengeMethod string // always "S256" when CodeChallenge is set
	Used                bool
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AccessToken is a token-pair record: one row holds the access token and its
// refresh token with independent expiries.
//
// The access token is usable while Revoked is false and the clock is before
// ExpiresAt. The refresh token is usable while the record is unrevoked and
// the clock is before RefreshTokenExpiresAt. Rotation never mutates tokens in
// place: the old record is revoked and a new record inserted.
type AccessToken struct {
	ID                    string
	Token                 string
	RefreshToken          string
	ApplicationID         string
	UserID                string
	TeamID                string
	Scopes                []string
	ExpiresAt             time.Time
	RefreshTokenExpiresAt time.Time
	Revoked               bool
	RevokedAt             *time.Time
	LastUsedAt            *time.Time
	CreatedAt             time.Time
}

// Application is a registered OAuth client. The flow engine reads it as
// reference data; registration and updates go through the application
// registry.
type Application struct {
	ID               string
	Name             string
	Slug             string
	Description      string
	LogoURL          string
	Website          string
	RedirectURIs     []string // exact-match allow-list for the authorize endpoint
	ClientID         string
	ClientSecretHash string // bcrypt hash; the plaintext secret is shown once at creation
	Scopes           []string
	TeamID           string
	CreatedBy        string
	IsPublic         bool // public clients must use PKCE and must not send a secret
	Active           bool
	Status           string // one of the ApplicationStatus constants
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User is read-only reference data joined into token validation results.
type User struct {
	ID        string
	FullName  string
	Email     string
	AvatarURL string
}

// Grant is the result of a live access-token lookup: the token record joined
// with its user and application.
type Grant struct {
	Token       *AccessToken
	User        *User
	Application *Application
}

// AuthorizedApplication is one row of the "connected apps" listing: an
// application the user holds a live grant for, with the granted scopes and
// usage telemetry of the newest grant.
type AuthorizedApplication struct {
	ID          string
	Name        string
	Description string
	LogoURL     string
	Website     string
	Scopes      []string
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}
