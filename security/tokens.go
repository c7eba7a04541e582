package security

import (
	"crypto/rand"
	"fmt"
)

// Token prefixes distinguish credential kinds in logs and support tickets.
// They are for operator readability only and carry no trust semantics:
// authorization always re-checks the full stored record.
const (
	PrefixAuthorizationCode = "mid_authorization_code_"
	PrefixAccessToken       = "mid_access_token_"
	PrefixRefreshToken      = "mid_refresh_token_"
	PrefixClientID          = "mid_client_"
	PrefixClientSecret      = "mid_app_secret_"
)

// Suffix lengths for generated credentials.
const (
	// TokenSuffixLength is the random suffix length for codes, access tokens,
	// refresh tokens, and client secrets: 32 symbols from a 64-symbol
	// alphabet carry 192 bits of entropy, making collisions negligible over
	// the system's lifetime.
	TokenSuffixLength = 32

	// ClientIDSuffixLength is the random suffix length for client IDs.
	// Client IDs are public identifiers, not credentials.
	ClientIDSuffixLength = 24
)

// tokenAlphabet is the 64-symbol URL-safe alphabet used for token suffixes.
// 64 divides 256, so mapping random bytes onto it introduces no modulo bias.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// NewToken returns prefix + a TokenSuffixLength-character random suffix.
func NewToken(prefix string) string {
	return prefix + RandomString(TokenSuffixLength)
}

// NewClientID returns a new public client identifier.
func NewClientID() string {
	return PrefixClientID + RandomString(ClientIDSuffixLength)
}

// NewClientSecret returns a new plaintext client secret. Callers must hash it
// before persisting; the plaintext is shown to the developer exactly once.
func NewClientSecret() string {
	return PrefixClientSecret + RandomString(TokenSuffixLength)
}

// RandomString returns n characters drawn uniformly from the URL-safe token
// alphabet using the system CSPRNG. It panics if the random source fails,
// which indicates an unrecoverable system-level fault.
func RandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	for i, c := range b {
		b[i] = tokenAlphabet[c&63]
	}
	return string(b)
}
