package security

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only code challenge method this server offers.
// Plaintext PKCE is deliberately not supported.
const PKCEMethodS256 = "S256"

// VerifyPKCES256 reports whether base64url(sha256(verifier)) equals the
// stored challenge. The comparison is constant-time to avoid leaking how
// much of the challenge matched.
func VerifyPKCES256(verifier, challenge string) bool {
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
