// Package security provides the security primitives for the OAuth core:
// opaque token generation, PKCE S256 verification, clock injection for expiry
// checks, audit logging with PII protection, per-identifier rate limiting,
// and HTTP hardening helpers (security headers, client IP extraction,
// request IDs).
package security
