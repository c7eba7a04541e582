// Package oauth provides the OAuth 2.0 authorization-server core behind the
// platform's Connected Apps API: authorization-code issuance with PKCE (S256
// only), code exchange, access/refresh token rotation, validation, and
// revocation for first-party applications acting on a user's behalf.
//
// The root package holds the wire-level error and response types shared by
// the subpackages:
//
//   - server: the flow engine (code issuance, exchange, refresh, validation,
//     revocation) and the application registry
//   - storage: store interfaces and record types, with memory, postgres, and
//     redis implementations
//   - security: opaque token generation, PKCE verification, clock injection,
//     audit logging, and rate limiting
//   - instrumentation: OpenTelemetry metrics and tracing
//   - httpapi: the thin HTTP surface (authorize, token, revoke, bearer
//     middleware)
//
// Tokens are opaque: all validity facts live in the datastore, never in the
// token string itself. Prefixes (mid_access_token_, mid_refresh_token_,
// mid_authorization_code_) exist for operator readability only and carry no
// trust semantics.
package oauth
