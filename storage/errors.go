package storage

import "errors"

// Sentinel errors returned by store implementations. Callers match them with
// errors.Is; implementations wrap them with %w to add context.
var (
	// ErrCodeNotFound indicates no authorization code matched the lookup.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrTokenNotFound indicates no live token record matched the lookup.
	// Revoked records report this identically to never-issued tokens.
	ErrTokenNotFound = errors.New("token not found")

	// ErrApplicationNotFound indicates no application matched the lookup.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user not found")
)
