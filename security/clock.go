package security

import "time"

// Clock supplies the current time to expiry checks. Injecting it lets tests
// simulate code and token expiry without sleeping.
type Clock func() time.Time

// Now returns the clock's current time in UTC, falling back to the system
// clock when the Clock is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// IsExpired reports whether the instant expiresAt has passed relative to now.
// A zero expiresAt means no expiration.
func IsExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt)
}
