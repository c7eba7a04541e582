package security

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("203.0.113.7") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if rl.Allow("203.0.113.7") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterIsolatesIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 1, nil)
	defer rl.Stop()

	if !rl.Allow("203.0.113.7") {
		t.Fatal("first identifier should be allowed")
	}
	if rl.Allow("203.0.113.7") {
		t.Error("first identifier should be throttled")
	}
	if !rl.Allow("203.0.113.8") {
		t.Error("second identifier must have its own budget")
	}
}

func TestRateLimiterNilSafe(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow("anything") {
		t.Error("nil limiter must allow everything")
	}
}

func TestRateLimiterEmptyIdentifier(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 1, nil)
	defer rl.Stop()

	// Unidentifiable callers are not exempt from limiting.
	if !rl.Allow("") {
		t.Fatal("first anonymous request should be allowed")
	}
	if rl.Allow("") {
		t.Error("anonymous requests share one budget")
	}
}

func TestRateLimiterStopIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 1, nil)
	rl.Stop()
	rl.Stop()
}
