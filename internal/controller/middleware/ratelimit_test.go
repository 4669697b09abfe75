package middleware

import (
	"testing"
	"time"
)

func TestKeyedLimiter_AllowsRequestUnderLimit(t *testing.T) {
	l := NewKeyedLimiter(100, 200, 5*time.Minute)

	for i := range 10 {
		if !l.Allow("runner-1") {
			t.Fatalf("request %d: expected to be allowed", i)
		}
	}
}

func TestKeyedLimiter_RejectsRequestOverLimit(t *testing.T) {
	l := NewKeyedLimiter(1, 1, 5*time.Minute)

	// First request should succeed (uses the burst)
	if !l.Allow("runner-1") {
		t.Fatal("first request: expected to be allowed")
	}
	// Second request should be rate limited (burst exhausted)
	if l.Allow("runner-1") {
		t.Error("second request: expected to be rejected")
	}
}

func TestKeyedLimiter_IndependentLimitsPerKey(t *testing.T) {
	l := NewKeyedLimiter(1, 1, 5*time.Minute)

	l.Allow("runner-a")
	if l.Allow("runner-a") {
		t.Error("runner-a second request: expected to be rejected")
	}
	if !l.Allow("runner-b") {
		t.Error("runner-b request: expected to be allowed")
	}
}

func TestKeyedLimiter_UnlimitedWhenRateZero(t *testing.T) {
	l := NewKeyedLimiter(0, 0, 0)

	for i := range 50 {
		if !l.Allow("runner-1") {
			t.Fatalf("request %d: expected to be allowed", i)
		}
	}

	var nilLimiter *KeyedLimiter
	if !nilLimiter.Allow("runner-1") {
		t.Error("nil limiter should allow everything")
	}
}

func TestKeyedLimiter_ExpiredLimiterIsReplaced(t *testing.T) {
	l := NewKeyedLimiter(1, 1, time.Millisecond)

	l.Allow("runner-1")
	time.Sleep(5 * time.Millisecond)

	// a fresh bucket starts full again
	if !l.Allow("runner-1") {
		t.Error("expected a fresh limiter after ttl")
	}
}
