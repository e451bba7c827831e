package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-custody/core"
)

func TestNew_InvalidArgsDisableLimiter(t *testing.T) {
	if New(0, 1, 0) != nil || New(1, 0, 0) != nil {
		t.Fatalf("expected nil limiter for invalid args")
	}
	var limiter *MapLimiter
	if !limiter.Allow("agent", time.Now()) {
		t.Fatalf("expected nil limiter to allow")
	}
	if FromConfig(core.RateLimitConfig{}) != nil {
		t.Fatalf("expected disabled config to yield nil limiter")
	}
}

func TestMapLimiter_PerKeyBuckets(t *testing.T) {
	limiter := New(1, 2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !limiter.Allow("a", now) || !limiter.Allow("a", now) {
		t.Fatalf("expected burst of two to pass")
	}
	err := limiter.Check("a", now)
	if err == nil {
		t.Fatalf("expected third call to be throttled")
	}
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("expected throttled error to match core.ErrRateLimited, got %v", err)
	}
	var throttled ThrottledError
	if !errors.As(err, &throttled) || throttled.RetryAfter <= 0 {
		t.Fatalf("expected retry hint, got %#v", err)
	}
	if !limiter.Allow("b", now) {
		t.Fatalf("expected independent bucket for another key")
	}
	if !limiter.Allow("a", now.Add(time.Second)) {
		t.Fatalf("expected refill after one second")
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	mapped := ThrottledError{Key: "agent", RetryAfter: 3 * time.Second}.ToServiceError()
	if mapped.TextCode != core.CustodyErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.CustodyErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
	if mapped.Metadata["retry_after_ms"] != int64(3000) {
		t.Fatalf("expected retry metadata, got %#v", mapped.Metadata)
	}
}

func TestMapLimiter_EvictsIdleKeys(t *testing.T) {
	limiter := New(100, 100, time.Second)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.Allow("stale", start)
	later := start.Add(time.Minute)
	for i := 0; i < 511; i++ {
		limiter.Allow("fresh", later)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected stale key to be evicted, got %d keys", limiter.Len())
	}
}
