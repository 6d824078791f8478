package coordinatord

import (
	"testing"
	"time"
)

func TestPlayerLimiterEvictsOnlyIdleVisitors(t *testing.T) {
	limiter := newPlayerLimiter(RateLimitConfig{RequestsPerMinute: 30, Burst: 1})
	now := time.Now()
	limiter.clockNow = func() time.Time { return now }

	if !limiter.Allow("0xAbC") {
		t.Fatal("first guess should pass")
	}
	if limiter.Allow("0xabc") {
		t.Fatal("burst budget should be drained")
	}

	// Activity inside the TTL refreshes last-seen; the visitor survives a
	// sweep and keeps its drained budget instead of getting a fresh burst.
	now = now.Add(5 * time.Minute)
	if limiter.Allow("0xabc") {
		t.Fatal("drained budget refilled early")
	}
	if limiter.evictIdle("0xabc") {
		t.Fatal("active visitor evicted")
	}
	if _, ok := limiter.visitors["0xabc"]; !ok {
		t.Fatal("active visitor missing from map")
	}

	// A full idle TTL without a guess frees the entry.
	now = now.Add(limiter.idleTTL + time.Minute)
	if !limiter.evictIdle("0xabc") {
		t.Fatal("idle visitor not evicted")
	}
	if _, ok := limiter.visitors["0xabc"]; ok {
		t.Fatal("idle visitor still in map")
	}
	if !limiter.Allow("0xabc") {
		t.Fatal("returning visitor should start with a fresh burst")
	}
}

func TestPlayerLimiterEvictUnknownVisitorStopsCleanup(t *testing.T) {
	limiter := newPlayerLimiter(RateLimitConfig{RequestsPerMinute: 30, Burst: 1})
	if !limiter.evictIdle("0xnobody") {
		t.Fatal("unknown visitor should end the cleanup loop")
	}
}
