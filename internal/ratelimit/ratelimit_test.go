package ratelimit

import (
	"testing"
	"time"
)

func TestAllowPermitsUpToBurstThenRejects(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		if d := l.Allow("client-a", now); !d.Allowed {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	d := l.Allow("client-a", now)
	if d.Allowed {
		t.Fatalf("expected 4th request within the same instant to be rejected")
	}
	if d.RetryAfter < 1 {
		t.Fatalf("expected a positive retry-after, got %d", d.RetryAfter)
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := New(Config{RPS: 10, Burst: 1})
	now := time.Now()

	if !l.Allow("client-a", now).Allowed {
		t.Fatalf("first request should be allowed")
	}
	if l.Allow("client-a", now).Allowed {
		t.Fatalf("immediate second request should be rejected")
	}
	later := now.Add(200 * time.Millisecond)
	if !l.Allow("client-a", later).Allowed {
		t.Fatalf("expected a token to have refilled after 200ms at 10rps")
	}
}

func TestAllowTracksPrincipalsIndependently(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	if !l.Allow("client-a", now).Allowed {
		t.Fatalf("client-a first request should be allowed")
	}
	if !l.Allow("client-b", now).Allowed {
		t.Fatalf("client-b should have its own independent bucket")
	}
}

func TestAllowDisabledWhenUnconfigured(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !l.Allow("client-a", now).Allowed {
			t.Fatalf("unconfigured limiter must not reject")
		}
	}
}
