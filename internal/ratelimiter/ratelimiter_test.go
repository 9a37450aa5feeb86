package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "burst defaults to rate", requestsPerSecond: 5, burst: 0},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if !limiter.Allow() {
				t.Fatal("first request should be allowed")
			}
		})
	}
}

func TestAllowEnforcesBurst(t *testing.T) {
	limiter := New(1, 3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow() {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter rejected request %d", i)
		}
	}
}

func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail when the context ends first")
	}
}

func TestKeyedIsolatesKeys(t *testing.T) {
	keyed := NewKeyed(1, 2)

	for i := 0; i < 2; i++ {
		if !keyed.Allow(":1.1") {
			t.Fatalf("request %d for :1.1 should be allowed", i)
		}
	}
	if keyed.Allow(":1.1") {
		t.Fatal(":1.1 should be limited")
	}
	if !keyed.Allow(":1.2") {
		t.Fatal(":1.2 has its own bucket")
	}
	if keyed.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", keyed.Len())
	}

	keyed.Forget(":1.1")
	if !keyed.Allow(":1.1") {
		t.Fatal("forgotten key should start with a fresh bucket")
	}
}

func TestKeyedDisabled(t *testing.T) {
	var nilKeyed *Keyed
	if !nilKeyed.Allow("x") {
		t.Fatal("nil Keyed allows everything")
	}
	if !NewKeyed(0, 0).Allow("x") {
		t.Fatal("zero rate allows everything")
	}
	if err := NewKeyed(0, 0).Wait(context.Background(), "x"); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}
