package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
)

func startAgent(t *testing.T, cfg Config, fc *clock.Fake) (*Agent, context.CancelFunc) {
	t.Helper()
	a := New(cfg, fc)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Start(ctx)
	t.Cleanup(cancel)
	return a, cancel
}

// TestSingleKeyBurst covers scenario 1 of spec §8: capacity 5, refill 0.
func TestSingleKeyBurst(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 5, RefillRate: 0, CleanupInterval: time.Hour, BucketExpiration: time.Hour, Enabled: true}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	wantAllowed := []bool{true, true, true, true, true, false}
	lastRemaining := uint32(5)
	for i, want := range wantAllowed {
		res, err := a.CheckRateLimit(ctx, "k", 1)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if res.Allowed != want {
			t.Errorf("request %d: allowed=%v want %v", i, res.Allowed, want)
		}
		if res.Remaining > lastRemaining {
			t.Errorf("request %d: remaining=%d increased from %d", i, res.Remaining, lastRemaining)
		}
		lastRemaining = res.Remaining
	}
	if lastRemaining != 0 {
		t.Errorf("final remaining = %d, want 0", lastRemaining)
	}
}

// TestDisjointKeys covers scenario 2: exhausting one key must not affect another.
func TestDisjointKeys(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 3, RefillRate: 0, CleanupInterval: time.Hour, BucketExpiration: time.Hour, Enabled: true}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := a.CheckRateLimit(ctx, "k1", 1)
		if err != nil || !res.Allowed {
			t.Fatalf("k1 request %d should be allowed: %+v err=%v", i, res, err)
		}
	}
	res, err := a.CheckRateLimit(ctx, "k1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("k1 4th request should be denied")
	}

	res, err = a.CheckRateLimit(ctx, "k2", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Error("k2 first request should be allowed despite k1 exhaustion")
	}
}

// TestBucketExpiration covers scenario 3.
func TestBucketExpiration(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 10, RefillRate: 1, CleanupInterval: time.Hour, BucketExpiration: 50 * time.Millisecond, Enabled: true}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	if _, err := a.CheckRateLimit(ctx, "k", 1); err != nil {
		t.Fatal(err)
	}

	fc.Advance(100 * time.Millisecond)
	if err := a.CleanupExpired(ctx); err != nil {
		t.Fatal(err)
	}

	// Give the single-writer loop a chance to process the cleanup message
	// before asserting on stats.
	deadline := time.Now().Add(time.Second)
	for {
		stats, err := a.GetStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.BucketCount == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bucket_count = %d, want 0", stats.BucketCount)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestResetBucket: after ResetBucket, next check with cost <= capacity allows.
func TestResetBucket(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 2, RefillRate: 0, CleanupInterval: time.Hour, BucketExpiration: time.Hour, Enabled: true}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := a.CheckRateLimit(ctx, "k", 1); err != nil {
			t.Fatal(err)
		}
	}
	res, _ := a.CheckRateLimit(ctx, "k", 1)
	if res.Allowed {
		t.Fatal("expected bucket exhausted before reset")
	}

	if err := a.ResetBucket(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		res, err := a.CheckRateLimit(ctx, "k", 2)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("reset bucket never allowed a full-capacity request")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestDisabledBypass covers scenario 7.
func TestDisabledBypass(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 1, RefillRate: 0, CleanupInterval: time.Hour, BucketExpiration: time.Hour, Enabled: false}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := a.CheckRateLimit(ctx, "any", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Errorf("request %d should be allowed while disabled", i)
		}
	}
}

// TestRemainingNeverExceedsCapacity is a property check from the Open
// Question in spec §9: remaining must never overshoot capacity or go negative.
func TestRemainingNeverExceedsCapacity(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := Config{BucketCapacity: 20, RefillRate: 1000, CleanupInterval: time.Hour, BucketExpiration: time.Hour, Enabled: true}
	a, _ := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		fc.Advance(10 * time.Millisecond)
		res, err := a.CheckRateLimit(ctx, "k", 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Remaining > 20 {
			t.Errorf("iteration %d: remaining %d exceeds capacity 20", i, res.Remaining)
		}
	}
}

func TestCalculateRefillRate(t *testing.T) {
	got := CalculateRefillRate(100, time.Minute)
	if got < 1.666 || got > 1.667 {
		t.Errorf("CalculateRefillRate(100, 1m) = %f, want ~1.6667", got)
	}
}
