package servicecoord

import (
	"context"
	"testing"
	"time"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
)

func startAgent(t *testing.T, cfg Config, fc *clock.Fake) *Agent {
	t.Helper()
	a := New(cfg, fc)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Start(ctx)
	t.Cleanup(cancel)
	return a
}

func TestAllSixServicesPresent(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	a := startAgent(t, DefaultConfig(), fc)
	snap, err := a.GetServiceStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Services) != 6 {
		t.Fatalf("expected 6 services, got %d", len(snap.Services))
	}
	for _, id := range All() {
		svc, ok := snap.Services[id]
		if !ok {
			t.Fatalf("missing service %s", id)
		}
		if svc.State != Unknown {
			t.Errorf("%s: initial state = %s, want unknown", id, svc.State)
		}
		if svc.CircuitState != Closed {
			t.Errorf("%s: initial circuit = %s, want closed", id, svc.CircuitState)
		}
	}
}

// TestCircuitOpensAtThreshold covers scenario 4 of spec §8.
func TestCircuitOpensAtThreshold(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	a := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.HealthCheckResult(ctx, Auth, false, 0, "timeout"); err != nil {
			t.Fatal(err)
		}
	}

	var snap StatusSnapshot
	deadline := time.Now().Add(time.Second)
	for {
		var err error
		snap, err = a.GetServiceStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Services[Auth].State == Unhealthy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("auth state = %s, want unhealthy", snap.Services[Auth].State)
		}
		time.Sleep(time.Millisecond)
	}
	if snap.Services[Auth].CircuitState != Open {
		t.Errorf("auth circuit = %s, want open", snap.Services[Auth].CircuitState)
	}
}

// TestCircuitRecovers covers scenario 5 of spec §8.
func TestCircuitRecovers(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.RecoveryTimeout = 50 * time.Millisecond
	a := startAgent(t, cfg, fc)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := a.HealthCheckResult(ctx, Data, false, 0, "error"); err != nil {
			t.Fatal(err)
		}
	}

	waitUntil(t, func() bool {
		snap, _ := a.GetServiceStatus(ctx)
		return snap.Services[Data].CircuitState == Open
	})

	fc.Advance(100 * time.Millisecond)

	// Simulate the half-open probe query that a caller would issue before
	// attempting the request, then report its outcome.
	allowed, err := a.Allow(ctx, Data)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatal("expected half-open to allow a probe after recovery timeout")
	}

	if err := a.HealthCheckResult(ctx, Data, true, 12, ""); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool {
		snap, _ := a.GetServiceStatus(ctx)
		return snap.Services[Data].State == Healthy && snap.Services[Data].CircuitState == Closed
	})
}

func TestServiceAvailableClearsFailures(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	a := startAgent(t, DefaultConfig(), fc)
	ctx := context.Background()

	if err := a.ServiceUnavailable(ctx, Cache, "blip"); err != nil {
		t.Fatal(err)
	}
	if err := a.ServiceAvailable(ctx, Cache); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool {
		snap, _ := a.GetServiceStatus(ctx)
		return snap.Services[Cache].State == Healthy && snap.Services[Cache].CircuitState == Closed
	})
}

func TestSubscribeReceivesOnlyFutureTransitions(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	a := startAgent(t, DefaultConfig(), fc)
	ctx := context.Background()

	// Transition happens before Subscribe: must not be observed.
	if err := a.ServiceAvailable(ctx, Email); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		snap, _ := a.GetServiceStatus(ctx)
		return snap.Services[Email].State == Healthy
	})

	recv, err := a.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	// A single failure while Closed drops the coarse state straight from
	// Healthy to Degraded (failure_count=1 < threshold), which is already a
	// transition and must be observed by the new subscriber.
	if err := a.ServiceUnavailable(ctx, Email, "down"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-recv.C():
		if ev.ServiceID != Email {
			t.Errorf("event for wrong service: %s", ev.ServiceID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
