package hotreload

import (
	"context"
	"sort"
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

// TestDebounceCoalescing covers scenario 6 of spec §8.
func TestDebounceCoalescing(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := DefaultConfig()
	cfg.Debounce[Templates] = 50 * time.Millisecond
	a := startAgent(t, cfg, fc)
	ctx := context.Background()

	recv, err := a.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	want := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, p := range want {
		if err := a.FileChanged(ctx, Templates, p); err != nil {
			t.Fatal(err)
		}
	}

	// Let the agent record the five changes, then move the fake clock past
	// the 50ms debounce so the next tick emits the coalesced reload.
	time.Sleep(20 * time.Millisecond)
	fc.Advance(100 * time.Millisecond)

	select {
	case ev := <-recv.C():
		got := append([]string(nil), ev.Paths...)
		sort.Strings(got)
		sort.Strings(want)
		if len(got) != len(want) {
			t.Fatalf("paths = %v, want %v", got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("paths = %v, want %v", got, want)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}

	select {
	case ev := <-recv.C():
		t.Fatalf("unexpected second reload event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestForceReloadEmptyWhenNothingPending(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	a := startAgent(t, DefaultConfig(), fc)
	ctx := context.Background()

	recv, err := a.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	if err := a.ForceReload(ctx, Assets); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-recv.C():
		if len(ev.Paths) != 0 {
			t.Errorf("expected empty paths, got %v", ev.Paths)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forced reload event")
	}
}

func TestDisabledDropsFileChanged(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	cfg := DefaultConfig()
	cfg.Enabled = false
	a := startAgent(t, cfg, fc)
	ctx := context.Background()

	if err := a.FileChanged(ctx, ConfigType, "p"); err != nil {
		t.Fatal(err)
	}

	stats, err := a.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.PendingTypes) != 0 {
		t.Errorf("expected no pending types while disabled, got %v", stats.PendingTypes)
	}
}
