package session

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/toolmesh/core"
)

func TestJanitor_SweepEvictsIdleSessions(t *testing.T) {
	store := NewInMemoryStore()
	locks := core.NewKeyedMutex()
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "idle"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := store.GetOrCreate(ctx, "fresh"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	j := NewJanitor(store, locks, 10*time.Millisecond)
	evicted := j.Sweep(ctx)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}

	if _, err := store.Get(ctx, "idle"); err == nil {
		t.Fatal("idle session should have been evicted")
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}

func TestJanitor_SweepRechecksUnderLock(t *testing.T) {
	store := NewInMemoryStore()
	locks := core.NewKeyedMutex()
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "busy"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Simulate an in-flight request holding the session lock. While held the
	// request refreshes activity, so the janitor's re-check must spare it.
	locks.Lock("busy")
	done := make(chan int)
	go func() {
		j := NewJanitor(store, locks, 10*time.Millisecond)
		done <- j.Sweep(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := store.Touch(ctx, "busy"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	locks.Unlock("busy")

	if evicted := <-done; evicted != 0 {
		t.Fatalf("expected no evictions after activity refresh, got %d", evicted)
	}
	if _, err := store.Get(ctx, "busy"); err != nil {
		t.Fatalf("busy session must survive the sweep: %v", err)
	}
}

func TestJanitor_ZeroTimeoutDisablesEviction(t *testing.T) {
	store := NewInMemoryStore()
	locks := core.NewKeyedMutex()

	j := NewJanitor(store, locks, 0)
	j.Start() // no-op
	j.Stop()
}

func TestJanitor_StartStop(t *testing.T) {
	store := NewInMemoryStore()
	locks := core.NewKeyedMutex()

	j := NewJanitor(store, locks, time.Hour, func(o *JanitorOptions) {
		o.Interval = 5 * time.Millisecond
	})
	j.Start()
	time.Sleep(15 * time.Millisecond)
	j.Stop()

	// Stop is idempotent.
	j.Stop()
}
