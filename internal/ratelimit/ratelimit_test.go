package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireUnderLimit(t *testing.T) {
	l := New(5, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("5 acquires under the limit took %v, expected no blocking", elapsed)
	}

	st := l.Stats()
	if st.Used != 5 || st.Remaining != 0 {
		t.Errorf("Stats = %+v, want Used=5 Remaining=0", st)
	}
}

func TestAcquireBlocksAtLimit(t *testing.T) {
	// 6 sequential acquires with maxCalls=5, window=1s must take >= 1s.
	l := New(5, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 6; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("6 acquires completed in %v, want >= 1s", elapsed)
	}
}

func TestAcquireEvictsStaleEntries(t *testing.T) {
	// Drive the clock manually so eviction is deterministic.
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	now := base
	l := New(2, time.Minute)
	l.now = func() time.Time { return now }
	l.sleep = func(context.Context, time.Duration) error {
		t.Fatal("sleep should not be needed once stale entries are evicted")
		return nil
	}

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Advance past the window: both entries are stale, no blocking.
	now = base.Add(61 * time.Second)
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	st := l.Stats()
	if st.Used != 1 {
		t.Errorf("Used = %d after eviction, want 1", st.Used)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("Acquire should fail when the context expires while waiting")
	}
}

func TestAcquireConcurrent(t *testing.T) {
	// All goroutines must eventually get through without losing admissions.
	l := New(10, 100*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Acquire: %v", err)
		}
	}
}
