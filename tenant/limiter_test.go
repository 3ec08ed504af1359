package tenant_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-tenant-bus/adapters/inmemory"
	"github.com/next-trace/scg-tenant-bus/tenant"
)

func TestRateLimitUnlimited(t *testing.T) {
	l := tenant.NewLimiter(inmemory.NewKV(), nil)
	tc := tenant.DefaultContext("t1") // no MaxEventsPerHour

	for i := 0; i < 100; i++ {
		ok, err := l.CheckEventRateLimit(t.Context(), tc)
		if err != nil || !ok {
			t.Fatalf("unlimited tenant rejected at %d: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestRateLimitBoundary(t *testing.T) {
	kv := inmemory.NewKV()

	base := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return base })

	l := tenant.NewLimiter(kv, nil)
	l.SetClock(func() time.Time { return base })

	limit := 5
	tc := tenant.DefaultContext("t1")
	tc.MaxEventsPerHour = &limit

	for i := 0; i < 5; i++ {
		ok, err := l.CheckEventRateLimit(t.Context(), tc)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}

		if !ok {
			t.Fatalf("check %d rejected before limit", i)
		}
	}

	ok, err := l.CheckEventRateLimit(t.Context(), tc)
	if err != nil {
		t.Fatalf("6th check: %v", err)
	}

	if ok {
		t.Fatal("6th check within the hour must be rejected")
	}

	// After the hour bucket rolls over, events flow again.
	later := base.Add(time.Hour)
	kv.SetClock(func() time.Time { return later })
	l.SetClock(func() time.Time { return later })

	ok, err = l.CheckEventRateLimit(t.Context(), tc)
	if err != nil || !ok {
		t.Fatalf("next hour bucket must admit: ok=%v err=%v", ok, err)
	}
}

// Two concurrent callers at limit-1 must not both be admitted: the counter
// bump is a single atomic operation and the compare happens after it.
func TestRateLimitConcurrentBoundary(t *testing.T) {
	kv := inmemory.NewKV()
	l := tenant.NewLimiter(kv, nil)

	limit := 5
	tc := tenant.DefaultContext("t1")
	tc.MaxEventsPerHour = &limit

	for i := 0; i < 4; i++ {
		if ok, err := l.CheckEventRateLimit(t.Context(), tc); err != nil || !ok {
			t.Fatalf("warmup %d: ok=%v err=%v", i, ok, err)
		}
	}

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := l.CheckEventRateLimit(t.Context(), tc)
			if err != nil {
				t.Errorf("concurrent check: %v", err)

				return
			}

			if ok {
				admitted.Add(1)
			}
		}()
	}

	wg.Wait()

	if admitted.Load() != 1 {
		t.Fatalf("exactly one caller must be admitted at the boundary, got %d", admitted.Load())
	}
}

func TestSubscriptionLimit(t *testing.T) {
	l := tenant.NewLimiter(inmemory.NewKV(), nil)

	tc := tenant.DefaultContext("t1")
	if !l.CheckSubscriptionLimit(1000, tc) {
		t.Fatal("unset limit must always pass")
	}

	max := 3
	tc.MaxSubscriptions = &max

	if !l.CheckSubscriptionLimit(2, tc) {
		t.Fatal("under limit rejected")
	}

	if l.CheckSubscriptionLimit(3, tc) {
		t.Fatal("at limit admitted")
	}
}
