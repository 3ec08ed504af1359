package tenant

import (
	"context"
	"log/slog"
	"time"

	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

// Limiter enforces per-tenant resource limits over the shared KV store.
type Limiter struct {
	kv     stream.KV
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter creates a Limiter. A nil logger falls back to slog.Default().
func NewLimiter(kv stream.KV, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Limiter{kv: kv, logger: logger, now: time.Now}
}

// SetClock overrides the time source used for hour buckets. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// CheckEventRateLimit admits or rejects one event against the tenant's
// hourly budget. Unset limit always admits.
//
// The increment-then-compare order is deliberate: the counter bump is a
// single atomic KV operation, so two concurrent callers at limit-1 can never
// both be admitted. An over-limit increment is compensated with a decrement
// so rejected attempts do not consume budget.
func (l *Limiter) CheckEventRateLimit(ctx context.Context, tc Context) (bool, error) {
	if tc.MaxEventsPerHour == nil {
		return true, nil
	}

	key := stream.RateKey(tc.TenantID, l.now())

	n, err := l.kv.IncrBy(ctx, key, 1, time.Hour)
	if err != nil {
		return false, err
	}

	if n > int64(*tc.MaxEventsPerHour) {
		if _, derr := l.kv.IncrBy(ctx, key, -1, 0); derr != nil {
			l.logger.Error("rate limit compensation failed", "tenant_id", tc.TenantID, "error", derr)
		}

		l.logger.Warn("event rate limit reached",
			"tenant_id", tc.TenantID, "limit", *tc.MaxEventsPerHour)

		return false, nil
	}

	return true, nil
}

// CheckSubscriptionLimit compares the tenant's current subscription count
// against its cap. Unset limit always passes.
func (l *Limiter) CheckSubscriptionLimit(currentCount int, tc Context) bool {
	if tc.MaxSubscriptions == nil {
		return true
	}

	if currentCount >= *tc.MaxSubscriptions {
		l.logger.Warn("subscription limit reached",
			"tenant_id", tc.TenantID, "limit", *tc.MaxSubscriptions, "current", currentCount)

		return false
	}

	return true
}
