package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

const (
	// redactedPrefix tags digested values so re-applying the transform is a
	// no-op. Redaction is one-way; there is no decrypt counterpart.
	redactedPrefix = "redacted:"

	digestLen          = 16
	basicMetadataLimit = 10
)

// sensitiveFields are redacted in payload and metadata when the tenant has
// data encryption enabled.
var sensitiveFields = []string{"email", "phone", "address", "credit_card", "ssn"}

// Guard enforces per-tenant policy on every event before it is exposed to a
// handler or persisted externally. EnsureTenantIsolation is the single choke
// point all boundary code must call.
type Guard struct {
	logger *slog.Logger
}

// NewGuard creates a Guard. A nil logger falls back to slog.Default().
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{logger: logger}
}

// IsEventAllowed applies the active flag, allow-list, and deny-list. Every
// rejection is logged with its reason.
func (g *Guard) IsEventAllowed(e event.Event, tc Context) bool {
	if !tc.IsActive {
		g.logger.Warn("event rejected: tenant inactive",
			"tenant_id", tc.TenantID, "event_type", e.EventType, "event_id", e.EventID)

		return false
	}

	if !tc.AllowsType(e.EventType) {
		g.logger.Warn("event rejected: event type not allowed",
			"tenant_id", tc.TenantID, "event_type", e.EventType, "event_id", e.EventID)

		return false
	}

	return true
}

// FilterEventData applies tier-based trimming and sensitive-field redaction.
// It operates on a deep copy and never mutates the input.
func (g *Guard) FilterEventData(e event.Event, tc Context) event.Event {
	out := e.Clone()

	if tc.SubscriptionTier == TierBasic {
		delete(out.Payload, "detailed_analytics")
		out.Metadata = truncateMetadata(out.Metadata, basicMetadataLimit)
	}

	if tc.DataEncryptionEnabled {
		redactSensitive(out.Payload, tc.TenantID)
		redactSensitive(out.Metadata, tc.TenantID)
	}

	return out
}

// EnsureTenantIsolation verifies tenant ownership and type policy, filters the
// event, and stamps isolation metadata. It returns a new event; the input is
// untouched.
func (g *Guard) EnsureTenantIsolation(e event.Event, tc Context) (event.Event, error) {
	if e.TenantID != tc.TenantID {
		g.logger.Error("tenant isolation violation: tenant mismatch",
			"event_tenant", e.TenantID, "context_tenant", tc.TenantID, "event_id", e.EventID)

		return event.Event{}, fmt.Errorf("event %s tenant %s vs context %s: %w",
			e.EventID, e.TenantID, tc.TenantID, berr.ErrTenantMismatch)
	}

	if !g.IsEventAllowed(e, tc) {
		if !tc.IsActive {
			return event.Event{}, fmt.Errorf("event %s for tenant %s: %w",
				e.EventID, tc.TenantID, berr.ErrTenantInactive)
		}

		return event.Event{}, fmt.Errorf("event type %s for tenant %s: %w",
			e.EventType, tc.TenantID, berr.ErrEventTypeNotAllowed)
	}

	out := g.FilterEventData(e, tc)

	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}

	out.Metadata["tenant_isolation"] = map[string]any{
		"tenant_id":            tc.TenantID,
		"subscription_tier":    tc.SubscriptionTier,
		"isolation_applied_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	return out, nil
}

// ValidateTenantAccess is the non-raising read-side check: can requesting
// tenant see this event. Logs and returns false on mismatch, never errors.
func (g *Guard) ValidateTenantAccess(e event.Event, requestingTenantID string) bool {
	if e.TenantID != requestingTenantID {
		g.logger.Warn("cross-tenant access denied",
			"event_tenant", e.TenantID, "requesting_tenant", requestingTenantID, "event_id", e.EventID)

		return false
	}

	return true
}

// RedactValue computes the tenant-salted one-way digest used for sensitive
// fields. Exposed so external stores can match redacted values.
func RedactValue(tenantID, value string) string {
	sum := sha256.Sum256([]byte(tenantID + value))

	return redactedPrefix + hex.EncodeToString(sum[:])[:digestLen]
}

func redactSensitive(m map[string]any, tenantID string) {
	for _, field := range sensitiveFields {
		v, ok := m[field]
		if !ok {
			continue
		}

		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}

		// Already-redacted values stay stable across repeated passes.
		if strings.HasPrefix(s, redactedPrefix) {
			continue
		}

		m[field] = RedactValue(tenantID, s)
	}
}

// truncateMetadata keeps at most limit entries. Keys are sorted first so the
// result is deterministic across runs; the isolation stamp key survives
// truncation by being re-added on stamping.
func truncateMetadata(m map[string]any, limit int) map[string]any {
	if len(m) <= limit {
		return m
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make(map[string]any, limit)
	for _, k := range keys[:limit] {
		out[k] = m[k]
	}

	return out
}
