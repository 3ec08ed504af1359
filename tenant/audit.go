package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

// AuditEntry is an append-only record of event activity for one tenant.
// Entries expire after the tenant's retention window.
type AuditEntry struct {
	TenantID      string         `json:"tenant_id"`
	Action        string         `json:"action"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	SourceService string         `json:"source_service,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Auditor writes and queries per-tenant audit trails over the KV store.
type Auditor struct {
	kv     stream.KV
	logger *slog.Logger
}

// NewAuditor creates an Auditor. A nil logger falls back to slog.Default().
func NewAuditor(kv stream.KV, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Auditor{kv: kv, logger: logger}
}

// LogEventActivity records one action against an event. No-op when the tenant
// has audit logging disabled. Audit failures are logged, not propagated: the
// data path must not fail because the trail is unavailable.
func (a *Auditor) LogEventActivity(ctx context.Context, tc Context, action string, e event.Event, details map[string]any) {
	if !tc.AuditLoggingEnabled {
		return
	}

	entry := AuditEntry{
		TenantID:      tc.TenantID,
		Action:        action,
		EventID:       e.EventID,
		EventType:     e.EventType,
		SourceService: e.SourceService,
		Details:       details,
		Timestamp:     time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("audit entry marshal failed", "tenant_id", tc.TenantID, "event_id", e.EventID, "error", err)

		return
	}

	key := stream.AuditKey(tc.TenantID, e.EventID)
	if err := a.kv.Set(ctx, key, data, tc.Retention()); err != nil {
		a.logger.Error("audit entry write failed", "tenant_id", tc.TenantID, "event_id", e.EventID, "error", err)
	}
}

// AuditTrail returns the tenant's audit entries within [start, end], newest
// first, truncated to limit. Zero start/end bounds are open; limit <= 0 means
// no truncation.
func (a *Auditor) AuditTrail(ctx context.Context, tenantID string, start, end time.Time, limit int) ([]AuditEntry, error) {
	pairs, err := a.kv.ScanPrefix(ctx, stream.AuditPrefix(tenantID))
	if err != nil {
		return nil, fmt.Errorf("audit trail scan %s: %w", tenantID, berr.ErrStoreUnavailable)
	}

	entries := make([]AuditEntry, 0, len(pairs))

	for key, data := range pairs {
		var entry AuditEntry
		if uerr := json.Unmarshal(data, &entry); uerr != nil {
			a.logger.Warn("skipping unreadable audit entry", "key", key, "error", uerr)

			continue
		}

		if !start.IsZero() && entry.Timestamp.Before(start) {
			continue
		}

		if !end.IsZero() && entry.Timestamp.After(end) {
			continue
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}
