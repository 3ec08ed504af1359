package tenant_test

import (
	"testing"
	"time"

	"github.com/next-trace/scg-tenant-bus/adapters/inmemory"
	"github.com/next-trace/scg-tenant-bus/contract/event"
	"github.com/next-trace/scg-tenant-bus/tenant"
)

func TestAuditDisabledWritesNothing(t *testing.T) {
	kv := inmemory.NewKV()
	a := tenant.NewAuditor(kv, nil)

	tc := tenant.DefaultContext("t1")
	tc.AuditLoggingEnabled = false

	a.LogEventActivity(t.Context(), tc, "published", event.New("lead.created", "t1", nil), nil)

	trail, err := a.AuditTrail(t.Context(), "t1", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	if len(trail) != 0 {
		t.Fatalf("audit-disabled tenant has %d entries", len(trail))
	}
}

func TestAuditTrailOrderAndLimit(t *testing.T) {
	kv := inmemory.NewKV()
	a := tenant.NewAuditor(kv, nil)
	tc := tenant.DefaultContext("t1")

	for i := 0; i < 5; i++ {
		a.LogEventActivity(t.Context(), tc, "published", event.New("lead.created", "t1", nil), map[string]any{"i": i})
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	trail, err := a.AuditTrail(t.Context(), "t1", time.Time{}, time.Time{}, 3)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	if len(trail) != 3 {
		t.Fatalf("limit not applied: %d", len(trail))
	}

	for i := 1; i < len(trail); i++ {
		if trail[i].Timestamp.After(trail[i-1].Timestamp) {
			t.Fatal("trail must be sorted newest first")
		}
	}
}

func TestAuditTrailWindow(t *testing.T) {
	kv := inmemory.NewKV()
	a := tenant.NewAuditor(kv, nil)
	tc := tenant.DefaultContext("t1")

	before := time.Now().UTC()
	a.LogEventActivity(t.Context(), tc, "published", event.New("lead.created", "t1", nil), nil)
	after := time.Now().UTC()

	trail, err := a.AuditTrail(t.Context(), "t1", before.Add(-time.Minute), after.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	if len(trail) != 1 {
		t.Fatalf("in-window entry missing: %d", len(trail))
	}

	if trail[0].Action != "published" || trail[0].EventType != "lead.created" {
		t.Fatalf("entry contents: %+v", trail[0])
	}

	// A window entirely in the past excludes the entry.
	trail, err = a.AuditTrail(t.Context(), "t1", before.Add(-2*time.Hour), before.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	if len(trail) != 0 {
		t.Fatalf("out-of-window entries returned: %d", len(trail))
	}
}

func TestAuditIsolatedPerTenant(t *testing.T) {
	kv := inmemory.NewKV()
	a := tenant.NewAuditor(kv, nil)

	a.LogEventActivity(t.Context(), tenant.DefaultContext("t1"), "published", event.New("x", "t1", nil), nil)
	a.LogEventActivity(t.Context(), tenant.DefaultContext("t2"), "published", event.New("x", "t2", nil), nil)

	trail, err := a.AuditTrail(t.Context(), "t1", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	if len(trail) != 1 || trail[0].TenantID != "t1" {
		t.Fatalf("cross-tenant leakage in trail: %+v", trail)
	}
}
