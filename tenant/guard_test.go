package tenant_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/tenant"
)

func activeCtx(id string) tenant.Context {
	return tenant.DefaultContext(id)
}

func TestIsEventAllowed(t *testing.T) {
	g := tenant.NewGuard(nil)
	e := event.New("lead.created", "t1", nil)

	tc := activeCtx("t1")
	if !g.IsEventAllowed(e, tc) {
		t.Fatal("default context must allow")
	}

	// Inactive tenants are denied every type.
	tc.IsActive = false
	for _, typ := range []string{"lead.created", "campaign.created", "anything"} {
		if g.IsEventAllowed(event.New(typ, "t1", nil), tc) {
			t.Fatalf("inactive tenant allowed %s", typ)
		}
	}

	tc = activeCtx("t1")
	tc.AllowedEventTypes = []string{"lead.created"}

	if !g.IsEventAllowed(e, tc) {
		t.Fatal("allow-listed type rejected")
	}

	if g.IsEventAllowed(event.New("campaign.created", "t1", nil), tc) {
		t.Fatal("type outside allow-list admitted")
	}

	tc = activeCtx("t1")
	tc.BlockedEventTypes = []string{"lead.created"}

	if g.IsEventAllowed(e, tc) {
		t.Fatal("deny-listed type admitted")
	}
}

func TestFilterEventDataBasicTier(t *testing.T) {
	g := tenant.NewGuard(nil)

	md := map[string]any{}
	for i := 0; i < 15; i++ {
		md[fmt.Sprintf("key%02d", i)] = i
	}

	e := event.New("lead.created", "t1", map[string]any{
		"name":               "x",
		"detailed_analytics": map[string]any{"clicks": 9},
	}, event.WithMetadata(md))

	tc := activeCtx("t1") // basic tier

	out := g.FilterEventData(e, tc)

	if _, ok := out.Payload["detailed_analytics"]; ok {
		t.Fatal("basic tier must drop detailed_analytics")
	}

	if len(out.Metadata) > 10 {
		t.Fatalf("basic tier metadata not truncated: %d entries", len(out.Metadata))
	}

	// The input is never mutated.
	if _, ok := e.Payload["detailed_analytics"]; !ok {
		t.Fatal("filter mutated input payload")
	}

	if len(e.Metadata) != 15 {
		t.Fatalf("filter mutated input metadata: %d", len(e.Metadata))
	}

	// Non-basic tiers keep everything.
	tc.SubscriptionTier = "enterprise"

	out = g.FilterEventData(e, tc)
	if _, ok := out.Payload["detailed_analytics"]; !ok {
		t.Fatal("enterprise tier must keep detailed_analytics")
	}
}

func TestFilterEventDataRedaction(t *testing.T) {
	g := tenant.NewGuard(nil)

	e := event.New("lead.created", "t1", map[string]any{
		"email": "jane@example.com",
		"phone": "555-0100",
		"name":  "jane",
	})

	tc := activeCtx("t1")
	tc.DataEncryptionEnabled = true

	out := g.FilterEventData(e, tc)

	email, _ := out.Payload["email"].(string)
	if !strings.HasPrefix(email, "redacted:") || strings.Contains(email, "jane@example.com") {
		t.Fatalf("email not redacted: %q", email)
	}

	if out.Payload["name"] != "jane" {
		t.Fatal("non-sensitive field must pass through")
	}

	// Tenant-salted: the same value digests differently per tenant.
	if tenant.RedactValue("t1", "jane@example.com") == tenant.RedactValue("t2", "jane@example.com") {
		t.Fatal("digest must be tenant-salted")
	}

	if email != tenant.RedactValue("t1", "jane@example.com") {
		t.Fatal("redacted value must match RedactValue")
	}

	// Re-filtering never re-digests an already-redacted value.
	again := g.FilterEventData(out, tc)
	if again.Payload["email"] != out.Payload["email"] {
		t.Fatal("redaction must be idempotent")
	}

	// Disabled encryption leaves values untouched.
	tc.DataEncryptionEnabled = false
	if v := g.FilterEventData(e, tc).Payload["email"]; v != "jane@example.com" {
		t.Fatalf("redaction applied while disabled: %v", v)
	}
}

func TestEnsureTenantIsolation(t *testing.T) {
	g := tenant.NewGuard(nil)
	tc := activeCtx("t1")

	e := event.New("lead.created", "t1", map[string]any{"name": "x"})

	out, err := g.EnsureTenantIsolation(e, tc)
	if err != nil {
		t.Fatalf("isolation failed: %v", err)
	}

	stamp, ok := out.Metadata["tenant_isolation"].(map[string]any)
	if !ok {
		t.Fatal("missing isolation stamp")
	}

	if stamp["tenant_id"] != "t1" || stamp["subscription_tier"] != tenant.TierBasic {
		t.Fatalf("stamp contents: %v", stamp)
	}

	// Idempotent on core fields: re-applying never changes tenant, id, payload.
	out2, err := g.EnsureTenantIsolation(out, tc)
	if err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}

	if out2.TenantID != out.TenantID || out2.EventID != out.EventID {
		t.Fatal("re-apply changed identity fields")
	}

	if out2.Payload["name"] != out.Payload["name"] {
		t.Fatal("re-apply changed payload")
	}

	// Tenant mismatch is surfaced as an error, never silently passed.
	_, err = g.EnsureTenantIsolation(event.New("lead.created", "t2", nil), tc)
	if !errors.Is(err, berr.ErrTenantMismatch) {
		t.Fatalf("want ErrTenantMismatch, got %v", err)
	}

	// Disallowed type.
	tc.AllowedEventTypes = []string{"campaign.created"}

	_, err = g.EnsureTenantIsolation(e, tc)
	if !errors.Is(err, berr.ErrEventTypeNotAllowed) {
		t.Fatalf("want ErrEventTypeNotAllowed, got %v", err)
	}

	// Inactive tenant.
	tc = activeCtx("t1")
	tc.IsActive = false

	_, err = g.EnsureTenantIsolation(e, tc)
	if !errors.Is(err, berr.ErrTenantInactive) {
		t.Fatalf("want ErrTenantInactive, got %v", err)
	}
}

func TestValidateTenantAccess(t *testing.T) {
	g := tenant.NewGuard(nil)
	e := event.New("lead.created", "t1", nil)

	if !g.ValidateTenantAccess(e, "t1") {
		t.Fatal("owner access denied")
	}

	if g.ValidateTenantAccess(e, "t2") {
		t.Fatal("cross-tenant access admitted")
	}
}
