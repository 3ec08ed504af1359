package tenant_test

import (
	"reflect"
	"testing"

	"github.com/next-trace/scg-tenant-bus/adapters/inmemory"
	"github.com/next-trace/scg-tenant-bus/tenant"
)

func TestGetContextCreatesDefault(t *testing.T) {
	kv := inmemory.NewKV()

	s, err := tenant.NewStore(kv, 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tc, err := s.GetContext(t.Context(), "fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if tc.TenantID != "fresh" || tc.SubscriptionTier != tenant.TierBasic || !tc.IsActive {
		t.Fatalf("default context: %+v", tc)
	}

	if tc.MaxEventsPerHour != nil || tc.MaxSubscriptions != nil {
		t.Fatal("default context must have no explicit limits")
	}

	// The default is persisted, not just cached.
	s.ClearCache()

	again, err := s.GetContext(t.Context(), "fresh")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if again.TenantID != "fresh" {
		t.Fatalf("persisted default lost: %+v", again)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	kv := inmemory.NewKV()

	s, err := tenant.NewStore(kv, 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	limit := 42
	tc := tenant.DefaultContext("acme")
	tc.TenantName = "Acme"
	tc.SubscriptionTier = "enterprise"
	tc.DataEncryptionEnabled = true
	tc.MaxEventsPerHour = &limit
	tc.AllowedEventTypes = []string{"lead.created"}
	tc.BlockedEventTypes = []string{"campaign.created"}

	if err := s.StoreContext(t.Context(), tc); err != nil {
		t.Fatalf("store: %v", err)
	}

	s.ClearCache()

	got, err := s.GetContext(t.Context(), "acme")
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}

	if !reflect.DeepEqual(got, tc) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tc)
	}
}

func TestStoreContextRejectsEmptyID(t *testing.T) {
	s, err := tenant.NewStore(inmemory.NewKV(), 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := s.StoreContext(t.Context(), tenant.Context{}); err == nil {
		t.Fatal("empty tenant id must be rejected")
	}
}

func TestStoreContextUpdatesCache(t *testing.T) {
	s, err := tenant.NewStore(inmemory.NewKV(), 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tc := tenant.DefaultContext("acme")
	if err := s.StoreContext(t.Context(), tc); err != nil {
		t.Fatalf("store: %v", err)
	}

	tc.IsActive = false
	if err := s.StoreContext(t.Context(), tc); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Cached read reflects the update without a cache clear.
	got, err := s.GetContext(t.Context(), "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.IsActive {
		t.Fatal("cache not invalidated on store")
	}
}
