package stream_test

import (
	"testing"
	"time"

	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

func TestKeyNaming(t *testing.T) {
	if got := stream.LogName("lead.created"); got != "events:lead.created" {
		t.Fatalf("log name: %s", got)
	}

	if got := stream.GroupName("crm"); got != "service:crm" {
		t.Fatalf("group name: %s", got)
	}

	if got := stream.TenantContextKey("t1"); got != "tenant_context:t1" {
		t.Fatalf("context key: %s", got)
	}

	if got := stream.AuditKey("t1", "e1"); got != "tenant_audit:t1:e1" {
		t.Fatalf("audit key: %s", got)
	}

	if got := stream.AuditPrefix("t1"); got != "tenant_audit:t1:" {
		t.Fatalf("audit prefix: %s", got)
	}
}

func TestRateKeyHourBuckets(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 59, 59, 0, time.UTC)
	if got := stream.RateKey("t1", ts); got != "tenant_events:t1:2026083010" {
		t.Fatalf("rate key: %s", got)
	}

	// Same hour, different minute shares the bucket.
	if stream.RateKey("t1", ts) != stream.RateKey("t1", ts.Add(-30*time.Minute)) {
		t.Fatal("minutes within one hour must share a bucket")
	}

	// Next hour rolls the bucket.
	if stream.RateKey("t1", ts) == stream.RateKey("t1", ts.Add(time.Minute)) {
		t.Fatal("hour rollover must change the bucket")
	}

	// Non-UTC inputs normalize to the same bucket.
	offset := time.FixedZone("plus2", 2*3600)
	if stream.RateKey("t1", ts) != stream.RateKey("t1", ts.In(offset)) {
		t.Fatal("rate key must be timezone independent")
	}
}
