package stream

import (
	"context"
	"fmt"
	"time"
)

// Entry is one record read from an ordered log. ID is the broker-assigned
// offset/identifier used for acknowledgment.
type Entry struct {
	ID   string
	Data []byte
}

// PendingEntry describes an entry read by a consumer group but not yet
// acknowledged.
type PendingEntry struct {
	ID        string
	Consumer  string
	Delivered time.Time
	Retries   int
}

// Info is introspection data about one log.
type Info struct {
	Name         string
	Length       int64
	GroupCount   int
	LastEntryID  string
	FirstEntryID string
}

// Log abstracts an external durable, ordered, append-only log supporting
// consumer groups, acknowledgment, and approximate trimming. Implementations
// map to JetStream, Kafka, or the in-memory test adapter.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Log interface {
	// EnsureGroup creates the log (if needed) and a consumer group on it.
	// Returns errors.ErrGroupExists (possibly wrapped) when the group is
	// already present; callers treat that as success.
	EnsureGroup(ctx context.Context, log, group string) error

	// Append adds an entry and returns its ID. maxLen caps the log to an
	// approximate maximum length, evicting oldest entries first; zero means
	// no trimming.
	Append(ctx context.Context, log string, data []byte, maxLen int64) (string, error)

	// ReadGroup performs a blocking read of up to count unread entries for
	// the group, waiting at most block. A nil/empty result with nil error
	// means the wait timed out with nothing to deliver.
	ReadGroup(ctx context.Context, log, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack acknowledges entries against the consumer group.
	Ack(ctx context.Context, log, group string, ids ...string) error

	// Info returns log introspection data. A missing log yields a zero Info
	// and nil error.
	Info(ctx context.Context, log string) (Info, error)

	// Pending lists read-but-unacknowledged entries for the group. A missing
	// log or group yields an empty result and nil error.
	Pending(ctx context.Context, log, group string) ([]PendingEntry, error)
}

// KV abstracts the key-value store used for tenant contexts, audit entries,
// and rate-limit counters. Single-key operations must be atomic.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes a value. ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// IncrBy atomically increments a counter and returns the new value.
	// When the increment creates the key, ttl is applied; otherwise ttl is
	// ignored and the existing expiry is retained.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// ScanPrefix returns all live key/value pairs whose key starts with
	// prefix.
	ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Key naming scheme shared by every storage backend.

// LogName returns the ordered-log name for an event type.
func LogName(eventType string) string { return "events:" + eventType }

// GroupName returns the consumer-group name for a subscribing service.
func GroupName(service string) string { return "service:" + service }

// TenantContextKey returns the KV key holding a tenant's context record.
func TenantContextKey(tenantID string) string { return "tenant_context:" + tenantID }

// AuditKey returns the KV key for one audit entry.
func AuditKey(tenantID, eventID string) string {
	return fmt.Sprintf("tenant_audit:%s:%s", tenantID, eventID)
}

// AuditPrefix returns the scan prefix covering a tenant's audit entries.
func AuditPrefix(tenantID string) string { return fmt.Sprintf("tenant_audit:%s:", tenantID) }

// RateKey returns the per-tenant hour-bucket counter key for ts.
func RateKey(tenantID string, ts time.Time) string {
	return fmt.Sprintf("tenant_events:%s:%s", tenantID, ts.UTC().Format("2006010215"))
}
