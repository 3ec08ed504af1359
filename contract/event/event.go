package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

// Category is a coarse classification of events, independent of their type tag.
type Category string

const (
	CategoryDomain       Category = "domain"
	CategoryIntegration  Category = "integration"
	CategorySystem       Category = "system"
	CategoryNotification Category = "notification"
	CategoryAudit        Category = "audit"
)

// Priority indicates relative urgency for downstream consumers. The bus itself
// does not schedule by priority; it is advisory metadata.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status values are carried for downstream workflow engines.
// The bus never reads or mutates Status, RetryCount, or MaxRetries.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Event is the envelope for everything that flows through the bus.
// An Event is scoped to exactly one tenant: TenantID is fixed at construction
// and must never be rewritten in place. Cross-tenant fan-out requires emitting
// a new event per tenant.
type Event struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion string    `json:"event_version"`
	Timestamp    time.Time `json:"timestamp"`

	TenantID      string `json:"tenant_id"`
	SourceService string `json:"source_service,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`

	Category Category `json:"category"`
	Priority Priority `json:"priority"`

	AggregateID   string `json:"aggregate_id,omitempty"`
	AggregateType string `json:"aggregate_type,omitempty"`

	Payload  map[string]any `json:"payload"`
	Metadata map[string]any `json:"metadata"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	TargetServices []string `json:"target_services,omitempty"`
	RoutingKey     string   `json:"routing_key,omitempty"`
}

// Option mutates an event during construction only.
type Option func(*Event)

// New constructs an event with a fresh ID and timestamp. TenantID is mandatory
// and fixed from here on.
func New(eventType, tenantID string, payload map[string]any, opts ...Option) Event {
	e := Event{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: "1.0",
		Timestamp:    time.Now().UTC(),
		TenantID:     tenantID,
		Category:     CategoryDomain,
		Priority:     PriorityNormal,
		Payload:      payload,
		Metadata:     map[string]any{},
		Status:       StatusPending,
		MaxRetries:   3,
	}

	for _, o := range opts {
		o(&e)
	}

	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	return e
}

// WithSource sets the producing service name.
func WithSource(service string) Option { return func(e *Event) { e.SourceService = service } }

// WithCorrelation links the event into a correlation chain; causation points at
// the event that directly caused this one.
func WithCorrelation(correlationID, causationID string) Option {
	return func(e *Event) {
		e.CorrelationID = correlationID
		e.CausationID = causationID
	}
}

// WithCategory overrides the default category.
func WithCategory(c Category) Option { return func(e *Event) { e.Category = c } }

// WithPriority overrides the default priority.
func WithPriority(p Priority) Option { return func(e *Event) { e.Priority = p } }

// WithAggregate points the event at the domain entity it describes.
func WithAggregate(aggregateType, aggregateID string) Option {
	return func(e *Event) {
		e.AggregateType = aggregateType
		e.AggregateID = aggregateID
	}
}

// WithTargets records the intended consumer services. Advisory only; the bus
// does not enforce targeting.
func WithTargets(services ...string) Option {
	return func(e *Event) { e.TargetServices = append([]string(nil), services...) }
}

// WithRouting derives a tenant-scoped routing key of the form tenant.<id>.<base>.
func WithRouting(base string) Option {
	return func(e *Event) { e.RoutingKey = RoutingKey(e.TenantID, base) }
}

// WithMetadata seeds producer metadata. After publish, metadata is bus- and
// isolation-layer-augmented and no longer producer-authoritative.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) {
		for k, v := range md {
			e.Metadata[k] = v
		}
	}
}

// RoutingKey builds the tenant-scoped routing key for a base key.
func RoutingKey(tenantID, base string) string {
	return fmt.Sprintf("tenant.%s.%s", tenantID, base)
}

// Validate reports whether the envelope satisfies the minimum contract.
func (e Event) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("event %s: missing tenant id: %w", e.EventID, berr.ErrTenantMismatch)
	}

	if e.EventType == "" {
		return fmt.Errorf("event %s: missing event type: %w", e.EventID, berr.ErrSerializationFailed)
	}

	return nil
}

// Clone returns a deep copy. Payload and Metadata maps are copied recursively
// so mutations on the clone never reach the original.
func (e Event) Clone() Event {
	c := e
	c.Payload = deepCopyMap(e.Payload)
	c.Metadata = deepCopyMap(e.Metadata)
	c.TargetServices = append([]string(nil), e.TargetServices...)

	return c
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}

	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}

		return out
	default:
		return v
	}
}

// Marshal encodes the event for the wire.
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, berr.ErrSerializationFailed)
	}

	return b, nil
}

// Unmarshal decodes a wire entry back into an event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", berr.ErrSerializationFailed)
	}

	return e, nil
}
