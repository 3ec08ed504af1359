package event

import "sync"

// Constructor builds a typed event for a registered type tag, pre-filling
// category, priority, and target services.
type Constructor func(tenantID string, payload map[string]any, opts ...Option) Event

// Registry maps event-type tags to constructors. It is an explicit, injectable
// object passed to the bus at construction time; there is no process-wide
// registry. Unknown types fall back to a generic constructor, never an error.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register installs a constructor for an event type. Later registrations for
// the same type replace earlier ones.
func (r *Registry) Register(eventType string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[eventType] = c
}

// RegisterDefaults installs a constructor that stamps the given category,
// priority, and targets onto events of the type.
func (r *Registry) RegisterDefaults(eventType string, cat Category, pri Priority, targets ...string) {
	r.Register(eventType, func(tenantID string, payload map[string]any, opts ...Option) Event {
		base := []Option{WithCategory(cat), WithPriority(pri)}
		if len(targets) > 0 {
			base = append(base, WithTargets(targets...))
		}

		return New(eventType, tenantID, payload, append(base, opts...)...)
	})
}

// Types returns the registered type tags. Used by the bus to pre-create one
// log and consumer group per known type.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}

	return out
}

// Create builds an event of the given type. Unknown types produce a generic
// untyped event with default category and priority.
func (r *Registry) Create(eventType, tenantID string, payload map[string]any, opts ...Option) Event {
	r.mu.RLock()
	c, ok := r.constructors[eventType]
	r.mu.RUnlock()

	if !ok {
		return New(eventType, tenantID, payload, opts...)
	}

	return c(tenantID, payload, opts...)
}

// DefaultRegistry returns a registry seeded with the platform's known event
// types. Callers may extend or replace it freely.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterDefaults("lead.created", CategoryDomain, PriorityHigh, "crm", "analytics")
	r.RegisterDefaults("lead.updated", CategoryDomain, PriorityNormal, "crm", "analytics")
	r.RegisterDefaults("lead.converted", CategoryDomain, PriorityHigh, "crm", "billing", "analytics")
	r.RegisterDefaults("campaign.created", CategoryDomain, PriorityNormal, "marketing")
	r.RegisterDefaults("campaign.launched", CategoryDomain, PriorityHigh, "marketing", "analytics")
	r.RegisterDefaults("campaign.completed", CategoryDomain, PriorityNormal, "marketing", "analytics")
	r.RegisterDefaults("message.sent", CategoryIntegration, PriorityNormal, "messaging")
	r.RegisterDefaults("message.delivered", CategoryIntegration, PriorityLow, "messaging", "analytics")
	r.RegisterDefaults("message.failed", CategoryIntegration, PriorityHigh, "messaging", "ops")
	r.RegisterDefaults("workflow.started", CategorySystem, PriorityNormal, "workflow")
	r.RegisterDefaults("workflow.completed", CategorySystem, PriorityNormal, "workflow", "analytics")
	r.RegisterDefaults("workflow.failed", CategorySystem, PriorityCritical, "workflow", "ops")
	r.RegisterDefaults("tenant.provisioned", CategorySystem, PriorityHigh, "ops", "billing")
	r.RegisterDefaults("notification.requested", CategoryNotification, PriorityNormal, "notifications")

	return r
}
