package tenant

import (
	"encoding/json"
	"fmt"
	"time"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

// TierBasic is the default subscription tier. Basic tenants get payload and
// metadata trimming in FilterEventData.
const TierBasic = "basic"

const defaultRetentionDays = 30

// Context is the authorization and resource policy for one tenant. Tenants
// are never hard-deleted; deactivate via IsActive=false.
type Context struct {
	TenantID         string `json:"tenant_id"`
	TenantName       string `json:"tenant_name,omitempty"`
	SubscriptionTier string `json:"subscription_tier"`
	IsActive         bool   `json:"is_active"`

	DataEncryptionEnabled bool `json:"data_encryption_enabled"`
	AuditLoggingEnabled   bool `json:"audit_logging_enabled"`

	// nil limits mean unlimited.
	MaxEventsPerHour      *int `json:"max_events_per_hour,omitempty"`
	MaxSubscriptions      *int `json:"max_subscriptions,omitempty"`
	MaxEventRetentionDays int  `json:"max_event_retention_days"`

	// AllowedEventTypes nil means all types allowed; BlockedEventTypes is a
	// deny-list applied after the allow-list.
	AllowedEventTypes []string `json:"allowed_event_types,omitempty"`
	BlockedEventTypes []string `json:"blocked_event_types,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultContext builds the policy a tenant receives on first reference:
// basic tier, active, no explicit limits.
func DefaultContext(tenantID string) Context {
	now := time.Now().UTC()

	return Context{
		TenantID:              tenantID,
		SubscriptionTier:      TierBasic,
		IsActive:              true,
		AuditLoggingEnabled:   true,
		MaxEventRetentionDays: defaultRetentionDays,
		BlockedEventTypes:     []string{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Retention returns the audit retention window as a duration.
func (c Context) Retention() time.Duration {
	days := c.MaxEventRetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}

	return time.Duration(days) * 24 * time.Hour
}

// AllowsType applies the allow-list (when set) and deny-list to an event type.
func (c Context) AllowsType(eventType string) bool {
	if c.AllowedEventTypes != nil {
		found := false

		for _, t := range c.AllowedEventTypes {
			if t == eventType {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	for _, t := range c.BlockedEventTypes {
		if t == eventType {
			return false
		}
	}

	return true
}

func marshalContext(c Context) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal tenant context %s: %w", c.TenantID, berr.ErrSerializationFailed)
	}

	return b, nil
}

func unmarshalContext(data []byte) (Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("unmarshal tenant context: %w", berr.ErrSerializationFailed)
	}

	return c, nil
}
