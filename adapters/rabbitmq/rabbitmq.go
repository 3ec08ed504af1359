// Package rabbitmq provides the AMQP mirror relay: accepted events are
// re-published to a topic exchange for consumers outside the bus. AMQP has no
// consumer-group log semantics, so this adapter is publish-side only.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

// DefaultExchange is the topic exchange events are mirrored to.
const DefaultExchange = "tenantbus.events"

// PubMsg is one message bound for an exchange.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Headers    map[string]string
	Body       []byte
}

// Publisher is a minimal AMQP-like publisher interface decoupled from any
// concrete library. rabbit_conn.go provides a reconnecting implementation.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Relay mirrors isolated events to a topic exchange. Routing uses the event's
// tenant-scoped routing key so downstream bindings can select by tenant or
// event type (tenant.<id>.<type>).
type Relay struct {
	pub      Publisher
	exchange string
}

// New creates a Relay over the provided publisher. An empty exchange selects
// DefaultExchange.
func New(pub Publisher, exchange string) *Relay {
	if exchange == "" {
		exchange = DefaultExchange
	}

	return &Relay{pub: pub, exchange: exchange}
}

// Relay publishes one event. Events are relayed after isolation, so payloads
// are already filtered and redacted for the tenant's tier.
func (r *Relay) Relay(ctx context.Context, e event.Event) error {
	if r.pub == nil {
		return fmt.Errorf("amqp relay: %w", berr.ErrPublishFailed)
	}

	body, err := event.Marshal(e)
	if err != nil {
		return err
	}

	key := e.RoutingKey
	if key == "" {
		key = event.RoutingKey(e.TenantID, e.EventType)
	}

	m := PubMsg{
		Exchange:   r.exchange,
		RoutingKey: key,
		Headers: map[string]string{
			"tenant_id":  e.TenantID,
			"event_type": e.EventType,
			"event_id":   e.EventID,
		},
		Body: body,
	}

	if err := r.pub.Publish(ctx, m); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("amqp relay publish %s: %w", e.EventID, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}
