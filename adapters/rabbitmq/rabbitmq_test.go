package rabbitmq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-tenant-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

type capturePublisher struct {
	msgs []rabbitmq.PubMsg
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	if p.err != nil {
		return p.err
	}

	p.msgs = append(p.msgs, m)

	return nil
}

func TestRelayRoutingAndHeaders(t *testing.T) {
	pub := &capturePublisher{}
	r := rabbitmq.New(pub, "")

	e := event.New("lead.created", "t1", map[string]any{"name": "x"})

	if err := r.Relay(t.Context(), e); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}

	m := pub.msgs[0]
	if m.Exchange != rabbitmq.DefaultExchange {
		t.Fatalf("exchange: %s", m.Exchange)
	}

	if m.RoutingKey != "tenant.t1.lead.created" {
		t.Fatalf("routing key: %s", m.RoutingKey)
	}

	if m.Headers["tenant_id"] != "t1" || m.Headers["event_type"] != "lead.created" || m.Headers["event_id"] != e.EventID {
		t.Fatalf("headers: %v", m.Headers)
	}

	decoded, err := event.Unmarshal(m.Body)
	if err != nil {
		t.Fatalf("body: %v", err)
	}

	if decoded.EventID != e.EventID {
		t.Fatalf("body event id: %s", decoded.EventID)
	}
}

func TestRelayHonorsExplicitRoutingKey(t *testing.T) {
	pub := &capturePublisher{}
	r := rabbitmq.New(pub, "custom.exchange")

	e := event.New("lead.created", "t1", nil, event.WithRouting("tenant.t1.custom"))

	if err := r.Relay(t.Context(), e); err != nil {
		t.Fatalf("relay: %v", err)
	}

	m := pub.msgs[0]
	if m.Exchange != "custom.exchange" || m.RoutingKey != "tenant.t1.custom" {
		t.Fatalf("routing: %+v", m)
	}
}

func TestRelayErrors(t *testing.T) {
	r := rabbitmq.New(nil, "")
	if err := r.Relay(t.Context(), event.New("x", "t1", nil)); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("nil publisher: %v", err)
	}

	pub := &capturePublisher{err: errors.New("broker gone")}
	r = rabbitmq.New(pub, "")

	err := r.Relay(t.Context(), event.New("x", "t1", nil))
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("publish failure: %v", err)
	}
}
