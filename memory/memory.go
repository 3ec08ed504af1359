// Package memory offers a one-call constructor for a fully in-memory bus,
// useful in tests and examples.
package memory

import (
	"github.com/next-trace/scg-tenant-bus/adapters/inmemory"
	"github.com/next-trace/scg-tenant-bus/contract/event"
	"github.com/next-trace/scg-tenant-bus/eventbus"
)

// New constructs an in-memory bus for the named service and returns it with
// a cleanup function that stops the bus.
func New(service string, reg *event.Registry) (*eventbus.Bus, func(), error) {
	b, err := eventbus.New(service, inmemory.NewLog(), inmemory.NewKV(), reg, eventbus.Options{})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { b.Stop() }

	return b, cleanup, nil
}
