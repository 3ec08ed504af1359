package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/next-trace/scg-tenant-bus/contract/event"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
	"github.com/next-trace/scg-tenant-bus/tenant"
)

const (
	defaultMaxStreamLen = 10000
	defaultReadBatch    = 10
	defaultReadBlock    = time.Second
	defaultReadBackoff  = 500 * time.Millisecond

	consumerSuffixLen = 8
)

// Handler consumes one isolated event. Handlers are opaque callables supplied
// by collaborating services; the bus isolates their failures from each other.
type Handler func(ctx context.Context, e event.Event) error

// Relay mirrors accepted events to an external fan-out (e.g. an AMQP topic
// exchange) for consumers outside the bus. Relay failures never fail the
// publish.
type Relay interface {
	Relay(ctx context.Context, e event.Event) error
}

// Options tunes a Bus. Zero values select the defaults above.
type Options struct {
	MaxStreamLen int64
	ReadBatch    int64
	ReadBlock    time.Duration
	ReadBackoff  time.Duration
	CacheSize    int
	Relay        Relay
	Logger       *slog.Logger
}

// Bus is the multi-tenant publish/subscribe broker. It appends events to one
// ordered log per event type and runs one consumer-group loop per subscribed
// type, enforcing tenant isolation on both the publish and consume boundary.
//
// Delivery is at-least-once per consumer group. An unacknowledged entry stays
// pending and visible via PendingMessages, but the bus does not automatically
// redeliver it; redelivery is an operational action.
type Bus struct {
	service  string
	consumer string

	log      stream.Log
	registry *event.Registry

	tenants *tenant.Store
	guard   *tenant.Guard
	limiter *tenant.Limiter
	auditor *tenant.Auditor
	relay   Relay

	maxLen  int64
	batch   int64
	block   time.Duration
	backoff time.Duration

	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	loops    map[string]struct{}
	started  bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Bus for one subscribing service. The registry is explicit
// and injectable; a nil registry gets the seeded default. Tenant-layer
// components are built over kv and exposed via accessors so callers share the
// same cache.
func New(service string, lg stream.Log, kv stream.KV, reg *event.Registry, o Options) (*Bus, error) {
	if service == "" {
		return nil, fmt.Errorf("new bus: service name required: %w", berr.ErrSubscriptionRejected)
	}

	if reg == nil {
		reg = event.DefaultRegistry()
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := tenant.NewStore(kv, o.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		service:  service,
		consumer: service + ":" + uuid.NewString()[:consumerSuffixLen],
		log:      lg,
		registry: reg,
		tenants:  store,
		guard:    tenant.NewGuard(logger),
		limiter:  tenant.NewLimiter(kv, logger),
		auditor:  tenant.NewAuditor(kv, logger),
		relay:    o.Relay,
		maxLen:   o.MaxStreamLen,
		batch:    o.ReadBatch,
		block:    o.ReadBlock,
		backoff:  o.ReadBackoff,
		logger:   logger,
		handlers: make(map[string][]Handler),
		loops:    make(map[string]struct{}),
	}

	if b.maxLen <= 0 {
		b.maxLen = defaultMaxStreamLen
	}

	if b.batch <= 0 {
		b.batch = defaultReadBatch
	}

	if b.block <= 0 {
		b.block = defaultReadBlock
	}

	if b.backoff <= 0 {
		b.backoff = defaultReadBackoff
	}

	return b, nil
}

// Tenants returns the shared tenant context store.
func (b *Bus) Tenants() *tenant.Store { return b.tenants }

// Guard returns the tenant isolation guard.
func (b *Bus) Guard() *tenant.Guard { return b.guard }

// Limiter returns the per-tenant resource limiter.
func (b *Bus) Limiter() *tenant.Limiter { return b.limiter }

// Auditor returns the audit trail writer/reader.
func (b *Bus) Auditor() *tenant.Auditor { return b.auditor }

// Consumer returns this instance's consumer identity within the service group.
func (b *Bus) Consumer() string { return b.consumer }

// Initialize ensures a log and this service's consumer group exist for every
// registered event type. Initialization is best-effort per type: group-exists
// races are swallowed and logged, other failures are logged and the remaining
// types still initialize.
func (b *Bus) Initialize(ctx context.Context) {
	group := stream.GroupName(b.service)

	for _, et := range b.registry.Types() {
		err := b.log.EnsureGroup(ctx, stream.LogName(et), group)
		switch {
		case err == nil:
		case errors.Is(err, berr.ErrGroupExists):
			b.logger.Debug("consumer group already exists", "event_type", et, "group", group)
		default:
			b.logger.Error("stream initialization failed", "event_type", et, "error", err)
		}
	}
}

// Publish enforces tenant isolation and the rate limit, then appends the
// event to the log named for its type, trimming to the retention cap. Append
// failures propagate; publish never silently drops.
func (b *Bus) Publish(ctx context.Context, e event.Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	tc, err := b.tenants.GetContext(ctx, e.TenantID)
	if err != nil {
		return "", err
	}

	isolated, err := b.guard.EnsureTenantIsolation(e, tc)
	if err != nil {
		b.auditor.LogEventActivity(ctx, tc, "publish_rejected", e, map[string]any{"reason": err.Error()})

		return "", err
	}

	ok, err := b.limiter.CheckEventRateLimit(ctx, tc)
	if err != nil {
		return "", fmt.Errorf("rate limit check for %s: %w", tc.TenantID, errors.Join(berr.ErrPublishFailed, err))
	}

	if !ok {
		eventsRateLimited.Inc()
		b.auditor.LogEventActivity(ctx, tc, "rate_limited", e, nil)

		return "", fmt.Errorf("tenant %s: %w", tc.TenantID, berr.ErrRateLimited)
	}

	data, err := event.Marshal(isolated)
	if err != nil {
		return "", err
	}

	id, err := b.log.Append(ctx, stream.LogName(isolated.EventType), data, b.maxLen)
	if err != nil {
		return "", fmt.Errorf("append %s: %w", isolated.EventType, errors.Join(berr.ErrAppendFailed, err))
	}

	eventsPublished.WithLabelValues(isolated.EventType).Inc()
	b.auditor.LogEventActivity(ctx, tc, "published", isolated, map[string]any{"delivery_id": id})

	if b.relay != nil {
		if rerr := b.relay.Relay(ctx, isolated); rerr != nil {
			b.logger.Warn("event relay failed", "event_id", isolated.EventID, "error", rerr)
		}
	}

	return id, nil
}

// Subscribe registers handler for eventType in this service's dispatch table.
// The first registration for a type on a started bus also starts that type's
// consumer loop.
func (b *Bus) Subscribe(eventType string, handler Handler) error {
	if eventType == "" || handler == nil {
		return fmt.Errorf("subscribe: event type and handler required: %w", berr.ErrSubscriptionRejected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	if b.started {
		b.startLoopLocked(eventType)
	}

	return nil
}

// Start initializes streams and launches one consumer loop per subscribed
// event type. Calling Start twice is a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()

	if b.started {
		b.mu.Unlock()

		return
	}

	b.runCtx, b.cancel = context.WithCancel(ctx)
	b.started = true
	b.mu.Unlock()

	b.Initialize(b.runCtx)

	b.mu.Lock()
	for et := range b.handlers {
		b.startLoopLocked(et)
	}
	b.mu.Unlock()

	b.logger.Info("event bus started", "service", b.service, "consumer", b.consumer)
}

// startLoopLocked launches the consumer loop for eventType if none is
// running. Caller holds b.mu.
func (b *Bus) startLoopLocked(eventType string) {
	if _, running := b.loops[eventType]; running {
		return
	}

	group := stream.GroupName(b.service)
	if err := b.log.EnsureGroup(b.runCtx, stream.LogName(eventType), group); err != nil && !errors.Is(err, berr.ErrGroupExists) {
		b.logger.Error("consumer group setup failed", "event_type", eventType, "error", err)
	}

	b.loops[eventType] = struct{}{}
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		b.consumeLoop(b.runCtx, eventType)
	}()
}

// Stop cancels every consumer loop and waits for them to exit. After Stop
// returns, no further acknowledgments happen and no loop goroutines remain.
func (b *Bus) Stop() {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return
	}

	b.started = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.loops = make(map[string]struct{})
	b.mu.Unlock()

	b.logger.Info("event bus stopped", "service", b.service)
}

// consumeLoop reads batches for one event type until cancellation. Transient
// read errors are logged and retried after a brief backoff.
func (b *Bus) consumeLoop(ctx context.Context, eventType string) {
	logName := stream.LogName(eventType)
	group := stream.GroupName(b.service)

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := b.log.ReadGroup(ctx, logName, group, b.consumer, b.batch, b.block)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}

			readFailures.Inc()
			b.logger.Warn("consumer read failed", "event_type", eventType, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.backoff):
			}

			continue
		}

		for _, entry := range entries {
			// Cancellation between entries exits without acknowledging
			// in-flight work; the entries stay pending for manual replay.
			if ctx.Err() != nil {
				return
			}

			b.dispatchEntry(ctx, eventType, logName, group, entry)
		}
	}
}

// dispatchEntry runs one log entry through isolation and every registered
// handler, then acknowledges it. One failing handler never prevents the
// others from running nor crashes the loop.
func (b *Bus) dispatchEntry(ctx context.Context, eventType, logName, group string, entry stream.Entry) {
	began := time.Now()

	e, err := event.Unmarshal(entry.Data)
	if err != nil {
		b.logger.Error("dropping undecodable entry", "event_type", eventType, "entry_id", entry.ID, "error", err)
		b.ack(ctx, logName, group, entry.ID)

		return
	}

	tc, err := b.tenants.GetContext(ctx, e.TenantID)
	if err != nil {
		// Store hiccup: leave the entry pending; it stays visible for replay.
		b.logger.Error("tenant context unavailable", "tenant_id", e.TenantID, "entry_id", entry.ID, "error", err)

		return
	}

	isolated, err := b.guard.EnsureTenantIsolation(e, tc)
	if err != nil {
		// Security rejection: the event never reaches a handler and is not
		// silently retried.
		eventsRejected.WithLabelValues(eventType).Inc()
		b.auditor.LogEventActivity(ctx, tc, "consume_rejected", e, map[string]any{"reason": err.Error()})
		b.ack(ctx, logName, group, entry.ID)

		return
	}

	for _, h := range b.handlersFor(eventType) {
		if herr := callHandler(ctx, h, isolated); herr != nil {
			handlerFailures.WithLabelValues(eventType).Inc()
			b.logger.Error("event handler failed",
				"event_type", eventType, "event_id", isolated.EventID, "error", herr)
		}
	}

	b.ack(ctx, logName, group, entry.ID)
	b.auditor.LogEventActivity(ctx, tc, "delivered", isolated, map[string]any{"consumer": b.consumer})
	eventsDelivered.WithLabelValues(eventType).Inc()
	dispatchDuration.Observe(float64(time.Since(began).Milliseconds()))
}

func (b *Bus) handlersFor(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]Handler(nil), b.handlers[eventType]...)
}

func (b *Bus) ack(ctx context.Context, logName, group, id string) {
	if err := b.log.Ack(ctx, logName, group, id); err != nil {
		b.logger.Warn("acknowledge failed", "log", logName, "entry_id", id, "error", err)
	}
}

// callHandler isolates a single handler invocation, converting panics into
// errors so a misbehaving handler cannot take down the loop.
func callHandler(ctx context.Context, h Handler, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h(ctx, e)
}

// StreamInfo exposes log length and consumer-group count for one event type.
// A missing log is not an error; it yields a zero Info.
func (b *Bus) StreamInfo(ctx context.Context, eventType string) (stream.Info, error) {
	info, err := b.log.Info(ctx, stream.LogName(eventType))
	if err != nil {
		if errors.Is(err, berr.ErrStreamNotFound) {
			return stream.Info{}, nil
		}

		return stream.Info{}, err
	}

	return info, nil
}

// PendingMessages lists entries read but unacknowledged by this service's
// group, for monitoring and manual replay. Absence of the log or group yields
// an empty result.
func (b *Bus) PendingMessages(ctx context.Context, eventType string) ([]stream.PendingEntry, error) {
	pending, err := b.log.Pending(ctx, stream.LogName(eventType), stream.GroupName(b.service))
	if err != nil {
		if errors.Is(err, berr.ErrStreamNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return pending, nil
}
