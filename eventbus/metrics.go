package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantbus_events_published_total",
		Help: "Total number of events appended to a log, labelled by event type.",
	}, []string{"event_type"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantbus_events_delivered_total",
		Help: "Total number of entries dispatched to handlers and acknowledged.",
	}, []string{"event_type"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantbus_events_rejected_total",
		Help: "Total number of entries rejected by tenant isolation, labelled by event type.",
	}, []string{"event_type"})

	eventsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantbus_events_rate_limited_total",
		Help: "Total number of publishes rejected by the per-tenant rate limiter.",
	})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantbus_handler_failures_total",
		Help: "Total number of handler invocations that returned an error or panicked.",
	}, []string{"event_type"})

	readFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantbus_consumer_read_failures_total",
		Help: "Total number of transient consumer-group read errors.",
	})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenantbus_dispatch_duration_ms",
		Help:    "Per-entry dispatch latency (isolation + all handlers) in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
)
