package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the RPC surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fabric",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// DomainErrorsTotal is the counter named in spec.md §6: incremented on
// every surfaced domain error, labelled by the originating component,
// the aggregate/projector domain, and the apperr.Code.
var DomainErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fabric",
		Name:      "domain_errors_total",
		Help:      "Total number of surfaced domain errors.",
	},
	[]string{"source", "domain", "error"},
)

// EventsPublishedTotal counts successful C2 publishes by event type. Only
// the usage scheduler increments it (for UsageCreated); publishes from the
// project, secret and resource aggregates are not counted.
var EventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fabric",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Total number of events published to the event bus.",
	},
	[]string{"type"},
)

// EventsProjectedTotal counts successful projector applications by
// projector name and event type.
var EventsProjectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fabric",
		Subsystem: "bus",
		Name:      "events_projected_total",
		Help:      "Total number of events successfully applied by a projector.",
	},
	[]string{"projector", "type"},
)

// EventsMalformedTotal counts records committed-and-dropped per §4.2's
// malformed-record policy.
var EventsMalformedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fabric",
		Subsystem: "bus",
		Name:      "events_malformed_total",
		Help:      "Total number of malformed records committed without being applied.",
	},
	[]string{"projector"},
)

// UsageScrapeTotal counts usage scheduler scrape cycles by cluster and outcome.
var UsageScrapeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fabric",
		Subsystem: "usage",
		Name:      "scrape_total",
		Help:      "Total number of usage scrape cycles.",
	},
	[]string{"cluster_id", "outcome"},
)

// All returns the Fabric-specific collectors for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DomainErrorsTotal,
		EventsPublishedTotal,
		EventsProjectedTotal,
		EventsMalformedTotal,
		UsageScrapeTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
