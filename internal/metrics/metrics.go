// Package metrics exposes Prometheus counters for authorization outcomes,
// event traffic and model state transitions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authorization outcomes recorded by the delegate.
const (
	OutcomeIdentity     = "identity"
	OutcomeAnonymous    = "anonymous"
	OutcomeUnauthorized = "unauthorized"
)

// Event consumption outcomes.
const (
	EventHandled   = "handled"
	EventDuplicate = "duplicate"
	EventRejected  = "rejected"
	EventRetry     = "retry"
	EventIgnored   = "ignored"
)

// Collector groups every metric the services record. All methods are safe on
// a nil *Collector so components can run without metrics in tests.
type Collector struct {
	authorizations      *prometheus.CounterVec
	validationLatency   prometheus.Histogram
	eventsPublished     *prometheus.CounterVec
	publishFailures     *prometheus.CounterVec
	eventsConsumed      *prometheus.CounterVec
	modelTransitions    *prometheus.CounterVec
	entitlementsChanged *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_authorizations_total",
			Help: "Authorization delegate decisions by route and outcome.",
		}, []string{"route", "outcome"}),
		validationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxhub_token_validation_seconds",
			Help:    "Latency of validateToken calls made by the authorization delegate.",
			Buckets: prometheus.DefBuckets,
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_events_published_total",
			Help: "Events published by channel and topic.",
		}, []string{"channel", "topic"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_event_publish_failures_total",
			Help: "Events that could not be published by channel and topic.",
		}, []string{"channel", "topic"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_events_consumed_total",
			Help: "Events received by channel, topic and outcome.",
		}, []string{"channel", "topic", "outcome"}),
		modelTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_model_transitions_total",
			Help: "Model status transitions by target status.",
		}, []string{"status"}),
		entitlementsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxhub_entitlement_changes_total",
			Help: "Entitlement grants and revocations applied.",
		}, []string{"change"}),
	}

	reg.MustRegister(
		c.authorizations,
		c.validationLatency,
		c.eventsPublished,
		c.publishFailures,
		c.eventsConsumed,
		c.modelTransitions,
		c.entitlementsChanged,
	)

	return c
}

// RecordAuthorization counts one delegate decision.
func (c *Collector) RecordAuthorization(route, outcome string) {
	if c == nil {
		return
	}
	c.authorizations.WithLabelValues(route, outcome).Inc()
}

// RecordValidationLatency observes one validateToken round trip.
func (c *Collector) RecordValidationLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.validationLatency.Observe(d.Seconds())
}

// RecordPublished counts a published event.
func (c *Collector) RecordPublished(channel, topic string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(channel, topic).Inc()
}

// RecordPublishFailure counts an event that could not be handed to the transport.
func (c *Collector) RecordPublishFailure(channel, topic string) {
	if c == nil {
		return
	}
	c.publishFailures.WithLabelValues(channel, topic).Inc()
}

// RecordConsumed counts a received event with its outcome.
func (c *Collector) RecordConsumed(channel, topic, outcome string) {
	if c == nil {
		return
	}
	c.eventsConsumed.WithLabelValues(channel, topic, outcome).Inc()
}

// RecordModelTransition counts a model moving to status.
func (c *Collector) RecordModelTransition(status string) {
	if c == nil {
		return
	}
	c.modelTransitions.WithLabelValues(status).Inc()
}

// RecordEntitlementChange counts grants ("grant") and revocations ("revoke").
func (c *Collector) RecordEntitlementChange(change string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.entitlementsChanged.WithLabelValues(change).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
