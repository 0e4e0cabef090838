// Package metrics holds the prometheus collectors of the attention service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attention"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ActiveClassrooms   prometheus.Gauge
	ConnectedMembers   prometheus.Gauge
	Events             *prometheus.CounterVec
	DroppedEvents      prometheus.Counter
	StateTransitions   *prometheus.CounterVec
	WriteBehindDropped prometheus.Counter
	WriteBehindFailed  prometheus.Counter
	SamplesStored      prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry (plus go/process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		ActiveClassrooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "active_classrooms",
			Help: "Classrooms with at least one connected member.",
		}),
		ConnectedMembers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "connected_members",
			Help: "Members currently joined to a classroom.",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "events_total",
			Help: "Events delivered to member sinks.",
		}, []string{"event"}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "dropped_events_total",
			Help: "Events dropped because a member's send buffer was full.",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "state_transitions_total",
			Help: "Attentiveness state changes.",
		}, []string{"to"}),
		WriteBehindDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "writebehind", Name: "dropped_total",
			Help: "Persistence tasks dropped because the queue was full.",
		}),
		WriteBehindFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "writebehind", Name: "failed_total",
			Help: "Persistence tasks that returned an error.",
		}),
		SamplesStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "samples_total",
			Help: "Attentiveness samples appended to the durable trail.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GinMiddleware records request count and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) MemberJoined() {
	if m != nil {
		m.ConnectedMembers.Inc()
	}
}

func (m *Metrics) MembersLeft(n int) {
	if m != nil {
		m.ConnectedMembers.Sub(float64(n))
	}
}

func (m *Metrics) SetActiveClassrooms(n int) {
	if m != nil {
		m.ActiveClassrooms.Set(float64(n))
	}
}

func (m *Metrics) EventDelivered(event string) {
	if m != nil {
		m.Events.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.DroppedEvents.Inc()
	}
}

func (m *Metrics) StateChanged(to string) {
	if m != nil {
		m.StateTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) WriteBehindDrop() {
	if m != nil {
		m.WriteBehindDropped.Inc()
	}
}

func (m *Metrics) WriteBehindFailure() {
	if m != nil {
		m.WriteBehindFailed.Inc()
	}
}

func (m *Metrics) SamplesAppended(n int) {
	if m != nil {
		m.SamplesStored.Add(float64(n))
	}
}
