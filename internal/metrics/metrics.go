// Package metrics exposes the live editing subsystem's Prometheus collectors.
//
// Every method is safe to call on a nil *Metrics so services built without
// instrumentation (mostly tests) need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livedoc"

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

type Metrics struct {
	registry *prometheus.Registry

	rooms            prometheus.Gauge
	connections      prometheus.Gauge
	openDocuments    prometheus.Gauge
	presenceUsers    prometheus.Gauge
	frames           *prometheus.CounterVec
	droppedFrames    *prometheus.CounterVec
	autosaveWrites   prometheus.Counter
	autosaveFailures prometheus.Counter
	renderDuration   prometheus.Histogram
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Number of live document rooms.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "room_connections",
			Help: "Number of connections joined to a room.",
		}),
		openDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_documents",
			Help: "Number of documents held open by the content store.",
		}),
		presenceUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "presence_users",
			Help: "Number of users in the presence directory.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Room frames by kind and direction.",
		}, []string{"kind", "direction"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Room frames dropped by reason.",
		}, []string{"reason"}),
		autosaveWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "autosave_writes_total",
			Help: "Documents written by the autosave sweep.",
		}),
		autosaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "autosave_failures_total",
			Help: "Documents the autosave sweep failed to write.",
		}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "render_duration_seconds",
			Help:    "Time spent in the render pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rooms, m.connections, m.openDocuments, m.presenceUsers,
		m.frames, m.droppedFrames,
		m.autosaveWrites, m.autosaveFailures, m.renderDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) ConnectionJoined() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionLeft() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetOpenDocuments(n int) {
	if m != nil {
		m.openDocuments.Set(float64(n))
	}
}

func (m *Metrics) SetPresenceUsers(n int) {
	if m != nil {
		m.presenceUsers.Set(float64(n))
	}
}

func (m *Metrics) Frame(kind, direction string) {
	if m != nil {
		m.frames.WithLabelValues(kind, direction).Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.droppedFrames.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AutosaveWrite() {
	if m != nil {
		m.autosaveWrites.Inc()
	}
}

func (m *Metrics) AutosaveFailure() {
	if m != nil {
		m.autosaveFailures.Inc()
	}
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m != nil {
		m.renderDuration.Observe(d.Seconds())
	}
}
