package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	EngineErrors    *prometheus.CounterVec
	StopTimeouts    prometheus.Counter
	WSMessages      *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	window *stageWindow
}

// NewMetrics registers the service instruments on reg, or on the default
// registry when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of speech sessions currently holding the engine.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session state transitions by kind and state.",
		}, []string{"kind", "state"}),
		EngineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Engine errors by phase and class.",
		}, []string{"phase", "class"}),
		StopTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_timeouts_total",
			Help:      "Sessions force-cancelled because the engine did not acknowledge stop.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_active_ms",
			Help:      "Time sessions spend active on the engine in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"kind", "state"}),
		window: newStageWindow(256),
	}
}

// ObserveTransition counts a session state change.
func (m *Metrics) ObserveTransition(kind, state string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(kind, state).Inc()
	switch state {
	case "active":
		m.ActiveSessions.Inc()
	}
}

// ObserveTerminal records a finished session. wasActive tells whether the
// session ever held the engine.
func (m *Metrics) ObserveTerminal(kind, state string, queued, active time.Duration, wasActive bool) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(kind, state).Inc()
	m.window.Observe(kind+"_queue_wait", queued)
	if !wasActive {
		m.window.ObserveIndicator(kind + "_dropped_pending")
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.WithLabelValues(kind, state).Observe(float64(active.Milliseconds()))
	m.window.Observe(kind+"_active", active)
	if state == "cancelled" {
		m.window.ObserveIndicator(kind + "_cancelled")
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.Observe(stage, d)
}

func (m *Metrics) ObserveEngineError(phase, class string) {
	if m == nil {
		return
	}
	m.EngineErrors.WithLabelValues(phase, class).Inc()
}

func (m *Metrics) ObserveStopTimeout() {
	if m == nil {
		return
	}
	m.StopTimeouts.Inc()
	m.window.ObserveIndicator("stop_timeout")
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// LatencySnapshot returns the rolling per-stage latency window.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.window.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a specific registry.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
