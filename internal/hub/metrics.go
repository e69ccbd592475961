package hub

import (
	"github.com/prometheus/client_golang/prometheus"

	"ipchub/internal/ipcerr"
)

// metrics holds the hub's Prometheus series. All fields are safe for
// concurrent use, matching the collectors' own guarantees.
type metrics struct {
	sessionsActive      prometheus.Gauge
	messagesRoutedTotal *prometheus.CounterVec
	validationErrTotal  *prometheus.CounterVec
	livenessEvictions   prometheus.Counter
	authAttemptsTotal   *prometheus.CounterVec
	backpressureDrops   prometheus.Counter
}

// newMetrics constructs and registers the hub's series against reg. Tests
// that don't care about metrics pass prometheus.NewRegistry() to avoid
// colliding with package-level default-registry state across test runs.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipchub_sessions_active",
			Help: "Number of currently authenticated sessions.",
		}),
		messagesRoutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipchub_messages_routed_total",
			Help: "Messages successfully routed, by kind (unicast/broadcast/heartbeat).",
		}, []string{"kind"}),
		validationErrTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipchub_validation_errors_total",
			Help: "Envelope/protocol validation errors, by code.",
		}, []string{"code"}),
		livenessEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipchub_liveness_evictions_total",
			Help: "Sessions evicted by the liveness sweep for a missed heartbeat.",
		}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipchub_auth_attempts_total",
			Help: "auth.hello attempts, by result (ok/invalid/duplicate/timeout).",
		}, []string{"result"}),
		backpressureDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipchub_backpressure_drops_total",
			Help: "Outbound frames dropped because a destination's send queue was full.",
		}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.messagesRoutedTotal,
		m.validationErrTotal,
		m.livenessEvictions,
		m.authAttemptsTotal,
		m.backpressureDrops,
	)
	return m
}

func (m *metrics) incRouted(kind string) {
	if m == nil {
		return
	}
	m.messagesRoutedTotal.WithLabelValues(kind).Inc()
}

func (m *metrics) incValidationError(code ipcerr.Code) {
	if m == nil {
		return
	}
	m.validationErrTotal.WithLabelValues(string(code)).Inc()
}

func (m *metrics) incLivenessEviction() {
	if m == nil {
		return
	}
	m.livenessEvictions.Inc()
}

func (m *metrics) incAuthAttempt(result string) {
	if m == nil {
		return
	}
	m.authAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *metrics) incBackpressureDrop() {
	if m == nil {
		return
	}
	m.backpressureDrops.Inc()
}

func (m *metrics) setSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
