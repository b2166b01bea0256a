package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, which keeps tests quiet.
type Metrics struct {
	ActiveRaids        prometheus.Gauge
	Commands           *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	CollaboratorErrors *prometheus.CounterVec
	ConfirmationWait   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRaids: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_raids",
			Help:      "Number of live raid sessions.",
		}),
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raid_commands_total",
			Help:      "Raid commands by command and outcome.",
		}, []string{"command", "outcome"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raid_transitions_total",
			Help:      "State transitions by target status.",
		}, []string{"to"}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "External collaborator failures by collaborator.",
		}, []string{"collaborator"}),
		ConfirmationWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_wait_seconds",
			Help:      "Time from confirmation window opening to its resolution.",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 240, 300, 360},
		}),
	}
}

func (m *Metrics) SetActiveRaids(n float64) {
	if m == nil {
		return
	}
	m.ActiveRaids.Set(n)
}

func (m *Metrics) IncCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncCollaboratorError(collaborator string) {
	if m == nil {
		return
	}
	m.CollaboratorErrors.WithLabelValues(collaborator).Inc()
}

func (m *Metrics) ObserveConfirmationWait(seconds float64) {
	if m == nil {
		return
	}
	m.ConfirmationWait.Observe(seconds)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
