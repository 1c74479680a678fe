package easywebhook

import (
	"github.com/dawitel/easy-webhook/ipfilter"
	"github.com/prometheus/client_golang/prometheus"
)

// Gate outcomes recorded in metrics and logs
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeInFlight     = "in_flight"
	OutcomeBadMethod    = "bad_method"
	OutcomeIPRejected   = "ip_rejected"
	OutcomeUnauthorized = "unauthorized"
	OutcomeBadPayload   = "bad_payload"
	OutcomeMisrouted    = "misrouted"
	OutcomeForbidden    = "forbidden"
	OutcomeMisconfig    = "misconfigured"
	OutcomeHandlerError = "handler_error"
)

// Metrics holds the gate's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	decisions       *prometheus.CounterVec
	classifications *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "easywebhook",
			Name:      "gate_decisions_total",
			Help:      "Webhook gate decisions by event and outcome.",
		}, []string{"event", "outcome"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "easywebhook",
			Name:      "ip_classifications_total",
			Help:      "Callback source address classifications.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.classifications)
	}

	return m
}

func (m *Metrics) observeDecision(event, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) observeClassification(c ipfilter.Classification) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(c.String()).Inc()
}
