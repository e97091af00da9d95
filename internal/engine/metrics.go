package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerPhase exposes the live phase per breaker.
	BreakerPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_phase",
			Help: "Current breaker phase: 0=closed,1=open,2=half_open",
		},
		[]string{"breaker"},
	)
	// BreakerTransitions counts phase transitions by edge.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transition_total",
			Help: "Count of breaker phase transitions",
		},
		[]string{"breaker", "from", "to"},
	)
	// BreakerOpenedTotal counts trips into the open phase.
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_open_total",
			Help: "Number of times a breaker tripped open",
		},
		[]string{"breaker"},
	)
	// BreakerOutcomes counts recorded call outcomes.
	BreakerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_outcome_total",
			Help: "Count of recorded call outcomes per breaker",
		},
		[]string{"breaker", "outcome"},
	)
	// BreakerAdmissions counts admission decisions.
	BreakerAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_admission_total",
			Help: "Count of admission decisions per breaker",
		},
		[]string{"breaker", "decision"},
	)
)

func init() {
	prometheus.MustRegister(BreakerPhase, BreakerTransitions, BreakerOpenedTotal, BreakerOutcomes, BreakerAdmissions)
}

func phaseGaugeValue(p Phase) float64 {
	switch p {
	case PhaseClosed:
		return 0
	case PhaseOpen:
		return 1
	case PhaseHalfOpen:
		return 2
	default:
		return -1
	}
}

func reportPhase(name string, p Phase) {
	BreakerPhase.WithLabelValues(name).Set(phaseGaugeValue(p))
}

func reportTransition(name string, from, to Phase) {
	BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	if to == PhaseOpen {
		BreakerOpenedTotal.WithLabelValues(name).Inc()
	}
	BreakerPhase.WithLabelValues(name).Set(phaseGaugeValue(to))
}

func reportOutcome(name string, outcome Outcome) {
	BreakerOutcomes.WithLabelValues(name, outcome.String()).Inc()
}

func reportAdmission(name string, admitted bool) {
	decision := "reject"
	if admitted {
		decision = "admit"
	}
	BreakerAdmissions.WithLabelValues(name, decision).Inc()
}

func forgetBreaker(name string) {
	BreakerPhase.DeleteLabelValues(name)
}
