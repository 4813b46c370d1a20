package statevector

import "github.com/prometheus/client_golang/prometheus"

var (
	instructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_statevector_instructions_total",
			Help: "Total number of instructions applied by the state-vector simulator.",
		},
		[]string{"gate"},
	)

	measurementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qexec_statevector_measurements_total",
			Help: "Total number of qubit measurements requested from the simulator.",
		},
	)

	shotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qexec_statevector_shots_total",
			Help: "Total number of shots recorded into sample results.",
		},
	)

	activeQubits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qexec_statevector_active_qubits",
			Help: "Number of qubits currently allocated across all simulators.",
		},
	)
)

func init() {
	prometheus.MustRegister(instructionsTotal)
	prometheus.MustRegister(measurementsTotal)
	prometheus.MustRegister(shotsTotal)
	prometheus.MustRegister(activeQubits)

	// Pre-initialize gate labels so they appear in /metrics with value 0.
	for _, g := range SupportedGates {
		instructionsTotal.WithLabelValues(g)
	}
}
