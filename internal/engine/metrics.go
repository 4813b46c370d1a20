package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/qexec/internal/model"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_sampling_runs_total",
			Help: "Total number of sampling runs by path and final status.",
		},
		[]string{"path", "status"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qexec_sampling_run_duration_seconds",
			Help:    "Duration of sampling runs from start to final result, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	shotsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qexec_sampling_shots_total",
			Help: "Total number of shots requested by completed sampling runs.",
		},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qexec_run_events_dropped_total",
			Help: "Run events not delivered to a subscriber whose buffer was full.",
		},
	)

	tasksQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qexec_qpu_tasks_queued",
			Help: "Number of asynchronous tasks waiting for or running on each QPU worker.",
		},
		[]string{"qpu"},
	)
)

var samplingPaths = []string{
	model.PathNative,
	model.PathEmulated,
	model.PathNativeFeedback,
	model.PathRemote,
}

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(shotsRequested)
	prometheus.MustRegister(tasksQueued)
	prometheus.MustRegister(eventsDropped)

	for _, p := range samplingPaths {
		runsTotal.WithLabelValues(p, model.StatusCompleted)
		runsTotal.WithLabelValues(p, model.StatusFailed)
	}
}

func qpuLabel(id int) string {
	return strconv.Itoa(id)
}
