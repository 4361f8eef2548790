package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ProbesStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueprobe_probes_started_total",
			Help: "Total number of probe task executions started, by probe name.",
		},
		[]string{"probe"},
	)

	ProbesFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueprobe_probes_finished_total",
			Help: "Total number of probe task executions finished, by probe name and outcome.",
		},
		[]string{"probe", "outcome"}, // outcome: success, failure, retry
	)

	RetrySignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueprobe_retry_signals_total",
			Help: "Total number of retry signals raised, by probe name.",
		},
		[]string{"probe"},
	)

	ReplacementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queueprobe_replacements_total",
			Help: "Total number of substitute canvases dispatched by replacement probes.",
		},
	)

	SideChannelOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueprobe_sidechannel_ops_total",
			Help: "Total number of side-channel redis operations, by op.",
		},
		[]string{"op"}, // e.g. echo, count, range
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		ProbesStartedTotal,
		ProbesFinishedTotal,
		RetrySignalsTotal,
		ReplacementsTotal,
		SideChannelOpsTotal,
	)
}
