package proxy

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "queue_depth",
			Help:      "Number of descriptors waiting in the admission queue",
		},
	)

	admissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "admissions_total",
			Help:      "Total requests admitted into the queue",
		},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "rejections_total",
			Help:      "Total admission rejections",
		},
		[]string{"reason"},
	)

	switchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "model_switches_total",
			Help:      "Total model switch attempts by outcome",
		},
		[]string{"outcome"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total processed requests by outcome",
		},
		[]string{"outcome"},
	)

	streamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "stream_chunks_total",
			Help:      "Total streamed chunks delivered to clients",
		},
	)

	sessionResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studioproxy",
			Subsystem: "proxy",
			Name:      "session_resets_total",
			Help:      "Total explicit session state resets",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queueDepth,
		admissionsTotal,
		rejectionsTotal,
		switchesTotal,
		requestsTotal,
		streamChunksTotal,
		sessionResetsTotal,
	)
}

// outcomeOf maps a finalization error to a requests_total label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsCancelled(err):
		return "cancelled"
	case IsSwitchFailed(err):
		return "switch_failed"
	case IsStreamInterrupted(err):
		return "interrupted"
	default:
		return "error"
	}
}
