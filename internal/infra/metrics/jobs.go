package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(docJobsProcessedTotal, docJobsDispatchedTotal, docJobsReapedTotal, streamClientGone)
}

var docJobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doc_jobs_processed_total",
		Help: "Total number of document jobs that reached a terminal state, by action and status.",
	},
	[]string{"action", "status"}, // 'completed', 'failed'
)

var docJobsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doc_jobs_dispatched_total",
		Help: "Generation requests by dispatch mode.",
	},
	[]string{"action", "mode"}, // 'sync', 'async-background', 'async-stream'
)

var docJobsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "doc_jobs_reaped_total",
		Help: "Jobs failed by the reaper after being stuck in processing.",
	},
)

var streamClientGone = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "doc_stream_client_gone_total",
		Help: "Live streams whose caller stopped receiving before the job finished.",
	},
)

func IncDocJob(action, status string) {
	docJobsProcessedTotal.WithLabelValues(norm(action), norm(status)).Inc()
}

func IncDispatch(action, mode string) {
	docJobsDispatchedTotal.WithLabelValues(norm(action), norm(mode)).Inc()
}

func AddReaped(n int) {
	if n > 0 {
		docJobsReapedTotal.Add(float64(n))
	}
}

func IncStreamClientGone() { streamClientGone.Inc() }
