package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, workerQueueDepth) }

var dbPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_conns",
		Help: "Postgres pool connections by state.",
	},
	[]string{"state"}, // total|idle|in_use
)

var workerQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "docgen_worker_queue_depth",
		Help: "Background job tasks waiting for a free worker.",
	},
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolConns.WithLabelValues("total").Set(float64(total))
	dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	dbPoolConns.WithLabelValues("in_use").Set(float64(inUse))
}

func SetWorkerQueueDepth(n int) { workerQueueDepth.Set(float64(n)) }
