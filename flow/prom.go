package flow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles the Prometheus metrics the runner records, all
// namespaced "repoauditor_":
//
//   - runs_total (counter): completed runs by workflow and outcome.
//   - step_latency_ms (histogram): node execution duration by workflow,
//     node and status.
//   - retries_total (counter): retry attempts by workflow and node.
//   - inflight_branches (gauge): parallel branches currently executing.
//   - model_cost_usd_total (counter): accumulated model spend by workflow.
//
// Expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	collectors := flow.NewCollectors(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Collectors struct {
	runs             *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	inflightBranches prometheus.Gauge
	modelCost        *prometheus.CounterVec
}

// NewCollectors creates and registers all runner metrics. A nil registry
// falls back to the default registerer.
func NewCollectors(registry prometheus.Registerer) *Collectors {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collectors{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoauditor",
			Name:      "runs_total",
			Help:      "Completed workflow runs by outcome",
		}, []string{"workflow", "outcome"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repoauditor",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"workflow", "node", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoauditor",
			Name:      "retries_total",
			Help:      "Node retry attempts",
		}, []string{"workflow", "node"}),
		inflightBranches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "repoauditor",
			Name:      "inflight_branches",
			Help:      "Parallel branches currently executing",
		}),
		modelCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoauditor",
			Name:      "model_cost_usd_total",
			Help:      "Accumulated model spend in USD",
		}, []string{"workflow"}),
	}
}

func (c *Collectors) observeStep(workflow, node, status string, ms float64) {
	if c == nil {
		return
	}
	c.stepLatency.WithLabelValues(workflow, node, status).Observe(ms)
}

func (c *Collectors) incRetry(workflow, node string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(workflow, node).Inc()
}

func (c *Collectors) incRun(workflow, outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(workflow, outcome).Inc()
}

func (c *Collectors) addCost(workflow string, usd float64) {
	if c == nil || usd <= 0 {
		return
	}
	c.modelCost.WithLabelValues(workflow).Add(usd)
}

func (c *Collectors) branchStarted() {
	if c == nil {
		return
	}
	c.inflightBranches.Inc()
}

func (c *Collectors) branchDone() {
	if c == nil {
		return
	}
	c.inflightBranches.Dec()
}
