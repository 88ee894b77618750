package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "strata"

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	reg           *prom.Registry
	stageDuration *prom.HistogramVec
	runDuration   *prom.HistogramVec
	nodeDuration  *prom.HistogramVec
	nodeResults   *prom.CounterVec
	retries       prom.Counter
	deferred      prom.Counter
}

// NewPrometheusRecorder registers its collectors on reg, or on a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of invocation stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Total invocation duration by command",
			Buckets:   prom.DefBuckets,
		}, []string{"command"}),
		nodeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Execution time of individual nodes",
			Buckets:   prom.DefBuckets,
		}, []string{"resource_type", "status"}),
		nodeResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "node_results_total",
			Help:      "Node outcomes by resource type and status",
		}, []string{"resource_type", "status"}),
		retries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Adapter calls retried after a transient failure",
		}),
		deferred: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_references_total",
			Help:      "References redirected to the alternate snapshot",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.runDuration, pr.nodeDuration, pr.nodeResults, pr.retries, pr.deferred)
	return pr
}

// Registry returns the registry the collectors are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(command string, d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveNodeDuration(kind, status string, d time.Duration) {
	if p == nil {
		return
	}
	p.nodeDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncNodeResult(kind, status string) {
	if p == nil {
		return
	}
	p.nodeResults.WithLabelValues(kind, status).Inc()
}

func (p *PrometheusRecorder) IncRetry(string) {
	if p == nil {
		return
	}
	p.retries.Inc()
}

func (p *PrometheusRecorder) AddDeferred(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.deferred.Add(float64(n))
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format read by the node_exporter textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if p == nil {
		return nil
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
