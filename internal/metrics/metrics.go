// Package metrics exposes Prometheus instruments for script executions, deployments and
// token issuance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/deployment/transaction"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

const namespace = "customjwt"

var (
	_ sandbox.Observer    = (*Prom)(nil)
	_ deployment.Observer = (*Prom)(nil)
)

// Prom holds every instrument on its own registry.
type Prom struct {
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deploys    *prometheus.CounterVec
	issued     *prometheus.CounterVec
}

// NewProm creates the instruments and registers them along with the Go and process collectors.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_executions_total",
			Help:      "Customizer script executions by runtime, token type and outcome",
		}, []string{"runtime", "token_type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_execution_duration_seconds",
			Help:      "Customizer script execution latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"runtime", "token_type"}),
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployment_transactions_total",
			Help:      "Deployment transactions by kind and final state",
		}, []string{"kind", "state"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by token type and customizer outcome",
		}, []string{"token_type", "customizer"}),
	}
	p.registry.MustRegister(
		p.executions,
		p.duration,
		p.deploys,
		p.issued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// ObserveExecution records one sandbox run.
func (p *Prom) ObserveExecution(
	runtime customizer.Runtime,
	tokenType customizer.TokenKey,
	kind string,
	elapsed time.Duration,
) {
	p.executions.WithLabelValues(string(runtime), string(tokenType), kind).Inc()
	p.duration.WithLabelValues(string(runtime), string(tokenType)).Observe(elapsed.Seconds())
}

// ObserveDeployment records a finished deployment transaction.
func (p *Prom) ObserveDeployment(kind transaction.Kind, state string) {
	p.deploys.WithLabelValues(string(kind), state).Inc()
}

// ObserveIssue records one issued token. outcome is "applied", "none", or "skipped".
func (p *Prom) ObserveIssue(tokenType customizer.TokenKey, outcome string) {
	p.issued.WithLabelValues(string(tokenType), outcome).Inc()
}

// Registry returns the underlying registry.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
