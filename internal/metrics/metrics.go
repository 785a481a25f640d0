// Package metrics exposes Prometheus instrumentation for the generate
// pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures pipeline-level counters for the generate path. Labels
// stay low-cardinality: environments are a fixed pair and statuses are the
// error-kind vocabulary.
type Metrics interface {
	IncCacheHit(environment string)
	IncCacheMiss(environment string)
	IncCacheBypass(environment string)
	IncCacheSaveFailure(environment string)
	IncGeneration(environment, status string)
	ObserveGenerationDuration(environment string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncCacheHit(string)                        {}
func (Noop) IncCacheMiss(string)                       {}
func (Noop) IncCacheBypass(string)                     {}
func (Noop) IncCacheSaveFailure(string)                {}
func (Noop) IncGeneration(string, string)              {}
func (Noop) ObserveGenerationDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	cacheLookups      *prometheus.CounterVec
	cacheSaveFailures *prometheus.CounterVec
	generations       *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	once              sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by environment and result (hit, miss, bypass)",
		}, []string{"environment", "result"}),
		cacheSaveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_save_failures_total",
			Help:      "Cache writes that failed after a successful generation",
		}, []string{"environment"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generate requests by environment and outcome status",
		}, []string{"environment", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generate request latency by environment",
			Buckets:   prometheus.DefBuckets,
		}, []string{"environment"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.cacheLookups, p.cacheSaveFailures, p.generations, p.latency)
	})
}

func (p *Prom) IncCacheHit(environment string) {
	p.cacheLookups.WithLabelValues(environment, "hit").Inc()
}

func (p *Prom) IncCacheMiss(environment string) {
	p.cacheLookups.WithLabelValues(environment, "miss").Inc()
}

func (p *Prom) IncCacheBypass(environment string) {
	p.cacheLookups.WithLabelValues(environment, "bypass").Inc()
}

func (p *Prom) IncCacheSaveFailure(environment string) {
	p.cacheSaveFailures.WithLabelValues(environment).Inc()
}

func (p *Prom) IncGeneration(environment, status string) {
	p.generations.WithLabelValues(environment, status).Inc()
}

func (p *Prom) ObserveGenerationDuration(environment string, seconds float64) {
	p.latency.WithLabelValues(environment).Observe(seconds)
}

// Handler returns an HTTP handler serving the registered collectors.
func (p *Prom) Handler() http.Handler {
	return promhttp.Handler()
}
