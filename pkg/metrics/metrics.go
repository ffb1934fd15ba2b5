package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rhuidobro/renderq/pkg/models"
	"github.com/rhuidobro/renderq/pkg/store"
)

// Metrics exposes reconciliation and job counters on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal   *prometheus.CounterVec
	tickDuration prometheus.Histogram
	jobsFinished *prometheus.CounterVec
	expiredTotal prometheus.Counter
}

// New builds the metrics set. Partition sizes are sampled from the store
// at scrape time.
func New(s store.Store) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderq_reconcile_ticks_total",
			Help: "Reconciliation ticks by result",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "renderq_reconcile_tick_duration_seconds",
			Help:    "Duration of reconciliation ticks",
			Buckets: prometheus.DefBuckets,
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderq_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status",
		}, []string{"status"}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderq_terminal_records_expired_total",
			Help: "Terminal records deleted by the garbage collector",
		}),
	}

	registry.MustRegister(m.ticksTotal, m.tickDuration, m.jobsFinished, m.expiredTotal)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "renderq_jobs_active",
		Help: "Job records in the active partition",
	}, newPartitionSampler(s, store.PartitionActive).sample))

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "renderq_jobs_terminal",
		Help: "Job records in the terminal partition",
	}, newPartitionSampler(s, store.PartitionTerminal).sample))

	return m
}

// partitionSampler counts records at scrape time. A failed scan reports
// the last successful count rather than a bogus value.
type partitionSampler struct {
	store     store.Store
	partition store.Partition

	mu   sync.Mutex
	last float64
}

func newPartitionSampler(s store.Store, partition store.Partition) *partitionSampler {
	return &partitionSampler{store: s, partition: partition}
}

func (p *partitionSampler) sample() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.store.Scan(p.partition)
	if err != nil {
		return p.last
	}
	p.last = float64(len(records))
	return p.last
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one reconciliation tick
func (m *Metrics) ObserveTick(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ticksTotal.WithLabelValues(result).Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// JobFinished records a job reaching a terminal state
func (m *Metrics) JobFinished(status models.Status) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

// RecordsExpired records terminal records deleted by retention
func (m *Metrics) RecordsExpired(n int) {
	m.expiredTotal.Add(float64(n))
}
