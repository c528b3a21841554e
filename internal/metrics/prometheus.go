package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	attemptBuckets = []float64{1, 2, 5, 10, 25, 50, 100}
)

func bucketsFor(name string) []float64 {
	if name == LockWaits {
		return attemptBuckets
	}
	return latencyBuckets
}

// Prometheus is a Recorder backed by a private prometheus registry.
// Collectors are created on first use of a metric name; label names are the sorted tag keys.
type Prometheus struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Prometheus{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) Add(name string, value float64, tags map[string]string) {
	labels := labelNames(tags)
	p.mu.Lock()
	cv, ok := p.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labels)
		if err := p.registry.Register(cv); err != nil {
			p.mu.Unlock()
			log.WithError(err).WithField("metric", name).Warn("failed to register counter")
			return
		}
		p.counters[name] = cv
	}
	p.mu.Unlock()
	c, err := cv.GetMetricWith(tags)
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("inconsistent counter labels")
		return
	}
	c.Add(value)
}

func (p *Prometheus) Observe(name string, value float64, tags map[string]string) {
	labels := labelNames(tags)
	p.mu.Lock()
	hv, ok := p.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: bucketsFor(name),
		}, labels)
		if err := p.registry.Register(hv); err != nil {
			p.mu.Unlock()
			log.WithError(err).WithField("metric", name).Warn("failed to register histogram")
			return
		}
		p.histograms[name] = hv
	}
	p.mu.Unlock()
	h, err := hv.GetMetricWith(tags)
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("inconsistent histogram labels")
		return
	}
	h.Observe(value)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
