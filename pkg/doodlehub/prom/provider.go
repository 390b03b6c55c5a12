// Package prom implements the o11y metrics interfaces on a Prometheus
// registry.
package prom

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
)

// Config configures a Provider.
type Config struct {
	// Namespace prefixes every metric name (default: "doodlehub").
	Namespace string

	// ConstLabels are added to all metrics. A constant label whose name a
	// metric also uses as a variable label is left off that metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the metrics. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures a Provider.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Provider is an o11y.MetricsProvider backed by client_golang.
//
// The o11y interfaces pass labels per observation, so each metric vector is
// created on its first observation using that observation's label keys.
// Later observations with a different key set are dropped.
type Provider struct {
	config  Config
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
}

// NewProvider creates a provider.
func NewProvider(opts ...Option) *Provider {
	config := Config{
		Namespace: "doodlehub",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	return &Provider{
		config:     config,
		factory:    promauto.With(config.Registry),
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]*gauge),
	}
}

// Registry returns the registry metrics are registered with.
func (p *Provider) Registry() *prometheus.Registry {
	return p.config.Registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.config.Registry, promhttp.HandlerOpts{})
}

func (p *Provider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c
	}
	c := &counter{provider: p, name: name}
	p.counters[name] = c
	return c
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h
	}
	h := &histogram{provider: p, name: name}
	p.histograms[name] = h
	return h
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[name]; ok {
		return g
	}
	g := &gauge{provider: p, name: name}
	p.gauges[name] = g
	return g
}

func help(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func (p *Provider) constLabels(keys []string) prometheus.Labels {
	if len(p.config.ConstLabels) == 0 {
		return nil
	}

	labels := make(prometheus.Labels, len(p.config.ConstLabels))
	for name, value := range p.config.ConstLabels {
		labels[name] = value
	}
	for _, key := range keys {
		delete(labels, key)
	}
	return labels
}

func splitLabels(labels []o11y.Label) ([]string, prometheus.Labels) {
	keys := make([]string, 0, len(labels))
	values := make(prometheus.Labels, len(labels))
	for _, label := range labels {
		if _, dup := values[label.Key]; !dup {
			keys = append(keys, label.Key)
		}
		values[label.Key] = label.Value
	}
	sort.Strings(keys)
	return keys, values
}

type counter struct {
	provider *Provider
	name     string

	once sync.Once
	vec  *prometheus.CounterVec
}

func (c *counter) Add(_ context.Context, value int64, labels ...o11y.Label) {
	keys, values := splitLabels(labels)

	c.once.Do(func() {
		c.vec = c.provider.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   c.provider.config.Namespace,
			Name:        c.name,
			Help:        help(c.name),
			ConstLabels: c.provider.constLabels(keys),
		}, keys)
	})

	if m, err := c.vec.GetMetricWith(values); err == nil {
		m.Add(float64(value))
	}
}

type histogram struct {
	provider *Provider
	name     string

	once sync.Once
	vec  *prometheus.HistogramVec
}

func (h *histogram) Record(_ context.Context, value float64, labels ...o11y.Label) {
	keys, values := splitLabels(labels)

	h.once.Do(func() {
		h.vec = h.provider.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   h.provider.config.Namespace,
			Name:        h.name,
			Help:        help(h.name),
			ConstLabels: h.provider.constLabels(keys),
			Buckets:     h.provider.config.Buckets,
		}, keys)
	})

	if m, err := h.vec.GetMetricWith(values); err == nil {
		m.Observe(value)
	}
}

type gauge struct {
	provider *Provider
	name     string

	once sync.Once
	vec  *prometheus.GaugeVec
}

func (g *gauge) Set(_ context.Context, value float64, labels ...o11y.Label) {
	keys, values := splitLabels(labels)

	g.once.Do(func() {
		g.vec = g.provider.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   g.provider.config.Namespace,
			Name:        g.name,
			Help:        help(g.name),
			ConstLabels: g.provider.constLabels(keys),
		}, keys)
	})

	if m, err := g.vec.GetMetricWith(values); err == nil {
		m.Set(value)
	}
}
