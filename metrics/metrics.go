// Package metrics exposes the coordinator/builder counters and timings
// named in spec.md §4.1.1 (builds.success, builds.failed.build, …) through
// a small Scope API. Counters and histograms are registered on the
// Collector's own prometheus.Registry, which internal/logserver serves at
// /metrics.
package metrics

import (
	"regexp"
	"sort"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	logger   logger.Logger
	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type CollectorConfig struct {
	Namespace string // defaults to "chaotic_manager"
}

func NewCollector(l logger.Logger, c CollectorConfig) *Collector {
	if c.Namespace == "" {
		c.Namespace = "chaotic_manager"
	}
	return &Collector{
		logger:     l,
		registry:   prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (c *Collector) Start() error {
	c.logger.Info("Starting metrics collection")
	return nil
}

func (c *Collector) Stop() error {
	c.logger.Info("Stopping metrics collection")
	return nil
}

// Registry exposes the underlying prometheus.Registry for an HTTP handler
// to serve (internal/logserver wires this to /metrics).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Scope(tags Tags) *Scope {
	return &Scope{Tags: tags, c: c}
}

type Scope struct {
	Tags Tags
	c    *Collector
}

func (s *Scope) counterFor(name string, labelNames []string) *prometheus.CounterVec {
	if cv, ok := s.c.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: sanitizeMetricName(name),
		Help: name,
	}, labelNames)
	s.c.registry.MustRegister(cv)
	s.c.counters[name] = cv
	return cv
}

func (s *Scope) histogramFor(name string, labelNames []string) *prometheus.HistogramVec {
	if hv, ok := s.c.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: sanitizeMetricName(name),
		Help: name,
	}, labelNames)
	s.c.registry.MustRegister(hv)
	s.c.histograms[name] = hv
	return hv
}

// Timing records a duration in seconds.
func (s *Scope) Timing(name string, value time.Duration, tags ...Tags) {
	merged := s.mergeTags(tags...)
	names, vals := merged.LabelPairs()
	s.c.logger.Debug("Metrics timing %s=%v %v", name, value, vals)
	s.histogramFor(name, names).WithLabelValues(vals...).Observe(value.Seconds())
}

// With returns a scope with more tags added.
func (s *Scope) With(tags Tags) *Scope {
	return &Scope{Tags: s.mergeTags(tags), c: s.c}
}

// Count increments a counter by value.
func (s *Scope) Count(name string, value int64, tags ...Tags) {
	merged := s.mergeTags(tags...)
	names, vals := merged.LabelPairs()
	s.c.logger.Debug("Metrics count %s=%v %v", name, value, vals)
	s.counterFor(name, names).WithLabelValues(vals...).Add(float64(value))
}

func (s *Scope) mergeTags(tagsSlice ...Tags) Tags {
	merged := Tags{}
	for k, v := range s.Tags {
		merged[formatName(k)] = formatName(v)
	}
	for _, tags := range tagsSlice {
		for k, v := range tags {
			merged[formatName(k)] = formatName(v)
		}
	}
	return merged
}

type Tags map[string]string

// LabelPairs returns sorted label names and their matching values, the
// shape prometheus's *Vec.WithLabelValues needs (order must be stable
// across calls for the same label name set).
func (t Tags) LabelPairs() (names, values []string) {
	for k, v := range t {
		if k != "" && v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		values = append(values, t[k])
	}
	return names, values
}

func (tags Tags) StringSlice() []string {
	var out []string
	for k, v := range tags {
		if k != "" && v != "" {
			out = append(out, formatName(k)+":"+formatName(v))
		}
	}
	sort.Strings(out)
	return out
}

// Prometheus label/metric names allow only [a-zA-Z0-9_:].
var nameRegex = regexp.MustCompile(`[^_a-zA-Z0-9:]+`)

func formatName(name string) string {
	return nameRegex.ReplaceAllString(name, "_")
}

func sanitizeMetricName(name string) string {
	return formatName(name)
}
