package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrLabelCountMismatch is returned when the number of label values doesn't match the defined labels.
var ErrLabelCountMismatch = errors.New("label count mismatch")

// ErrNegativeCounterValue is returned when attempting to add a negative value to a counter.
var ErrNegativeCounterValue = errors.New("counter cannot be decreased")

// ErrDuplicateMetric is returned when registering a metric with a name that is already registered.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// atomicFloat64 stores float64 bits in a uint64 for lock-free updates.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 { return math.Float64frombits(a.bits.Load()) }

func (a *atomicFloat64) Store(v float64) { a.bits.Store(math.Float64bits(v)) }

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// MetricType represents the type of a metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is the interface implemented by all metric types.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	// Collect returns all samples for exposition.
	Collect() []Sample
}

// Sample represents a single metric sample with labels.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// family holds the per-label-set children of one metric.
type family[V any] struct {
	name       string
	help       string
	kind       MetricType
	labelNames []string
	newChild   func() *V

	mu       sync.RWMutex
	children map[string]*child[V]
}

type child[V any] struct {
	labels map[string]string
	value  *V
}

func newFamily[V any](kind MetricType, name, help string, labelNames []string, newChild func() *V) *family[V] {
	return &family[V]{
		name:       name,
		help:       help,
		kind:       kind,
		labelNames: labelNames,
		newChild:   newChild,
		children:   make(map[string]*child[V]),
	}
}

func (f *family[V]) Name() string     { return f.name }
func (f *family[V]) Help() string     { return f.help }
func (f *family[V]) Type() MetricType { return f.kind }

func (f *family[V]) get(values []string) (*V, error) {
	if len(values) != len(f.labelNames) {
		return nil, fmt.Errorf("%w: %s %s expected %d labels, got %d",
			ErrLabelCountMismatch, f.kind, f.name, len(f.labelNames), len(values))
	}

	key := strings.Join(values, "\x00")
	f.mu.RLock()
	c, ok := f.children[key]
	f.mu.RUnlock()
	if ok {
		return c.value, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok = f.children[key]; ok {
		return c.value, nil
	}
	labels := make(map[string]string, len(values))
	for i, name := range f.labelNames {
		labels[name] = values[i]
	}
	c = &child[V]{labels: labels, value: f.newChild()}
	f.children[key] = c
	return c.value, nil
}

func (f *family[V]) snapshot() []*child[V] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*child[V], 0, len(f.children))
	for _, c := range f.children {
		out = append(out, c)
	}
	return out
}

// Counter is a monotonically increasing metric.
type Counter struct {
	*family[atomicFloat64]
}

// CounterVec is a counter bound to one label combination.
type CounterVec struct {
	v *atomicFloat64
}

// WithLabels returns the CounterVec for the given label values.
func (c *Counter) WithLabels(values ...string) (*CounterVec, error) {
	v, err := c.get(values)
	if err != nil {
		return nil, err
	}
	return &CounterVec{v: v}, nil
}

// Inc increments an unlabeled counter by 1.
func (c *Counter) Inc() error { return c.Add(1) }

// Add adds delta to an unlabeled counter.
func (c *Counter) Add(delta float64) error {
	if delta < 0 {
		return fmt.Errorf("%w: counter %s", ErrNegativeCounterValue, c.name)
	}
	vec, err := c.WithLabels()
	if err != nil {
		return err
	}
	return vec.Add(delta)
}

// Collect returns all metric samples.
func (c *Counter) Collect() []Sample {
	children := c.snapshot()
	samples := make([]Sample, 0, len(children))
	for _, ch := range children {
		samples = append(samples, Sample{Name: c.name, Labels: ch.labels, Value: ch.value.Load()})
	}
	return samples
}

// Inc increments the counter by 1.
func (v *CounterVec) Inc() error { return v.Add(1) }

// Add adds delta to the counter.
func (v *CounterVec) Add(delta float64) error {
	if delta < 0 {
		return ErrNegativeCounterValue
	}
	v.v.Add(delta)
	return nil
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	*family[atomicFloat64]
}

// GaugeVec is a gauge bound to one label combination.
type GaugeVec struct {
	v *atomicFloat64
}

// WithLabels returns the GaugeVec for the given label values.
func (g *Gauge) WithLabels(values ...string) (*GaugeVec, error) {
	v, err := g.get(values)
	if err != nil {
		return nil, err
	}
	return &GaugeVec{v: v}, nil
}

// Set sets an unlabeled gauge.
func (g *Gauge) Set(value float64) error {
	vec, err := g.WithLabels()
	if err != nil {
		return err
	}
	vec.Set(value)
	return nil
}

// Inc increments an unlabeled gauge by 1.
func (g *Gauge) Inc() error { return g.Add(1) }

// Dec decrements an unlabeled gauge by 1.
func (g *Gauge) Dec() error { return g.Add(-1) }

// Add adds delta to an unlabeled gauge.
func (g *Gauge) Add(delta float64) error {
	vec, err := g.WithLabels()
	if err != nil {
		return err
	}
	vec.Add(delta)
	return nil
}

// Collect returns all metric samples.
func (g *Gauge) Collect() []Sample {
	children := g.snapshot()
	samples := make([]Sample, 0, len(children))
	for _, ch := range children {
		samples = append(samples, Sample{Name: g.name, Labels: ch.labels, Value: ch.value.Load()})
	}
	return samples
}

func (v *GaugeVec) Set(value float64) { v.v.Store(value) }
func (v *GaugeVec) Inc()              { v.v.Add(1) }
func (v *GaugeVec) Dec()              { v.v.Add(-1) }
func (v *GaugeVec) Add(delta float64) { v.v.Add(delta) }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	*family[histogramValue]
	buckets []float64
}

type histogramValue struct {
	counts []atomic.Uint64
	sum    atomicFloat64
	count  atomic.Uint64
}

// HistogramVec is a histogram bound to one label combination.
type HistogramVec struct {
	buckets []float64
	hv      *histogramValue
}

// WithLabels returns the HistogramVec for the given label values.
func (h *Histogram) WithLabels(values ...string) (*HistogramVec, error) {
	hv, err := h.get(values)
	if err != nil {
		return nil, err
	}
	return &HistogramVec{buckets: h.buckets, hv: hv}, nil
}

// Observe records a value in an unlabeled histogram.
func (h *Histogram) Observe(value float64) error {
	vec, err := h.WithLabels()
	if err != nil {
		return err
	}
	vec.Observe(value)
	return nil
}

// Collect returns bucket, _sum and _count samples.
func (h *Histogram) Collect() []Sample {
	children := h.snapshot()
	samples := make([]Sample, 0, (len(h.buckets)+2)*len(children))
	for _, ch := range children {
		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += ch.value.counts[i].Load()
			labels := make(map[string]string, len(ch.labels)+1)
			for k, v := range ch.labels {
				labels[k] = v
			}
			labels["le"] = formatFloat(bound)
			samples = append(samples, Sample{Name: h.name + "_bucket", Labels: labels, Value: float64(cumulative)})
		}
		samples = append(samples,
			Sample{Name: h.name + "_sum", Labels: ch.labels, Value: ch.value.sum.Load()},
			Sample{Name: h.name + "_count", Labels: ch.labels, Value: float64(ch.value.count.Load())},
		)
	}
	return samples
}

// Observe records a value.
func (v *HistogramVec) Observe(value float64) {
	i := sort.SearchFloat64s(v.buckets, value)
	if i < len(v.buckets) {
		v.hv.counts[i].Add(1)
	}
	v.hv.sum.Add(value)
	v.hv.count.Add(1)
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates a new metric registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter creates and registers a new counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := &Counter{newFamily(MetricTypeCounter, name, help, labels, func() *atomicFloat64 { return new(atomicFloat64) })}
	r.register(c)
	return c
}

// NewGauge creates and registers a new gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := &Gauge{newFamily(MetricTypeGauge, name, help, labels, func() *atomicFloat64 { return new(atomicFloat64) })}
	r.register(g)
	return g
}

// NewHistogram creates and registers a new histogram. A +Inf bucket is
// appended when missing.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels ...string) *Histogram {
	bounds := slices.Clone(buckets)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{buckets: bounds}
	h.family = newFamily(MetricTypeHistogram, name, help, labels, func() *histogramValue {
		return &histogramValue{counts: make([]atomic.Uint64, len(bounds))}
	})
	r.register(h)
	return h
}

// register panics on a duplicate name, since duplicate metric names produce
// invalid exposition output.
func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[m.Name()]; exists {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateMetric, m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Handler returns an http.Handler that serves the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		metrics := slices.Clone(r.metrics)
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		bw := bufio.NewWriter(w)
		for _, m := range metrics {
			writeMetric(bw, m)
		}
		_ = bw.Flush()
	})
}

func writeMetric(w *bufio.Writer, m Metric) {
	samples := m.Collect()
	if len(samples) == 0 {
		return
	}
	// Order children by label set; histogram buckets keep their order.
	sort.SliceStable(samples, func(i, j int) bool {
		return childKey(samples[i].Labels) < childKey(samples[j].Labels)
	})

	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", m.Name(), m.Type())
	for _, s := range samples {
		if len(s.Labels) == 0 {
			_, _ = fmt.Fprintf(w, "%s %s\n", s.Name, formatFloat(s.Value))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s{%s} %s\n", s.Name, formatLabels(s.Labels), formatFloat(s.Value))
	}
}

func childKey(labels map[string]string) string {
	if _, ok := labels["le"]; !ok {
		return formatLabels(labels)
	}
	rest := make(map[string]string, len(labels)-1)
	for k, v := range labels {
		if k != "le" {
			rest[k] = v
		}
	}
	return formatLabels(rest)
}

// formatLabels renders labels as key="value" pairs sorted by key.
func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	return b.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
)

func escapeHelp(s string) string       { return helpEscaper.Replace(s) }
func escapeLabelValue(s string) string { return labelEscaper.Replace(s) }

// DurationBuckets cover streaming sessions, from sub-second failures to
// hour-long captures (seconds).
var DurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600}
