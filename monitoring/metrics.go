// Package monitoring keeps in-process metrics and renders them in the
// Prometheus text format.
package monitoring

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

const historyLimit = 1000

// Metric 指标样本
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// series is one name and label set.
type series struct {
	labels map[string]string
	value  float64

	// histogram state
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type family struct {
	name   string
	help   string
	typ    MetricType
	series map[string]*series
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	families    map[string]*family
	history     map[string][]Metric
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		families:  make(map[string]*family),
		history:   make(map[string][]Metric),
		startTime: time.Now(),
	}
}

// Describe sets the HELP text for a metric name.
func (mc *MetricsCollector) Describe(name, help string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()
	if f, ok := mc.families[name]; ok {
		f.help = help
		return
	}
	mc.families[name] = &family{name: name, help: help, series: make(map[string]*series)}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	mc.update(name, MetricTypeCounter, labels, func(s *series) float64 {
		s.value += value
		return s.value
	})
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeGauge, labels, func(s *series) float64 {
		s.value = value
		return s.value
	})
}

// RecordHistogram 记录直方图. buckets are used the first time a series is
// seen; nil means DefaultBuckets.
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string, buckets []float64) {
	mc.update(name, MetricTypeHistogram, labels, func(s *series) float64 {
		if s.buckets == nil {
			if buckets == nil {
				buckets = DefaultBuckets
			}
			s.buckets = append([]float64(nil), buckets...)
			sort.Float64s(s.buckets)
			s.counts = make([]uint64, len(s.buckets))
		}
		for i, upper := range s.buckets {
			if value <= upper {
				s.counts[i]++
			}
		}
		s.sum += value
		s.count++
		return value
	})
}

func (mc *MetricsCollector) update(name string, typ MetricType, labels map[string]string, apply func(*series) float64) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	f, ok := mc.families[name]
	if !ok {
		f = &family{name: name, series: make(map[string]*series)}
		mc.families[name] = f
	}
	if f.typ == "" {
		f.typ = typ
	}
	if f.typ != typ {
		return
	}

	key := labelString(labels)
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: copyLabels(labels)}
		f.series[key] = s
	}
	value := apply(s)

	samples := append(mc.history[name], Metric{
		Name:      name,
		Type:      typ,
		Value:     value,
		Labels:    s.labels,
		Timestamp: time.Now(),
	})
	// 限制历史大小
	if len(samples) > historyLimit {
		samples = samples[len(samples)-historyLimit:]
	}
	mc.history[name] = samples
}

// GetMetric returns the recorded samples for name, oldest first.
func (mc *MetricsCollector) GetMetric(name string) ([]Metric, error) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	samples, ok := mc.history[name]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}
	return append([]Metric(nil), samples...), nil
}

// Value returns the current value of a counter or gauge series.
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	f, ok := mc.families[name]
	if !ok {
		return 0, false
	}
	s, ok := f.series[labelString(labels)]
	if !ok {
		return 0, false
	}
	if f.typ == MetricTypeHistogram {
		return float64(s.count), true
	}
	return s.value, true
}

// GetMetricSummary 获取指标摘要
func (mc *MetricsCollector) GetMetricSummary(name string) (map[string]interface{}, error) {
	samples, err := mc.GetMetric(name)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return map[string]interface{}{"name": name, "count": 0}, nil
	}

	min, max, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, m := range samples {
		sum += m.Value
		min = math.Min(min, m.Value)
		max = math.Max(max, m.Value)
	}
	return map[string]interface{}{
		"name":      name,
		"count":     len(samples),
		"latest":    samples[len(samples)-1].Value,
		"earliest":  samples[0].Value,
		"min":       min,
		"max":       max,
		"average":   sum / float64(len(samples)),
		"timestamp": samples[len(samples)-1].Timestamp,
	}, nil
}

// CollectSystemMetrics samples runtime gauges every interval until ctx is done.
func (mc *MetricsCollector) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mc.collectRuntime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.collectRuntime()
		}
	}
}

func (mc *MetricsCollector) collectRuntime() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.SetGauge("memory_heap_alloc_bytes", float64(m.HeapAlloc), nil)
	mc.SetGauge("memory_heap_sys_bytes", float64(m.HeapSys), nil)
	mc.SetGauge("memory_gc_count", float64(m.NumGC), nil)
	mc.SetGauge("system_goroutines", float64(runtime.NumGoroutine()), nil)
	mc.SetGauge("process_uptime_seconds", mc.GetUptime().Seconds(), nil)
}

// ExportPrometheus 导出Prometheus格式. Families and series are sorted so the
// output is stable.
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	names := make([]string, 0, len(mc.families))
	for name, f := range mc.families {
		if len(f.series) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := mc.families[name]
		help := f.help
		if help == "" {
			help = "Metric " + name
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.typ)

		keys := make([]string, 0, len(f.series))
		for key := range f.series {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			s := f.series[key]
			if f.typ != MetricTypeHistogram {
				fmt.Fprintf(&b, "%s%s %s\n", name, key, formatFloat(s.value))
				continue
			}
			for i, upper := range s.buckets {
				fmt.Fprintf(&b, "%s_bucket%s %d\n", name, withLabel(s.labels, "le", formatFloat(upper)), s.counts[i])
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", name, withLabel(s.labels, "le", "+Inf"), s.count)
			fmt.Fprintf(&b, "%s_sum%s %s\n", name, key, formatFloat(s.sum))
			fmt.Fprintf(&b, "%s_count%s %d\n", name, key, s.count)
		}
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, strconv.Quote(labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func withLabel(labels map[string]string, key, value string) string {
	merged := copyLabels(labels)
	if merged == nil {
		merged = make(map[string]string, 1)
	}
	merged[key] = value
	return labelString(merged)
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
