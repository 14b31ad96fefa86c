package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter renders a PlaybookStats snapshot as Prometheus
// collectors, grounded on oriys-nova/internal/metrics/prometheus.go's
// registry-and-collectors pattern (CounterVec/HistogramVec/GaugeVec
// registered against a private prometheus.Registry rather than the global
// default, so multiple playbook runs in one process don't collide).
type PrometheusExporter struct {
	registry *prometheus.Registry
	snapshot func() PlaybookStats
}

// NewPrometheusExporter builds an exporter that re-collects snapshot() on
// every scrape — Prometheus collectors are pull-based, so there is no
// separate "update" step.
func NewPrometheusExporter(namespace string, snapshot func() PlaybookStats) *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		snapshot: snapshot,
	}
	e.registry.MustRegister(&collector{namespace: namespace, snapshot: snapshot})
	return e
}

// Handler returns an http.Handler serving the Prometheus text exposition
// format at the shapes spec.md §4.6 names.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// collector implements prometheus.Collector by re-deriving every metric
// from a fresh PlaybookStats snapshot at scrape time.
type collector struct {
	namespace string
	snapshot  func() PlaybookStats
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic label sets (host/module/classification vary per run); the
	// client library permits an unchecked collector as long as Collect
	// stays consistent within a single registry lifetime, same pattern
	// oriys-nova's PrometheusMetrics relies on for its *Vec fields.
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ns := c.namespace

	tasksTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "tasks_total"), "Total tasks by status", []string{"status"}, nil)
	var ok, changed, failed, skipped, unreachable int
	for _, h := range s.Hosts {
		ok += h.Ok
		changed += h.Changed
		failed += h.Failed
		skipped += h.Skipped
		unreachable += h.Unreachable
	}
	for status, count := range map[string]int{
		"ok": ok, "changed": changed, "failed": failed, "skipped": skipped, "unreachable": unreachable,
	} {
		ch <- prometheus.MustNewConstMetric(tasksTotal, prometheus.CounterValue, float64(count), status)
	}

	hostTasksTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "host_tasks_total"), "Total tasks by host and status", []string{"host", "status"}, nil)
	for host, h := range s.Hosts {
		for status, count := range map[string]int{
			"ok": h.Ok, "changed": h.Changed, "failed": h.Failed, "skipped": h.Skipped, "unreachable": h.Unreachable,
		} {
			ch <- prometheus.MustNewConstMetric(hostTasksTotal, prometheus.CounterValue, float64(count), host, status)
		}
	}

	execTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "module_executions_total"), "Total module invocations", []string{"module"}, nil)
	durTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "module_duration_seconds_total"), "Total module duration in seconds", []string{"module"}, nil)
	failTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "module_failures_total"), "Total module failures", []string{"module"}, nil)
	for name, m := range s.Modules {
		ch <- prometheus.MustNewConstMetric(execTotal, prometheus.CounterValue, float64(m.Count), name)
		ch <- prometheus.MustNewConstMetric(durTotal, prometheus.CounterValue, m.TotalDuration.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(failTotal, prometheus.CounterValue, float64(m.Failures), name)
	}

	classTotal := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "classification_executions_total"), "Total invocations by module classification", []string{"classification"}, nil)
	classChanged := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "classification_changed_total"), "Total changed invocations by module classification", []string{"classification"}, nil)
	for name, cl := range s.Classifications {
		ch <- prometheus.MustNewConstMetric(classTotal, prometheus.CounterValue, float64(cl.Count), name)
		ch <- prometheus.MustNewConstMetric(classChanged, prometheus.CounterValue, float64(cl.Changed), name)
	}

	histDesc := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "task_duration_seconds"), "Task duration histogram", nil, nil)
	boundariesMS, cumulative := s.Histogram.CumulativeCounts()
	buckets := make(map[float64]uint64, len(boundariesMS))
	for i, b := range boundariesMS {
		buckets[b/1000] = uint64(cumulative[i])
	}
	ch <- prometheus.MustNewConstHistogram(histDesc, uint64(s.Histogram.Count()), s.Histogram.Sum()/1000, buckets)

	playbookDuration := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "playbook_duration_seconds"), "Playbook wall-clock duration", nil, nil)
	ch <- prometheus.MustNewConstMetric(playbookDuration, prometheus.GaugeValue, s.Duration().Seconds())

	successRate := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "success_rate"), "Fraction of tasks that succeeded", nil, nil)
	ch <- prometheus.MustNewConstMetric(successRate, prometheus.GaugeValue, s.SuccessRate())

	if s.MemStart != nil && s.MemEnd != nil {
		memDesc := prometheus.NewDesc(prometheus.BuildFQName(ns, "", "memory_alloc_bytes"), "Heap allocation at run boundary", []string{"when"}, nil)
		ch <- prometheus.MustNewConstMetric(memDesc, prometheus.GaugeValue, float64(s.MemStart.HeapAlloc), "start")
		ch <- prometheus.MustNewConstMetric(memDesc, prometheus.GaugeValue, float64(s.MemEnd.HeapAlloc), "end")
	}
}
