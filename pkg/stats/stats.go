// Package stats implements the Statistics Aggregator (C6): a per-run
// rollup of host/module/classification counters plus a duration
// histogram, exported as JSON or Prometheus text. Grounded on
// pkg/callback/callback.go's RunStats/HostStats shape (kept as the
// per-host rollup), extended with per-module and per-classification
// counters and a configurable-bucket histogram per spec.md §4.6.
package stats

import (
	"encoding/json"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/forgeops/forge/pkg/types"
)

// DefaultBucketsMS are spec.md §4.6's default histogram boundaries, in
// milliseconds.
var DefaultBucketsMS = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// HostStat mirrors pkg/callback.HostStats, with Unreachable added
// (the teacher's struct already had the field; kept).
type HostStat struct {
	Host        string        `json:"host"`
	Ok          int           `json:"ok"`
	Changed     int           `json:"changed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Unreachable int           `json:"unreachable"`
	TotalTime   time.Duration `json:"total_time"`
}

// ModuleStat rolls up every invocation of a single module across the run.
type ModuleStat struct {
	Module        string        `json:"module"`
	Count         int           `json:"count"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	Changed       int           `json:"changed"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

func (m *ModuleStat) avg() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Count)
}

// ClassificationStat rolls up every invocation sharing a module
// Classification (spec.md §3: local_logic/native_transport/remote_command/
// python_fallback).
type ClassificationStat struct {
	Classification string `json:"classification"`
	Count          int    `json:"count"`
	Successes      int    `json:"successes"`
	Failures       int    `json:"failures"`
	Changed        int    `json:"changed"`
}

// Histogram is a fixed-bucket cumulative duration histogram, boundaries in
// milliseconds, with an implicit +Inf overflow bucket.
type Histogram struct {
	boundaries []float64 // ascending, ms
	counts     []int64   // len(boundaries)+1, counts[i] = count in (boundaries[i-1], boundaries[i]]
	sum        float64   // ms
	total      int64
}

// NewHistogram builds a Histogram over boundaries (ms), sorted ascending.
// A nil/empty slice falls back to DefaultBucketsMS.
func NewHistogram(boundariesMS []float64) *Histogram {
	if len(boundariesMS) == 0 {
		boundariesMS = DefaultBucketsMS
	}
	b := make([]float64, len(boundariesMS))
	copy(b, boundariesMS)
	sort.Float64s(b)
	return &Histogram{boundaries: b, counts: make([]int64, len(b)+1)}
}

// Observe records one duration sample.
func (h *Histogram) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	h.sum += ms
	h.total++
	for i, boundary := range h.boundaries {
		if ms <= boundary {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.counts)-1]++ // overflow (+Inf)
}

// CumulativeCounts returns, for each finite boundary (ascending) plus a
// final +Inf entry, the number of samples at or below it — the shape
// Prometheus's histogram exposition format requires.
func (h *Histogram) CumulativeCounts() ([]float64, []int64) {
	boundaries := append(append([]float64{}, h.boundaries...), math.Inf(1))
	cumulative := make([]int64, len(boundaries))
	var running int64
	for i := range h.counts {
		running += h.counts[i]
		cumulative[i] = running
	}
	return boundaries, cumulative
}

// Percentile returns the smallest bucket boundary whose cumulative count is
// >= ceil(p*total/100), per spec.md §4.6. p is in [0,100]. Returns +Inf if
// even the overflow bucket doesn't reach the target (impossible unless
// total is 0, in which case it returns 0).
func (h *Histogram) Percentile(p float64) float64 {
	if h.total == 0 {
		return 0
	}
	target := int64(math.Ceil(p * float64(h.total) / 100))
	boundaries, cumulative := h.CumulativeCounts()
	for i, count := range cumulative {
		if count >= target {
			return boundaries[i]
		}
	}
	return math.Inf(1)
}

// Sum returns the total of all observed durations, in milliseconds.
func (h *Histogram) Sum() float64 { return h.sum }

// Count returns the number of observations.
func (h *Histogram) Count() int64 { return h.total }

// PlaybookStats is the full per-run record: everything JSON/Prometheus
// export draws from.
type PlaybookStats struct {
	StartTime       time.Time
	EndTime         time.Time
	Hosts           map[string]*HostStat
	Modules         map[string]*ModuleStat
	Classifications map[string]*ClassificationStat
	Histogram       *Histogram
	MemStart        *runtime.MemStats
	MemEnd          *runtime.MemStats
}

// Aggregator is the concurrency-safe accumulator callers record into as
// tasks complete; PlaybookStats is its point-in-time snapshot.
type Aggregator struct {
	mu    sync.Mutex
	stats *PlaybookStats
	now   func() time.Time
}

// Option configures an Aggregator at construction.
type Option func(*Aggregator)

// WithBucketsMS overrides the histogram's boundaries.
func WithBucketsMS(boundaries []float64) Option {
	return func(a *Aggregator) { a.stats.Histogram = NewHistogram(boundaries) }
}

// WithMemorySnapshot captures a runtime.MemStats snapshot as the run's
// starting point.
func WithMemorySnapshot() Option {
	return func(a *Aggregator) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		a.stats.MemStart = &m
	}
}

// withClock is test-only: lets tests inject a deterministic clock instead
// of time.Now().
func withClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator, starting its run clock immediately.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		now: time.Now,
		stats: &PlaybookStats{
			Hosts:           make(map[string]*HostStat),
			Modules:         make(map[string]*ModuleStat),
			Classifications: make(map[string]*ClassificationStat),
			Histogram:       NewHistogram(nil),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.stats.StartTime = a.now()
	return a
}

// Record folds one task result into the aggregator: host counters, module
// counters, classification counters, and the duration histogram.
func (a *Aggregator) Record(result types.Result, classification types.Classification) {
	a.mu.Lock()
	defer a.mu.Unlock()

	host := a.hostStat(result.Host)
	module := a.moduleStat(result.ModuleName)
	class := a.classificationStat(string(classification))

	switch {
	case isUnreachable(result):
		host.Unreachable++
	case !result.Success:
		host.Failed++
		module.Failures++
		class.Failures++
	default:
		host.Ok++
		module.Successes++
		class.Successes++
		if result.Changed {
			host.Changed++
			module.Changed++
			class.Changed++
		}
	}
	host.TotalTime += result.Duration

	module.Count++
	class.Count++
	if module.MinDuration == 0 || result.Duration < module.MinDuration {
		module.MinDuration = result.Duration
	}
	if result.Duration > module.MaxDuration {
		module.MaxDuration = result.Duration
	}
	module.TotalDuration += result.Duration

	a.stats.Histogram.Observe(result.Duration)
}

func isUnreachable(result types.Result) bool {
	_, ok := result.Error.(*types.UnreachableError)
	return ok
}

func (a *Aggregator) hostStat(host string) *HostStat {
	s, ok := a.stats.Hosts[host]
	if !ok {
		s = &HostStat{Host: host}
		a.stats.Hosts[host] = s
	}
	return s
}

func (a *Aggregator) moduleStat(module string) *ModuleStat {
	s, ok := a.stats.Modules[module]
	if !ok {
		s = &ModuleStat{Module: module}
		a.stats.Modules[module] = s
	}
	return s
}

func (a *Aggregator) classificationStat(classification string) *ClassificationStat {
	s, ok := a.stats.Classifications[classification]
	if !ok {
		s = &ClassificationStat{Classification: classification}
		a.stats.Classifications[classification] = s
	}
	return s
}

// Finish stamps the run's end time and, if WithMemorySnapshot was set,
// captures the closing MemStats snapshot.
func (a *Aggregator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.EndTime = a.now()
	if a.stats.MemStart != nil {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		a.stats.MemEnd = &m
	}
}

// Snapshot returns a copy of the current PlaybookStats suitable for export.
func (a *Aggregator) Snapshot() PlaybookStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := PlaybookStats{
		StartTime:       a.stats.StartTime,
		EndTime:         a.stats.EndTime,
		Hosts:           make(map[string]*HostStat, len(a.stats.Hosts)),
		Modules:         make(map[string]*ModuleStat, len(a.stats.Modules)),
		Classifications: make(map[string]*ClassificationStat, len(a.stats.Classifications)),
		Histogram:       a.stats.Histogram,
		MemStart:        a.stats.MemStart,
		MemEnd:          a.stats.MemEnd,
	}
	for k, v := range a.stats.Hosts {
		cp := *v
		out.Hosts[k] = &cp
	}
	for k, v := range a.stats.Modules {
		cp := *v
		out.Modules[k] = &cp
	}
	for k, v := range a.stats.Classifications {
		cp := *v
		out.Classifications[k] = &cp
	}
	return out
}

// SuccessRate returns the fraction (0..1) of recorded tasks that succeeded,
// across every host.
func (s PlaybookStats) SuccessRate() float64 {
	var total, ok int
	for _, h := range s.Hosts {
		n := h.Ok + h.Failed + h.Skipped
		total += n
		ok += h.Ok
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// Duration returns the run's wall-clock duration.
func (s PlaybookStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// jsonView is the shape PlaybookStats serializes to — ModuleStat gains a
// computed AvgDuration the struct itself doesn't store.
type jsonModuleStat struct {
	ModuleStat
	AvgDuration time.Duration `json:"avg_duration"`
}

type jsonView struct {
	StartTime       time.Time                      `json:"start_time"`
	EndTime         time.Time                      `json:"end_time"`
	DurationSeconds float64                        `json:"duration_seconds"`
	SuccessRate     float64                        `json:"success_rate"`
	Hosts           map[string]*HostStat           `json:"hosts"`
	Modules         map[string]jsonModuleStat       `json:"modules"`
	Classifications map[string]*ClassificationStat `json:"classifications"`
}

// JSON serializes the snapshot. pretty=true indents with two spaces.
func (s PlaybookStats) JSON(pretty bool) ([]byte, error) {
	view := jsonView{
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.Duration().Seconds(),
		SuccessRate:     s.SuccessRate(),
		Hosts:           s.Hosts,
		Modules:         make(map[string]jsonModuleStat, len(s.Modules)),
		Classifications: s.Classifications,
	}
	for k, v := range s.Modules {
		view.Modules[k] = jsonModuleStat{ModuleStat: *v, AvgDuration: v.avg()}
	}
	if pretty {
		return json.MarshalIndent(view, "", "  ")
	}
	return json.Marshal(view)
}
