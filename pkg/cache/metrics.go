package cache

import "sync/atomic"

// Metrics holds atomic counters for cache observability, matching
// spec.md §4.4: relaxed-ordering counts are sufficient since the sum is
// metrics-grade, not authoritative.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	L3Hits   int64
	L3Misses int64

	Promotions int64
	Demotions  int64
	Evictions  int64
	Expirations int64

	l1EntryCount int64
	l1ByteCount  int64

	latencyEMA int64 // nanoseconds, seeded on first sample
	hasLatency int64 // 0/1
}

func (m *Metrics) recordL1Hit()   { atomic.AddInt64(&m.L1Hits, 1) }
func (m *Metrics) recordL1Miss()  { atomic.AddInt64(&m.L1Misses, 1) }
func (m *Metrics) recordL2Hit()   { atomic.AddInt64(&m.L2Hits, 1) }
func (m *Metrics) recordL2Miss()  { atomic.AddInt64(&m.L2Misses, 1) }
func (m *Metrics) recordL3Hit()   { atomic.AddInt64(&m.L3Hits, 1) }
func (m *Metrics) recordL3Miss()  { atomic.AddInt64(&m.L3Misses, 1) }
func (m *Metrics) recordPromotion() { atomic.AddInt64(&m.Promotions, 1) }
func (m *Metrics) recordDemotion()  { atomic.AddInt64(&m.Demotions, 1) }
func (m *Metrics) recordEviction()  { atomic.AddInt64(&m.Evictions, 1) }
func (m *Metrics) recordExpiration() { atomic.AddInt64(&m.Expirations, 1) }

func (m *Metrics) setL1EntryCount(n int) { atomic.StoreInt64(&m.l1EntryCount, int64(n)) }
func (m *Metrics) addL1Bytes(delta int64) { atomic.AddInt64(&m.l1ByteCount, delta) }

// L1EntryCount returns the last-observed L1 entry count.
func (m *Metrics) L1EntryCount() int64 { return atomic.LoadInt64(&m.l1EntryCount) }

// L1ByteCount returns the current tracked L1 byte total.
func (m *Metrics) L1ByteCount() int64 { return atomic.LoadInt64(&m.l1ByteCount) }

// recordLatency folds a new latency sample (nanoseconds) into the EMA:
// new = (9*old + sample) / 10, seeded by the first observed sample.
func (m *Metrics) recordLatency(sampleNs int64) {
	for {
		old := atomic.LoadInt64(&m.latencyEMA)
		seeded := atomic.LoadInt64(&m.hasLatency)
		var next int64
		if seeded == 0 {
			next = sampleNs
		} else {
			next = (9*old + sampleNs) / 10
		}
		if atomic.CompareAndSwapInt64(&m.latencyEMA, old, next) {
			atomic.StoreInt64(&m.hasLatency, 1)
			return
		}
	}
}

// LatencyEMA returns the current exponential moving average access latency in nanoseconds.
func (m *Metrics) LatencyEMA() int64 { return atomic.LoadInt64(&m.latencyEMA) }

// Snapshot is an immutable point-in-time read of all counters.
type Snapshot struct {
	L1Hits, L1Misses     int64
	L2Hits, L2Misses     int64
	L3Hits, L3Misses     int64
	Promotions, Demotions int64
	Evictions, Expirations int64
	L1EntryCount, L1ByteCount int64
	LatencyEMANanos int64
}

// Snapshot takes a consistent-enough (relaxed) read of every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		L1Hits:         atomic.LoadInt64(&m.L1Hits),
		L1Misses:       atomic.LoadInt64(&m.L1Misses),
		L2Hits:         atomic.LoadInt64(&m.L2Hits),
		L2Misses:       atomic.LoadInt64(&m.L2Misses),
		L3Hits:         atomic.LoadInt64(&m.L3Hits),
		L3Misses:       atomic.LoadInt64(&m.L3Misses),
		Promotions:     atomic.LoadInt64(&m.Promotions),
		Demotions:      atomic.LoadInt64(&m.Demotions),
		Evictions:      atomic.LoadInt64(&m.Evictions),
		Expirations:    atomic.LoadInt64(&m.Expirations),
		L1EntryCount:   m.L1EntryCount(),
		L1ByteCount:    m.L1ByteCount(),
		LatencyEMANanos: m.LatencyEMA(),
	}
}
