package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Config holds the tier knobs from spec.md §4.4, surfaced in
// pkg/config.Config as l1_max_entries, l1_max_memory_bytes,
// l2_cache_path, l2_max_entries, l3_*, ttl_multiplier,
// promotion_access_threshold, demotion_idle_threshold and
// tier_management_interval.
type Config struct {
	L1MaxEntries     int
	L1MaxMemoryBytes int64
	L2CachePath      string
	L2MaxEntries     int

	L3Enabled bool
	L3        L3Tier // optional; nil disables L3 probing even if L3Enabled is true

	TTLMultiplier            float64
	PromotionAccessThreshold int64
	DemotionIdleThreshold    time.Duration
	TierManagementInterval   time.Duration

	// Now lets tests inject a deterministic clock; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.L1MaxEntries <= 0 {
		out.L1MaxEntries = 500
	}
	if out.L1MaxMemoryBytes <= 0 {
		out.L1MaxMemoryBytes = 64 * 1024 * 1024
	}
	if out.L2MaxEntries <= 0 {
		out.L2MaxEntries = 5000
	}
	if out.TTLMultiplier <= 0 {
		out.TTLMultiplier = 1.0
	}
	if out.PromotionAccessThreshold <= 0 {
		out.PromotionAccessThreshold = 3
	}
	if out.DemotionIdleThreshold <= 0 {
		out.DemotionIdleThreshold = 5 * time.Minute
	}
	if out.TierManagementInterval <= 0 {
		out.TierManagementInterval = time.Minute
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// TieredCache is the C4 three-tier (L1 hot / L2 warm / L3 cold) fact cache.
type TieredCache struct {
	cfg Config

	l1 *l1Store
	l2 *l2Store

	mu     sync.Mutex // guards cross-tier moves (promotion/demotion/eviction)
	Metric *Metrics

	invalidation *invalidationBus
}

// New constructs a TieredCache. If cfg.L2CachePath is non-empty and
// warming is desired, call WarmFromDisk after construction.
func New(cfg Config) *TieredCache {
	full := cfg.withDefaults()
	return &TieredCache{
		cfg:          full,
		l1:           newL1Store(),
		l2:           newL2Store(full.L2CachePath),
		Metric:       &Metrics{},
		invalidation: newInvalidationBus(32),
	}
}

func (c *TieredCache) now() time.Time { return c.cfg.Now() }

// Subscribe returns a channel of invalidation events (lossy if the
// subscriber falls behind the bus's buffer).
func (c *TieredCache) Subscribe() <-chan InvalidationEvent {
	return c.invalidation.Subscribe()
}

// WarmFromDisk scans l2_cache_path, drops fully-expired entries (deleting
// their files), and loads the rest into L2. Safe to call once at startup.
func (c *TieredCache) WarmFromDisk() (loaded, dropped int, err error) {
	return c.l2.warm(c.cfg.TTLMultiplier, c.now())
}

// Insert always lands facts in L1, evicting LRU entries to L2 first if the
// configured entry-count or byte bounds would be exceeded.
func (c *TieredCache) Insert(hostname string, facts *PartitionedFacts) {
	entry := NewEntry(facts, c.cfg.TTLMultiplier)
	entry.Tier = TierL1
	entry.LastAccessed = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove any existing placement first (at-most-one-tier invariant).
	c.removeFromAllTiersLocked(hostname)

	c.evictIfNeededLocked(entry.SizeBytes)

	c.l1.set(hostname, entry)
	c.Metric.setL1EntryCount(c.l1.count())
	c.Metric.addL1Bytes(entry.SizeBytes)
}

// evictIfNeededLocked evicts LRU L1 entries (smallest LastAccessed) by
// demoting them to L2, until both the entry-count and byte bounds hold for
// the incoming entry of addBytes.
func (c *TieredCache) evictIfNeededLocked(addBytes int64) {
	for {
		snap := c.l1.snapshot()
		currentBytes := int64(0)
		for _, e := range snap {
			currentBytes += e.SizeBytes
		}
		if len(snap) < c.cfg.L1MaxEntries && currentBytes+addBytes <= c.cfg.L1MaxMemoryBytes {
			return
		}
		if len(snap) == 0 {
			return
		}
		// Find LRU (smallest LastAccessed).
		var lruHost string
		var lruEntry *Entry
		for h, e := range snap {
			if lruEntry == nil || e.LastAccessed.Before(lruEntry.LastAccessed) {
				lruHost, lruEntry = h, e
			}
		}
		c.l1.delete(lruHost)
		c.Metric.addL1Bytes(-lruEntry.SizeBytes)
		c.Metric.recordEviction()
		lruEntry.Tier = TierL2
		_ = c.l2.put(lruHost, lruEntry)
		c.Metric.setL1EntryCount(c.l1.count())
	}
}

func (c *TieredCache) removeFromAllTiersLocked(hostname string) {
	if e, ok := c.l1.delete(hostname); ok {
		c.Metric.addL1Bytes(-e.SizeBytes)
		c.Metric.setL1EntryCount(c.l1.count())
	}
	c.l2.delete(hostname)
	if c.cfg.L3Enabled && c.cfg.L3 != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.cfg.L3.Delete(ctx, hostname)
		cancel()
	}
}

// Get implements the tiered lookup of spec.md §4.4: L1, then L2 (promoting
// on threshold crossing), then L3 if enabled.
func (c *TieredCache) Get(ctx context.Context, hostname string) (map[string]interface{}, bool) {
	start := time.Now()
	defer func() { c.Metric.recordLatency(time.Since(start).Nanoseconds()) }()

	now := c.now()

	if e, ok := c.l1.get(hostname); ok {
		if e.AllExpired(now) {
			c.Metric.recordExpiration()
			c.l1.delete(hostname)
			c.Metric.addL1Bytes(-e.SizeBytes)
			c.Metric.setL1EntryCount(c.l1.count())
		} else {
			e.Touch(now)
			c.Metric.recordL1Hit()
			return e.GetValidFacts(now), true
		}
	} else {
		c.Metric.recordL1Miss()
	}

	if e, ok := c.l2.get(hostname); ok {
		if e.AllExpired(now) {
			c.Metric.recordExpiration()
			c.l2.delete(hostname)
		} else {
			e.Touch(now)
			c.Metric.recordL2Hit()
			if e.AccessCount >= c.cfg.PromotionAccessThreshold {
				c.promote(hostname, e)
			}
			return e.GetValidFacts(now), true
		}
	} else {
		c.Metric.recordL2Miss()
	}

	if c.cfg.L3Enabled && c.cfg.L3 != nil {
		data, err := c.cfg.L3.Get(ctx, hostname)
		if err == nil {
			entry, uerr := UnmarshalDisk(data, c.cfg.TTLMultiplier)
			if uerr == nil && !entry.AllExpired(now) {
				entry.Touch(now)
				c.Metric.recordL3Hit()
				return entry.GetValidFacts(now), true
			}
		}
		c.Metric.recordL3Miss()
	}

	return nil, false
}

// promote moves an entry from L2 to L1, resetting its access counter, per
// spec.md §4.4 (triggered either inline here or by the tier-manager sweep).
func (c *TieredCache) promote(hostname string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, stillThere := c.l2.get(hostname); !stillThere {
		return
	}
	c.l2.delete(hostname)
	e.Tier = TierL1
	e.AccessCount = 0
	c.evictIfNeededLocked(e.SizeBytes)
	c.l1.set(hostname, e)
	c.Metric.addL1Bytes(e.SizeBytes)
	c.Metric.setL1EntryCount(c.l1.count())
	c.Metric.recordPromotion()
}

// demote moves an entry from L1 to L2 because it has been idle longer than
// demotion_idle_threshold, persisting it to disk.
func (c *TieredCache) demote(hostname string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, stillThere := c.l1.delete(hostname); !stillThere {
		return
	}
	c.Metric.addL1Bytes(-e.SizeBytes)
	c.Metric.setL1EntryCount(c.l1.count())
	e.Tier = TierL2
	_ = c.l2.put(hostname, e)
	c.Metric.recordDemotion()
}

// Invalidate removes hostname from every tier, deletes its on-disk file,
// and broadcasts InvalidateHost. After it returns, a subsequent Get for
// hostname cannot return facts gathered before this call (within process).
func (c *TieredCache) Invalidate(hostname string) {
	c.mu.Lock()
	c.removeFromAllTiersLocked(hostname)
	c.mu.Unlock()
	c.invalidation.publish(InvalidationEvent{Kind: InvalidateHost, Hostname: hostname})
}

// Clear empties all tiers and broadcasts InvalidateAll.
func (c *TieredCache) Clear() {
	c.mu.Lock()
	c.l1.clear()
	c.l2.clear()
	c.Metric.setL1EntryCount(0)
	c.Metric.addL1Bytes(-c.Metric.L1ByteCount())
	c.mu.Unlock()
	c.invalidation.publish(InvalidationEvent{Kind: InvalidateAll})
}

// CleanupExpired removes entries from L1 and L2 whose every class has
// expired as of now; returns the number removed.
func (c *TieredCache) CleanupExpired() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for h, e := range c.l1.snapshot() {
		if e.AllExpired(now) {
			c.l1.delete(h)
			c.Metric.addL1Bytes(-e.SizeBytes)
			c.Metric.recordExpiration()
			removed++
		}
	}
	c.Metric.setL1EntryCount(c.l1.count())

	for h, e := range c.l2.snapshot() {
		if e.AllExpired(now) {
			c.l2.delete(h)
			c.Metric.recordExpiration()
			removed++
		}
	}
	return removed
}

// sweepPromoteDemote runs one pass of the promotion/demotion sweep used
// by the tier manager: any L2 entry whose access counter already crossed
// the threshold is promoted; any L1 entry idle longer than the demotion
// threshold is demoted.
func (c *TieredCache) sweepPromoteDemote() {
	now := c.now()

	for h, e := range c.l2.snapshot() {
		if e.AccessCount >= c.cfg.PromotionAccessThreshold {
			c.promote(h, e)
		}
	}

	for h, e := range c.l1.snapshot() {
		if now.Sub(e.LastAccessed) >= c.cfg.DemotionIdleThreshold {
			c.demote(h, e)
		}
	}
}

// EntryCounts reports the live entry count per tier, for tests asserting
// the sum-of-tiers invariant from spec.md §8.
func (c *TieredCache) EntryCounts() (l1, l2 int) {
	return c.l1.count(), c.l2.count()
}

// Hostnames returns every hostname currently present (in any tier),
// sorted for deterministic test assertions.
func (c *TieredCache) Hostnames() []string {
	seen := make(map[string]struct{})
	for h := range c.l1.snapshot() {
		seen[h] = struct{}{}
	}
	for h := range c.l2.snapshot() {
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
