// Package cache implements the tiered fact cache: a hot in-memory (L1),
// warm on-disk (L2), and cold shared (L3) store for per-host facts, with
// per-fact volatility classification, independent TTLs, LRU eviction,
// promotion/demotion between tiers, and invalidation broadcast.
package cache

import (
	"strings"
	"time"
)

// Volatility classifies how often a fact changes, which in turn drives its
// TTL and default tier placement.
type Volatility int

const (
	// Static facts almost never change for the lifetime of a host (hardware, OS).
	Static Volatility = iota
	// SemiStatic facts change occasionally (network interfaces, mounts).
	SemiStatic
	// Dynamic facts change frequently (load, memory).
	Dynamic
	// Volatile facts change constantly (time, uptime) and are never served from cache.
	Volatile
)

func (v Volatility) String() string {
	switch v {
	case Static:
		return "static"
	case SemiStatic:
		return "semi_static"
	case Dynamic:
		return "dynamic"
	case Volatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// baseTTL returns the default TTL for a volatility class before the
// configured ttl_multiplier is applied. Volatile facts never expire into
// validity; their base TTL is zero because they are never served.
func (v Volatility) baseTTL() time.Duration {
	switch v {
	case Static:
		return 3600 * time.Second
	case SemiStatic:
		return 600 * time.Second
	case Dynamic:
		return 60 * time.Second
	default:
		return 0
	}
}

// classificationRules is the deterministic substring table used by Classify,
// checked in priority order. This table is part of the public, stable
// behavior of the cache and must not be reordered casually.
var classificationRules = []struct {
	substr string
	class  Volatility
}{
	{"os_family", Static},
	{"distribution", Static},
	{"architecture", Static},
	{"machine_id", Static},
	{"processor", Static},
	{"bios", Static},
	{"product", Static},
	{"system_vendor", Static},
	{"kernel", Static},

	{"interfaces", SemiStatic},
	{"network", SemiStatic},
	{"mounts", SemiStatic},
	{"devices", SemiStatic},
	{"fqdn", SemiStatic},
	{"hostname", SemiStatic},
	{"default_ipv4", SemiStatic},
	{"default_ipv6", SemiStatic},
	{"all_ipv4_addresses", SemiStatic},
	{"all_ipv6_addresses", SemiStatic},

	{"memfree", Dynamic},
	{"memtotal", Dynamic},
	{"memory_mb", Dynamic},
	{"loadavg", Dynamic},
	{"cpu_load", Dynamic},
	{"swapfree", Dynamic},
	{"swaptotal", Dynamic},

	{"date_time", Volatile},
	{"uptime", Volatile},
	{"pkg_mgr_cache", Volatile},
	{"lastpid", Volatile},
}

// Classify returns the volatility class for a fact name, applying the
// deterministic substring rule table in priority order
// Static -> SemiStatic -> Dynamic -> Volatile. Unmatched names default to
// SemiStatic. Classify is a pure function: the same key always yields the
// same result.
func Classify(factName string) Volatility {
	name := strings.ToLower(factName)
	for _, rule := range classificationRules {
		if strings.Contains(name, rule.substr) {
			return rule.class
		}
	}
	return SemiStatic
}

// FactMap is an insertion-ordered set of fact name/value pairs. Go maps do
// not preserve insertion order, so ordering is tracked via a parallel key
// slice to satisfy the round-trip law in spec.md §8.
type FactMap struct {
	keys   []string
	values map[string]interface{}
}

// NewFactMap creates an empty FactMap.
func NewFactMap() *FactMap {
	return &FactMap{values: make(map[string]interface{})}
}

// Set stores a fact, appending to the key order only the first time a key is seen.
func (f *FactMap) Set(key string, value interface{}) {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns a fact value and whether it was present.
func (f *FactMap) Get(key string) (interface{}, bool) {
	if f.values == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Len reports the number of facts held.
func (f *FactMap) Len() int {
	return len(f.keys)
}

// Keys returns the fact names in insertion order.
func (f *FactMap) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// ToMap flattens the FactMap into a plain map for callers that don't need ordering.
func (f *FactMap) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(f.keys))
	for _, k := range f.keys {
		out[k] = f.values[k]
	}
	return out
}

// PartitionedFacts holds a single host's facts split into the four
// volatility classes, plus gather metadata. This is the unit of storage
// for every tier and the on-disk L2 format.
type PartitionedFacts struct {
	Hostname    string     `json:"hostname"`
	GatherTime  time.Time  `json:"gather_time"`
	Subsets     []string   `json:"subsets,omitempty"`
	StaticF     *FactMap   `json:"-"`
	SemiStaticF *FactMap   `json:"-"`
	DynamicF    *FactMap   `json:"-"`
	VolatileF   *FactMap   `json:"-"`
}

// NewPartitionedFacts creates an empty set of partitioned facts for a host.
func NewPartitionedFacts(hostname string, gatherTime time.Time) *PartitionedFacts {
	return &PartitionedFacts{
		Hostname:    hostname,
		GatherTime:  gatherTime,
		StaticF:     NewFactMap(),
		SemiStaticF: NewFactMap(),
		DynamicF:    NewFactMap(),
		VolatileF:   NewFactMap(),
	}
}

// FromFlat classifies and partitions a flat fact map (as produced by the
// setup module) into a PartitionedFacts, preserving the iteration order
// given by keys.
func FromFlat(hostname string, gatherTime time.Time, subsets []string, keys []string, flat map[string]interface{}) *PartitionedFacts {
	pf := NewPartitionedFacts(hostname, gatherTime)
	pf.Subsets = subsets
	for _, k := range keys {
		v := flat[k]
		switch Classify(k) {
		case Static:
			pf.StaticF.Set(k, v)
		case SemiStatic:
			pf.SemiStaticF.Set(k, v)
		case Dynamic:
			pf.DynamicF.Set(k, v)
		case Volatile:
			pf.VolatileF.Set(k, v)
		}
	}
	return pf
}

// ToFlat merges all four classes back into one flat map, in Static ->
// SemiStatic -> Dynamic -> Volatile order. Together with FromFlat this
// satisfies to_flat(from_flat(x)) == x modulo map ordering within a class.
func (p *PartitionedFacts) ToFlat() map[string]interface{} {
	out := make(map[string]interface{})
	for _, fm := range []*FactMap{p.StaticF, p.SemiStaticF, p.DynamicF, p.VolatileF} {
		if fm == nil {
			continue
		}
		for _, k := range fm.Keys() {
			v, _ := fm.Get(k)
			out[k] = v
		}
	}
	return out
}

// ToFlatNonVolatile merges the three non-volatile classes only, which is
// what get() and get_valid_facts() are allowed to return.
func (p *PartitionedFacts) ToFlatNonVolatile() map[string]interface{} {
	out := make(map[string]interface{})
	for _, fm := range []*FactMap{p.StaticF, p.SemiStaticF, p.DynamicF} {
		if fm == nil {
			continue
		}
		for _, k := range fm.Keys() {
			v, _ := fm.Get(k)
			out[k] = v
		}
	}
	return out
}
