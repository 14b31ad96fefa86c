package cache

import (
	"encoding/json"
	"time"
)

// Tier identifies which cache level an entry currently lives in.
type Tier int

const (
	TierNone Tier = iota
	TierL1
	TierL2
	TierL3
)

func (t Tier) String() string {
	switch t {
	case TierL1:
		return "l1"
	case TierL2:
		return "l2"
	case TierL3:
		return "l3"
	default:
		return "none"
	}
}

// Entry is a CachedEntry: a host's partitioned facts plus the tier
// bookkeeping needed for TTL expiry, LRU eviction, and promotion/demotion.
type Entry struct {
	Facts *PartitionedFacts

	Tier       Tier
	CreatedAt  time.Time
	ExpiresAt  map[Volatility]time.Time // one deadline per non-volatile class

	AccessCount  int64
	LastAccessed time.Time
	SizeBytes    int64
}

// NewEntry builds an entry with deadlines computed from facts.GatherTime,
// each class's base TTL, and the global multiplier.
func NewEntry(facts *PartitionedFacts, ttlMultiplier float64) *Entry {
	e := &Entry{
		Facts:        facts,
		Tier:         TierNone,
		CreatedAt:    facts.GatherTime,
		ExpiresAt:    make(map[Volatility]time.Time, 3),
		LastAccessed: facts.GatherTime,
	}
	for _, class := range []Volatility{Static, SemiStatic, Dynamic} {
		ttl := time.Duration(float64(class.baseTTL()) * ttlMultiplier)
		e.ExpiresAt[class] = facts.GatherTime.Add(ttl)
	}
	e.SizeBytes = e.estimateSize()
	return e
}

// estimateSize computes an approximate in-memory footprint by marshalling
// the flattened facts to JSON; good enough for eviction accounting.
func (e *Entry) estimateSize() int64 {
	b, err := json.Marshal(e.Facts.ToFlat())
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// validClasses returns which non-volatile classes have not expired as of now.
func (e *Entry) validClasses(now time.Time) []Volatility {
	var out []Volatility
	for _, class := range []Volatility{Static, SemiStatic, Dynamic} {
		if deadline, ok := e.ExpiresAt[class]; ok && now.Before(deadline) {
			out = append(out, class)
		}
	}
	return out
}

// GetValidFacts merges only the classes whose deadlines have not passed as
// of now. Volatile facts are never included.
func (e *Entry) GetValidFacts(now time.Time) map[string]interface{} {
	out := make(map[string]interface{})
	for _, class := range e.validClasses(now) {
		var fm *FactMap
		switch class {
		case Static:
			fm = e.Facts.StaticF
		case SemiStatic:
			fm = e.Facts.SemiStaticF
		case Dynamic:
			fm = e.Facts.DynamicF
		}
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

// AllExpired reports whether every non-volatile class has passed its
// deadline as of now; such an entry is eligible for removal.
func (e *Entry) AllExpired(now time.Time) bool {
	return len(e.validClasses(now)) == 0
}

// Touch records an access: bumps the counter and last-accessed time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// diskRecord is the JSON shape persisted at <l2_cache_path>/<safe_hostname>.json,
// matching spec.md §6: PartitionedFacts plus metadata, gather time RFC3339.
type diskRecord struct {
	Hostname   string                 `json:"hostname"`
	GatherTime time.Time              `json:"gather_time"`
	Subsets    []string               `json:"subsets,omitempty"`
	Static     map[string]interface{} `json:"static"`
	SemiStatic map[string]interface{} `json:"semi_static"`
	Dynamic    map[string]interface{} `json:"dynamic"`
	Volatile   map[string]interface{} `json:"volatile"`
	StaticKeys []string               `json:"static_keys,omitempty"`
	SemiKeys   []string               `json:"semi_static_keys,omitempty"`
	DynKeys    []string               `json:"dynamic_keys,omitempty"`
	VolKeys    []string               `json:"volatile_keys,omitempty"`
}

// MarshalDisk serializes an Entry's facts into the L2 on-disk JSON format.
func (e *Entry) MarshalDisk() ([]byte, error) {
	f := e.Facts
	rec := diskRecord{
		Hostname:   f.Hostname,
		GatherTime: f.GatherTime,
		Subsets:    f.Subsets,
		Static:     f.StaticF.ToMap(),
		SemiStatic: f.SemiStaticF.ToMap(),
		Dynamic:    f.DynamicF.ToMap(),
		Volatile:   f.VolatileF.ToMap(),
		StaticKeys: f.StaticF.Keys(),
		SemiKeys:   f.SemiStaticF.Keys(),
		DynKeys:    f.DynamicF.Keys(),
		VolKeys:    f.VolatileF.Keys(),
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalDisk rebuilds an Entry (without tier placement) from the L2 JSON format.
func UnmarshalDisk(data []byte, ttlMultiplier float64) (*Entry, error) {
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	pf := NewPartitionedFacts(rec.Hostname, rec.GatherTime)
	pf.Subsets = rec.Subsets
	fillOrdered(pf.StaticF, rec.StaticKeys, rec.Static)
	fillOrdered(pf.SemiStaticF, rec.SemiKeys, rec.SemiStatic)
	fillOrdered(pf.DynamicF, rec.DynKeys, rec.Dynamic)
	fillOrdered(pf.VolatileF, rec.VolKeys, rec.Volatile)
	return NewEntry(pf, ttlMultiplier), nil
}

func fillOrdered(fm *FactMap, keys []string, values map[string]interface{}) {
	if len(keys) > 0 {
		for _, k := range keys {
			fm.Set(k, values[k])
		}
		return
	}
	// Fall back to map iteration order if the original key order wasn't recorded.
	for k, v := range values {
		fm.Set(k, v)
	}
}
