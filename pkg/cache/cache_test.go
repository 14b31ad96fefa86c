package cache

import (
	"context"
	"testing"
	"time"
)

func mkFacts(hostname string, gather time.Time) *PartitionedFacts {
	keys := []string{"ansible_os_family"}
	flat := map[string]interface{}{"ansible_os_family": "Debian"}
	return FromFlat(hostname, gather, []string{"all"}, keys, flat)
}

func TestLRUEviction(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c := New(Config{
		L1MaxEntries: 2,
		Now:          func() time.Time { return now },
	})

	now = base.Add(0 * time.Second)
	c.Insert("h1", mkFacts("h1", now))
	now = base.Add(1 * time.Second)
	c.Insert("h2", mkFacts("h2", now))
	now = base.Add(2 * time.Second)
	c.Insert("h3", mkFacts("h3", now))

	l1, l2 := c.EntryCounts()
	if l1 != 2 || l2 != 1 {
		t.Fatalf("expected L1=2 L2=1, got L1=%d L2=%d", l1, l2)
	}
	if _, ok := c.l1.get("h1"); ok {
		t.Error("h1 should have been evicted from L1")
	}
	if _, ok := c.l2.get("h1"); !ok {
		t.Error("h1 should have been demoted into L2")
	}
	snap := c.Metric.Snapshot()
	if snap.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", snap.Evictions)
	}
	if snap.Promotions != 0 {
		t.Errorf("expected 0 promotions, got %d", snap.Promotions)
	}
}

func TestPromotionOnAccessThreshold(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Config{
		PromotionAccessThreshold: 3,
		Now:                      func() time.Time { return base },
	})

	entry := NewEntry(mkFacts("h1", base), 1.0)
	entry.Tier = TierL2
	if err := c.l2.put("h1", entry); err != nil {
		t.Fatalf("seed L2: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, ok := c.Get(ctx, "h1"); !ok {
			t.Fatalf("get #%d: expected hit", i+1)
		}
	}

	if _, ok := c.l1.get("h1"); !ok {
		t.Error("h1 should now reside in L1")
	}
	if _, ok := c.l2.get("h1"); ok {
		t.Error("h1 should have been removed from L2 after promotion")
	}
	e, _ := c.l1.get("h1")
	if e.AccessCount != 0 {
		t.Errorf("access counter should reset to 0 after promotion, got %d", e.AccessCount)
	}
	if c.Metric.Snapshot().Promotions != 1 {
		t.Errorf("expected 1 promotion, got %d", c.Metric.Snapshot().Promotions)
	}
}

func TestInvalidationBroadcast(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Config{
		L2CachePath: dir,
		Now:         func() time.Time { return base },
	})

	sub := c.Subscribe()
	c.Insert("h1", mkFacts("h1", base))
	c.Invalidate("h1")

	select {
	case ev := <-sub:
		if ev.Kind != InvalidateHost || ev.Hostname != "h1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for invalidation event")
	}

	if _, ok := c.Get(context.Background(), "h1"); ok {
		t.Error("get should miss after invalidate")
	}
}

func TestTTLExpiryByClass(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c := New(Config{Now: func() time.Time { return now }})

	keys := []string{"ansible_memfree_mb"} // Dynamic, 60s TTL
	flat := map[string]interface{}{"ansible_memfree_mb": 512}
	pf := FromFlat("h1", base, nil, keys, flat)
	c.Insert("h1", pf)

	now = base.Add(30 * time.Second)
	if facts, ok := c.Get(context.Background(), "h1"); !ok || facts["ansible_memfree_mb"] == nil {
		t.Fatalf("expected live dynamic fact within TTL, got ok=%v facts=%v", ok, facts)
	}

	now = base.Add(61 * time.Second)
	if facts, _ := c.Get(context.Background(), "h1"); len(facts) != 0 {
		t.Fatalf("expected no live facts after TTL, got %v", facts)
	}
}

func TestClassifyMemtotalIsDynamic(t *testing.T) {
	// Sanity check that Classify never classifies a Dynamic-looking key as
	// Static due to substring overlap ordering.
	if Classify("ansible_memtotal_mb") != Dynamic {
		t.Fatalf("expected Dynamic classification")
	}
}

func TestClearBroadcastsAll(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Config{Now: func() time.Time { return base }})
	sub := c.Subscribe()
	c.Insert("h1", mkFacts("h1", base))
	c.Clear()

	select {
	case ev := <-sub:
		if ev.Kind != InvalidateAll {
			t.Errorf("expected InvalidateAll, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for clear broadcast")
	}
	l1, l2 := c.EntryCounts()
	if l1 != 0 || l2 != 0 {
		t.Errorf("expected empty tiers after clear, got l1=%d l2=%d", l1, l2)
	}
}

func TestSafeHostname(t *testing.T) {
	if got := SafeHostname("web-01.example.com"); got != "web-01_example_com" {
		t.Errorf("SafeHostname = %q", got)
	}
}

func TestL3Fallback(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l3 := newFakeL3Tier()
	c := New(Config{L3Enabled: true, L3: l3, Now: func() time.Time { return base }})

	entry := NewEntry(mkFacts("h1", base), 1.0)
	data, err := entry.MarshalDisk()
	if err != nil {
		t.Fatalf("MarshalDisk: %v", err)
	}
	if err := l3.Set(context.Background(), "h1", data, 0); err != nil {
		t.Fatalf("seed L3: %v", err)
	}

	facts, ok := c.Get(context.Background(), "h1")
	if !ok {
		t.Fatal("expected L3 hit")
	}
	if facts["ansible_os_family"] != "Debian" {
		t.Errorf("unexpected facts from L3: %v", facts)
	}
	if c.Metric.Snapshot().L3Hits != 1 {
		t.Errorf("expected 1 L3 hit, got %d", c.Metric.Snapshot().L3Hits)
	}
}

func TestWarmFromDisk(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := New(Config{L2CachePath: dir, Now: func() time.Time { return base }})
	entry := NewEntry(mkFacts("h1", base), 1.0)
	if err := seed.l2.put("h1", entry); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := New(Config{L2CachePath: dir, Now: func() time.Time { return base.Add(time.Second) }})
	loaded, dropped, err := fresh.WarmFromDisk()
	if err != nil {
		t.Fatalf("WarmFromDisk: %v", err)
	}
	if loaded != 1 || dropped != 0 {
		t.Fatalf("expected loaded=1 dropped=0, got loaded=%d dropped=%d", loaded, dropped)
	}
	if _, ok := fresh.l2.get("h1"); !ok {
		t.Error("expected h1 present in L2 after warming")
	}
}
