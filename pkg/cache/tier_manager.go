package cache

import (
	"context"
	"time"
)

// TierManager is the optional background task from spec.md §4.4: every
// tier_management_interval it calls CleanupExpired, then — if auto
// management is enabled — runs the promotion/demotion sweep. It is one of
// the only two process-wide pieces of state the spec allows (the other
// being the Module Registry).
type TierManager struct {
	cache        *TieredCache
	interval     time.Duration
	autoManage   bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewTierManager builds a manager bound to cache, using the cache's
// configured TierManagementInterval.
func NewTierManager(cache *TieredCache, autoManage bool) *TierManager {
	return &TierManager{
		cache:      cache,
		interval:   cache.cfg.TierManagementInterval,
		autoManage: autoManage,
	}
}

// Start launches the sweep loop in a goroutine; it stops when ctx is
// cancelled or Stop is called.
func (m *TierManager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.cache.CleanupExpired()
				if m.autoManage {
					m.cache.sweepPromoteDemote()
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (m *TierManager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
