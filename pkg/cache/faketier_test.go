package cache

import (
	"context"
	"sync"
	"time"
)

// fakeL3Tier is an in-memory stand-in for RedisL3Tier so cache tests don't
// need a live Redis instance.
type fakeL3Tier struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeL3Tier() *fakeL3Tier {
	return &fakeL3Tier{data: make(map[string][]byte)}
}

func (f *fakeL3Tier) Get(ctx context.Context, hostname string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[hostname]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeL3Tier) Set(ctx context.Context, hostname string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[hostname] = value
	return nil
}

func (f *fakeL3Tier) Delete(ctx context.Context, hostname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, hostname)
	return nil
}

func (f *fakeL3Tier) Ping(ctx context.Context) error { return nil }
func (f *fakeL3Tier) Close() error                   { return nil }

var _ L3Tier = (*fakeL3Tier)(nil)
