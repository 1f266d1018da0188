package cache

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// NegativeCache wraps a Store with a per-worker Bloom filter of
// attribute-cache keys already confirmed absent. A Bloom filter never
// false-negatives, so a miss against the filter always still needs the
// real round trip; only a Test hit lets MGet skip straight to reporting a
// miss. A Test hit is reported as a miss without asking the store, so a
// Bloom false positive, or a key stored after it was recorded absent, is
// reported absent even when the store holds a value. That costs a cache
// hit, never an incorrect accept or drop.
type NegativeCache struct {
	Store

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewNegativeCache wraps store with a Bloom filter sized for
// expectedKeys entries at falsePositiveRate.
func NewNegativeCache(store Store, expectedKeys uint, falsePositiveRate float64) *NegativeCache {
	return &NegativeCache{
		Store:  store,
		filter: bloom.NewWithEstimates(expectedKeys, falsePositiveRate),
	}
}

// MGet skips the round trip for any key the filter believes is already a
// confirmed miss, and records every genuinely absent result from the
// underlying store so future lookups for the same key can skip too.
func (n *NegativeCache) MGet(ctx context.Context, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pending := make([]string, 0, len(keys))
	pendingIdx := make([]int, 0, len(keys))
	result := make([]*string, len(keys))

	n.mu.Lock()
	for i, key := range keys {
		if n.filter.TestString(key) {
			continue
		}
		pending = append(pending, key)
		pendingIdx = append(pendingIdx, i)
	}
	n.mu.Unlock()

	if len(pending) == 0 {
		return result, nil
	}

	fetched, err := n.Store.MGet(ctx, pending)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	for i, value := range fetched {
		result[pendingIdx[i]] = value
		if value == nil {
			n.filter.AddString(pending[i])
		}
	}
	n.mu.Unlock()

	return result, nil
}

// MSet delegates to the wrapped store. Keys that were written no longer
// belong in the negative cache, but bloom.BloomFilter supports no removal:
// a key recorded absent before it was written keeps being reported absent
// by MGet for the life of this NegativeCache, which costs cache hits but
// never produces an incorrect verdict.
func (n *NegativeCache) MSet(ctx context.Context, values map[string]string) error {
	return n.Store.MSet(ctx, values)
}
