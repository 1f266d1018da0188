package cache

import (
	"context"
	"sync"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	PingErr error
}

// NewFakeStore returns an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{values: make(map[string]string)}
}

func (f *FakeStore) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeStore) MGet(ctx context.Context, keys []string) ([]*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]*string, len(keys))
	for i, key := range keys {
		if v, ok := f.values[key]; ok {
			value := v
			result[i] = &value
		}
	}
	return result, nil
}

func (f *FakeStore) MSet(ctx context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

// Len reports how many keys are currently stored.
func (f *FakeStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values)
}
