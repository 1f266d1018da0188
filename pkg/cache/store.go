// Package cache implements the key-value cache contract the stack runner
// uses for both the result cache and the attribute cache, a Redis-backed
// implementation of it, and a Bloom-filter negative-cache optimization
// layered in front of it.
package cache

import "context"

// Store is the key-value contract the stack runner depends on. It is
// advisory: absence of a key, or an error from any method, must never
// cause an incorrect accept/drop verdict, only a missed optimization.
type Store interface {
	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error
	// MGet fetches values for keys in order. A nil entry in the result
	// means the key was absent. len(result) always equals len(keys).
	MGet(ctx context.Context, keys []string) ([]*string, error)
	// MSet writes every key/value pair in values, ideally in one round
	// trip.
	MSet(ctx context.Context, values map[string]string) error
}
