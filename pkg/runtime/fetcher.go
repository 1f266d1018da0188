package runtime

import (
	"context"
	"hash"

	"github.com/filterstack/engine/pkg/digest"
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/object"
)

// Fetcher is the stack-head ObjectProcessor: it loads an object's initial
// attributes and records every one of them as an output, so downstream
// filters and the result cache see them the same way a filter's own output
// attributes are seen.
type Fetcher struct {
	digestPrefix hash.Hash
}

// NewFetcher builds a Fetcher with a fixed cache-key prefix, independent of
// any filter stack.
func NewFetcher() *Fetcher {
	h := digest.New()
	h.Write([]byte("dataretriever "))
	return &Fetcher{digestPrefix: h}
}

// CacheKey returns the result-cache key for obj under the fetcher.
func (f *Fetcher) CacheKey(obj object.Object) string {
	return cacheKeyFromPrefix(f.digestPrefix, obj)
}

// CacheHit is a no-op: the fetcher keeps no statistics of its own.
func (f *Fetcher) CacheHit(result *filter.Result) {}

// Evaluate loads obj and returns a result recording every attribute the
// load produced as an output attribute.
func (f *Fetcher) Evaluate(ctx context.Context, obj object.Object) (*filter.Result, error) {
	if err := obj.Load(ctx); err != nil {
		return nil, filter.NewExecutionError("load object: %v", err)
	}
	result := filter.NewResult()
	for _, key := range obj.Keys() {
		result.OutputAttrs[key] = obj.Signature(key)
	}
	return result, nil
}

// Threshold always accepts: the fetcher never drops an object.
func (f *Fetcher) Threshold(result *filter.Result) bool { return true }

func (f *Fetcher) String() string { return "dataretriever" }
