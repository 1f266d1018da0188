// Package stackrunner implements the per-worker evaluator that drives one
// object through a bound processor pipeline: cache lookup, result-cache
// resolution, attribute-cache-or-execute, threshold, and writeback.
package stackrunner

import (
	"context"

	"github.com/filterstack/engine/pkg/attrcache"
	"github.com/filterstack/engine/pkg/cache"
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/rescache"
	"github.com/filterstack/engine/pkg/runtime"
	"github.com/filterstack/engine/pkg/stats"
)

// Runner is a single worker's evaluator: a bound processor pipeline plus
// the cache store it writes through. A Runner is owned by exactly one
// worker goroutine and is not safe for concurrent use.
type Runner struct {
	processors []runtime.ObjectProcessor
	store      cache.Store
	logger     *logging.Logger
	stats      *stats.SearchStats

	warnedCapacity bool
}

// New builds a Runner. store may be nil, in which case every object is
// recomputed from scratch and nothing is written back.
func New(processors []runtime.ObjectProcessor, store cache.Store, logger *logging.Logger, searchStats *stats.SearchStats) *Runner {
	return &Runner{
		processors: processors,
		store:      store,
		logger:     logger,
		stats:      searchStats,
	}
}

// Evaluate drives obj through the whole pipeline and reports whether it
// passed every processor's threshold. A non-nil error means a processor
// failed fatally (an ExecutionError, typically) and the object's
// disposition is undefined; the caller should treat this as a reason to
// stop, not as a drop.
func (r *Runner) Evaluate(ctx context.Context, obj object.Object) (accepted bool, err error) {
	timer := stats.StartTimer()
	accepted, err = r.evaluate(ctx, obj)
	if err == nil {
		r.stats.Record(accepted, timer.Elapsed())
	}
	return accepted, err
}

func (r *Runner) evaluate(ctx context.Context, obj object.Object) (bool, error) {
	keys := make([]string, len(r.processors))
	for i, proc := range r.processors {
		keys[i] = proc.CacheKey(obj)
	}

	cachedResults := r.lookupCache(ctx, keys)

	resolveCandidates := make([]*rescache.Cached, 0, len(r.processors))
	for i, proc := range r.processors {
		if cachedResults[i] != nil {
			resolveCandidates = append(resolveCandidates, &rescache.Cached{Processor: proc, Result: cachedResults[i]})
		}
	}
	if len(resolveCandidates) > 0 && rescache.ResolveDrop(resolveCandidates, r.logger) {
		return false, nil
	}

	newResults := make(map[string]*filter.Result, len(r.processors))
	accepted := true

	for i, proc := range r.processors {
		var result *filter.Result

		if cached := cachedResults[i]; cached != nil && r.store != nil {
			hit, err := attrcache.Load(ctx, r.store, proc, cached, obj)
			if err != nil {
				r.logger.Warnf("attribute cache lookup failed, re-running %s: %v", proc, err)
			}
			if hit {
				result = cached
			}
		}

		if result == nil {
			computed, err := proc.Evaluate(ctx, obj)
			if err != nil {
				return false, err
			}
			result = computed
			newResults[keys[i]] = result
		}

		if !proc.Threshold(result) {
			accepted = false
			break
		}
	}

	if len(newResults) > 0 {
		r.writeback(ctx, newResults, obj)
	}

	return accepted, nil
}

// lookupCache batch-fetches every processor's cache key and decodes
// whatever payloads come back, treating any decode error or incomplete
// payload as an absent entry rather than failing the object.
func (r *Runner) lookupCache(ctx context.Context, keys []string) []*filter.Result {
	results := make([]*filter.Result, len(keys))
	if r.store == nil {
		return results
	}

	values, err := r.store.MGet(ctx, keys)
	if err != nil {
		r.logger.Warnf("result cache lookup failed: %v", err)
		return results
	}

	for i, value := range values {
		if value == nil {
			continue
		}
		decoded, err := filter.DecodeResult([]byte(*value))
		if err != nil {
			r.logger.Warnf("result cache payload corrupt for key %s: %v", keys[i], err)
			continue
		}
		results[i] = decoded
	}
	return results
}

// writeback persists every newly computed result and, for results flagged
// CacheOutput, the current value of each output attribute. A single MSet
// covers both; a capacity-class failure is logged once per runner and
// otherwise swallowed, per the cache contract's advisory guarantee.
func (r *Runner) writeback(ctx context.Context, newResults map[string]*filter.Result, obj object.Object) {
	if r.store == nil {
		return
	}

	payload := make(map[string]string, len(newResults))
	for key, result := range newResults {
		encoded, err := result.Encode()
		if err != nil {
			r.logger.Warnf("result cache encode failed: %v", err)
			continue
		}
		payload[key] = string(encoded)

		if !result.CacheOutput {
			continue
		}
		for attr, digest := range result.OutputAttrs {
			value, present := obj.Get(attr)
			if !present {
				continue
			}
			payload[attrcache.AttributeKey(digest)] = string(value)
		}
	}

	if err := r.store.MSet(ctx, payload); err != nil {
		if !r.warnedCapacity {
			r.logger.Warnf("cache writeback failed, continuing without it: %v", err)
			r.warnedCapacity = true
		}
	}
}

