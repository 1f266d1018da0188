// Package rescache implements the result-cache resolver: given a cached
// result per processor, it decides whether an object can be dropped
// without running anything, by proving that the dependency chain of
// attribute digests behind a would-fail cached result is still valid.
package rescache

import (
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/runtime"
)

// Cached pairs a processor with the result a prior run produced for it.
type Cached struct {
	Processor runtime.ObjectProcessor
	Result    *filter.Result
}

// Resolver decides, from a set of cached per-processor results for one
// object, which of them are still provably valid without re-running
// anything, by tracing each result's input attributes back to the
// processor that is recorded as having produced them.
//
// A cached result "resolves" when every one of its input attributes can be
// traced to a producer whose own cached output digest matches and which
// itself resolves. Resolution is memoized per resolver instance, which is
// built fresh for each object.
type Resolver struct {
	logger *logging.Logger

	// producers maps an output attribute name to every cached entry that
	// claims to have produced a value for it, in no particular priority
	// order beyond insertion.
	producers map[string][]*Cached

	resolved  map[runtime.ObjectProcessor]bool
	inProcess map[runtime.ObjectProcessor]bool
}

// NewResolver indexes cached by the names of the attributes each cached
// result produced.
func NewResolver(cached []*Cached, logger *logging.Logger) *Resolver {
	r := &Resolver{
		logger:    logger,
		producers: make(map[string][]*Cached),
		resolved:  make(map[runtime.ObjectProcessor]bool),
		inProcess: make(map[runtime.ObjectProcessor]bool),
	}
	for _, c := range cached {
		for attr := range c.Result.OutputAttrs {
			r.producers[attr] = append(r.producers[attr], c)
		}
	}
	return r
}

// Resolve reports whether c's cached result is still provably valid: every
// input attribute it depended on traces back to a producer whose current
// output digest still matches, transitively. A dependency cycle is logged
// as corruption and treated as unresolvable, never as resolved.
func (r *Resolver) Resolve(c *Cached) bool {
	return r.resolve(c)
}

func (r *Resolver) resolve(c *Cached) bool {
	if r.resolved[c.Processor] {
		return true
	}
	if r.inProcess[c.Processor] {
		r.logger.Warn("result-cache dependency cycle", map[string]interface{}{
			"processor": c.Processor.String(),
		})
		return false
	}
	r.inProcess[c.Processor] = true
	defer delete(r.inProcess, c.Processor)

	for key, digest := range c.Result.InputAttrs {
		if !r.resolveInput(key, digest) {
			return false
		}
	}

	r.resolved[c.Processor] = true
	return true
}

// resolveInput scans every cached entry claiming to have produced attribute
// key, looking for one whose output digest for key still matches and which
// itself resolves. A digest mismatch among candidates is a result-cache
// collision: logged, and scanning continues in case another candidate
// matches.
func (r *Resolver) resolveInput(key, digest string) bool {
	for _, candidate := range r.producers[key] {
		candidateDigest, ok := candidate.Result.OutputAttrs[key]
		if !ok {
			continue
		}
		if candidateDigest != digest {
			r.logger.Warn("result-cache collision", map[string]interface{}{
				"attribute": key,
				"processor": candidate.Processor.String(),
			})
			continue
		}
		if r.resolve(candidate) {
			return true
		}
	}
	return false
}

// ResolveDrop reports whether the object can be dropped outright: true iff
// some cached entry that would fail its processor's threshold resolves.
// When it returns true, every processor in the resolved dependency chain
// behind that entry has already had CacheHit invoked on it.
func ResolveDrop(cached []*Cached, logger *logging.Logger) bool {
	r := NewResolver(cached, logger)

	for _, c := range cached {
		if c.Processor.Threshold(c.Result) {
			continue
		}
		if r.resolve(c) {
			fireCacheHits(r, cached)
			return true
		}
	}
	return false
}

// fireCacheHits invokes CacheHit on every cached entry whose processor
// resolved, so per-filter statistics reflect an object dropped from cache.
// It runs only after ResolveDrop found a drop; entries resolved while
// trying an earlier, unsuccessful would-fail entry are included too.
func fireCacheHits(r *Resolver, cached []*Cached) {
	for _, c := range cached {
		if r.resolved[c.Processor] {
			c.Processor.CacheHit(c.Result)
		}
	}
}
