// Package runtime implements the two ObjectProcessor variants that drive
// object evaluation: Fetcher, which loads an object's initial attributes,
// and FilterRunner, which drives a child filter process through the wire
// protocol in filterproc.
package runtime

import (
	"context"
	"encoding/hex"
	"hash"

	"github.com/filterstack/engine/pkg/digest"
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/object"
)

// ObjectProcessor is the capability set shared by the stack-head Fetcher
// and every per-filter FilterRunner: "evaluate an object and return a
// result". The result-cache resolver and the stack runner depend only on
// this interface.
type ObjectProcessor interface {
	// CacheKey returns the result-cache lookup key for obj under this
	// processor.
	CacheKey(obj object.Object) string
	// CacheHit notifies the processor that a cached result was used for an
	// object, updating per-filter statistics accordingly.
	CacheHit(result *filter.Result)
	// Evaluate computes a fresh result for obj, mutating its attributes as
	// the underlying filter would.
	Evaluate(ctx context.Context, obj object.Object) (*filter.Result, error)
	// Threshold applies this processor's accept/drop rule to result.
	Threshold(result *filter.Result) bool
	// String returns a human-readable processor name, used in logging and
	// result-cache collision diagnostics.
	String() string
}

// cacheKeyFromPrefix builds a result-cache key by cloning prefix, folding
// in obj's raw ID bytes via a digest Write (never string concatenation —
// the object ID is arbitrary bytes, not necessarily valid text), and
// hex-encoding the result.
func cacheKeyFromPrefix(prefix hash.Hash, obj object.Object) string {
	clone := digest.Clone(prefix)
	clone.Write(obj.ID())
	return "result:" + hex.EncodeToString(clone.Sum(nil))
}
