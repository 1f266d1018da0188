// Package attrcache implements the attribute-cache loader: it attempts to
// materialize a processor's previously cached output attributes onto an
// object without re-running anything, short-circuiting filter execution
// when every dependency still checks out.
package attrcache

import (
	"context"
	"fmt"

	"github.com/filterstack/engine/pkg/cache"
	"github.com/filterstack/engine/pkg/digest"
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/runtime"
)

// AttributeKey returns the attribute-cache key for a value's digest.
func AttributeKey(valueDigest string) string {
	return "attribute:" + valueDigest
}

// Load attempts to materialize proc's cached result onto obj using the
// attribute cache: cached's input attributes must already be present on
// obj with matching signatures, and every output attribute's value must
// still be in store. When both hold, every output attribute is installed
// on obj, CacheHit fires, and Load reports a hit; any mismatch is a silent
// miss, never an error, so the caller falls back to running the processor.
// Only a failed store MGet is returned as an error (with hit false).
func Load(ctx context.Context, store cache.Store, proc runtime.ObjectProcessor, cached *filter.Result, obj object.Object) (hit bool, err error) {
	for key, wantDigest := range cached.InputAttrs {
		if !obj.Contains(key) {
			return false, nil
		}
		if obj.Signature(key) != wantDigest {
			return false, nil
		}
	}

	if len(cached.OutputAttrs) == 0 {
		proc.CacheHit(cached)
		return true, nil
	}

	keys := make([]string, 0, len(cached.OutputAttrs))
	attrNames := make([]string, 0, len(cached.OutputAttrs))
	for attr, valueDigest := range cached.OutputAttrs {
		attrNames = append(attrNames, attr)
		keys = append(keys, AttributeKey(valueDigest))
	}

	values, err := store.MGet(ctx, keys)
	if err != nil {
		return false, fmt.Errorf("attrcache: mget: %w", err)
	}

	installed := make(map[string][]byte, len(attrNames))
	for i, value := range values {
		if value == nil {
			return false, nil
		}
		raw := []byte(*value)
		if digest.Sum(raw) != cached.OutputAttrs[attrNames[i]] {
			// The stored value no longer matches the digest the result was
			// cached under: a miss, not a partial install.
			return false, nil
		}
		installed[attrNames[i]] = raw
	}

	for attr, value := range installed {
		obj.Set(attr, value)
	}

	proc.CacheHit(cached)
	return true, nil
}
