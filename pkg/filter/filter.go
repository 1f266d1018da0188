// Package filter defines the immutable Filter record produced by the fspec
// parser, the cache-key digest machinery derived from it, and the three
// fatal error kinds the engine can raise while building or running a stack.
package filter

import (
	"fmt"
	"hash"
	"strings"

	"github.com/filterstack/engine/pkg/digest"
	"github.com/filterstack/engine/pkg/stats"
)

// BlobCache resolves a filter's signature to the local filesystem path of
// its sandboxed executable. The engine treats this as an opaque external
// lookup; it neither fetches nor verifies the executable itself.
type BlobCache interface {
	ExecutablePath(signature string) (string, error)
}

// Filter is an immutable filter definition: a name unique within its stack,
// the signature of its executable, a pass/drop score threshold, its ordered
// arguments, an optional blob payload, and its declared dependency names.
//
// A Filter's cache-key digest prefix is computed once at construction from
// signature and arguments, and is rewound into by SetBlob exactly once. From
// then on, CacheDigestPrefix hands out read-only clones used to build
// per-object result-cache keys — cloning never mutates the filter's own
// prefix.
type Filter struct {
	Name         string
	Signature    string
	Threshold    float64
	Arguments    []string
	Dependencies []string

	// Stats accumulates this filter's pass/drop/cache counters across every
	// worker in the current search.
	Stats *stats.FilterStats

	blob         string
	blobSet      bool
	digestPrefix hash.Hash
}

// New constructs a Filter, seeding its cache-key digest prefix with
// `signature + " " + join(arguments, " ") + " "`. This must byte-exactly
// match the construction the result-cache key relies on.
func New(name, signature string, threshold float64, arguments, dependencies []string) *Filter {
	prefix := digest.New()
	prefix.Write([]byte(signature))
	prefix.Write([]byte(" "))
	prefix.Write([]byte(strings.Join(arguments, " ")))
	prefix.Write([]byte(" "))

	return &Filter{
		Name:         name,
		Signature:    signature,
		Threshold:    threshold,
		Arguments:    arguments,
		Dependencies: dependencies,
		Stats:        stats.NewFilterStats(name),
		digestPrefix: prefix,
	}
}

// Blob returns the filter's blob argument, or "" if it has not been set.
func (f *Filter) Blob() string { return f.blob }

// SetBlob binds the filter's blob argument. It may be called at most once
// per filter; a second call returns an error. Binding a non-empty blob
// folds `" " + blob` into the cache-key digest prefix; binding an empty
// blob contributes no bytes to the digest at all, so an unset blob and an
// explicitly-empty blob produce identical cache keys.
func (f *Filter) SetBlob(blob string) error {
	if f.blobSet {
		return fmt.Errorf("filter %s: blob has already been set", f.Name)
	}
	f.blobSet = true
	f.blob = blob
	if blob != "" {
		f.digestPrefix.Write([]byte(" "))
		f.digestPrefix.Write([]byte(blob))
	}
	return nil
}

// CacheDigestPrefix returns a clone of the filter's cache-key digest prefix
// with the filter's signature, arguments, and blob already hashed in.
// Callers append an object ID to the clone to produce a full cache key;
// the filter's own prefix is never mutated.
func (f *Filter) CacheDigestPrefix() hash.Hash {
	return digest.Clone(f.digestPrefix)
}
