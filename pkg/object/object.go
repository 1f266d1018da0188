// Package object defines the contract the filter-stack engine expects from
// the units of work it processes. The engine consumes objects; it never owns
// their storage or the mechanism by which they are first populated.
package object

import "context"

// Attributes is the named-attribute map carried by an Object. Keys and
// values are opaque from the engine's point of view; filters interpret them.
type Attributes interface {
	// Contains reports whether key currently has a value.
	Contains(key string) bool
	// Get returns the current value for key, and whether it was present.
	Get(key string) ([]byte, bool)
	// Set installs value for key, replacing any prior value.
	Set(key string, value []byte)
	// Omit removes key, reporting whether it was present to remove.
	Omit(key string) bool
	// Keys returns the current attribute names in unspecified order.
	Keys() []string
	// Signature returns the digest of key's current value. Callers must not
	// call Signature for a key that Contains reports absent.
	Signature(key string) string
}

// Object is a single unit of work flowing through a filter stack: a stable
// identifier plus the attribute map filters read and write as they execute.
type Object interface {
	Attributes

	// ID returns the object's stable identifier. It must not change for the
	// lifetime of the object and is never treated as a UTF-8 string.
	ID() []byte

	// Load populates the object's initial attributes from whatever backs it
	// (the "dataretriever" collaborator). It is invoked at most once per
	// object, by the Fetcher processor that heads every filter stack.
	Load(ctx context.Context) error
}
