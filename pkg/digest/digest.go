// Package digest provides the single cryptographic hash used throughout the
// filter-stack engine for cache keys, attribute signatures, and result-cache
// collision detection. Every digest in the system is SHA-256, hex-encoded.
package digest

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
)

// New returns a fresh, empty running digest.
func New() hash.Hash {
	return sha256.New()
}

// Sum returns the hex-encoded digest of data in a single call.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone snapshots the running state of h into a new, independent hash.Hash
// that can be written to and finalized without disturbing h. This is the
// operation the filter-cache-key machinery relies on: a Filter's digest
// prefix (signature + arguments + blob) is hashed once and cloned per object
// to append the object ID.
//
// crypto/sha256's hash.Hash implementation satisfies encoding.BinaryMarshaler
// and encoding.BinaryUnmarshaler (since Go 1.10), so cloning is a
// marshal/unmarshal round trip rather than a dedicated Clone method.
func Clone(h hash.Hash) hash.Hash {
	state, err := marshalState(h)
	if err != nil {
		panic(fmt.Sprintf("digest: hash implementation does not support cloning: %v", err))
	}
	clone := sha256.New()
	unmarshaler, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok {
		panic("digest: sha256.New() does not implement encoding.BinaryUnmarshaler")
	}
	if err := unmarshaler.UnmarshalBinary(state); err != nil {
		panic(fmt.Sprintf("digest: unmarshal cloned state: %v", err))
	}
	return clone
}

func marshalState(h hash.Hash) ([]byte, error) {
	marshaler, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("hash does not implement encoding.BinaryMarshaler")
	}
	return marshaler.MarshalBinary()
}

// HexOf returns the hex-encoded digest of h's current running state without
// mutating h, by cloning and finalizing the clone.
func HexOf(h hash.Hash) string {
	return hex.EncodeToString(Clone(h).Sum(nil))
}
