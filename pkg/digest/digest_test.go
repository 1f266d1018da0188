package digest

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumIsDeterministic(t *testing.T) {
	require.Equal(t, Sum([]byte("hello")), Sum([]byte("hello")))
	require.NotEqual(t, Sum([]byte("hello")), Sum([]byte("world")))
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	h := New()
	h.Write([]byte("prefix"))
	before := HexOf(h)

	clone := Clone(h)
	clone.Write([]byte("suffix"))

	require.Equal(t, before, HexOf(h))
	require.NotEqual(t, before, HexOf(clone))
}

func TestCloneProducesIndependentFinalDigest(t *testing.T) {
	h := New()
	h.Write([]byte("prefix"))

	clone1 := Clone(h)
	clone1.Write([]byte("a"))

	clone2 := Clone(h)
	clone2.Write([]byte("b"))

	require.NotEqual(t, HexOf(clone1), HexOf(clone2))

	direct := New()
	direct.Write([]byte("prefixa"))
	require.Equal(t, HexOf(direct), hex.EncodeToString(clone1.Sum(nil)))
}
