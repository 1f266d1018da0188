package object

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filterstack/engine/pkg/digest"
)

func TestSimpleSetGetContainsOmit(t *testing.T) {
	obj := New([]byte("id"), nil)

	require.False(t, obj.Contains("k"))
	_, ok := obj.Get("k")
	require.False(t, ok)

	obj.Set("k", []byte("v"))
	require.True(t, obj.Contains("k"))
	v, ok := obj.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	require.True(t, obj.Omit("k"))
	require.False(t, obj.Contains("k"))
	require.False(t, obj.Omit("k"))
}

func TestSimpleSignatureMatchesDigest(t *testing.T) {
	obj := New([]byte("id"), nil)
	obj.Set("k", []byte("value"))
	require.Equal(t, digest.Sum([]byte("value")), obj.Signature("k"))
}

func TestSimpleLoadInvokesLoader(t *testing.T) {
	called := false
	obj := New([]byte("id"), func(ctx context.Context, o *Simple) error {
		called = true
		o.Set("loaded", []byte("1"))
		return nil
	})

	require.NoError(t, obj.Load(context.Background()))
	require.True(t, called)
	v, ok := obj.Get("loaded")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestSimpleLoadWithNilLoaderIsNoop(t *testing.T) {
	obj := New([]byte("id"), nil)
	require.NoError(t, obj.Load(context.Background()))
}

func TestSimpleKeys(t *testing.T) {
	obj := New([]byte("id"), nil)
	obj.Set("a", []byte("1"))
	obj.Set("b", []byte("2"))

	keys := obj.Keys()
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}
