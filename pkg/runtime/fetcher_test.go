package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filterstack/engine/pkg/object"
)

func TestFetcherLoadsAndRecordsOutputs(t *testing.T) {
	fetcher := NewFetcher()
	obj := object.New([]byte("obj-1"), func(ctx context.Context, o *object.Simple) error {
		o.Set("a", []byte("1"))
		o.Set("b", []byte("2"))
		return nil
	})

	result, err := fetcher.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Len(t, result.OutputAttrs, 2)
	require.Equal(t, obj.Signature("a"), result.OutputAttrs["a"])
	require.Equal(t, obj.Signature("b"), result.OutputAttrs["b"])
	require.Empty(t, result.InputAttrs)
}

func TestFetcherAlwaysAccepts(t *testing.T) {
	fetcher := NewFetcher()
	require.True(t, fetcher.Threshold(nil))
}

func TestFetcherCacheKeyIndependentOfStack(t *testing.T) {
	a := NewFetcher()
	b := NewFetcher()

	obj := object.New([]byte("obj-1"), nil)
	require.Equal(t, a.CacheKey(obj), b.CacheKey(obj))
}

func TestFetcherLoadErrorIsExecutionError(t *testing.T) {
	fetcher := NewFetcher()
	obj := object.New([]byte("obj-1"), func(ctx context.Context, o *object.Simple) error {
		return context.DeadlineExceeded
	})

	_, err := fetcher.Evaluate(context.Background(), obj)
	require.Error(t, err)
}
