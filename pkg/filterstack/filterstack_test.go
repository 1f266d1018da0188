package filterstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filterstack/engine/pkg/filter"
)

func newFilter(name string, deps ...string) *filter.Filter {
	return filter.New(name, "sig-"+name, 0, nil, deps)
}

func indexOf(stack *Stack, name string) int {
	for i, f := range stack.Filters() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func TestTopologicalSoundness(t *testing.T) {
	filters := []*filter.Filter{
		newFilter("c", "b"),
		newFilter("a"),
		newFilter("b", "a"),
	}

	stack, err := New(filters)
	require.NoError(t, err)
	require.Equal(t, 3, stack.Len())

	require.Less(t, indexOf(stack, "a"), indexOf(stack, "b"))
	require.Less(t, indexOf(stack, "b"), indexOf(stack, "c"))
}

func TestFirstOccurrenceOrderAmongIndependents(t *testing.T) {
	filters := []*filter.Filter{
		newFilter("a"),
		newFilter("b"),
		newFilter("c", "a", "b"),
	}

	stack, err := New(filters)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, names(stack))
}

func TestCycleDetection(t *testing.T) {
	filters := []*filter.Filter{
		newFilter("a", "b"),
		newFilter("b", "a"),
	}

	_, err := New(filters)
	require.Error(t, err)
	require.IsType(t, &filter.DependencyError{}, err)
}

func TestUnresolvedDependencyIsDependencyError(t *testing.T) {
	filters := []*filter.Filter{
		newFilter("a", "missing"),
	}

	_, err := New(filters)
	require.Error(t, err)
	require.IsType(t, &filter.DependencyError{}, err)
}

func TestLookup(t *testing.T) {
	stack, err := New([]*filter.Filter{newFilter("a")})
	require.NoError(t, err)

	f, ok := stack.Lookup("a")
	require.True(t, ok)
	require.Equal(t, "a", f.Name)

	_, ok = stack.Lookup("nope")
	require.False(t, ok)
}

func names(stack *Stack) []string {
	out := make([]string, stack.Len())
	for i, f := range stack.Filters() {
		out[i] = f.Name
	}
	return out
}
