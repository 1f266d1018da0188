// Package filterstack topologically orders a set of filters by their
// declared dependencies and detects dependency cycles.
package filterstack

import "github.com/filterstack/engine/pkg/filter"

// Stack is a topologically-sorted sequence of filters: every filter's
// declared dependencies appear before it, and the relative order among
// independent filters follows the order they were supplied in.
type Stack struct {
	byName map[string]*filter.Filter
	order  []*filter.Filter
}

// New builds a Stack from an unordered filter list, resolving dependencies
// via depth-first traversal. It returns a DependencyError if a filter
// declares a dependency on a name not present in filters, or if the
// dependency graph contains a cycle.
func New(filters []*filter.Filter) (*Stack, error) {
	byName := make(map[string]*filter.Filter, len(filters))
	for _, f := range filters {
		byName[f.Name] = f
	}

	s := &Stack{byName: byName}

	resolved := make(map[string]bool, len(filters))
	inProcess := make(map[string]bool, len(filters))

	var resolve func(f *filter.Filter) error
	resolve = func(f *filter.Filter) error {
		if resolved[f.Name] {
			return nil
		}
		if inProcess[f.Name] {
			return filter.NewDependencyError("circular dependency involving %s", f.Name)
		}
		inProcess[f.Name] = true
		for _, depName := range f.Dependencies {
			dep, ok := byName[depName]
			if !ok {
				return filter.NewDependencyError("no such filter: %s", depName)
			}
			if err := resolve(dep); err != nil {
				return err
			}
		}
		inProcess[f.Name] = false
		s.order = append(s.order, f)
		resolved[f.Name] = true
		return nil
	}

	for _, f := range filters {
		if err := resolve(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the number of filters in the stack.
func (s *Stack) Len() int { return len(s.order) }

// Filters returns the topologically-sorted filter sequence. Callers must
// not mutate the returned slice.
func (s *Stack) Filters() []*filter.Filter { return s.order }

// Lookup returns the filter with the given name, if present.
func (s *Stack) Lookup(name string) (*filter.Filter, bool) {
	f, ok := s.byName[name]
	return f, ok
}
