package runtime

import (
	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/filterstack"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/sessionvars"
)

// BindStack builds the ordered ObjectProcessor pipeline for a search: the
// stack-head Fetcher followed by one FilterRunner per filter, in the
// stack's topological order.
func BindStack(stack *filterstack.Stack, blobs filter.BlobCache, sessions sessionvars.Store, logger *logging.Logger) []ObjectProcessor {
	filters := stack.Filters()
	processors := make([]ObjectProcessor, 0, len(filters)+1)
	processors = append(processors, NewFetcher())
	for _, f := range filters {
		processors = append(processors, NewFilterRunner(f, blobs, sessions, logger))
	}
	return processors
}
