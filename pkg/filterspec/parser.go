// Package filterspec parses the textual filter-stack specification format
// (fspec) into filter.Filter records, and optionally watches an fspec file
// on disk for hot reload.
package filterspec

import (
	"strconv"
	"strings"

	"github.com/filterstack/engine/pkg/filter"
)

// Parse parses fspec text into an ordered list of Filters. Lines are grouped
// by each "FILTER" marker; blank lines are ignored as separators. A group
// whose name is "APPLICATION" is a legacy "application dependencies" stanza
// and is silently dropped rather than producing a Filter.
func Parse(data string) ([]*filter.Filter, error) {
	groups := groupLines(data)

	filters := make([]*filter.Filter, 0, len(groups))
	for _, group := range groups {
		f, err := parseGroup(group)
		if err != nil {
			return nil, err
		}
		if f != nil {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// groupLines splits fspec text into per-filter line groups, each beginning
// at a "FILTER" marker line.
func groupLines(data string) [][]string {
	var groups [][]string
	var current []string

	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "FILTER") {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// parseGroup turns one FILTER-delimited line group into a Filter. It
// returns (nil, nil) for the dropped "FILTER APPLICATION" legacy stanza.
func parseGroup(lines []string) (*filter.Filter, error) {
	var (
		name          string
		signature     string
		threshold     float64
		haveThreshold bool
		arguments     []string
		dependencies  []string
	)

	for _, line := range lines {
		key, value, err := splitKeyValue(line)
		if err != nil {
			return nil, err
		}

		switch key {
		case "FILTER":
			name = value
			if name == "APPLICATION" {
				return nil, nil
			}
		case "ARG":
			arguments = append(arguments, value)
		case "THRESHOLD":
			t, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, filter.NewSpecError("threshold not a number: %q", value)
			}
			threshold = t
			haveThreshold = true
		case "SIGNATURE":
			signature = value
		case "REQUIRES":
			dependencies = append(dependencies, value)
		case "MERIT":
			// Deprecated; ignored.
		default:
			return nil, filter.NewSpecError("unknown fspec key %q", key)
		}
	}

	if name == "" || signature == "" || !haveThreshold {
		return nil, filter.NewSpecError("missing mandatory fspec key")
	}
	return filter.New(name, signature, threshold, arguments, dependencies), nil
}

// splitKeyValue splits a fspec line into its leading whitespace-delimited
// key and the (possibly empty) trimmed remainder.
func splitKeyValue(line string) (key, value string, err error) {
	trimmed := strings.TrimLeft(line, " \t")
	idx := strings.IndexAny(trimmed, " \t")
	if idx == -1 {
		return "", "", filter.NewSpecError("malformed fspec line %q", line)
	}
	key = trimmed[:idx]
	value = strings.TrimSpace(trimmed[idx:])
	return key, value, nil
}
