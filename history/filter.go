// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterBranches keeps the branches matching at least one pattern, plus
// the root and every branch some kept branch descends from. An empty
// pattern list keeps everything. Patterns use doublestar syntax. The
// names of removed branches are returned in removal order.
func FilterBranches(gr *Grouping, patterns []string, sink Sink) ([]string, error) {
	if sink == nil {
		sink = nullSink{}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("bad branch pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	selected := func(branch string) bool {
		if branch == gr.Root {
			return true
		}
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, branch); ok {
				return true
			}
		}
		return false
	}
	// A branch can only go once nothing still present hangs off it, so
	// removing leaves may expose their parents; iterate to a fixed point.
	var removed []string
	for {
		children := make(map[string]int)
		for _, parent := range gr.Parents {
			children[parent]++
		}
		progress := false
		for _, b := range gr.BranchNames() {
			if selected(b) || children[b] > 0 {
				continue
			}
			if _, ok := gr.Parents[b]; !ok && gr.Branches[b] == nil {
				continue
			}
			delete(gr.Parents, b)
			delete(gr.Branches, b)
			removed = append(removed, b)
			progress = true
			emit(sink, LogFILTER, "branch-removed", F{"branch": b}, "branch %s not selected", b)
		}
		if !progress {
			break
		}
	}
	return removed, nil
}
