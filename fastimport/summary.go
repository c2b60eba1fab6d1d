// SPDX-License-Identifier: BSD-2-Clause

package fastimport

import (
	"fmt"
	"sort"
	"strings"

	"gitlab.com/cc2git/cc2git/history"
)

// displayCount is how many paths a generated summary names before it
// falls back to a count.
const displayCount = 3

// Touched lists the distinct paths a changeset modifies, sorted.
func Touched(cs *history.ChangeSet) []string {
	seen := make(map[string]bool)
	var out []string
	note := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, op := range cs.Ops {
		note(op.Path)
	}
	for _, e := range cs.Visible() {
		for _, n := range e.Names {
			note(n)
		}
	}
	sort.Strings(out)
	return out
}

// shortList names the first few paths and counts the rest.
func shortList(paths []string) string {
	if len(paths) <= displayCount {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(paths[:displayCount], ", "), len(paths)-displayCount)
}

// Summary composes the commit message of a changeset. Distinct comments
// are kept in order, separated by blank lines. A changeset whose
// versions say nothing useful gets a generated summary instead.
func Summary(cs *history.ChangeSet) string {
	var parts []string
	for _, c := range cs.Comments() {
		parts = append(parts, strings.TrimRight(c, " \t\r\n"))
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n") + "\n"
	}
	paths := Touched(cs)
	switch {
	case len(paths) > 0:
		return fmt.Sprintf("%d file/tree modifications: %s\n", len(paths), shortList(paths))
	case cs.Synthetic:
		return fmt.Sprintf("Start of branch %s\n", cs.Branch)
	case len(cs.Merges) > 0:
		return fmt.Sprintf("Merge into %s\n", cs.Branch)
	}
	return "0 file/tree modifications\n"
}
