// Package history reconstructs a totally ordered commit history from
// the per-element version streams of a legacy repository.
//
// The stages are grouping (Group), branch selection (FilterBranches)
// and sequencing (Sequence), which includes label bookkeeping, merge
// reconciliation and the final linearization. Convert runs them all.
//
// SPDX-License-Identifier: BSD-2-Clause
package history

import (
	"sort"
	"time"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// Config controls a conversion.
type Config struct {
	// Branches selects branches by doublestar pattern; empty keeps all.
	Branches []string
	// Subset restricts grouping to these versions; nil means all.
	Subset []vgraph.Key
	// Resume carries the state of an earlier run.
	Resume *Resume
	Sink   Sink
	// Window overrides DefaultWindow.
	Window time.Duration
	// Progress is called after every applied changeset.
	Progress func(done, total int)
}

// History is the result of a conversion.
type History struct {
	Root    string
	Parents map[string]string
	// ChangeSets in emission order; IDs are the marks.
	ChangeSets []*ChangeSet
	// Tips maps every branch to its last emitted changeset, including
	// tips inherited from an earlier run.
	Tips map[string]*ChangeSet
	// Inherited holds the tip marks an earlier run left on each branch.
	Inherited map[string]int
	// Views are the branch views at the end of the run.
	Views  map[string]*View
	Labels []*LabelInfo
	Merges []*MergeInfo
	// Lost versions never appeared in any directory.
	Lost []vgraph.Key
	// Removed branches were dropped by the branch selection.
	Removed []string
}

// LastID is the highest mark in the history.
func (h *History) LastID() int {
	last := 0
	for _, t := range h.Tips {
		if t.ID > last {
			last = t.ID
		}
	}
	return last
}

// Convert runs every stage on a graph.
func Convert(g *vgraph.Graph, cfg Config) (*History, error) {
	gr, err := Group(g, cfg.Subset, cfg.Sink)
	if err != nil {
		return nil, err
	}
	removed, err := FilterBranches(gr, cfg.Branches, cfg.Sink)
	if err != nil {
		return nil, err
	}
	h, err := Sequence(g, gr, cfg)
	if err != nil {
		return nil, err
	}
	h.Removed = removed
	return h, nil
}

// Sequence orders a grouping into a history.
func Sequence(g *vgraph.Graph, gr *Grouping, cfg Config) (h *History, err error) {
	defer guard(&err)
	s := newSequencer(g, gr, cfg)
	s.run()
	s.merges.resolve(s.starts)
	lost := s.lost()
	s.labels.finish(lost)
	out := linearize(s.seq, s.base)

	h = &History{
		Root:       gr.Root,
		Parents:    gr.Parents,
		ChangeSets: out,
		Tips:       make(map[string]*ChangeSet),
		Inherited:  make(map[string]int),
		Views:      s.views,
		Labels:     s.labels.completed(),
		Merges:     s.merges.Pairs(),
	}
	for b, t := range s.tips {
		if t.External {
			h.Tips[b] = t
		}
	}
	if cfg.Resume != nil {
		for b, mark := range cfg.Resume.Tips {
			h.Inherited[b] = mark
		}
	}
	for _, cs := range out {
		h.Tips[cs.Branch] = cs
	}
	for k := range lost {
		h.Lost = append(h.Lost, k)
	}
	sort.Slice(h.Lost, func(i, j int) bool { return keyLess(h.Lost[i], h.Lost[j]) })
	return h, nil
}
