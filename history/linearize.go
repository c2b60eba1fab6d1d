// SPDX-License-Identifier: BSD-2-Clause

package history

import "sort"

// linearize puts the sequenced changesets in emission order. Empty
// changesets are dropped, a dropped branch start handing its branching
// point to the next changeset on the branch. Merge sources sequenced
// after their targets are pulled forward together with whatever they in
// turn depend on. The result is numbered from base+1.
func linearize(seq []*ChangeSet, base int) []*ChangeSet {
	kept := make([]*ChangeSet, 0, len(seq))
	inKept := make(map[*ChangeSet]bool, len(seq))
	handoff := make(map[string]*ChangeSet)
	for _, cs := range seq {
		if bp := handoff[cs.Branch]; bp != nil && cs.BranchPoint == nil {
			cs.BranchPoint = bp
			delete(handoff, cs.Branch)
		}
		if cs.IsEmpty() {
			if cs.BranchPoint != nil {
				handoff[cs.Branch] = cs.BranchPoint
				cs.BranchPoint = nil
			}
			continue
		}
		delete(handoff, cs.Branch)
		kept = append(kept, cs)
		inKept[cs] = true
	}

	prev := make(map[*ChangeSet]*ChangeSet, len(kept))
	last := make(map[string]*ChangeSet)
	for _, cs := range kept {
		prev[cs] = last[cs.Branch]
		last[cs.Branch] = cs
		sort.Slice(cs.Merges, func(i, j int) bool { return cs.Merges[i].ID < cs.Merges[j].ID })
	}

	const (
		fresh = iota
		visiting
		done
	)
	state := make(map[*ChangeSet]int, len(kept))
	out := make([]*ChangeSet, 0, len(kept))
	var visit func(cs *ChangeSet)
	visit = func(cs *ChangeSet) {
		switch state[cs] {
		case done:
			return
		case visiting:
			panic(throw("fatal", ErrLinearization, "%s depends on itself", cs))
		}
		state[cs] = visiting
		deps := append([]*ChangeSet{prev[cs], cs.BranchPoint}, cs.Merges...)
		for _, d := range deps {
			if d != nil && !d.External && inKept[d] {
				visit(d)
			}
		}
		state[cs] = done
		out = append(out, cs)
	}
	for _, cs := range kept {
		visit(cs)
	}

	for i, cs := range out {
		cs.ID = base + i + 1
	}
	for _, cs := range out {
		if bp := cs.BranchPoint; bp != nil && bp.ID >= cs.ID {
			panic(throw("fatal", ErrLinearization, "%s comes before its branching point %s", cs, bp))
		}
		for _, m := range cs.Merges {
			if m.ID >= cs.ID {
				panic(throw("fatal", ErrLinearization, "%s comes before merged %s", cs, m))
			}
		}
	}
	return out
}
