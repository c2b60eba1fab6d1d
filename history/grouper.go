// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"sort"
	"strings"
	"time"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// MaxDelay is the widest gap between two versions by the same author on
// the same branch that still lets them share a changeset.
const MaxDelay = 20 * time.Second

// Grouping is the raw material of sequencing: changesets per branch and
// the branch topology.
type Grouping struct {
	Root string
	// Branches holds each branch's raw changesets ordered by start time.
	Branches map[string][]*ChangeSet
	// Parents maps every non-root branch to the branch it was cut from.
	Parents map[string]string
}

// BranchNames returns every branch the grouping knows, sorted.
func (gr *Grouping) BranchNames() []string {
	seen := newStringSet(gr.Root)
	for b := range gr.Parents {
		seen.Add(b)
	}
	for b := range gr.Branches {
		seen.Add(b)
	}
	return seen.Ordered()
}

// Ancestors lists a branch's ancestors, nearest first, ending at the root.
func (gr *Grouping) Ancestors(branch string) []string {
	var out []string
	for b, ok := gr.Parents[branch]; ok; b, ok = gr.Parents[b] {
		out = append(out, b)
		if len(out) > len(gr.Parents) {
			break
		}
	}
	return out
}

// IsAncestor tells whether a is a strict ancestor of b.
func (gr *Grouping) IsAncestor(a, b string) bool {
	for _, x := range gr.Ancestors(b) {
		if x == a {
			return true
		}
	}
	return false
}

// Len is the number of raw changesets.
func (gr *Grouping) Len() int {
	n := 0
	for _, l := range gr.Branches {
		n += len(l)
	}
	return n
}

type laneKey struct {
	branch string
	login  string
}

// lane is one (branch, author) list of changesets ordered by start.
// Neighbouring changesets in a lane are always more than MaxDelay apart.
type lane []*ChangeSet

func within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= MaxDelay
}

// insert applies the windowed-merge rule. A version close to one
// changeset joins it; one close to both neighbours fuses them; anything
// else starts a changeset of its own.
func (l lane) insert(v *vgraph.Version, kind vgraph.Kind, carrier bool) lane {
	t := v.Time
	p := sort.Search(len(l), func(i int) bool { return l[i].Start.After(t) })
	var before, after *ChangeSet
	if p > 0 && (!t.After(l[p-1].Finish) || within(t, l[p-1].Finish)) {
		before = l[p-1]
	}
	if p < len(l) && within(t, l[p].Start) {
		after = l[p]
	}
	put := func(cs *ChangeSet) {
		if carrier {
			cs.addCarrier(v)
		} else {
			cs.add(v, kind)
		}
	}
	switch {
	case before != nil && after != nil:
		before.absorb(after)
		put(before)
		l = append(l[:p], l[p+1:]...)
	case before != nil:
		put(before)
	case after != nil:
		put(after)
	default:
		cs := &ChangeSet{Author: v.Author, Login: v.Login, Branch: v.Key.Branch, Start: t, Finish: t}
		put(cs)
		l = append(l, nil)
		copy(l[p+1:], l[p:])
		l[p] = cs
	}
	return l
}

// Group turns the versions of a graph into raw changesets and infers
// the branch topology. A nil subset means every version; otherwise only
// the listed versions are grouped.
func Group(g *vgraph.Graph, subset []vgraph.Key, sink Sink) (gr *Grouping, err error) {
	defer guard(&err)
	if sink == nil {
		sink = nullSink{}
	}
	relocateLabels(g, sink)
	gr = &Grouping{
		Root:     g.RootBranch,
		Branches: make(map[string][]*ChangeSet),
		Parents:  inferParents(g, sink),
	}
	var only map[vgraph.Key]bool
	if subset != nil {
		only = make(map[vgraph.Key]bool, len(subset))
		for _, k := range subset {
			only[k] = true
		}
	}
	lanes := make(map[laneKey]lane)
	g.Walk(func(e *vgraph.Element, b *vgraph.Branch, v *vgraph.Version) {
		if only != nil && !only[v.Key] {
			return
		}
		carrier := carriesOnly(v, e.Kind, g.RootBranch)
		if carrier && len(v.Labels) == 0 {
			return
		}
		k := laneKey{v.Key.Branch, v.Login}
		lanes[k] = lanes[k].insert(v, e.Kind, carrier)
	})
	for k, l := range lanes {
		gr.Branches[k.branch] = append(gr.Branches[k.branch], l...)
	}
	for branch, l := range gr.Branches {
		for _, cs := range l {
			sort.Slice(cs.Skipped, func(i, j int) bool {
				return keyLess(cs.Skipped[i].Key, cs.Skipped[j].Key)
			})
		}
		sort.SliceStable(l, func(i, j int) bool {
			if !l[i].Start.Equal(l[j].Start) {
				return l[i].Start.Before(l[j].Start)
			}
			return l[i].Login < l[j].Login
		})
		emit(sink, LogGROUP, "branch-grouped", F{"branch": branch, "changesets": len(l)},
			"%d raw changesets on %s", len(l), branch)
	}
	return gr, nil
}

func keyLess(a, b vgraph.Key) bool {
	if a.Element != b.Element {
		return a.Element < b.Element
	}
	if a.Branch != b.Branch {
		return a.Branch < b.Branch
	}
	return a.Number < b.Number
}

// relocateLabels moves labels off version 0 of non-root branches onto
// the version the branch was cut from, following chains of branches cut
// from other branches' version 0.
func relocateLabels(g *vgraph.Graph, sink Sink) {
	g.Walk(func(e *vgraph.Element, b *vgraph.Branch, v *vgraph.Version) {
		if v.Key.Number != 0 || v.Key.Branch == g.RootBranch || len(v.Labels) == 0 {
			return
		}
		target := b.Origin
		for hops := 0; target != nil && target.Number == 0 && target.Branch != g.RootBranch; hops++ {
			up := g.Branch(target.Element, target.Branch)
			if up == nil || hops > len(e.Branches) {
				target = nil
				break
			}
			target = up.Origin
		}
		var dest *vgraph.Version
		if target != nil {
			dest = g.Version(*target)
		}
		if dest == nil {
			emit(sink, LogWARN|LogLABELS, "label-unanchored",
				F{"labels": strings.Join(v.Labels, ","), "version": v.Key.String()},
				"branching point of %s not found, dropping its labels", v.Key)
			v.Labels = nil
			return
		}
		for _, l := range v.Labels {
			if !dest.HasLabel(l) {
				dest.Labels = append(dest.Labels, l)
			}
		}
		emit(sink, LogLABELS, "label-relocated",
			F{"labels": strings.Join(v.Labels, ","), "from": v.Key.String(), "to": dest.Key.String()},
			"labels moved from %s to %s", v.Key, dest.Key)
		v.Labels = nil
	})
}

// inferParents works out each branch's parent from the full branch paths
// recorded on elements. Different elements may disagree, since a branch
// can be cut from different places for different elements; the deepest
// candidate wins.
func inferParents(g *vgraph.Graph, sink Sink) map[string]string {
	root := g.RootBranch
	cands := make(map[string]stringSet)
	note := func(child, parent string) {
		if _, ok := cands[child]; !ok {
			cands[child] = newStringSet()
		}
		if parent != "" && parent != child {
			s := cands[child]
			s.Add(parent)
		}
	}
	for _, e := range g.Elements() {
		for _, b := range e.Branches {
			parts := strings.Split(b.FullName, vgraph.BranchSep)
			if parts[len(parts)-1] != b.Name {
				parts = append(parts, b.Name)
			}
			for i, name := range parts {
				if name == root {
					continue
				}
				if i == 0 {
					note(name, "")
				} else {
					note(name, parts[i-1])
				}
			}
		}
	}
	names := make([]string, 0, len(cands))
	for name := range cands {
		names = append(names, name)
	}
	sort.Strings(names)

	depth := map[string]int{root: 0}
	for _, name := range names {
		if cands[name].Len() == 0 {
			depth[name] = 1
		}
	}
	for round := 0; ; round++ {
		changed := false
		for _, name := range names {
			best := -1
			for c := range cands[name].store {
				if d, ok := depth[c]; ok && d > best {
					best = d
				}
			}
			if best < 0 {
				continue
			}
			if d, ok := depth[name]; !ok || best+1 > d {
				depth[name] = best + 1
				changed = true
			}
		}
		if !changed {
			break
		}
		if round > len(names)+1 {
			panic(throw("fatal", ErrAmbiguousParent, "branch ancestry contains a cycle"))
		}
	}

	parents := make(map[string]string, len(names))
	for _, name := range names {
		if cands[name].Len() == 0 {
			emit(sink, LogWARN|LogTOPOLOGY, "branch-unrooted", F{"branch": name},
				"branch %s has no recorded parent, assuming %s", name, root)
			parents[name] = root
			continue
		}
		best, parent, tied := -1, "", ""
		for _, c := range cands[name].Ordered() {
			d, ok := depth[c]
			if !ok {
				continue
			}
			if d > best {
				best, parent, tied = d, c, ""
			} else if d == best {
				tied = c
			}
		}
		if parent == "" {
			panic(throw("fatal", ErrAmbiguousParent, "branch %s has no ancestry reaching %s", name, root))
		}
		if tied != "" {
			panic(throw("fatal", ErrAmbiguousParent, "branch %s could come from %s or %s", name, parent, tied))
		}
		parents[name] = parent
		emit(sink, LogTOPOLOGY, "branch-parent", F{"branch": name, "parent": parent, "depth": depth[name]},
			"%s is cut from %s", name, parent)
	}
	return parents
}

// InferParents exposes branch parent inference on its own.
func InferParents(g *vgraph.Graph, sink Sink) (parents map[string]string, err error) {
	defer guard(&err)
	if sink == nil {
		sink = nullSink{}
	}
	return inferParents(g, sink), nil
}
