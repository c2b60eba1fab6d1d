// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"sort"
	"strings"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// maxNesting stops name propagation through directory loops.
const maxNesting = 256

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func pathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

// namer applies one changeset's versions to a branch view and works out
// the tree operations its directory versions imply.
type namer struct {
	s      *sequencer
	cs     *ChangeSet
	view   *View
	before map[vgraph.ElementID][]string
	order  []vgraph.ElementID
}

func (n *namer) touch(id vgraph.ElementID) {
	if _, ok := n.before[id]; ok {
		return
	}
	cur, _ := n.view.get(id)
	n.before[id] = cur.Names
	n.order = append(n.order, id)
}

func (n *namer) children(cur ViewEntry) map[string]vgraph.ElementID {
	if !cur.Known {
		return nil
	}
	if v := n.s.graph.Version(cur.Version); v != nil {
		return v.Children
	}
	return nil
}

func (n *namer) addName(id vgraph.ElementID, path string, depth int) {
	cur, _ := n.view.get(id)
	if cur.hasName(path) {
		return
	}
	if depth > maxNesting {
		emit(n.s.sink, LogWARN|LogNAMING, "naming-loop", F{"element": string(id), "path": path},
			"directory nesting too deep at %s", path)
		return
	}
	n.touch(id)
	n.view.set(id, cur.withName(path))
	for name, child := range n.children(cur) {
		n.addName(child, joinPath(path, name), depth+1)
	}
}

func (n *namer) dropName(id vgraph.ElementID, path string, depth int) {
	cur, _ := n.view.get(id)
	if !cur.hasName(path) || depth > maxNesting {
		return
	}
	n.touch(id)
	n.view.set(id, cur.withoutName(path))
	for name, child := range n.children(cur) {
		n.dropName(child, joinPath(path, name), depth+1)
	}
}

// name applies cs to its branch view. Directory versions are diffed
// against what the view had before, file versions become current, and
// every entry ends up with the paths it is visible under.
func (s *sequencer) name(cs *ChangeSet) {
	n := &namer{s: s, cs: cs, view: s.views[cs.Branch], before: make(map[vgraph.ElementID][]string)}
	for _, e := range cs.Entries {
		if e.Kind != vgraph.Dir {
			continue
		}
		id := e.Key().Element
		cur, _ := n.view.get(id)
		old := n.children(cur)
		cur.Version, cur.Known = e.Key(), true
		n.view.set(id, cur)
		added := e.Version.Children
		for _, dir := range cur.Names {
			for _, name := range sortedNames(old) {
				if added[name] != old[name] {
					n.dropName(old[name], joinPath(dir, name), 1)
				}
			}
			for _, name := range sortedNames(added) {
				if old[name] != added[name] {
					n.addName(added[name], joinPath(dir, name), 1)
				}
			}
		}
	}
	for _, e := range cs.Entries {
		if e.Kind == vgraph.Dir {
			continue
		}
		id := e.Key().Element
		cur, _ := n.view.get(id)
		cur.Version, cur.Known = e.Key(), true
		n.view.set(id, cur)
	}
	n.resolve()
	for _, e := range cs.Entries {
		if e.Revealed {
			continue
		}
		cur, _ := n.view.get(e.Key().Element)
		e.Names = cur.Names
		e.Raw = len(e.Names) == 0
		if e.Kind == vgraph.Dir {
			continue
		}
		if e.Raw && len(n.before[e.Key().Element]) > 0 {
			// Deleted by this very changeset.
			continue
		}
		if e.Raw {
			s.orphans[e.Key()] = true
			emit(s.sink, LogNAMING, "version-orphan", F{"version": e.Key().String()},
				"%s has no name on %s yet", e.Key(), cs.Branch)
		} else {
			delete(s.orphans, e.Key())
		}
	}
}

func sortedNames(m map[string]vgraph.ElementID) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type move struct {
	op   TreeOp
	from string // source path before the changeset
}

// resolve turns the net name changes of the changeset into tree
// operations. Elements are visited shallowest first so that a moved or
// deleted directory accounts for everything below it.
func (n *namer) resolve() {
	shallowest := func(id vgraph.ElementID) (int, string) {
		cur, _ := n.view.get(id)
		best, first := -1, ""
		for _, p := range append(append([]string(nil), n.before[id]...), cur.Names...) {
			if d := pathDepth(p); best < 0 || d < best || (d == best && p < first) {
				best, first = d, p
			}
		}
		return best, first
	}
	sort.SliceStable(n.order, func(i, j int) bool {
		di, pi := shallowest(n.order[i])
		dj, pj := shallowest(n.order[j])
		if di != dj {
			return di < dj
		}
		return pi < pj
	})

	var moves []move
	var fileDeletes, dirDeletes []TreeOp
	var gone []string
	translate := func(p string) string {
		for _, m := range moves {
			if m.op.Kind != OpRename {
				continue
			}
			if p == m.op.Source {
				p = m.op.Path
			} else if strings.HasPrefix(p, m.op.Source+"/") {
				p = m.op.Path + p[len(m.op.Source):]
			}
		}
		return p
	}
	underGone := func(p string) bool {
		for _, g := range gone {
			if strings.HasPrefix(p, g+"/") {
				return true
			}
		}
		return false
	}

	for _, id := range n.order {
		cur, _ := n.view.get(id)
		was := newStringSet(n.before[id]...)
		now := newStringSet(cur.Names...)
		removed := was.Subtract(now)
		var added []string
		for _, q := range now.Subtract(was).Ordered() {
			implied := false
			for _, m := range moves {
				if !strings.HasPrefix(q, m.op.Path+"/") {
					continue
				}
				if src := m.from + q[len(m.op.Path):]; was.Contains(src) {
					implied = true
					if m.op.Kind == OpRename {
						removed.Remove(src)
					}
					break
				}
			}
			if !implied {
				added = append(added, q)
			}
		}
		isDir := n.s.graph.Kind(id) == vgraph.Dir
		dropped := removed.Ordered()
		i := 0
		for ; i < len(dropped) && i < len(added); i++ {
			op := TreeOp{Kind: OpRename, Source: translate(dropped[i]), Path: added[i], Dir: isDir}
			moves = append(moves, move{op: op, from: dropped[i]})
		}
		for _, p := range dropped[i:] {
			p = translate(p)
			if underGone(p) {
				continue
			}
			op := TreeOp{Kind: OpDelete, Path: p, Dir: isDir}
			if isDir {
				dirDeletes = append(dirDeletes, op)
				gone = append(gone, p)
			} else {
				fileDeletes = append(fileDeletes, op)
			}
		}
		extra := added[i:]
		if len(extra) == 0 {
			continue
		}
		kept := was.Subtract(removed).Ordered()
		switch {
		case len(kept) > 0:
			for _, q := range extra {
				op := TreeOp{Kind: OpCopy, Source: translate(kept[0]), Path: q, Dir: isDir}
				moves = append(moves, move{op: op, from: kept[0]})
			}
		case i > 0:
			for _, q := range extra {
				op := TreeOp{Kind: OpCopy, Source: added[0], Path: q, Dir: isDir}
				moves = append(moves, move{op: op, from: dropped[0]})
			}
		default:
			n.appear(id, cur)
		}
	}
	for _, m := range moves {
		n.cs.Ops = append(n.cs.Ops, m.op)
	}
	n.cs.Ops = append(n.cs.Ops, fileDeletes...)
	n.cs.Ops = append(n.cs.Ops, dirDeletes...)
	for _, op := range n.cs.Ops {
		emit(n.s.sink, LogNAMING, "tree-op", F{"changeset": n.cs.ID, "op": op.String()}, "%s", op)
	}
}

// appear handles an element that had no name on this branch and now has
// one. Its current content becomes visible unless the changeset carries
// a version of it anyway.
func (n *namer) appear(id vgraph.ElementID, cur ViewEntry) {
	if n.s.graph.Kind(id) == vgraph.Dir || !cur.Known {
		return
	}
	delete(n.s.orphans, cur.Version)
	if n.cs.entry(id) != nil {
		return
	}
	v := n.s.graph.Version(cur.Version)
	if v == nil {
		return
	}
	n.cs.Entries = append(n.cs.Entries, &Entry{Version: v, Kind: n.s.graph.Kind(id), Names: cur.Names, Revealed: true})
}
