// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"math"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"

	"gitlab.com/cc2git/cc2git/vgraph"
)

type mergeEdge struct {
	from vgraph.Key
	to   vgraph.Key
}

type branchPair struct {
	from string
	to   string
}

// MergeInfo reconciles the merges from one branch into its parent.
// Either end of an edge may be sequenced first.
type MergeInfo struct {
	From string
	To   string

	fromSeen map[vgraph.Key]*ChangeSet
	toSeen   map[vgraph.Key]*ChangeSet
	pending  map[mergeEdge]*ChangeSet
	// byTarget keeps, for every target changeset, its newest source.
	byTarget map[*ChangeSet]*ChangeSet
}

func (m *MergeInfo) String() string {
	return m.From + " -> " + m.To
}

func newMergeInfo(p branchPair) *MergeInfo {
	return &MergeInfo{
		From:     p.from,
		To:       p.to,
		fromSeen: make(map[vgraph.Key]*ChangeSet),
		toSeen:   make(map[vgraph.Key]*ChangeSet),
		pending:  make(map[mergeEdge]*ChangeSet),
		byTarget: make(map[*ChangeSet]*ChangeSet),
	}
}

func (mi *MergeInfo) link(from, to *ChangeSet) {
	if cur := mi.byTarget[to]; cur == nil || from.ID > cur.ID {
		mi.byTarget[to] = from
	}
}

type mergeBook struct {
	edgesFrom map[vgraph.Key][]mergeEdge
	edgesTo   map[vgraph.Key][]mergeEdge
	pairs     map[branchPair]*MergeInfo
	order     []branchPair
	sink      Sink
}

// newMergeBook collects the merge edges worth reconstructing: from a
// branch into its direct parent, not from a branching point, and not
// superseded by a later merge between the same two elements.
func newMergeBook(g *vgraph.Graph, gr *Grouping, sink Sink) *mergeBook {
	mb := &mergeBook{
		edgesFrom: make(map[vgraph.Key][]mergeEdge),
		edgesTo:   make(map[vgraph.Key][]mergeEdge),
		pairs:     make(map[branchPair]*MergeInfo),
		sink:      sink,
	}
	type lineage struct {
		fromElem, toElem vgraph.ElementID
		pair             branchPair
	}
	latest := make(map[lineage]mergeEdge)
	consider := func(e mergeEdge) {
		if e.from.Number == 0 {
			return
		}
		if parent, ok := gr.Parents[e.from.Branch]; !ok || parent != e.to.Branch {
			emit(sink, LogMERGES, "merge-ignored", F{"from": e.from.String(), "to": e.to.String()},
				"merge %s -> %s is not into the parent branch", e.from, e.to)
			return
		}
		ln := lineage{e.from.Element, e.to.Element, branchPair{e.from.Branch, e.to.Branch}}
		cur, ok := latest[ln]
		if !ok || e.to.Number > cur.to.Number || (e.to.Number == cur.to.Number && e.from.Number > cur.from.Number) {
			latest[ln] = e
		}
	}
	g.Walk(func(_ *vgraph.Element, _ *vgraph.Branch, v *vgraph.Version) {
		for _, t := range v.MergedTo {
			consider(mergeEdge{v.Key, t})
		}
		for _, f := range v.MergedFrom {
			consider(mergeEdge{f, v.Key})
		}
	})
	for _, e := range latest {
		mb.edgesFrom[e.from] = append(mb.edgesFrom[e.from], e)
		mb.edgesTo[e.to] = append(mb.edgesTo[e.to], e)
		p := branchPair{e.from.Branch, e.to.Branch}
		if mb.pairs[p] == nil {
			mb.pairs[p] = newMergeInfo(p)
			mb.order = append(mb.order, p)
		}
	}
	sort.Slice(mb.order, func(i, j int) bool {
		if mb.order[i].from != mb.order[j].from {
			return mb.order[i].from < mb.order[j].from
		}
		return mb.order[i].to < mb.order[j].to
	})
	return mb
}

// observe records that v was sequenced by cs and links whatever merge
// edges now have both ends in place.
func (mb *mergeBook) observe(v *vgraph.Version, cs *ChangeSet) {
	for _, e := range mb.edgesFrom[v.Key] {
		mi := mb.pairs[branchPair{e.from.Branch, e.to.Branch}]
		mi.fromSeen[e.from] = cs
		if target, ok := mi.toSeen[e.to]; ok {
			mi.link(cs, target)
			delete(mi.pending, e)
		} else {
			mi.pending[e] = cs
		}
	}
	for _, e := range mb.edgesTo[v.Key] {
		mi := mb.pairs[branchPair{e.from.Branch, e.to.Branch}]
		mi.toSeen[e.to] = cs
		if source, ok := mi.fromSeen[e.from]; ok {
			mi.link(source, cs)
			delete(mi.pending, e)
		} else {
			mi.pending[e] = cs
		}
	}
}

// resolve assigns merge sources to targets pair by pair, newest source
// first, and reports edges that never found their other end.
func (mb *mergeBook) resolve(starts map[string]*ChangeSet) {
	for _, p := range mb.order {
		mi := mb.pairs[p]
		targets := make(map[*ChangeSet]*treemap.Map)
		var sources []*ChangeSet
		for to, from := range mi.byTarget {
			tm := targets[from]
			if tm == nil {
				tm = treemap.NewWithIntComparator()
				targets[from] = tm
				sources = append(sources, from)
			}
			tm.Put(to.ID, to)
		}
		sort.Slice(sources, func(i, j int) bool { return sources[i].ID > sources[j].ID })
		floor := 0
		if st := starts[mi.From]; st != nil && st.BranchPoint != nil {
			floor = st.BranchPoint.ID
		}
		limit := math.MaxInt32
		for _, from := range sources {
			_, found := targets[from].Floor(limit)
			to, _ := found.(*ChangeSet)
			if to == nil || to.ID <= floor {
				emit(mb.sink, LogWARN|LogMERGES, "merge-impossible",
					F{"from": mi.From, "to": mi.To, "source": from.ID},
					"no place in %s for the merge from %s at %s", mi.To, mi.From, from)
				break
			}
			to.Merges = append(to.Merges, from)
			from.mergeSource = true
			limit = to.ID
			emit(mb.sink, LogMERGES, "merge-resolved", F{"from": from.ID, "to": to.ID},
				"%s merged into %s", from, to)
		}
		edges := make([]mergeEdge, 0, len(mi.pending))
		for e := range mi.pending {
			edges = append(edges, e)
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].from != edges[j].from {
				return keyLess(edges[i].from, edges[j].from)
			}
			return keyLess(edges[i].to, edges[j].to)
		})
		for _, e := range edges {
			emit(mb.sink, LogWARN|LogMERGES, "merge-incomplete", F{"from": e.from.String(), "to": e.to.String()},
				"merge %s -> %s has only one end in the history", e.from, e.to)
		}
	}
}

// Pairs returns the reconciliation state per branch pair.
func (mb *mergeBook) Pairs() []*MergeInfo {
	out := make([]*MergeInfo, 0, len(mb.order))
	for _, p := range mb.order {
		out = append(out, mb.pairs[p])
	}
	return out
}
