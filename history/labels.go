// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"sort"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// LabelInfo tracks one label while the history is sequenced.
type LabelInfo struct {
	Name string
	// Required holds the one version per element the label names.
	Required map[vgraph.ElementID]vgraph.Key
	// Missing holds the required versions not sequenced yet.
	Missing *keySet
	// View is the branch the label is checked against: the deepest
	// branch any of its versions sits on.
	View string
	// Chain is View followed by its ancestors up to the root.
	Chain     []string
	Complete  bool
	Abandoned bool
	// Owner is the changeset the label completed on.
	Owner *ChangeSet
}

func (l *LabelInfo) active() bool {
	return !l.Complete && !l.Abandoned
}

// onChain tells where a branch sits on the label's chain: 0 for the
// view branch, 1 for its parent and so on, -1 when it is off the chain.
func (l *LabelInfo) onChain(branch string) int {
	for i, b := range l.Chain {
		if b == branch {
			return i
		}
	}
	return -1
}

type labelBook struct {
	labels    map[string]*LabelInfo
	order     []string
	byVersion map[vgraph.Key][]*LabelInfo
	byElement map[vgraph.ElementID][]*LabelInfo
	byBranch  map[string][]*LabelInfo
	sink      Sink
}

// buildLabels collects every label in the graph that can still be
// completed by the grouping: labels touching removed branches, naming
// two versions of one element, or spread over branches that are not
// one line of descent are dropped here. Versions for which done is true
// were handled by an earlier run and count as sequenced.
func buildLabels(g *vgraph.Graph, gr *Grouping, done func(vgraph.Key) bool, sink Sink) *labelBook {
	lb := &labelBook{
		labels:    make(map[string]*LabelInfo),
		byVersion: make(map[vgraph.Key][]*LabelInfo),
		byElement: make(map[vgraph.ElementID][]*LabelInfo),
		byBranch:  make(map[string][]*LabelInfo),
		sink:      sink,
	}
	known := func(branch string) bool {
		_, ok := gr.Parents[branch]
		return ok || branch == gr.Root
	}
	raw := make(map[string][]vgraph.Key)
	dropped := newStringSet()
	g.Walk(func(e *vgraph.Element, b *vgraph.Branch, v *vgraph.Version) {
		for _, name := range v.Labels {
			if dropped.Contains(name) {
				continue
			}
			if !known(v.Key.Branch) {
				dropped.Add(name)
				emit(sink, LogFILTER, "label-dropped", F{"label": name, "version": v.Key.String()},
					"label %s dropped, %s is on a removed branch", name, v.Key)
				continue
			}
			raw[name] = append(raw[name], v.Key)
		}
	})
	names := make([]string, 0, len(raw))
	for name := range raw {
		if !dropped.Contains(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		l := &LabelInfo{Name: name, Required: make(map[vgraph.ElementID]vgraph.Key), Missing: newKeySet()}
		ok := true
		branches := newStringSet()
		for _, k := range raw[name] {
			if prev, dup := l.Required[k.Element]; dup && prev != k {
				emit(sink, LogWARN|LogLABELS, "label-inconsistent", F{"label": name, "element": string(k.Element)},
					"label %s names both %s and %s", name, prev, k)
				ok = false
				break
			}
			l.Required[k.Element] = k
			branches.Add(k.Branch)
			if !done(k) {
				l.Missing.Add(k)
			}
		}
		if !ok {
			continue
		}
		for _, b := range branches.Ordered() {
			deepest := true
			for other := range branches.store {
				if other != b && !gr.IsAncestor(other, b) {
					deepest = false
					break
				}
			}
			if deepest {
				l.View = b
				break
			}
		}
		if l.View == "" {
			emit(sink, LogWARN|LogLABELS, "label-unrelated", F{"label": name, "branches": branches.String()},
				"label %s spans branches %s that are not one line of descent", name, branches)
			continue
		}
		if l.Missing.Empty() {
			// Everything it names was handled by an earlier run.
			continue
		}
		l.Chain = append([]string{l.View}, gr.Ancestors(l.View)...)
		lb.labels[name] = l
		lb.order = append(lb.order, name)
		for _, k := range l.Required {
			lb.byVersion[k] = append(lb.byVersion[k], l)
			lb.byElement[k.Element] = append(lb.byElement[k.Element], l)
		}
		for _, b := range l.Chain {
			lb.byBranch[b] = append(lb.byBranch[b], l)
		}
	}
	for _, ls := range lb.byElement {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	}
	return lb
}

func (lb *labelBook) abandon(l *LabelInfo, event, msg string, args ...interface{}) {
	if !l.active() {
		return
	}
	l.Abandoned = true
	emit(lb.sink, LogWARN|LogLABELS, event, F{"label": l.Name, "missing": l.Missing.Size()}, msg, args...)
}

// sequenced records that k has been applied by cs. A label whose last
// missing version this was is checked against its view branch.
func (lb *labelBook) sequenced(k vgraph.Key, cs *ChangeSet, views map[string]*View) {
	for _, l := range lb.byVersion[k] {
		if !l.active() || !l.Missing.Remove(k) || !l.Missing.Empty() {
			continue
		}
		view := views[l.View]
		if view == nil {
			lb.abandon(l, "label-inconsistent", "label %s completed before branch %s started", l.Name, l.View)
			continue
		}
		if bad, ok := lb.mismatch(l, view); ok {
			lb.abandon(l, "label-inconsistent", "label %s wants %s but %s sees %s", l.Name, l.Required[bad], l.View, describe(view, bad))
			continue
		}
		l.Complete = true
		l.Owner = cs
		cs.Labels = append(cs.Labels, l.Name)
		emit(lb.sink, LogLABELS, "label-complete", F{"label": l.Name, "changeset": cs.ID, "branch": cs.Branch},
			"label %s complete at %s", l.Name, cs)
	}
}

// mismatch finds an element the view does not see at the labeled
// version. Version 0 may also be absent.
func (lb *labelBook) mismatch(l *LabelInfo, view *View) (vgraph.ElementID, bool) {
	ids := make([]vgraph.ElementID, 0, len(l.Required))
	for id := range l.Required {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		want := l.Required[id]
		cur, ok := view.get(id)
		if want.Number == 0 {
			if ok && cur.Known && cur.Version != want {
				return id, true
			}
			continue
		}
		if !ok || !cur.Known || cur.Version != want {
			return id, true
		}
	}
	return "", false
}

func describe(view *View, id vgraph.ElementID) string {
	cur, ok := view.get(id)
	if !ok || !cur.Known {
		return "nothing"
	}
	return cur.Version.String()
}

// finish withdraws completed labels that name a version which never
// became visible, and reports labels left incomplete.
func (lb *labelBook) finish(lost map[vgraph.Key]bool) {
	for _, name := range lb.order {
		l := lb.labels[name]
		if l.Complete {
			for _, k := range l.Required {
				if !lost[k] {
					continue
				}
				l.Complete = false
				l.Abandoned = true
				owner := l.Owner
				for i, n := range owner.Labels {
					if n == l.Name {
						owner.Labels = append(owner.Labels[:i], owner.Labels[i+1:]...)
						break
					}
				}
				emit(lb.sink, LogWARN|LogLABELS, "label-lost", F{"label": l.Name, "version": k.String()},
					"label %s names %s, which never appears in any directory", l.Name, k)
				break
			}
			continue
		}
		if l.active() {
			lb.abandon(l, "label-incomplete", "label %s still misses %d versions", l.Name, l.Missing.Size())
		}
	}
}

// Labels returns the completed labels in name order.
func (lb *labelBook) completed() []*LabelInfo {
	var out []*LabelInfo
	for _, name := range lb.order {
		if l := lb.labels[name]; l.Complete {
			out = append(out, l)
		}
	}
	return out
}
