// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"sort"
	"time"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// DefaultWindow bounds how far past a changeset the sequencer looks for
// the versions a label still needs before giving the label up.
const DefaultWindow = 4 * time.Hour

// Resume is what an earlier run left behind: the mark each branch's tip
// was emitted under, what each branch saw at that point, and the last
// mark used.
type Resume struct {
	Tips   map[string]int
	Views  map[string]*View
	LastID int
}

// sequencer owns every piece of mutable state while changesets are put
// in order. It is not safe for concurrent use.
type sequencer struct {
	graph  *vgraph.Graph
	gr     *Grouping
	sink   Sink
	window time.Duration
	report func(done, total int)

	views  map[string]*View
	tips   map[string]*ChangeSet
	starts map[string]*ChangeSet

	// work is every raw changeset in arrival order; a slot is cleared
	// when its changeset is applied, possibly out of order.
	work      []*ChangeSet
	fill      int
	slot      map[*ChangeSet]int
	byVersion map[vgraph.Key]*ChangeSet
	pendingOn map[string][]*ChangeSet

	seq    []*ChangeSet
	base   int
	nextID int

	labels  *labelBook
	merges  *mergeBook
	orphans map[vgraph.Key]bool
	applied int
}

func newSequencer(g *vgraph.Graph, gr *Grouping, cfg Config) *sequencer {
	s := &sequencer{
		graph:     g,
		gr:        gr,
		sink:      cfg.Sink,
		window:    cfg.Window,
		report:    cfg.Progress,
		views:     make(map[string]*View),
		tips:      make(map[string]*ChangeSet),
		starts:    make(map[string]*ChangeSet),
		slot:      make(map[*ChangeSet]int),
		byVersion: make(map[vgraph.Key]*ChangeSet),
		pendingOn: make(map[string][]*ChangeSet),
		orphans:   make(map[vgraph.Key]bool),
	}
	if s.sink == nil {
		s.sink = nullSink{}
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if r := cfg.Resume; r != nil {
		for b, v := range r.Views {
			s.views[b] = v.snapshot()
		}
		branches := make([]string, 0, len(r.Tips))
		for b := range r.Tips {
			branches = append(branches, b)
		}
		sort.Strings(branches)
		for _, b := range branches {
			if s.views[b] == nil {
				panic(throw("fatal", ErrResume, "branch %s has tip :%d but no view", b, r.Tips[b]))
			}
			s.tips[b] = &ChangeSet{ID: r.Tips[b], Branch: b, External: true}
		}
		s.base = r.LastID
		s.nextID = r.LastID
	}
	for _, l := range gr.Branches {
		s.work = append(s.work, l...)
	}
	sort.SliceStable(s.work, func(i, j int) bool {
		a, b := s.work[i], s.work[j]
		switch {
		case !a.Start.Equal(b.Start):
			return a.Start.Before(b.Start)
		case a.Branch != b.Branch:
			return a.Branch < b.Branch
		case a.Login != b.Login:
			return a.Login < b.Login
		}
		return a.Finish.Before(b.Finish)
	})
	for i, cs := range s.work {
		cs.pending = true
		s.slot[cs] = i
		s.pendingOn[cs.Branch] = append(s.pendingOn[cs.Branch], cs)
		for _, v := range cs.Versions() {
			s.byVersion[v.Key] = cs
		}
	}
	done := func(vgraph.Key) bool { return false }
	if cfg.Subset != nil {
		only := make(map[vgraph.Key]bool, len(cfg.Subset))
		for _, k := range cfg.Subset {
			only[k] = true
		}
		done = func(k vgraph.Key) bool { return !only[k] }
	}
	s.labels = buildLabels(g, gr, done, s.sink)
	s.merges = newMergeBook(g, gr, s.sink)
	return s
}

func (s *sequencer) started(branch string) bool {
	return s.views[branch] != nil
}

// peek returns what branch sees of an element, or would see if it were
// started now.
func (s *sequencer) peek(branch string, id vgraph.ElementID) (ViewEntry, bool) {
	for b, hops := branch, 0; hops <= len(s.gr.Parents); hops++ {
		if v := s.views[b]; v != nil {
			return v.get(id)
		}
		parent, ok := s.gr.Parents[b]
		if !ok {
			break
		}
		b = parent
	}
	return ViewEntry{}, false
}

// spawning lists the branches applying a changeset on branch would
// start, branch itself first.
func (s *sequencer) spawning(branch string) []string {
	var out []string
	for b := branch; !s.started(b); {
		out = append(out, b)
		parent, ok := s.gr.Parents[b]
		if !ok || len(out) > len(s.gr.Parents) {
			break
		}
		b = parent
	}
	return out
}

func (s *sequencer) firstPending(branch string) *ChangeSet {
	l := s.pendingOn[branch]
	for len(l) > 0 && !l[0].pending {
		l = l[1:]
	}
	s.pendingOn[branch] = l
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

func (s *sequencer) take(cs *ChangeSet) {
	s.work[s.slot[cs]] = nil
	cs.pending = false
	for _, v := range cs.Versions() {
		if s.byVersion[v.Key] == cs {
			delete(s.byVersion, v.Key)
		}
	}
}

func (s *sequencer) run() {
	for ; s.fill < len(s.work); s.fill++ {
		cs := s.work[s.fill]
		if cs == nil {
			continue
		}
		tried := make(map[*LabelInfo]bool)
		for {
			l := s.breaks(cs)
			if l == nil {
				break
			}
			if tried[l] {
				s.labels.abandon(l, "label-abandoned", "reordering did not save label %s from %s", l.Name, cs)
				continue
			}
			tried[l] = true
			s.repair(cs, l)
		}
		s.take(cs)
		s.apply(cs)
	}
}

// number gives a changeset the next id.
func (s *sequencer) number(cs *ChangeSet) {
	s.nextID++
	cs.ID = s.nextID
	s.seq = append(s.seq, cs)
}

func (s *sequencer) apply(cs *ChangeSet) {
	s.start(cs)
	s.number(cs)
	s.name(cs)
	for _, v := range cs.Versions() {
		s.labels.sequenced(v.Key, cs, s.views)
		s.merges.observe(v, cs)
	}
	s.tips[cs.Branch] = cs
	s.applied++
	if s.report != nil {
		s.report(s.applied, len(s.work))
	}
}

// start makes sure the changeset's branch has a view, cutting it from
// the parent's tip if it has none.
func (s *sequencer) start(cs *ChangeSet) {
	if s.started(cs.Branch) {
		return
	}
	if cs.Branch == s.gr.Root {
		v := newView()
		v.set(s.graph.RootDir, ViewEntry{Names: []string{""}})
		s.views[cs.Branch] = v
		return
	}
	parent := s.gr.Parents[cs.Branch]
	tip := s.tip(parent, cs.Start)
	cs.BranchPoint = tip
	tip.IsBranchPoint = true
	s.views[cs.Branch] = s.views[parent].snapshot()
	s.starts[cs.Branch] = cs
	emit(s.sink, LogSEQUENCE, "branch-started", F{"branch": cs.Branch, "parent": parent},
		"branch %s cut from %s at %s", cs.Branch, parent, tip)
}

// tip returns a branch's tip, starting the branch with an empty
// placeholder changeset when nothing has happened on it yet.
func (s *sequencer) tip(branch string, when time.Time) *ChangeSet {
	if t := s.tips[branch]; t != nil {
		return t
	}
	ph := &ChangeSet{Branch: branch, Start: when, Finish: when, Synthetic: true}
	s.start(ph)
	s.number(ph)
	s.tips[branch] = ph
	emit(s.sink, LogSEQUENCE, "branch-placeholder", F{"branch": branch, "changeset": ph.ID},
		"placeholder %s starts %s", ph, branch)
	return ph
}

// breaks finds an incomplete label that applying cs now would ruin.
func (s *sequencer) breaks(cs *ChangeSet) *LabelInfo {
	for _, e := range cs.Entries {
		if l := s.supersedes(cs.Branch, e.Version, nil); l != nil {
			return l
		}
	}
	for _, b := range s.spawning(cs.Branch) {
		for _, l := range s.labels.byBranch[b] {
			if l.active() && s.missingAbove(l, b) {
				return l
			}
		}
	}
	return nil
}

// supersedes finds an incomplete label that currently sees an element
// at the version it wants through branch, and that v would move away.
// With only set, just that label is considered.
func (s *sequencer) supersedes(branch string, v *vgraph.Version, only *LabelInfo) *LabelInfo {
	id := v.Key.Element
	for _, l := range s.labels.byElement[id] {
		if !l.active() || (only != nil && l != only) {
			continue
		}
		want := l.Required[id]
		if want == v.Key || !s.exposed(l, branch) {
			continue
		}
		if cur, ok := s.peek(branch, id); ok && cur.Known && cur.Version == want {
			return l
		}
	}
	return nil
}

// exposed tells whether changes on branch still flow into the label's
// view, and the label still waits for versions there.
func (s *sequencer) exposed(l *LabelInfo, branch string) bool {
	pos := l.onChain(branch)
	if pos < 0 || (pos > 0 && s.started(l.Chain[pos-1])) {
		return false
	}
	for it := l.Missing.Iterator(); it.Next(); {
		k := it.Value()
		if k.Branch == branch {
			return true
		}
		if kp := l.onChain(k.Branch); kp >= 0 && kp < pos && !s.started(k.Branch) {
			return true
		}
	}
	return false
}

// missingAbove tells whether the label still waits for versions on a
// branch b descends from.
func (s *sequencer) missingAbove(l *LabelInfo, b string) bool {
	pos := l.onChain(b)
	for it := l.Missing.Iterator(); it.Next(); {
		if l.onChain(it.Value().Branch) > pos {
			return true
		}
	}
	return false
}

// shallowest returns the topmost unstarted branch on the way from the
// root down to branch.
func (s *sequencer) shallowest(branch string) string {
	sp := s.spawning(branch)
	if len(sp) == 0 {
		return branch
	}
	return sp[len(sp)-1]
}

// repair tries to save a label from cs by applying, ahead of it, the
// pending changesets that deliver what the label misses. When that
// cannot work the label is abandoned.
func (s *sequencer) repair(cs *ChangeSet, l *LabelInfo) {
	deadline := cs.Finish.Add(s.window)
	spawned := newStringSet(s.spawning(cs.Branch)...)
	want := make(map[*ChangeSet]bool)
	for it := l.Missing.Iterator(); it.Next(); {
		k := it.Value()
		if cs.holds(k) {
			continue
		}
		var p *ChangeSet
		if s.started(k.Branch) {
			if pos := l.onChain(k.Branch); pos > 0 && s.started(l.Chain[pos-1]) {
				s.labels.abandon(l, "label-abandoned", "label %s needs %s, which can no longer reach %s", l.Name, k, l.View)
				return
			}
			p = s.byVersion[k]
		} else {
			top := s.shallowest(k.Branch)
			if spawned.Contains(top) {
				continue
			}
			if p = s.firstPending(top); p == nil {
				p = s.firstPending(k.Branch)
			}
		}
		if p == nil {
			panic(throw("fatal", ErrLabelVersionsMissing, "label %s needs %s", l.Name, k))
		}
		if p.Start.After(deadline) {
			s.labels.abandon(l, "label-abandoned", "label %s needs %s, due more than %s after %s",
				l.Name, k, s.window, cs)
			return
		}
		want[p] = true
	}
	if len(want) == 0 {
		s.labels.abandon(l, "label-abandoned", "nothing can be applied before %s to save label %s", cs, l.Name)
		return
	}

	// Earlier versions of the same elements on the same branch come along.
	queue := make([]*ChangeSet, 0, len(want))
	for p := range want {
		queue = append(queue, p)
	}
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		for _, q := range s.pendingOn[p.Branch] {
			if s.slot[q] >= s.slot[p] {
				break
			}
			if !q.pending || want[q] {
				continue
			}
			for _, e := range p.Entries {
				if qe := q.entry(e.Key().Element); qe != nil && qe.Key().Number < e.Key().Number {
					want[q] = true
					queue = append(queue, q)
					break
				}
			}
		}
	}
	if want[cs] {
		s.labels.abandon(l, "label-abandoned", "label %s would need %s to come after versions it precedes", l.Name, cs)
		return
	}
	for _, q := range queue {
		for _, e := range q.Entries {
			if s.supersedes(q.Branch, e.Version, l) != nil {
				s.labels.abandon(l, "label-abandoned", "versions label %s needs come with %s, which breaks it", l.Name, e.Key())
				return
			}
		}
	}
	sort.Slice(queue, func(i, j int) bool {
		pi, pj := l.onChain(queue[i].Branch), l.onChain(queue[j].Branch)
		if pi != pj {
			return pi > pj
		}
		return s.slot[queue[i]] < s.slot[queue[j]]
	})
	emit(s.sink, LogSEQUENCE, "label-reorder", F{"label": l.Name, "pulled": len(queue), "before": cs.String()},
		"applying %d changesets ahead of %s for label %s", len(queue), cs, l.Name)
	for _, q := range queue {
		s.take(q)
		s.apply(q)
	}
}

// lost returns the versions that never became visible.
func (s *sequencer) lost() map[vgraph.Key]bool {
	keys := make([]vgraph.Key, 0, len(s.orphans))
	for k := range s.orphans {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	for _, k := range keys {
		emit(s.sink, LogWARN|LogNAMING, "version-lost", F{"version": k.String()},
			"%s never appears in any directory", k)
	}
	return s.orphans
}
