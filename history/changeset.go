// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"fmt"
	"sort"
	"time"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// OpKind says what a tree operation does.
type OpKind uint8

const (
	// OpRename moves Source to Path.
	OpRename OpKind = iota
	// OpCopy duplicates Source at Path.
	OpCopy
	// OpDelete removes Path.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpRename:
		return "rename"
	case OpCopy:
		return "copy"
	}
	return "delete"
}

// TreeOp is a path-level change a changeset makes besides file content.
type TreeOp struct {
	Kind   OpKind
	Source string // empty for deletions
	Path   string
	Dir    bool
}

func (op TreeOp) String() string {
	if op.Kind == OpDelete {
		return fmt.Sprintf("delete %s", op.Path)
	}
	return fmt.Sprintf("%s %s -> %s", op.Kind, op.Source, op.Path)
}

// Entry is one version in a changeset together with the display names
// it is visible under once the changeset has been sequenced. Raw is
// true until naming has resolved the version to at least one path.
type Entry struct {
	Version *vgraph.Version
	Kind    vgraph.Kind
	Names   []string
	Raw     bool
	// Revealed entries belong to an earlier changeset; this one only
	// gave them their first name.
	Revealed bool
}

// Key is shorthand for the entry's version key.
func (e *Entry) Key() vgraph.Key {
	return e.Version.Key
}

// Visible tells whether the entry carries file content at some path.
func (e *Entry) Visible() bool {
	return !e.Raw && e.Kind != vgraph.Dir && len(e.Names) > 0
}

// ChangeSet is a group of versions committed together on one branch
// by one author.
type ChangeSet struct {
	ID     int
	Author string
	Login  string
	Branch string
	Start  time.Time
	Finish time.Time
	// Entries are the versions the changeset changes, in time order.
	Entries []*Entry
	// Skipped versions change nothing but carry labels or merge edges.
	Skipped []*vgraph.Version
	// BranchPoint is where this changeset's branch was cut, set only
	// on the first changeset of a non-root branch.
	BranchPoint   *ChangeSet
	IsBranchPoint bool
	Merges        []*ChangeSet
	Ops           []TreeOp
	Labels        []string
	// Synthetic changesets exist only to start a branch.
	Synthetic bool
	// External changesets stand for tips emitted by an earlier run.
	External bool

	mergeSource bool
	pending     bool
}

func (cs *ChangeSet) String() string {
	return fmt.Sprintf("%s#%d(%s %s)", cs.Branch, cs.ID, cs.Login, cs.Start.UTC().Format(time.RFC3339))
}

func newChangeSet(v *vgraph.Version, kind vgraph.Kind) *ChangeSet {
	cs := &ChangeSet{
		Author: v.Author,
		Login:  v.Login,
		Branch: v.Key.Branch,
		Start:  v.Time,
		Finish: v.Time,
	}
	cs.add(v, kind)
	return cs
}

// carriesOnly tells whether a version only matters for its labels and
// merge edges: branching points and the empty initial directory.
func carriesOnly(v *vgraph.Version, kind vgraph.Kind, root string) bool {
	return v.Key.Number == 0 && (kind == vgraph.Dir || v.Key.Branch != root)
}

func (cs *ChangeSet) widen(t time.Time) {
	if t.Before(cs.Start) {
		cs.Start = t
	}
	if t.After(cs.Finish) {
		cs.Finish = t
	}
}

func (cs *ChangeSet) skip(v *vgraph.Version) {
	if len(v.Labels) > 0 || v.HasMerges() {
		cs.Skipped = append(cs.Skipped, v)
	}
}

// add puts a content version into the changeset. When the changeset
// already holds a version of the same element, the higher-numbered one
// stays an entry and the other is skipped.
func (cs *ChangeSet) add(v *vgraph.Version, kind vgraph.Kind) {
	cs.widen(v.Time)
	for i, e := range cs.Entries {
		if e.Version.Key.Element != v.Key.Element {
			continue
		}
		if e.Version.Key.Number > v.Key.Number {
			cs.skip(v)
			return
		}
		cs.skip(e.Version)
		cs.Entries = append(cs.Entries[:i], cs.Entries[i+1:]...)
		break
	}
	cs.Entries = append(cs.Entries, &Entry{Version: v, Kind: kind, Raw: true})
	sort.SliceStable(cs.Entries, func(i, j int) bool {
		a, b := cs.Entries[i].Version, cs.Entries[j].Version
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Key.Element < b.Key.Element
	})
}

// addCarrier records a version that only carries labels or merges.
func (cs *ChangeSet) addCarrier(v *vgraph.Version) {
	cs.widen(v.Time)
	cs.Skipped = append(cs.Skipped, v)
}

// absorb folds other into cs.
func (cs *ChangeSet) absorb(other *ChangeSet) {
	for _, e := range other.Entries {
		cs.add(e.Version, e.Kind)
	}
	for _, v := range other.Skipped {
		cs.addCarrier(v)
	}
	cs.widen(other.Start)
	cs.widen(other.Finish)
}

// Versions returns every version the changeset sequences.
func (cs *ChangeSet) Versions() []*vgraph.Version {
	out := make([]*vgraph.Version, 0, len(cs.Entries)+len(cs.Skipped))
	for _, e := range cs.Entries {
		if !e.Revealed {
			out = append(out, e.Version)
		}
	}
	return append(out, cs.Skipped...)
}

func (cs *ChangeSet) entry(id vgraph.ElementID) *Entry {
	for _, e := range cs.Entries {
		if e.Version.Key.Element == id && !e.Revealed {
			return e
		}
	}
	return nil
}

func (cs *ChangeSet) holds(k vgraph.Key) bool {
	for _, v := range cs.Versions() {
		if v.Key == k {
			return true
		}
	}
	return false
}

// Visible returns the entries carrying file content.
func (cs *ChangeSet) Visible() []*Entry {
	var out []*Entry
	for _, e := range cs.Entries {
		if e.Visible() {
			out = append(out, e)
		}
	}
	return out
}

// Comments returns the distinct non-blank comments of the changeset's
// versions in entry order.
func (cs *ChangeSet) Comments() []string {
	seen := newStringSet()
	var out []string
	for _, v := range cs.Versions() {
		c := v.Comment
		if emptyComment(c) || seen.Contains(c) {
			continue
		}
		seen.Add(c)
		out = append(out, c)
	}
	return out
}

// IsEmpty tells whether emitting the changeset would record nothing.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Visible()) == 0 && len(cs.Ops) == 0 && len(cs.Labels) == 0 &&
		!cs.IsBranchPoint && len(cs.Merges) == 0 && !cs.mergeSource
}

func emptyComment(c string) bool {
	for _, r := range c {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
