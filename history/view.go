/*
 * Copy-on-write element views
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package history

import (
	"hash/fnv"
	"sort"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// ViewEntry is what one branch currently sees of one element: the paths
// it is visible under and the version it is at. Names are kept sorted.
type ViewEntry struct {
	Names   []string
	Version vgraph.Key
	Known   bool // Version is meaningful
}

func (e ViewEntry) named() bool {
	return len(e.Names) > 0
}

func (e ViewEntry) hasName(path string) bool {
	i := sort.SearchStrings(e.Names, path)
	return i < len(e.Names) && e.Names[i] == path
}

// withName returns a copy of e carrying one more name. The receiver's
// slice may be shared with snapshots and is never written to.
func (e ViewEntry) withName(path string) ViewEntry {
	if e.hasName(path) {
		return e
	}
	names := make([]string, 0, len(e.Names)+1)
	names = append(names, e.Names...)
	names = append(names, path)
	sort.Strings(names)
	e.Names = names
	return e
}

func (e ViewEntry) withoutName(path string) ViewEntry {
	if !e.hasName(path) {
		return e
	}
	names := make([]string, 0, len(e.Names)-1)
	for _, n := range e.Names {
		if n != path {
			names = append(names, n)
		}
	}
	e.Names = names
	return e
}

// A View maps element identities to ViewEntry values for one branch.
//
// Branches spawn by copying their parent's view, and a repository has a
// great many branches, so the map is split into buckets that a snapshot
// shares with its source. A shared bucket is considered immutable and
// is copied before any modification.
type View struct {
	buckets [viewBuckets]*viewBucket
}

const viewBuckets = 64

type viewBucket struct {
	entries map[vgraph.ElementID]ViewEntry
	shared  bool
}

func newViewBucket() *viewBucket {
	return &viewBucket{entries: make(map[vgraph.ElementID]ViewEntry)}
}

// _unshare returns a bucket that can be modified without affecting any
// other view.
func (b *viewBucket) _unshare() *viewBucket {
	if !b.shared {
		return b
	}
	r := &viewBucket{entries: make(map[vgraph.ElementID]ViewEntry, len(b.entries))}
	for k, v := range b.entries {
		r.entries[k] = v
	}
	return r
}

func newView() *View {
	v := new(View)
	for i := range v.buckets {
		v.buckets[i] = newViewBucket()
	}
	return v
}

// snapshot returns a view with the same contents. Both views go on
// sharing every bucket until one of them writes to it.
func (v *View) snapshot() *View {
	r := new(View)
	for i, b := range v.buckets {
		b.shared = true
		r.buckets[i] = b
	}
	return r
}

func bucketOf(id vgraph.ElementID) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % viewBuckets)
}

func (v *View) get(id vgraph.ElementID) (ViewEntry, bool) {
	e, ok := v.buckets[bucketOf(id)].entries[id]
	return e, ok
}

func (v *View) set(id vgraph.ElementID, e ViewEntry) {
	i := bucketOf(id)
	b := v.buckets[i]._unshare()
	v.buckets[i] = b
	if !e.named() && !e.Known {
		delete(b.entries, id)
		return
	}
	b.entries[id] = e
}

// Len is the number of elements the view knows anything about.
func (v *View) Len() int {
	n := 0
	for _, b := range v.buckets {
		n += len(b.entries)
	}
	return n
}

// Get returns the view's entry for an element.
func (v *View) Get(id vgraph.ElementID) (ViewEntry, bool) {
	return v.get(id)
}

// Entries copies the view out, for persistence.
func (v *View) Entries() map[vgraph.ElementID]ViewEntry {
	out := make(map[vgraph.ElementID]ViewEntry, v.Len())
	for _, b := range v.buckets {
		for id, e := range b.entries {
			out[id] = e
		}
	}
	return out
}

// IDs returns the identities the view knows, sorted.
func (v *View) IDs() []vgraph.ElementID {
	out := make([]vgraph.ElementID, 0, v.Len())
	for _, b := range v.buckets {
		for id := range b.entries {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ViewFrom rebuilds a view from persisted entries.
func ViewFrom(entries map[vgraph.ElementID]ViewEntry) *View {
	v := newView()
	for id, e := range entries {
		if !sort.StringsAreSorted(e.Names) {
			names := append([]string(nil), e.Names...)
			sort.Strings(names)
			e.Names = names
		}
		v.set(id, e)
	}
	return v
}
