/*
 * Set types used by the engine's bookkeeping.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package history

import (
	"sort"
	"strings"

	orderedset "github.com/emirpasic/gods/sets/linkedhashset"

	"gitlab.com/cc2git/cc2git/vgraph"
)

type stringSet struct {
	store map[string]bool
}

func newStringSet(elements ...string) stringSet {
	var ns stringSet
	ns.store = make(map[string]bool, len(elements))
	for _, el := range elements {
		ns.store[el] = true
	}
	return ns
}

func (s stringSet) Contains(item string) bool {
	return s.store[item]
}

func (s *stringSet) Remove(item string) {
	delete(s.store, item)
}

func (s *stringSet) Add(item string) {
	s.store[item] = true
}

func (s stringSet) Len() int {
	return len(s.store)
}

func (s stringSet) Subtract(other stringSet) stringSet {
	diff := newStringSet()
	for item := range s.store {
		if !other.store[item] {
			diff.store[item] = true
		}
	}
	return diff
}

// Ordered returns the members in sorted order.
func (s stringSet) Ordered() []string {
	out := make([]string, 0, len(s.store))
	for item := range s.store {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func (s stringSet) String() string {
	return "[" + strings.Join(s.Ordered(), ", ") + "]"
}

// keySet is an insertion-ordered set of version keys.
type keySet struct{ set *orderedset.Set }

type keySetIt struct{ orderedset.Iterator }

func (x *keySetIt) Value() vgraph.Key {
	return x.Iterator.Value().(vgraph.Key)
}

func newKeySet(x ...vgraph.Key) *keySet {
	s := orderedset.New()
	for _, k := range x {
		s.Add(k)
	}
	return &keySet{s}
}

func (s keySet) Size() int {
	return s.set.Size()
}

func (s keySet) Empty() bool {
	return s.set.Empty()
}

func (s keySet) Iterator() keySetIt {
	return keySetIt{Iterator: s.set.Iterator()}
}

func (s keySet) Values() []vgraph.Key {
	v := make([]vgraph.Key, s.Size())
	it := s.Iterator()
	for it.Next() {
		v[it.Index()] = it.Value()
	}
	return v
}

func (s keySet) Contains(k vgraph.Key) bool {
	return s.set.Contains(k)
}

func (s *keySet) Remove(k vgraph.Key) bool {
	if s.Contains(k) {
		s.set.Remove(k)
		return true
	}
	return false
}

func (s *keySet) Add(k vgraph.Key) {
	s.set.Add(k)
}
