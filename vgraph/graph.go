// Package vgraph holds the version graph of a legacy repository: elements,
// their per-branch version lines, merge edges and label attachments.
//
// The graph is an arena. Elements own their branches and branches own
// their versions, but every other relation (branching points, merge
// edges) is expressed as a Key that has to be looked up through the
// Graph. Nothing points back up the ownership tree.
//
// SPDX-License-Identifier: BSD-2-Clause
package vgraph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BranchSep separates branch names in a branch's full name.
const BranchSep = `\`

// Kind says what sort of thing an element is.
type Kind uint8

const (
	// File elements have content.
	File Kind = iota
	// Dir elements have children.
	Dir
	// Symlink elements have a target.
	Symlink
)

func (k Kind) String() string {
	switch k {
	case Dir:
		return "directory"
	case Symlink:
		return "symlink"
	}
	return "file"
}

// ElementID is the stable identity of an element. It survives renames.
type ElementID string

// Key addresses one version of one element on one branch.
type Key struct {
	Element ElementID
	Branch  string
	Number  int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s/%d", k.Element, k.Branch, k.Number)
}

// IsZero reports whether this is version 0 of its branch.
func (k Key) IsZero() bool {
	return k.Number == 0
}

// Version is one immutable revision of an element on a branch.
type Version struct {
	Key        Key
	Author     string
	Login      string
	Time       time.Time
	Comment    string
	Labels     []string
	MergedFrom []Key // versions merged into this one
	MergedTo   []Key // versions this one was merged into
	// Content is an opaque reference the stream writer resolves to bytes.
	Content string
	// Target is the link target of a symlink version.
	Target string
	// Children maps entry names to element identities for directories.
	Children map[string]ElementID
}

// HasMerges tells whether the version takes part in any merge edge.
func (v *Version) HasMerges() bool {
	return len(v.MergedFrom) > 0 || len(v.MergedTo) > 0
}

// HasLabel tells whether the version carries the named label.
func (v *Version) HasLabel(label string) bool {
	for _, l := range v.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Branch is one named line of development of one element.
type Branch struct {
	Element  ElementID
	Name     string
	FullName string
	// Origin is the branching point, nil for the root line.
	Origin   *Key
	Versions []*Version
}

// Version returns the version with the given number, or nil.
func (b *Branch) Version(n int) *Version {
	// Numbers are ascending but may have holes where versions were removed.
	i := sort.Search(len(b.Versions), func(i int) bool {
		return b.Versions[i].Key.Number >= n
	})
	if i < len(b.Versions) && b.Versions[i].Key.Number == n {
		return b.Versions[i]
	}
	return nil
}

// ParentName returns the name of the branch this one was cut from
// according to its full name, or "" for the root line.
func (b *Branch) ParentName() string {
	parts := strings.Split(b.FullName, BranchSep)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// Depth is the number of branch hops from the root line in the full name.
func (b *Branch) Depth() int {
	return strings.Count(b.FullName, BranchSep)
}

// Element is a versioned file, directory or symlink.
type Element struct {
	ID       ElementID
	Kind     Kind
	Path     string // informational, as first seen by the reader
	Digest   string
	Branches map[string]*Branch
}

// IsDir is a convenience predicate.
func (e *Element) IsDir() bool {
	return e.Kind == Dir
}

// BranchNames returns the element's branch names in sorted order.
func (e *Element) BranchNames() []string {
	names := make([]string, 0, len(e.Branches))
	for name := range e.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Graph is the whole version graph of a repository.
type Graph struct {
	RootBranch string
	RootDir    ElementID
	elements   map[ElementID]*Element
	order      []ElementID
}

// New makes an empty graph whose root line and root directory are given.
func New(rootBranch string, rootDir ElementID) *Graph {
	return &Graph{
		RootBranch: rootBranch,
		RootDir:    rootDir,
		elements:   make(map[ElementID]*Element),
	}
}

// Add registers an element. Adding an identity twice replaces it.
func (g *Graph) Add(e *Element) {
	if _, ok := g.elements[e.ID]; !ok {
		g.order = append(g.order, e.ID)
	}
	if e.Branches == nil {
		e.Branches = make(map[string]*Branch)
	}
	g.elements[e.ID] = e
}

// Element looks up an element by identity.
func (g *Graph) Element(id ElementID) *Element {
	return g.elements[id]
}

// Elements returns the elements in the order they were added.
func (g *Graph) Elements() []*Element {
	out := make([]*Element, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.elements[id])
	}
	return out
}

// Len is the number of elements.
func (g *Graph) Len() int {
	return len(g.order)
}

// Branch looks up one branch of one element.
func (g *Graph) Branch(id ElementID, name string) *Branch {
	if e := g.elements[id]; e != nil {
		return e.Branches[name]
	}
	return nil
}

// Version resolves a key.
func (g *Graph) Version(k Key) *Version {
	if b := g.Branch(k.Element, k.Branch); b != nil {
		return b.Version(k.Number)
	}
	return nil
}

// Kind returns the kind of the element a key belongs to.
func (g *Graph) Kind(id ElementID) Kind {
	if e := g.elements[id]; e != nil {
		return e.Kind
	}
	return File
}

// Walk calls hook on every version of every element, elements in
// insertion order, branches in name order, versions in number order.
func (g *Graph) Walk(hook func(e *Element, b *Branch, v *Version)) {
	for _, id := range g.order {
		e := g.elements[id]
		for _, name := range e.BranchNames() {
			b := e.Branches[name]
			for _, v := range b.Versions {
				hook(e, b, v)
			}
		}
	}
}

// AddVersion appends a version to the branch it names, creating the
// branch if needed. It keeps versions sorted by number.
func (e *Element) AddVersion(fullName string, origin *Key, v *Version) *Branch {
	if e.Branches == nil {
		e.Branches = make(map[string]*Branch)
	}
	b, ok := e.Branches[v.Key.Branch]
	if !ok {
		b = &Branch{Element: e.ID, Name: v.Key.Branch, FullName: fullName, Origin: origin}
		e.Branches[v.Key.Branch] = b
	}
	v.Key.Element = e.ID
	b.Versions = append(b.Versions, v)
	if n := len(b.Versions); n > 1 && b.Versions[n-2].Key.Number > v.Key.Number {
		sort.SliceStable(b.Versions, func(i, j int) bool {
			return b.Versions[i].Key.Number < b.Versions[j].Key.Number
		})
	}
	return b
}
