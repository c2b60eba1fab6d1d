// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gitlab.com/cc2git/cc2git/vgraph"
)

func assertBool(t *testing.T, see bool, expect bool) {
	t.Helper()
	if see != expect {
		t.Errorf("assertBool: expected %v saw %v", expect, see)
	}
}

func assertTrue(t *testing.T, see bool) {
	t.Helper()
	assertBool(t, see, true)
}

func assertEqual(t *testing.T, a string, b string) {
	t.Helper()
	if a != b {
		t.Fatalf("assertEqual: expected %q == %q", a, b)
	}
}

func assertIntEqual(t *testing.T, a int, b int) {
	t.Helper()
	if a != b {
		t.Errorf("assertIntEqual: expected %d == %d", a, b)
	}
}

func assertError(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("assertError: expected %v, saw %v", target, err)
	}
}

var epoch = time.Date(2009, 6, 1, 9, 0, 0, 0, time.UTC)

func at(secs int) time.Time {
	return epoch.Add(time.Duration(secs) * time.Second)
}

// fixture builds small version graphs. The root line is main and the
// root directory is element R.
type fixture struct {
	g *vgraph.Graph
}

func newFixture() *fixture {
	g := vgraph.New("main", "R")
	g.Add(&vgraph.Element{ID: "R", Kind: vgraph.Dir})
	return &fixture{g: g}
}

func (f *fixture) dir(ids ...string) {
	for _, id := range ids {
		f.g.Add(&vgraph.Element{ID: vgraph.ElementID(id), Kind: vgraph.Dir})
	}
}

type option func(v *vgraph.Version)

func kids(pairs ...string) option {
	return func(v *vgraph.Version) {
		v.Children = make(map[string]vgraph.ElementID)
		for i := 0; i+1 < len(pairs); i += 2 {
			v.Children[pairs[i]] = vgraph.ElementID(pairs[i+1])
		}
	}
}

func labeled(labels ...string) option {
	return func(v *vgraph.Version) { v.Labels = append(v.Labels, labels...) }
}

func said(comment string) option {
	return func(v *vgraph.Version) { v.Comment = comment }
}

func mergedTo(id, branch string, n int) option {
	return func(v *vgraph.Version) {
		v.MergedTo = append(v.MergedTo, vgraph.Key{Element: vgraph.ElementID(id), Branch: branch, Number: n})
	}
}

func mergedFrom(id, branch string, n int) option {
	return func(v *vgraph.Version) {
		v.MergedFrom = append(v.MergedFrom, vgraph.Key{Element: vgraph.ElementID(id), Branch: branch, Number: n})
	}
}

// version adds version n of element id on the branch whose full name is
// given, checked in secs seconds after the epoch. Unknown elements are
// created as files.
func (f *fixture) version(id, full string, n, secs int, login string, opts ...option) *vgraph.Version {
	e := f.g.Element(vgraph.ElementID(id))
	if e == nil {
		e = &vgraph.Element{ID: vgraph.ElementID(id), Kind: vgraph.File}
		f.g.Add(e)
	}
	parts := strings.Split(full, vgraph.BranchSep)
	v := &vgraph.Version{
		Key:     vgraph.Key{Branch: parts[len(parts)-1], Number: n},
		Author:  login,
		Login:   login,
		Time:    at(secs),
		Content: id + "-" + parts[len(parts)-1],
	}
	for _, o := range opts {
		o(v)
	}
	e.AddVersion(full, nil, v)
	return v
}

func key(id, branch string, n int) vgraph.Key {
	return vgraph.Key{Element: vgraph.ElementID(id), Branch: branch, Number: n}
}

// convert runs the whole engine with a recording sink.
func (f *fixture) convert(t *testing.T, cfg Config) (*History, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	cfg.Sink = rec
	h, err := Convert(f.g, cfg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return h, rec
}

// trail renders a history compactly for comparisons.
func trail(h *History) []string {
	var out []string
	for _, cs := range h.ChangeSets {
		var parts []string
		for _, e := range cs.Entries {
			parts = append(parts, e.Key().String())
		}
		out = append(out, cs.Branch+":"+strings.Join(parts, ","))
	}
	return out
}

func find(h *History, k vgraph.Key) *ChangeSet {
	for _, cs := range h.ChangeSets {
		for _, v := range cs.Versions() {
			if v.Key == k {
				return cs
			}
		}
	}
	return nil
}
