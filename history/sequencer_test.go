// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gitlab.com/cc2git/cc2git/vgraph"
)

func TestPlaceholderBranches(t *testing.T) {
	f := newFixture()
	f.version("R", "main", 1, 0, "ann", kids("a", "A"))
	f.version("A", "main", 1, 0, "ann")
	f.version("A", `main\REL1\REL1_FIX`, 1, 100, "bob")
	rec := &Recorder{}
	h, err := Convert(f.g, Config{Sink: rec})
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, len(h.ChangeSets), 3)
	ph := h.ChangeSets[1]
	assertTrue(t, ph.Synthetic)
	assertEqual(t, ph.Branch, "REL1")
	assertTrue(t, ph.BranchPoint == h.ChangeSets[0])
	fix := h.ChangeSets[2]
	assertEqual(t, fix.Branch, "REL1_FIX")
	assertTrue(t, fix.BranchPoint == ph)
	assertIntEqual(t, len(rec.Events("branch-placeholder")), 1)
}

func TestIDsFollowBranchStarts(t *testing.T) {
	f := newFixture()
	f.version("R", "main", 1, 0, "ann", kids("a", "A", "b", "B"))
	f.version("A", "main", 1, 0, "ann")
	f.version("B", "main", 1, 0, "ann")
	f.version("A", `main\REL1`, 1, 50, "bob")
	f.version("B", `main\REL1\FIX`, 1, 60, "cat")
	f.version("A", `main\REL2`, 1, 70, "dan")
	f.version("B", `main\REL1`, 2, 80, "bob")
	f.version("A", "main", 2, 90, "ann")
	h, _ := f.convert(t, Config{})
	first := make(map[string]*ChangeSet)
	for i, cs := range h.ChangeSets {
		assertIntEqual(t, cs.ID, i+1)
		if _, ok := first[cs.Branch]; !ok {
			first[cs.Branch] = cs
			if cs.Branch != "main" {
				assertTrue(t, cs.BranchPoint != nil)
			}
		}
		if cs.BranchPoint != nil {
			assertTrue(t, cs.BranchPoint.ID < cs.ID)
		}
	}
	assertIntEqual(t, len(first), 4)
}

func TestProgress(t *testing.T) {
	f := mergeFixture(200)
	var calls, total int
	_, err := Convert(f.g, Config{Progress: func(done, n int) {
		calls++
		total = n
	}})
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, calls, 4)
	assertIntEqual(t, total, 4)
}

func TestResume(t *testing.T) {
	f := newFixture()
	f.version("R", "main", 1, 0, "ann", kids("a", "A"))
	f.version("A", "main", 1, 0, "ann")
	first, _ := f.convert(t, Config{})
	assertIntEqual(t, first.LastID(), 1)

	f.version("A", "main", 2, 100, "ann")
	f.version("A", `main\REL1`, 1, 200, "bob")
	resume := &Resume{
		Tips:   map[string]int{"main": first.Tips["main"].ID},
		Views:  first.Views,
		LastID: first.LastID(),
	}
	subset := []vgraph.Key{key("A", "main", 2), key("A", "REL1", 1)}
	second, _ := f.convert(t, Config{Resume: resume, Subset: subset})
	want := []string{"main:A@main/2", "REL1:A@REL1/1"}
	if diff := cmp.Diff(want, trail(second)); diff != "" {
		t.Errorf("second run (-want +got):\n%s", diff)
	}
	assertIntEqual(t, second.ChangeSets[0].ID, 2)
	assertIntEqual(t, second.ChangeSets[1].ID, 3)
	// The continuing main changeset sees the old name.
	assertEqual(t, second.ChangeSets[0].Visible()[0].Names[0], "a")
	assertTrue(t, second.ChangeSets[1].BranchPoint == second.ChangeSets[0])
	assertIntEqual(t, second.LastID(), 3)
}

func TestResumeBranchFromExternalTip(t *testing.T) {
	f := newFixture()
	f.version("R", "main", 1, 0, "ann", kids("a", "A"))
	f.version("A", "main", 1, 0, "ann")
	first, _ := f.convert(t, Config{})
	f.version("A", `main\REL1`, 1, 200, "bob")
	resume := &Resume{Tips: map[string]int{"main": 1}, Views: first.Views, LastID: 1}
	second, _ := f.convert(t, Config{Resume: resume, Subset: []vgraph.Key{key("A", "REL1", 1)}})
	assertIntEqual(t, len(second.ChangeSets), 1)
	cs := second.ChangeSets[0]
	assertIntEqual(t, cs.ID, 2)
	assertTrue(t, cs.BranchPoint != nil && cs.BranchPoint.External)
	assertIntEqual(t, cs.BranchPoint.ID, 1)
	assertTrue(t, second.Tips["main"].External)
}

func TestResumeTipWithoutView(t *testing.T) {
	f := newFixture()
	f.version("R", "main", 1, 0, "ann", kids("a", "A"))
	f.version("A", "main", 1, 0, "ann")
	first, _ := f.convert(t, Config{})
	f.version("A", `main\REL1`, 1, 200, "bob")
	resume := &Resume{
		Tips:   map[string]int{"main": 1, "REL2": 1},
		Views:  first.Views,
		LastID: 1,
	}
	_, err := Convert(f.g, Config{Resume: resume, Subset: []vgraph.Key{key("A", "REL1", 1)}})
	assertError(t, err, ErrResume)
}
