// SPDX-License-Identifier: BSD-2-Clause

package fastimport

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	difflib "github.com/ianbruene/go-difflib/difflib"
	"github.com/sirupsen/logrus/hooks/test"

	"gitlab.com/cc2git/cc2git/history"
	"gitlab.com/cc2git/cc2git/vgraph"
)

func assertEqual(t *testing.T, a string, b string) {
	t.Helper()
	if a != b {
		t.Errorf("assertEqual: expected %q == %q", a, b)
	}
}

func assertTrue(t *testing.T, see bool) {
	t.Helper()
	if !see {
		t.Errorf("assertTrue: expected true")
	}
}

// assertStream shows a unified diff when generated stream text differs.
func assertStream(t *testing.T, want, got string) {
	t.Helper()
	if want == got {
		return
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "expected",
		ToFile:   "generated",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	t.Errorf("stream differs:\n%s", text)
}

type stringBlobs map[string]string

func (sb stringBlobs) Open(v *vgraph.Version) (io.ReadCloser, int64, error) {
	s, ok := sb[v.Content]
	if !ok {
		return nil, 0, errors.New("no such blob")
	}
	return io.NopCloser(strings.NewReader(s)), int64(len(s)), nil
}

func at(secs int64) time.Time {
	return time.Unix(1000000000+secs, 0).UTC()
}

func file(id string, n int, comment, content string, names ...string) *history.Entry {
	v := &vgraph.Version{
		Key:     vgraph.Key{Element: vgraph.ElementID(id), Branch: "main", Number: n},
		Comment: comment,
		Content: content,
	}
	return &history.Entry{Version: v, Kind: vgraph.File, Names: names}
}

func sampleHistory() *history.History {
	first := &history.ChangeSet{ID: 1, Author: "Ann Smith", Login: "ann", Branch: "main", Start: at(0),
		Entries: []*history.Entry{
			file("A", 1, "first", "blob-a1", "a.txt"),
			{Version: &vgraph.Version{Key: vgraph.Key{Element: "R", Branch: "main", Number: 1}, Comment: "first"},
				Kind: vgraph.Dir, Names: []string{""}},
		}}
	second := &history.ChangeSet{ID: 2, Login: "bob", Branch: "REL1", Start: at(100),
		BranchPoint: first,
		Entries:     []*history.Entry{file("B", 1, "  \n", "blob-b1", "x/b", "y b")},
		Ops:         []history.TreeOp{{Kind: history.OpRename, Source: "old", Path: "new"}},
	}
	link := &history.Entry{
		Version: &vgraph.Version{Key: vgraph.Key{Element: "L", Branch: "main", Number: 1}, Target: "a.txt"},
		Kind:    vgraph.Symlink,
		Names:   []string{"l"},
	}
	third := &history.ChangeSet{ID: 3, Author: "Ann Smith", Login: "ann", Branch: "main", Start: at(200),
		Entries: []*history.Entry{file("A", 2, "merge back", "blob-a2", "a.txt"), link},
		Skipped: []*vgraph.Version{{Comment: "merge back"}},
		Merges:  []*history.ChangeSet{second},
		Ops:     []history.TreeOp{{Kind: history.OpDelete, Path: "gone dir", Dir: true}},
	}
	return &history.History{
		Root:       "main",
		ChangeSets: []*history.ChangeSet{first, second, third},
		Labels: []*history.LabelInfo{
			{Name: "BL1", Complete: true, Owner: third},
			{Name: "BL2"},
		},
	}
}

const sampleStream = `commit refs/heads/master
mark :1
author Ann Smith <ann@example.com> 1000000000 +0000
committer Conversion Robot <robot@cc2git.invalid> 1000000000 +0000
data 6
first
M 100644 inline a.txt
data 5
hello

commit refs/heads/REL1
mark :2
author bob <bob@example.com> 1000000100 +0000
committer Conversion Robot <robot@cc2git.invalid> 1000000100 +0000
data 41
3 file/tree modifications: new, x/b, y b
from :1
R "old" new
M 100644 inline x/b
data 2
b

M 100644 inline "y b"
data 2
b


commit refs/heads/master
mark :3
author Ann Smith <ann@example.com> 1000000200 +0000
committer Conversion Robot <robot@cc2git.invalid> 1000000200 +0000
data 11
merge back
merge :2
D "gone dir"
M 100644 inline a.txt
data 3
bye
M 120000 inline l
data 5
a.txt

reset refs/tags/BL1
from :3

`

func TestSave(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var out strings.Builder
	w := NewWriter(&out, Options{
		Committer:   TestIdentity,
		EmailDomain: "example.com",
		Blobs:       stringBlobs{"blob-a1": "hello", "blob-a2": "bye", "blob-b1": "b\n"},
		Logger:      logger,
	})
	if err := w.Save(sampleHistory()); err != nil {
		t.Fatal(err)
	}
	assertStream(t, sampleStream, out.String())
	entry := hook.LastEntry()
	assertTrue(t, entry != nil)
	assertEqual(t, entry.Message, "fast-import stream written")
	assertTrue(t, entry.Data["commits"] == 3)
	assertTrue(t, entry.Data["tags"] == 1)
}

func TestSaveContinuesInheritedTips(t *testing.T) {
	h := &history.History{
		Root: "main",
		ChangeSets: []*history.ChangeSet{
			{ID: 8, Login: "ann", Branch: "main", Start: at(0), Entries: []*history.Entry{file("A", 3, "c1", "x", "a")}},
			{ID: 9, Login: "ann", Branch: "main", Start: at(60), Entries: []*history.Entry{file("A", 4, "c2", "x", "a")}},
		},
		Inherited: map[string]int{"main": 7},
	}
	logger, _ := test.NewNullLogger()
	var out strings.Builder
	w := NewWriter(&out, Options{DefaultBranch: "trunk", Committer: TestIdentity, Blobs: stringBlobs{"x": ""}, Logger: logger})
	if err := w.Save(h); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	assertTrue(t, strings.Count(s, "from :7\n") == 1)
	assertTrue(t, strings.Count(s, "commit refs/heads/trunk\n") == 2)
	assertTrue(t, strings.Contains(s, "author ann <ann> 1000000060 +0000\n"))
}

func TestSaveMissingBlob(t *testing.T) {
	h := &history.History{
		Root: "main",
		ChangeSets: []*history.ChangeSet{
			{ID: 1, Login: "ann", Branch: "main", Start: at(0), Entries: []*history.Entry{file("A", 1, "c", "nope", "a")}},
		},
	}
	logger, _ := test.NewNullLogger()
	w := NewWriter(io.Discard, Options{Committer: TestIdentity, Blobs: stringBlobs{}, Logger: logger})
	err := w.Save(h)
	assertTrue(t, err != nil && strings.Contains(err.Error(), "A@main/1"))
}

func TestRefName(t *testing.T) {
	for _, item := range []struct{ in, out string }{
		{"REL1", "REL1"},
		{"REL 1~x", "REL_1_x"},
		{"a..b", "a_.b"},
		{"dev.lock", "dev"},
		{"p:q^r", "p_q_r"},
		{"", "_"},
	} {
		assertEqual(t, RefName(item.in), item.out)
	}
}

func TestSummary(t *testing.T) {
	cs := &history.ChangeSet{Branch: "main"}
	for _, n := range []string{"e", "d", "c", "b", "a"} {
		cs.Entries = append(cs.Entries, file(n, 1, "", "", n))
	}
	assertEqual(t, Summary(cs), "5 file/tree modifications: a, b, c +2 more\n")
	cs.Entries[2].Version.Comment = "fix\n"
	cs.Entries[4].Version.Comment = "fix\n"
	cs.Entries[0].Version.Comment = "tidy"
	assertEqual(t, Summary(cs), "tidy\n\nfix\n")
	assertEqual(t, Summary(&history.ChangeSet{Branch: "REL1", Synthetic: true}), "Start of branch REL1\n")
	assertEqual(t, Summary(&history.ChangeSet{Branch: "main", Merges: []*history.ChangeSet{{}}}), "Merge into main\n")
}

func TestDirBlobs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "c"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "c", "a.txt"), []byte("content\n"), 0644); err != nil {
		t.Fatal(err)
	}
	blobs := DirBlobs{Root: root}
	rc, size, err := blobs.Open(&vgraph.Version{Content: "c/a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	assertEqual(t, string(data), "content\n")
	assertTrue(t, size == 8)
	_, size, err = blobs.Open(&vgraph.Version{})
	assertTrue(t, err == nil && size == 0)
	_, _, err = blobs.Open(&vgraph.Version{Content: "../etc/passwd"})
	assertTrue(t, err != nil)
	_, _, err = blobs.Open(&vgraph.Version{Content: "c"})
	assertTrue(t, err != nil)
}
