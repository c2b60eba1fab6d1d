// SPDX-License-Identifier: BSD-2-Clause

package fastimport

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"gitlab.com/cc2git/cc2git/history"
)

const authorMap = `# contributors
ann = Ann Smith <ann@example.com> +0200
bob = Bob Jones <bob>

carl=Carl <carl@example.org> UTC
`

func TestReadAuthorMap(t *testing.T) {
	am, err := ReadAuthorMap(strings.NewReader(authorMap))
	if err != nil {
		t.Fatal(err)
	}
	want := AuthorMap{
		"ann":  {Login: "ann", FullName: "Ann Smith", Email: "ann@example.com", TZ: "+0200"},
		"bob":  {Login: "bob", FullName: "Bob Jones", Email: "bob"},
		"carl": {Login: "carl", FullName: "Carl", Email: "carl@example.org", TZ: "UTC"},
	}
	if diff := cmp.Diff(want, am); diff != "" {
		t.Errorf("author map (-want +got):\n%s", diff)
	}

	var out strings.Builder
	if err := am.Write(&out, true); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, out.String(), "bob = Bob Jones <bob>\n")

	am.Suffix("corp.example")
	assertEqual(t, am["bob"].Email, "bob@corp.example")
	assertEqual(t, am["ann"].Email, "ann@example.com")

	am.Observe("dave", "")
	am.Observe("ann", "Someone Else")
	assertEqual(t, am["dave"].String(), "dave = dave <dave>")
	assertEqual(t, am["ann"].FullName, "Ann Smith")
}

func TestReadAuthorMapErrors(t *testing.T) {
	_, err := ReadAuthorMap(strings.NewReader("ann Ann Smith\n"))
	assertTrue(t, err != nil && strings.Contains(err.Error(), "line 1"))
	_, err = ReadAuthorMap(strings.NewReader("\nann = Ann <a@b> Nowhere/Special\n"))
	assertTrue(t, err != nil && strings.Contains(err.Error(), "line 2"))
}

func TestSaveAppliesAuthorMap(t *testing.T) {
	am, err := ReadAuthorMap(strings.NewReader(authorMap))
	if err != nil {
		t.Fatal(err)
	}
	h := &history.History{
		Root: "main",
		ChangeSets: []*history.ChangeSet{
			{ID: 1, Author: "ann", Login: "ann", Branch: "main", Start: at(0), Entries: []*history.Entry{file("A", 1, "c", "x", "a")}},
		},
	}
	logger, _ := test.NewNullLogger()
	var out strings.Builder
	w := NewWriter(&out, Options{Committer: TestIdentity, Authors: am, Blobs: stringBlobs{"x": "x"}, Logger: logger})
	if err := w.Save(h); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	if !strings.Contains(s, "author Ann Smith <ann@example.com> 1000000000 +0200\n") {
		t.Errorf("author not mapped:\n%s", s)
	}
	if !strings.Contains(s, "committer Conversion Robot <robot@cc2git.invalid> 1000000000 +0000\n") {
		t.Errorf("committer should stay in UTC:\n%s", s)
	}
}
