// SPDX-License-Identifier: BSD-2-Clause

package vgraph

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleDump = `# produced by a test
{"root_branch":"main","root_dir":"R"}
{"id":"R","kind":"directory","path":".","branches":[{"name":"main","full":"main","versions":[{"n":0,"time":"2009-06-01T09:00:00Z"},{"n":1,"author":"Ann","login":"ann","time":"2009-06-01T09:00:10Z","comment":"add a","children":{"a":"A"}}]}]}

{"id":"A","kind":"file","path":"a","branches":[{"name":"main","full":"main","versions":[{"n":1,"author":"Ann","login":"ann","time":"2009-06-01T09:00:10Z","comment":"café","content":"blob:1","labels":["BL1"]}]},{"name":"REL1","full":"main\\REL1","origin":{"branch":"main","n":1},"versions":[{"n":0,"time":"2009-06-02T09:00:00Z"},{"n":1,"login":"bob","time":"2009-06-02T10:00:00Z","merged_to":[{"branch":"main","n":2}]}]}]}
`

func TestRead(t *testing.T) {
	g, err := Read(strings.NewReader(sampleDump), Options{})
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, g.RootBranch, "main")
	assertEqual(t, string(g.RootDir), "R")
	assertIntEqual(t, g.Len(), 2)
	r := g.Element("R")
	assertTrue(t, r.IsDir())
	v := g.Version(Key{Element: "R", Branch: "main", Number: 1})
	assertEqual(t, string(v.Children["a"]), "A")
	a := g.Element("A")
	if diff := cmp.Diff([]string{"REL1", "main"}, a.BranchNames()); diff != "" {
		t.Errorf("branches (-want +got):\n%s", diff)
	}
	rel := a.Branches["REL1"]
	assertEqual(t, rel.FullName, `main\REL1`)
	assertEqual(t, rel.Origin.String(), "A@main/1")
	merged := g.Version(Key{Element: "A", Branch: "REL1", Number: 1}).MergedTo
	assertEqual(t, merged[0].String(), "A@main/2")
	assertTrue(t, a.Digest != "")
	assertEqual(t, g.Version(Key{Element: "A", Branch: "main", Number: 1}).Comment, "café")
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader(`{"id":"A"}`), Options{})
	assertTrue(t, errors.Is(err, ErrNoHeader))
	_, err = Read(strings.NewReader(""), Options{})
	assertTrue(t, errors.Is(err, ErrNoHeader))
	_, err = Read(strings.NewReader("{\"root_branch\":\"main\"}\n{\"id\":\"A\",\"kind\":\"socket\"}\n"), Options{})
	assertTrue(t, err != nil && strings.Contains(err.Error(), "line 2"))
	_, err = Read(strings.NewReader("{\"root_branch\":\"main\"}\n{\"id\":\"A\",\"branches\":[{\"name\":\"main\",\"versions\":[{\"n\":1,\"time\":\"yesterday\"}]}]}\n"), Options{})
	assertTrue(t, err != nil)
}

func TestWriteRoundTrip(t *testing.T) {
	g, err := Read(strings.NewReader(sampleDump), Options{})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, g); err != nil {
		t.Fatal(err)
	}
	again, err := Read(&buf, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(g.Elements(), again.Elements()); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")
	if err := os.WriteFile(path, []byte(sampleDump), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := LoadFile(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, g.Len(), 2)
}

func TestLoadCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph dump.jsonl")
	if err := os.WriteFile(path, []byte(sampleDump), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := LoadCommand(context.Background(), "cat '"+path+"'", Options{})
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, g.Len(), 2)
	_, err = LoadCommand(context.Background(), "", Options{})
	assertTrue(t, err != nil)
	_, err = LoadCommand(context.Background(), "false", Options{})
	assertTrue(t, err != nil)
}

func TestTranscoder(t *testing.T) {
	tc, err := NewTranscoder("ISO-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tc.Transcode("caf\xe9")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, out, "café")
	_, err = NewTranscoder("no-such-charset")
	assertTrue(t, err != nil)
}

func TestDigestStable(t *testing.T) {
	g, err := Read(strings.NewReader(sampleDump), Options{})
	if err != nil {
		t.Fatal(err)
	}
	a := g.Element("A")
	first := Digest(a)
	assertEqual(t, first, Digest(a))
	assertIntEqual(t, len(first), 64)
	a.Branches["main"].Versions[0].Comment = "changed"
	assertTrue(t, Digest(a) != first)
}
