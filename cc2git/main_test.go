// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/cc2git/cc2git/history"
)

func assertBool(t *testing.T, see bool, expect bool) {
	t.Helper()
	if see != expect {
		t.Errorf("assertBool: expected %v saw %v", expect, see)
	}
}

func assertIntEqual(t *testing.T, a int, b int) {
	t.Helper()
	if a != b {
		t.Errorf("assertIntEqual: expected %d == %d", a, b)
	}
}

func assertContains(t *testing.T, text, want string) {
	t.Helper()
	if !strings.Contains(text, want) {
		t.Errorf("expected %q in:\n%s", want, text)
	}
}

const dump = `{"root_branch":"main","root_dir":"R"}
{"id":"R","kind":"directory","path":".","branches":[{"name":"main","full":"main","versions":[{"n":0,"time":"2009-06-01T09:00:00Z"},{"n":1,"author":"Ann","login":"ann","time":"2009-06-01T09:00:10Z","comment":"add a","children":{"a":"A"}}]}]}
{"id":"A","kind":"file","path":"a","branches":[{"name":"main","full":"main","versions":[{"n":1,"author":"Ann","login":"ann","time":"2009-06-01T09:00:12Z","comment":"add a","content":"a.txt","labels":["BL1"]}]}]}
`

type workspace struct {
	dir    string
	output bytes.Buffer
	cv     *Converter
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	ws := &workspace{dir: t.TempDir()}
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(ws.dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("graph.jsonl", dump)
	write("a.txt", "hello\n")
	ws.cv = newConverter(context.Background(), &ws.output)
	ws.cv.DoSet("testmode")
	t.Cleanup(ws.cv.close)
	return ws
}

func (ws *workspace) path(name string) string {
	return filepath.Join(ws.dir, name)
}

// run calls a command handler the way the interpreter would, turning
// thrown command errors into a croak.
func (ws *workspace) run(handler func(string) bool, line string) {
	defer func() {
		if e := catch("command", recover()); e != nil {
			ws.cv.croak(e.message)
		}
	}()
	handler(line)
	ws.cv.baton.Sync()
}

func TestConvert(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	cv.cfg.Content = ws.dir
	cv.cfg.EmailDomain = "example.com"
	ws.run(cv.DoRootname, "trunk")
	ws.run(cv.DoRead, ws.path("graph.jsonl"))
	ws.run(cv.DoSequence, "")
	ws.run(cv.DoWrite, ws.path("out.fi"))
	assertBool(t, cv.abort, false)

	data, err := os.ReadFile(ws.path("out.fi"))
	if err != nil {
		t.Fatal(err)
	}
	stream := string(data)
	assertContains(t, stream, "commit refs/heads/trunk\nmark :1\nauthor Ann <ann@example.com> ")
	assertContains(t, stream, "committer Conversion Robot <robot@cc2git.invalid> ")
	assertContains(t, stream, "data 6\nadd a\n")
	assertContains(t, stream, "M 100644 inline a\ndata 6\nhello\n")
	assertContains(t, stream, "reset refs/tags/BL1\nfrom :1\n")

	ws.run(cv.DoReport, "labels branches")
	assertContains(t, ws.output.String(), "label BL1: complete at :1")
	assertContains(t, ws.output.String(), "branch main from - tip :1")
}

func TestIncremental(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	cv.cfg.Content = ws.dir
	ws.run(cv.DoState, ws.path("state.db"))
	assertContains(t, ws.output.String(), "starts from scratch")
	ws.run(cv.DoRead, ws.path("graph.jsonl"))
	ws.run(cv.DoSequence, "")
	ws.run(cv.DoWrite, ws.path("first.fi"))
	assertBool(t, cv.abort, false)
	assertIntEqual(t, cv.resume.LastID, 1)
	assertIntEqual(t, cv.resume.Tips["main"], 1)

	ws.run(cv.DoSequence, "")
	assertIntEqual(t, len(cv.hist.ChangeSets), 0)
	ws.run(cv.DoWrite, ws.path("second.fi"))
	runs, err := cv.store.Runs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, len(runs), 2)
	assertIntEqual(t, runs[1].Commits, 0)

	// Reopening copies the database aside first.
	ws.run(cv.DoState, ws.path("state.db"))
	_, err = os.Stat(ws.path("state.db.bak"))
	assertBool(t, err == nil, true)
	assertContains(t, ws.output.String(), "resuming after mark 1")
}

func TestCommandErrors(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	ws.run(cv.DoSequence, "")
	assertContains(t, ws.output.String(), "cc2git: no version graph has been read")
	assertBool(t, cv.abort, true)

	cv.abort = false
	ws.run(cv.DoRead, ws.path("missing.jsonl"))
	assertBool(t, cv.abort, true)

	cv.abort = false
	ws.run(cv.DoRead, `"unterminated`)
	assertContains(t, ws.output.String(), "cannot parse")

	cv.abort = false
	cv.DoSet("relax")
	ws.run(cv.DoSet, "nosuchflag")
	assertContains(t, ws.output.String(), "no such option flag as 'nosuchflag'")
	assertBool(t, cv.abort, false)
}

func TestLogCommand(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	ws.run(cv.DoLog, "+labels,+merges")
	assertBool(t, cv.sink.Mask&history.LogLABELS != 0, true)
	assertBool(t, cv.sink.Mask&history.LogMERGES != 0, true)
	ws.run(cv.DoLog, "-all +topology")
	assertBool(t, cv.sink.Mask == history.LogTOPOLOGY, true)
	ws.run(cv.DoLog, "")
	assertContains(t, ws.output.String(), "log topology")
	ws.run(cv.DoLog, "+bogus")
	assertContains(t, ws.output.String(), "no such log class as bogus")
}

func TestConfigFile(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	cfg := `input: graph.jsonl
encoding: ISO-8859-1
branches: ["main", "REL*"]
rootname: trunk
window: 2h
log: ["+labels"]
committer:
  name: Ann
  email: ann@example.com
`
	if err := os.WriteFile(ws.path("cc2git.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	ws.run(cv.DoConfig, ws.path("cc2git.yaml"))
	assertBool(t, cv.abort, false)
	assertIntEqual(t, len(cv.cfg.Branches), 2)
	assertBool(t, cv.decoder != nil && cv.decoder.Name() == "ISO-8859-1", true)
	assertBool(t, cv.sink.Mask&history.LogLABELS != 0, true)
	assertBool(t, cv.cfg.Committer.Name == "Ann", true)

	if err := os.WriteFile(ws.path("bad.yaml"), []byte("window: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := loadConfig(ws.path("bad.yaml"))
	assertBool(t, err != nil, true)
	if err := os.WriteFile(ws.path("typo.yaml"), []byte("brnaches: [x]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = loadConfig(ws.path("typo.yaml"))
	assertBool(t, err != nil, true)
}

func TestAuthorsCommand(t *testing.T) {
	ws := newWorkspace(t)
	cv := ws.cv
	ws.run(cv.DoRead, ws.path("graph.jsonl"))
	ws.run(cv.DoAuthors, "write "+ws.path("authors.map"))
	data, err := os.ReadFile(ws.path("authors.map"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), "ann = Ann <ann>\n")

	if err := os.WriteFile(ws.path("authors.map"), []byte("ann = Ann Smith <ann@example.com> +0100\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ws.run(cv.DoAuthors, "read "+ws.path("authors.map"))
	assertContains(t, ws.output.String(), "authors: 1 contributors")
	cv.cfg.Content = ws.dir
	ws.run(cv.DoSequence, "")
	ws.run(cv.DoWrite, ws.path("out.fi"))
	data, err = os.ReadFile(ws.path("out.fi"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), "author Ann Smith <ann@example.com> ")
	assertContains(t, string(data), " +0100\n")
	assertBool(t, cv.abort, false)
}
