// Readers for the JSON-lines version-graph dump produced by a repository
// enumerator. The first record is a header naming the root line and the
// root directory element; every following record is one element.
//
// SPDX-License-Identifier: BSD-2-Clause

package vgraph

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// maxRecord bounds a single JSON line; directory versions of huge
// directories can be long.
const maxRecord = 64 * 1024 * 1024

// ErrNoHeader is returned when a dump does not start with a header record.
var ErrNoHeader = errors.New("version graph dump has no header record")

type keyRecord struct {
	Element string `json:"element"`
	Branch  string `json:"branch"`
	N       int    `json:"n"`
}

func (kr *keyRecord) key(self ElementID) Key {
	id := ElementID(kr.Element)
	if id == "" {
		id = self
	}
	return Key{Element: id, Branch: kr.Branch, Number: kr.N}
}

type versionRecord struct {
	N          int               `json:"n"`
	Author     string            `json:"author"`
	Login      string            `json:"login"`
	Time       string            `json:"time"`
	Comment    string            `json:"comment"`
	Labels     []string          `json:"labels,omitempty"`
	MergedFrom []keyRecord       `json:"merged_from,omitempty"`
	MergedTo   []keyRecord       `json:"merged_to,omitempty"`
	Content    string            `json:"content,omitempty"`
	Target     string            `json:"target,omitempty"`
	Children   map[string]string `json:"children,omitempty"`
}

type branchRecord struct {
	Name     string          `json:"name"`
	Full     string          `json:"full"`
	Origin   *keyRecord      `json:"origin,omitempty"`
	Versions []versionRecord `json:"versions"`
}

type record struct {
	// Header fields
	RootBranch string `json:"root_branch,omitempty"`
	RootDir    string `json:"root_dir,omitempty"`
	// Element fields
	ID       string         `json:"id,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Path     string         `json:"path,omitempty"`
	Digest   string         `json:"digest,omitempty"`
	Branches []branchRecord `json:"branches,omitempty"`
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "", "file":
		return File, nil
	case "dir", "directory":
		return Dir, nil
	case "symlink":
		return Symlink, nil
	}
	return File, fmt.Errorf("unknown element kind %q", s)
}

// Options tune how a dump is read.
type Options struct {
	// Transcoder, if not nil, converts comments from a legacy charset.
	Transcoder *Transcoder
}

// Read parses a whole dump.
func Read(r io.Reader, opts Options) (*Graph, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecord)
	var g *Graph
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if g == nil {
			if rec.RootBranch == "" {
				return nil, fmt.Errorf("line %d: %w", lineno, ErrNoHeader)
			}
			g = New(rec.RootBranch, ElementID(rec.RootDir))
			continue
		}
		e, err := rec.element(opts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		g.Add(e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading version graph: %w", err)
	}
	if g == nil {
		return nil, ErrNoHeader
	}
	return g, nil
}

func (rec *record) element(opts Options) (*Element, error) {
	if rec.ID == "" {
		return nil, errors.New("element record without id")
	}
	kind, err := parseKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	e := &Element{
		ID:       ElementID(rec.ID),
		Kind:     kind,
		Path:     rec.Path,
		Digest:   rec.Digest,
		Branches: make(map[string]*Branch),
	}
	for _, br := range rec.Branches {
		full := br.Full
		if full == "" {
			full = br.Name
		}
		var origin *Key
		if br.Origin != nil {
			k := br.Origin.key(e.ID)
			origin = &k
		}
		b := &Branch{Element: e.ID, Name: br.Name, FullName: full, Origin: origin}
		e.Branches[br.Name] = b
		for _, vr := range br.Versions {
			v, err := vr.version(e.ID, br.Name, opts)
			if err != nil {
				return nil, fmt.Errorf("%s %s/%d: %w", rec.ID, br.Name, vr.N, err)
			}
			e.AddVersion(full, origin, v)
		}
	}
	if e.Digest == "" {
		e.Digest = Digest(e)
	}
	return e, nil
}

func (vr *versionRecord) version(id ElementID, branch string, opts Options) (*Version, error) {
	v := &Version{
		Key:     Key{Element: id, Branch: branch, Number: vr.N},
		Author:  vr.Author,
		Login:   vr.Login,
		Comment: vr.Comment,
		Labels:  vr.Labels,
		Content: vr.Content,
		Target:  vr.Target,
	}
	if vr.Time != "" {
		t, err := time.Parse(time.RFC3339, vr.Time)
		if err != nil {
			return nil, err
		}
		v.Time = t.UTC()
	}
	if opts.Transcoder != nil && v.Comment != "" {
		c, err := opts.Transcoder.Transcode(v.Comment)
		if err != nil {
			return nil, err
		}
		v.Comment = c
	}
	for i := range vr.MergedFrom {
		v.MergedFrom = append(v.MergedFrom, vr.MergedFrom[i].key(id))
	}
	for i := range vr.MergedTo {
		v.MergedTo = append(v.MergedTo, vr.MergedTo[i].key(id))
	}
	if vr.Children != nil {
		v.Children = make(map[string]ElementID, len(vr.Children))
		for name, child := range vr.Children {
			v.Children[name] = ElementID(child)
		}
	}
	return v, nil
}

// LoadFile reads a dump from a file.
func LoadFile(path string, opts Options) (*Graph, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return Read(fp, opts)
}

// LoadCommand runs a repository enumerator and reads the dump from its
// standard output. The command line is split with shell quoting rules.
func LoadCommand(ctx context.Context, cmdline string, opts Options) (*Graph, error) {
	words, err := shellquote.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parsing reader command: %w", err)
	}
	if len(words) == 0 {
		return nil, errors.New("empty reader command")
	}
	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", shellquote.Join(words...), err)
	}
	g, rerr := Read(stdout, opts)
	if rerr != nil {
		// Drain so the child does not block on a full pipe before Wait.
		io.Copy(io.Discard, stdout)
	}
	werr := cmd.Wait()
	if rerr != nil {
		return nil, rerr
	}
	if werr != nil {
		return nil, fmt.Errorf("reader %s: %w", words[0], werr)
	}
	return g, nil
}

// Write serializes a graph in the dump format Read accepts.
func Write(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(record{RootBranch: g.RootBranch, RootDir: string(g.RootDir)}); err != nil {
		return err
	}
	for _, e := range g.Elements() {
		if err := enc.Encode(elementRecord(e)); err != nil {
			return err
		}
	}
	return nil
}

func elementRecord(e *Element) record {
	rec := record{ID: string(e.ID), Kind: e.Kind.String(), Path: e.Path, Digest: e.Digest}
	for _, name := range e.BranchNames() {
		b := e.Branches[name]
		br := branchRecord{Name: b.Name, Full: b.FullName}
		if b.Origin != nil {
			br.Origin = &keyRecord{Element: string(b.Origin.Element), Branch: b.Origin.Branch, N: b.Origin.Number}
		}
		for _, v := range b.Versions {
			vr := versionRecord{
				N:       v.Key.Number,
				Author:  v.Author,
				Login:   v.Login,
				Comment: v.Comment,
				Labels:  v.Labels,
				Content: v.Content,
				Target:  v.Target,
			}
			if !v.Time.IsZero() {
				vr.Time = v.Time.UTC().Format(time.RFC3339)
			}
			for _, k := range v.MergedFrom {
				vr.MergedFrom = append(vr.MergedFrom, keyRecord{string(k.Element), k.Branch, k.Number})
			}
			for _, k := range v.MergedTo {
				vr.MergedTo = append(vr.MergedTo, keyRecord{string(k.Element), k.Branch, k.Number})
			}
			if v.Children != nil {
				vr.Children = make(map[string]string, len(v.Children))
				for n, c := range v.Children {
					vr.Children[n] = string(c)
				}
			}
			br.Versions = append(br.Versions, vr)
		}
		rec.Branches = append(rec.Branches, br)
	}
	return rec
}
