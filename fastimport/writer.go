// Package fastimport serializes a reconstructed history as a git
// fast-import stream. Commit marks are the changeset ids, so a later
// incremental run can continue from marks an earlier one left behind.
//
// SPDX-License-Identifier: BSD-2-Clause
package fastimport

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	fqme "gitlab.com/esr/fqme"

	"gitlab.com/cc2git/cc2git/history"
	"gitlab.com/cc2git/cc2git/vgraph"
)

// DefaultBranch is what the root line is called unless configured.
const DefaultBranch = "master"

// Identity names the committer of the generated commits.
type Identity struct {
	Name  string
	Email string
}

func (id Identity) String() string {
	return id.Name + " <" + id.Email + ">"
}

// TestIdentity is the committer used in test mode, so streams compare
// equal across machines.
var TestIdentity = Identity{Name: "Conversion Robot", Email: "robot@cc2git.invalid"}

// WhoAmI asks the usual places who is running the conversion.
func WhoAmI(testmode bool) (Identity, error) {
	if testmode {
		return TestIdentity, nil
	}
	name, email, err := fqme.WhoAmI()
	if err != nil {
		return Identity{}, fmt.Errorf("can't deduce committer identity: %w", err)
	}
	return Identity{Name: name, Email: email}, nil
}

// Options control stream generation.
type Options struct {
	// DefaultBranch replaces the root line's name; DefaultBranch if empty.
	DefaultBranch string
	Committer     Identity
	// EmailDomain, if set, turns author logins into addresses.
	EmailDomain string
	// Authors overrides the identity and timezone of known logins.
	Authors AuthorMap
	Blobs   Blobs
	// Logger receives a summary of what was written.
	Logger log.FieldLogger
}

// Writer emits changesets in fast-import format.
type Writer struct {
	out      *bufio.Writer
	opts     Options
	root     string
	realized map[string]bool
	commits  int
	files    int
}

// NewWriter wraps w. The stream is only complete after Save returns.
func NewWriter(w io.Writer, opts Options) *Writer {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Writer{out: bufio.NewWriter(w), opts: opts, realized: make(map[string]bool)}
}

// Save writes a whole history: commits in id order, then one reset per
// completed label.
func (w *Writer) Save(h *history.History) error {
	w.root = h.Root
	for _, cs := range h.ChangeSets {
		if err := w.commit(cs, h.Inherited); err != nil {
			return err
		}
	}
	tags := 0
	for _, l := range h.Labels {
		if !l.Complete || l.Owner == nil {
			continue
		}
		fmt.Fprintf(w.out, "reset refs/tags/%s\nfrom :%d\n\n", RefName(l.Name), l.Owner.ID)
		tags++
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("writing stream: %w", err)
	}
	w.opts.Logger.WithFields(log.Fields{
		"commits": w.commits,
		"files":   w.files,
		"tags":    tags,
	}).Info("fast-import stream written")
	return nil
}

// Ref is the full reference a branch is written to.
func (w *Writer) Ref(branch string) string {
	if branch == w.root {
		branch = w.opts.DefaultBranch
	}
	return "refs/heads/" + RefName(branch)
}

// RefName replaces the characters git refuses in reference names.
func RefName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r <= ' ' || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune("~^:?*[\\", r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.ReplaceAll(b.String(), "..", "_.")
	out = strings.ReplaceAll(out, "@{", "_{")
	out = strings.TrimSuffix(out, ".lock")
	if out == "" || out == "@" {
		out = "_"
	}
	return out
}

func (w *Writer) who(login string) string {
	if w.opts.EmailDomain != "" && !strings.Contains(login, "@") {
		return login + "@" + w.opts.EmailDomain
	}
	return login
}

// stamp formats a git date: Unix seconds and the zone offset.
func stamp(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Unix(), t.Format("-0700"))
}

func (w *Writer) author(cs *history.ChangeSet) string {
	name, email, when := cs.Author, w.who(cs.Login), cs.Start.UTC()
	if name == "" {
		name = cs.Login
	}
	if cb, ok := w.opts.Authors[cs.Login]; ok {
		name, email = cb.FullName, cb.Email
		if loc, err := cb.location(); err == nil && loc != nil {
			when = when.In(loc)
		}
	}
	return fmt.Sprintf("%s <%s> %s", name, email, stamp(when))
}

func (w *Writer) commit(cs *history.ChangeSet, inherited map[string]int) error {
	ref := w.Ref(cs.Branch)
	fmt.Fprintf(w.out, "commit %s\n", ref)
	fmt.Fprintf(w.out, "mark :%d\n", cs.ID)
	fmt.Fprintf(w.out, "author %s\n", w.author(cs))
	fmt.Fprintf(w.out, "committer %s %s\n", w.opts.Committer, stamp(cs.Start.UTC()))
	comment := Summary(cs)
	fmt.Fprintf(w.out, "data %d\n%s", len(comment), comment)
	switch {
	case cs.BranchPoint != nil:
		fmt.Fprintf(w.out, "from :%d\n", cs.BranchPoint.ID)
	case !w.realized[ref]:
		if mark, ok := inherited[cs.Branch]; ok {
			fmt.Fprintf(w.out, "from :%d\n", mark)
		}
	}
	w.realized[ref] = true
	for _, m := range cs.Merges {
		fmt.Fprintf(w.out, "merge :%d\n", m.ID)
	}
	for _, op := range cs.Ops {
		saveOp(w.out, op)
	}
	for _, e := range cs.Visible() {
		for _, name := range e.Names {
			if err := w.modify(e, name); err != nil {
				return err
			}
		}
	}
	w.out.WriteByte('\n')
	w.commits++
	return nil
}

func quotifyIfNeeded(p string) string {
	if strings.ContainsAny(p, " \t\n\"\\") || strings.HasPrefix(p, "\"") {
		return strconv.Quote(p)
	}
	return p
}

func saveOp(out io.Writer, op history.TreeOp) {
	switch op.Kind {
	case history.OpRename:
		fmt.Fprintf(out, "R %s %s\n", strconv.Quote(op.Source), quotifyIfNeeded(op.Path))
	case history.OpCopy:
		fmt.Fprintf(out, "C %s %s\n", strconv.Quote(op.Source), quotifyIfNeeded(op.Path))
	default:
		fmt.Fprintf(out, "D %s\n", quotifyIfNeeded(op.Path))
	}
}

func (w *Writer) modify(e *history.Entry, name string) error {
	v := e.Version
	w.files++
	if e.Kind == vgraph.Symlink {
		fmt.Fprintf(w.out, "M 120000 inline %s\ndata %d\n%s\n", quotifyIfNeeded(name), len(v.Target), v.Target)
		return nil
	}
	fmt.Fprintf(w.out, "M 100644 inline %s\n", quotifyIfNeeded(name))
	if w.opts.Blobs == nil {
		return fmt.Errorf("no content source for %s", v.Key)
	}
	rc, size, err := w.opts.Blobs.Open(v)
	if err != nil {
		return fmt.Errorf("content of %s: %w", v.Key, err)
	}
	defer rc.Close()
	fmt.Fprintf(w.out, "data %d\n", size)
	n, err := io.CopyN(w.out, rc, size)
	if err != nil {
		return fmt.Errorf("content of %s: read %d of %d bytes: %w", v.Key, n, size, err)
	}
	w.out.WriteByte('\n')
	return nil
}
