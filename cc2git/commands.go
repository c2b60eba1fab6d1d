// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	log "github.com/sirupsen/logrus"

	"gitlab.com/cc2git/cc2git/fastimport"
	"gitlab.com/cc2git/cc2git/history"
	"gitlab.com/cc2git/cc2git/state"
	"gitlab.com/cc2git/cc2git/vgraph"
)

func (cv *Converter) helpOutput(help string) {
	cv.respond("%s", strings.TrimPrefix(help, "\n"))
}

// words splits a command line the way a POSIX shell would.
func words(line string) []string {
	fields, err := shlex.Split(line, true)
	if err != nil {
		panic(throw("command", "cannot parse %q: %v", line, err))
	}
	return fields
}

func (cv *Converter) needGraph() *vgraph.Graph {
	if cv.graph == nil {
		panic(throw("command", "no version graph has been read"))
	}
	return cv.graph
}

func (cv *Converter) needHistory() *history.History {
	if cv.hist == nil {
		panic(throw("command", "no history has been sequenced"))
	}
	return cv.hist
}

// DoEOF is the handler for end of command input.
func (cv *Converter) DoEOF(lineIn string) bool {
	return true
}

// HelpQuit says "Shut up, golint!"
func (cv *Converter) HelpQuit() {
	cv.helpOutput("Terminate cc2git cleanly.\n")
}

// DoQuit is the handler for the "quit" command.
func (cv *Converter) DoQuit(lineIn string) bool {
	return true
}

// HelpVersion says "Shut up, golint!"
func (cv *Converter) HelpVersion() {
	cv.helpOutput("Report the program version.\n")
}

// DoVersion is the handler for the "version" command.
func (cv *Converter) DoVersion(lineIn string) bool {
	cv.respond("cc2git %s", version)
	return false
}

// HelpConfig says "Shut up, golint!"
func (cv *Converter) HelpConfig() {
	cv.helpOutput(`
config [FILE]

Load conversion settings from a YAML file. Every setting can also be
given with its own command; the file is applied first, so later commands
override it. With no argument, show the settings in effect.
`)
}

// DoConfig is the handler for the "config" command.
func (cv *Converter) DoConfig(line string) bool {
	args := words(line)
	if len(args) == 0 {
		text, err := cv.cfg.dump()
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		cv.respond("%s", text)
		return false
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cv.cfg = *cfg
	if cfg.Encoding != "" {
		cv.setEncoding(cfg.Encoding)
	}
	if len(cfg.Log) > 0 {
		cv.DoLog(strings.Join(cfg.Log, " "))
	}
	if cfg.Authors != "" {
		cv.readAuthors(cfg.Authors)
	}
	return false
}

// HelpAuthors says "Shut up, golint!"
func (cv *Converter) HelpAuthors() {
	cv.helpOutput(`
authors read FILE
authors write [FILE]
authors missing [FILE]

Read a contributor map of lines "login = Full Name <email> [timezone]"
used to write commit authors. "write" dumps the map, adding a
placeholder for every login in the version graph that it lacks;
"missing" dumps only the entries still needing attention.
`)
}

func (cv *Converter) readAuthors(path string) bool {
	fp, err := os.Open(path)
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	defer fp.Close()
	am, err := fastimport.ReadAuthorMap(fp)
	if err != nil {
		cv.croak("%s: %v", path, err)
		return false
	}
	if cv.cfg.EmailDomain != "" {
		am.Suffix(cv.cfg.EmailDomain)
	}
	cv.authors, cv.cfg.Authors = am, path
	return true
}

// DoAuthors is the handler for the "authors" command.
func (cv *Converter) DoAuthors(line string) bool {
	args := words(line)
	if len(args) == 0 {
		cv.croak("authors needs a subcommand")
		return false
	}
	switch args[0] {
	case "read":
		if len(args) < 2 {
			cv.croak("authors read needs a file name")
			return false
		}
		if cv.readAuthors(args[1]) {
			cv.respond("authors: %d contributors", len(cv.authors))
		}
	case "write", "missing":
		if cv.authors == nil {
			cv.authors = make(fastimport.AuthorMap)
		}
		if cv.graph != nil {
			cv.graph.Walk(func(e *vgraph.Element, b *vgraph.Branch, v *vgraph.Version) {
				cv.authors.Observe(v.Login, v.Author)
			})
		}
		var out io.Writer = cv.baton
		if len(args) > 1 {
			fp, err := os.Create(args[1])
			if err != nil {
				cv.croak("%v", err)
				return false
			}
			defer fp.Close()
			out = fp
		}
		if err := cv.authors.Write(out, args[0] == "missing"); err != nil {
			cv.croak("%v", err)
		}
	default:
		cv.croak("no such authors subcommand as %s", args[0])
	}
	return false
}

// HelpRead says "Shut up, golint!"
func (cv *Converter) HelpRead() {
	cv.helpOutput(`
read [FILE]

Read a version graph dump. With no argument, read the configured input,
or run the configured reader command if there is no input file.
`)
}

// DoRead is the handler for the "read" command.
func (cv *Converter) DoRead(line string) bool {
	args := words(line)
	path := cv.cfg.Input
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		if cv.cfg.Reader != "" {
			return cv.DoReader("")
		}
		cv.croak("read needs a file name")
		return false
	}
	g, err := vgraph.LoadFile(path, vgraph.Options{Transcoder: cv.decoder})
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cv.loaded(g, path)
	return false
}

// HelpReader says "Shut up, golint!"
func (cv *Converter) HelpReader() {
	cv.helpOutput(`
reader [COMMAND...]

Run a repository enumerator and read the version graph dump it writes
to standard output. With no argument, run the configured reader.
`)
}

// DoReader is the handler for the "reader" command.
func (cv *Converter) DoReader(line string) bool {
	cmdline := strings.TrimSpace(line)
	if cmdline == "" {
		cmdline = cv.cfg.Reader
	} else {
		cv.cfg.Reader = cmdline
	}
	if cmdline == "" {
		cv.croak("no reader command configured")
		return false
	}
	g, err := vgraph.LoadCommand(cv.ctx, cmdline, vgraph.Options{Transcoder: cv.decoder})
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cv.loaded(g, cmdline)
	return false
}

func (cv *Converter) loaded(g *vgraph.Graph, source string) {
	cv.graph = g
	cv.hist = nil
	cv.logger.WithFields(log.Fields{"source": source, "elements": g.Len()}).Info("version graph read")
}

// HelpEncoding says "Shut up, golint!"
func (cv *Converter) HelpEncoding() {
	cv.helpOutput(`
encoding [CHARSET]

Set the IANA character set version comments are written in. Comments are
converted to UTF-8 by later reads. With no argument, show the setting.
`)
}

func (cv *Converter) setEncoding(charset string) bool {
	tc, err := vgraph.NewTranscoder(charset)
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cv.decoder = tc
	cv.cfg.Encoding = charset
	return true
}

// DoEncoding is the handler for the "encoding" command.
func (cv *Converter) DoEncoding(line string) bool {
	args := words(line)
	if len(args) == 0 {
		if cv.decoder == nil {
			cv.respond("encoding: UTF-8")
		} else {
			cv.respond("encoding: %s", cv.decoder.Name())
		}
		return false
	}
	cv.setEncoding(args[0])
	return false
}

// HelpBranches says "Shut up, golint!"
func (cv *Converter) HelpBranches() {
	cv.helpOutput(`
branches [PATTERN...]

Select the branches to convert by doublestar pattern, e.g. "REL*" or
"main". The root line is always kept, and so is every ancestor of a
kept branch. With no argument, show the patterns.
`)
}

// DoBranches is the handler for the "branches" command.
func (cv *Converter) DoBranches(line string) bool {
	args := words(line)
	if len(args) == 0 {
		if len(cv.cfg.Branches) == 0 {
			cv.respond("branches: all")
		} else {
			cv.respond("branches: %s", strings.Join(cv.cfg.Branches, " "))
		}
		return false
	}
	cv.cfg.Branches = args
	return false
}

// HelpRootname says "Shut up, golint!"
func (cv *Converter) HelpRootname() {
	cv.helpOutput(`
rootname [NAME]

Set the name the root line gets in the output, "master" by default.
`)
}

// DoRootname is the handler for the "rootname" command.
func (cv *Converter) DoRootname(line string) bool {
	args := words(line)
	if len(args) == 0 {
		name := cv.cfg.RootName
		if name == "" {
			name = fastimport.DefaultBranch
		}
		cv.respond("rootname: %s", name)
		return false
	}
	cv.cfg.RootName = args[0]
	return false
}

// HelpState says "Shut up, golint!"
func (cv *Converter) HelpState() {
	cv.helpOutput(`
state [FILE]

Open the incremental state database, copying an existing one aside
first. A later sequence command converts only what no earlier run did,
and write records the result. With no argument, show the recorded runs.
`)
}

// DoState is the handler for the "state" command.
func (cv *Converter) DoState(line string) bool {
	args := words(line)
	if len(args) == 0 && cv.store != nil {
		runs, err := cv.store.Runs(cv.ctx)
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		for _, r := range runs {
			cv.respond("%s %s marks %d-%d (%d commits)", r.ID, r.Started.Format("2006-01-02T15:04:05Z"), r.FirstMark, r.LastMark, r.Commits)
		}
		return false
	}
	path := cv.cfg.State
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		cv.croak("state needs a database file name")
		return false
	}
	cv.close()
	if _, err := state.Backup(path); err != nil {
		cv.croak("%v", err)
		return false
	}
	store, err := state.Open(path)
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	resume, err := store.Load(cv.ctx)
	if err != nil {
		store.Close()
		cv.croak("%v", err)
		return false
	}
	cv.store, cv.resume, cv.cfg.State = store, resume, path
	if resume == nil {
		cv.respond("state: %s is empty, the next run starts from scratch", path)
	} else {
		cv.respond("state: resuming after mark %d on %d branches", resume.LastID, len(resume.Tips))
	}
	return false
}

// HelpSequence says "Shut up, golint!"
func (cv *Converter) HelpSequence() {
	cv.helpOutput(`
sequence

Group the version graph into changesets and put them in one order that
keeps labels and merges consistent. With a state database open, only
versions no earlier run converted take part.
`)
}

// DoSequence is the handler for the "sequence" command.
func (cv *Converter) DoSequence(line string) bool {
	g := cv.needGraph()
	window, err := cv.cfg.window()
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cfg := history.Config{
		Branches: cv.cfg.Branches,
		Sink:     cv.sink,
		Window:   window,
		Progress: cv.baton.percentProgress,
	}
	if cv.store != nil {
		subset, err := cv.store.Subset(cv.ctx, g)
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		cfg.Subset = subset
		cfg.Resume = cv.resume
	}
	cv.baton.startProgress("sequencing", 0)
	h, err := history.Convert(g, cfg)
	cv.baton.endProgress()
	if err != nil {
		cv.croak("%v", err)
		return false
	}
	cv.hist = h
	cv.logger.WithFields(log.Fields{
		"changesets": len(h.ChangeSets),
		"branches":   len(h.Tips),
		"labels":     len(h.Labels),
		"merges":     len(h.Merges),
	}).Info("history sequenced")
	return false
}

// HelpWrite says "Shut up, golint!"
func (cv *Converter) HelpWrite() {
	cv.helpOutput(`
write [FILE]

Write the sequenced history as a git fast-import stream, to FILE, the
configured output, or standard output. Incremental streams continue from
marks of earlier runs, so feed them to git fast-import with the marks
file of the previous import (--import-marks).
`)
}

// DoWrite is the handler for the "write" command.
func (cv *Converter) DoWrite(line string) bool {
	h := cv.needHistory()
	args := words(line)
	path := cv.cfg.Output
	if len(args) > 0 {
		path = args[0]
	}
	committer := fastimport.Identity{Name: cv.cfg.Committer.Name, Email: cv.cfg.Committer.Email}
	if committer.Name == "" {
		who, err := fastimport.WhoAmI(cv.flags["testmode"])
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		committer = who
	}
	content := cv.cfg.Content
	if content == "" {
		content = "."
	}
	var out io.Writer = os.Stdout
	if path != "" && path != "-" {
		fp, err := os.Create(path)
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		defer fp.Close()
		out = fp
	} else {
		cv.baton.Sync()
	}
	w := fastimport.NewWriter(out, fastimport.Options{
		DefaultBranch: cv.cfg.RootName,
		Committer:     committer,
		EmailDomain:   cv.cfg.EmailDomain,
		Authors:       cv.authors,
		Blobs:         fastimport.DirBlobs{Root: content},
		Logger:        cv.logger,
	})
	if err := w.Save(h); err != nil {
		cv.croak("%v", err)
		return false
	}
	if cv.store != nil {
		run, err := cv.store.Record(cv.ctx, cv.graph, h)
		if err != nil {
			cv.croak("%v", err)
			return false
		}
		if cv.resume, err = cv.store.Load(cv.ctx); err != nil {
			cv.croak("%v", err)
			return false
		}
		cv.logger.WithField("run", run.ID).Info("state recorded")
	}
	return false
}

var reportTopics = []string{"branches", "labels", "merges", "lost", "removed"}

// HelpReport says "Shut up, golint!"
func (cv *Converter) HelpReport() {
	cv.helpOutput(`
report [TOPIC...]

Describe the sequenced history. Topics are branches, labels, merges,
lost and removed; with no argument, all of them.
`)
}

// DoReport is the handler for the "report" command.
func (cv *Converter) DoReport(line string) bool {
	h := cv.needHistory()
	topics := words(line)
	if len(topics) == 0 {
		topics = reportTopics
	}
	for _, topic := range topics {
		switch topic {
		case "branches":
			cv.reportBranches(h)
		case "labels":
			for _, l := range h.Labels {
				cv.respond("label %s: %s", l.Name, labelStatus(l))
			}
		case "merges":
			for _, m := range h.Merges {
				cv.respond("merge %s", m)
			}
		case "lost":
			for _, k := range h.Lost {
				cv.respond("lost %s", k)
			}
		case "removed":
			for _, b := range h.Removed {
				cv.respond("removed %s", b)
			}
		default:
			cv.croak("no such report topic as %s", topic)
			return false
		}
	}
	return false
}

func labelStatus(l *history.LabelInfo) string {
	switch {
	case l.Complete && l.Owner != nil:
		return fmt.Sprintf("complete at :%d", l.Owner.ID)
	case l.Abandoned:
		return "abandoned"
	}
	missing := 0
	if l.Missing != nil {
		missing = l.Missing.Size()
	}
	return fmt.Sprintf("incomplete, %d versions missing", missing)
}

func (cv *Converter) reportBranches(h *history.History) {
	names := make([]string, 0, len(h.Tips))
	for b := range h.Tips {
		names = append(names, b)
	}
	sort.Strings(names)
	for _, b := range names {
		parent := h.Parents[b]
		if parent == "" {
			parent = "-"
		}
		cv.respond("branch %s from %s tip :%d", b, parent, h.Tips[b].ID)
	}
}

// HelpLog says "Shut up, golint!"
func (cv *Converter) HelpLog() {
	cv.helpOutput(`
log [+CLASS|-CLASS...]

Enable (+) or disable (-) classes of diagnostic messages; "all" names
every class. Warnings about degraded results are always shown. With no
argument, show which classes are enabled.
`)
	names := make([]string, 0, len(history.LogTags))
	for name := range history.LogTags {
		names = append(names, name)
	}
	sort.Strings(names)
	cv.respond("%s", strings.Join(names, " "))
}

// DoLog is the handler for the "log" command.
func (cv *Converter) DoLog(lineIn string) bool {
	lineIn = strings.Replace(lineIn, ",", " ", -1)
	for _, tok := range strings.Fields(lineIn) {
		enable := tok[0] == '+'
		if !(enable || tok[0] == '-') {
			cv.croak("an entry should start with a + or a -")
			return false
		}
		tok = tok[1:]
		mask, ok := history.LogTags[tok]
		if !ok {
			if tok != "all" {
				cv.croak("no such log class as %s", tok)
				return false
			}
			mask = ^history.Class(0)
		}
		if enable {
			cv.sink.Mask |= mask
		} else {
			cv.sink.Mask &^= mask
		}
	}
	if strings.TrimSpace(lineIn) == "" {
		cv.respond("log %s", cv.sink.Mask)
	}
	return false
}

// HelpSet says "Shut up, golint!"
func (cv *Converter) HelpSet() {
	cv.helpOutput(`
set [FLAG...]

Set boolean options. With no argument, show them all. The flags are:
`)
	for _, opt := range optionFlags {
		cv.respond("%s:\n%s", opt[0], opt[1])
	}
}

// DoSet is the handler for the "set" command.
func (cv *Converter) DoSet(line string) bool {
	cv.tweakFlagOptions(line, true)
	return false
}

// HelpClear says "Shut up, golint!"
func (cv *Converter) HelpClear() {
	cv.helpOutput("Clear boolean options set with \"set\".\n")
}

// DoClear is the handler for the "clear" command.
func (cv *Converter) DoClear(line string) bool {
	cv.tweakFlagOptions(line, false)
	return false
}

func (cv *Converter) tweakFlagOptions(line string, val bool) {
	if strings.TrimSpace(line) == "" {
		for _, opt := range optionFlags {
			cv.respond("\t%s = %v", opt[0], cv.flags[opt[0]])
		}
		return
	}
	line = strings.Replace(line, ",", " ", -1)
	for _, name := range strings.Fields(line) {
		known := false
		for _, opt := range optionFlags {
			if name == opt[0] {
				known = true
				cv.flags[name] = val
			}
		}
		if !known {
			cv.croak("no such option flag as '%s'", name)
			continue
		}
		switch name {
		case "progress":
			cv.baton.setInteractivity(val)
		case "testmode":
			cv.logger.Formatter = &log.TextFormatter{DisableTimestamp: val}
		}
	}
}
