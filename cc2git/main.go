// cc2git converts the version graph of a legacy element/branch/label
// repository into a git fast-import stream.
//
// Commands are taken from the command line, one per argument, with ';'
// separating several in one argument; "-" reads commands from standard
// input. Running with no arguments is the same as "cc2git -".
//
// SPDX-License-Identifier: BSD-2-Clause
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	kommandant "gitlab.com/ianbruene/kommandant"
	terminal "golang.org/x/crypto/ssh/terminal"

	"gitlab.com/cc2git/cc2git/fastimport"
	"gitlab.com/cc2git/cc2git/history"
	"gitlab.com/cc2git/cc2git/state"
	"gitlab.com/cc2git/cc2git/vgraph"
)

const version = "1.0"

type exception struct {
	class   string
	message string
}

func (e exception) Error() string {
	return e.message
}

func throw(class string, msg string, args ...interface{}) *exception {
	return &exception{class: class, message: fmt.Sprintf(msg, args...)}
}

func catch(accept string, x interface{}) *exception {
	if x == nil {
		return nil
	}
	if err, ok := x.(*exception); ok && err.class == accept {
		return err
	}
	panic(x)
}

var optionFlags = [...][2]string{
	{"echo",
		`Echo each command before executing it.
`},
	{"progress",
		`Show a progress meter while sequencing. Set automatically when
standard output is a terminal and commands are read interactively.
`},
	{"relax",
		`Errors do not make cc2git exit with a failure status.
`},
	{"testmode",
		`Use a fixed committer identity and drop timestamps from log
records, so output is the same on every machine.
`},
}

// Converter tells Kommandant what our local commands are.
type Converter struct {
	cmd     *kommandant.Kmdt
	ctx     context.Context
	cfg     Config
	flags   map[string]bool
	baton   *Baton
	logger  *log.Logger
	sink    *history.LogSink
	decoder *vgraph.Transcoder
	graph   *vgraph.Graph
	store   *state.Store
	resume  *history.Resume
	hist    *history.History
	authors fastimport.AuthorMap
	abort   bool
}

func newConverter(ctx context.Context, stream io.Writer) *Converter {
	cv := &Converter{ctx: ctx, flags: make(map[string]bool)}
	cv.baton = newBaton(stream, false)
	cv.logger = log.New()
	cv.logger.Out = cv.baton
	cv.sink = history.NewLogSink(cv.logger, history.LogWARN)
	return cv
}

// SetCore is a Kommandant housekeeping hook.
func (cv *Converter) SetCore(k *kommandant.Kmdt) {
	cv.cmd = k
	k.OneCmdHook = func(ctx context.Context, line string) (stop bool) {
		defer func(stop *bool) {
			if e := catch("command", recover()); e != nil {
				cv.croak(e.message)
				*stop = false
			}
		}(&stop)
		stop = k.OneCmd_core(ctx, line)
		return
	}
}

// PreLoop is the hook run before the first command prompt is issued.
func (cv *Converter) PreLoop() {
	if cv.cmd != nil {
		cv.cmd.SetPrompt("cc2git% ")
	}
}

// PreCmd is the hook issued before each command handler.
func (cv *Converter) PreCmd(line string) string {
	trimmed := strings.TrimSpace(line)
	if cv.flags["echo"] && trimmed != "" {
		cv.respond("%s", trimmed)
	}
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}
	return line
}

// PostCmd is the hook executed after each command handler.
func (cv *Converter) PostCmd(stop bool, lineIn string) bool {
	cv.baton.Sync()
	return stop
}

// respond is for console messages that shouldn't be logged.
func (cv *Converter) respond(msg string, args ...interface{}) {
	content := fmt.Sprintf(msg, args...)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	cv.baton.printLogString(content)
}

func (cv *Converter) croak(msg string, args ...interface{}) {
	cv.respond("cc2git: "+msg, args...)
	if !cv.flags["relax"] {
		cv.abort = true
	}
}

func (cv *Converter) close() {
	if cv.store != nil {
		cv.store.Close()
		cv.store = nil
	}
}

func main() {
	ctx := context.Background()
	cv := newConverter(ctx, os.Stdout)
	interpreter := kommandant.NewKommandant(cv)
	interpreter.EnableReadline(terminal.IsTerminal(0))

	defer func() {
		maybePanic := recover()
		cv.baton.Sync()
		cv.close()
		if maybePanic != nil {
			panic(maybePanic)
		}
		if cv.abort {
			os.Exit(1)
		}
		os.Exit(0)
	}()

	if len(os.Args[1:]) == 0 {
		os.Args = append(os.Args, "-")
	}

	interpreter.PreLoop(ctx)
	stop := false
	for _, arg := range os.Args[1:] {
		for _, acmd := range strings.Split(arg, ";") {
			if acmd == "-" {
				if terminal.IsTerminal(0) && terminal.IsTerminal(1) {
					cv.flags["progress"] = true
				}
				cv.baton.setInteractivity(cv.flags["progress"])
				interpreter.CmdLoop(ctx, "")
			} else {
				// "cc2git --help" and "cc2git --version" work as expected.
				acmd = strings.TrimPrefix(acmd, "--")
				acmd = interpreter.PreCmd(ctx, acmd)
				stop = interpreter.OneCmd(ctx, acmd)
				stop = interpreter.PostCmd(ctx, stop, acmd)
			}
			if stop {
				break
			}
		}
		if stop {
			break
		}
	}
	interpreter.PostLoop(ctx)
}
