// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Class is a diagnostic topic, usable as a bit in a log mask.
//
// Adding a class is adding a constant to the iota initializer and an
// entry to LogTags.
type Class uint

const (
	LogWARN     Class = 1 << iota // recoverable anomalies; always reported
	LogTOPOLOGY                   // branch parent inference
	LogGROUP                      // raw changeset grouping
	LogFILTER                     // branch and label pruning
	LogSEQUENCE                   // global ordering decisions
	LogNAMING                     // element naming and tree operations
	LogLABELS                     // label bookkeeping
	LogMERGES                     // merge reconciliation
)

// LogTags maps class names, as used on command lines, to classes.
var LogTags = map[string]Class{
	"warn":     LogWARN,
	"topology": LogTOPOLOGY,
	"group":    LogGROUP,
	"filter":   LogFILTER,
	"sequence": LogSEQUENCE,
	"naming":   LogNAMING,
	"labels":   LogLABELS,
	"merges":   LogMERGES,
}

func (c Class) String() string {
	var names []string
	for name, bit := range LogTags {
		if c&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Diagnostic is one structured trace record. Event is a short stable tag
// ("label-abandoned", "merge-incomplete", ...) that tests and audit
// scripts can match on; Fields name the label, merge, version or branch
// concerned.
type Diagnostic struct {
	Class   Class
	Event   string
	Message string
	Fields  map[string]interface{}
}

// Anomaly tells whether the record reports a degraded result.
func (d Diagnostic) Anomaly() bool {
	return d.Class&LogWARN != 0
}

// Sink receives the engine's diagnostics.
type Sink interface {
	Emit(d Diagnostic)
}

// LogSink writes diagnostics as logrus records. Records whose class is
// not in Mask are dropped, except anomalies, which are always written.
type LogSink struct {
	Logger *log.Logger
	Mask   Class
}

// NewLogSink makes a sink on a logger with the given mask.
func NewLogSink(logger *log.Logger, mask Class) *LogSink {
	return &LogSink{Logger: logger, Mask: mask}
}

// Emit implements Sink.
func (s *LogSink) Emit(d Diagnostic) {
	if !d.Anomaly() && s.Mask&d.Class == 0 {
		return
	}
	entry := s.Logger.WithFields(log.Fields(d.Fields)).WithField("event", d.Event)
	if d.Anomaly() {
		entry.Warn(d.Message)
	} else {
		entry.Info(d.Message)
	}
}

// Recorder keeps every diagnostic in memory.
type Recorder struct {
	Records []Diagnostic
}

// Emit implements Sink.
func (r *Recorder) Emit(d Diagnostic) {
	r.Records = append(r.Records, d)
}

// Events returns the records carrying the given event tag.
func (r *Recorder) Events(event string) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Records {
		if d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

type nullSink struct{}

func (nullSink) Emit(Diagnostic) {}

// F is shorthand for a diagnostic field map.
type F map[string]interface{}

func emit(sink Sink, class Class, event string, fields F, msg string, args ...interface{}) {
	sink.Emit(Diagnostic{
		Class:   class,
		Event:   event,
		Message: fmt.Sprintf(msg, args...),
		Fields:  fields,
	})
}
