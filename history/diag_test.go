// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLogSinkMask(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogSink(logger, LogLABELS)
	emit(sink, LogMERGES, "merge-resolved", F{"from": 1, "to": 2}, "quiet")
	assertIntEqual(t, len(hook.Entries), 0)
	emit(sink, LogLABELS, "label-complete", F{"label": "L"}, "label %s complete", "L")
	assertIntEqual(t, len(hook.Entries), 1)
	entry := hook.LastEntry()
	assertEqual(t, entry.Message, "label L complete")
	assertTrue(t, entry.Level == log.InfoLevel)
	assertEqual(t, entry.Data["event"].(string), "label-complete")
	// Anomalies get through whatever the mask says.
	emit(sink, LogWARN|LogMERGES, "merge-incomplete", F{"from": "x"}, "dangling")
	assertIntEqual(t, len(hook.Entries), 2)
	assertTrue(t, hook.LastEntry().Level == log.WarnLevel)
}

func TestClassString(t *testing.T) {
	assertEqual(t, (LogWARN | LogLABELS).String(), "labels,warn")
	assertEqual(t, LogTOPOLOGY.String(), "topology")
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	emit(rec, LogNAMING, "tree-op", nil, "one")
	emit(rec, LogNAMING, "tree-op", nil, "two")
	emit(rec, LogWARN|LogNAMING, "version-lost", nil, "three")
	assertIntEqual(t, len(rec.Events("tree-op")), 2)
	assertTrue(t, rec.Events("version-lost")[0].Anomaly())
	assertBool(t, rec.Events("tree-op")[0].Anomaly(), false)
}
