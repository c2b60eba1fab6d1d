/*
 * Progress baton
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// clearLine returns the cursor to column zero and erases the line.
const clearLine = "\r\x1b[K"

const progressInterval = 1 * time.Second // Rate-limit progress messages

type msgType uint8

const (
	// logMsg is printed once, above the status line
	logMsg msgType = iota
	// progressMsg replaces the status line
	progressMsg
	// syncMsg is echoed back so callers can wait for the writer
	syncMsg
)

type message struct {
	ty  msgType
	str []byte
}

// Baton owns terminal output. With progress enabled a single goroutine
// writes everything, keeping log lines from tearing the status line.
type Baton struct {
	sync.Mutex
	progressEnabled bool
	stream          io.Writer
	channel         chan message
	start           time.Time
	tag             string
	count           int
	expected        int
	lastupdate      time.Time
}

func newBaton(stream io.Writer, interactive bool) *Baton {
	baton := &Baton{
		stream:          stream,
		channel:         make(chan message),
		start:           time.Now(),
		progressEnabled: interactive,
	}
	go func() {
		var status []byte
		for msg := range baton.channel {
			switch msg.ty {
			case syncMsg:
				baton.channel <- msg
			case logMsg:
				if len(status) > 0 {
					io.WriteString(baton.stream, clearLine)
				}
				baton.stream.Write(msg.str)
				if !bytes.HasSuffix(msg.str, []byte{'\n'}) {
					baton.stream.Write([]byte{'\n'})
				}
				baton.stream.Write(status)
			case progressMsg:
				io.WriteString(baton.stream, clearLine)
				baton.stream.Write(msg.str)
				status = msg.str
			}
		}
	}()
	return baton
}

func (baton *Baton) setInteractivity(enabled bool) {
	if baton != nil {
		baton.Sync()
		baton.Lock()
		baton.progressEnabled = enabled
		baton.Unlock()
	}
}

func (baton *Baton) enabled() bool {
	baton.Lock()
	defer baton.Unlock()
	return baton.progressEnabled
}

// Write lets the baton stand in for a log destination.
func (baton *Baton) Write(b []byte) (int, error) {
	if baton == nil {
		return len(b), nil
	}
	if baton.enabled() {
		baton.channel <- message{logMsg, append([]byte(nil), b...)}
		return len(b), nil
	}
	return baton.stream.Write(b)
}

func (baton *Baton) printLogString(s string) {
	baton.Write([]byte(s))
}

// Sync waits until everything sent so far has been written.
func (baton *Baton) Sync() {
	if baton != nil {
		baton.channel <- message{syncMsg, nil}
		<-baton.channel
	}
}

func (baton *Baton) startProgress(tag string, expected int) {
	if baton != nil && baton.enabled() {
		baton.Lock()
		baton.tag = tag
		baton.count = 0
		baton.expected = expected
		baton.start = time.Now()
		baton.lastupdate = baton.start
		baton.Unlock()
	}
}

// percentProgress reports count of expected, at most once a second
// except for the last step.
func (baton *Baton) percentProgress(count, expected int) {
	if baton == nil || !baton.enabled() {
		return
	}
	baton.Lock()
	baton.expected = expected
	if time.Since(baton.lastupdate) < progressInterval && count != expected {
		baton.Unlock()
		return
	}
	baton.count = count
	baton.lastupdate = time.Now()
	var buf bytes.Buffer
	baton.render(&buf)
	baton.Unlock()
	baton.channel <- message{progressMsg, buf.Bytes()}
}

func (baton *Baton) endProgress() {
	if baton != nil && baton.enabled() {
		baton.Lock()
		var buf bytes.Buffer
		baton.count = baton.expected
		baton.render(&buf)
		buf.WriteByte('\n')
		baton.tag = ""
		baton.Unlock()
		baton.channel <- message{logMsg, buf.Bytes()}
		baton.channel <- message{progressMsg, nil}
	}
}

// render must be called with the lock held.
func (baton *Baton) render(b io.Writer) {
	if baton.expected <= 0 {
		fmt.Fprintf(b, "%s %d", baton.tag, baton.count)
		return
	}
	elapsed := baton.lastupdate.Sub(baton.start)
	frac := float64(baton.count) / float64(baton.expected)
	rate := "∞"
	if elapsed.Seconds() > 0 {
		rate = fmt.Sprintf("%.0f", float64(baton.count)/elapsed.Seconds())
	}
	if elapsed > time.Second {
		elapsed = elapsed.Round(time.Second)
	}
	fmt.Fprintf(b, "%s %.2f%% %d/%d, %v @ %s/s", baton.tag, frac*100, baton.count, baton.expected, elapsed, rate)
}
