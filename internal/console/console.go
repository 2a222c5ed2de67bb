// Package console is mash's single writer onto stdout. Every goroutine
// that wants to print (shell output, status lines, control-command
// replies, debug traces) funnels through here so lines from concurrent
// shells never interleave mid-write.
package console

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Console serializes writes to stdout and optionally mirrors them to an
// append-only transcript log file.
type Console struct {
	mu               sync.Mutex
	interactive      bool
	lastStatusLength int
	logFile          *os.File
}

// New opens logPath (if non-empty) for appending and returns a ready
// Console. interactive controls whether Output erases a pending status
// line before writing.
func New(interactive bool, logPath string) *Console {
	c := &Console{interactive: interactive}
	if logPath != "" {
		c.SetLogFile(logPath)
	}
	return c
}

// Output writes msg to stdout (and the log file, if any), first erasing
// any status line previously drawn via SetLastStatusLength.
func (c *Console) Output(msg []byte) {
	c.OutputWithLog(msg, nil)
}

// OutputWithLog writes msg to stdout but logMsg (if non-nil) to the log
// file instead, so the log can carry an uncolored variant of what the
// terminal shows.
func (c *Console) OutputWithLog(msg, logMsg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toLog := msg
	if logMsg != nil {
		toLog = logMsg
	}
	c.logLocked(toLog)

	if c.interactive && c.lastStatusLength > 0 {
		fmt.Printf("\r%s\r", strings.Repeat(" ", c.lastStatusLength))
		c.lastStatusLength = 0
	}
	os.Stdout.Write(msg)
}

// Log writes msg to the transcript log only, bypassing stdout. Used for
// records that the terminal already shows another way, like the operator's
// own typed line (echoed by the line editor) and forwarded ^C/^Z.
func (c *Console) Log(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logLocked(msg)
}

func (c *Console) logLocked(msg []byte) {
	if c.logFile != nil {
		c.logFile.Write(msg)
	}
}

// SetLastStatusLength records the width of the status line currently
// shown, so the next Output call knows how much to erase first.
func (c *Console) SetLastStatusLength(length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStatusLength = length
}

// SetLogFile (re)opens path for appending as the transcript log. Passing
// an empty path disables logging.
func (c *Console) SetLogFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", path, err)
		return
	}
	c.logFile = f
}

// DisableLog stops mirroring output to the transcript log.
func (c *Console) DisableLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}

// HasLog reports whether a transcript log file is currently open.
func (c *Console) HasLog() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logFile != nil
}
