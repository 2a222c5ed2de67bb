// Package shell implements the per-remote-shell state machine: it tames a
// freshly spawned ssh session into a scriptable, prompt-synchronized
// pipeline by injecting a small init string, watches for the split-echo
// callback triggers in the output stream, and turns raw PTY bytes into
// clean, prefixed lines for the console.
package shell

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/crisidev/mash/internal/callbacks"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/displaynames"
	"github.com/crisidev/mash/internal/ptyspawn"
)

// ID identifies a RemoteShell for the lifetime of the process.
type ID uint64

// State is the RemoteShell's lifecycle stage.
type State int

const (
	NotStarted State = iota
	Idle
	Running
	Terminated
	Dead
)

// String returns the lowercase, underscore-separated name used in log
// lines and the ":list" control command output.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// colors is the fixed rotation assigned to shells in spawn order, so
// adjacent shells are visually distinguishable.
var colors = []lipgloss.Color{
	lipgloss.Color("8"), // bright black
	lipgloss.Color("1"), // red
	lipgloss.Color("2"), // green
	lipgloss.Color("3"), // yellow
	lipgloss.Color("4"), // blue
	lipgloss.Color("5"), // magenta
	lipgloss.Color("6"), // cyan
	lipgloss.Color(""),  // default
}

// RemoteShell owns one ssh child process's PTY and drives its output
// through the line-printing pipeline.
type RemoteShell struct {
	ID          ID
	Hostname    string
	Port        string
	DisplayName string
	Enabled     bool
	State       State
	Pid         int
	Master      *os.File

	useColor   bool
	colorStyle lipgloss.Style

	Debug bool

	ReadBuffer            []byte
	WriteBuffer           []byte
	LastPrintedLine       []byte
	ReadInStateNotStarted []byte

	InitString     []byte
	InitStringSent bool

	Command  *string
	Password *string

	Callbacks *callbacks.Registry
}

// New constructs a RemoteShell in NotStarted state and builds its init
// string. colorIdx selects the shell's color from the fixed rotation when
// useColor is true.
func New(id ID, hostname, port, displayName string, pid int, master *os.File, debug bool, command, password *string, colorIdx int, useColor bool) *RemoteShell {
	s := &RemoteShell{
		ID:          id,
		Hostname:    hostname,
		Port:        port,
		DisplayName: displayName,
		Enabled:     true,
		State:       NotStarted,
		Pid:         pid,
		Master:      master,
		useColor:    useColor,
		Debug:       debug,
		Command:     command,
		Password:    password,
		Callbacks:   callbacks.NewRegistry(),
	}
	if useColor {
		color := colors[colorIdx%len(colors)]
		s.colorStyle = lipgloss.NewStyle().Foreground(color).Bold(true)
	}
	s.InitString = buildInitString(s.Callbacks)
	return s
}

// buildInitString returns the shell-taming script sent once the remote
// side is ready: it disables zsh's line editor and history hooks, strips
// interactive prompt decorations, and installs a synthetic PS1 whose
// expansion is the registry's split-echo "seen prompt" trigger.
func buildInitString(reg *callbacks.Registry) []byte {
	var init []byte
	init = append(init, "unsetopt zle 2>/dev/null\n"...)
	init = append(init, `stty -echo -onlcr -ctlecho;bind "set enable-bracketed-paste off" 2>/dev/null;`...)
	init = append(init, "unset precmd_functions preexec_functions chpwd_functions 2>/dev/null;"...)
	init = append(init, "unfunction precmd preexec 2>/dev/null;unset -f precmd preexec 2>/dev/null;"...)
	init = append(init, "prompt off 2>/dev/null;"...)
	init = append(init, "unsetopt PROMPT_CR PROMPT_SP 2>/dev/null;PROMPT_EOL_MARK=;"...)
	init = append(init, "PS2=;RPS1=;RPROMPT=;PROMPT_COMMAND=;TERM=ansi;unset HISTFILE;"...)

	p1, p2 := reg.Add([]byte("prompt"), callbacks.Action{Kind: callbacks.ActionSeenPrompt}, true)
	init = append(init, `PS1="`...)
	init = append(init, p1...)
	init = append(init, `""`...)
	init = append(init, p2...)
	init = append(init, "\n\"\n"...)
	return init
}

// RebuildInitString regenerates the init string with a fresh trigger,
// first dropping the shell's previous SeenPrompt entry so the registry
// does not accumulate a stale callback on every ":reset_prompt".
func (s *RemoteShell) RebuildInitString() {
	s.Callbacks.RemoveSeenPrompt([]byte("prompt"))
	s.InitString = buildInitString(s.Callbacks)
}

func (s *RemoteShell) changeState(newState State, c *console.Console) {
	if newState == s.State {
		return
	}
	if s.Debug && c != nil {
		s.printDebug([]byte(fmt.Sprintf("state => %s", newState)), c)
	}
	if s.State == NotStarted {
		s.ReadInStateNotStarted = nil
	}
	s.State = newState
}

// WriteToPty writes data to the PTY master, best-effort (a write failure
// here means the child already died; the next read will surface that).
func (s *RemoteShell) WriteToPty(data []byte) {
	s.Master.Write(data)
}

// DispatchWrite forwards buf to the shell if it is enabled and not dead,
// reporting whether anything was written.
func (s *RemoteShell) DispatchWrite(buf []byte) bool {
	if s.State != Dead && s.Enabled {
		s.WriteToPty(buf)
		return true
	}
	return false
}

// DispatchCommand forwards command to the shell, transitioning Idle to
// Running the moment something is typed at an idle prompt.
func (s *RemoteShell) DispatchCommand(command []byte) {
	if s.DispatchWrite(command) && s.State == Idle {
		s.changeState(Running, nil)
	}
}

// SetEnabled toggles whether the shell receives broadcast input, keeping
// the Display-Name Registry's enabled-length tracking (used for console
// column alignment) in sync. names may be nil in contexts that don't track
// alignment (e.g. tests).
func (s *RemoteShell) SetEnabled(enabled bool, names *displaynames.Registry) {
	if s.Enabled == enabled {
		return
	}
	s.Enabled = enabled
	if names != nil {
		names.SetEnabled(s.DisplayName, enabled)
	}
}

// Disconnect kills the shell's process group, flushes any buffered
// not-yet-started output, and marks the shell Dead.
func (s *RemoteShell) Disconnect(c *console.Console, maxNameLen int, names *displaynames.Registry) {
	_ = ptyspawn.Kill(s.Pid)
	s.ReadBuffer = nil
	s.WriteBuffer = nil
	s.SetEnabled(false, names)

	if len(s.ReadInStateNotStarted) > 0 {
		data := s.ReadInStateNotStarted
		s.ReadInStateNotStarted = nil
		s.PrintLines(data, c, maxNameLen)
	}

	s.changeState(Dead, c)
}

// PrintLines cleans lines (stripping blank lines at the edges and
// collapsing internal blank lines) and writes it to the console prefixed
// with the shell's display name on every line, colorized on the terminal
// but plain in the transcript log.
func (s *RemoteShell) PrintLines(lines []byte, c *console.Console, maxNameLen int) {
	cleaned := stripNewlines(lines)
	if len(cleaned) == 0 {
		return
	}

	indent := 0
	if maxNameLen >= len(s.DisplayName) {
		indent = maxNameLen - len(s.DisplayName)
	}

	logPrefix := fmt.Sprintf("%s%s : ", s.DisplayName, strings.Repeat(" ", indent))
	consolePrefix := logPrefix
	if s.useColor {
		consolePrefix = s.colorStyle.Render(logPrefix)
	}

	logPrefixBytes := []byte(logPrefix)
	consolePrefixBytes := []byte(consolePrefix)

	consoleData := append([]byte{}, consolePrefixBytes...)
	logData := append([]byte{}, logPrefixBytes...)

	for _, b := range cleaned {
		if b == '\n' {
			consoleData = append(consoleData, '\n')
			consoleData = append(consoleData, consolePrefixBytes...)
			logData = append(logData, '\n')
			logData = append(logData, logPrefixBytes...)
		} else {
			consoleData = append(consoleData, b)
			logData = append(logData, b)
		}
	}
	consoleData = append(consoleData, '\n')
	logData = append(logData, '\n')

	c.OutputWithLog(consoleData, logData)

	if idx := bytes.LastIndexByte(cleaned, '\n'); idx >= 0 {
		s.LastPrintedLine = append([]byte{}, cleaned[idx+1:]...)
	} else {
		s.LastPrintedLine = append([]byte{}, cleaned...)
	}
}

// HandleData consumes newly read PTY bytes, advancing the state machine,
// printing complete lines, and servicing callback triggers and the
// password auto-reply. It returns a non-nil new display name when a
// rename callback fired.
func (s *RemoteShell) HandleData(newData []byte, c *console.Console, maxNameLen int, interactive bool, names *displaynames.Registry) []byte {
	if s.State == Dead {
		return nil
	}

	if s.Debug {
		s.printDebug(append([]byte("==> "), newData...), c)
	}

	s.ReadBuffer = append(s.ReadBuffer, newData...)

	var pendingRename []byte

	if s.State == Running && !s.Callbacks.AnyIn(s.ReadBuffer) {
		if idx := bytes.LastIndexByte(s.ReadBuffer, '\n'); idx >= 0 {
			toPrint := s.ReadBuffer[:idx]
			s.ReadBuffer = append([]byte{}, s.ReadBuffer[idx+1:]...)
			s.PrintLines(toPrint, c, maxNameLen)
			return nil
		}
	}

	if s.State == NotStarted && s.Password != nil {
		if bytes.Contains(bytes.ToLower(s.ReadBuffer), []byte("password:")) {
			pw := *s.Password + "\n"
			s.WriteToPty([]byte(pw))
			s.ReadBuffer = nil
			return nil
		}
	}

	for {
		lfPos := bytes.IndexByte(s.ReadBuffer, '\n')
		if lfPos < 0 {
			break
		}
		line := append([]byte{}, s.ReadBuffer[:lfPos+1]...)
		s.ReadBuffer = append([]byte{}, s.ReadBuffer[lfPos+1:]...)

		if action, ok := s.Callbacks.Process(line); ok {
			switch action.Kind {
			case callbacks.ActionSeenPrompt:
				if interactive {
					s.changeState(Idle, c)
				} else if s.Command != nil {
					cmd := *s.Command
					s.Command = nil
					p1, p2 := s.Callbacks.Add([]byte("real prompt ends"), callbacks.Action{Kind: callbacks.ActionNone}, true)
					ps1Cmd := fmt.Sprintf("PS1=\"%s\"\"%s\n\"\n", p1, p2)
					s.WriteToPty([]byte(ps1Cmd))
					s.WriteToPty([]byte(cmd))
					s.WriteToPty([]byte("exit 2>/dev/null\n"))
				}
			case callbacks.ActionRename:
				if len(action.NewName) > 0 {
					pendingRename = action.NewName
				} else {
					pendingRename = []byte(s.Hostname)
				}
			}
		} else if s.State == Idle || s.State == Running {
			s.PrintLines(line, c, maxNameLen)
		} else if s.State == NotStarted {
			s.ReadInStateNotStarted = append(s.ReadInStateNotStarted, line...)
			if bytes.Contains(line, []byte("The authenticity of host ")) {
				trimmed := bytes.TrimSpace(line)
				msg := append(append([]byte{}, trimmed...), " Closing connection. Consider manually connecting or using ssh-keyscan."...)
				s.PrintLines(msg, c, maxNameLen)
				s.Disconnect(c, maxNameLen, names)
				return pendingRename
			} else if bytes.Contains(line, []byte("REMOTE HOST IDENTIFICATION HAS CHANG")) {
				msg := []byte("Remote host identification has changed. Consider manually connecting or using ssh-keyscan.")
				s.PrintLines(msg, c, maxNameLen)
			}
		}

		if s.State == Running && !s.Callbacks.AnyIn(s.ReadBuffer) {
			if idx := bytes.LastIndexByte(s.ReadBuffer, '\n'); idx >= 0 {
				toPrint := s.ReadBuffer[:idx]
				s.ReadBuffer = append([]byte{}, s.ReadBuffer[idx+1:]...)
				s.PrintLines(toPrint, c, maxNameLen)
				return pendingRename
			}
		}
	}

	if s.State == NotStarted && !s.InitStringSent {
		s.WriteToPty(s.InitString)
		s.InitStringSent = true
	}

	return pendingRename
}

// PrintUnfinishedLine flushes a trailing, newline-less Running buffer to
// the console (e.g. "Do you want to continue? [Y/n] ") so it isn't lost
// while the shell waits on more input.
func (s *RemoteShell) PrintUnfinishedLine(c *console.Console, maxNameLen int) {
	if s.State == Running && len(s.ReadBuffer) > 0 {
		buf := s.ReadBuffer
		s.ReadBuffer = nil
		if _, ok := s.Callbacks.Process(buf); !ok {
			s.PrintLines(buf, c, maxNameLen)
		}
	}
}

// SetTermSize resizes the PTY so the remote shell's idea of the terminal
// matches the local window.
func (s *RemoteShell) SetTermSize(cols, rows int) {
	_ = ptyspawn.SetSize(s.Master, rows, cols)
}

// GetInfo returns the display_name / enabled-disabled / "state:" /
// last-printed-line columns shown by the ":list" control command.
func (s *RemoteShell) GetInfo() [][]byte {
	enabled := []byte("disabled")
	if s.Enabled {
		enabled = []byte("enabled")
	}
	return [][]byte{
		[]byte(s.DisplayName),
		enabled,
		[]byte(s.State.String() + ":"),
		s.LastPrintedLine,
	}
}

func (s *RemoteShell) printDebug(msg []byte, c *console.Console) {
	var out []byte
	out = append(out, "[dbg] "...)
	out = append(out, s.DisplayName...)
	out = append(out, '[')
	out = append(out, s.State.String()...)
	out = append(out, "]: "...)
	out = append(out, msg...)
	out = append(out, '\n')
	c.Output(out)
}

// stripNewlines drops whitespace-only lines from data and rejoins the
// rest with single newlines, so batches of shell output never carry blank
// padding into the console.
func stripNewlines(data []byte) []byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return bytes.Join(lines, []byte("\n"))
}
