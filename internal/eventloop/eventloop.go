// Package eventloop owns the central select loop: it fans PTY output,
// operator input, and OS signals into the shell state machines and control
// command dispatcher, and renders the status prompt between commands.
package eventloop

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/crisidev/mash/internal/completion"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/controlcmd"
	"github.com/crisidev/mash/internal/displaynames"
	"github.com/crisidev/mash/internal/events"
	"github.com/crisidev/mash/internal/hostsyntax"
	"github.com/crisidev/mash/internal/input"
	"github.com/crisidev/mash/internal/ptyspawn"
	"github.com/crisidev/mash/internal/shell"
	"github.com/crisidev/mash/internal/shellmanager"
	"github.com/crisidev/mash/internal/signalwatch"
)

// ShellEvent is what a reader goroutine reports back to the event loop:
// either a chunk of freshly read PTY data, or the shell's process exit.
type ShellEvent struct {
	ID       shell.ID
	Data     []byte
	Closed   bool
	ExitCode int
}

// ReaderTask owns one shell's PTY master: it reads continuously, translates
// the carriage returns a raw terminal line discipline emits into plain
// newlines, and forwards everything to out until the child exits.
func ReaderTask(id shell.ID, child *ptyspawn.Child, out chan<- ShellEvent) {
	buf := make([]byte, 4096)
	for {
		n, err := child.Master.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			for i, b := range data {
				if b == '\r' {
					data[i] = '\n'
				}
			}
			out <- ShellEvent{ID: id, Data: data}
		}
		if err != nil {
			out <- ShellEvent{ID: id, Closed: true, ExitCode: waitExitCode(child)}
			return
		}
	}
}

func waitExitCode(child *ptyspawn.Child) int {
	err := child.Cmd.Wait()
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}

// SpawnShell starts a new ssh child for hostAndPort, registers it with mgr,
// and launches its reader goroutine against out.
func SpawnShell(hostAndPort, sshTemplate, user string, debug bool, command, password *string, mgr *shellmanager.Manager, names *displaynames.Registry, out chan<- ShellEvent) (shell.ID, error) {
	host, port := hostsyntax.SplitPort(hostAndPort)
	child, err := ptyspawn.SpawnSSH(host, port, sshTemplate, user)
	if err != nil {
		return 0, fmt.Errorf("eventloop: spawn %s: %w", hostAndPort, err)
	}
	id := mgr.AddShell(host, port, child.Pid(), child.Master, debug, command, password, names)
	go ReaderTask(id, child, out)
	events.GlobalBus.Publish(events.ShellStarted, host)
	return id, nil
}

// KillAll disconnects every still-live shell, used on shutdown and on a
// non-interactive SIGINT.
func KillAll(mgr *shellmanager.Manager, names *displaynames.Registry, c *console.Console) {
	maxLen := names.MaxDisplayNameLength
	for _, s := range mgr.AllShells() {
		if s.State != shell.Dead {
			s.Disconnect(c, maxLen, names)
		}
	}
}

// glyphs mirrors the status legend printed by ":help".
const (
	glyphIdle       = "●"
	glyphRunning    = "◉"
	glyphNotStarted = "◌"
	glyphDead       = "✕"
	glyphDisabled   = "○"
)

func colorize(s, code string, useColor bool) string {
	if !useColor {
		return s
	}
	return fmt.Sprintf("\x1b[%sm%s\x1b[0m", code, s)
}

// BuildPrompt renders the "mash [...] ❯❯❯ " prompt from the current state
// counts, coloring each glyph by its state when useColor is set.
func BuildPrompt(counts shellmanager.StateCounts, useColor bool) string {
	var parts []string
	if counts.Idle > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", colorize(glyphIdle, "32", useColor), counts.Idle))
	}
	if counts.Running > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", colorize(glyphRunning, "33", useColor), counts.Running))
	}
	if counts.NotStarted > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", colorize(glyphNotStarted, "34", useColor), counts.NotStarted))
	}
	if counts.Dead > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", colorize(glyphDead, "31", useColor), counts.Dead))
	}
	if counts.Disabled > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", colorize(glyphDisabled, "90", useColor), counts.Disabled))
	}

	arrow := "❯❯❯"
	if useColor {
		arrow = colorize("❯", "31", true) + colorize("❯", "33", true) + colorize("❯", "32", true)
	}

	return fmt.Sprintf("mash [%s] %s ", strings.Join(parts, " "), arrow)
}

// Options configures one Run invocation. Command and Password are handed
// to shells spawned later via ":add"/":reconnect" so they behave like the
// ones spawned at startup.
type Options struct {
	SSHTemplate string
	User        string
	Debug       bool
	Interactive bool
	UseColor    bool
	Command     *string
	Password    *string
}

func strPtr(s string) *string { return &s }

// Run drives the event loop until every shell has terminated or the
// operator issues ":quit", returning the process exit code.
func Run(mgr *shellmanager.Manager, names *displaynames.Registry, c *console.Console, state *completion.State, shellEvents chan ShellEvent, opts Options) int {
	sigEvents, stopSignals := signalwatch.Listen()
	defer stopSignals()

	var reqCh chan<- input.Request
	var evCh <-chan input.Event
	if opts.Interactive {
		reqCh, evCh = input.Spawn(state)
	}

	deps := &controlcmd.Dependencies{
		Manager:     mgr,
		Names:       names,
		Console:     c,
		Interactive: opts.Interactive,
		UseColor:    opts.UseColor,
	}

	if opts.Debug {
		logClosed := func(host string) { c.Output([]byte(fmt.Sprintf("[dbg] %s disconnected\n", host))) }
		events.GlobalBus.Subscribe(events.ShellClosed, logClosed)
		defer events.GlobalBus.Unsubscribe(events.ShellClosed, logClosed)
	}

	exitCode := 0
	quit := false
	awaitingInput := false
	drainPending := false

	drain := time.NewTimer(200 * time.Millisecond)
	if !drain.Stop() {
		<-drain.C
	}
	defer drain.Stop()

	stopDrain := func() {
		if drainPending {
			if !drain.Stop() {
				select {
				case <-drain.C:
				default:
				}
			}
			drainPending = false
		}
	}

	requestPrompt := func() {
		for _, s := range mgr.AllShells() {
			s.PrintUnfinishedLine(c, names.MaxDisplayNameLength)
		}
		counts := mgr.CountByState()
		prompt := BuildPrompt(counts, opts.UseColor)
		visible := BuildPrompt(counts, false)
		c.SetLastStatusLength(len(visible))
		reqCh <- input.Request{Kind: input.ReadLine, Prompt: prompt}
		awaitingInput = true
		stopDrain()
	}

	for !quit {
		if mgr.AllTerminated() {
			break
		}

		if opts.Interactive && !awaitingInput {
			if awaiting, _ := mgr.CountAwaitedProcesses(); awaiting == 0 {
				requestPrompt()
			} else if !drainPending {
				drain.Reset(200 * time.Millisecond)
				drainPending = true
			}
		}

		select {
		case se := <-shellEvents:
			s := mgr.GetShell(se.ID)
			if s == nil {
				continue
			}
			if se.Closed {
				if se.ExitCode > exitCode {
					exitCode = se.ExitCode
				}
				if se.ExitCode != 0 && opts.Interactive {
					c.Output([]byte(fmt.Sprintf("Error talking to %s\n", s.DisplayName)))
				}
				stopDrain()
				s.Disconnect(c, names.MaxDisplayNameLength, names)
				events.GlobalBus.Publish(events.ShellClosed, s.Hostname)
				continue
			}
			stopDrain()
			if newName := s.HandleData(se.Data, c, names.MaxDisplayNameLength, opts.Interactive, names); newName != nil {
				if renamed, ok := names.Change(&s.DisplayName, strPtr(string(newName))); ok {
					s.DisplayName = renamed
				}
			}
			state.UpdateFromManager(mgr)

		case ev, ok := <-evCh:
			if !ok {
				// The line editor goroutine died; without an input side
				// there is nothing interactive left to do.
				quit = true
				continue
			}
			awaitingInput = false
			switch ev.Kind {
			case input.EventEOF:
				quit = true
			case input.EventInterrupted:
				for _, s := range mgr.AllShells() {
					if s.Enabled && s.State == shell.Running {
						s.WriteToPty([]byte{0x03})
					}
				}
			case input.EventLine:
				c.Log([]byte(fmt.Sprintf("> %s\n", ev.Line)))
				if handleLine(ev.Line, deps, shellEvents, opts) {
					quit = true
				}
				state.UpdateFromManager(mgr)
				if !strings.HasPrefix(ev.Line, ":") {
					state.AddHistoryWords(ev.Line)
				}
			}

		case sig := <-sigEvents:
			switch sig {
			case signalwatch.Winch:
				if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
					cols := w - (names.MaxDisplayNameLength + 2)
					if cols < 10 {
						cols = 10
					}
					for _, s := range mgr.AllShells() {
						if s.Enabled {
							s.SetTermSize(cols, h)
						}
					}
				}
			case signalwatch.Int:
				if opts.Interactive {
					c.Log([]byte("> ^C\n"))
					for _, s := range mgr.AllShells() {
						if s.Enabled {
							s.WriteToPty([]byte{0x03})
						}
					}
					c.Output(nil)
				} else {
					KillAll(mgr, names, c)
					return 128 + int(syscall.SIGINT)
				}
			case signalwatch.Tstp:
				c.Log([]byte("> ^Z\n"))
				if opts.Interactive {
					for _, s := range mgr.AllShells() {
						if s.Enabled {
							s.WriteToPty([]byte{0x1a})
						}
					}
					c.Output(nil)
				}
			}

		case <-drain.C:
			drainPending = false
			if opts.Interactive && !awaitingInput {
				requestPrompt()
			}
		}
	}

	KillAll(mgr, names, c)
	if reqCh != nil {
		reqCh <- input.Request{Kind: input.Shutdown}
	}
	c.Output(nil)
	return exitCode
}

// handleLine dispatches one line of operator input: a ":" control command,
// a "!" local shell escape, or a plain command broadcast to every enabled
// shell. It returns true when the operator asked to quit.
func handleLine(line string, deps *controlcmd.Dependencies, shellEvents chan ShellEvent, opts Options) bool {
	switch {
	case strings.HasPrefix(line, ":"):
		res := controlcmd.Dispatch(line, deps)
		switch res.Kind {
		case controlcmd.ResultQuit:
			return true
		case controlcmd.ResultErrorKind:
			deps.Console.Output([]byte(res.Error + "\n"))
		case controlcmd.ResultAddHosts:
			for _, host := range res.Hosts {
				if _, err := SpawnShell(host, opts.SSHTemplate, opts.User, opts.Debug, opts.Command, opts.Password, deps.Manager, deps.Names, shellEvents); err != nil {
					deps.Console.Output([]byte(err.Error() + "\n"))
				}
			}
		}
		return false

	case strings.HasPrefix(line, "!"):
		cmd := exec.Command("/bin/sh", "-c", line[1:])
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				if code := exitErr.ExitCode(); code > 0 {
					deps.Console.Output([]byte(fmt.Sprintf("Child returned %d\n", code)))
				} else {
					deps.Console.Output([]byte("Child was terminated by signal\n"))
				}
			} else {
				deps.Console.Output([]byte(fmt.Sprintf("Error: %v\n", err)))
			}
		}
		return false

	case line == "\x04":
		for _, s := range deps.Manager.AllShells() {
			s.DispatchCommand([]byte{0x04})
		}
		return false

	default:
		// Every shell sees the broadcast; DispatchCommand itself gates on
		// Enabled/Dead, so a disabled shell simply discards it.
		for _, s := range deps.Manager.AllShells() {
			s.DispatchCommand([]byte(line + "\n"))
		}
		return false
	}
}
