// Package controlcmd implements the ":"-prefixed control commands: the
// operator's interface for listing, enabling/disabling, reconnecting,
// renaming, and otherwise steering the managed shells without leaving the
// input line.
package controlcmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gobwas/glob"

	"github.com/crisidev/mash/internal/callbacks"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/displaynames"
	"github.com/crisidev/mash/internal/hostsyntax"
	"github.com/crisidev/mash/internal/ptyspawn"
	"github.com/crisidev/mash/internal/shell"
	"github.com/crisidev/mash/internal/shellmanager"
)

// ResultKind tags what the event loop should do after a command runs.
type ResultKind int

const (
	ResultOk ResultKind = iota
	ResultQuit
	ResultErrorKind
	ResultAddHosts
)

// Result is the outcome of dispatching one control command.
type Result struct {
	Kind  ResultKind
	Error string
	Hosts []string
}

func ok() Result { return Result{Kind: ResultOk} }

func errf(format string, a ...any) Result {
	return Result{Kind: ResultErrorKind, Error: fmt.Sprintf(format, a...)}
}

type commandSpec struct {
	Name        string
	Args        string
	Description string
}

// commands is the canonical table backing both ":help" and completion.
var commands = []commandSpec{
	{"help", "", "show this help"},
	{"list", "[pattern]", "list matching shells and their state"},
	{"quit", "", "disconnect every shell and exit"},
	{"enable", "[pattern]", "enable matching shells (inverts the rest when already enabled)"},
	{"disable", "[pattern]", "disable matching shells (inverts the rest when already disabled)"},
	{"reconnect", "[pattern]", "reconnect matching dead shells"},
	{"add", "<host> [host...]", "spawn new shells for the given hosts"},
	{"purge", "[pattern]", "remove matching disabled shells"},
	{"rename", "<name>", "rename every enabled shell"},
	{"send_ctrl", "<letter> [pattern]", "send a control character"},
	{"reset_prompt", "[pattern]", "re-send the shell taming init string"},
	{"chdir", "[path]", "change mash's own working directory"},
	{"hide_password", "", "stop echoing, debugging, and logging typed input"},
	{"set_debug", "<y|n> [pattern]", "toggle per-shell debug tracing"},
	{"export_vars", "", "export MASH_* variables into every enabled shell"},
	{"set_log", "[path]", "start or stop transcript logging"},
	{"show_read_buffer", "[pattern]", "flush a shell's buffered not-started output"},
}

// ListCommandNames returns every control command's bare name, in table
// order, for completion.
func ListCommandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Name
	}
	return names
}

// Dependencies bundles the state Dispatch needs to act on, so command
// handlers never reach for ambient globals.
type Dependencies struct {
	Manager     *shellmanager.Manager
	Names       *displaynames.Registry
	Console     *console.Console
	Interactive bool
	UseColor    bool
}

// Dispatch parses and runs a single ":command args..." line.
func Dispatch(line string, deps *Dependencies) Result {
	line = strings.TrimPrefix(line, ":")
	if line == "" {
		return ok()
	}
	name, params, _ := strings.Cut(line, " ")
	params = strings.TrimSpace(params)

	switch name {
	case "help":
		return doHelp(deps)
	case "list":
		return doList(deps, params)
	case "quit":
		return Result{Kind: ResultQuit}
	case "enable":
		return doToggle(deps, params, true)
	case "disable":
		return doToggle(deps, params, false)
	case "reconnect":
		return doReconnect(deps, params)
	case "add":
		return doAdd(params)
	case "purge":
		return doPurge(deps, params)
	case "rename":
		return doRename(deps, params)
	case "send_ctrl":
		return doSendCtrl(deps, params)
	case "reset_prompt":
		return doResetPrompt(deps, params)
	case "chdir":
		return doChdir(params)
	case "hide_password":
		return doHidePassword(deps)
	case "set_debug":
		return doSetDebug(deps, params)
	case "export_vars":
		return doExportVars(deps)
	case "set_log":
		return doSetLog(deps, params)
	case "show_read_buffer":
		return doShowReadBuffer(deps, params)
	default:
		return errf("unknown command %q, try :help", name)
	}
}

// selectShells resolves every whitespace-separated token in params to the
// shells whose display name or last printed line matches it; each token is
// first run through "<N-M,...>" host-syntax expansion, and each expanded
// sub-pattern matches as a glob or, if it isn't valid glob syntax, as an
// exact string. A token that matches nothing is reported on the console but
// doesn't stop the rest of the selection. Empty params and "*" both select
// every shell.
func selectShells(deps *Dependencies, params string) []*shell.RemoteShell {
	all := deps.Manager.AllShells()
	if params == "" || params == "*" {
		return all
	}

	var matched []*shell.RemoteShell
	seen := make(map[shell.ID]bool)

	for _, token := range strings.Fields(params) {
		found := false
		for _, pattern := range hostsyntax.ExpandSyntax(token) {
			g, compileErr := glob.Compile(pattern)
			for _, s := range all {
				if seen[s.ID] {
					continue
				}
				var hit bool
				if compileErr == nil {
					hit = g.Match(s.DisplayName) || g.Match(string(s.LastPrintedLine))
				} else {
					hit = s.DisplayName == pattern || string(s.LastPrintedLine) == pattern
				}
				if hit {
					found = true
					seen[s.ID] = true
					matched = append(matched, s)
				}
			}
		}
		if !found && len(all) > 0 {
			deps.Console.Output([]byte(fmt.Sprintf("%s not found\n", token)))
		}
	}
	return matched
}

func doList(deps *Dependencies, params string) Result {
	matched := selectShells(deps, params)
	infos := make([][][]byte, 0, len(matched))
	for _, s := range matched {
		infos = append(infos, s.GetInfo())
	}
	for _, line := range shellmanager.FormatInfo(infos) {
		deps.Console.Output(line)
	}
	return ok()
}

func doHelp(deps *Dependencies) Result {
	header := func(c commandSpec) string {
		h := ":" + c.Name
		if c.Args != "" {
			h += " " + c.Args
		}
		return h
	}

	maxHeader := 0
	for _, c := range commands {
		if l := len(header(c)); l > maxHeader {
			maxHeader = l
		}
	}

	bold := lipgloss.NewStyle().Bold(true)
	dim := lipgloss.NewStyle().Faint(true)

	var b strings.Builder
	b.WriteString("mash status glyphs: ")
	b.WriteString("● idle  ◉ running  ◌ not_started  ✕ dead  ○ disabled\n\n")
	b.WriteString("commands:\n")
	for _, c := range commands {
		h := header(c)
		pad := strings.Repeat(" ", maxHeader-len(h)+2)
		line := h + pad + c.Description
		if deps.UseColor {
			styled := bold.Render(":" + c.Name)
			if c.Args != "" {
				styled += " " + dim.Render(c.Args)
			}
			line = styled + pad + dim.Render(c.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("Omitting pattern selects all shells.\n")
	deps.Console.Output([]byte(b.String()))
	return ok()
}

// doToggle implements ":enable"/":disable", including the toggle-inversion
// rule: when the operator explicitly named a selection (not "" or "*") and
// every matched shell already sits at the target state (dead shells don't
// count), the command instead inverts the enabled flag of every other
// non-dead shell, so a repeated ":disable foo" doesn't become a silent
// no-op.
func doToggle(deps *Dependencies, params string, target bool) Result {
	matched := selectShells(deps, params)
	explicit := params != "" && params != "*"

	if explicit && len(matched) > 0 {
		allAlreadyAtTarget := true
		for _, s := range matched {
			if s.State != shell.Dead && s.Enabled != target {
				allAlreadyAtTarget = false
				break
			}
		}
		if allAlreadyAtTarget {
			matchedIDs := make(map[shell.ID]bool, len(matched))
			for _, s := range matched {
				matchedIDs[s.ID] = true
			}
			for _, s := range deps.Manager.AllShells() {
				if !matchedIDs[s.ID] && s.State != shell.Dead {
					s.SetEnabled(!s.Enabled, deps.Names)
				}
			}
			return ok()
		}
	}

	for _, s := range matched {
		if s.State != shell.Dead {
			s.SetEnabled(target, deps.Names)
		}
	}
	return ok()
}

func doReconnect(deps *Dependencies, params string) Result {
	matched := selectShells(deps, params)

	var hosts []string
	for _, s := range matched {
		if s.State != shell.Dead {
			continue
		}
		host := s.Hostname
		if s.Port != "22" {
			host = s.Hostname + ":" + s.Port
		}
		hosts = append(hosts, host)
		deps.Manager.RemoveShell(s.ID)
		deps.Names.Change(&s.DisplayName, nil)
	}
	if len(hosts) == 0 {
		return ok()
	}
	return Result{Kind: ResultAddHosts, Hosts: hosts}
}

func doAdd(params string) Result {
	hosts := strings.Fields(params)
	if len(hosts) == 0 {
		return errf("usage: :add <host> [host...]")
	}
	return Result{Kind: ResultAddHosts, Hosts: hosts}
}

func doPurge(deps *Dependencies, params string) Result {
	maxLen := deps.Names.MaxDisplayNameLength
	for _, s := range selectShells(deps, params) {
		if s.Enabled {
			continue
		}
		s.Disconnect(deps.Console, maxLen, deps.Names)
		deps.Manager.RemoveShell(s.ID)
		deps.Names.Change(&s.DisplayName, nil)
	}
	return ok()
}

// doRename applies to every currently enabled shell - there is no pattern
// argument, only the new name. An empty name is still dispatched: the
// rename callback treats an empty captured name as "reset to hostname"
// (see shell.HandleData), so the empty-name case must reach the shell the
// same way a non-empty one does.
func doRename(deps *Dependencies, params string) Result {
	newName := strings.TrimSpace(params)
	for _, s := range deps.Manager.AllShells() {
		if !s.Enabled {
			continue
		}
		p1, p2 := s.Callbacks.Add([]byte("rename"), callbacks.Action{Kind: callbacks.ActionRename}, false)
		cmd := fmt.Sprintf("/bin/echo \"%s\"\"%s\" %s\n", p1, p2, newName)
		s.DispatchCommand([]byte(cmd))
	}
	return ok()
}

func doSendCtrl(deps *Dependencies, params string) Result {
	letter, pattern, _ := strings.Cut(params, " ")
	pattern = strings.TrimSpace(pattern)
	if len(letter) != 1 {
		return errf("usage: :send_ctrl <letter> [pattern]")
	}
	c := letter[0]
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	if c < 'a' || c > 'z' {
		return errf("send_ctrl expects a single letter")
	}
	ctrl := byte(c-'a') + 1

	for _, s := range selectShells(deps, pattern) {
		if !s.Enabled {
			continue
		}
		s.WriteToPty([]byte{ctrl})
	}
	return ok()
}

func doResetPrompt(deps *Dependencies, params string) Result {
	for _, s := range selectShells(deps, params) {
		s.RebuildInitString()
		s.DispatchCommand(s.InitString)
	}
	return ok()
}

func doChdir(params string) Result {
	path := strings.TrimSpace(params)
	if path == "" {
		path = "~"
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	if err := os.Chdir(path); err != nil {
		return errf("%v", err)
	}
	return ok()
}

// doHidePassword prepares the terminal for typing a password into the
// broadcast line: per-shell debug tracing and the transcript log would both
// record it, so they go first, then local echo is switched off (the line
// editor restores it on the next prompt).
func doHidePassword(deps *Dependencies) Result {
	warned := false
	for _, s := range deps.Manager.AllShells() {
		if s.Enabled && s.Debug {
			s.Debug = false
			if !warned {
				deps.Console.Output([]byte("Debugging disabled to avoid displaying passwords\n"))
				warned = true
			}
		}
	}

	if deps.Console.HasLog() {
		deps.Console.Output([]byte("Logging disabled to avoid writing passwords\n"))
		deps.Console.DisableLog()
	}

	_ = ptyspawn.SetEcho(os.Stdin, false)
	return ok()
}

func doSetDebug(deps *Dependencies, params string) Result {
	flag, pattern, _ := strings.Cut(params, " ")
	flag = strings.ToLower(flag)
	pattern = strings.TrimSpace(pattern)
	if flag != "y" && flag != "n" {
		return errf("usage: :set_debug <y|n> [pattern]")
	}
	for _, s := range selectShells(deps, pattern) {
		s.Debug = flag == "y"
	}
	return ok()
}

// doExportVars takes no pattern argument: it always applies to every
// enabled shell, in display-name order, so MASH_RANK is stable.
func doExportVars(deps *Dependencies) Result {
	var matched []*shell.RemoteShell
	for _, s := range deps.Manager.AllShells() {
		if s.Enabled {
			matched = append(matched, s)
		}
	}
	total := len(matched)
	for rank, s := range matched {
		cmd := fmt.Sprintf(
			"export MASH_RANK=%d MASH_NAME=%s MASH_DISPLAY_NAME=%s\n",
			rank,
			shellQuote(s.Hostname),
			shellQuote(s.DisplayName),
		)
		s.DispatchCommand([]byte(cmd))
	}
	for _, s := range matched {
		s.DispatchCommand([]byte(fmt.Sprintf("export MASH_NR_SHELLS=%d\n", total)))
	}
	return ok()
}

// shellQuote wraps value in single quotes for the remote shell, closing and
// reopening the quote around any single quote in the value itself.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func doSetLog(deps *Dependencies, params string) Result {
	if params == "" {
		deps.Console.DisableLog()
		deps.Console.Output([]byte("Logging disabled\n"))
		return ok()
	}
	deps.Console.SetLogFile(params)
	return ok()
}

func doShowReadBuffer(deps *Dependencies, params string) Result {
	matched := selectShells(deps, params)
	maxLen := deps.Names.MaxDisplayNameLength
	for _, s := range matched {
		if len(s.ReadInStateNotStarted) == 0 {
			continue
		}
		buf := s.ReadInStateNotStarted
		s.ReadInStateNotStarted = nil
		s.PrintLines(buf, deps.Console, maxLen)
	}
	return ok()
}
