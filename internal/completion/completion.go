// Package completion drives tab-completion for the input prompt: control
// command names and their shell-name arguments, local path globs, words
// seen in prior input, and executables on $PATH.
package completion

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crisidev/mash/internal/controlcmd"
	"github.com/crisidev/mash/internal/shellmanager"
)

const maxHistoryWords = 10000

// State holds everything the completer needs to suggest candidates. The
// input goroutine reads it on every tab press while the event loop
// refreshes it after each accepted line, so access goes through an RWMutex:
// the event loop is the only writer.
type State struct {
	mu             sync.RWMutex
	ShellNames     []string
	HistoryWords   map[string]struct{}
	CommandsInPath []string
}

// NewStateFromManager seeds a fresh State from the current shell roster
// and the executables found on $PATH.
func NewStateFromManager(mgr *shellmanager.Manager) *State {
	return &State{
		ShellNames:     mgr.ShellDisplayNames(),
		HistoryWords:   make(map[string]struct{}),
		CommandsInPath: readCommandsInPath(),
	}
}

// UpdateFromManager refreshes the shell-name list after shells are
// added, removed, or renamed.
func (s *State) UpdateFromManager(mgr *shellmanager.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ShellNames = mgr.ShellDisplayNames()
}

// AddHistoryWords records every word longer than one character from line,
// capped at maxHistoryWords total to bound memory over a long session.
func (s *State) AddHistoryWords(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, word := range strings.Fields(line) {
		if len(s.HistoryWords) >= maxHistoryWords {
			return
		}
		if len(word) > 1 {
			s.HistoryWords[word] = struct{}{}
		}
	}
}

func readCommandsInPath() []string {
	seen := make(map[string]struct{})
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			seen[entry.Name()] = struct{}{}
		}
	}
	commands := make([]string, 0, len(seen))
	for name := range seen {
		commands = append(commands, name)
	}
	return commands
}

// CompleteLine returns every completion candidate for text, the word under
// the cursor within line.
func CompleteLine(line, text string, state *State) []string {
	state.mu.RLock()
	defer state.mu.RUnlock()

	if strings.HasPrefix(line, ":") {
		return completeControlCommand(line, text, state)
	}

	droppedExclaim := false
	if strings.HasPrefix(line, "!") && text != "" && strings.HasPrefix(line, text) {
		droppedExclaim = true
		text = text[1:]
	}

	var results []string
	results = append(results, completeLocalPath(text)...)

	tlen := len(text)
	for word := range state.HistoryWords {
		if len(word) > tlen && strings.HasPrefix(word, text) {
			results = append(results, word+" ")
		}
	}

	isFirstWord := !strings.Contains(line, " ") || (strings.HasPrefix(line, "!") && !strings.Contains(line[1:], " "))
	if isFirstWord {
		for _, cmd := range state.CommandsInPath {
			if len(cmd) > tlen && strings.HasPrefix(cmd, text) {
				results = append(results, cmd+" ")
			}
		}
	}

	results = removeDupes(results)

	if droppedExclaim {
		for i, r := range results {
			results[i] = "!" + r
		}
	}

	return results
}

func completeControlCommand(line, text string, state *State) []string {
	parts := strings.Fields(line)

	if len(parts) <= 1 && !strings.HasSuffix(line, " ") {
		prefix := strings.TrimPrefix(text, ":")
		var results []string
		for _, cmd := range controlcmd.ListCommandNames() {
			if strings.HasPrefix(cmd, prefix) {
				results = append(results, ":"+cmd+" ")
			}
		}
		return results
	}

	var results []string
	for _, name := range state.ShellNames {
		if strings.HasPrefix(name, text) && !strings.Contains(line, " "+name+" ") {
			results = append(results, name+" ")
		}
	}
	return results
}

func completeLocalPath(text string) []string {
	expanded := text
	if strings.HasPrefix(text, "~") {
		if home := os.Getenv("HOME"); home != "" {
			expanded = strings.Replace(text, "~", home, 1)
		}
	}

	matches, err := filepath.Glob(expanded + "*")
	if err != nil {
		return nil
	}

	var results []string
	for _, m := range matches {
		suffix := ""
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			suffix = "/"
		}
		results = append(results, m+suffix)
	}
	return results
}

// removeDupes drops candidates that are equal once a trailing '/' or ' '
// is stripped, keeping the first occurrence.
func removeDupes(words []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(words))
	for _, w := range words {
		stripped := strings.TrimRight(w, "/ ")
		if _, ok := seen[stripped]; !ok {
			seen[stripped] = struct{}{}
			result = append(result, w)
		}
	}
	return result
}
