// Package input runs the interactive line editor on its own goroutine and
// exposes it to the event loop as a request/response channel pair, so the
// blocking call to read a line never stalls shell output processing.
package input

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/crisidev/mash/internal/completion"
)

// RequestKind selects what the input goroutine should do next.
type RequestKind int

const (
	ReadLine RequestKind = iota
	Shutdown
)

// Request is sent by the event loop to ask for the next line of input.
type Request struct {
	Kind   RequestKind
	Prompt string
}

// EventKind tags what happened on the line editor.
type EventKind int

const (
	EventLine EventKind = iota
	EventEOF
	EventInterrupted
)

// Event is sent back by the input goroutine once a ReadLine request
// resolves.
type Event struct {
	Kind EventKind
	Line string
}

// completer adapts completion.State to chzyer/readline's AutoCompleter.
type completer struct {
	state *completion.State
}

func (c *completer) Do(line []rune, pos int) (newLine [][]rune, length int) {
	full := string(line[:pos])

	start := pos
	for start > 0 && line[start-1] != ' ' {
		start--
	}
	text := string(line[start:pos])

	candidates := completion.CompleteLine(full, text, c.state)
	result := make([][]rune, 0, len(candidates))
	for _, cand := range candidates {
		if strings.HasPrefix(cand, text) {
			result = append(result, []rune(cand[len(text):]))
		}
	}
	return result, len(text)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mash_history"
	}
	return filepath.Join(home, ".mash_history")
}

// Spawn starts the input goroutine and returns the channels used to drive
// it: send a Request to ask for a line, receive an Event once it resolves.
// Send a Shutdown Request to stop the goroutine and flush history to disk.
func Spawn(state *completion.State) (requests chan<- Request, events <-chan Event) {
	// Capacity 1 on both sides: at most one ReadLine request is ever
	// outstanding, and the buffered slot lets the event loop hand over the
	// final Shutdown without waiting for a blocked Readline to finish.
	reqCh := make(chan Request, 1)
	evCh := make(chan Event, 1)

	go func() {
		defer close(evCh)

		rl, err := readline.NewEx(&readline.Config{
			HistoryFile:     historyPath(),
			AutoComplete:    &completer{state: state},
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return
		}
		defer rl.Close()

		for req := range reqCh {
			if req.Kind == Shutdown {
				return
			}

			rl.SetPrompt(req.Prompt)
			line, err := rl.Readline()
			switch {
			case err == readline.ErrInterrupt:
				evCh <- Event{Kind: EventInterrupted}
			case err == io.EOF:
				evCh <- Event{Kind: EventEOF}
			case err != nil:
				evCh <- Event{Kind: EventEOF}
			default:
				evCh <- Event{Kind: EventLine, Line: line}
			}
		}
	}()

	return reqCh, evCh
}
