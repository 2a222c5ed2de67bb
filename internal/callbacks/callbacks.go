// Package callbacks implements the in-band trigger protocol used to learn
// when a remote shell has reached an idle prompt, or to capture a new
// display name, without installing any agent on the remote side.
//
// A trigger is a short ASCII token written into the shell's init string so
// that the remote shell's own prompt echoes it back verbatim once the
// command completes. Triggers are split into two literal fragments at
// registration time so that the trigger text itself never appears in the
// transmitted command, only in the echoed output.
package callbacks

import (
	"bytes"
	"crypto/rand"
	"fmt"
)

const alnum = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomString(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("callbacks: random source exhausted: %w", err))
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alnum[int(b)%len(alnum)]
	}
	return string(out)
}

// ActionKind distinguishes the callback actions a registered trigger can
// resolve to once it is seen in the shell's output.
type ActionKind int

const (
	// ActionNone carries no payload and triggers nothing when matched; it is
	// also the zero value returned when no trigger matches.
	ActionNone ActionKind = iota
	// ActionSeenPrompt marks that the shell has reached an idle prompt.
	ActionSeenPrompt
	// ActionRename carries a new display name captured from the remainder
	// of the line following the trigger.
	ActionRename
)

// Action is the result of a successfully matched trigger.
type Action struct {
	Kind    ActionKind
	NewName []byte // populated only when Kind == ActionRename
}

type entry struct {
	action Action
	repeat bool
}

// Registry tracks outstanding triggers for a single remote shell. Every
// shell owns its own Registry so that triggers never collide across shells.
type Registry struct {
	commonPrefix []byte
	callbacks    map[string]entry
	nrGenerated  int
}

// NewRegistry creates a registry with a fresh random common prefix of the
// form "mash-XXXXX:".
func NewRegistry() *Registry {
	return &Registry{
		commonPrefix: []byte(fmt.Sprintf("mash-%s:", randomString(5))),
		callbacks:    make(map[string]entry),
	}
}

// CommonPrefix returns the registry's shared prefix, mostly for tests.
func (r *Registry) CommonPrefix() []byte {
	return r.commonPrefix
}

// Add registers a new trigger bound to action, returning the two literal
// fragments the caller must embed separately (e.g. as two printf arguments)
// so the full trigger text never appears contiguously in the outbound
// command. If repeat is false the trigger is consumed the first time
// Process matches it.
func (r *Registry) Add(name []byte, action Action, repeat bool) (part1, part2 []byte) {
	nameSafe := make([]byte, len(name))
	for i, b := range name {
		if b == '/' {
			b = '_'
		}
		nameSafe[i] = b
	}

	nr := r.nrGenerated
	r.nrGenerated++

	trigger := []byte(fmt.Sprintf("%s%s:%s:%d/", r.commonPrefix, nameSafe, randomString(5), nr))
	r.callbacks[string(trigger)] = entry{action: action, repeat: repeat}

	split := len(r.commonPrefix) / 2
	return trigger[:split], trigger[split:]
}

// RemoveSeenPrompt deletes any trigger entries for name that are registered as
// repeatable SeenPrompt callbacks. RebuildInitString uses this to avoid
// accumulating a stale entry every time a shell's prompt is reset.
func (r *Registry) RemoveSeenPrompt(name []byte) {
	nameSafe := make([]byte, len(name))
	for i, b := range name {
		if b == '/' {
			b = '_'
		}
		nameSafe[i] = b
	}
	marker := fmt.Sprintf("%s%s:", r.commonPrefix, nameSafe)
	for trigger, e := range r.callbacks {
		if e.action.Kind == ActionSeenPrompt && len(trigger) >= len(marker) && trigger[:len(marker)] == marker {
			delete(r.callbacks, trigger)
		}
	}
}

// AnyIn reports whether the registry's common prefix appears anywhere in
// data. Callers use this as a cheap pre-filter before scanning line by line
// with Process.
func (r *Registry) AnyIn(data []byte) bool {
	return bytes.Contains(data, r.commonPrefix)
}

// Process scans line for a registered trigger. It returns the matched
// action and true if found; otherwise the zero Action and false.
func (r *Registry) Process(line []byte) (Action, bool) {
	start := bytes.Index(line, r.commonPrefix)
	if start < 0 {
		return Action{}, false
	}

	rel := bytes.IndexByte(line[start:], '/')
	if rel < 0 {
		return Action{}, false
	}
	end := start + rel + 1

	trigger := string(line[start:end])
	e, ok := r.callbacks[trigger]
	if !ok {
		return Action{}, false
	}

	action := e.action
	if action.Kind == ActionRename {
		remainder := line[end:]
		trimmed := make([]byte, 0, len(remainder))
		for _, b := range remainder {
			if b != '\n' && b != ' ' {
				trimmed = append(trimmed, b)
			}
		}
		action.NewName = trimmed
	}

	if !e.repeat {
		delete(r.callbacks, trigger)
	}

	return action, true
}
