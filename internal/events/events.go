// Package events fans out shell lifecycle notifications to anything that
// wants to observe them (currently just the event loop's --debug
// "disconnected" line, which subscribes to ShellClosed)
// without coupling the PTY reader goroutines to the Console directly.
package events

import "github.com/asaskevich/EventBus"

// GlobalBus is the shared event bus for the whole process.
var GlobalBus EventBus.Bus

func init() {
	GlobalBus = EventBus.New()
}

// Topic names published on GlobalBus.
const (
	// ShellStarted fires once a newly spawned shell's reader goroutine is
	// running, payload: the hostname string.
	ShellStarted = "shell:started"
	// ShellClosed fires when a shell's ssh child has exited, payload: the
	// hostname string.
	ShellClosed = "shell:closed"
)
