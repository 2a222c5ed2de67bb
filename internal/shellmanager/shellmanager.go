// Package shellmanager owns the collection of live RemoteShells, assigns
// ids and colors to new ones, and answers the aggregate questions the
// event loop and control commands need (counts by state, sorted listings,
// aligned ":list" output).
package shellmanager

import (
	"os"
	"sort"

	"github.com/crisidev/mash/internal/displaynames"
	"github.com/crisidev/mash/internal/shell"
)

// Manager holds every RemoteShell keyed by id.
type Manager struct {
	shells        map[shell.ID]*shell.RemoteShell
	order         []shell.ID // insertion order, for stable iteration over the map
	nextID        uint64
	colorRotation int
	useColor      bool
}

// New returns an empty Manager. useColor controls whether newly added
// shells get a colorized display-name prefix.
func New(useColor bool) *Manager {
	return &Manager{
		shells:   make(map[shell.ID]*shell.RemoteShell),
		useColor: useColor,
	}
}

// AddShell registers a freshly spawned shell and returns its id.
func (m *Manager) AddShell(hostname, port string, pid int, master *os.File, debug bool, command, password *string, names *displaynames.Registry) shell.ID {
	id := shell.ID(m.nextID)
	m.nextID++

	displayName, ok := names.Change(nil, &hostname)
	if !ok {
		displayName = hostname
	}

	colorIdx := m.colorRotation
	m.colorRotation++

	s := shell.New(id, hostname, port, displayName, pid, master, debug, command, password, colorIdx, m.useColor)
	m.shells[id] = s
	m.order = append(m.order, id)
	return id
}

// GetShell returns the shell for id, or nil if it doesn't exist.
func (m *Manager) GetShell(id shell.ID) *shell.RemoteShell {
	return m.shells[id]
}

// RemoveShell deletes id from the collection.
func (m *Manager) RemoveShell(id shell.ID) {
	delete(m.shells, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// AllShells returns every shell sorted by display name.
func (m *Manager) AllShells() []*shell.RemoteShell {
	shells := make([]*shell.RemoteShell, 0, len(m.shells))
	for _, id := range m.order {
		shells = append(shells, m.shells[id])
	}
	sort.Slice(shells, func(i, j int) bool {
		return shells[i].DisplayName < shells[j].DisplayName
	})
	return shells
}

// CountAwaitedProcesses returns (awaiting, totalEnabled): awaiting counts
// enabled shells that are not Idle.
func (m *Manager) CountAwaitedProcesses() (awaiting, total int) {
	for _, s := range m.shells {
		if s.Enabled {
			total++
			if s.State != shell.Idle {
				awaiting++
			}
		}
	}
	return awaiting, total
}

// StateCounts is the breakdown returned by CountByState.
type StateCounts struct {
	Idle       int
	Running    int
	NotStarted int
	Dead       int
	Disabled   int
}

// CountByState tallies enabled shells by lifecycle state, plus a separate
// count of disabled shells.
func (m *Manager) CountByState() StateCounts {
	var c StateCounts
	for _, s := range m.shells {
		if !s.Enabled {
			c.Disabled++
			continue
		}
		switch s.State {
		case shell.Idle:
			c.Idle++
		case shell.Running:
			c.Running++
		case shell.NotStarted:
			c.NotStarted++
		case shell.Terminated, shell.Dead:
			c.Dead++
		}
	}
	return c
}

// AllTerminated reports whether every shell has reached Terminated or Dead.
// An empty manager is never considered terminated.
func (m *Manager) AllTerminated() bool {
	if len(m.shells) == 0 {
		return false
	}
	for _, s := range m.shells {
		if s.State != shell.Terminated && s.State != shell.Dead {
			return false
		}
	}
	return true
}

// FormatInfo renders each row of infoList as a single line, space-padding
// every column except the last to the widest value in that column.
func FormatInfo(infoList [][][]byte) [][]byte {
	if len(infoList) == 0 {
		return nil
	}

	nrColumns := len(infoList[0])
	maxLengths := make([]int, nrColumns)
	for _, info := range infoList {
		for i, col := range info {
			if len(col) > maxLengths[i] {
				maxLengths[i] = len(col)
			}
		}
	}

	result := make([][]byte, 0, len(infoList))
	for _, info := range infoList {
		var line []byte
		for i, col := range info {
			if i > 0 {
				line = append(line, ' ')
			}
			line = append(line, col...)
			if i < nrColumns-1 {
				padding := maxLengths[i] - len(col)
				for j := 0; j < padding; j++ {
					line = append(line, ' ')
				}
			}
		}
		line = append(line, '\n')
		result = append(result, line)
	}
	return result
}

// ShellIDs returns every registered shell id.
func (m *Manager) ShellIDs() []shell.ID {
	ids := make([]shell.ID, len(m.order))
	copy(ids, m.order)
	return ids
}

// ShellDisplayNames returns every registered shell's display name.
func (m *Manager) ShellDisplayNames() []string {
	names := make([]string, 0, len(m.shells))
	for _, id := range m.order {
		names = append(names, m.shells[id].DisplayName)
	}
	return names
}
