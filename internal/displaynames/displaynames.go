// Package displaynames allocates collision-free display names for shells,
// reusing freed numeric slots ("#N" suffixes) and tracking the longest
// currently-enabled name so the console can align its status columns.
package displaynames

import (
	"fmt"
	"strconv"
	"strings"
)

// Registry assigns and releases display names.
type Registry struct {
	prefixes             map[string][]bool
	nrEnabledByLen       map[int]int
	MaxDisplayNameLength int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		prefixes:       make(map[string][]bool),
		nrEnabledByLen: make(map[int]int),
	}
}

func (r *Registry) acquirePrefixIndex(prefix string) int {
	slots := r.prefixes[prefix]
	for idx, inUse := range slots {
		if !inUse {
			slots[idx] = true
			r.prefixes[prefix] = slots
			return idx
		}
	}
	slots = append(slots, true)
	r.prefixes[prefix] = slots
	return len(slots) - 1
}

func (r *Registry) releasePrefixIndex(displayName string) {
	prefix := displayName
	suffix := 0
	if idx := strings.IndexByte(displayName, '#'); idx >= 0 {
		prefix = displayName[:idx]
		if n, err := strconv.Atoi(displayName[idx+1:]); err == nil {
			suffix = n
		}
	}

	slots, ok := r.prefixes[prefix]
	if !ok {
		return
	}

	last := len(slots) - 1
	if suffix < last {
		slots[suffix] = false
		r.prefixes[prefix] = slots
		return
	}

	if suffix < len(slots) {
		slots = append(slots[:suffix], slots[suffix+1:]...)
	}

	for len(slots) > 0 && !slots[len(slots)-1] {
		slots = slots[:len(slots)-1]
	}

	if len(slots) == 0 {
		delete(r.prefixes, prefix)
		return
	}
	r.prefixes[prefix] = slots
}

func (r *Registry) makeUniqueName(prefix string) string {
	suffix := r.acquirePrefixIndex(prefix)
	if suffix == 0 {
		return prefix
	}
	return fmt.Sprintf("%s#%d", prefix, suffix)
}

func (r *Registry) updateMaxLength() {
	max := 0
	for length := range r.nrEnabledByLen {
		if length > max {
			max = length
		}
	}
	r.MaxDisplayNameLength = max
}

// Change releases prevDisplayName (if non-nil) and, if newPrefix is
// non-nil, allocates and returns a fresh unique name derived from it. Pass
// prevDisplayName == nil with newPrefix != nil to allocate a brand new
// name; pass newPrefix == nil with prevDisplayName != nil to only release
// a name. newPrefix must not contain '#'.
func (r *Registry) Change(prevDisplayName, newPrefix *string) (name string, ok bool) {
	if newPrefix != nil && strings.Contains(*newPrefix, "#") {
		panic("Names cannot contain #")
	}

	if prevDisplayName != nil {
		if newPrefix != nil {
			r.SetEnabled(*prevDisplayName, false)
		}
		r.releasePrefixIndex(*prevDisplayName)
		if newPrefix == nil {
			return "", false
		}
	}

	name = r.makeUniqueName(*newPrefix)
	r.SetEnabled(name, true)
	return name, true
}

// SetEnabled toggles whether display_name counts toward the max-length
// tracking (used when a shell is paused/hidden vs. active).
func (r *Registry) SetEnabled(displayName string, enabled bool) {
	length := len(displayName)
	if enabled {
		r.nrEnabledByLen[length]++
	} else {
		if n := r.nrEnabledByLen[length]; n > 0 {
			n--
			if n == 0 {
				delete(r.nrEnabledByLen, length)
			} else {
				r.nrEnabledByLen[length] = n
			}
		}
	}
	r.updateMaxLength()
}
