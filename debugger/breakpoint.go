// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"sync"
)

// Breakpoint is either a (section, line) location or a function name.
// Exactly one of the two forms is populated; the zero value is invalid.
// Breakpoints are comparable and the set is keyed by structural
// equality.
type Breakpoint struct {
	Section string
	Line    int

	// Function, when non-empty, makes this a break-on-entry breakpoint
	// matched against the declared name of the executing function,
	// independent of source location.
	Function string
}

// LocationBreakpoint returns a breakpoint at an exact section and line.
func LocationBreakpoint(section string, line int) Breakpoint {
	return Breakpoint{Section: section, Line: line}
}

// FunctionBreakpoint returns a breakpoint on entry to the named function.
func FunctionBreakpoint(name string) Breakpoint {
	return Breakpoint{Function: name}
}

// IsFunction reports whether this is a function breakpoint.
func (bp Breakpoint) IsFunction() bool {
	return bp.Function != ""
}

// BreakpointSet is the set of active breakpoints. Methods are safe for
// concurrent use: the inspecting thread mutates the set while the VM
// thread reads via Match.
type BreakpointSet struct {
	mu  sync.RWMutex
	set map[Breakpoint]struct{}
}

// NewBreakpointSet returns an empty set.
func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{set: make(map[Breakpoint]struct{})}
}

// Add inserts bp. Reports whether it was newly added.
func (s *BreakpointSet) Add(bp Breakpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[bp]; ok {
		return false
	}
	s.set[bp] = struct{}{}
	return true
}

// Remove deletes bp. Reports whether it existed.
func (s *BreakpointSet) Remove(bp Breakpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[bp]; !ok {
		return false
	}
	delete(s.set, bp)
	return true
}

// Toggle adds the location breakpoint if absent and removes it if
// present. Reports whether the breakpoint is set afterwards.
func (s *BreakpointSet) Toggle(section string, line int) bool {
	bp := LocationBreakpoint(section, line)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[bp]; ok {
		delete(s.set, bp)
		return false
	}
	s.set[bp] = struct{}{}
	return true
}

// Has reports whether bp is in the set.
func (s *BreakpointSet) Has(bp Breakpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[bp]
	return ok
}

// Match reports whether the current position triggers a breakpoint:
// either the exact (section, line) or the executing function's name.
func (s *BreakpointSet) Match(section string, line int, function string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.set[Breakpoint{Section: section, Line: line}]; ok {
		return true
	}
	if function != "" {
		if _, ok := s.set[Breakpoint{Function: function}]; ok {
			return true
		}
	}
	return false
}

// ClearSection removes every location breakpoint in the given section.
// Function breakpoints are untouched. This implements the DAP
// setBreakpoints replacement semantics together with Add.
func (s *BreakpointSet) ClearSection(section string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for bp := range s.set {
		if !bp.IsFunction() && bp.Section == section {
			delete(s.set, bp)
		}
	}
}

// ClearFunctions removes every function breakpoint.
func (s *BreakpointSet) ClearFunctions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for bp := range s.set {
		if bp.IsFunction() {
			delete(s.set, bp)
		}
	}
}

// All returns the breakpoints in the set, in no particular order.
func (s *BreakpointSet) All() []Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Breakpoint, 0, len(s.set))
	for bp := range s.set {
		out = append(out, bp)
	}
	return out
}

// Len returns the number of active breakpoints.
func (s *BreakpointSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
