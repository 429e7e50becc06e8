// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

// Package debugrepl provides an interactive CLI debug session built on
// readline and the debugger core. It is the terminal counterpart to the
// DAP server: the script runs on its own goroutine while the REPL owns
// the inspecting thread.
package debugrepl

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ergochat/readline"

	"github.com/Paril/angelscript-ui-debugger/debugger"
)

// Option configures the debug REPL.
type Option func(*session)

// WithStdin sets the reader for REPL input. This is primarily useful
// for testing, where a pipe replaces the terminal.
func WithStdin(r io.ReadCloser) Option {
	return func(s *session) {
		s.stdin = r
	}
}

// WithStderr sets the writer for debug output (prompts, status, etc.).
func WithStderr(w io.Writer) Option {
	return func(s *session) {
		s.stderr = w
	}
}

// WithExitCh supplies a channel the host closes when script execution
// finishes. Without it, a resume command that never re-suspends blocks
// the REPL forever.
func WithExitCh(ch <-chan struct{}) Option {
	return func(s *session) {
		s.exitCh = ch
	}
}

// Run starts the interactive debug session and blocks until the user
// quits or the script exits. The debugger should already have a context
// hooked; the script is expected to be started (or already running) on
// another goroutine.
func Run(dbg *debugger.Debugger, opts ...Option) error {
	s := &session{
		dbg:      dbg,
		stderr:   os.Stderr,
		pausedCh: make(chan debugger.Event, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	dbg.SetEventCallback(s.onEvent)
	defer dbg.SetEventCallback(nil)

	rlCfg := &readline.Config{
		Stdout:            s.stderr,
		Stderr:            s.stderr,
		Prompt:            "(asdbg) ",
		HistorySearchFold: true,
	}
	if s.stdin != nil {
		rlCfg.Stdin = s.stdin
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return err
	}
	defer rl.Close() //nolint:errcheck // best-effort cleanup

	// If the script is already suspended (a breakpoint hit before the
	// REPL started), show where it stopped.
	if dbg.IsSuspended() {
		s.setPaused(true)
		s.showWhere()
	}

	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.ReadSlice()
		if err == readline.ErrInterrupt {
			// Ctrl+C while running requests a pause.
			if !s.isPaused() {
				dbg.RequestPause()
				s.waitForStop()
			}
			continue
		}
		if err != nil {
			s.doQuit()
			return nil
		}
		if s.handleLine(string(bytes.TrimSpace(line))) {
			return nil
		}
	}
}

// session holds state for one debug REPL.
type session struct {
	dbg      *debugger.Debugger
	stdin    io.ReadCloser
	stderr   io.Writer
	pausedCh chan debugger.Event
	exitCh   <-chan struct{}

	mu      sync.Mutex
	paused  bool
	exited  bool
	lastCmd string
}

// onEvent is the debugger event callback. It runs on the VM goroutine.
func (s *session) onEvent(evt debugger.Event) {
	if evt.Type == debugger.EventStopped {
		s.pausedCh <- evt
	}
}

func (s *session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *session) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *session) prompt() string {
	s.drainEvents()
	if s.isPaused() {
		return "(asdbg) "
	}
	return "running> "
}

// drainEvents picks up a suspension that happened while the user sat at
// the prompt (a breakpoint on a timer callback, say).
func (s *session) drainEvents() {
	select {
	case evt := <-s.pausedCh:
		s.setPaused(true)
		s.showStopBanner(evt)
	default:
	}
}

// handleLine dispatches one command. Returns true when the session is
// over.
func (s *session) handleLine(line string) bool {
	s.drainEvents()

	// Empty input repeats the last command (GDB convention).
	if line == "" {
		s.mu.Lock()
		line = s.lastCmd
		s.mu.Unlock()
		if line == "" {
			return false
		}
	} else {
		s.mu.Lock()
		s.lastCmd = line
		s.mu.Unlock()
	}

	parts := strings.Fields(line)
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "continue", "c":
		s.doResume(s.dbg.Resume)
	case "step", "s":
		s.doResume(s.dbg.StepInto)
	case "next", "n":
		s.doResume(s.dbg.StepOver)
	case "out", "o":
		s.doResume(s.dbg.StepOut)
	case "pause":
		s.doPause()
	case "break", "b":
		s.doBreak(args)
	case "breakfunc", "bf":
		s.doBreakFunc(args)
	case "delete", "d":
		s.doDelete(args)
	case "breakpoints", "bl":
		showBreakpoints(s.stderr, s.dbg.Breakpoints())
	case "backtrace", "bt":
		s.withCache(func(cache *debugger.Cache) {
			showBacktrace(s.stderr, cache)
		})
	case "locals", "l":
		s.showFrameViews(args, debugger.LocalVariable)
	case "params":
		s.showFrameViews(args, debugger.LocalParameter)
	case "temps":
		s.showFrameViews(args, debugger.LocalTemporary)
	case "globals", "g":
		s.withCache(func(cache *debugger.Cache) {
			showViews(s.stderr, cache, cache.Globals())
		})
	case "watch", "w":
		s.doWatch(args)
	case "unwatch":
		s.doUnwatch(args)
	case "print", "p":
		s.doPrint(args)
	case "sections":
		s.withCache(func(cache *debugger.Cache) {
			showSections(s.stderr, cache)
		})
	case "where":
		s.withCache(func(*debugger.Cache) {
			s.showWhere()
		})
	case "quit", "q":
		s.doQuit()
		return true
	case "help", "h":
		showHelp(s.stderr)
	default:
		fmt.Fprintf(s.stderr, "unknown command %q (try help)\n", cmd) //nolint:errcheck
	}
	return false
}

// withCache runs fn only while suspended; the cache must not be touched
// while the VM thread runs.
func (s *session) withCache(fn func(*debugger.Cache)) {
	if !s.isPaused() {
		fmt.Fprintln(s.stderr, "not suspended") //nolint:errcheck
		return
	}
	cache := s.dbg.Cache()
	if cache == nil {
		fmt.Fprintln(s.stderr, "not suspended") //nolint:errcheck
		return
	}
	fn(cache)
}

func (s *session) doResume(release func()) {
	if !s.isPaused() {
		fmt.Fprintln(s.stderr, "not suspended") //nolint:errcheck
		return
	}
	s.setPaused(false)
	release()
	s.waitForStop()
}

func (s *session) doPause() {
	if s.isPaused() {
		fmt.Fprintln(s.stderr, "already suspended") //nolint:errcheck
		return
	}
	s.dbg.RequestPause()
	s.waitForStop()
}

// waitForStop blocks until the next suspension or script exit.
func (s *session) waitForStop() {
	if s.exitCh != nil {
		select {
		case evt := <-s.pausedCh:
			s.setPaused(true)
			s.showStopBanner(evt)
		case <-s.exitCh:
			s.mu.Lock()
			s.exited = true
			s.mu.Unlock()
			fmt.Fprintln(s.stderr, "script exited") //nolint:errcheck
		}
		return
	}
	evt := <-s.pausedCh
	s.setPaused(true)
	s.showStopBanner(evt)
}

func (s *session) showStopBanner(evt debugger.Event) {
	loc := evt.Section
	if evt.Line > 0 {
		loc = fmt.Sprintf("%s:%d", evt.Section, evt.Line)
	}
	if evt.Function != "" {
		loc += " in " + evt.Function
	}
	fmt.Fprintf(s.stderr, "stopped: %s at %s\n", evt.Reason, loc) //nolint:errcheck
}

func (s *session) showWhere() {
	cache := s.dbg.Cache()
	if cache == nil {
		return
	}
	stack := cache.CallStack()
	if len(stack) == 0 {
		return
	}
	top := stack[0]
	fmt.Fprintf(s.stderr, "at %s:%d  %s\n", top.Section, top.Row, top.Declaration) //nolint:errcheck
}

// parseLocation splits a "section:line" argument.
func parseLocation(arg string) (string, int, error) {
	i := strings.LastIndex(arg, ":")
	if i <= 0 || i == len(arg)-1 {
		return "", 0, fmt.Errorf("expected section:line, got %q", arg)
	}
	line, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid line number %q", arg[i+1:])
	}
	return arg[:i], line, nil
}

func (s *session) doBreak(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stderr, "usage: break <section:line>") //nolint:errcheck
		return
	}
	section, line, err := parseLocation(args[0])
	if err != nil {
		fmt.Fprintln(s.stderr, err) //nolint:errcheck
		return
	}
	if s.dbg.ToggleBreakpoint(section, line) {
		fmt.Fprintf(s.stderr, "breakpoint set at %s:%d\n", section, line) //nolint:errcheck
	} else {
		fmt.Fprintf(s.stderr, "breakpoint removed from %s:%d\n", section, line) //nolint:errcheck
	}
}

func (s *session) doBreakFunc(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stderr, "usage: breakfunc <function>") //nolint:errcheck
		return
	}
	bp := debugger.FunctionBreakpoint(args[0])
	if s.dbg.Breakpoints().Has(bp) {
		s.dbg.Breakpoints().Remove(bp)
		fmt.Fprintf(s.stderr, "function breakpoint removed from %s\n", args[0]) //nolint:errcheck
	} else {
		s.dbg.Breakpoints().Add(bp)
		fmt.Fprintf(s.stderr, "function breakpoint set on %s\n", args[0]) //nolint:errcheck
	}
}

func (s *session) doDelete(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stderr, "usage: delete <section:line|function>") //nolint:errcheck
		return
	}
	var bp debugger.Breakpoint
	if section, line, err := parseLocation(args[0]); err == nil {
		bp = debugger.LocationBreakpoint(section, line)
	} else {
		bp = debugger.FunctionBreakpoint(args[0])
	}
	if s.dbg.Breakpoints().Has(bp) {
		s.dbg.Breakpoints().Remove(bp)
		fmt.Fprintln(s.stderr, "breakpoint removed") //nolint:errcheck
	} else {
		fmt.Fprintln(s.stderr, "no such breakpoint") //nolint:errcheck
	}
}

// frameArg parses an optional stack index argument, defaulting to the
// innermost frame.
func frameArg(args []string) int {
	if len(args) == 0 {
		return 0
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *session) showFrameViews(args []string, kind debugger.LocalKind) {
	s.withCache(func(cache *debugger.Cache) {
		key := debugger.LocalKey{Offset: frameArg(args), Kind: kind}
		showViews(s.stderr, cache, cache.Locals(key))
	})
}

// lookupView resolves a bare name against the innermost frame's locals,
// then the globals, then the watch list.
func lookupView(cache *debugger.Cache, name string) (debugger.VarView, bool) {
	kinds := []debugger.LocalKind{debugger.LocalParameter, debugger.LocalVariable, debugger.LocalTemporary}
	for _, kind := range kinds {
		for _, view := range cache.Locals(debugger.LocalKey{Kind: kind}) {
			if view.Name == name {
				return view, true
			}
		}
	}
	for _, view := range cache.Globals() {
		if view.Name == name {
			return view, true
		}
	}
	for _, view := range cache.Watch() {
		if view.Name == name {
			return view, true
		}
	}
	return debugger.VarView{}, false
}

func (s *session) doWatch(args []string) {
	s.withCache(func(cache *debugger.Cache) {
		if len(args) == 0 {
			showViews(s.stderr, cache, cache.Watch())
			return
		}
		view, ok := lookupView(cache, args[0])
		if !ok {
			fmt.Fprintf(s.stderr, "no variable named %s\n", args[0]) //nolint:errcheck
			return
		}
		cache.AddWatch(view)
		fmt.Fprintf(s.stderr, "watching %s\n", view.Name) //nolint:errcheck
	})
}

func (s *session) doUnwatch(args []string) {
	s.withCache(func(cache *debugger.Cache) {
		if len(args) == 0 {
			fmt.Fprintln(s.stderr, "usage: unwatch <name>") //nolint:errcheck
			return
		}
		for _, view := range cache.Watch() {
			if view.Name == args[0] {
				cache.RemoveWatch(view)
				fmt.Fprintf(s.stderr, "no longer watching %s\n", view.Name) //nolint:errcheck
				return
			}
		}
		fmt.Fprintf(s.stderr, "not watching %s\n", args[0]) //nolint:errcheck
	})
}

func (s *session) doPrint(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stderr, "usage: print <name>") //nolint:errcheck
		return
	}
	s.withCache(func(cache *debugger.Cache) {
		view, ok := lookupView(cache, args[0])
		if !ok {
			fmt.Fprintf(s.stderr, "no variable named %s\n", args[0]) //nolint:errcheck
			return
		}
		showExpanded(s.stderr, cache, view)
	})
}

func (s *session) doQuit() {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if s.dbg.IsSuspended() {
		s.dbg.Resume()
	}
	s.dbg.Detach()
	if !exited {
		fmt.Fprintln(s.stderr, "detached") //nolint:errcheck
	}
}

// showBreakpoints prints all breakpoints, locations before functions.
func showBreakpoints(w io.Writer, set *debugger.BreakpointSet) {
	bps := set.All()
	if len(bps) == 0 {
		fmt.Fprintln(w, "  (no breakpoints)") //nolint:errcheck
		return
	}
	sort.Slice(bps, func(i, j int) bool {
		if bps[i].IsFunction() != bps[j].IsFunction() {
			return !bps[i].IsFunction()
		}
		if bps[i].Section != bps[j].Section {
			return bps[i].Section < bps[j].Section
		}
		if bps[i].Line != bps[j].Line {
			return bps[i].Line < bps[j].Line
		}
		return bps[i].Function < bps[j].Function
	})
	for _, bp := range bps {
		if bp.IsFunction() {
			fmt.Fprintf(w, "  func %s\n", bp.Function) //nolint:errcheck
		} else {
			fmt.Fprintf(w, "  %s:%d\n", bp.Section, bp.Line) //nolint:errcheck
		}
	}
}
