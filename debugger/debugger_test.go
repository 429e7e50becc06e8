// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paril/angelscript-ui-debugger/debugger/testvm"
	"github.com/Paril/angelscript-ui-debugger/vm"
)

// eventRecorder collects debugger events across goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitSuspended(t *testing.T, d *Debugger) {
	t.Helper()
	require.Eventually(t, d.IsSuspended, 2*time.Second, time.Millisecond, "debugger did not suspend")
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("VM goroutine did not finish")
	}
}

func TestDebugger_BreakpointSuspendResume(t *testing.T) {
	rec := &eventRecorder{}
	d := New(WithEventCallback(rec.record))
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)

	d.Breakpoints().Add(LocationBreakpoint("main.as", 10))

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Line(2),
			testvm.Line(10), // breakpoint
			testvm.Line(11),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)

	cache := d.Cache()
	require.NotNil(t, cache)
	stack := cache.CallStack()
	require.Len(t, stack, 1)
	assert.Equal(t, 10, stack[0].Row)
	assert.Equal(t, "main.as", stack[0].Section)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, EventStopped, events[0].Type)
	assert.Equal(t, StopBreakpoint, events[0].Reason)
	assert.Equal(t, "main.as", events[0].Section)
	assert.Equal(t, 10, events[0].Line)

	d.Resume()
	waitDone(t, done)

	events = rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventContinued, events[1].Type)
	assert.False(t, d.IsSuspended())
}

func TestDebugger_StepOverSkipsDeeperFrames(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 5))

	var stops []int // call stack depths at each suspension
	var stopsMu sync.Mutex
	d.onEvent = func(evt Event) {
		if evt.Type == EventStopped {
			stopsMu.Lock()
			stops = append(stops, ctx.CallStackSize())
			stopsMu.Unlock()
		}
	}

	frame := func(name string, line int) *testvm.Frame {
		return &testvm.Frame{Declaration: "void " + name + "()", Name: name, Section: "main.as", Line: line}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(frame("a", 1)),
			testvm.Call(frame("b", 2)),
			testvm.Call(frame("c", 5)), // breakpoint at depth 3
			testvm.Call(frame("d", 7)), // depth 4: step-over must not fire
			testvm.Line(8),
			testvm.Return(),
			testvm.Line(6), // depth 3 again: step-over fires
			testvm.Return(),
			testvm.Return(),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	d.StepOver() // recorded at depth 3

	waitSuspended(t, d)
	d.Resume()
	waitDone(t, done)

	stopsMu.Lock()
	defer stopsMu.Unlock()
	require.Len(t, stops, 2)
	assert.Equal(t, 3, stops[0], "breakpoint hit at depth 3")
	assert.Equal(t, 3, stops[1], "step-over suspends only back at depth 3")
}

func TestDebugger_StepOutWaitsForReturn(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 5))

	var stops []int
	var stopsMu sync.Mutex
	d.onEvent = func(evt Event) {
		if evt.Type == EventStopped {
			stopsMu.Lock()
			stops = append(stops, ctx.CallStackSize())
			stopsMu.Unlock()
		}
	}

	frame := func(name string, line int) *testvm.Frame {
		return &testvm.Frame{Declaration: "void " + name + "()", Name: name, Section: "main.as", Line: line}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(frame("a", 1)),
			testvm.Call(frame("b", 2)),
			testvm.Call(frame("c", 5)), // breakpoint at depth 3
			testvm.Line(6),             // still depth 3: step-out must not fire
			testvm.Return(),
			testvm.Line(3), // depth 2: step-out fires
			testvm.Return(),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	d.StepOut() // recorded at depth 3

	waitSuspended(t, d)
	d.Resume()
	waitDone(t, done)

	stopsMu.Lock()
	defer stopsMu.Unlock()
	require.Len(t, stops, 2)
	assert.Equal(t, 3, stops[0])
	assert.Equal(t, 2, stops[1], "step-out suspends at a lesser depth")
}

func TestDebugger_StepIntoSuspendsNextLine(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Call(&testvm.Frame{Declaration: "void f()", Name: "f", Section: "util.as", Line: 20}),
			testvm.Return(),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	d.StepInto()

	// The very next line, one frame deeper, suspends.
	waitSuspended(t, d)
	line, _, section := ctx.LineNumber(0)
	assert.Equal(t, 20, line)
	assert.Equal(t, "util.as", section)

	d.Resume()
	waitDone(t, done)
}

func TestDebugger_FunctionBreakpoint(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(FunctionBreakpoint("target"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Call(&testvm.Frame{Declaration: "void target()", Name: "target", Section: "main.as", Line: 30}),
			testvm.Return(),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	assert.Equal(t, "target", ctx.FunctionName(0))

	d.Resume()
	waitDone(t, done)
}

func TestDebugger_CacheReusedAndRefreshedAcrossSteps(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Line(2),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	first := d.Cache()
	require.Len(t, first.CallStack(), 1)
	assert.Equal(t, 1, first.CallStack()[0].Row)

	d.StepInto()
	waitSuspended(t, d)

	second := d.Cache()
	assert.Same(t, first, second, "re-suspension on the same context reuses the cache")
	assert.Equal(t, 2, second.CallStack()[0].Row, "refresh re-captured the call stack")

	d.Resume()
	waitDone(t, done)
}

func TestDebugger_HookContextReplacesCache(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx1 := eng.NewContext()
	ctx2 := eng.NewContext()

	d.HookContext(ctx1)
	assert.True(t, ctx1.HasLineCallback())
	assert.True(t, d.HasWork())

	d.HookContext(ctx2)
	assert.False(t, ctx1.HasLineCallback(), "previous context is unhooked")
	assert.True(t, ctx2.HasLineCallback())

	d.Detach()
	assert.False(t, ctx2.HasLineCallback())
	assert.False(t, d.HasWork())
}

func TestDebugger_ReleaseDropsContextReference(t *testing.T) {
	d := New()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	refsWhileSuspended := ctx.RefCount()
	d.Resume()
	waitDone(t, done)

	d.Detach()
	assert.Equal(t, refsWhileSuspended-1, ctx.RefCount(), "detach releases the cache's reference")
}

func TestDebugger_WatchCarriedAcrossContexts(t *testing.T) {
	d := New(WithWatchCarry(true))
	eng := testvm.NewEngine()
	addr := eng.AddGlobal("g_hp", "main.as", vm.TypeIDInt32, int64(100))
	_ = addr

	ctx1 := eng.NewContext()
	d.HookContext(ctx1)
	d.Breakpoints().Add(LocationBreakpoint("main.as", 1))

	done1 := make(chan struct{})
	go func() {
		defer close(done1)
		testvm.Run(ctx1,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Return(),
		)
	}()
	waitSuspended(t, d)

	cache := d.Cache()
	g := cache.Globals()[0]
	cache.AddWatch(g)
	d.Resume()
	waitDone(t, done1)

	// Rebind to a second context; the watch list survives the cache swap.
	ctx2 := eng.NewContext()
	d.HookContext(ctx2)

	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		testvm.Run(ctx2,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Return(),
		)
	}()
	waitSuspended(t, d)

	next := d.Cache()
	require.NotSame(t, cache, next)
	require.Len(t, next.Watch(), 1)
	assert.Equal(t, "g_hp", next.Watch()[0].Name)
	assert.Equal(t, "100", next.VarState(next.Watch()[0].Key).Value.Value)

	d.Resume()
	waitDone(t, done2)
}

func TestDebugger_RequestPauseSuspendsNextLine(t *testing.T) {
	rec := &eventRecorder{}
	d := New(WithEventCallback(rec.record))
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	d.HookContext(ctx)

	d.RequestPause()

	done := make(chan struct{})
	go func() {
		defer close(done)
		testvm.Run(ctx,
			testvm.Call(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 1}),
			testvm.Return(),
		)
	}()

	waitSuspended(t, d)
	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, StopPause, events[0].Reason)

	d.Resume()
	waitDone(t, done)
}

func TestDebugger_ControlCommandWhileRunningIsNoOp(t *testing.T) {
	d := New()
	// Must neither block nor panic.
	d.Resume()
	d.StepInto()
	d.StepOver()
	d.StepOut()
	assert.False(t, d.IsSuspended())
}

func TestDebugger_SecondReleaseBeforeWakeupIsDropped(t *testing.T) {
	d := New()

	// Model the window where the VM thread has consumed a release but
	// has not yet cleared the suspended flag.
	d.mu.Lock()
	d.suspended = true
	d.resumed = false
	d.mu.Unlock()

	d.Resume()
	assert.Equal(t, ActionNone, <-d.actionCh)

	// A second command in the same window must not park a stale action
	// for the next suspension to consume.
	d.StepInto()
	assert.Empty(t, d.actionCh)
}

func TestDebugger_ToggleBreakpoint(t *testing.T) {
	d := New()
	assert.True(t, d.ToggleBreakpoint("main.as", 10))
	assert.Equal(t, 1, d.Breakpoints().Len())
	assert.False(t, d.ToggleBreakpoint("main.as", 10))
	assert.Zero(t, d.Breakpoints().Len())
}
