// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

// Package debugger implements the introspection cache and evaluation
// engine of a lightweight script VM debugger: breakpoint management,
// the step state machine, per-suspension variable caching, and the
// cross-thread suspend/resume handoff.
//
// Concurrency model: the VM's execution thread invokes the per-line
// hook and, when a suspension is requested, blocks inside DebugBreak on
// a channel. The inspecting thread (a UI loop, a DAP server, a REPL)
// then owns the Cache exclusively and releases the VM thread with
// Resume or one of the step commands. Exactly one suspension is in
// flight at a time; re-entering DebugBreak before a matching resume is
// a fatal precondition violation.
package debugger

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Paril/angelscript-ui-debugger/vm"
)

// EventType identifies the kind of debug event.
type EventType int

const (
	// EventStopped indicates the VM thread has suspended.
	EventStopped EventType = iota
	// EventContinued indicates the VM thread has been released.
	EventContinued
)

// StopReason describes why execution suspended.
type StopReason string

const (
	StopBreakpoint StopReason = "breakpoint"
	StopStep       StopReason = "step"
	StopPause      StopReason = "pause"
)

// Event is delivered to the event callback on debugger state changes.
type Event struct {
	Type     EventType
	Reason   StopReason // set for EventStopped
	Section  string
	Line     int
	Function string
}

// EventCallback is invoked on state changes. EventStopped fires on the
// VM's execution thread right before it blocks, so the callback must
// not call back into the cache or the control operations; hand off to
// the inspecting thread instead.
type EventCallback func(Event)

// CacheFactory builds the per-suspension cache. Hosts replace it to
// substitute a customized cache (extra evaluators, externally supplied
// section tables).
type CacheFactory func(ctx vm.Context, opts ...CacheOption) *Cache

// Debugger owns the breakpoint set, the step state machine and the
// suspend/resume handoff. Keep it alive while HasWork reports true: the
// VM thread may call back into it at any point until the hooked context
// drops its line callback.
type Debugger struct {
	breakpoints *BreakpointSet
	stepper     *Stepper
	logger      *logrus.Logger
	newCache    CacheFactory
	onEvent     EventCallback
	tracer      trace.Tracer
	carryWatch  bool

	mu           sync.Mutex
	hooked       vm.Context
	cache        *Cache
	suspended    bool
	resumed      bool // a release was already handed off for this suspension
	reason       StopReason
	pauseReq     bool
	pendingWatch []VarView

	// actionCh carries the release command from the inspecting thread
	// to the VM thread blocked in DebugBreak.
	actionCh chan Action

	span trace.Span // suspension span, live between break and resume
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithEventCallback sets the function called on suspension state changes.
func WithEventCallback(cb EventCallback) Option {
	return func(d *Debugger) {
		d.onEvent = cb
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Debugger) {
		d.logger = logger
	}
}

// WithCacheFactory replaces how per-suspension caches are built.
func WithCacheFactory(f CacheFactory) Option {
	return func(d *Debugger) {
		d.newCache = f
	}
}

// WithTracerProvider enables a span per suspension, from DebugBreak to
// the matching resume, annotated with the stop location. Useful for
// measuring how long code spends suspended under inspection.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Debugger) {
		d.tracer = tp.Tracer("angelscript-ui-debugger")
	}
}

// WithWatchCarry carries the watch list forward when a new cache
// replaces an old one, instead of scoping it to a single suspension.
func WithWatchCarry(carry bool) Option {
	return func(d *Debugger) {
		d.carryWatch = carry
	}
}

// New creates a debugger with no breakpoints and no hooked context.
func New(opts ...Option) *Debugger {
	d := &Debugger{
		breakpoints: NewBreakpointSet(),
		stepper:     NewStepper(),
		newCache:    NewCache,
		actionCh:    make(chan Action, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logrus.New()
		d.logger.SetLevel(logrus.WarnLevel)
	}
	return d
}

// Breakpoints returns the active breakpoint set for external management.
func (d *Debugger) Breakpoints() *BreakpointSet {
	return d.breakpoints
}

// ToggleBreakpoint adds the location breakpoint if absent, removes it
// if present, and reports whether it is set afterwards.
func (d *Debugger) ToggleBreakpoint(section string, line int) bool {
	set := d.breakpoints.Toggle(section, line)
	d.logger.WithFields(logrus.Fields{
		"section": section,
		"line":    line,
		"set":     set,
	}).Debug("breakpoint toggled")
	return set
}

// Cache returns the cache for the current suspension, or nil when no
// context has suspended yet. Only the inspecting thread may use it, and
// only while the debugger is suspended.
func (d *Debugger) Cache() *Cache {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache
}

// IsSuspended reports whether the VM thread is blocked in DebugBreak.
func (d *Debugger) IsSuspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// HasWork reports whether a context still has the line hook installed.
// The debugger must not be destroyed while this returns true.
func (d *Debugger) HasWork() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooked != nil && d.hooked.HasLineCallback()
}

// HookContext binds the debugger to observe ctx, discarding any
// previous cache and unhooking the previous context. At most one
// context is under inspection by a debugger at a time.
func (d *Debugger) HookContext(ctx vm.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		panic("debugger: HookContext while suspended")
	}
	d.dropCacheLocked()
	if d.hooked != nil {
		d.hooked.ClearLineCallback()
	}
	d.hooked = ctx
	if ctx != nil {
		ctx.SetLineCallback(d.LineCallback)
	}
}

// Detach unhooks the current context and drops the cache.
func (d *Debugger) Detach() {
	d.HookContext(nil)
}

// SetEventCallback replaces the event callback. Front ends that attach
// to an already constructed debugger (the DAP server) use this instead
// of WithEventCallback.
func (d *Debugger) SetEventCallback(cb EventCallback) {
	d.mu.Lock()
	d.onEvent = cb
	d.mu.Unlock()
}

// RequestPause asks the VM thread to suspend at the next executed line.
// Safe to call from any thread; a no-op if the VM never runs again.
func (d *Debugger) RequestPause() {
	d.mu.Lock()
	d.pauseReq = true
	d.mu.Unlock()
}

func (d *Debugger) dropCacheLocked() {
	if d.cache == nil {
		return
	}
	if d.carryWatch {
		// keep the views; their states re-resolve in the next cache
		watch := append([]VarView(nil), d.cache.Watch()...)
		d.cache.Release()
		d.cache = nil
		d.pendingWatch = watch
		return
	}
	d.cache.Release()
	d.cache = nil
}

// LineCallback is the per-line hook. It must be invoked only from the
// VM's execution thread. It consults the step state machine first and
// the breakpoint set second, and suspends via DebugBreak when either
// triggers.
func (d *Debugger) LineCallback(ctx vm.Context) {
	d.mu.Lock()
	pause := d.pauseReq
	d.pauseReq = false
	d.mu.Unlock()
	if pause {
		d.breakWithReason(ctx, StopPause)
		return
	}
	depth := ctx.CallStackSize()
	if d.stepper.Action() != ActionNone {
		if d.stepper.ShouldPause(depth) {
			d.breakWithReason(ctx, StopStep)
		}
		return
	}
	line, _, section := ctx.LineNumber(0)
	if d.breakpoints.Match(section, line, ctx.FunctionName(0)) {
		d.breakWithReason(ctx, StopBreakpoint)
	}
}

func (d *Debugger) breakWithReason(ctx vm.Context, reason StopReason) {
	d.mu.Lock()
	d.reason = reason
	d.mu.Unlock()
	d.DebugBreak(ctx)
}

// DebugBreak suspends the calling (VM execution) thread on the current
// context. A fresh cache is built for a context not seen before; when
// the hooked context re-suspends, the existing cache is refreshed
// instead, so previously expanded views stay cheap. Blocks until the
// inspecting thread issues Resume or a step command.
func (d *Debugger) DebugBreak(ctx vm.Context) {
	d.mu.Lock()
	if d.suspended {
		d.mu.Unlock()
		panic("debugger: re-entrant suspension")
	}
	reason := d.reason
	if reason == "" {
		reason = StopPause
	}
	d.reason = ""

	if d.cache != nil && d.cache.Context() == ctx {
		d.cache.Refresh()
	} else {
		d.dropCacheLocked()
		var opts []CacheOption
		if len(d.pendingWatch) > 0 {
			opts = append(opts, WithWatch(d.pendingWatch))
			d.pendingWatch = nil
		}
		d.cache = d.newCache(ctx, opts...)
	}
	d.suspended = true
	d.resumed = false
	cb := d.onEvent
	d.mu.Unlock()

	line, _, section := ctx.LineNumber(0)
	function := ctx.FunctionName(0)

	d.logger.WithFields(logrus.Fields{
		"section":  section,
		"line":     line,
		"function": function,
		"reason":   reason,
	}).Debug("suspended")

	d.startSpan(reason, section, line, function)

	if cb != nil {
		cb(Event{
			Type:     EventStopped,
			Reason:   reason,
			Section:  section,
			Line:     line,
			Function: function,
		})
	}

	// Handoff: block until the inspecting thread releases us.
	action := <-d.actionCh

	d.endSpan(action)

	d.mu.Lock()
	d.suspended = false
	switch action {
	case ActionStepInto, ActionStepOver, ActionStepOut:
		d.stepper.Set(action, ctx.CallStackSize())
	default:
		d.stepper.Reset()
	}
	cb = d.onEvent
	d.mu.Unlock()

	d.logger.WithField("action", action.String()).Debug("released")

	if cb != nil {
		cb(Event{Type: EventContinued})
	}
}

// release sends one action to a blocked DebugBreak. A command with no
// suspension in flight is a no-op, as is a second command for the same
// suspension: the resumed flag is claimed under the lock, so only one
// caller reaches the channel and no stale action can park in its buffer
// while the VM thread is still waking up.
func (d *Debugger) release(action Action) {
	d.mu.Lock()
	if !d.suspended || d.resumed {
		d.mu.Unlock()
		d.logger.WithField("action", action.String()).Warn("control command while not suspended")
		return
	}
	d.resumed = true
	d.mu.Unlock()
	d.actionCh <- action
}

// Resume releases the suspended thread and runs until the next explicit
// breakpoint.
func (d *Debugger) Resume() {
	d.release(ActionNone)
}

// StepInto releases the suspended thread and suspends again on the next
// line regardless of call depth.
func (d *Debugger) StepInto() {
	d.release(ActionStepInto)
}

// StepOver releases the suspended thread and suspends on the next line
// at the same or a lesser call depth.
func (d *Debugger) StepOver() {
	d.release(ActionStepOver)
}

// StepOut releases the suspended thread and suspends once the current
// function has returned.
func (d *Debugger) StepOut() {
	d.release(ActionStepOut)
}

func (d *Debugger) startSpan(reason StopReason, section string, line int, function string) {
	if d.tracer == nil {
		return
	}
	_, span := d.tracer.Start(context.Background(), "suspension",
		trace.WithAttributes(
			attribute.String("debugger.stop_reason", string(reason)),
			attribute.String("code.filepath", section),
			attribute.Int("code.lineno", line),
			attribute.String("code.function", function),
		))
	d.mu.Lock()
	d.span = span
	d.mu.Unlock()
}

func (d *Debugger) endSpan(action Action) {
	if d.tracer == nil {
		return
	}
	d.mu.Lock()
	span := d.span
	d.span = nil
	d.mu.Unlock()
	if span != nil {
		span.SetAttributes(attribute.String("debugger.resume_action", action.String()))
		span.End()
	}
}
