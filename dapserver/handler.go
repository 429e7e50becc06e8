// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package dapserver

import (
	"sync"

	"github.com/google/go-dap"

	"github.com/Paril/angelscript-ui-debugger/debugger"
)

// Variable reference layout. Scope references embed the frame index:
// ref = base + frameIndex. References at or above varRefBase identify
// individual expandable values, allocated per suspension.
const (
	scopeLocalBase  = 1000
	scopeGlobalBase = 3000
	varRefBase      = 10000
)

// handler dispatches incoming DAP messages to the appropriate method.
type handler struct {
	server *Server
	dbg    *debugger.Debugger

	mu          sync.Mutex
	initialized bool

	// refs maps allocated variable references to cache identities.
	// Reset on every suspension; references from a previous stop are
	// invalid per the DAP lifetime rules.
	refs    map[int]debugger.VarAddr
	refByID map[debugger.VarAddr]int
	nextRef int
}

func newHandler(s *Server, dbg *debugger.Debugger) *handler {
	h := &handler{
		server: s,
		dbg:    dbg,
	}
	h.resetRefs()
	// Forward debugger suspensions to the DAP client.
	dbg.SetEventCallback(func(evt debugger.Event) {
		if evt.Type != debugger.EventStopped {
			return
		}
		h.resetRefs()
		h.sendStoppedEvent(evt.Reason)
	})
	return h
}

func (h *handler) resetRefs() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs = make(map[int]debugger.VarAddr)
	h.refByID = make(map[debugger.VarAddr]int)
	h.nextRef = varRefBase
}

// allocRef returns a stable reference for key within this suspension,
// or 0 when the state at key cannot expand.
func (h *handler) allocRef(cache *debugger.Cache, key debugger.VarAddr) int {
	st := cache.VarState(key)
	if st == nil || st.Value.Expandable == debugger.ExpandNone {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref, ok := h.refByID[key]; ok {
		return ref
	}
	ref := h.nextRef
	h.nextRef++
	h.refs[ref] = key
	h.refByID[key] = ref
	return ref
}

func (h *handler) refKey(ref int) (debugger.VarAddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key, ok := h.refs[ref]
	return key, ok
}

// send sends a DAP message and logs any write error.
func (h *handler) send(msg dap.Message) {
	if err := h.server.send(msg); err != nil {
		h.server.logger.WithError(err).Error("dap: send failed")
	}
}

func (h *handler) handle(msg dap.Message) {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		h.onInitialize(req)
	case *dap.SetBreakpointsRequest:
		h.onSetBreakpoints(req)
	case *dap.SetFunctionBreakpointsRequest:
		h.onSetFunctionBreakpoints(req)
	case *dap.ConfigurationDoneRequest:
		h.onConfigurationDone(req)
	case *dap.ThreadsRequest:
		h.onThreads(req)
	case *dap.StackTraceRequest:
		h.onStackTrace(req)
	case *dap.ScopesRequest:
		h.onScopes(req)
	case *dap.VariablesRequest:
		h.onVariables(req)
	case *dap.ContinueRequest:
		h.onContinue(req)
	case *dap.NextRequest:
		h.onNext(req)
	case *dap.StepInRequest:
		h.onStepIn(req)
	case *dap.StepOutRequest:
		h.onStepOut(req)
	case *dap.PauseRequest:
		h.onPause(req)
	case *dap.EvaluateRequest:
		h.onEvaluate(req)
	case *dap.DisconnectRequest:
		h.onDisconnect(req)
	default:
		h.server.logger.WithField("type", typeName(msg)).Debug("dap: unhandled message")
	}
}

func (h *handler) onInitialize(req *dap.InitializeRequest) {
	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()

	resp := &dap.InitializeResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsFunctionBreakpoints:      true,
		SupportsEvaluateForHovers:        true,
		SupportTerminateDebuggee:         true,
	}
	h.send(resp)

	// Tell the client it can send configuration.
	h.send(&dap.InitializedEvent{
		Event: h.newEvent("initialized"),
	})
}

func (h *handler) onSetBreakpoints(req *dap.SetBreakpointsRequest) {
	section := sourceSection(req.Arguments.Source)

	bps := h.dbg.Breakpoints()
	bps.ClearSection(section)
	for _, bp := range req.Arguments.Breakpoints {
		bps.Add(debugger.LocationBreakpoint(section, bp.Line))
	}

	resp := &dap.SetBreakpointsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Breakpoints = translateBreakpoints(req.Arguments.Source, req.Arguments.Breakpoints)
	h.send(resp)
}

func (h *handler) onSetFunctionBreakpoints(req *dap.SetFunctionBreakpointsRequest) {
	bps := h.dbg.Breakpoints()
	bps.ClearFunctions()
	result := make([]dap.Breakpoint, len(req.Arguments.Breakpoints))
	for i, bp := range req.Arguments.Breakpoints {
		bps.Add(debugger.FunctionBreakpoint(bp.Name))
		result[i] = dap.Breakpoint{Verified: true}
	}

	resp := &dap.SetFunctionBreakpointsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Breakpoints = result
	h.send(resp)
}

func (h *handler) onConfigurationDone(req *dap.ConfigurationDoneRequest) {
	resp := &dap.ConfigurationDoneResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
}

func (h *handler) onThreads(req *dap.ThreadsRequest) {
	resp := &dap.ThreadsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Threads = []dap.Thread{
		{Id: scriptThreadID, Name: "AngelScript Main"},
	}
	h.send(resp)
}

// suspendedCache returns the cache when the VM thread is suspended, nil
// otherwise. Inspection requests while running get empty results rather
// than racing the VM thread.
func (h *handler) suspendedCache() *debugger.Cache {
	if !h.dbg.IsSuspended() {
		return nil
	}
	return h.dbg.Cache()
}

func (h *handler) onStackTrace(req *dap.StackTraceRequest) {
	resp := &dap.StackTraceResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)

	cache := h.suspendedCache()
	if cache == nil {
		h.send(resp)
		return
	}

	frames := translateStackFrames(cache)
	resp.Body.TotalFrames = len(frames)

	// Apply paging.
	start := req.Arguments.StartFrame
	if start > len(frames) {
		start = len(frames)
	}
	end := len(frames)
	if req.Arguments.Levels > 0 && start+req.Arguments.Levels < end {
		end = start + req.Arguments.Levels
	}
	resp.Body.StackFrames = frames[start:end]
	h.send(resp)
}

func (h *handler) onScopes(req *dap.ScopesRequest) {
	resp := &dap.ScopesResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)

	frameID := req.Arguments.FrameId
	resp.Body.Scopes = []dap.Scope{
		{
			Name:               "Locals",
			VariablesReference: scopeLocalBase + frameID,
			Expensive:          false,
		},
		{
			Name:               "Globals",
			VariablesReference: scopeGlobalBase,
			Expensive:          true,
		},
	}
	h.send(resp)
}

func (h *handler) onVariables(req *dap.VariablesRequest) {
	resp := &dap.VariablesResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)

	cache := h.suspendedCache()
	if cache == nil {
		h.send(resp)
		return
	}

	ref := req.Arguments.VariablesReference
	switch {
	case ref >= varRefBase:
		if key, ok := h.refKey(ref); ok {
			resp.Body.Variables = h.expandVariable(cache, key)
		}
	case ref >= scopeGlobalBase:
		resp.Body.Variables = h.translateViews(cache, cache.Globals())
	case ref >= scopeLocalBase:
		stackIndex := ref - scopeLocalBase - 1 // frame IDs are 1-based
		resp.Body.Variables = h.translateViews(cache, frameLocals(cache, stackIndex))
	}
	if resp.Body.Variables == nil {
		resp.Body.Variables = []dap.Variable{}
	}
	h.send(resp)
}

func (h *handler) onContinue(req *dap.ContinueRequest) {
	resp := &dap.ContinueResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.AllThreadsContinued = true
	h.send(resp)
	h.dbg.Resume()
}

func (h *handler) onNext(req *dap.NextRequest) {
	resp := &dap.NextResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	h.dbg.StepOver()
}

func (h *handler) onStepIn(req *dap.StepInRequest) {
	resp := &dap.StepInResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	h.dbg.StepInto()
}

func (h *handler) onStepOut(req *dap.StepOutRequest) {
	resp := &dap.StepOutResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	h.dbg.StepOut()
}

func (h *handler) onPause(req *dap.PauseRequest) {
	resp := &dap.PauseResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	h.dbg.RequestPause()
}

// onEvaluate resolves a bare variable name against the paused frame's
// locals, then the globals, then the watch list. Arbitrary script
// expressions cannot be evaluated without running the VM.
func (h *handler) onEvaluate(req *dap.EvaluateRequest) {
	resp := &dap.EvaluateResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)

	cache := h.suspendedCache()
	if cache == nil {
		resp.Success = false
		resp.Message = "not suspended"
		h.send(resp)
		return
	}

	var views []debugger.VarView
	if req.Arguments.FrameId > 0 {
		views = frameLocals(cache, req.Arguments.FrameId-1)
	}
	views = append(views, cache.Globals()...)
	views = append(views, cache.Watch()...)

	for _, view := range views {
		if view.Name != req.Arguments.Expression {
			continue
		}
		st := cache.VarState(view.Key)
		if st == nil {
			break
		}
		resp.Body.Result = st.Value.Value
		resp.Body.Type = view.Type
		resp.Body.VariablesReference = h.allocRef(cache, view.Key)
		h.send(resp)
		return
	}

	resp.Success = false
	resp.Message = "no variable named " + req.Arguments.Expression
	h.send(resp)
}

func (h *handler) onDisconnect(req *dap.DisconnectRequest) {
	resp := &dap.DisconnectResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)

	if h.dbg.IsSuspended() {
		h.dbg.Resume()
	}
	h.dbg.Detach()

	h.send(&dap.TerminatedEvent{
		Event: h.newEvent("terminated"),
	})
	h.server.close()
}

// sendStoppedEvent sends a DAP stopped event to the client.
func (h *handler) sendStoppedEvent(reason debugger.StopReason) {
	evt := &dap.StoppedEvent{
		Event: h.newEvent("stopped"),
	}
	evt.Body.Reason = string(reason)
	evt.Body.ThreadId = scriptThreadID
	evt.Body.AllThreadsStopped = true
	h.send(evt)
}

// --- helpers ---

func (h *handler) newResponse(reqSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: h.server.nextSeq(), Type: "response"},
		RequestSeq:      reqSeq,
		Success:         true,
		Command:         command,
	}
}

func (h *handler) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: h.server.nextSeq(), Type: "event"},
		Event:           event,
	}
}
