// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"path"
	"strconv"
	"strings"

	"github.com/Paril/angelscript-ui-debugger/vm"
)

// Cache holds everything the debugger knows about one suspended
// execution context, so the front end is not querying the VM on every
// render. Create one per context you are inspecting and release it when
// that context goes away; the cache holds a strong reference to the
// context for its whole lifetime.
//
// The cache is not safe for concurrent use. While the VM thread is
// suspended, the inspecting thread is the only one allowed to touch it
// (see Debugger).
type Cache struct {
	ctx vm.Context

	evaluators *EvaluatorMap

	// memoized type display names per (type, modifier) pair
	typeNames map[TypeNameKey]string

	// cached state per normalized (type, address)
	varStates map[VarAddr]*VarState

	globalsCached bool
	globals       []VarView

	locals map[LocalKey][]VarView

	watch []VarView

	// section id → canonical display name
	sections map[string]string

	systemFunction string
	callStack      []CallStackEntry
}

// CacheOption configures a Cache at construction.
type CacheOption func(*Cache)

// WithEvaluators supplies a pre-populated evaluator registry, letting
// hosts register evaluators for their own types before any evaluation
// happens.
func WithEvaluators(m *EvaluatorMap) CacheOption {
	return func(c *Cache) {
		c.evaluators = m
	}
}

// WithWatch seeds the watch list, typically carried forward from the
// cache of a previous suspension. The views' cached states are not
// carried; they re-resolve against this cache on first evaluation.
func WithWatch(watch []VarView) CacheOption {
	return func(c *Cache) {
		c.watch = append(c.watch, watch...)
	}
}

// NewCache builds a cache bound to ctx. It takes a reference on the
// context and snapshots the call stack and section table immediately;
// globals, locals and variable states are filled lazily.
func NewCache(ctx vm.Context, opts ...CacheOption) *Cache {
	c := &Cache{
		ctx:       ctx,
		typeNames: make(map[TypeNameKey]string),
		varStates: make(map[VarAddr]*VarState),
		locals:    make(map[LocalKey][]VarView),
		sections:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.evaluators == nil {
		c.evaluators = NewEvaluatorMap()
	}
	ctx.AddRef()
	c.CacheCallstack()
	c.CacheSections()
	// Watch entries carried from a previous cache need states here;
	// store the keys they normalize to in this cache.
	for n, w := range c.watch {
		c.watch[n].Key, _, _ = c.AddVarState(w.Key)
	}
	return c
}

// Release drops the cache's reference on the context and removes the
// line callback. The cache must not be used afterwards; any VarAddr it
// minted is stale.
func (c *Cache) Release() {
	c.ctx.ClearLineCallback()
	c.ctx.Release()
}

// Context returns the suspended execution context the cache is bound to.
func (c *Cache) Context() vm.Context {
	return c.ctx
}

// Evaluators returns the evaluator registry used by this cache.
func (c *Cache) Evaluators() *EvaluatorMap {
	return c.evaluators
}

// normalize strips handle bits and dereferences the address so that a
// handle to an object and the object itself key the same entry.
func (c *Cache) normalize(id VarAddr) VarAddr {
	if id.TypeID.IsHandle() && id.Addr != vm.Null {
		id.TypeID = id.TypeID.StripHandle()
		id.Addr = c.ctx.Engine().DerefHandle(id.Addr)
	}
	return id
}

// AddVarState returns the state for id, inserting it if absent. The
// returned key is the normalized identity the state is stored under;
// views must hold that key, not the raw id. The first insertion
// evaluates the display value immediately; children and entries remain
// lazy.
func (c *Cache) AddVarState(id VarAddr) (VarAddr, *VarState, bool) {
	key := c.normalize(id)
	if st, ok := c.varStates[key]; ok {
		return key, st, true
	}
	st := &VarState{}
	c.varStates[key] = st
	st.Value = c.evaluators.Evaluate(c, key)
	return key, st, false
}

// VarState returns the cached state for a key previously returned by
// AddVarState, or nil.
func (c *Cache) VarState(key VarAddr) *VarState {
	return c.varStates[c.normalize(key)]
}

// Expand performs the lazy child/entry population for the state at key.
// It is a no-op for leaves and for states already expanded; the
// false→true transition of QueriedChildren happens exactly once no
// matter how many times a front end re-requests expansion.
func (c *Cache) Expand(key VarAddr) {
	key = c.normalize(key)
	st := c.varStates[key]
	if st == nil || st.QueriedChildren {
		return
	}
	if st.Value.Expandable != ExpandChildren && st.Value.Expandable != ExpandEntries {
		return
	}
	st.QueriedChildren = true
	c.evaluators.Expand(c, key, st)
}

// CacheGlobals populates the globals view list. Idempotent until the
// next Refresh; re-invocation is a no-op.
func (c *Cache) CacheGlobals() {
	if c.globalsCached {
		return
	}
	c.globalsCached = true
	eng := c.ctx.Engine()
	for n := 0; n < eng.GlobalVarCount(); n++ {
		name, section, tid, addr := eng.GlobalVar(n)
		key, _, _ := c.AddVarState(VarAddr{TypeID: tid, Addr: addr})
		c.globals = append(c.globals, VarView{
			Name: name,
			Type: c.TypeName(tid, vm.ModNone),
			Key:  key,
		})
		c.EnsureSectionCached(section)
	}
}

// Globals returns the cached globals view list, populating it on first
// call.
func (c *Cache) Globals() []VarView {
	c.CacheGlobals()
	return c.globals
}

// CacheLocals populates the local view list for one (frame, kind) key.
// Requests for a key that is already cached reuse the stored list;
// distinct keys are independent.
func (c *Cache) CacheLocals(key LocalKey) {
	if _, ok := c.locals[key]; ok {
		return
	}
	frame := key.Offset
	views := []VarView{}
	if frame < 0 || frame >= c.ctx.CallStackSize() {
		c.locals[key] = views
		return
	}
	params := c.ctx.ParamCount(frame)
	for n := 0; n < c.ctx.VarCount(frame); n++ {
		name, tid, mods := c.ctx.Var(n, frame)
		kind := LocalTemporary
		switch {
		case n < params:
			kind = LocalParameter
		case name != "":
			kind = LocalVariable
		}
		if kind != key.Kind {
			continue
		}
		if name == "" {
			name = tempName(n)
		}
		id := VarAddr{TypeID: tid, Addr: c.ctx.VarAddress(n, frame)}
		stKey, st, existed := c.AddVarState(id)
		if !c.ctx.VarInScope(n, frame) && !existed {
			st.Value = VarValue{Value: "<out of scope>", Disabled: true}
		}
		views = append(views, VarView{
			Name: name,
			Type: c.TypeName(tid, mods),
			Key:  stKey,
		})
	}
	c.locals[key] = views
}

// Locals returns the view list for a local key, populating it on first
// request.
func (c *Cache) Locals(key LocalKey) []VarView {
	c.CacheLocals(key)
	return c.locals[key]
}

func tempName(n int) string {
	return "@" + strconv.Itoa(n)
}

// CacheCallstack snapshots the frame declarations and source locations.
// Called once per suspension; front ends read the snapshot instead of
// walking the context.
func (c *Cache) CacheCallstack() {
	c.callStack = c.callStack[:0]
	c.systemFunction = c.ctx.SystemFunction()
	for n := 0; n < c.ctx.CallStackSize(); n++ {
		row, col, section := c.ctx.LineNumber(n)
		c.callStack = append(c.callStack, CallStackEntry{
			Declaration: c.ctx.FunctionDeclaration(n),
			Section:     section,
			Row:         row,
			Col:         col,
		})
	}
}

// CallStack returns the frame snapshot captured for this suspension.
func (c *Cache) CallStack() []CallStackEntry {
	return c.callStack
}

// SystemFunction returns the application-registered function the VM is
// inside, or "" when suspended in script code.
func (c *Cache) SystemFunction() string {
	return c.systemFunction
}

// CacheSections derives the section table from functions on the current
// call stack. The VM has no way to enumerate every loaded section, so a
// host wanting a complete table must feed it through EnsureSectionCached
// (or AddSection with an explicit display name) itself.
func (c *Cache) CacheSections() {
	for _, entry := range c.callStack {
		c.EnsureSectionCached(entry.Section)
	}
}

// EnsureSectionCached registers a section under its default display
// name if it is not already present.
func (c *Cache) EnsureSectionCached(section string) {
	if section == "" {
		return
	}
	if _, ok := c.sections[section]; !ok {
		c.sections[section] = sectionDisplayName(section)
	}
}

// AddSection registers a section with an explicit display name,
// overriding any derived one.
func (c *Cache) AddSection(section, display string) {
	c.sections[section] = display
}

// Sections returns the section id → display name table.
func (c *Cache) Sections() map[string]string {
	return c.sections
}

func sectionDisplayName(section string) string {
	// Sections are usually file paths; show the base name.
	name := path.Base(strings.ReplaceAll(section, `\`, `/`))
	if name == "." || name == "/" {
		return section
	}
	return name
}

// TypeName returns the cached display string for a type, computed once
// per distinct (type, modifier) pair.
func (c *Cache) TypeName(id vm.TypeID, mods vm.TypeModifiers) string {
	key := TypeNameKey{TypeID: id, Modifiers: mods}
	if name, ok := c.typeNames[key]; ok {
		return name
	}
	name := c.ctx.Engine().TypeDeclaration(id, mods)
	c.typeNames[key] = name
	return name
}

// Watch returns the watch view list.
func (c *Cache) Watch() []VarView {
	return c.watch
}

// AddWatch appends a view to the watch list if an equal view is not
// already present. The view's key is normalized before storing, so a
// watch added under a handle-typed key shares the entry with the object
// it points at and stays reachable during Refresh.
func (c *Cache) AddWatch(view VarView) {
	view.Key, _, _ = c.AddVarState(view.Key)
	for _, w := range c.watch {
		if w.Equal(view) {
			return
		}
	}
	c.watch = append(c.watch, view)
}

// RemoveWatch removes the first view equal to the given one. Reports
// whether anything was removed.
func (c *Cache) RemoveWatch(view VarView) bool {
	for n, w := range c.watch {
		if w.Equal(view) {
			c.watch = append(c.watch[:n], c.watch[n+1:]...)
			return true
		}
	}
	return false
}

// Refresh re-synchronizes the cache after the context re-suspends at a
// new location. Only entries still reachable from the call stack,
// globals or watch list are re-evaluated; orphaned states stay stale
// and are pruned lazily. Local view lists are dropped because frame
// offsets no longer line up.
func (c *Cache) Refresh() {
	c.CacheCallstack()
	c.CacheSections()
	c.locals = make(map[LocalKey][]VarView)

	visited := make(map[VarAddr]bool)
	var walk func(views []VarView)
	walk = func(views []VarView) {
		for _, view := range views {
			if visited[view.Key] {
				continue
			}
			visited[view.Key] = true
			st := c.varStates[view.Key]
			if st == nil {
				continue
			}
			st.Value = c.evaluators.Evaluate(c, view.Key)
			if st.QueriedChildren {
				// Re-expand previously opened nodes so their children
				// track the new values.
				st.Children = nil
				st.Entries = nil
				c.evaluators.Expand(c, view.Key, st)
				walk(st.Children)
			}
		}
	}
	if c.globalsCached {
		walk(c.globals)
	}
	walk(c.watch)
}
