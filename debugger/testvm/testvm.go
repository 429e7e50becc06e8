// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

// Package testvm provides an in-memory script VM implementing the vm
// interfaces. It backs the debugger tests, the DAP server tests and the
// demo command; it is not a real interpreter. Scripts are described as
// data: frames with declared variables, and a program of line events
// that drive the per-line hook the way a bytecode interpreter would.
package testvm

import (
	"fmt"
	"sync/atomic"

	"github.com/Paril/angelscript-ui-debugger/vm"
)

// Engine is an in-memory implementation of vm.Engine. Values live in a
// flat address space keyed by opaque ids; Alloc stores a Go value and
// mints an address for it.
type Engine struct {
	types   map[int]*Type
	nextSeq int

	globals []globalVar

	mem      map[vm.Address]any
	nextAddr uint64
}

type globalVar struct {
	name    string
	section string
	typeID  vm.TypeID
	addr    vm.Address
}

// Type is a declared script type registered on the Engine.
type Type struct {
	eng     *Engine
	name    string
	kind    vm.Kind
	props   []vm.Property
	members map[int64]string // enum members
	array   bool             // instances iterate elements
}

// Object is an instance of an object type: named property slots.
type Object struct {
	TypeID vm.TypeID
	Props  map[string]vm.Address
}

// Array is an iterable instance holding element addresses.
type Array struct {
	ElemType vm.TypeID
	Elems    []vm.Address

	// Temporary marks elements as call-scoped values that the debugger
	// must snapshot.
	Temporary bool
}

// Handle is a stored reference to another address.
type Handle struct {
	Target vm.Address
}

// NewEngine returns an engine with only the primitive types declared.
func NewEngine() *Engine {
	return &Engine{
		types:   make(map[int]*Type),
		nextSeq: int(vm.TypeIDDouble) + 1,
		mem:     make(map[vm.Address]any),
	}
}

// Alloc stores v and returns its address.
func (e *Engine) Alloc(v any) vm.Address {
	e.nextAddr++
	addr := vm.Address(e.nextAddr)
	e.mem[addr] = v
	return addr
}

// Store replaces the value at an existing address.
func (e *Engine) Store(addr vm.Address, v any) {
	e.mem[addr] = v
}

// At returns the raw value stored at addr.
func (e *Engine) At(addr vm.Address) any {
	return e.mem[addr]
}

// Free drops the value at addr, simulating the VM reclaiming a
// temporary.
func (e *Engine) Free(addr vm.Address) {
	delete(e.mem, addr)
}

// RegisterObjectType declares an object type with the given properties.
func (e *Engine) RegisterObjectType(name string, props ...vm.Property) vm.TypeID {
	seq := e.nextSeq
	e.nextSeq++
	e.types[seq] = &Type{eng: e, name: name, kind: vm.KindObject, props: props}
	return vm.TypeID(seq) | (vm.TypeIDMaskObject & 0x04000000)
}

// RegisterArrayType declares an iterable container type.
func (e *Engine) RegisterArrayType(name string) vm.TypeID {
	seq := e.nextSeq
	e.nextSeq++
	e.types[seq] = &Type{eng: e, name: name, kind: vm.KindObject, array: true}
	return vm.TypeID(seq) | (vm.TypeIDMaskObject & 0x04000000)
}

// RegisterEnum declares an enum type with named members.
func (e *Engine) RegisterEnum(name string, members map[int64]string) vm.TypeID {
	seq := e.nextSeq
	e.nextSeq++
	e.types[seq] = &Type{eng: e, name: name, kind: vm.KindEnum, members: members}
	return vm.TypeID(seq)
}

// RegisterStringType declares a string-like type (the host-registered
// string in AngelScript terms).
func (e *Engine) RegisterStringType(name string) vm.TypeID {
	seq := e.nextSeq
	e.nextSeq++
	e.types[seq] = &Type{eng: e, name: name, kind: vm.KindString}
	return vm.TypeID(seq)
}

// AddGlobal declares a global variable bound to an allocated value.
func (e *Engine) AddGlobal(name, section string, id vm.TypeID, v any) vm.Address {
	addr := e.Alloc(v)
	e.globals = append(e.globals, globalVar{name: name, section: section, typeID: id, addr: addr})
	return addr
}

func (e *Engine) typeFor(id vm.TypeID) *Type {
	return e.types[id.SeqNbr()]
}

// TypeKind implements vm.Engine.
func (e *Engine) TypeKind(id vm.TypeID) vm.Kind {
	switch id.StripHandle() & vm.TypeIDMaskSeqNbr {
	case vm.TypeIDBool:
		return vm.KindBool
	case vm.TypeIDInt8:
		return vm.KindInt8
	case vm.TypeIDInt16:
		return vm.KindInt16
	case vm.TypeIDInt32:
		return vm.KindInt32
	case vm.TypeIDInt64:
		return vm.KindInt64
	case vm.TypeIDUint8:
		return vm.KindUint8
	case vm.TypeIDUint16:
		return vm.KindUint16
	case vm.TypeIDUint32:
		return vm.KindUint32
	case vm.TypeIDUint64:
		return vm.KindUint64
	case vm.TypeIDFloat:
		return vm.KindFloat
	case vm.TypeIDDouble:
		return vm.KindDouble
	}
	if t := e.typeFor(id); t != nil {
		return t.kind
	}
	return vm.KindObject
}

// TypeDeclaration implements vm.Engine.
func (e *Engine) TypeDeclaration(id vm.TypeID, mods vm.TypeModifiers) string {
	base := ""
	if t := e.typeFor(id); t != nil {
		base = t.name
	} else {
		base = e.TypeKind(id).String()
	}
	if id.IsHandle() {
		base += "@"
	}
	if mods&vm.ModConst != 0 {
		base = "const " + base
	}
	if mods&(vm.ModInRef|vm.ModOutRef) != 0 {
		base += "&"
	}
	return base
}

// TypeInfo implements vm.Engine. Array types come back wrapped so that
// only they satisfy vm.Iterable.
func (e *Engine) TypeInfo(id vm.TypeID) vm.TypeInfo {
	t := e.typeFor(id)
	if t == nil || (t.kind != vm.KindObject) {
		return nil
	}
	if t.array {
		return arrayType{t}
	}
	return t
}

// GlobalVarCount implements vm.Engine.
func (e *Engine) GlobalVarCount() int {
	return len(e.globals)
}

// GlobalVar implements vm.Engine.
func (e *Engine) GlobalVar(n int) (name, section string, id vm.TypeID, addr vm.Address) {
	g := e.globals[n]
	return g.name, g.section, g.typeID, g.addr
}

// DerefHandle implements vm.Engine.
func (e *Engine) DerefHandle(addr vm.Address) vm.Address {
	if h, ok := e.mem[addr].(Handle); ok {
		return h.Target
	}
	// A direct object reference dereferences to itself.
	return addr
}

// BoolAt implements vm.Engine.
func (e *Engine) BoolAt(addr vm.Address) bool {
	b, _ := e.mem[addr].(bool)
	return b
}

// IntAt implements vm.Engine.
func (e *Engine) IntAt(addr vm.Address, _ vm.Kind) int64 {
	switch v := e.mem[addr].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// UintAt implements vm.Engine.
func (e *Engine) UintAt(addr vm.Address, _ vm.Kind) uint64 {
	switch v := e.mem[addr].(type) {
	case uint64:
		return v
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	}
	return 0
}

// FloatAt implements vm.Engine.
func (e *Engine) FloatAt(addr vm.Address, _ vm.Kind) float64 {
	f, _ := e.mem[addr].(float64)
	return f
}

// StringAt implements vm.Engine.
func (e *Engine) StringAt(addr vm.Address) string {
	s, _ := e.mem[addr].(string)
	return s
}

// EnumValueAt implements vm.Engine.
func (e *Engine) EnumValueAt(id vm.TypeID, addr vm.Address) (int64, string) {
	v := e.IntAt(addr, vm.KindInt32)
	if t := e.typeFor(id); t != nil {
		return v, t.members[v]
	}
	return v, ""
}

// SnapshotValue implements vm.Engine.
func (e *Engine) SnapshotValue(_ vm.TypeID, addr vm.Address) []byte {
	return []byte(fmt.Sprintf("%v", e.mem[addr]))
}

// Name implements vm.TypeInfo.
func (t *Type) Name() string { return t.name }

// PropertyCount implements vm.TypeInfo.
func (t *Type) PropertyCount() int { return len(t.props) }

// Property implements vm.TypeInfo.
func (t *Type) Property(n int) vm.Property { return t.props[n] }

// PropertyAddress implements vm.TypeInfo.
func (t *Type) PropertyAddress(obj vm.Address, n int) vm.Address {
	switch o := t.eng.mem[obj].(type) {
	case *Object:
		return o.Props[t.props[n].Name]
	case Object:
		return o.Props[t.props[n].Name]
	}
	return vm.Null
}

// arrayType wraps a container Type so that only containers satisfy
// vm.Iterable; the object evaluator type-asserts on it.
type arrayType struct{ *Type }

func (e *Engine) arrayAt(addr vm.Address) *Array {
	switch a := e.mem[addr].(type) {
	case *Array:
		return a
	case Array:
		return &a
	}
	return nil
}

// ElementCount implements vm.Iterable.
func (t arrayType) ElementCount(obj vm.Address) int {
	a := t.eng.arrayAt(obj)
	if a == nil {
		return 0
	}
	return len(a.Elems)
}

// Element implements vm.Iterable.
func (t arrayType) Element(obj vm.Address, n int) vm.Element {
	a := t.eng.arrayAt(obj)
	if a == nil || n >= len(a.Elems) {
		return vm.Element{}
	}
	return vm.Element{TypeID: a.ElemType, Addr: a.Elems[n], Temporary: a.Temporary}
}

var _ vm.Iterable = arrayType{}

// Local is one declared frame variable in the test VM.
type Local struct {
	Name    string
	TypeID  vm.TypeID
	Mods    vm.TypeModifiers
	Addr    vm.Address
	InScope bool
}

// Frame is one call stack frame.
type Frame struct {
	Declaration string
	Name        string
	Section     string
	Line        int
	Col         int
	Params      []Local
	Locals      []Local
	Temps       []Local
}

func (f *Frame) vars() []Local {
	out := make([]Local, 0, len(f.Params)+len(f.Locals)+len(f.Temps))
	out = append(out, f.Params...)
	out = append(out, f.Locals...)
	out = append(out, f.Temps...)
	return out
}

// Context is an in-memory implementation of vm.Context driven manually
// by tests or by a Program.
type Context struct {
	eng      *Engine
	refs     atomic.Int32
	released atomic.Int32
	cb       vm.LineCallback
	frames   []*Frame
	sysFunc  string
}

// NewContext returns a context with an empty call stack.
func (e *Engine) NewContext() *Context {
	ctx := &Context{eng: e}
	ctx.refs.Store(1)
	return ctx
}

// Engine implements vm.Context.
func (c *Context) Engine() vm.Engine { return c.eng }

// AddRef implements vm.Context.
func (c *Context) AddRef() { c.refs.Add(1) }

// Release implements vm.Context.
func (c *Context) Release() {
	c.refs.Add(-1)
	c.released.Add(1)
}

// RefCount returns the current reference count, for tests asserting the
// cache's strong-reference behavior.
func (c *Context) RefCount() int { return int(c.refs.Load()) }

// Releases returns how many times Release has been called.
func (c *Context) Releases() int { return int(c.released.Load()) }

// SetLineCallback implements vm.Context.
func (c *Context) SetLineCallback(cb vm.LineCallback) { c.cb = cb }

// ClearLineCallback implements vm.Context.
func (c *Context) ClearLineCallback() { c.cb = nil }

// HasLineCallback implements vm.Context.
func (c *Context) HasLineCallback() bool { return c.cb != nil }

// SetSystemFunction marks the context as inside an app-registered
// function.
func (c *Context) SetSystemFunction(name string) { c.sysFunc = name }

// SystemFunction implements vm.Context.
func (c *Context) SystemFunction() string { return c.sysFunc }

// Push appends a frame to the call stack.
func (c *Context) Push(f *Frame) { c.frames = append(c.frames, f) }

// Pop removes the innermost frame.
func (c *Context) Pop() {
	if len(c.frames) > 0 {
		c.frames = c.frames[:len(c.frames)-1]
	}
}

// ExecLine moves the innermost frame to the given line and fires the
// line callback, the way an interpreter would between instructions.
func (c *Context) ExecLine(line int) {
	if len(c.frames) == 0 {
		return
	}
	c.frames[len(c.frames)-1].Line = line
	if c.cb != nil {
		c.cb(c)
	}
}

// frame converts a 0-innermost stack index into the frames slice.
func (c *Context) frame(stackIndex int) *Frame {
	n := len(c.frames) - 1 - stackIndex
	if n < 0 || n >= len(c.frames) {
		return nil
	}
	return c.frames[n]
}

// CallStackSize implements vm.Context.
func (c *Context) CallStackSize() int { return len(c.frames) }

// FunctionDeclaration implements vm.Context.
func (c *Context) FunctionDeclaration(stackIndex int) string {
	f := c.frame(stackIndex)
	if f == nil {
		return ""
	}
	return f.Declaration
}

// FunctionName implements vm.Context.
func (c *Context) FunctionName(stackIndex int) string {
	f := c.frame(stackIndex)
	if f == nil {
		return ""
	}
	return f.Name
}

// LineNumber implements vm.Context.
func (c *Context) LineNumber(stackIndex int) (line, col int, section string) {
	f := c.frame(stackIndex)
	if f == nil {
		return 0, 0, ""
	}
	return f.Line, f.Col, f.Section
}

// VarCount implements vm.Context.
func (c *Context) VarCount(stackIndex int) int {
	f := c.frame(stackIndex)
	if f == nil {
		return 0
	}
	return len(f.vars())
}

// ParamCount implements vm.Context.
func (c *Context) ParamCount(stackIndex int) int {
	f := c.frame(stackIndex)
	if f == nil {
		return 0
	}
	return len(f.Params)
}

// Var implements vm.Context.
func (c *Context) Var(n, stackIndex int) (string, vm.TypeID, vm.TypeModifiers) {
	f := c.frame(stackIndex)
	if f == nil {
		return "", 0, vm.ModNone
	}
	vars := f.vars()
	if n >= len(vars) {
		return "", 0, vm.ModNone
	}
	v := vars[n]
	return v.Name, v.TypeID, v.Mods
}

// VarInScope implements vm.Context.
func (c *Context) VarInScope(n, stackIndex int) bool {
	f := c.frame(stackIndex)
	if f == nil {
		return false
	}
	vars := f.vars()
	if n >= len(vars) {
		return false
	}
	return vars[n].InScope
}

// VarAddress implements vm.Context.
func (c *Context) VarAddress(n, stackIndex int) vm.Address {
	f := c.frame(stackIndex)
	if f == nil {
		return vm.Null
	}
	vars := f.vars()
	if n >= len(vars) {
		return vm.Null
	}
	return vars[n].Addr
}
