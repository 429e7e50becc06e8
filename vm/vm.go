// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package vm

// Address locates a live value inside the host VM. It is opaque to the
// debugger: the VM mints addresses and resolves reads through the
// Engine accessors. The zero Address is the null address; evaluators
// are never invoked with it.
type Address uint64

// Null is the zero (uninitialized) address.
const Null Address = 0

// Property describes one declared property of an object type.
type Property struct {
	Name   string
	TypeID TypeID
}

// TypeInfo exposes the declared shape of a non-primitive type.
type TypeInfo interface {
	// Name returns the bare declared name of the type.
	Name() string

	// PropertyCount returns the number of declared properties.
	PropertyCount() int

	// Property returns the declaration of the nth property.
	Property(n int) Property

	// PropertyAddress resolves the address of the nth property of the
	// object instance at obj. Returns Null if the property cannot be
	// resolved.
	PropertyAddress(obj Address, n int) Address
}

// Element is one value produced by iterating a container-like object.
// Temporary is set when the value will not outlive the producing call,
// in which case the debugger must snapshot it before the VM reclaims it.
type Element struct {
	TypeID    TypeID
	Addr      Address
	Temporary bool
}

// Iterable is implemented by TypeInfo values whose instances expose
// element iteration (the opForBegin/opForValue protocol in AngelScript
// terms). Non-container types simply do not implement it.
type Iterable interface {
	// ElementCount returns the number of elements in the instance at obj.
	ElementCount(obj Address) int

	// Element produces the nth element of the instance at obj.
	Element(obj Address, n int) Element
}

// Engine exposes the host VM's type system, global variables and raw
// value reads. One Engine underlies every Context it creates.
type Engine interface {
	// TypeKind classifies the type for default evaluator selection.
	TypeKind(id TypeID) Kind

	// TypeDeclaration renders the display name of a type, including
	// handle and const qualifiers implied by the id and modifiers.
	TypeDeclaration(id TypeID, mods TypeModifiers) string

	// TypeInfo returns declared type information, or nil for types that
	// have none (primitives).
	TypeInfo(id TypeID) TypeInfo

	// GlobalVarCount returns the number of declared global variables.
	GlobalVarCount() int

	// GlobalVar describes the nth global variable.
	GlobalVar(n int) (name, section string, id TypeID, addr Address)

	// DerefHandle follows the handle stored at addr and returns the
	// address of the referenced object, or Null for a null handle.
	DerefHandle(addr Address) Address

	// BoolAt, IntAt, UintAt, FloatAt and StringAt read primitive values.
	// The kind selects the width for integer and floating reads.
	BoolAt(addr Address) bool
	IntAt(addr Address, k Kind) int64
	UintAt(addr Address, k Kind) uint64
	FloatAt(addr Address, k Kind) float64
	StringAt(addr Address) string

	// EnumValueAt reads an enum value and resolves its declared name.
	// The name is empty when the value has no declared member.
	EnumValueAt(id TypeID, addr Address) (int64, string)

	// SnapshotValue copies the raw bytes of the value at addr so a
	// temporary can be kept alive past the call that produced it.
	SnapshotValue(id TypeID, addr Address) []byte
}

// LineCallback is invoked by the VM's execution thread on every source
// line executed while a callback is installed.
type LineCallback func(ctx Context)

// Context is one in-progress call stack being executed by the VM. The
// debugger holds a strong reference (AddRef/Release) for the lifetime
// of its introspection cache.
type Context interface {
	Engine() Engine

	// AddRef and Release manage the context's reference count. The
	// context must not be destroyed by the host while the debugger
	// holds a reference.
	AddRef()
	Release()

	// SetLineCallback installs the per-line hook; ClearLineCallback
	// removes it. HasLineCallback reports whether one is installed.
	SetLineCallback(cb LineCallback)
	ClearLineCallback()
	HasLineCallback() bool

	// CallStackSize returns the current call stack depth. Index 0 is
	// the innermost (currently executing) frame.
	CallStackSize() int

	// FunctionDeclaration renders the full declaration of the function
	// at the given stack index; FunctionName returns just its name.
	// Both return "" if the frame does not exist.
	FunctionDeclaration(stackIndex int) string
	FunctionName(stackIndex int) string

	// LineNumber returns the current line, column and section of the
	// frame at the given stack index.
	LineNumber(stackIndex int) (line, col int, section string)

	// SystemFunction returns the name of the application-registered
	// function currently executing, or "" when in script code.
	SystemFunction() string

	// VarCount returns the number of declared variables (parameters
	// first, then locals, then unnamed temporaries) at a stack index.
	VarCount(stackIndex int) int

	// ParamCount returns how many of the declared variables are
	// parameters.
	ParamCount(stackIndex int) int

	// Var describes the nth declared variable of a frame. Temporaries
	// have an empty name.
	Var(n, stackIndex int) (name string, id TypeID, mods TypeModifiers)

	// VarInScope reports whether the nth variable is alive at the
	// frame's current position.
	VarInScope(n, stackIndex int) bool

	// VarAddress resolves the address of the nth variable, or Null.
	VarAddress(n, stackIndex int) Address
}
