// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"github.com/Paril/angelscript-ui-debugger/vm"
)

// ExpandType describes what further lazy work a value supports.
type ExpandType uint8

const (
	// ExpandNone marks a leaf value.
	ExpandNone ExpandType = iota
	// ExpandValue expands to a single nested display value.
	ExpandValue
	// ExpandChildren expands to named sub-fields.
	ExpandChildren
	// ExpandEntries expands to an unordered bag of element values.
	ExpandEntries
)

// VarAddr identifies a value by type and address at a point in time. It
// is only valid while the owning frame or object is alive; it must not
// be reused after the cache that minted it is torn down.
//
// The cache normalizes the type id (handle bits stripped, address
// dereferenced) before keying, so a handle to an object and the object
// itself share one entry.
type VarAddr struct {
	TypeID vm.TypeID
	Addr   vm.Address
}

// VarValue is the rendered representation of a value at one instant.
type VarValue struct {
	// Value is the display text, shown in a value column or when expanded.
	Value string
	// Disabled hints that the value should render de-emphasized
	// (null handles, out-of-scope variables).
	Disabled bool
	// Expandable governs whether lazy child/entry work is possible.
	Expandable ExpandType
}

// VarState is the cache record for one VarAddr. It is owned exclusively
// by the cache's address map; views refer to it by key.
type VarState struct {
	Value VarValue

	// StackMemory holds a snapshot of a temporary value that would not
	// outlive the evaluation call that produced it. Nil for values that
	// live in VM-owned storage. Two views share one snapshot only when
	// they resolve to the identical VarAddr.
	StackMemory []byte

	// QueriedChildren is set once children or entries have been
	// populated; re-expansion requests are then no-ops.
	QueriedChildren bool

	// Children holds named sub-views; meaningful only when
	// Value.Expandable is ExpandChildren.
	Children []VarView

	// Entries holds element values; meaningful only when
	// Value.Expandable is ExpandEntries.
	Entries []VarValue
}

// VarView is a named occurrence of a variable: a parameter, local,
// global, struct field or watch entry. Key is a stable back-reference
// into the cache's state map; many views may share one state.
type VarView struct {
	Name string
	Type string
	Key  VarAddr
}

// Equal reports view identity: same name referring to the same state.
func (v VarView) Equal(other VarView) bool {
	return v.Name == other.Name && v.Key == other.Key
}

// LocalKind distinguishes the three classes of frame-local variables.
type LocalKind uint8

const (
	// LocalParameter is an argument passed to the function.
	LocalParameter LocalKind = iota
	// LocalVariable is a named local.
	LocalVariable
	// LocalTemporary has no name, only a stack offset and type.
	LocalTemporary
)

// LocalKey identifies "all locals of this kind visible at this stack
// depth". Locals for different frames are cached independently even
// when the VM's stack allocator reuses addresses between frames.
type LocalKey struct {
	Offset int
	Kind   LocalKind
}

// CallStackEntry is an immutable snapshot of one frame, captured once
// per suspension.
type CallStackEntry struct {
	Declaration string
	Section     string
	Row         int
	Col         int
}

// TypeNameKey keys the memoized type display name cache.
type TypeNameKey struct {
	TypeID    vm.TypeID
	Modifiers vm.TypeModifiers
}
