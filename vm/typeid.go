// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

// Package vm defines the boundary between the debugger core and the
// host script virtual machine. The debugger never talks to a VM
// directly; it consumes these interfaces, which a host adapter (or the
// in-memory test VM) implements.
//
// Type identifiers follow the AngelScript encoding: the low bits carry
// a sequence number identifying the type, and the high bits carry
// modifier flags (object, handle, handle-to-const). The debugger keys
// its caches on the handle-stripped sequence number so a handle to an
// object and the object itself resolve to the same entry.
package vm

// TypeID identifies a script type, including modifier flag bits.
type TypeID int32

// Modifier flag bits and masks within a TypeID.
const (
	// TypeIDObjHandle marks the type as a handle (reference) to an object.
	TypeIDObjHandle TypeID = 0x40000000
	// TypeIDHandleToConst marks a handle through which the object is const.
	TypeIDHandleToConst TypeID = 0x20000000
	// TypeIDMaskObject covers the object classification bits.
	TypeIDMaskObject TypeID = 0x1C000000
	// TypeIDMaskSeqNbr covers the sequence number identifying the type.
	TypeIDMaskSeqNbr TypeID = 0x03FFFFFF
)

// Built-in primitive type IDs. User-declared types (enums, funcdefs,
// classes) are assigned sequence numbers above TypeIDDouble by the host.
const (
	TypeIDVoid TypeID = iota
	TypeIDBool
	TypeIDInt8
	TypeIDInt16
	TypeIDInt32
	TypeIDInt64
	TypeIDUint8
	TypeIDUint16
	TypeIDUint32
	TypeIDUint64
	TypeIDFloat
	TypeIDDouble
)

// IsHandle reports whether the type carries a handle modifier.
func (t TypeID) IsHandle() bool {
	return t&(TypeIDObjHandle|TypeIDHandleToConst) != 0
}

// IsObject reports whether the type refers to an object type.
func (t TypeID) IsObject() bool {
	return t&TypeIDMaskObject != 0
}

// StripHandle clears the handle modifier bits, turning a handle type
// into the equivalent direct type.
func (t TypeID) StripHandle() TypeID {
	return t &^ (TypeIDObjHandle | TypeIDHandleToConst)
}

// SeqNbr returns the canonical sequence number with every modifier
// flag removed. This is the registry lookup key for type evaluators.
func (t TypeID) SeqNbr() int {
	return int(t & TypeIDMaskSeqNbr)
}

// TypeModifiers carries reference/const qualifiers reported alongside a
// TypeID for declared variables. They affect the displayed type name but
// not identity of the underlying value.
type TypeModifiers uint8

const (
	ModNone   TypeModifiers = 0
	ModInRef  TypeModifiers = 1 << 0
	ModOutRef TypeModifiers = 1 << 1
	ModConst  TypeModifiers = 1 << 2
)

// Kind classifies a type for default evaluator selection. Every TypeID
// maps to exactly one Kind, which is what makes evaluator resolution
// total.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat
	KindDouble
	KindString
	KindEnum
	KindFuncdef
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint"
	case KindUint64:
		return "uint64"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindFuncdef:
		return "funcdef"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}
