// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"fmt"

	"github.com/Paril/angelscript-ui-debugger/vm"
)

// TypeEvaluator turns a raw (type, address) pair into a display value
// and, lazily, into children or entries. Implementations must not
// assume the address is non-null; the registry guarantees it.
type TypeEvaluator interface {
	// Evaluate formats the current value. It must not mutate the cache.
	Evaluate(c *Cache, id VarAddr) VarValue

	// Expand populates state.Children or state.Entries. It is invoked
	// only on the first expansion request for a value whose
	// Expandable is not ExpandNone.
	Expand(c *Cache, id VarAddr, state *VarState)
}

// nullValue is the canned leaf shown for null or uninitialized
// addresses. Registered evaluators never see these.
var nullValue = VarValue{Value: "null", Disabled: true}

// EvaluatorMap manages TypeEvaluator instances and selects the best one
// for a given type. Lookup is keyed by the type's sequence number with
// every modifier flag stripped; when no evaluator is registered, a
// built-in default is chosen by the type's fundamental kind. Every type
// resolves to some evaluator.
type EvaluatorMap struct {
	evaluators map[int]TypeEvaluator
}

// NewEvaluatorMap returns a registry with no explicit registrations.
func NewEvaluatorMap() *EvaluatorMap {
	return &EvaluatorMap{evaluators: make(map[int]TypeEvaluator)}
}

// Register installs an evaluator for the given type sequence number,
// replacing any default or prior registration. This is the extension
// point for host-specific types; pass TypeID.SeqNbr() of the type.
func (m *EvaluatorMap) Register(seqNbr int, ev TypeEvaluator) {
	m.evaluators[seqNbr] = ev
}

// resolve picks the evaluator for id, normalizing handles into direct
// references so downstream logic never special-cases handle-vs-value.
// It returns ok=false when the (possibly dereferenced) address is null.
func (m *EvaluatorMap) resolve(c *Cache, id *VarAddr) (TypeEvaluator, bool) {
	if id.Addr == vm.Null {
		return nil, false
	}
	if id.TypeID.IsHandle() {
		id.TypeID = id.TypeID.StripHandle()
		id.Addr = c.ctx.Engine().DerefHandle(id.Addr)
		if id.Addr == vm.Null {
			return nil, false
		}
	}
	if ev, ok := m.evaluators[id.TypeID.SeqNbr()]; ok {
		return ev, true
	}
	return defaultEvaluator(c.ctx.Engine().TypeKind(id.TypeID)), true
}

// Evaluate formats the value at id. Null addresses short-circuit to the
// canned null leaf without touching any registered evaluator.
func (m *EvaluatorMap) Evaluate(c *Cache, id VarAddr) VarValue {
	ev, ok := m.resolve(c, &id)
	if !ok {
		return nullValue
	}
	return ev.Evaluate(c, id)
}

// Expand populates state with children or entries for the value at id.
func (m *EvaluatorMap) Expand(c *Cache, id VarAddr, state *VarState) {
	ev, ok := m.resolve(c, &id)
	if !ok {
		return
	}
	ev.Expand(c, id, state)
}

func defaultEvaluator(k vm.Kind) TypeEvaluator {
	switch k {
	case vm.KindBool:
		return boolEvaluator{}
	case vm.KindInt8, vm.KindInt16, vm.KindInt32, vm.KindInt64:
		return intEvaluator{kind: k}
	case vm.KindUint8, vm.KindUint16, vm.KindUint32, vm.KindUint64:
		return uintEvaluator{kind: k}
	case vm.KindFloat, vm.KindDouble:
		return floatEvaluator{kind: k}
	case vm.KindString:
		return stringEvaluator{}
	case vm.KindEnum:
		return enumEvaluator{}
	case vm.KindFuncdef:
		return funcdefEvaluator{}
	default:
		return ObjectEvaluator{}
	}
}

type boolEvaluator struct{}

func (boolEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: fmt.Sprintf("%t", c.ctx.Engine().BoolAt(id.Addr))}
}

func (boolEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type intEvaluator struct{ kind vm.Kind }

func (e intEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: fmt.Sprintf("%d", c.ctx.Engine().IntAt(id.Addr, e.kind))}
}

func (intEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type uintEvaluator struct{ kind vm.Kind }

func (e uintEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: fmt.Sprintf("%d", c.ctx.Engine().UintAt(id.Addr, e.kind))}
}

func (uintEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type floatEvaluator struct{ kind vm.Kind }

func (e floatEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: fmt.Sprintf("%g", c.ctx.Engine().FloatAt(id.Addr, e.kind))}
}

func (floatEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type stringEvaluator struct{}

func (stringEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: fmt.Sprintf("%q", c.ctx.Engine().StringAt(id.Addr))}
}

func (stringEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type enumEvaluator struct{}

func (enumEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	v, name := c.ctx.Engine().EnumValueAt(id.TypeID, id.Addr)
	if name == "" {
		return VarValue{Value: fmt.Sprintf("%d", v)}
	}
	return VarValue{Value: fmt.Sprintf("%s (%d)", name, v)}
}

func (enumEvaluator) Expand(*Cache, VarAddr, *VarState) {}

type funcdefEvaluator struct{}

func (funcdefEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	return VarValue{Value: c.TypeName(id.TypeID, vm.ModNone), Disabled: true}
}

func (funcdefEvaluator) Expand(*Cache, VarAddr, *VarState) {}

// ObjectEvaluator is the generic evaluator for object types. It reflects
// declared properties into children and, for container-like types,
// iterates elements into entries. Embed it to customize evaluation of
// specific types while reusing the property/element queries.
type ObjectEvaluator struct{}

// Evaluate summarizes the object: element count for iterable types, an
// opaque placeholder for types with properties, the bare type name
// otherwise.
func (ObjectEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	eng := c.ctx.Engine()
	info := eng.TypeInfo(id.TypeID)
	if info == nil {
		return VarValue{Value: c.TypeName(id.TypeID, vm.ModNone), Disabled: true}
	}
	if it, ok := info.(vm.Iterable); ok {
		n := it.ElementCount(id.Addr)
		val := VarValue{Value: fmt.Sprintf("{%d}", n)}
		if n > 0 {
			val.Expandable = ExpandEntries
		}
		return val
	}
	if info.PropertyCount() > 0 {
		return VarValue{Value: "{...}", Expandable: ExpandChildren}
	}
	return VarValue{Value: info.Name(), Disabled: true}
}

// Expand queries properties into children or elements into entries,
// depending on what Evaluate decided the value expands to.
func (e ObjectEvaluator) Expand(c *Cache, id VarAddr, state *VarState) {
	switch state.Value.Expandable {
	case ExpandChildren:
		e.QueryVariableProperties(c, id, state)
	case ExpandEntries:
		e.QueryVariableForEach(c, id, state, -1)
	}
}

// QueryVariableProperties reflects the declared properties of the
// object at id into child views keyed by the cache's address map.
func (ObjectEvaluator) QueryVariableProperties(c *Cache, id VarAddr, state *VarState) {
	info := c.ctx.Engine().TypeInfo(id.TypeID)
	if info == nil {
		return
	}
	for n := 0; n < info.PropertyCount(); n++ {
		prop := info.Property(n)
		addr := info.PropertyAddress(id.Addr, n)
		key, _, _ := c.AddVarState(VarAddr{TypeID: prop.TypeID, Addr: addr})
		state.Children = append(state.Children, VarView{
			Name: prop.Name,
			Type: c.TypeName(prop.TypeID, vm.ModNone),
			Key:  key,
		})
	}
}

// QueryVariableForEach iterates the elements of the container at id
// into entry values. If index is non-negative, only that element is
// produced, which lets a front end expand one array slot without a
// full walk. Temporary elements are snapshotted so their backing bytes
// survive the producing call.
func (ObjectEvaluator) QueryVariableForEach(c *Cache, id VarAddr, state *VarState, index int) {
	info := c.ctx.Engine().TypeInfo(id.TypeID)
	it, ok := info.(vm.Iterable)
	if !ok {
		return
	}
	count := it.ElementCount(id.Addr)
	lo, hi := 0, count
	if index >= 0 {
		if index >= count {
			return
		}
		lo, hi = index, index+1
	}
	for n := lo; n < hi; n++ {
		el := it.Element(id.Addr, n)
		elID := VarAddr{TypeID: el.TypeID, Addr: el.Addr}
		if el.Temporary {
			// The value dies with the producing call; keep a copy so the
			// cached state stays meaningful.
			_, st, existed := c.AddVarState(elID)
			if !existed {
				st.StackMemory = c.ctx.Engine().SnapshotValue(el.TypeID, el.Addr)
			}
			state.Entries = append(state.Entries, st.Value)
			continue
		}
		state.Entries = append(state.Entries, c.evaluators.Evaluate(c, elID))
	}
}
