// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paril/angelscript-ui-debugger/debugger/testvm"
	"github.com/Paril/angelscript-ui-debugger/vm"
)

// countingEvaluator wraps another evaluator and counts calls, for
// asserting memoization and the null short-circuit.
type countingEvaluator struct {
	inner     TypeEvaluator
	evaluates int
	expands   int
}

func (e *countingEvaluator) Evaluate(c *Cache, id VarAddr) VarValue {
	e.evaluates++
	if e.inner == nil {
		return VarValue{Value: "counted"}
	}
	return e.inner.Evaluate(c, id)
}

func (e *countingEvaluator) Expand(c *Cache, id VarAddr, st *VarState) {
	e.expands++
	if e.inner != nil {
		e.inner.Expand(c, id, st)
	}
}

func newTestContext(t *testing.T) (*testvm.Engine, *testvm.Context) {
	t.Helper()
	eng := testvm.NewEngine()
	ctx := eng.NewContext()
	return eng, ctx
}

func TestCache_AddVarStateIdentity(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	addr := eng.Alloc(int64(7))
	c := NewCache(ctx)
	defer c.Release()

	id := VarAddr{TypeID: vm.TypeIDInt32, Addr: addr}
	k1, st1, existed1 := c.AddVarState(id)
	k2, st2, existed2 := c.AddVarState(id)

	assert.False(t, existed1)
	assert.True(t, existed2)
	assert.Equal(t, k1, k2)
	assert.Same(t, st1, st2)
	assert.Equal(t, "7", st1.Value.Value)
}

func TestCache_HandleCollapsesToObject(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	objType := eng.RegisterObjectType("Point",
		vm.Property{Name: "x", TypeID: vm.TypeIDInt32},
	)
	x := eng.Alloc(int64(3))
	obj := eng.Alloc(&testvm.Object{TypeID: objType, Props: map[string]vm.Address{"x": x}})
	hnd := eng.Alloc(testvm.Handle{Target: obj})

	c := NewCache(ctx)
	defer c.Release()

	_, direct, _ := c.AddVarState(VarAddr{TypeID: objType, Addr: obj})
	_, viaHandle, existed := c.AddVarState(VarAddr{TypeID: objType | vm.TypeIDObjHandle, Addr: hnd})

	assert.True(t, existed, "handle and direct reference must share one entry")
	assert.Same(t, direct, viaHandle)
}

func TestCache_NullAddressSkipsEvaluator(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	objType := eng.RegisterObjectType("Thing")

	counter := &countingEvaluator{}
	evs := NewEvaluatorMap()
	evs.Register(objType.SeqNbr(), counter)

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	_, st, _ := c.AddVarState(VarAddr{TypeID: objType, Addr: vm.Null})
	assert.Equal(t, "null", st.Value.Value)
	assert.True(t, st.Value.Disabled)
	assert.Equal(t, ExpandNone, st.Value.Expandable)
	assert.Zero(t, counter.evaluates, "registered evaluator must not see null addresses")

	// A null handle dereferences to null and short-circuits too.
	hnd := eng.Alloc(testvm.Handle{Target: vm.Null})
	_, st, _ = c.AddVarState(VarAddr{TypeID: objType | vm.TypeIDObjHandle, Addr: hnd})
	assert.Equal(t, "null", st.Value.Value)
	assert.Zero(t, counter.evaluates)
}

func TestCache_RegisteredEvaluatorOverridesDefault(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	vecType := eng.RegisterObjectType("Vec2",
		vm.Property{Name: "x", TypeID: vm.TypeIDFloat},
		vm.Property{Name: "y", TypeID: vm.TypeIDFloat},
	)
	x := eng.Alloc(1.5)
	y := eng.Alloc(2.5)
	obj := eng.Alloc(&testvm.Object{TypeID: vecType, Props: map[string]vm.Address{"x": x, "y": y}})

	counter := &countingEvaluator{}
	evs := NewEvaluatorMap()
	evs.Register(vecType.SeqNbr(), counter)

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	_, st, _ := c.AddVarState(VarAddr{TypeID: vecType, Addr: obj})
	assert.Equal(t, "counted", st.Value.Value, "custom evaluator output must win over the default")
	assert.Equal(t, 1, counter.evaluates)
}

func TestCache_ExpandLazyAndOnce(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	ptType := eng.RegisterObjectType("Point",
		vm.Property{Name: "x", TypeID: vm.TypeIDInt32},
		vm.Property{Name: "y", TypeID: vm.TypeIDInt32},
	)
	x := eng.Alloc(int64(10))
	y := eng.Alloc(int64(20))
	obj := eng.Alloc(&testvm.Object{TypeID: ptType, Props: map[string]vm.Address{"x": x, "y": y}})

	counter := &countingEvaluator{inner: ObjectEvaluator{}}
	evs := NewEvaluatorMap()
	evs.Register(ptType.SeqNbr(), counter)

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	key, st, _ := c.AddVarState(VarAddr{TypeID: ptType, Addr: obj})
	require.Equal(t, ExpandChildren, st.Value.Expandable)
	assert.Zero(t, counter.expands, "expansion must not happen before the first request")
	assert.False(t, st.QueriedChildren)

	c.Expand(key)
	assert.True(t, st.QueriedChildren)
	assert.Equal(t, 1, counter.expands)
	require.Len(t, st.Children, 2)
	assert.Equal(t, "x", st.Children[0].Name)
	assert.Equal(t, "10", c.VarState(st.Children[0].Key).Value.Value)

	// Re-requesting expansion is a no-op.
	c.Expand(key)
	c.Expand(key)
	assert.Equal(t, 1, counter.expands)
	assert.Len(t, st.Children, 2)
}

func TestCache_EntriesExpansion(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	arrType := eng.RegisterArrayType("array<int>")
	e0 := eng.Alloc(int64(5))
	e1 := eng.Alloc(int64(6))
	e2 := eng.Alloc(int64(7))
	arr := eng.Alloc(&testvm.Array{ElemType: vm.TypeIDInt32, Elems: []vm.Address{e0, e1, e2}})

	c := NewCache(ctx)
	defer c.Release()

	key, st, _ := c.AddVarState(VarAddr{TypeID: arrType, Addr: arr})
	require.Equal(t, ExpandEntries, st.Value.Expandable)
	assert.Equal(t, "{3}", st.Value.Value)

	c.Expand(key)
	require.Len(t, st.Entries, 3)
	assert.Equal(t, "5", st.Entries[0].Value)
	assert.Equal(t, "7", st.Entries[2].Value)
}

func TestCache_SingleIndexEntry(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	arrType := eng.RegisterArrayType("array<int>")
	e0 := eng.Alloc(int64(1))
	e1 := eng.Alloc(int64(2))
	arr := eng.Alloc(&testvm.Array{ElemType: vm.TypeIDInt32, Elems: []vm.Address{e0, e1}})

	c := NewCache(ctx)
	defer c.Release()

	key, st, _ := c.AddVarState(VarAddr{TypeID: arrType, Addr: arr})
	ObjectEvaluator{}.QueryVariableForEach(c, key, st, 1)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "2", st.Entries[0].Value)
}

func TestCache_TemporarySnapshot(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	arrType := eng.RegisterArrayType("array<int>")
	tmp := eng.Alloc(int64(42))
	arr := eng.Alloc(&testvm.Array{ElemType: vm.TypeIDInt32, Elems: []vm.Address{tmp}, Temporary: true})

	c := NewCache(ctx)
	defer c.Release()

	key, st, _ := c.AddVarState(VarAddr{TypeID: arrType, Addr: arr})
	c.Expand(key)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "42", st.Entries[0].Value)

	elemState := c.VarState(VarAddr{TypeID: vm.TypeIDInt32, Addr: tmp})
	require.NotNil(t, elemState)
	assert.Equal(t, []byte("42"), elemState.StackMemory, "temporary must be snapshotted")
}

func TestCache_CacheLocalsMemoized(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	intType := eng.RegisterObjectType("Counted")
	counter := &countingEvaluator{}
	evs := NewEvaluatorMap()
	evs.Register(intType.SeqNbr(), counter)

	v := eng.Alloc(&testvm.Object{TypeID: intType})
	ctx.Push(&testvm.Frame{
		Declaration: "void f()",
		Name:        "f",
		Section:     "main.as",
		Line:        4,
		Locals: []testvm.Local{
			{Name: "v", TypeID: intType, Addr: v, InScope: true},
		},
	})

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	key := LocalKey{Offset: 0, Kind: LocalVariable}
	first := c.Locals(key)
	require.Len(t, first, 1)
	assert.Equal(t, 1, counter.evaluates)

	second := c.Locals(key)
	assert.Equal(t, 1, counter.evaluates, "second request must reuse the cached list")
	require.Len(t, second, 1)
	assert.True(t, first[0].Equal(second[0]))
}

func TestCache_LocalKindsSeparated(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	p := eng.Alloc(int64(1))
	l := eng.Alloc(int64(2))
	tmp := eng.Alloc(int64(3))
	ctx.Push(&testvm.Frame{
		Declaration: "int add(int a)",
		Name:        "add",
		Section:     "main.as",
		Line:        10,
		Params:      []testvm.Local{{Name: "a", TypeID: vm.TypeIDInt32, Addr: p, InScope: true}},
		Locals:      []testvm.Local{{Name: "sum", TypeID: vm.TypeIDInt32, Addr: l, InScope: true}},
		Temps:       []testvm.Local{{TypeID: vm.TypeIDInt32, Addr: tmp, InScope: true}},
	})

	c := NewCache(ctx)
	defer c.Release()

	params := c.Locals(LocalKey{Offset: 0, Kind: LocalParameter})
	locals := c.Locals(LocalKey{Offset: 0, Kind: LocalVariable})
	temps := c.Locals(LocalKey{Offset: 0, Kind: LocalTemporary})

	require.Len(t, params, 1)
	assert.Equal(t, "a", params[0].Name)
	require.Len(t, locals, 1)
	assert.Equal(t, "sum", locals[0].Name)
	require.Len(t, temps, 1)
	assert.Equal(t, "@2", temps[0].Name)
}

func TestCache_MissingFrameIsEmptyNotError(t *testing.T) {
	t.Parallel()
	_, ctx := newTestContext(t)
	c := NewCache(ctx)
	defer c.Release()

	assert.Empty(t, c.Locals(LocalKey{Offset: 5, Kind: LocalVariable}))
	assert.Empty(t, c.CallStack())
	assert.Empty(t, c.Globals())
}

func TestCache_GlobalsIdempotent(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	eng.AddGlobal("g_score", "game.as", vm.TypeIDInt32, int64(99))

	c := NewCache(ctx)
	defer c.Release()

	c.CacheGlobals()
	require.Len(t, c.Globals(), 1)
	c.CacheGlobals()
	assert.Len(t, c.Globals(), 1)
	assert.Equal(t, "g_score", c.Globals()[0].Name)
	assert.Equal(t, "99", c.VarState(c.Globals()[0].Key).Value.Value)

	// Global's section was fed into the section table.
	assert.Contains(t, c.Sections(), "game.as")
}

func TestCache_SectionsFromCallStack(t *testing.T) {
	t.Parallel()
	_, ctx := newTestContext(t)
	ctx.Push(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "scripts/main.as", Line: 1})
	ctx.Push(&testvm.Frame{Declaration: "void util()", Name: "util", Section: "scripts/util.as", Line: 8})

	c := NewCache(ctx)
	defer c.Release()

	secs := c.Sections()
	assert.Equal(t, "main.as", secs["scripts/main.as"])
	assert.Equal(t, "util.as", secs["scripts/util.as"])

	c.AddSection("scripts/main.as", "Main Script")
	assert.Equal(t, "Main Script", c.Sections()["scripts/main.as"])
}

func TestCache_TypeNameMemoized(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	ptType := eng.RegisterObjectType("Point")

	c := NewCache(ctx)
	defer c.Release()

	assert.Equal(t, "Point", c.TypeName(ptType, vm.ModNone))
	assert.Equal(t, "Point@", c.TypeName(ptType|vm.TypeIDObjHandle, vm.ModNone))
	assert.Equal(t, "const Point", c.TypeName(ptType, vm.ModConst))
	// Memoized: same answer on re-query.
	assert.Equal(t, "Point", c.TypeName(ptType, vm.ModNone))
}

func TestCache_WatchAddRemove(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	addr := eng.Alloc(int64(5))

	c := NewCache(ctx)
	defer c.Release()

	key, _, _ := c.AddVarState(VarAddr{TypeID: vm.TypeIDInt32, Addr: addr})
	view := VarView{Name: "score", Type: "int", Key: key}

	c.AddWatch(view)
	c.AddWatch(view) // duplicate ignored
	require.Len(t, c.Watch(), 1)

	assert.True(t, c.RemoveWatch(view))
	assert.Empty(t, c.Watch())
	assert.False(t, c.RemoveWatch(view))
}

func TestCache_RefreshReevaluatesOnlyReachable(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	reachType := eng.RegisterObjectType("Reachable")
	orphanType := eng.RegisterObjectType("Orphan")

	reachCounter := &countingEvaluator{}
	orphanCounter := &countingEvaluator{}
	evs := NewEvaluatorMap()
	evs.Register(reachType.SeqNbr(), reachCounter)
	evs.Register(orphanType.SeqNbr(), orphanCounter)

	eng.AddGlobal("g_obj", "main.as", reachType, &testvm.Object{TypeID: reachType})
	orphan := eng.Alloc(&testvm.Object{TypeID: orphanType})

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	c.CacheGlobals()
	c.AddVarState(VarAddr{TypeID: orphanType, Addr: orphan})

	require.Equal(t, 1, reachCounter.evaluates)
	require.Equal(t, 1, orphanCounter.evaluates)

	c.Refresh()

	assert.Equal(t, 2, reachCounter.evaluates, "reachable global must be recomputed")
	assert.Equal(t, 1, orphanCounter.evaluates, "orphaned entry must be left stale")
}

func TestCache_RefreshReachesHandleKeyedWatch(t *testing.T) {
	t.Parallel()
	eng, ctx := newTestContext(t)
	objType := eng.RegisterObjectType("Tracked")

	counter := &countingEvaluator{}
	evs := NewEvaluatorMap()
	evs.Register(objType.SeqNbr(), counter)

	obj := eng.Alloc(&testvm.Object{TypeID: objType})
	hnd := eng.Alloc(testvm.Handle{Target: obj})

	c := NewCache(ctx, WithEvaluators(evs))
	defer c.Release()

	c.AddWatch(VarView{
		Name: "w",
		Type: "Tracked@",
		Key:  VarAddr{TypeID: objType | vm.TypeIDObjHandle, Addr: hnd},
	})
	require.Equal(t, 1, counter.evaluates)

	// The stored view carries the normalized identity, so adding the
	// dereferenced form again is a duplicate.
	require.Len(t, c.Watch(), 1)
	assert.Equal(t, VarAddr{TypeID: objType, Addr: obj}, c.Watch()[0].Key)
	c.AddWatch(VarView{Name: "w", Type: "Tracked@", Key: VarAddr{TypeID: objType, Addr: obj}})
	assert.Len(t, c.Watch(), 1)

	c.Refresh()
	assert.Equal(t, 2, counter.evaluates, "handle-keyed watch must be re-evaluated")
}

func TestCache_ReleasesContextReference(t *testing.T) {
	t.Parallel()
	_, ctx := newTestContext(t)
	before := ctx.RefCount()

	c := NewCache(ctx)
	assert.Equal(t, before+1, ctx.RefCount(), "cache must hold a strong reference")

	c.Release()
	assert.Equal(t, before, ctx.RefCount())
	assert.False(t, ctx.HasLineCallback())
}

func TestCache_CallStackSnapshot(t *testing.T) {
	t.Parallel()
	_, ctx := newTestContext(t)
	ctx.Push(&testvm.Frame{Declaration: "void main()", Name: "main", Section: "main.as", Line: 3})
	ctx.Push(&testvm.Frame{Declaration: "int add(int, int)", Name: "add", Section: "main.as", Line: 12, Col: 5})
	ctx.SetSystemFunction("print")

	c := NewCache(ctx)
	defer c.Release()

	stack := c.CallStack()
	require.Len(t, stack, 2)
	// Index 0 is the innermost frame.
	assert.Equal(t, "int add(int, int)", stack[0].Declaration)
	assert.Equal(t, 12, stack[0].Row)
	assert.Equal(t, 5, stack[0].Col)
	assert.Equal(t, "void main()", stack[1].Declaration)
	assert.Equal(t, "print", c.SystemFunction())
}
