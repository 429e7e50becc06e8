// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package dapserver

import (
	"fmt"
	"path"

	"github.com/google/go-dap"

	"github.com/Paril/angelscript-ui-debugger/debugger"
)

// scriptThreadID is the single thread ID reported to clients. A context
// executes on one thread at a time.
const scriptThreadID = 1

// sourceSection maps a DAP source to the script section name the VM
// reports in its line callbacks. Clients send filesystem paths; section
// names are registered by base name.
func sourceSection(src dap.Source) string {
	if src.Name != "" {
		return src.Name
	}
	return path.Base(src.Path)
}

// translateStackFrames converts the cached call stack to DAP frames.
// The cache stores frames innermost first, matching the DAP convention.
// Frame IDs are 1-based; ID n is stack index n-1.
func translateStackFrames(cache *debugger.Cache) []dap.StackFrame {
	stack := cache.CallStack()
	sections := cache.Sections()
	frames := make([]dap.StackFrame, len(stack))
	for i, entry := range stack {
		frames[i] = dap.StackFrame{
			Id:     i + 1,
			Name:   entry.Declaration,
			Line:   entry.Row,
			Column: entry.Col,
		}
		if entry.Section != "" {
			name := sections[entry.Section]
			if name == "" {
				name = entry.Section
			}
			frames[i].Source = &dap.Source{
				Name: name,
				Path: entry.Section,
			}
		}
	}
	return frames
}

// frameLocals collects a frame's parameters, named locals and stack
// temporaries, in that order.
func frameLocals(cache *debugger.Cache, stackIndex int) []debugger.VarView {
	if stackIndex < 0 {
		return nil
	}
	var views []debugger.VarView
	for _, kind := range []debugger.LocalKind{debugger.LocalParameter, debugger.LocalVariable, debugger.LocalTemporary} {
		views = append(views, cache.Locals(debugger.LocalKey{Offset: stackIndex, Kind: kind})...)
	}
	return views
}

// translateViews converts named views to DAP variables, allocating
// references for the expandable ones.
func (h *handler) translateViews(cache *debugger.Cache, views []debugger.VarView) []dap.Variable {
	vars := make([]dap.Variable, 0, len(views))
	for _, view := range views {
		st := cache.VarState(view.Key)
		if st == nil {
			continue
		}
		vars = append(vars, dap.Variable{
			Name:               view.Name,
			Value:              st.Value.Value,
			Type:               view.Type,
			VariablesReference: h.allocRef(cache, view.Key),
		})
	}
	return vars
}

// expandVariable performs the lazy expansion for one reference and
// converts the resulting children or entries.
func (h *handler) expandVariable(cache *debugger.Cache, key debugger.VarAddr) []dap.Variable {
	cache.Expand(key)
	st := cache.VarState(key)
	if st == nil {
		return nil
	}
	switch st.Value.Expandable {
	case debugger.ExpandChildren:
		return h.translateViews(cache, st.Children)
	case debugger.ExpandEntries:
		vars := make([]dap.Variable, len(st.Entries))
		for i, entry := range st.Entries {
			vars[i] = dap.Variable{
				Name:  fmt.Sprintf("[%d]", i),
				Value: entry.Value,
			}
		}
		return vars
	default:
		return nil
	}
}

// translateBreakpoints acknowledges the requested source breakpoints.
// Line validity cannot be checked without module bytecode, so all
// breakpoints verify.
func translateBreakpoints(src dap.Source, bps []dap.SourceBreakpoint) []dap.Breakpoint {
	result := make([]dap.Breakpoint, len(bps))
	for i, bp := range bps {
		result[i] = dap.Breakpoint{
			Verified: true,
			Source: &dap.Source{
				Name: sourceSection(src),
				Path: src.Path,
			},
			Line: bp.Line,
		}
	}
	return result
}

func typeName(msg dap.Message) string {
	return fmt.Sprintf("%T", msg)
}
