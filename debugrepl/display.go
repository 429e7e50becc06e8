// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugrepl

import (
	"fmt"
	"io"
	"sort"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/Paril/angelscript-ui-debugger/debugger"
)

// valueWidth bounds displayed values in list output; strings and large
// containers otherwise drown the table. print shows the full value.
const valueWidth = 32

// renderValue formats one value column, truncated and de-emphasis
// annotated.
func renderValue(value debugger.VarValue) string {
	text := truncate.StringWithTail(value.Value, valueWidth, "…")
	if value.Disabled {
		text += "  (inactive)"
	}
	return text
}

// showViews prints a name/value table for a list of views.
func showViews(w io.Writer, cache *debugger.Cache, views []debugger.VarView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "  (none)") //nolint:errcheck
		return
	}
	for _, view := range views {
		st := cache.VarState(view.Key)
		if st == nil {
			continue
		}
		fmt.Fprintf(w, "  %-20s %-12s = %s\n", view.Name, view.Type, renderValue(st.Value)) //nolint:errcheck
	}
}

// showExpanded prints one view in full, expanding children or entries
// one level deep.
func showExpanded(w io.Writer, cache *debugger.Cache, view debugger.VarView) {
	st := cache.VarState(view.Key)
	if st == nil {
		return
	}
	fmt.Fprintf(w, "%s: %s = %s\n", view.Name, view.Type, st.Value.Value) //nolint:errcheck

	cache.Expand(view.Key)
	switch st.Value.Expandable {
	case debugger.ExpandChildren:
		for _, child := range st.Children {
			cst := cache.VarState(child.Key)
			if cst == nil {
				continue
			}
			fmt.Fprintf(w, "  .%-19s %-12s = %s\n", child.Name, child.Type, renderValue(cst.Value)) //nolint:errcheck
		}
	case debugger.ExpandEntries:
		for i, entry := range st.Entries {
			fmt.Fprintf(w, "  [%d] = %s\n", i, renderValue(entry)) //nolint:errcheck
		}
	}
}

// showBacktrace prints the call stack, innermost frame first.
func showBacktrace(w io.Writer, cache *debugger.Cache) {
	stack := cache.CallStack()
	if len(stack) == 0 {
		fmt.Fprintln(w, "  (empty stack)") //nolint:errcheck
		return
	}
	if sys := cache.SystemFunction(); sys != "" {
		fmt.Fprintf(w, "  in application function %s\n", sys) //nolint:errcheck
	}
	for i, entry := range stack {
		fmt.Fprintf(w, "  #%d  %s  at %s:%d\n", i, entry.Declaration, entry.Section, entry.Row) //nolint:errcheck
	}
}

// showSections lists the known script sections and their display names.
func showSections(w io.Writer, cache *debugger.Cache) {
	sections := cache.Sections()
	if len(sections) == 0 {
		fmt.Fprintln(w, "  (no sections)") //nolint:errcheck
		return
	}
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if display := sections[name]; display != name {
			fmt.Fprintf(w, "  %s (%s)\n", display, name) //nolint:errcheck
		} else {
			fmt.Fprintf(w, "  %s\n", name) //nolint:errcheck
		}
	}
}

func showHelp(w io.Writer) {
	help := `Debug commands:
continue (c)        Resume execution
step (s)            Step to the next executed line
next (n)            Step over (stay at or above this depth)
out (o)             Step out of the current function
pause               Suspend at the next executed line
break (b) SEC:LINE  Toggle a breakpoint at section:line
breakfunc (bf) FN   Toggle a breakpoint on entering function FN
delete (d) LOC      Remove a breakpoint
breakpoints (bl)    List all breakpoints
backtrace (bt)      Show the call stack
locals (l) [FRAME]  Show named locals for a frame
params [FRAME]      Show parameters for a frame
temps [FRAME]       Show stack temporaries for a frame
globals (g)         Show global variables
watch (w) [NAME]    Watch a variable, or list the watch set
unwatch NAME        Stop watching a variable
print (p) NAME      Print a variable with one level of expansion
sections            List known script sections
where               Show the current stop location
quit (q)            Detach and exit
help (h)            Show this help

Empty input repeats the last command.`
	fmt.Fprintln(w, indent.String(wordwrap.String(help, 76), 2)) //nolint:errcheck
}
