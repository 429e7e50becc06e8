// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package testvm

// Step is one scripted action executed against a Context. A sequence of
// steps stands in for an interpreter's instruction stream: the line
// callback fires on every Line step, exactly as a real VM would invoke
// its hook between instructions.
type Step func(*Context)

// Call pushes a frame and executes its starting line.
func Call(f *Frame) Step {
	return func(c *Context) {
		c.Push(f)
		c.ExecLine(f.Line)
	}
}

// Line advances the innermost frame to a line.
func Line(n int) Step {
	return func(c *Context) {
		c.ExecLine(n)
	}
}

// Return pops the innermost frame.
func Return() Step {
	return func(c *Context) {
		c.Pop()
	}
}

// Do runs an arbitrary mutation between lines (assign a variable, free
// a temporary).
func Do(f func(*Context)) Step {
	return func(c *Context) {
		f(c)
	}
}

// Run executes the steps in order on the calling goroutine. When the
// debugger suspends inside a Line step, Run blocks there until the
// inspecting side releases it, so callers usually run it on the
// goroutine standing in for the VM's execution thread.
func Run(ctx *Context, steps ...Step) {
	for _, step := range steps {
		step(ctx)
	}
}
