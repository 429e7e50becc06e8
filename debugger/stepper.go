// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package debugger

// Action is the control operation governing when the per-line hook
// requests a suspension.
type Action uint8

const (
	// ActionNone runs until an explicit breakpoint.
	ActionNone Action = iota
	// ActionStepInto suspends on the next line regardless of depth.
	ActionStepInto
	// ActionStepOver suspends at the same or a lesser stack depth.
	ActionStepOver
	// ActionStepOut suspends at a lesser stack depth.
	ActionStepOut
)

func (a Action) String() string {
	switch a {
	case ActionStepInto:
		return "step-into"
	case ActionStepOver:
		return "step-over"
	case ActionStepOut:
		return "step-out"
	default:
		return "continue"
	}
}

// Stepper is the step state machine: the pending action plus the stack
// depth recorded when the step command was issued.
//
// Stepper is not safe for concurrent use. Both access paths run on the
// VM's execution thread: Set is called while that thread is still
// blocked in DebugBreak (after the action channel receive), and
// ShouldPause runs in the line callback before the next suspension.
type Stepper struct {
	action    Action
	stackSize int
}

// NewStepper returns a stepper in the ActionNone state.
func NewStepper() *Stepper {
	return &Stepper{}
}

// Action returns the pending action.
func (s *Stepper) Action() Action {
	return s.action
}

// Set records the action and the reference stack depth it was issued at.
func (s *Stepper) Set(action Action, stackSize int) {
	s.action = action
	s.stackSize = stackSize
}

// Reset returns the stepper to free-running.
func (s *Stepper) Reset() {
	s.action = ActionNone
	s.stackSize = 0
}

// ShouldPause decides whether the pending action requires a suspension
// at the given stack depth. After returning true the stepper resets to
// ActionNone.
func (s *Stepper) ShouldPause(depth int) bool {
	switch s.action {
	case ActionStepInto:
		s.Reset()
		return true
	case ActionStepOver:
		if depth <= s.stackSize {
			s.Reset()
			return true
		}
		return false
	case ActionStepOut:
		if depth < s.stackSize {
			s.Reset()
			return true
		}
		return false
	default:
		return false
	}
}
