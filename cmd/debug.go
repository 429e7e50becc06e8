// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Paril/angelscript-ui-debugger/dapserver"
	"github.com/Paril/angelscript-ui-debugger/debugger"
	"github.com/Paril/angelscript-ui-debugger/debugger/testvm"
	"github.com/Paril/angelscript-ui-debugger/debugrepl"
	"github.com/Paril/angelscript-ui-debugger/vm"
)

var (
	debugPort  int
	debugStdio bool
	debugREPL  bool
)

// demoTick paces the demo script so a human (or an attaching editor)
// can keep up with it.
const demoTick = 50 * time.Millisecond

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug the built-in demo script",
	Long: `Run the built-in demo script under the debugger.

By default, starts a DAP (Debug Adapter Protocol) server for editors
(VS Code, Neovim, Helix, etc.) to connect to. With --repl, starts an
interactive CLI debug session instead.

The demo script is a small simulated game loop in section "demo.as":
main() drives update(int) in a loop over mutating globals (g_frame,
g_player). Set breakpoints in demo.as, step through the loop, and
inspect the globals to exercise the debugger.

Transport modes (DAP):
  --port N     Listen for a DAP client on TCP port N (default: 4711)
  --stdio      Use stdin/stdout for DAP communication (for editors that
               launch the debug adapter as a child process)

Examples:
  asdbg debug                  DAP over TCP on port 4711
  asdbg debug --port 9229      DAP over TCP on port 9229
  asdbg debug --stdio          DAP over stdio
  asdbg debug --repl           Interactive CLI debug session`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}

		dbg := debugger.New(debugger.WithLogger(logger), debugger.WithWatchCarry(true))
		ctx, steps := buildDemo()
		dbg.HookContext(ctx)

		scriptDone := make(chan struct{})

		// Interactive CLI debug session.
		if debugREPL {
			dbg.Breakpoints().Add(debugger.LocationBreakpoint("demo.as", 1))
			go func() {
				defer close(scriptDone)
				testvm.Run(ctx, steps...)
			}()
			if err := debugrepl.Run(dbg, debugrepl.WithExitCh(scriptDone)); err != nil {
				fmt.Fprintf(os.Stderr, "debug repl error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// DAP server. Start the script once a client has had a chance
		// to configure breakpoints; pacing via demoTick keeps the early
		// lines reachable regardless.
		srv := dapserver.New(dbg, dapserver.WithLogger(logger))
		go func() {
			defer close(scriptDone)
			testvm.Run(ctx, steps...)
		}()

		if debugStdio {
			logger.Info("DAP debugger: using stdio transport")
			if err := srv.ServeStdio(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "dap server error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		addr := fmt.Sprintf("localhost:%d", debugPort)
		logger.WithField("addr", addr).Info("DAP debugger: waiting for client")
		if err := srv.ServeTCP(addr); err != nil {
			fmt.Fprintf(os.Stderr, "dap server error: %v\n", err)
			os.Exit(1)
		}
	},
}

// buildDemo assembles the simulated script: an engine with a few
// registered types and globals, a context, and the step list that
// drives line callbacks the way a running VM would.
func buildDemo() (*testvm.Context, []testvm.Step) {
	eng := testvm.NewEngine()

	pointID := eng.RegisterObjectType("Point",
		vm.Property{Name: "x", TypeID: vm.TypeIDInt32},
		vm.Property{Name: "y", TypeID: vm.TypeIDInt32},
	)
	stateID := eng.RegisterEnum("PlayerState", map[int64]string{
		0: "Idle",
		1: "Walking",
		2: "Falling",
	})

	xAddr := eng.Alloc(int64(0))
	yAddr := eng.Alloc(int64(0))
	eng.AddGlobal("g_player", "demo.as", pointID, testvm.Object{
		TypeID: pointID,
		Props:  map[string]vm.Address{"x": xAddr, "y": yAddr},
	})
	frameAddr := eng.AddGlobal("g_frame", "demo.as", vm.TypeIDInt32, int64(0))
	stateAddr := eng.AddGlobal("g_state", "demo.as", stateID, int64(0))

	ctx := eng.NewContext()

	nAddr := eng.Alloc(int64(0))
	update := func() *testvm.Frame {
		return &testvm.Frame{
			Declaration: "void update(int n)",
			Name:        "update",
			Section:     "demo.as",
			Line:        10,
			Params: []testvm.Local{
				{Name: "n", TypeID: vm.TypeIDInt32, Addr: nAddr, InScope: true},
			},
		}
	}

	tick := testvm.Do(func(*testvm.Context) { time.Sleep(demoTick) })

	var steps []testvm.Step
	steps = append(steps, testvm.Call(&testvm.Frame{
		Declaration: "void main()",
		Name:        "main",
		Section:     "demo.as",
		Line:        1,
	}))
	for i := 0; i < 200; i++ {
		n := int64(i)
		steps = append(steps,
			tick,
			testvm.Do(func(*testvm.Context) {
				eng.Store(frameAddr, n)
				eng.Store(nAddr, n)
			}),
			testvm.Line(3),
			testvm.Call(update()),
			tick,
			testvm.Do(func(*testvm.Context) {
				eng.Store(xAddr, n%40)
				eng.Store(yAddr, n/40)
				eng.Store(stateAddr, n%3)
			}),
			testvm.Line(11),
			testvm.Line(12),
			testvm.Return(),
			testvm.Line(4),
		)
	}
	steps = append(steps, testvm.Return())
	return ctx, steps
}

func init() {
	rootCmd.AddCommand(debugCmd)

	debugCmd.Flags().IntVar(&debugPort, "port", 4711,
		"TCP port for DAP server (default: 4711)")
	debugCmd.Flags().BoolVar(&debugStdio, "stdio", false,
		"Use stdin/stdout for DAP communication")
	debugCmd.Flags().BoolVar(&debugREPL, "repl", false,
		"Start an interactive CLI debug session instead of a DAP server")
}
