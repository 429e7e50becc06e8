// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package main

import "github.com/Paril/angelscript-ui-debugger/cmd"

func main() {
	cmd.Execute()
}
