// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "asdbg",
	Short: "asdbg - AngelScript debugger front ends",
	Long: `asdbg hosts the debugger core's front ends: a DAP (Debug Adapter
Protocol) server for editors and an interactive CLI debug session.

The debugger itself is a library meant to be embedded next to an
AngelScript VM; this binary drives it against a small built-in demo
script so the front ends can be exercised without a host application.

Getting started:
  asdbg debug                  Debug the demo script over DAP (TCP)
  asdbg debug --stdio          DAP over stdin/stdout (editor child process)
  asdbg debug --repl           Interactive CLI debug session

More information:
  Source code:     https://github.com/Paril/angelscript-ui-debugger
  DAP:             https://microsoft.github.io/debug-adapter-protocol/`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.asdbg.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".asdbg" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".asdbg")
	}

	viper.SetEnvPrefix("asdbg")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
