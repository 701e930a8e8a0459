package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/mcpserver"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runbox",
		Short: "Sandboxed multi-language code execution service",
		Long: `runbox compiles and runs untrusted code inside disposable, resource-limited
containers and classifies each execution as success, build failure, runtime
failure, timeout or infrastructure failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./config/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	mcpserver.Version = version

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
