package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version 由 -ldflags "-X main.version=..." 注入
var version = "dev"

var commandVersion = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "secureproxy %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	mainCommand.AddCommand(commandVersion)
}
