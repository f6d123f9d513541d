package main

import (
	"fmt"

	"mmos/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root mmos command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mmos",
		Short:         "Multi-model orchestration system",
		Long:          "mmos coordinates projects, tasks and a fleet of model workers\nover a shared store, exposed as MCP tool servers.",
		Version:       fmt.Sprintf("mmos %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newWorkerCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newDashCmd(),
	)

	return cmd
}
