package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mmos/internal/appversion"
	"mmos/pkg/mcpserver"
)

// newServeCmd creates the "mmos serve" subcommand: the orchestrator MCP
// server on stdio.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator MCP server on stdio",
		Long: `Serves the operator-side tools (create_project, decompose_task,
assign_task, discover_workers, project_status, system_health) over the
MCP stdio transport. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, paths, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			log := logrus.StandardLogger()
			log.WithFields(logrus.Fields{
				"role": "orchestrator",
				"db":   paths.DBPath,
			}).Info("serving on stdio")

			srv := mcpserver.NewOrchestrator(db, appversion.String(), log)
			return srv.Run(cmd.Context())
		},
	}
}
