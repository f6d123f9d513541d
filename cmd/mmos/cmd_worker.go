package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mmos/internal/appversion"
	"mmos/pkg/mcpserver"
	"mmos/pkg/watch"
)

// newWorkerCmd creates the "mmos worker" subcommand: the executor MCP
// server on stdio.
func newWorkerCmd() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the executor MCP server on stdio",
		Long: `Serves the worker-side tools (register_worker, poll_tasks, accept_task,
report_progress, complete_task, worker_status, heartbeat) over the MCP
stdio transport.

The worker identity comes from config.toml [worker] or the
WORKER_INSTANCE_NAME / WORKER_TYPE / WORKER_CAPACITY environment
variables; an instance name is generated when neither sets one. The tools
use this identity as the default wherever a call omits instance_name or
worker_type, so a plain register_worker call registers the configured
identity.

poll_tasks may block for new work; --no-wait disables the filesystem
watcher and makes every poll return immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, paths, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			instanceName := cfg.Worker.InstanceName
			if instanceName == "" {
				instanceName = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			}

			var waiter *watch.Waiter
			if !noWait {
				waiter = watch.New(paths.DBPath, time.Duration(cfg.Poll.FallbackSeconds)*time.Second)
				defer func() { _ = waiter.Close() }()
			}

			log := logrus.StandardLogger()
			log.WithFields(logrus.Fields{
				"role":     "executor",
				"db":       paths.DBPath,
				"instance": instanceName,
				"type":     cfg.Worker.Type,
			}).Info("serving on stdio")

			ident := mcpserver.Identity{
				InstanceName: instanceName,
				WorkerType:   cfg.Worker.Type,
			}
			srv := mcpserver.NewExecutor(db, waiter, ident, appversion.String(), log)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "disable blocking poll; poll_tasks returns immediately")
	return cmd
}
