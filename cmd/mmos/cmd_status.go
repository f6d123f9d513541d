package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mmos/pkg/health"
	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/registry"
)

// newStatusCmd creates the "mmos status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fleet and project state",
		Long:  "Prints one consistent snapshot of worker counts, task backlog,\nregistered workers and per-project completion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			report, err := health.New(db).Snapshot(ctx)
			if err != nil {
				return err
			}
			printHealth(out, report)

			workers, err := registry.New(db).Discover(ctx)
			if err != nil {
				return err
			}
			printWorkers(out, workers)

			projects, err := queue.New(db).ProjectStatus(ctx, 0)
			if err != nil {
				return err
			}
			printProjects(out, projects)
			return nil
		},
	}
}

func printHealth(w io.Writer, r health.Report) {
	fmt.Fprintf(w, "Workers: %d total (%d idle, %d busy, %d offline)\n",
		r.Workers.Total, r.Workers.Idle, r.Workers.Busy, r.Workers.Offline)
	fmt.Fprintf(w, "Tasks:   %d total (%d pending, %d assigned, %d in progress, %d completed, %d failed)\n",
		r.Tasks.Total, r.Tasks.Pending, r.Tasks.Assigned, r.Tasks.InProgress, r.Tasks.Completed, r.Tasks.Failed)

	switch {
	case r.BacklogStalled:
		fmt.Fprintln(w, "WARNING: pending tasks but no idle worker")
	case r.CapacityAvailable:
		fmt.Fprintln(w, "Capacity available")
	}
	fmt.Fprintln(w)
}

func printWorkers(w io.Writer, workers []protocol.WorkerSnapshot) {
	if len(workers) == 0 {
		fmt.Fprintln(w, "No registered workers")
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "%-24s %-8s %-12s %-6s %s\n", "WORKER", "STATUS", "TYPE", "DONE", "CURRENT TASK")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, ws := range workers {
		current := "-"
		if ws.CurrentTask != nil {
			current = fmt.Sprintf("#%d %s", ws.CurrentTask.ID, ws.CurrentTask.Type)
		}
		fmt.Fprintf(w, "%-24s %-8s %-12s %-6d %s\n",
			ws.Worker.InstanceName, ws.Worker.Status, ws.Worker.Type,
			ws.Worker.TasksCompleted, current)
	}
	fmt.Fprintln(w)
}

func printProjects(w io.Writer, reports []protocol.ProjectReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No projects")
		return
	}

	fmt.Fprintf(w, "%-4s %-28s %-10s %-6s %s\n", "ID", "PROJECT", "STATUS", "TASKS", "DONE")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, r := range reports {
		fmt.Fprintf(w, "%-4d %-28s %-10s %-6d %d%%\n",
			r.Project.ID, r.Project.Name, r.Project.Status, r.Total, r.CompletionRate())
	}
}
