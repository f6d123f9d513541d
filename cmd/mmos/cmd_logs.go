package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	taskID    int64
	changedBy string
	tail      int
	follow    bool
}

// newLogsCmd creates the "mmos logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail the task status log",
		Long:  "Displays entries from the append-only task status log.\nOptionally filter by task or actor and follow new entries.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), db, w, cfg)
			}
			return printLogs(cmd.Context(), db, w, cfg)
		},
	}

	cmd.Flags().Int64Var(&cfg.taskID, "task", 0, "only entries for this task id")
	cmd.Flags().StringVar(&cfg.changedBy, "by", "", "only entries recorded by this worker or operator")
	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent entries to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new entries every 1s")

	return cmd
}

func printLogs(ctx context.Context, db *store.DB, w io.Writer, cfg logsConfig) error {
	entries, err := db.QueryLog(ctx, store.LogQueryOpts{
		TaskID:    cfg.taskID,
		ChangedBy: cfg.changedBy,
		Limit:     cfg.tail,
	})
	if err != nil {
		return err
	}

	// QueryLog returns newest first; print oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		printLogEntry(w, entries[i])
	}
	return nil
}

// followLogs prints existing entries then polls for new ones until ctx is
// cancelled.
func followLogs(ctx context.Context, db *store.DB, w io.Writer, cfg logsConfig) error {
	var lastID int64

	entries, err := db.QueryLog(ctx, store.LogQueryOpts{
		TaskID:    cfg.taskID,
		ChangedBy: cfg.changedBy,
		Limit:     cfg.tail,
	})
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		printLogEntry(w, entries[i])
		lastID = entries[i].ID
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			entries, err := db.QueryLog(ctx, store.LogQueryOpts{
				TaskID:    cfg.taskID,
				ChangedBy: cfg.changedBy,
				Limit:     100,
			})
			if err != nil {
				return err
			}
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].ID <= lastID {
					continue
				}
				printLogEntry(w, entries[i])
				lastID = entries[i].ID
			}
		}
	}
}

func printLogEntry(w io.Writer, e protocol.StatusLogEntry) {
	fmt.Fprintf(w, "%s  task %-5d %s -> %-12s [%s] %s\n",
		e.CreatedAt.Format("2006-01-02 15:04:05"),
		e.TaskID, e.PreviousStatus, e.NewStatus, e.ChangedBy, e.Reason)
}
