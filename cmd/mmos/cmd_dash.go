package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"mmos/pkg/watch"
)

// newDashCmd creates the "mmos dash" subcommand.
func newDashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch the interactive fleet dashboard",
		Long:  "Opens a TUI showing workers, task backlog and project completion,\nrefreshing when the store changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, paths, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			waiter := watch.New(paths.DBPath, time.Duration(cfg.Poll.FallbackSeconds)*time.Second)
			defer func() { _ = waiter.Close() }()

			model := newDashModel(db, waiter)
			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}
}
