package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mmos/pkg/queue"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "mmos init" subcommand.
func newInitCmd() *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the mmos home directory and database",
		Long: `Creates ~/.mmos (or MMOS_HOME), writes a default config.toml if none
exists, opens the coordination database and applies the schema.

With --seed, bulk-imports projects and tasks from a YAML file:

  projects:
    - name: api-revamp
      description: REST API rework
      priority: 7
      tasks:
        - type: coding
          description: implement the new endpoints
          priority: 6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), seedPath)
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file of projects and tasks to import")
	return cmd
}

// seedFile is the YAML shape accepted by --seed.
type seedFile struct {
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Priority    int        `yaml:"priority"`
	Tasks       []seedTask `yaml:"tasks"`
}

type seedTask struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
}

func runInit(ctx context.Context, seedPath string) error {
	slog := newStdoutStartupLog()

	paths, err := ResolvePaths()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(paths.MmosHome, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.MmosHome, err)
	}
	slog.Step(fmt.Sprintf("home directory %s", paths.MmosHome))

	if _, err := os.Stat(paths.ConfigPath); os.IsNotExist(err) {
		if err := os.WriteFile(paths.ConfigPath, []byte(defaultConfigTOML), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", paths.ConfigPath, err)
		}
		slog.Step(fmt.Sprintf("default config %s", paths.ConfigPath))
	} else {
		slog.Step(fmt.Sprintf("keeping existing config %s", paths.ConfigPath))
	}

	db, storePaths, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	slog.Step(fmt.Sprintf("database %s ready", storePaths.DBPath))

	if seedPath == "" {
		return nil
	}

	stop := slog.StartSpinner(fmt.Sprintf("importing %s", seedPath))
	projects, tasks, err := importSeed(ctx, queue.New(db), seedPath)
	stop()
	if err != nil {
		return err
	}
	slog.Step(fmt.Sprintf("imported %d projects, %d tasks", projects, tasks))
	return nil
}

// importSeed creates every project and task of the seed file, returning the
// counts. Import is not transactional across projects: a validation failure
// keeps what was already created.
func importSeed(ctx context.Context, q *queue.Queue, path string) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, 0, fmt.Errorf("parse seed %s: %w", path, err)
	}

	var taskCount int
	for _, p := range seed.Projects {
		projectID, err := q.CreateProject(ctx, p.Name, p.Description, p.Priority)
		if err != nil {
			return 0, 0, fmt.Errorf("seed project %q: %w", p.Name, err)
		}
		for _, t := range p.Tasks {
			if _, err := q.CreateTask(ctx, queue.CreateTaskParams{
				ProjectID:   projectID,
				Type:        t.Type,
				Description: t.Description,
				Priority:    t.Priority,
			}); err != nil {
				return 0, 0, fmt.Errorf("seed task %q in %q: %w", t.Description, p.Name, err)
			}
			taskCount++
		}
	}
	return len(seed.Projects), taskCount, nil
}
