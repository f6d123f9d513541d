package main

import (
	"fmt"
	"os"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the operator-editable configuration read from config.toml.
// Every field has a working default; a missing file is not an error.
type Config struct {
	// DBPath overrides the resolved database path when set.
	DBPath string `toml:"db_path"`

	Worker WorkerConfig `toml:"worker"`
	Poll   PollConfig   `toml:"poll"`
}

// WorkerConfig is the identity this process uses when run as a worker.
type WorkerConfig struct {
	InstanceName string `toml:"instance_name"` // generated when empty
	Type         string `toml:"type"`
	Capacity     int    `toml:"capacity"`
}

// PollConfig tunes the blocking-poll wakeup.
type PollConfig struct {
	FallbackSeconds int `toml:"fallback_seconds"` // fallback wakeup interval
}

func (c Config) withDefaults() Config {
	out := c
	if out.Worker.Type == "" {
		out.Worker.Type = "generalist"
	}
	if out.Worker.Capacity == 0 {
		out.Worker.Capacity = 1
	}
	if out.Poll.FallbackSeconds == 0 {
		out.Poll.FallbackSeconds = 10
	}
	return out
}

// loadConfig reads config.toml from path and applies env overrides.
// Environment variables:
//   - WORKER_INSTANCE_NAME: overrides worker.instance_name
//   - WORKER_TYPE: overrides worker.type
//   - WORKER_CAPACITY: overrides worker.capacity
func loadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("WORKER_INSTANCE_NAME"); v != "" {
		cfg.Worker.InstanceName = v
	}
	if v := os.Getenv("WORKER_TYPE"); v != "" {
		cfg.Worker.Type = v
	}
	if v := os.Getenv("WORKER_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WORKER_CAPACITY %q: %w", v, err)
		}
		cfg.Worker.Capacity = n
	}

	return cfg.withDefaults(), nil
}

// defaultConfigTOML is written by `mmos init` when no config exists yet.
const defaultConfigTOML = `# mmos configuration. All fields optional.

# db_path = "/custom/path/mmos.db"

[worker]
# instance_name = "claude-sonnet-1"
type = "generalist"
capacity = 1

[poll]
fallback_seconds = 10
`
