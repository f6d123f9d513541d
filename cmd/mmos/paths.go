package main

import (
	"fmt"
	"os"
	"path/filepath"

	"mmos/pkg/protocol"
)

// Paths holds all resolved mmos state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	MmosHome   string // ~/.mmos or MMOS_HOME
	DBPath     string // mmos.db or MMOS_DB
	ConfigPath string // config.toml or MMOS_CONFIG
}

// ResolvePaths returns all mmos paths, respecting env var overrides.
// Environment variables:
//   - MMOS_HOME: base directory for all mmos state (default: ~/.mmos)
//   - MMOS_DB: coordination database (default: $MMOS_HOME/mmos.db)
//   - MMOS_CONFIG: config file (default: $MMOS_HOME/config.toml)
func ResolvePaths() (*Paths, error) {
	home, err := resolveMmosHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		MmosHome:   home,
		DBPath:     resolvePathWithEnv("MMOS_DB", home, protocol.DBFileName),
		ConfigPath: resolvePathWithEnv("MMOS_CONFIG", home, protocol.ConfigFileName),
	}, nil
}

// resolveMmosHome returns the mmos home directory from MMOS_HOME or ~/.mmos.
func resolveMmosHome() (string, error) {
	if v := os.Getenv("MMOS_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.MmosDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
