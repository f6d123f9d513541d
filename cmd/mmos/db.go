package main

import (
	"context"
	"fmt"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

// openStore resolves paths and config, opens the coordination database and
// applies the schema. The DDL is idempotent, so every command can call this
// without a separate migration step.
func openStore(ctx context.Context) (*store.DB, *Paths, Config, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, nil, Config{}, err
	}
	cfg, err := loadConfig(paths.ConfigPath)
	if err != nil {
		return nil, nil, Config{}, err
	}
	if cfg.DBPath != "" {
		paths.DBPath = cfg.DBPath
	}

	db, err := store.Open(paths.DBPath)
	if err != nil {
		return nil, nil, Config{}, fmt.Errorf("open store %s: %w", paths.DBPath, err)
	}
	if err := db.Init(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, nil, Config{}, fmt.Errorf("apply schema: %w", err)
	}
	return db, paths, cfg, nil
}
