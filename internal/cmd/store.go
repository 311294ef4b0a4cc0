package cmd

import (
	"context"
	"path/filepath"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core/store"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// storeLocation returns the resolved database path or URL for display.
func storeLocation(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = config.DefaultStorePath()
	}
	if absPath, err := filepath.Abs(dbPath); err == nil {
		return absPath
	}
	return dbPath
}
