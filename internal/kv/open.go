package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/psiqueia/psique-chat/internal/config"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// Open builds the Store selected by cfg.Driver and bounds it with cfg.Timeout.
// If the sqlite database cannot be opened the in-memory store is used instead.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		store = NewMemory()
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "chat.db"
		}
		store, err = OpenSQLite(ctx, path)
		if err != nil {
			logger.L.Warn("sqlite open failed; using in-memory store", "path", path, "error", err)
			store, err = NewMemory(), nil
		}
	case "redis":
		store, err = OpenRedis(ctx, cfg.URL)
	case "postgres", "postgresql":
		store, err = OpenPostgres(ctx, cfg.URL)
	case "mongo", "mongodb":
		store, err = OpenMongo(ctx, cfg.URL, cfg.Database, cfg.Collection)
	default:
		return nil, fmt.Errorf("kv: unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.L.Info("kv store ready", "driver", cfg.Driver, "timeout", cfg.Timeout)
	return WithTimeout(store, cfg.Timeout), nil
}
