package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sat18-labs/sat18/migrations"
)

// OpenConfig selects and locates the storage engine.
type OpenConfig struct {
	Engine     string // EngineSQLite or EnginePostgres
	DSN        string // postgres only
	SQLitePath string // sqlite only
}

// Open connects to the configured engine and applies its migrations.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Engine {
	case EnginePostgres:
		db, err := New(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(ctx)
			return nil, err
		}
		return db, nil
	case EngineSQLite, "":
		s, err := OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(ctx, migrations.SQLite()); err != nil {
			s.Close(ctx)
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}
