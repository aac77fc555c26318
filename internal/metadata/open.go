package metadata

import (
	"context"
	"fmt"

	"github.com/galleryd/galleryd/internal/config"
)

// Open creates the Store selected by cfg.Engine.
func Open(ctx context.Context, cfg config.MetadataConfig) (Store, error) {
	switch cfg.Engine {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres.Driver, cfg.Postgres.DSN)
	case "local":
		return NewLocalStore(cfg.Local.RootDir, cfg.Local.CompactOnStartup)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata engine %q (want sqlite, postgres, local or memory)", cfg.Engine)
	}
}
