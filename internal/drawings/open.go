package drawings

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures a Store.
type Config struct {
	// Driver is one of "memory", "sqlite", "postgres". Default "memory".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
	// CacheTTL enables a read-through cache in front of the database when positive.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var store Store
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("drawings: path required for sqlite driver")
		}
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("drawings: dsn required for postgres driver")
		}
		s, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("drawings: unsupported driver %q", cfg.Driver)
	}

	if cfg.CacheTTL > 0 {
		store = NewCached(store, cfg.CacheTTL)
	}
	return store, nil
}
