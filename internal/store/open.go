package store

import (
	"context"
	"strings"
)

// Open connects to the store named by dbURL and applies migrations.
// postgres:// and postgresql:// URLs select Postgres; anything else is a
// SQLite file path, optionally prefixed with sqlite://.
func Open(ctx context.Context, dbURL string, maxConns int) (EventStore, error) {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		pg, err := NewPostgresStore(dbURL, maxConns)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	}

	lite, err := NewSQLiteStore(strings.TrimPrefix(dbURL, "sqlite://"), maxConns)
	if err != nil {
		return nil, err
	}
	if err := lite.EnsureSchema(ctx); err != nil {
		_ = lite.Close()
		return nil, err
	}
	return lite, nil
}
