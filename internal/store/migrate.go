package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// newMigrator builds a goose provider over the migrations for one dialect.
// The provider keeps no package-level state, so several stores can coexist.
func newMigrator(d goose.Dialect, db *sql.DB, dir string) (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, "migrations/"+dir)
	if err != nil {
		return nil, fmt.Errorf("migrations %s: %w", dir, err)
	}
	return goose.NewProvider(d, db, sub)
}

func migrateUp(ctx context.Context, p *goose.Provider) error {
	if _, err := p.Up(ctx); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// resetSchema rolls every migration back and applies them again, which drops
// and recreates the event tables.
func resetSchema(ctx context.Context, p *goose.Provider) error {
	if _, err := p.DownTo(ctx, 0); err != nil {
		return &StorageError{Op: "reset", Err: err}
	}
	return migrateUp(ctx, p)
}
