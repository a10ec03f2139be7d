package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// PostgresStore is the server-backed event store, used when DB_URL points at
// a Postgres instance instead of a local file.
type PostgresStore struct {
	pool     *pgxpool.Pool
	sqlDB    *sql.DB
	migrator *goose.Provider
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string, maxConns int) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	// goose needs database/sql; share the pool rather than opening a second one.
	sqlDB := stdlib.OpenDBFromPool(pool)
	m, err := newMigrator(goose.DialectPostgres, sqlDB, "postgres")
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, sqlDB: sqlDB, migrator: m}, nil
}

// EnsureSchema applies pending migrations. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	return migrateUp(ctx, p.migrator)
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	return resetSchema(ctx, p.migrator)
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	err := p.sqlDB.Close()
	p.pool.Close()
	return err
}

// InsertBatch queues every insert in one pgx batch inside one transaction, so
// readers see either none or all of the records.
func (p *PostgresStore) InsertBatch(ctx context.Context, kind models.Kind, records []models.Record) ([]int64, error) {
	if err := validateBatch(kind, records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	query, err := buildInsert(postgresDialect, kind)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(records))
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(query, insertValues(postgresDialect, r)...)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range records {
			var id int64
			if err := br.QueryRow().Scan(&id); err != nil {
				_ = br.Close()
				return fmt.Errorf("record %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return br.Close()
	})
	if err != nil {
		return nil, &StorageError{Op: "insert", Kind: kind, Err: err}
	}
	return ids, nil
}

func (p *PostgresStore) Scan(ctx context.Context, kind models.Kind, pred filter.Predicate, opts ScanOptions) ([]models.Record, error) {
	return pgReader{q: p.pool}.Scan(ctx, kind, pred, opts)
}

func (p *PostgresStore) Aggregate(ctx context.Context, kind models.Kind, pred filter.Predicate, q AggregateQuery) ([]Group, error) {
	return pgReader{q: p.pool}.Aggregate(ctx, kind, pred, q)
}

// Snapshot runs fn in a read-only repeatable read transaction.
func (p *PostgresStore) Snapshot(ctx context.Context, fn func(Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, p.pool, opts, func(tx pgx.Tx) error {
		return fn(pgReader{q: tx})
	})
}

func (p *PostgresStore) VisitsMissingCountry(ctx context.Context, afterID int64, limit int) ([]models.Visit, error) {
	query := "SELECT " + selectList(tables[models.KindVisit]) +
		" FROM visits WHERE country IS NULL AND id > $1 ORDER BY id LIMIT $2"
	recs, err := pgReader{q: p.pool}.query(ctx, models.KindVisit, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Visit, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(models.Visit))
	}
	return out, nil
}

func (p *PostgresStore) SetVisitCountry(ctx context.Context, id int64, country string) error {
	_, err := p.pool.Exec(ctx, `UPDATE visits SET country = $1 WHERE id = $2 AND country IS NULL`, country, id)
	if err != nil {
		return &StorageError{Op: "update", Kind: models.KindVisit, Err: err}
	}
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgReader struct {
	q pgQuerier
}

func (r pgReader) Scan(ctx context.Context, kind models.Kind, pred filter.Predicate, opts ScanOptions) ([]models.Record, error) {
	query, args, err := buildScan(postgresDialect, kind, pred, opts)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, kind, query, args...)
}

func (r pgReader) query(ctx context.Context, kind models.Kind, query string, args ...any) ([]models.Record, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "scan", Kind: kind, Err: err}
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var ts time.Time
		rec, err := decodeRow(kind, rows, &ts, func() (time.Time, error) { return ts.UTC(), nil })
		if err != nil {
			return nil, &StorageError{Op: "scan", Kind: kind, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Kind: kind, Err: err}
	}
	return out, nil
}

func (r pgReader) Aggregate(ctx context.Context, kind models.Kind, pred filter.Predicate, q AggregateQuery) ([]Group, error) {
	query, args, err := buildAggregate(postgresDialect, kind, pred, q)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "aggregate", Kind: kind, Err: err}
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := decodeGroup(rows, len(q.GroupBy), len(q.Metrics))
		if err != nil {
			return nil, &StorageError{Op: "aggregate", Kind: kind, Err: err}
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "aggregate", Kind: kind, Err: err}
	}
	return out, nil
}
