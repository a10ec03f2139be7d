package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// sqlitePragmas are applied by the driver on every new connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

// SQLiteStore is the embedded event store. WAL mode lets readers proceed while
// a batch is being written; writers are serialized by writeMu.
type SQLiteStore struct {
	db       *sql.DB
	migrator *goose.Provider
	writeMu  sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database file at path and
// its parent directory.
func NewSQLiteStore(path string, maxOpenConns int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: err}
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}

	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	m, err := newMigrator(goose.DialectSQLite3, db, "sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, migrator: m}, nil
}

// EnsureSchema applies pending migrations. Safe to run multiple times.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return migrateUp(ctx, s.migrator)
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return resetSchema(ctx, s.migrator)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertBatch(ctx context.Context, kind models.Kind, records []models.Record) ([]int64, error) {
	if err := validateBatch(kind, records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	query, err := buildInsert(sqliteDialect, kind)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "insert", Kind: kind, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "insert", Kind: kind, Err: err}
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(records))
	for i, r := range records {
		var id int64
		if err := stmt.QueryRowContext(ctx, insertValues(sqliteDialect, r)...).Scan(&id); err != nil {
			return nil, &StorageError{Op: "insert", Kind: kind, Err: fmt.Errorf("record %d: %w", i, err)}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "commit", Kind: kind, Err: err}
	}
	return ids, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, kind models.Kind, pred filter.Predicate, opts ScanOptions) ([]models.Record, error) {
	return sqliteReader{q: s.db}.Scan(ctx, kind, pred, opts)
}

func (s *SQLiteStore) Aggregate(ctx context.Context, kind models.Kind, pred filter.Predicate, q AggregateQuery) ([]Group, error) {
	return sqliteReader{q: s.db}.Aggregate(ctx, kind, pred, q)
}

// Snapshot runs fn in a deferred read transaction. Under WAL the first read
// pins the snapshot, so every read in fn sees the same committed batches.
func (s *SQLiteStore) Snapshot(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "snapshot", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	return fn(sqliteReader{q: tx})
}

func (s *SQLiteStore) VisitsMissingCountry(ctx context.Context, afterID int64, limit int) ([]models.Visit, error) {
	query := "SELECT " + selectList(tables[models.KindVisit]) +
		" FROM visits WHERE country IS NULL AND id > ? ORDER BY id LIMIT ?"
	recs, err := sqliteReader{q: s.db}.query(ctx, models.KindVisit, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Visit, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(models.Visit))
	}
	return out, nil
}

func (s *SQLiteStore) SetVisitCountry(ctx context.Context, id int64, country string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE visits SET country = ? WHERE id = ? AND country IS NULL`, country, id)
	if err != nil {
		return &StorageError{Op: "update", Kind: models.KindVisit, Err: err}
	}
	return nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqliteReader struct {
	q sqlQuerier
}

func (r sqliteReader) Scan(ctx context.Context, kind models.Kind, pred filter.Predicate, opts ScanOptions) ([]models.Record, error) {
	query, args, err := buildScan(sqliteDialect, kind, pred, opts)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, kind, query, args...)
}

func (r sqliteReader) query(ctx context.Context, kind models.Kind, query string, args ...any) ([]models.Record, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "scan", Kind: kind, Err: err}
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var raw string
		rec, err := decodeRow(kind, rows, &raw, func() (time.Time, error) {
			return time.ParseInLocation(sqliteTimeLayout, raw, time.UTC)
		})
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

func (r sqliteReader) Aggregate(ctx context.Context, kind models.Kind, pred filter.Predicate, q AggregateQuery) ([]Group, error) {
	query, args, err := buildAggregate(sqliteDialect, kind, pred, q)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
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
