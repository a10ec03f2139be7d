// Package store persists visit, sale and lead events and runs filtered scans
// and aggregates over them.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// StorageError wraps any fault raised by the underlying database.
type StorageError struct {
	Op   string
	Kind models.Kind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrInvalidQuery is returned when a scan or aggregate names a column that is
// not part of the kind's schema.
var ErrInvalidQuery = errors.New("invalid query")

// MetricFunc is an aggregate function.
type MetricFunc string

const (
	Count         MetricFunc = "count"
	CountDistinct MetricFunc = "count_distinct"
	Sum           MetricFunc = "sum"
)

// Metric is one aggregate column. Column is ignored for Count.
type Metric struct {
	Func   MetricFunc
	Column string
}

// DayBucket may be used in AggregateQuery.GroupBy to bucket rows by the UTC
// calendar date (YYYY-MM-DD) of their timestamp.
const DayBucket = "day"

// AggregateQuery describes a GROUP BY over one kind.
type AggregateQuery struct {
	GroupBy []string
	Metrics []Metric
}

// Group is one aggregate row. Keys follow AggregateQuery.GroupBy and Values
// follow AggregateQuery.Metrics.
type Group struct {
	Keys   []string
	Values []float64
}

// ScanOptions controls ordering and truncation of Scan.
type ScanOptions struct {
	OrderBy string
	Desc    bool
	Limit   int
}

// Reader is the read side shared by the store and its snapshots.
type Reader interface {
	// Scan returns every row of kind matching pred.
	Scan(ctx context.Context, kind models.Kind, pred filter.Predicate, opts ScanOptions) ([]models.Record, error)
	// Aggregate groups matching rows. Groups come back in ascending key order;
	// with no GroupBy exactly one group is returned.
	Aggregate(ctx context.Context, kind models.Kind, pred filter.Predicate, q AggregateQuery) ([]Group, error)
}

// EventStore is the single shared resource written by the ingestion loop and
// read by the analytics layer.
type EventStore interface {
	Reader

	// InsertBatch commits all records atomically and returns their ids.
	InsertBatch(ctx context.Context, kind models.Kind, records []models.Record) ([]int64, error)
	// Snapshot runs fn inside one read transaction.
	Snapshot(ctx context.Context, fn func(Reader) error) error

	// VisitsMissingCountry lists up to limit visits with id > afterID whose
	// country has never been set, in id order.
	VisitsMissingCountry(ctx context.Context, afterID int64, limit int) ([]models.Visit, error)
	// SetVisitCountry backfills a visit's country.
	SetVisitCountry(ctx context.Context, id int64, country string) error
	// Reset drops and recreates every event table.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

func validateBatch(kind models.Kind, records []models.Record) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, kind)
	}
	for i, r := range records {
		if r.EventKind() != kind {
			return fmt.Errorf("record %d: %w: %s in %s batch", i, ErrInvalidQuery, r.EventKind(), kind)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}
