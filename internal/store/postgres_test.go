package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// newPostgresStore connects to TEST_DATABASE_URL and starts from empty tables.
// The tests share one database, so they do not run in parallel.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := NewPostgresStore(url, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.Reset(ctx))
	return st
}

func TestPostgresStore_InsertScanAggregate(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()

	ids, err := st.InsertBatch(ctx, models.KindSale, []models.Record{
		sale("Alice", "AI Assistant", 100, 10, day),
		sale("Bob", "Demo Session", 200, 50, day.Add(time.Hour)),
		sale("Alice", "AI Assistant", 50, 5, day),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[2])

	recs, err := st.Scan(ctx, models.KindSale, filter.Predicate{}, ScanOptions{OrderBy: filter.TimestampField, Desc: true})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "Bob", recs[0].(models.Sale).Salesperson)
	assert.True(t, day.Add(time.Hour).Equal(recs[0].(models.Sale).Timestamp))

	groups, err := st.Aggregate(ctx, models.KindSale, filter.Predicate{}, AggregateQuery{
		GroupBy: []string{"salesperson"},
		Metrics: []Metric{{Func: Sum, Column: "profit"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Group{
		{Keys: []string{"Alice"}, Values: []float64{15}},
		{Keys: []string{"Bob"}, Values: []float64{50}},
	}, groups)
}

func TestPostgresStore_SnapshotAndBackfill(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()

	ids, err := st.InsertBatch(ctx, models.KindVisit, []models.Record{
		models.Visit{Timestamp: day, IP: "81.2.69.142", Endpoint: "/home", HTTPMethod: "GET", StatusCode: 200, ResponseTimeMS: 10, UserAgent: "a"},
	})
	require.NoError(t, err)

	err = st.Snapshot(ctx, func(r Reader) error {
		groups, err := r.Aggregate(ctx, models.KindVisit, filter.Predicate{}, AggregateQuery{Metrics: []Metric{{Func: Count}}})
		if err != nil {
			return err
		}
		assert.Equal(t, 1.0, groups[0].Values[0])
		return nil
	})
	require.NoError(t, err)

	missing, err := st.VisitsMissingCountry(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, st.SetVisitCountry(ctx, ids[0], "United Kingdom"))
	missing, err = st.VisitsMissingCountry(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
