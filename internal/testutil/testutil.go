// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// NewStore returns a migrated SQLite store in a temp dir, closed on cleanup.
func NewStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"), 8)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Insert commits records as one batch of kind and fails the test on error.
func Insert(t testing.TB, st store.EventStore, kind models.Kind, records ...models.Record) []int64 {
	t.Helper()

	ids, err := st.InsertBatch(context.Background(), kind, records)
	require.NoError(t, err)
	return ids
}
