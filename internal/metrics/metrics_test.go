package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InstancesDoNotCollide(t *testing.T) {
	a := New("kpi")
	b := New("kpi")

	a.RowsInserted.WithLabelValues("sale").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.RowsInserted.WithLabelValues("sale")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RowsInserted.WithLabelValues("sale")))
}

func TestObserveKPI(t *testing.T) {
	m := New("kpi")
	m.ObserveKPI("total-revenue", time.Now(), nil)
	m.ObserveKPI("total-revenue", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KPIQueries.WithLabelValues("total-revenue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KPIQueries.WithLabelValues("total-revenue", "error")))
}

func TestHandler(t *testing.T) {
	m := New("kpi")
	m.BatchesInserted.WithLabelValues("lead").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kpi_ingest_batches_total{kind="lead"} 1`)
}
