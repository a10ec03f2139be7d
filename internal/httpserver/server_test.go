package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/kpi-stream-service/internal/analytics"
	"github.com/PratikDhanave/kpi-stream-service/internal/config"
	"github.com/PratikDhanave/kpi-stream-service/internal/handlers"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
	"github.com/PratikDhanave/kpi-stream-service/internal/testutil"
)

type fixture struct {
	router  *gin.Engine
	store   *store.SQLiteStore
	commits atomic.Int32
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	st := testutil.NewStore(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	testutil.Insert(t, st, models.KindSale,
		models.Sale{Timestamp: ts, Product: "AI Assistant", Salesperson: "Alice", Revenue: 100, Profit: 10, Country: "UK", Endpoint: "/home"},
		models.Sale{Timestamp: ts, Product: "Demo Session", Salesperson: "Bob", Revenue: 200, Profit: 50, Country: "USA", Endpoint: "/demo"},
		models.Sale{Timestamp: ts.Add(time.Hour), Product: "AI Assistant", Salesperson: "Alice", Revenue: 50, Profit: 5, Country: "UK", Endpoint: "/home"},
	)
	visit := func(endpoint string) models.Record {
		return models.Visit{Timestamp: ts, IP: "10.1.1.1", Endpoint: endpoint, HTTPMethod: "GET", StatusCode: 200, ResponseTimeMS: 200, UserAgent: "curl/7.64.1"}
	}
	testutil.Insert(t, st, models.KindVisit, visit("/home"), visit("/home"), visit("/about"))

	log := zaptest.NewLogger(t)
	m := metrics.New("kpi")
	f := &fixture{store: st}
	f.router = NewRouter(cfg, Deps{
		Analytics: analytics.New(st, log, analytics.WithMetrics(m)),
		Store:     st,
		Metrics:   m.Handler(),
		Log:       log,
		OnCommit:  func(context.Context) { f.commits.Add(1) },
	})
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouter_HealthReadyMetrics(t *testing.T) {
	f := newFixture(t, config.Config{})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", "").Code)

	f.do(http.MethodGet, "/kpis/total-revenue", "")
	rec := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kpi_kpi_queries_total{kpi="total-revenue",status="ok"} 1`)
}

func TestRouter_ReadyFailsWhenStoreIsDown(t *testing.T) {
	f := newFixture(t, config.Config{})
	require.NoError(t, f.store.Close())

	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/ready", "").Code)
}

func TestRouter_KPIs(t *testing.T) {
	f := newFixture(t, config.Config{})

	rec := f.do(http.MethodGet, "/kpis/total-revenue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"kpi": "total-revenue", "result": 350.0}, decode(t, rec))

	rec = f.do(http.MethodGet, "/kpis/profit-per-salesperson?date_from=2024-03-01&date_to=2024-03-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{
		map[string]any{"key": "Bob", "value": 50.0},
		map[string]any{"key": "Alice", "value": 15.0},
	}, decode(t, rec)["result"])

	rec = f.do(http.MethodGet, "/kpis/top-landing-pages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{map[string]any{"endpoint": "/home", "visits": 2.0}}, decode(t, rec)["result"])

	rec = f.do(http.MethodGet, "/kpis/best-salesperson?country=Narnia", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["result"].(map[string]any)["found"])

	rec = f.do(http.MethodGet, "/kpis", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["kpis"], 20)
}

func TestRouter_KPIErrors(t *testing.T) {
	f := newFixture(t, config.Config{})

	cases := map[string]struct {
		target string
		code   int
	}{
		"unknown kpi":           {"/kpis/total-happiness", http.StatusNotFound},
		"unknown filter":        {"/kpis/total-revenue?colour=red", http.StatusBadRequest},
		"bad date":              {"/kpis/total-revenue?date_from=yesterday", http.StatusBadRequest},
		"reversed range":        {"/kpis/leads-by-day?date_from=2024-03-02&date_to=2024-03-01", http.StatusBadRequest},
		"limit on scalar":       {"/kpis/total-revenue?limit=3", http.StatusBadRequest},
		"zero limit":            {"/kpis/top-landing-pages?limit=0", http.StatusBadRequest},
		"cross-kind conversion": {"/kpis/conversion-rate?country=UK", http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, f.do(http.MethodGet, tc.target, "").Code)
		})
	}
}

func TestRouter_StorageFailureIs500(t *testing.T) {
	f := newFixture(t, config.Config{})
	require.NoError(t, f.store.Close())

	rec := f.do(http.MethodGet, "/kpis/total-revenue", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "db query failed", decode(t, rec)["error"])
}

func TestRouter_FilterSales(t *testing.T) {
	f := newFixture(t, config.Config{})

	rec := f.do(http.MethodGet, "/filter-sales?salesperson=Alice&start_date=2024-03-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["count"])
	first := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, 50.0, first["revenue"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/filter-sales?lead_status=New", "").Code)
}

func TestRouter_PostEvents(t *testing.T) {
	f := newFixture(t, config.Config{})

	rec := f.do(http.MethodPost, "/events/lead", `[{"id":99,"lead_source":"Referral","lead_status":"Closed"},{"lead_source":"Website","lead_status":"New"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ids := decode(t, rec)["ids"].([]any)
	require.Len(t, ids, 2)
	assert.NotEqual(t, 99.0, ids[0])
	assert.EqualValues(t, 1, f.commits.Load())

	rec = f.do(http.MethodGet, "/kpis/lead-conversion-rate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50.0, decode(t, rec)["result"].(map[string]any)["rate"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/events/lead", `[{"lead_source":"Website","lead_status":"Won"}]`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/events/lead", `{"not":"an array"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/events/lead", `[]`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/events/orders", `[{}]`).Code)
	assert.EqualValues(t, 1, f.commits.Load())
}

func TestRouter_PostEventsLimits(t *testing.T) {
	f := newFixture(t, config.Config{})

	visit := `{"ip":"%s","endpoint":"/home","http_method":"GET","status_code":200,"response_time_ms":120,"user_agent":"curl/7.64.1"}`
	rec := f.do(http.MethodPost, "/events/visit", "["+fmt.Sprintf(visit, "not-an-ip")+"]")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/events/visit", "["+fmt.Sprintf(visit, "81.2.69.142")+"]")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	lead := `{"lead_source":"Website","lead_status":"New"}`
	tooMany := "[" + strings.TrimSuffix(strings.Repeat(lead+",", handlers.MaxBatch+1), ",") + "]"
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(http.MethodPost, "/events/lead", tooMany).Code)

	// The body is cut off at the byte cap before any decoding finishes.
	oversized := "[" + strings.Repeat(" ", handlers.MaxBodyBytes) + lead + "]"
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(http.MethodPost, "/events/lead", oversized).Code)

	assert.EqualValues(t, 1, f.commits.Load())
}

func TestRouter_APIKeys(t *testing.T) {
	f := newFixture(t, config.Config{APIKeys: []string{"dashboard:s3cret"}})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/kpis/total-revenue", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/kpis/total-revenue", "", "X-API-Key", "s3cret").Code)
	// Probes stay public.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func TestRouter_RateLimit(t *testing.T) {
	f := newFixture(t, config.Config{RateLimitRPS: 1, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/kpis/total-revenue", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/kpis/total-revenue", "").Code)
}
