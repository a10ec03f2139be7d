package enrich

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/geoip"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
	storetest "github.com/PratikDhanave/kpi-stream-service/internal/testutil"
)

type mapResolver map[string]string

func (m mapResolver) Country(ip string) (string, error) {
	switch ip {
	case "10.0.0.99":
		return "", errors.New("corrupt record")
	case "10.0.0.98":
		return "", fmt.Errorf("%w: %q", geoip.ErrInvalidIP, ip)
	}
	if c, ok := m[ip]; ok {
		return c, nil
	}
	return "Unknown Country", nil
}

func visit(ip, country string) models.Record {
	return models.Visit{
		Timestamp:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		IP:             ip,
		Country:        country,
		Endpoint:       "/home",
		HTTPMethod:     "GET",
		StatusCode:     200,
		ResponseTimeMS: 120,
		UserAgent:      "curl/7.64.1",
	}
}

func countries(t *testing.T, st store.Reader) map[string]string {
	t.Helper()

	recs, err := st.Scan(context.Background(), models.KindVisit, filter.Predicate{}, store.ScanOptions{})
	require.NoError(t, err)
	out := map[string]string{}
	for _, r := range recs {
		v := r.(models.Visit)
		out[v.IP] = v.Country
	}
	return out
}

func TestEnricher_Run(t *testing.T) {
	st := storetest.NewStore(t)
	storetest.Insert(t, st, models.KindVisit,
		visit("81.2.69.142", ""),
		visit("10.0.0.99", ""),
		visit("192.168.0.7", ""),
		visit("2.125.160.216", "Already Set"),
		visit("10.0.0.98", ""),
	)

	m := metrics.New("kpi")
	e := New(st, mapResolver{"81.2.69.142": "United Kingdom", "2.125.160.216": "Ignored"}, zaptest.NewLogger(t), m, 0)
	updates := 0
	e.OnUpdate(func(context.Context) { updates++ })

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 3, Skipped: 1}, res)

	assert.Equal(t, map[string]string{
		"81.2.69.142":   "United Kingdom",
		"10.0.0.99":     "",
		"192.168.0.7":   "Unknown Country",
		"2.125.160.216": "Already Set",
		"10.0.0.98":     "Unknown Country",
	}, countries(t, st))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.EnrichedRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichFailures))

	// The failed row is retried on the next pass; updated rows are not.
	res, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Equal(t, 1, updates)
}

func TestEnricher_WalksAllPages(t *testing.T) {
	st := storetest.NewStore(t)
	storetest.Insert(t, st, models.KindVisit,
		visit("1.1.1.1", ""), visit("1.1.1.2", ""), visit("1.1.1.3", ""), visit("1.1.1.4", ""), visit("1.1.1.5", ""))

	e := New(st, mapResolver{}, zaptest.NewLogger(t), nil, 2)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 5}, res)
}

func TestEnricher_FailedRowsDoNotBlockLaterVisits(t *testing.T) {
	st := storetest.NewStore(t)
	// A full page of failing rows sits ahead of the good one.
	storetest.Insert(t, st, models.KindVisit, visit("10.0.0.99", ""), visit("10.0.0.99", ""), visit("1.2.3.4", ""))

	e := New(st, mapResolver{"1.2.3.4": "Germany"}, zaptest.NewLogger(t), nil, 2)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Skipped: 2}, res)
	assert.Equal(t, "Germany", countries(t, st)["1.2.3.4"])

	res, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, res)
}

func TestEnricher_StartRejectsBadSchedule(t *testing.T) {
	st := storetest.NewStore(t)
	e := New(st, mapResolver{}, zaptest.NewLogger(t), nil, 0)

	assert.Error(t, e.Start(context.Background(), "every now and then"))

	require.NoError(t, e.Start(context.Background(), "@every 1h"))
	assert.Error(t, e.Start(context.Background(), "@every 1h"))
	e.Stop()
	e.Stop()
}
