package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/generator"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
	"github.com/PratikDhanave/kpi-stream-service/internal/testutil"
)

var (
	ctx = context.Background()
	all = filter.Predicate{}
	d1  = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	d2  = time.Date(2024, 1, 11, 15, 30, 0, 0, time.UTC)
)

func sale(person, product, country string, revenue, profit float64, ts time.Time) models.Record {
	return models.Sale{Timestamp: ts, Product: product, Salesperson: person, Revenue: revenue, Profit: profit, Country: country, Endpoint: "/products"}
}

func lead(status string, ts time.Time) models.Record {
	return models.Lead{Timestamp: ts, LeadSource: "Website", LeadStatus: status}
}

func visit(ip, endpoint string, ts time.Time) models.Record {
	return models.Visit{Timestamp: ts, IP: ip, Endpoint: endpoint, HTTPMethod: "GET", StatusCode: 200, ResponseTimeMS: 150, UserAgent: "Mozilla/5.0"}
}

func threeSales(t *testing.T) store.EventStore {
	t.Helper()

	st := testutil.NewStore(t)
	testutil.Insert(t, st, models.KindSale,
		sale("Alice", "AI Assistant", "UK", 100, 10, d1),
		sale("Bob", "Demo Session", "USA", 200, 50, d1),
		sale("Alice", "Demo Session", "UK", 50, 5, d2),
	)
	return st
}

func TestEmptyStore(t *testing.T) {
	st := testutil.NewStore(t)

	rev, err := SumRevenue(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rev)

	best, err := TopSalesperson(ctx, st, all)
	require.NoError(t, err)
	assert.False(t, best.Found)

	conv, err := SalesConversion(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, Ratio{}, conv)

	ranked, err := ProfitBySalesperson(ctx, st, all)
	require.NoError(t, err)
	assert.Empty(t, ranked)

	days, err := LeadCountByDay(ctx, st, all)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestProfitPerSalespersonAndTotals(t *testing.T) {
	st := threeSales(t)

	got, err := ProfitBySalesperson(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{Key: "Bob", Value: 50}, {Key: "Alice", Value: 15}}, got)

	rev, err := SumRevenue(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, 350.0, rev)

	profit, err := SumProfit(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, 65.0, profit)
}

func TestBestSalespersonRanksByRevenue(t *testing.T) {
	st := testutil.NewStore(t)
	// Carol has the most profit, Dave the most revenue.
	testutil.Insert(t, st, models.KindSale,
		sale("Carol", "AI Assistant", "UK", 300, 290, d1),
		sale("Dave", "AI Assistant", "UK", 900, 20, d1),
	)

	byProfit, err := ProfitBySalesperson(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, "Carol", byProfit[0].Key)

	best, err := TopSalesperson(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, Top{Key: "Dave", Revenue: 900, Profit: 20, Found: true}, best)
}

func TestMostSoldProduct(t *testing.T) {
	st := threeSales(t)

	top, err := TopProduct(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, Top{Key: "Demo Session", Revenue: 250, Profit: 55, Found: true}, top)
}

func TestRankingTiesAreStable(t *testing.T) {
	st := testutil.NewStore(t)
	testutil.Insert(t, st, models.KindSale,
		sale("Zed", "P", "UK", 100, 40, d1),
		sale("Amy", "P", "UK", 100, 40, d1),
		sale("Max", "P", "UK", 100, 90, d1),
	)

	for i := 0; i < 5; i++ {
		got, err := ProfitBySalesperson(ctx, st, all)
		require.NoError(t, err)
		assert.Equal(t, []Ranked{{"Max", 90}, {"Amy", 40}, {"Zed", 40}}, got)
	}
}

func TestRevenueByCountryProduct(t *testing.T) {
	st := threeSales(t)

	got, err := RevenueByCountryProduct(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []CountryProduct{
		{Country: "USA", Product: "Demo Session", Revenue: 200},
		{Country: "UK", Product: "AI Assistant", Revenue: 100},
		{Country: "UK", Product: "Demo Session", Revenue: 50},
	}, got)

	byCountry, err := RevenueByCountry(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{"USA", 200}, {"UK", 150}}, byCountry)
}

func TestLeadConversionRate(t *testing.T) {
	st := testutil.NewStore(t)
	testutil.Insert(t, st, models.KindLead,
		lead(models.LeadNew, d1),
		lead(models.LeadClosed, d1),
		lead(models.LeadClosed, d2),
		lead(models.LeadContacted, d2),
	)

	got, err := LeadConversion(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, Ratio{Rate: 50.0, Numerator: 2, Denominator: 4}, got)

	byStatus, err := LeadCountByStatus(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{"Closed", 2}, {"Contacted", 1}, {"New", 1}}, byStatus)

	days, err := LeadCountByDay(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{{"2024-01-10", 2}, {"2024-01-11", 2}}, days)
}

func TestConversionRateIsCapped(t *testing.T) {
	st := threeSales(t)
	testutil.Insert(t, st, models.KindLead, lead(models.LeadNew, d1), lead(models.LeadNew, d1))

	got, err := SalesConversion(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, Ratio{Rate: 100, Numerator: 3, Denominator: 2}, got)

	testutil.Insert(t, st, models.KindLead, lead(models.LeadNew, d1), lead(models.LeadNew, d1), lead(models.LeadNew, d1), lead(models.LeadNew, d1))
	got, err = SalesConversion(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Rate)
}

func TestPercentRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		num, den int64
		want     float64
	}{
		{1, 800, 0.12}, // 0.125
		{3, 800, 0.38}, // 0.375
		{5, 800, 0.62}, // 0.625
		{1, 3, 33.33},  // 33.333...
		{2, 3, 66.67},  // 66.666...
		{0, 7, 0},      // no sales
		{5, 0, 0},      // no leads
		{9, 3, 300},    // uncapped
	}
	for _, c := range cases {
		assert.Equal(t, c.want, percent(c.num, c.den, 0), "%d/%d", c.num, c.den)
	}
	assert.Equal(t, 100.0, percent(9, 3, 100))
}

func TestTopLandingPages(t *testing.T) {
	st := testutil.NewStore(t)
	testutil.Insert(t, st, models.KindVisit,
		visit("10.0.0.1", "/home", d1),
		visit("10.0.0.2", "/home", d1),
		visit("10.0.0.1", "/about", d2),
	)

	got, err := LandingPages(ctx, st, all, 1)
	require.NoError(t, err)
	assert.Equal(t, []PageCount{{Endpoint: "/home", Visits: 2}}, got)

	got, err = LandingPages(ctx, st, all, DefaultTopN)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = LandingPages(ctx, st, all, 0)
	var verr *filter.ValidationError
	assert.ErrorAs(t, err, &verr)

	visits, err := CountVisits(ctx, st, all)
	require.NoError(t, err)
	assert.EqualValues(t, 3, visits)

	unique, err := CountUniqueVisitors(ctx, st, all)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unique)
}

func TestDemoRequests(t *testing.T) {
	st := testutil.NewStore(t)
	testutil.Insert(t, st, models.KindVisit,
		visit("10.0.0.1", "/demo", d1),
		visit("10.0.0.2", "/demo", d2),
		visit("10.0.0.3", "/home", d2),
	)

	n, err := CountDemoRequests(ctx, st, all)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	pred, err := filter.Build(filter.Params{DateFrom: &d2}, models.KindVisit)
	require.NoError(t, err)
	n, err = CountDemoRequests(ctx, st, pred)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAggregationIsIdempotent(t *testing.T) {
	st := testutil.NewStore(t)
	gen := generator.NewSeeded(7)
	for _, kind := range models.Kinds {
		recs, err := gen.Batch(kind, 40)
		require.NoError(t, err)
		testutil.Insert(t, st, kind, recs...)
	}

	first, err := RevenueByCountryProduct(ctx, st, all)
	require.NoError(t, err)
	second, err := RevenueByCountryProduct(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	c1, err := SalesConversion(ctx, st, all)
	require.NoError(t, err)
	c2, err := SalesConversion(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.GreaterOrEqual(t, c1.Rate, 0.0)
	assert.LessOrEqual(t, c1.Rate, 100.0)
}

func TestNarrowingDateRangeNeverIncreases(t *testing.T) {
	st := testutil.NewStore(t)
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ts := base.AddDate(0, 0, i)
		testutil.Insert(t, st, models.KindSale, sale("Alice", "P", "UK", float64(100+i), 10, ts))
		testutil.Insert(t, st, models.KindLead, lead(models.LeadNew, ts))
	}

	prevRevenue, prevLeads := 1e18, int64(1<<62)
	for shrink := 0; shrink < 5; shrink++ {
		from := base.AddDate(0, 0, shrink)
		to := base.AddDate(0, 0, 9-shrink)
		pred, err := filter.Build(filter.Params{DateFrom: &from, DateTo: &to}, models.KindSale)
		require.NoError(t, err)

		rev, err := SumRevenue(ctx, st, pred)
		require.NoError(t, err)
		n, err := CountLeads(ctx, st, pred)
		require.NoError(t, err)

		assert.LessOrEqual(t, rev, prevRevenue)
		assert.LessOrEqual(t, n, prevLeads)
		assert.EqualValues(t, 10-2*shrink, n)
		prevRevenue, prevLeads = rev, n
	}
}

func TestCatalog(t *testing.T) {
	defs := Catalog()
	require.Len(t, defs, 20)
	for i, d := range defs {
		assert.NotEmpty(t, d.Kinds, d.Name)
		if i > 0 {
			assert.Less(t, defs[i-1].Name, d.Name)
		}
	}

	d, ok := Lookup(ConversionRate)
	require.True(t, ok)
	assert.Equal(t, ConversionRate, d.Name)
	assert.Equal(t, []models.Kind{models.KindSale, models.KindLead}, d.Kinds)

	_, ok = Lookup("total-happiness")
	assert.False(t, ok)
}
