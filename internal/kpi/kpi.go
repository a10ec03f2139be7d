package kpi

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// Source is what the engine reads from. store.EventStore satisfies it.
type Source interface {
	store.Reader
	Snapshot(ctx context.Context, fn func(store.Reader) error) error
}

// Ranked is one {key, value} pair of a ranked list.
type Ranked struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// CountryProduct is revenue for one (country, product) pair.
type CountryProduct struct {
	Country string  `json:"country"`
	Product string  `json:"product"`
	Revenue float64 `json:"total_revenue"`
}

// RevenueProfit holds both sums for one group.
type RevenueProfit struct {
	Key     string  `json:"key"`
	Revenue float64 `json:"total_revenue"`
	Profit  float64 `json:"total_profit"`
}

// Top is the first row of a ranking. Found is false when there was no data.
type Top struct {
	Key     string  `json:"key,omitempty"`
	Revenue float64 `json:"total_revenue"`
	Profit  float64 `json:"total_profit"`
	Found   bool    `json:"found"`
}

// Ratio is a percentage with its inputs.
type Ratio struct {
	Rate        float64 `json:"rate"`
	Numerator   int64   `json:"numerator"`
	Denominator int64   `json:"denominator"`
}

// DayCount is the number of rows on one UTC calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// PageCount is the number of visits to one endpoint.
type PageCount struct {
	Endpoint string `json:"endpoint"`
	Visits   int64  `json:"visits"`
}

func scalar(ctx context.Context, r store.Reader, kind models.Kind, pred filter.Predicate, m store.Metric) (float64, error) {
	groups, err := r.Aggregate(ctx, kind, pred, store.AggregateQuery{Metrics: []store.Metric{m}})
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}
	return groups[0].Values[0], nil
}

func count(ctx context.Context, r store.Reader, kind models.Kind, pred filter.Predicate) (int64, error) {
	v, err := scalar(ctx, r, kind, pred, store.Metric{Func: store.Count})
	return int64(v), err
}

func SumRevenue(ctx context.Context, src Source, pred filter.Predicate) (float64, error) {
	return scalar(ctx, src, models.KindSale, pred, store.Metric{Func: store.Sum, Column: "revenue"})
}

func SumProfit(ctx context.Context, src Source, pred filter.Predicate) (float64, error) {
	return scalar(ctx, src, models.KindSale, pred, store.Metric{Func: store.Sum, Column: "profit"})
}

func CountVisits(ctx context.Context, src Source, pred filter.Predicate) (int64, error) {
	return count(ctx, src, models.KindVisit, pred)
}

// CountUniqueVisitors counts distinct IPs.
func CountUniqueVisitors(ctx context.Context, src Source, pred filter.Predicate) (int64, error) {
	v, err := scalar(ctx, src, models.KindVisit, pred, store.Metric{Func: store.CountDistinct, Column: "ip"})
	return int64(v), err
}

func CountLeads(ctx context.Context, src Source, pred filter.Predicate) (int64, error) {
	return count(ctx, src, models.KindLead, pred)
}

// DemoEndpoint is the landing page counted by CountDemoRequests.
const DemoEndpoint = "/demo"

func CountDemoRequests(ctx context.Context, src Source, pred filter.Predicate) (int64, error) {
	return count(ctx, src, models.KindVisit, pred.And(filter.Condition{Field: "endpoint", Op: filter.OpEq, Value: DemoEndpoint}))
}

// grouped runs a single-key aggregate and orders it descending by the first
// metric. Groups arrive in ascending key order, so the stable sort leaves
// ties in key order.
func grouped(ctx context.Context, r store.Reader, kind models.Kind, pred filter.Predicate, by []string, metrics ...store.Metric) ([]store.Group, error) {
	groups, err := r.Aggregate(ctx, kind, pred, store.AggregateQuery{GroupBy: by, Metrics: metrics})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Values[0] > groups[j].Values[0]
	})
	return groups, nil
}

func ranked(ctx context.Context, r store.Reader, kind models.Kind, pred filter.Predicate, by string, m store.Metric) ([]Ranked, error) {
	groups, err := grouped(ctx, r, kind, pred, []string{by}, m)
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, 0, len(groups))
	for _, g := range groups {
		out = append(out, Ranked{Key: g.Keys[0], Value: g.Values[0]})
	}
	return out, nil
}

var (
	sumRevenue = store.Metric{Func: store.Sum, Column: "revenue"}
	sumProfit  = store.Metric{Func: store.Sum, Column: "profit"}
	countRows  = store.Metric{Func: store.Count}
)

func ProfitBySalesperson(ctx context.Context, src Source, pred filter.Predicate) ([]Ranked, error) {
	return ranked(ctx, src, models.KindSale, pred, "salesperson", sumProfit)
}

func ProfitByProduct(ctx context.Context, src Source, pred filter.Predicate) ([]Ranked, error) {
	return ranked(ctx, src, models.KindSale, pred, "product", sumProfit)
}

func RevenueByCountry(ctx context.Context, src Source, pred filter.Predicate) ([]Ranked, error) {
	return ranked(ctx, src, models.KindSale, pred, "country", sumRevenue)
}

// RevenueByCountryProduct ranks every (country, product) pair by revenue.
func RevenueByCountryProduct(ctx context.Context, src Source, pred filter.Predicate) ([]CountryProduct, error) {
	groups, err := grouped(ctx, src, models.KindSale, pred, []string{"country", "product"}, sumRevenue)
	if err != nil {
		return nil, err
	}
	out := make([]CountryProduct, 0, len(groups))
	for _, g := range groups {
		out = append(out, CountryProduct{Country: g.Keys[0], Product: g.Keys[1], Revenue: g.Values[0]})
	}
	return out, nil
}

func LeadCountBySource(ctx context.Context, src Source, pred filter.Predicate) ([]Ranked, error) {
	return ranked(ctx, src, models.KindLead, pred, "lead_source", countRows)
}

func LeadCountByStatus(ctx context.Context, src Source, pred filter.Predicate) ([]Ranked, error) {
	return ranked(ctx, src, models.KindLead, pred, "lead_status", countRows)
}

func revenueProfit(ctx context.Context, r store.Reader, pred filter.Predicate, by string) ([]RevenueProfit, error) {
	groups, err := grouped(ctx, r, models.KindSale, pred, []string{by}, sumRevenue, sumProfit)
	if err != nil {
		return nil, err
	}
	out := make([]RevenueProfit, 0, len(groups))
	for _, g := range groups {
		out = append(out, RevenueProfit{Key: g.Keys[0], Revenue: g.Values[0], Profit: g.Values[1]})
	}
	return out, nil
}

func RevenueProfitBySalesperson(ctx context.Context, src Source, pred filter.Predicate) ([]RevenueProfit, error) {
	return revenueProfit(ctx, src, pred, "salesperson")
}

func RevenueProfitByProduct(ctx context.Context, src Source, pred filter.Predicate) ([]RevenueProfit, error) {
	return revenueProfit(ctx, src, pred, "product")
}

func top(rows []RevenueProfit) Top {
	if len(rows) == 0 {
		return Top{}
	}
	return Top{Key: rows[0].Key, Revenue: rows[0].Revenue, Profit: rows[0].Profit, Found: true}
}

// TopSalesperson returns the salesperson with the highest revenue. Note this
// ranks by revenue even though ProfitBySalesperson ranks by profit.
func TopSalesperson(ctx context.Context, src Source, pred filter.Predicate) (Top, error) {
	rows, err := RevenueProfitBySalesperson(ctx, src, pred)
	if err != nil {
		return Top{}, err
	}
	return top(rows), nil
}

// TopProduct returns the product with the highest revenue.
func TopProduct(ctx context.Context, src Source, pred filter.Predicate) (Top, error) {
	rows, err := RevenueProfitByProduct(ctx, src, pred)
	if err != nil {
		return Top{}, err
	}
	return top(rows), nil
}

var hundred = decimal.NewFromInt(100)

// percent returns 100*num/den rounded half to even at two decimals, capped
// at limit when limit > 0. It is 0 when den is 0.
func percent(num, den int64, limit float64) float64 {
	if den == 0 {
		return 0
	}
	rate := decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den))
	if limit > 0 {
		rate = decimal.Min(rate, decimal.NewFromFloat(limit))
	}
	f, _ := rate.RoundBank(2).Float64()
	return f
}

// SalesConversion is sales per lead as a percentage, capped at 100. Both
// counts are read from the same snapshot.
func SalesConversion(ctx context.Context, src Source, pred filter.Predicate) (Ratio, error) {
	var r Ratio
	err := src.Snapshot(ctx, func(tx store.Reader) error {
		var err error
		if r.Numerator, err = count(ctx, tx, models.KindSale, pred); err != nil {
			return err
		}
		r.Denominator, err = count(ctx, tx, models.KindLead, pred)
		return err
	})
	if err != nil {
		return Ratio{}, err
	}
	r.Rate = percent(r.Numerator, r.Denominator, 100)
	return r, nil
}

// LeadConversion is the share of leads whose status is Closed.
func LeadConversion(ctx context.Context, src Source, pred filter.Predicate) (Ratio, error) {
	groups, err := src.Aggregate(ctx, models.KindLead, pred, store.AggregateQuery{
		GroupBy: []string{"lead_status"},
		Metrics: []store.Metric{countRows},
	})
	if err != nil {
		return Ratio{}, err
	}

	var r Ratio
	for _, g := range groups {
		n := int64(g.Values[0])
		r.Denominator += n
		if g.Keys[0] == models.LeadClosed {
			r.Numerator += n
		}
	}
	r.Rate = percent(r.Numerator, r.Denominator, 0)
	return r, nil
}

// LeadCountByDay counts leads per UTC date, oldest first.
func LeadCountByDay(ctx context.Context, src Source, pred filter.Predicate) ([]DayCount, error) {
	groups, err := src.Aggregate(ctx, models.KindLead, pred, store.AggregateQuery{
		GroupBy: []string{store.DayBucket},
		Metrics: []store.Metric{countRows},
	})
	if err != nil {
		return nil, err
	}
	out := make([]DayCount, 0, len(groups))
	for _, g := range groups {
		out = append(out, DayCount{Date: g.Keys[0], Count: int64(g.Values[0])})
	}
	return out, nil
}

// LandingPages returns the limit most visited endpoints.
func LandingPages(ctx context.Context, src Source, pred filter.Predicate, limit int) ([]PageCount, error) {
	if limit < 1 {
		return nil, &filter.ValidationError{Field: "limit", Reason: "must be at least 1"}
	}
	groups, err := grouped(ctx, src, models.KindVisit, pred, []string{"endpoint"}, countRows)
	if err != nil {
		return nil, err
	}
	if len(groups) > limit {
		groups = groups[:limit]
	}
	out := make([]PageCount, 0, len(groups))
	for _, g := range groups {
		out = append(out, PageCount{Endpoint: g.Keys[0], Visits: int64(g.Values[0])})
	}
	return out, nil
}
