// Package analytics is the read-only facade over the KPI engine.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/cache"
	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/kpi"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// ErrUnknownKPI is returned by Run for names outside the catalog.
var ErrUnknownKPI = errors.New("unknown kpi")

// Service answers KPI queries. It never writes and is safe for concurrent use.
type Service struct {
	store   store.EventStore
	log     *zap.Logger
	metrics *metrics.Metrics
	cache   *cache.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records query counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCache serves repeated queries from c until the next invalidation.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func New(st store.EventStore, log *zap.Logger, opts ...Option) *Service {
	s := &Service{store: st, log: log.Named("analytics")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// evaluate validates p against the kinds name reads, then serves the result
// from the cache or computes it with eval.
func evaluate[T any](ctx context.Context, s *Service, name string, p filter.Params, variant string, eval func(context.Context, kpi.Source, filter.Predicate) (T, error)) (T, error) {
	var zero T
	def, ok := kpi.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownKPI, name)
	}

	start := time.Now()
	v, err := cached(ctx, s, def, p, variant, eval)
	if s.metrics != nil {
		s.metrics.ObserveKPI(name, start, err)
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}

func cached[T any](ctx context.Context, s *Service, def kpi.Definition, p filter.Params, variant string, eval func(context.Context, kpi.Source, filter.Predicate) (T, error)) (T, error) {
	pred, err := filter.Build(p, def.Kinds...)
	if err != nil {
		var zero T
		return zero, err
	}
	if s.cache == nil {
		return eval(ctx, s.store, pred)
	}

	key := p.Key() + variant
	var v T
	gen, hit, err := s.cache.Get(ctx, def.Name, key, &v)
	switch {
	case err != nil:
		s.log.Warn("cache lookup failed", zap.String("kpi", def.Name), zap.Error(err))
	case hit:
		s.cacheResult("hit")
		return v, nil
	default:
		s.cacheResult("miss")
	}

	v, err = eval(ctx, s.store, pred)
	if err != nil {
		return v, err
	}
	if setErr := s.cache.Set(ctx, gen, def.Name, key, v); setErr != nil {
		s.log.Warn("cache store failed", zap.String("kpi", def.Name), zap.Error(setErr))
	}
	return v, nil
}

func (s *Service) cacheResult(result string) {
	if s.metrics != nil {
		s.metrics.CacheHits.WithLabelValues(result).Inc()
	}
}

func (s *Service) TotalRevenue(ctx context.Context, p filter.Params) (float64, error) {
	return evaluate(ctx, s, kpi.TotalRevenue, p, "", kpi.SumRevenue)
}

func (s *Service) TotalSalesProfit(ctx context.Context, p filter.Params) (float64, error) {
	return evaluate(ctx, s, kpi.TotalSalesProfit, p, "", kpi.SumProfit)
}

func (s *Service) TotalWebsiteVisits(ctx context.Context, p filter.Params) (int64, error) {
	return evaluate(ctx, s, kpi.TotalWebsiteVisits, p, "", kpi.CountVisits)
}

func (s *Service) UniqueVisitors(ctx context.Context, p filter.Params) (int64, error) {
	return evaluate(ctx, s, kpi.UniqueVisitors, p, "", kpi.CountUniqueVisitors)
}

func (s *Service) LeadsGenerated(ctx context.Context, p filter.Params) (int64, error) {
	return evaluate(ctx, s, kpi.LeadsGenerated, p, "", kpi.CountLeads)
}

func (s *Service) DemoRequests(ctx context.Context, p filter.Params) (int64, error) {
	return evaluate(ctx, s, kpi.DemoRequests, p, "", kpi.CountDemoRequests)
}

func (s *Service) ProfitPerSalesperson(ctx context.Context, p filter.Params) ([]kpi.Ranked, error) {
	return evaluate(ctx, s, kpi.ProfitPerSalesperson, p, "", kpi.ProfitBySalesperson)
}

func (s *Service) ProfitPerProduct(ctx context.Context, p filter.Params) ([]kpi.Ranked, error) {
	return evaluate(ctx, s, kpi.ProfitPerProduct, p, "", kpi.ProfitByProduct)
}

func (s *Service) SalesPerCountry(ctx context.Context, p filter.Params) ([]kpi.Ranked, error) {
	return evaluate(ctx, s, kpi.SalesPerCountry, p, "", kpi.RevenueByCountry)
}

func (s *Service) ProductSalesPerCountry(ctx context.Context, p filter.Params) ([]kpi.CountryProduct, error) {
	return evaluate(ctx, s, kpi.ProductSalesPerCountry, p, "", kpi.RevenueByCountryProduct)
}

func (s *Service) LeadsBySource(ctx context.Context, p filter.Params) ([]kpi.Ranked, error) {
	return evaluate(ctx, s, kpi.LeadsBySource, p, "", kpi.LeadCountBySource)
}

func (s *Service) LeadsByStatus(ctx context.Context, p filter.Params) ([]kpi.Ranked, error) {
	return evaluate(ctx, s, kpi.LeadsByStatus, p, "", kpi.LeadCountByStatus)
}

func (s *Service) RevenueProfitPerSalesperson(ctx context.Context, p filter.Params) ([]kpi.RevenueProfit, error) {
	return evaluate(ctx, s, kpi.RevenueProfitPerSalesperson, p, "", kpi.RevenueProfitBySalesperson)
}

func (s *Service) RevenueProfitPerProduct(ctx context.Context, p filter.Params) ([]kpi.RevenueProfit, error) {
	return evaluate(ctx, s, kpi.RevenueProfitPerProduct, p, "", kpi.RevenueProfitByProduct)
}

// BestSalesperson ranks by revenue. Found is false when there are no sales.
func (s *Service) BestSalesperson(ctx context.Context, p filter.Params) (kpi.Top, error) {
	return evaluate(ctx, s, kpi.BestSalesperson, p, "", kpi.TopSalesperson)
}

func (s *Service) MostSoldProduct(ctx context.Context, p filter.Params) (kpi.Top, error) {
	return evaluate(ctx, s, kpi.MostSoldProduct, p, "", kpi.TopProduct)
}

// ConversionRate only accepts date filters: no equality field exists on both
// sales and leads.
func (s *Service) ConversionRate(ctx context.Context, p filter.Params) (kpi.Ratio, error) {
	return evaluate(ctx, s, kpi.ConversionRate, p, "", kpi.SalesConversion)
}

func (s *Service) LeadConversionRate(ctx context.Context, p filter.Params) (kpi.Ratio, error) {
	return evaluate(ctx, s, kpi.LeadConversionRate, p, "", kpi.LeadConversion)
}

func (s *Service) LeadsByDay(ctx context.Context, p filter.Params) ([]kpi.DayCount, error) {
	return evaluate(ctx, s, kpi.LeadsByDay, p, "", kpi.LeadCountByDay)
}

// TopLandingPages returns the limit most visited endpoints; 0 means
// kpi.DefaultTopN.
func (s *Service) TopLandingPages(ctx context.Context, p filter.Params, limit int) ([]kpi.PageCount, error) {
	if limit == 0 {
		limit = kpi.DefaultTopN
	}
	variant := fmt.Sprintf("limit=%d", limit)
	return evaluate(ctx, s, kpi.TopLandingPages, p, variant, func(ctx context.Context, src kpi.Source, pred filter.Predicate) ([]kpi.PageCount, error) {
		return kpi.LandingPages(ctx, src, pred, limit)
	})
}

// FilteredSales returns matching sales, newest first.
func (s *Service) FilteredSales(ctx context.Context, p filter.Params) ([]models.Sale, error) {
	start := time.Now()
	out, err := s.filteredSales(ctx, p)
	if s.metrics != nil {
		s.metrics.ObserveKPI("filter-sales", start, err)
	}
	return out, err
}

func (s *Service) filteredSales(ctx context.Context, p filter.Params) ([]models.Sale, error) {
	pred, err := filter.Build(p, models.KindSale)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.Scan(ctx, models.KindSale, pred, store.ScanOptions{OrderBy: filter.TimestampField, Desc: true})
	if err != nil {
		return nil, err
	}
	out := make([]models.Sale, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(models.Sale))
	}
	return out, nil
}

type runner func(s *Service, ctx context.Context, p filter.Params, limit int) (any, error)

var runners = map[string]runner{
	kpi.TotalRevenue: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.TotalRevenue(ctx, p)
	},
	kpi.TotalSalesProfit: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.TotalSalesProfit(ctx, p)
	},
	kpi.TotalWebsiteVisits: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.TotalWebsiteVisits(ctx, p)
	},
	kpi.UniqueVisitors: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.UniqueVisitors(ctx, p)
	},
	kpi.LeadsGenerated: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.LeadsGenerated(ctx, p)
	},
	kpi.DemoRequests: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.DemoRequests(ctx, p)
	},
	kpi.ProfitPerSalesperson: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.ProfitPerSalesperson(ctx, p)
	},
	kpi.ProfitPerProduct: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.ProfitPerProduct(ctx, p)
	},
	kpi.SalesPerCountry: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.SalesPerCountry(ctx, p)
	},
	kpi.ProductSalesPerCountry: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.ProductSalesPerCountry(ctx, p)
	},
	kpi.LeadsBySource: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.LeadsBySource(ctx, p)
	},
	kpi.LeadsByStatus: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.LeadsByStatus(ctx, p)
	},
	kpi.RevenueProfitPerSalesperson: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.RevenueProfitPerSalesperson(ctx, p)
	},
	kpi.RevenueProfitPerProduct: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.RevenueProfitPerProduct(ctx, p)
	},
	kpi.BestSalesperson: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.BestSalesperson(ctx, p)
	},
	kpi.MostSoldProduct: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.MostSoldProduct(ctx, p)
	},
	kpi.ConversionRate: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.ConversionRate(ctx, p)
	},
	kpi.LeadConversionRate: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.LeadConversionRate(ctx, p)
	},
	kpi.LeadsByDay: func(s *Service, ctx context.Context, p filter.Params, _ int) (any, error) {
		return s.LeadsByDay(ctx, p)
	},
	kpi.TopLandingPages: func(s *Service, ctx context.Context, p filter.Params, limit int) (any, error) {
		return s.TopLandingPages(ctx, p, limit)
	},
}

// Run evaluates the KPI called name. limit is only used by KPIs whose
// definition is Limited.
func (s *Service) Run(ctx context.Context, name string, p filter.Params, limit int) (any, error) {
	r, ok := runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKPI, name)
	}
	return r(s, ctx, p, limit)
}

// Catalog lists every KPI Run accepts.
func (s *Service) Catalog() []kpi.Definition {
	return kpi.Catalog()
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
