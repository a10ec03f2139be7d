// Package enrich backfills the country of visits recorded without one.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/geoip"
	"github.com/PratikDhanave/kpi-stream-service/internal/logging"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// DefaultBatch is the number of visits loaded per page.
const DefaultBatch = 1000

// Resolver maps an IP address to a country name.
type Resolver interface {
	Country(ip string) (string, error)
}

// Result counts what one pass did.
type Result struct {
	Updated int
	Skipped int
}

// Enricher looks up and stores the country of visits whose country is NULL.
type Enricher struct {
	store   store.EventStore
	geo     Resolver
	log     *zap.Logger
	metrics *metrics.Metrics
	batch   int
	hooks   []func(context.Context)

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates an enricher. m may be nil; batch <= 0 selects DefaultBatch.
func New(st store.EventStore, geo Resolver, log *zap.Logger, m *metrics.Metrics, batch int) *Enricher {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Enricher{store: st, geo: geo, log: log.Named("enrich"), metrics: m, batch: batch}
}

// OnUpdate registers a hook run after any pass that changed at least one row.
// Hooks must be registered before Start.
func (e *Enricher) OnUpdate(h func(context.Context)) {
	e.hooks = append(e.hooks, h)
}

// Run walks every visit with a NULL country, one page at a time. An address
// that does not parse is stored as geoip.UnknownCountry. Rows whose lookup or
// update fails for any other reason are logged and left NULL for the next
// pass. Only a failure to list pending visits is returned.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	var (
		res    Result
		cursor int64
		seen   int
	)

	for {
		visits, err := e.store.VisitsMissingCountry(ctx, cursor, e.batch)
		if err != nil {
			return res, fmt.Errorf("list visits missing country: %w", err)
		}
		seen += len(visits)

		for _, v := range visits {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			cursor = v.ID
			e.enrichOne(ctx, v, &res)
		}
		if len(visits) < e.batch {
			break
		}
	}

	if res.Updated > 0 {
		for _, h := range e.hooks {
			h(ctx)
		}
	}
	if seen > 0 {
		e.log.Info("enrichment pass finished",
			zap.Int("updated", res.Updated),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

func (e *Enricher) enrichOne(ctx context.Context, v models.Visit, res *Result) {
	country, err := e.geo.Country(v.IP)
	if errors.Is(err, geoip.ErrInvalidIP) {
		country, err = geoip.UnknownCountry, nil
	}
	if err == nil {
		err = e.store.SetVisitCountry(ctx, v.ID, country)
	}
	if err != nil {
		res.Skipped++
		if e.metrics != nil {
			e.metrics.EnrichFailures.Inc()
		}
		e.log.Warn("skipping visit",
			zap.Int64("visit_id", v.ID),
			zap.String("ip", v.IP),
			zap.Error(err),
		)
		return
	}

	res.Updated++
	if e.metrics != nil {
		e.metrics.EnrichedRows.Inc()
	}
}

// Start runs a pass on every tick of spec, a cron expression or descriptor
// such as "@every 1m".
func (e *Enricher) Start(ctx context.Context, spec string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cron != nil {
		return errors.New("enrich: already started")
	}

	cl := logging.CronLogger{L: e.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		if _, err := e.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("enrichment pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("enrich schedule %q: %w", spec, err)
	}

	c.Start()
	e.cron = c
	e.log.Info("enrichment scheduled", zap.String("schedule", spec))
	return nil
}

// Stop waits for a running pass to finish.
func (e *Enricher) Stop() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(30 * time.Second):
		e.log.Warn("enrichment pass did not finish before shutdown")
	}
}
