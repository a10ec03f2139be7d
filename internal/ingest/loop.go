// Package ingest runs the periodic producer that feeds synthetic events into
// the store.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/generator"
	"github.com/PratikDhanave/kpi-stream-service/internal/logging"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// Sizes is the number of events generated per kind in one cycle.
type Sizes struct {
	Visits int
	Sales  int
	Leads  int
}

// DefaultSizes matches the production cadence: 3 visits, 3 sales, 2 leads.
var DefaultSizes = Sizes{Visits: 3, Sales: 3, Leads: 2}

func (s Sizes) of(kind models.Kind) int {
	switch kind {
	case models.KindVisit:
		return s.Visits
	case models.KindSale:
		return s.Sales
	case models.KindLead:
		return s.Leads
	}
	return 0
}

// CommitHook is called after a batch has been committed.
type CommitHook func(ctx context.Context, kind models.Kind, ids []int64)

// Cycle summarizes one run of the loop.
type Cycle struct {
	ID       string
	Inserted map[models.Kind]int
	Failed   []models.Kind
}

// Loop generates and inserts one batch per kind every interval.
type Loop struct {
	store    store.EventStore
	gen      *generator.Generator
	sizes    Sizes
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	// genMu guards gen, which is not safe for concurrent use.
	genMu sync.Mutex
	hooks []CommitHook

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a loop. m may be nil.
func New(st store.EventStore, gen *generator.Generator, sizes Sizes, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		store:    st,
		gen:      gen,
		sizes:    sizes,
		interval: interval,
		log:      log.Named("ingest"),
		metrics:  m,
	}
}

// OnCommit registers a hook. Hooks must be registered before Start.
func (l *Loop) OnCommit(h CommitHook) {
	l.hooks = append(l.hooks, h)
}

// RunCycle generates and inserts one batch per kind. A failing kind is logged
// and skipped; the remaining kinds still run. It returns early only when ctx
// is cancelled.
func (l *Loop) RunCycle(ctx context.Context) Cycle {
	start := time.Now()
	c := Cycle{ID: uuid.NewString(), Inserted: make(map[models.Kind]int, len(models.Kinds))}
	log := l.log.With(zap.String("cycle_id", c.ID))

	for _, kind := range models.Kinds {
		if ctx.Err() != nil {
			log.Info("cycle cancelled", zap.String("next_kind", string(kind)))
			break
		}
		n := l.sizes.of(kind)
		if n <= 0 {
			continue
		}

		ids, err := l.insert(ctx, kind, n)
		if err != nil {
			c.Failed = append(c.Failed, kind)
			if l.metrics != nil {
				l.metrics.BatchFailures.WithLabelValues(string(kind)).Inc()
			}
			if errors.Is(err, context.Canceled) {
				log.Info("batch aborted", zap.String("kind", string(kind)))
				continue
			}
			log.Error("batch insert failed", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}

		c.Inserted[kind] = len(ids)
		if l.metrics != nil {
			l.metrics.BatchesInserted.WithLabelValues(string(kind)).Inc()
			l.metrics.RowsInserted.WithLabelValues(string(kind)).Add(float64(len(ids)))
		}
		for _, h := range l.hooks {
			h(ctx, kind, ids)
		}
	}

	if l.metrics != nil {
		l.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	log.Debug("cycle finished",
		zap.Any("inserted", c.Inserted),
		zap.Int("failed", len(c.Failed)),
		zap.Duration("took", time.Since(start)),
	)
	return c
}

func (l *Loop) insert(ctx context.Context, kind models.Kind, n int) ([]int64, error) {
	l.genMu.Lock()
	recs, err := l.gen.Batch(kind, n)
	l.genMu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.store.InsertBatch(ctx, kind, recs)
}

// Start schedules the loop. The first cycle runs one interval after Start.
// Cycles never overlap: a tick that arrives while a cycle is still running is
// skipped.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return errors.New("ingest: loop already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := logging.CronLogger{L: l.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(l.interval), cron.FuncJob(func() {
		l.RunCycle(runCtx)
	}))
	c.Start()

	l.cron = c
	l.cancel = cancel
	l.log.Info("ingestion loop started",
		zap.Duration("interval", l.interval),
		zap.Int("visits", l.sizes.Visits),
		zap.Int("sales", l.sizes.Sales),
		zap.Int("leads", l.sizes.Leads),
	)
	return nil
}

// Stop cancels the in-flight cycle and waits for it to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	c, cancel := l.cron, l.cancel
	l.cron, l.cancel = nil, nil
	l.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	l.log.Info("ingestion loop stopped")
}
