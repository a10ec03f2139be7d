// Package seed bootstraps the store with historical events.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/generator"
	"github.com/PratikDhanave/kpi-stream-service/internal/geoip"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// chunk bounds the size of a single InsertBatch call.
const chunk = 500

// Options controls one seeding run.
type Options struct {
	// Rows is the number of events written per kind.
	Rows int
	// Days spreads timestamps uniformly over the Days days before End.
	Days int
	End  time.Time
	// Reset drops and recreates every table first.
	Reset bool
	// Pairs, when not empty, supplies visit IPs together with their country.
	Pairs []geoip.Pair
}

// Summary reports what Run wrote.
type Summary struct {
	Inserted map[models.Kind]int
}

// Seeder writes historical rows.
type Seeder struct {
	store store.EventStore
	rnd   *rand.Rand
	log   *zap.Logger
	hooks []func(context.Context)
}

func New(st store.EventStore, rnd *rand.Rand, log *zap.Logger) *Seeder {
	return &Seeder{store: st, rnd: rnd, log: log.Named("seed")}
}

// OnWrite registers a hook run after Run has reset the store or inserted at
// least one row, including when it later fails.
func (s *Seeder) OnWrite(h func(context.Context)) {
	s.hooks = append(s.hooks, h)
}

// Run writes opts.Rows events of every kind.
func (s *Seeder) Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Rows < 0 {
		return Summary{}, errors.New("seed: rows must not be negative")
	}
	if opts.Days < 1 {
		return Summary{}, errors.New("seed: days must be at least 1")
	}
	if opts.End.IsZero() {
		opts.End = time.Now().UTC()
	}

	changed := false
	defer func() {
		if !changed {
			return
		}
		for _, h := range s.hooks {
			h(ctx)
		}
	}()

	if opts.Reset {
		if err := s.store.Reset(ctx); err != nil {
			return Summary{}, fmt.Errorf("reset store: %w", err)
		}
		changed = true
		s.log.Info("store reset")
	}

	span := int64(time.Duration(opts.Days) * 24 * time.Hour)
	gen := generator.New(s.rnd, func() time.Time {
		return opts.End.Add(-time.Duration(s.rnd.Int63n(span)))
	})

	sum := Summary{Inserted: make(map[models.Kind]int, len(models.Kinds))}
	for _, kind := range models.Kinds {
		for done := 0; done < opts.Rows; {
			n := min(chunk, opts.Rows-done)
			recs, err := s.batch(gen, kind, n, opts.Pairs)
			if err != nil {
				return sum, err
			}
			ids, err := s.store.InsertBatch(ctx, kind, recs)
			if err != nil {
				return sum, fmt.Errorf("seed %s: %w", kind, err)
			}
			sum.Inserted[kind] += len(ids)
			changed = changed || len(ids) > 0
			done += n
		}
	}

	s.log.Info("seeding finished",
		zap.Int("visits", sum.Inserted[models.KindVisit]),
		zap.Int("sales", sum.Inserted[models.KindSale]),
		zap.Int("leads", sum.Inserted[models.KindLead]),
		zap.Bool("geo_pairs", len(opts.Pairs) > 0),
	)
	return sum, nil
}

// batch draws n records. With pairs, visits and sales take their address and
// country from a random pair.
func (s *Seeder) batch(gen *generator.Generator, kind models.Kind, n int, pairs []geoip.Pair) ([]models.Record, error) {
	if len(pairs) == 0 || kind == models.KindLead {
		return gen.Batch(kind, n)
	}

	out := make([]models.Record, 0, n)
	for i := 0; i < n; i++ {
		p := pairs[s.rnd.Intn(len(pairs))]
		switch kind {
		case models.KindVisit:
			v := gen.Visit()
			v.IP, v.Country = p.IP, p.Country
			out = append(out, v)
		case models.KindSale:
			sale := gen.Sale()
			sale.Country = p.Country
			out = append(out, sale)
		}
	}
	return out, nil
}
