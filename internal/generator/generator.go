// Package generator produces randomized but schema-valid events.
package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// Catalogs every generated value is drawn from.
var (
	Products     = []string{"AI Assistant", "Rapid Prototyping", "Demo Session", "Event Participant Package", "Enterprise AI Package"}
	Salespeople  = []string{"Alice", "Bob", "Charlie", "Diana"}
	Countries    = []string{"USA", "Canada", "UK", "Germany", "France"}
	Endpoints    = []string{"/home", "/about", "/products", "/services", "/demo"}
	HTTPMethods  = []string{"GET", "POST"}
	StatusCodes  = []int{200, 404, 500}
	UserAgents   = []string{"Mozilla/5.0", "curl/7.64.1", "PostmanRuntime/7.28.4"}
	LeadSources  = []string{"Website", "Social Media", "Email Campaign", "Referral"}
	LeadStatuses = []string{models.LeadNew, models.LeadContacted, models.LeadClosed}
)

// Generator draws one event at a time. It holds no state besides its
// randomness source and clock, and is not safe for concurrent use because
// *rand.Rand is not.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

// New returns a generator using rnd and now. A nil now means time.Now.
func New(rnd *rand.Rand, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{rnd: rnd, now: now}
}

// NewSeeded returns a generator with its own source seeded from seed.
func NewSeeded(seed int64) *Generator {
	return New(rand.New(rand.NewSource(seed)), nil)
}

func pick[T any](r *rand.Rand, xs []T) T {
	return xs[r.Intn(len(xs))]
}

// between returns a uniform int in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}

func (g *Generator) timestamp() time.Time {
	return g.now().UTC().Truncate(time.Second)
}

// IP returns a random private address.
func (g *Generator) IP() string {
	return fmt.Sprintf("192.168.%d.%d", g.between(1, 255), g.between(1, 255))
}

// Visit returns a visit with no country; enrichment fills it later.
func (g *Generator) Visit() models.Visit {
	return models.Visit{
		Timestamp:      g.timestamp(),
		IP:             g.IP(),
		Endpoint:       pick(g.rnd, Endpoints),
		HTTPMethod:     pick(g.rnd, HTTPMethods),
		StatusCode:     pick(g.rnd, StatusCodes),
		ResponseTimeMS: g.between(100, 1000),
		UserAgent:      pick(g.rnd, UserAgents),
	}
}

// Sale returns a sale whose profit never exceeds its revenue.
func (g *Generator) Sale() models.Sale {
	revenue := g.between(100, 1000)
	return models.Sale{
		Timestamp:   g.timestamp(),
		Product:     pick(g.rnd, Products),
		Salesperson: pick(g.rnd, Salespeople),
		Revenue:     float64(revenue),
		Profit:      float64(g.between(10, min(500, revenue))),
		Country:     pick(g.rnd, Countries),
		Endpoint:    pick(g.rnd, Endpoints),
	}
}

func (g *Generator) Lead() models.Lead {
	return models.Lead{
		Timestamp:  g.timestamp(),
		LeadSource: pick(g.rnd, LeadSources),
		LeadStatus: pick(g.rnd, LeadStatuses),
	}
}

// Batch returns n events of kind.
func (g *Generator) Batch(kind models.Kind, n int) ([]models.Record, error) {
	out := make([]models.Record, 0, n)
	for i := 0; i < n; i++ {
		switch kind {
		case models.KindVisit:
			out = append(out, g.Visit())
		case models.KindSale:
			out = append(out, g.Sale())
		case models.KindLead:
			out = append(out, g.Lead())
		default:
			return nil, fmt.Errorf("generator: unknown kind %q", kind)
		}
	}
	return out, nil
}
