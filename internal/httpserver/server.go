package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/auth"
	"github.com/PratikDhanave/kpi-stream-service/internal/config"
	"github.com/PratikDhanave/kpi-stream-service/internal/handlers"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves.
type Deps struct {
	Analytics handlers.Analytics
	Store     interface {
		Pinger
		handlers.BatchWriter
	}
	Metrics http.Handler
	Log     *zap.Logger
	// OnCommit runs after a batch posted to /events is committed.
	OnCommit func(context.Context)
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: /kpis, /kpis/:name, /filter-sales, /events/:kind
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Log))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Auth group enforces X-API-Key when keys are configured.
	authGroup := r.Group("/")
	authGroup.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, d.Log))
	authGroup.Use(auth.APIKeyMiddleware(auth.ParseKeys(cfg.APIKeys)))

	handlers.RegisterKPIRoutes(authGroup, d.Analytics, d.Log)
	handlers.RegisterSalesRoutes(authGroup, d.Analytics, d.Log)
	handlers.RegisterEventRoutes(authGroup, d.Store, d.Log, d.OnCommit)

	return r
}
