package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/analytics"
	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/kpi"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// Analytics is the read side the KPI routes serve.
type Analytics interface {
	Run(ctx context.Context, name string, p filter.Params, limit int) (any, error)
	Catalog() []kpi.Definition
	FilteredSales(ctx context.Context, p filter.Params) ([]models.Sale, error)
}

// writeError maps facade errors to status codes. Storage details are logged,
// never returned.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var verr *filter.ValidationError
	var serr *store.StorageError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, analytics.ErrUnknownKPI):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown kpi"})
	case errors.As(err, &serr):
		log.Error("storage failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// parseLimit reads the optional limit parameter. 0 means not given.
func parseLimit(c *gin.Context) (int, error) {
	raw, ok := c.GetQuery("limit")
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &filter.ValidationError{Field: "limit", Reason: "must be a positive integer"}
	}
	return n, nil
}

// RegisterKPIRoutes registers the serving-path endpoints.
//
// GET /kpis
// - Lists the catalog
//
// GET /kpis/:name?date_from=...&date_to=...&<field>=...&limit=...
// - Every query parameter other than limit is a filter
// - limit is only accepted by KPIs that return a top-N list
func RegisterKPIRoutes(r gin.IRoutes, svc Analytics, log *zap.Logger) {
	r.GET("/kpis", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"kpis": svc.Catalog()})
	})

	r.GET("/kpis/:name", func(c *gin.Context) {
		name := c.Param("name")
		def, ok := kpi.Lookup(name)
		if !ok {
			writeError(c, log, analytics.ErrUnknownKPI)
			return
		}

		limit, err := parseLimit(c)
		if err != nil {
			writeError(c, log, err)
			return
		}
		if limit != 0 && !def.Limited {
			writeError(c, log, &filter.ValidationError{Field: "limit", Reason: "not accepted by " + name})
			return
		}

		params, err := filter.ParseQuery(c.Request.URL.Query(), "limit")
		if err != nil {
			writeError(c, log, err)
			return
		}

		result, err := svc.Run(c.Request.Context(), name, params, limit)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kpi": name, "result": result})
	})
}
