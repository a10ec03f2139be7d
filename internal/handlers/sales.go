package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
)

// RegisterSalesRoutes registers ad-hoc sale inspection.
//
// GET /filter-sales?start_date=...&end_date=...&salesperson=...&product=...&country=...
// - Returns matching sales, newest first
func RegisterSalesRoutes(r gin.IRoutes, svc Analytics, log *zap.Logger) {
	r.GET("/filter-sales", func(c *gin.Context) {
		params, err := filter.ParseQuery(c.Request.URL.Query())
		if err != nil {
			writeError(c, log, err)
			return
		}

		sales, err := svc.FilteredSales(c.Request.Context(), params)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": sales, "count": len(sales)})
	})
}
