package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/auth"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

const (
	// MaxBatch is the largest batch accepted by POST /events/:kind.
	MaxBatch = 1000
	// MaxBodyBytes caps the request body read for one batch.
	MaxBodyBytes = 4 << 20
)

// BatchWriter is the write side used by the ingestion endpoint.
type BatchWriter interface {
	InsertBatch(ctx context.Context, kind models.Kind, records []models.Record) ([]int64, error)
}

// EventIngestResponse is returned after a committed batch.
type EventIngestResponse struct {
	Kind models.Kind `json:"kind"`
	IDs  []int64     `json:"ids"`
}

// bindBatch decodes the JSON array in the request body into records of kind.
// Ids are cleared and missing timestamps default to now.
func bindBatch(c *gin.Context, kind models.Kind, now time.Time) ([]models.Record, error) {
	var out []models.Record
	switch kind {
	case models.KindVisit:
		var vs []models.Visit
		if err := c.ShouldBindJSON(&vs); err != nil {
			return nil, err
		}
		for _, v := range vs {
			v.ID = 0
			if v.Timestamp.IsZero() {
				v.Timestamp = now
			}
			out = append(out, v)
		}
	case models.KindSale:
		var ss []models.Sale
		if err := c.ShouldBindJSON(&ss); err != nil {
			return nil, err
		}
		for _, s := range ss {
			s.ID = 0
			if s.Timestamp.IsZero() {
				s.Timestamp = now
			}
			out = append(out, s)
		}
	case models.KindLead:
		var ls []models.Lead
		if err := c.ShouldBindJSON(&ls); err != nil {
			return nil, err
		}
		for _, l := range ls {
			l.ID = 0
			if l.Timestamp.IsZero() {
				l.Timestamp = now
			}
			out = append(out, l)
		}
	}
	return out, nil
}

// RegisterEventRoutes registers the manual ingestion endpoint.
//
// POST /events/:kind
// - Body is a JSON array of visits, sales or leads
// - Atomic: either every record is committed or none is
// - Ids are always assigned by the store; client supplied ids are ignored
func RegisterEventRoutes(r gin.IRoutes, st BatchWriter, log *zap.Logger, onCommit func(context.Context)) {
	r.POST("/events/:kind", func(c *gin.Context) {
		kind := models.Kind(c.Param("kind"))
		if !kind.Valid() {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown event kind"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
		recs, err := bindBatch(c, kind, time.Now().UTC())
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large", "max_bytes": MaxBodyBytes})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if len(recs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
			return
		}
		if len(recs) > MaxBatch {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch too large", "max": MaxBatch})
			return
		}

		ids, err := st.InsertBatch(c.Request.Context(), kind, recs)
		if err != nil {
			var serr *store.StorageError
			if errors.As(err, &serr) {
				log.Error("event batch insert failed",
					zap.String("kind", string(kind)),
					zap.String("client", auth.ClientID(c)),
					zap.Error(err),
				)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if onCommit != nil {
			onCommit(c.Request.Context())
		}
		c.JSON(http.StatusCreated, EventIngestResponse{Kind: kind, IDs: ids})
	})
}
