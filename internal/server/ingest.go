package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *Server) Ingest(c *gin.Context) {
	var req ingestdomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))

	if siteID := strings.TrimSpace(req.SiteID); siteID != "" {
		c.Set("site_id", siteID)
	}

	if err := s.checkIngestLimits(c, req.SiteID); err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.ingestSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, outcome.StatusCode, json.RawMessage(outcome.Response), Meta{
		IdempotencyKey: req.IdempotencyKey,
		Duplicate:      outcome.Duplicate,
	})
}

// checkIngestLimits fails open on limiter errors so Redis trouble never
// blocks ingestion.
func (s *Server) checkIngestLimits(c *gin.Context, siteID string) error {
	if !s.limiter.Enabled() {
		return nil
	}

	ctx := c.Request.Context()
	allowed, err := s.limiter.AllowEndpoint(ctx)
	if err == nil && !allowed {
		return ErrRateLimited
	}
	allowed, err = s.limiter.AllowSite(ctx, siteID)
	if err == nil && !allowed {
		return ErrRateLimited
	}
	return nil
}
