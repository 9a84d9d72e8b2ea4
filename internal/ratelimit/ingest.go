package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/emitra/internal/config"
)

const (
	keyIngestSite     = "ingest:site:%s"
	keyIngestEndpoint = "ingest:endpoint"
)

// IngestLimiter throttles the ingest endpoint globally and per site. It is
// nil when rate limiting is disabled or Redis is not configured, and every
// check passes.
type IngestLimiter struct {
	bucket *TokenBucket

	siteRate      float64
	siteBurst     int
	endpointRate  float64
	endpointBurst int
}

func NewIngestLimiter(cfg config.Config, client *redis.Client) *IngestLimiter {
	if !cfg.RateLimitEnabled || client == nil {
		return nil
	}
	return &IngestLimiter{
		bucket:        NewTokenBucket(client),
		siteRate:      cfg.IngestSiteRate,
		siteBurst:     cfg.IngestSiteBurst,
		endpointRate:  cfg.IngestEndpointRate,
		endpointBurst: cfg.IngestEndpointBurst,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil
}

func (l *IngestLimiter) AllowEndpoint(ctx context.Context) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, keyIngestEndpoint, l.endpointRate, l.endpointBurst)
}

func (l *IngestLimiter) AllowSite(ctx context.Context, siteID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyIngestSite, strings.TrimSpace(siteID))
	return l.bucket.Allow(ctx, key, l.siteRate, l.siteBurst)
}
