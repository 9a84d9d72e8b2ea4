// Package server exposes the HTTP surface: batch ingestion, site management,
// and the live event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/emitra/internal/config"
	"github.com/smallbiznis/emitra/internal/events"
	"github.com/smallbiznis/emitra/internal/ingest"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
	"github.com/smallbiznis/emitra/internal/observability"
	obsmiddleware "github.com/smallbiznis/emitra/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/emitra/internal/observability/metrics"
	"github.com/smallbiznis/emitra/internal/ratelimit"
	"github.com/smallbiznis/emitra/internal/site"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	events.Module,
	site.Module,
	ingest.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	db        *gorm.DB
	siteSvc   sitedomain.Service
	ingestSvc ingestdomain.Service
	outbox    *events.Outbox
	notifier  *events.Notifier
	limiter   *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	DB        *gorm.DB
	SiteSvc   sitedomain.Service
	IngestSvc ingestdomain.Service
	Outbox    *events.Outbox
	Notifier  *events.Notifier         `optional:"true"`
	Limiter   *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		db:        p.DB,
		siteSvc:   p.SiteSvc,
		ingestSvc: p.IngestSvc,
		outbox:    p.Outbox,
		notifier:  p.Notifier,
		limiter:   p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/ingest", s.Ingest)

	v1.POST("/sites", s.CreateSite)
	v1.GET("/sites", s.ListSites)
	v1.GET("/sites/:id", s.GetSite)
	v1.GET("/sites/:id/measurements", s.ListSiteMeasurements)
	v1.GET("/sites/:id/metrics", s.SiteMetrics)

	v1.GET("/outbox/stats", s.OutboxStats)
	v1.GET("/events/stream", s.StreamIngestionEvents)
}
