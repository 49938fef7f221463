package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tonicworks/accord/internal/catalog"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"github.com/tonicworks/accord/internal/config"
	"github.com/tonicworks/accord/internal/embedding"
	"github.com/tonicworks/accord/internal/matching"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	obsmetrics "github.com/tonicworks/accord/internal/observability/metrics"
	"github.com/tonicworks/accord/internal/ratelimit"
	"github.com/tonicworks/accord/internal/royalty"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	"github.com/tonicworks/accord/internal/usage"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"github.com/tonicworks/accord/internal/usage/normalizer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	catalog.Module,
	embedding.Module,
	usage.Module,
	matching.Module,
	royalty.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	catalogSvc  catalogdomain.Index
	usageSvc    usagedomain.Service
	matchingSvc matchingdomain.Service
	royaltySvc  royaltydomain.Service
	normalizers *normalizer.Registry

	limiter    *ratelimit.IngestLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	CatalogSvc  catalogdomain.Index
	UsageSvc    usagedomain.Service
	MatchingSvc matchingdomain.Service
	RoyaltySvc  royaltydomain.Service
	Normalizers *normalizer.Registry
	Limiter     *ratelimit.IngestLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		genID:  p.GenID,

		catalogSvc:  p.CatalogSvc,
		usageSvc:    p.UsageSvc,
		matchingSvc: p.MatchingSvc,
		royaltySvc:  p.RoyaltySvc,
		normalizers: p.Normalizers,

		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/usage-events", s.IngestUsage)
	v1.GET("/usage-events", s.ListUsageEvents)
	v1.GET("/usage-events/:id", s.GetUsageEvent)
	v1.POST("/usage-events/:id/rematch", s.RematchUsageEvent)
	v1.GET("/usage-events/:id/matches", s.GetEventMatches)
	v1.GET("/works/:id", s.GetWork)

	v1.POST("/matching/process", s.ProcessPendingMatches)
	v1.POST("/matches/manual", s.ManualMatch)
	v1.GET("/review-queue", s.ListReviewQueue)

	v1.POST("/periods", s.CreatePeriod)
	v1.GET("/periods/:code", s.GetPeriod)
	v1.POST("/periods/:code/calculate", s.CalculatePeriod)
	v1.POST("/periods/:code/approve", s.ApprovePeriod)
	v1.POST("/periods/:code/pay", s.MarkPeriodPaid)
	v1.GET("/periods/:code/statements", s.ListStatements)
	v1.GET("/statements/:id", s.GetStatement)
	v1.GET("/runs/:run_id", s.GetRun)
	v1.GET("/runs/:run_id/errors", s.ListRunErrors)
}
