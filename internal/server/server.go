package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	admissiondomain "github.com/clipbrief/clipbrief/internal/admission/domain"
	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/clipbrief/clipbrief/internal/creation"
	"github.com/clipbrief/clipbrief/internal/observability"
	obsmiddleware "github.com/clipbrief/clipbrief/internal/observability/logger"
	obsmetrics "github.com/clipbrief/clipbrief/internal/observability/metrics"
	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	"github.com/clipbrief/clipbrief/internal/summarizer"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	orchestrator *creation.Orchestrator
	admissionSvc admissiondomain.Service
	summaries    summarydomain.Store
	ledger       usagedomain.Ledger
	users        userdomain.Repository
	summarizer   *summarizer.Client
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Orchestrator *creation.Orchestrator
	AdmissionSvc admissiondomain.Service
	Summaries    summarydomain.Store
	Ledger       usagedomain.Ledger
	Users        userdomain.Repository
	Summarizer   *summarizer.Client
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		orchestrator: p.Orchestrator,
		admissionSvc: p.AdmissionSvc,
		summaries:    p.Summaries,
		ledger:       p.Ledger,
		users:        p.Users,
		summarizer:   p.Summarizer,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.ResolveIdentity())

	api.POST("/summaries", s.CreateSummary)
	api.GET("/usage", s.GetUsage)

	authed := api.Group("")
	authed.Use(s.RequireUser())
	authed.GET("/summaries", s.ListSummaries)
	authed.GET("/summaries/:id", s.GetSummary)
	authed.DELETE("/summaries/:id", s.DeleteSummary)
}
