package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pmacctstats/internal/config"
	obsmetrics "github.com/smallbiznis/pmacctstats/internal/observability/metrics"
	"github.com/smallbiznis/pmacctstats/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Module serves the operational endpoints next to the scheduler daemon.
var Module = fx.Module("server.ops",
	fx.Provide(
		provideStatusReporter,
		NewEngine,
	),
	fx.Invoke(run),
)

// StatusReporter exposes the outcome of the last import run.
type StatusReporter interface {
	LastRun() (scheduler.RunStatus, bool)
}

func provideStatusReporter(s *scheduler.Scheduler) StatusReporter {
	return s
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry *prometheus.Registry
	Status   StatusReporter
}

// NewEngine builds the ops router: liveness, readiness and the metrics
// registry shared with the scheduler.
func NewEngine(p Params) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(p.Log.Named("http")))
	r.Use(tracingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readiness(p.Status))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{
		Registry: p.Registry,
	})))

	return r
}

// readiness reports not ready only while the last finished run failed.
// A daemon that has not finished a run yet is ready.
func readiness(status StatusReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		last, ok := status.LastRun()
		if !ok {
			c.JSON(http.StatusOK, gin.H{"status": "starting"})
			return
		}
		code := http.StatusOK
		state := "ok"
		if last.Outcome == obsmetrics.RunOutcomeFailed {
			code = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(code, gin.H{"status": state, "last_run": last})
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server.ops.listen_failed", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
				}
			}()
			log.Info("server.ops.started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
