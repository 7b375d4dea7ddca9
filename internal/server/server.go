// Package server exposes the analytics over a gin JSON API and streams
// journal events to websocket clients.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/chart"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/service"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/gin-gonic/gin"
)

type DepthAPI interface {
	Symbol() string
	Run(ctx context.Context) (*depth.Run, error)
	Latest(ctx context.Context, symbol string) (*depth.Run, error)
	History(ctx context.Context, symbol string, limit int) ([]depth.Run, error)
	Chart(ctx context.Context, symbol string) (chart.Figure, error)
}

type VolumeAPI interface {
	Current(ctx context.Context) (*volume.Snapshot, error)
	Refresh(ctx context.Context) (*volume.Snapshot, error)
}

type ReturnsAPI interface {
	Compute(ctx context.Context, symbol string, lookback time.Duration) (*service.Returns, error)
}

type Config struct {
	Addr          string
	DefaultSymbol string
	Debug         bool
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Depth   DepthAPI
	Volume  VolumeAPI
	Returns ReturnsAPI
	Broker  *journal.Broker
	Journal journal.Journaler
	Metrics *metrics.Metrics
	// Trigger queues a named background job and reports whether it was
	// accepted. When nil, POST /api/depth/run runs inline.
	Trigger func(job string) bool
}

type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	hub    *Hub
}

func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.DefaultSymbol == "" {
		cfg.DefaultSymbol = "BTCUSDT"
	}
	if deps.Broker == nil {
		deps.Broker = journal.NewBroker(0)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
		hub:    NewHub(deps.Broker),
	}
	s.engine.Use(gin.Recovery(), s.observe())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	s.engine.GET("/ws", s.hub.ServeWS)

	api := s.engine.Group("/api")
	{
		api.GET("/health", s.getHealth)
		api.GET("/returns", s.getReturns)
		api.GET("/returns/chart", s.getReturnsChart)
		api.GET("/depth", s.getDepth)
		api.GET("/depth/history", s.getDepthHistory)
		api.GET("/depth/chart", s.getDepthChart)
		api.POST("/depth/run", s.postDepthRun)
		api.GET("/volume", s.getVolume)
		api.POST("/volume/refresh", s.postVolumeRefresh)
		api.GET("/events", s.getEvents)
	}
}

// observe records request counts and latencies by matched route.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.Request(route, c.Request.Method, c.Writer.Status(), time.Since(start))
		if strings.HasPrefix(route, "/api") {
			utils.GetLogger().Debugf("Server | %s %s %d %s", c.Request.Method, route, c.Writer.Status(), time.Since(start))
		}
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		utils.GetLogger().Infof("Server | listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	utils.GetLogger().Info("Server | stopped")
	return nil
}
