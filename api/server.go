// Package api serves the ops/health surface for the control loops.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rabbitreels/autoscaler/api/middleware"
	"github.com/rabbitreels/autoscaler/api/websocket"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/metrics"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/database"
)

type Config struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

// Deps are the data sources the server exposes. Nil fields disable their
// routes, so the monitor and controller each serve only what they own.
type Deps struct {
	Snapshots *registry.SnapshotStore
	Workers   *registry.WorkerRegistry
	Events    *database.ScalingEventStore
	Bus       *events.Bus
	DB        *database.DB
	// Ready reports loop-specific readiness, e.g. the monitor's degraded
	// flag.
	Ready func() (bool, gin.H)
}

type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
	hub    *websocket.Hub
	bridge *websocket.Bridge
}

func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.TraceID(),
		middleware.RequestLogger(),
		middleware.CORS(middleware.DefaultCORSConfig()),
	)
	if cfg.RateLimit > 0 {
		engine.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
	}

	s := &Server{cfg: cfg, deps: deps, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	s.engine.GET("/health/ready", s.ready)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	limiter := middleware.NewEndpointRateLimiter()
	limiter.AddEndpoint("/api/v1/snapshots/history", 30, time.Minute)
	limiter.AddEndpoint("/api/v1/events/recent", 30, time.Minute)

	v1 := s.engine.Group("/api/v1")
	v1.Use(limiter.Middleware())

	if s.deps.Snapshots != nil {
		v1.GET("/snapshots/latest", s.latestSnapshot)
		v1.GET("/snapshots/history", s.snapshotHistory)
	}
	if s.deps.Workers != nil {
		v1.GET("/workers", s.listWorkers)
	}
	if s.deps.Events != nil {
		v1.GET("/events/recent", s.recentEvents)
		v1.GET("/events/stats", s.eventStats)
	}
	if s.deps.Bus != nil {
		s.hub = websocket.NewHub()
		s.bridge = websocket.NewBridge(s.deps.Bus, s.hub)
		s.engine.GET("/ws", websocket.ServeWS(s.hub))
	}
}

// Start runs the listener and, when an event bus is wired, the websocket
// hub and bridge. Returns once the listener is up; serving errors surface
// through the returned channel.
func (s *Server) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)

	if s.hub != nil {
		go s.hub.Run(ctx)
		go s.bridge.Run(ctx)
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
