package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"crypto-market/internal/engine"
	"crypto-market/internal/events"
	"crypto-market/internal/monitor"
	"crypto-market/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultRateLimitRPS   = 20
	defaultRateLimitBurst = 50
	defaultRequestTimeout = 30 * time.Second
)

// EventLog reads the event journal.
type EventLog interface {
	Recent(ctx context.Context, event string, limit int) ([]db.EventLogEntry, error)
}

// Server wires HTTP endpoints around the trading engine and the event bus.
type Server struct {
	Router   *gin.Engine
	Engine   engine.Service
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics
	Currency string
	Journal  EventLog
	Log      logrus.FieldLogger

	limiters   *ipLimiters
	mu         sync.Mutex
	httpServer *http.Server
}

// Config holds what NewServer needs. Zero values fall back to defaults.
type Config struct {
	Engine   engine.Service
	Bus      *events.Bus            // optional, disables /ws when nil
	Metrics  *monitor.SystemMetrics // optional
	Logger   logrus.FieldLogger     // optional
	Currency string                 // ISO code for balance display (default USD)
	Journal  EventLog               // optional, disables /api/events when nil

	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaultRateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	r := gin.New()

	limiters := newIPLimiters(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                            // Panic recovery (first)
	r.Use(RequestIDMiddleware())                     // Request ID tracking
	r.Use(RequestLogger(cfg.Logger, cfg.Metrics))    // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(cfg.Logger, limiters)) // Per-IP token buckets
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))     // Context deadline for handlers
	r.Use(CORSMiddleware())                          // CORS (last before routes)

	s := &Server{
		Router:   r,
		Engine:   cfg.Engine,
		Bus:      cfg.Bus,
		Metrics:  cfg.Metrics,
		Currency: cfg.Currency,
		Journal:  cfg.Journal,
		Log:      cfg.Logger,
		limiters: limiters,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	users := s.Router.Group("/users")
	{
		users.GET("", s.listUsers)
		users.POST("", s.registerUser)
		users.GET("/:login/operations", s.listOperations)
		users.POST("/:login/operations", s.executeOperation)
		users.GET("/:login/balance", s.getBalance)
		users.GET("/:login/portfolio", s.getPortfolio)
	}

	crypto := s.Router.Group("/crypto")
	{
		crypto.GET("", s.listInstruments)
		crypto.POST("", s.addInstrument)
		crypto.PUT("/:name", s.updateInstrumentCosts)
	}

	api := s.Router.Group("/api")
	{
		api.GET("/metrics", s.getMetrics)
		api.GET("/metrics/prom", s.getPromMetrics)
		api.GET("/events", s.listEvents)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves HTTP on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
