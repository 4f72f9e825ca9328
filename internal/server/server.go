package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/metrics"
	"github.com/teleprompt2api/api-proxy/internal/routing"
	"github.com/teleprompt2api/api-proxy/internal/upstream"
	"go.uber.org/zap"
)

// Optimizer is the upstream call made once per chat completion.
type Optimizer interface {
	Optimize(ctx context.Context, prompt, endpoint string) (string, error)
}

// Server represents the API server
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	router    *gin.Engine
	models    *routing.Router
	upstream  Optimizer
	metrics   *metrics.Collector
	now       func() time.Time
	newChatID func() string
}

// Option customizes a Server.
type Option func(*Server)

// WithOptimizer replaces the upstream client.
func WithOptimizer(o Optimizer) Option {
	return func(s *Server) {
		s.upstream = o
	}
}

// WithClock overrides the time source for created timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithIDGenerator overrides how completion IDs are minted.
func WithIDGenerator(next func() string) Option {
	return func(s *Server) {
		s.newChatID = next
	}
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	modelRouter, err := routing.New(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to build model router: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    gin.New(),
		models:    modelRouter,
		metrics:   metrics.NewCollector(cfg.Metrics),
		now:       time.Now,
		newChatID: func() string { return "chatcmpl-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.upstream == nil {
		s.upstream = upstream.NewClient(cfg.Upstream, logger)
	}

	// dispatch is by exact path
	s.router.RedirectTrailingSlash = false

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics returns the server's collector.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.corsMiddleware())
}

func (s *Server) setupRoutes() {
	// gzip only for static responses; SSE frames must reach the client as written
	compress := gzip.Gzip(gzip.DefaultCompression)

	s.setupCockpit(compress)

	s.router.GET("/health", s.healthCheck)
	if s.cfg.Metrics.Enabled {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	// OpenAI兼容 API
	api := s.router.Group("/v1")
	api.Use(s.apiKeyAuthMiddleware())
	{
		api.Any("/chat/completions", s.chatCompletions)
		api.Any("/models", compress, s.listModels)
	}

	s.router.NoRoute(s.notFound)
}
