// Package api exposes the agent over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quant-agent-go/internal/config"
	"quant-agent-go/internal/market"
	"quant-agent-go/internal/models"
	"quant-agent-go/internal/trader"
)

// Service is the request orchestration behind the handlers.
type Service interface {
	InitUser(ctx context.Context, address string) (*trader.UserState, error)
	HandleMessage(ctx context.Context, address, input, threadID string) (*trader.Reply, error)
	Trades(ctx context.Context, address string) ([]models.Trade, error)
	AgentStatus(ctx context.Context) market.Snapshot
}

// Server represents the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	service    Service
	config     config.Server
	logger     *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg config.Server, service Service, logger *zap.Logger) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.Named("api")
	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Handler panicked", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		service: service,
		config:  cfg,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/init-user", s.handleInitUser)
	api.POST("/run-strategy", s.handleRunStrategy)
	api.GET("/agent-status", s.handleAgentStatus)
	api.GET("/trades/:address", s.handleTrades)

	index := filepath.Join(s.config.StaticDir, "index.html")
	hasSPA := false
	if s.config.StaticDir != "" {
		if _, err := os.Stat(index); err == nil {
			hasSPA = true
		} else {
			s.logger.Warn("Static directory has no index.html, serving API only", zap.String("dir", s.config.StaticDir))
		}
	}
	if hasSPA {
		s.router.Static("/static", filepath.Join(s.config.StaticDir, "static"))
		s.router.StaticFile("/", index)
	}

	s.router.NoRoute(func(c *gin.Context) {
		if !hasSPA || strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.File(index)
	})
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Agent runs can take most of a minute.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case c.Request.URL.Path == "/health":
			logger.Debug("Request", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}
