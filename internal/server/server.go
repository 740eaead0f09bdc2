package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/termhub/termhub/internal/config"
	"github.com/termhub/termhub/internal/dtach"
	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/monitoring"
	"github.com/termhub/termhub/internal/store"
	"github.com/termhub/termhub/internal/tabs"
	"github.com/termhub/termhub/internal/term"
	"github.com/termhub/termhub/internal/ws"
	"go.uber.org/zap"
)

const storePoolSize = 4

// Server owns the HTTP listener and every subsystem behind it.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *store.Store
	manager *term.Manager
	tabs    *tabs.Registry
	hub     *ws.Hub
	http    *http.Server
}

// New builds the full dependency graph: store, session utility,
// terminal manager, tab registry, hub, and routes.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	st, err := store.Open(cfg.DatabasePath(), storePoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	util := dtach.NewClient(cfg.Terminals.DtachBin, cfg.SocketDir(), logger)
	if !util.IsAvailable() {
		logger.Warn("dtach not found; terminal creation will fail until it is installed")
	}

	manager := term.NewManager(util, st, term.Options{
		Shell:      cfg.Terminals.Shell,
		BufferDir:  cfg.BufferDir(),
		ReuseByCwd: cfg.Terminals.ReuseByCwd,
	}, logger)

	registry := tabs.NewRegistry(st, manager, logger)
	metrics := monitoring.NewMetrics()
	hub := ws.NewHub(manager, registry, metrics, logger)

	s := &Server{
		cfg:     cfg,
		logger:  logger.Component("server"),
		store:   st,
		manager: manager,
		tabs:    registry,
		hub:     hub,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		MaxAge:           12 * time.Hour,
		AllowWebSockets:  true,
		AllowCredentials: false,
	}))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", metrics.Handler())
	router.GET("/ws", hub.HandleConnection)

	api := router.Group("/api")
	api.GET("/terminals", s.handleListTerminals)
	api.DELETE("/terminals", s.handleDestroyAll)
	api.GET("/tabs", s.handleListTabs)

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	return s, nil
}

// Start restores persisted state and begins serving. Blocks until the
// listener closes.
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.RestoreFromStore(ctx); err != nil {
		return fmt.Errorf("failed to restore terminals: %w", err)
	}
	if _, err := s.tabs.EnsureDefaultTab(); err != nil {
		return fmt.Errorf("failed to ensure default tab: %w", err)
	}

	s.logger.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and detaches every session, leaving the
// underlying dtach sessions alive so terminals survive the restart.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	err := s.http.Shutdown(ctx)

	s.manager.DetachAll()
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Error("failed to close store", zap.Error(cerr))
	}
	return err
}

// requestLogger logs completed requests. The websocket endpoint is
// excluded; its lifetime is logged by the hub.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/ws" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"dtach":     s.manager.UtilityAvailable(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terminals": s.manager.List()})
}

// handleDestroyAll is the controlled full teardown: every session is
// killed and persistent state cleared. Distinct from shutdown, which
// detaches.
func (s *Server) handleDestroyAll(c *gin.Context) {
	s.manager.DestroyAll()
	c.JSON(http.StatusOK, gin.H{"destroyed": true})
}

func (s *Server) handleListTabs(c *gin.Context) {
	list, err := s.tabs.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tabs": list})
}
