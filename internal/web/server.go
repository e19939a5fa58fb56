// internal/web/server.go
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/John-MustangGT/sentinel/internal/notifications"
	"github.com/John-MustangGT/sentinel/internal/peering"
	"github.com/John-MustangGT/sentinel/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Engine     *monitoring.Engine
	Broker     *events.Broker
	Pairing    *peering.Service
	Dispatcher *notifications.Dispatcher
	Workers    []scheduler.Worker
	Metrics    *metrics.Collector
}

type Server struct {
	config     *config.Config
	engine     *monitoring.Engine
	ingestor   *monitoring.Ingestor
	broker     *events.Broker
	pairing    *peering.Service
	dispatcher *notifications.Dispatcher
	workers    map[string]scheduler.Worker
	metrics    *metrics.Collector
	limiter    *tokenLimiter
	router     *gin.Engine
	server     *http.Server
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	workers := make(map[string]scheduler.Worker)
	for _, w := range deps.Workers {
		workers[w.Name()] = w
	}

	server := &Server{
		config:     cfg,
		engine:     deps.Engine,
		ingestor:   monitoring.NewIngestor(deps.Engine),
		broker:     deps.Broker,
		pairing:    deps.Pairing,
		dispatcher: deps.Dispatcher,
		workers:    workers,
		metrics:    deps.Metrics,
		limiter:    newTokenLimiter(cfg.Server.IngestRateLimit, cfg.Server.IngestBurst),
		router:     router,
	}

	if cfg.Server.APIToken == "" {
		logrus.Warn("server.api_token is empty; management API is unauthenticated")
	}

	server.setupRoutes()
	return server
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("listen", s.config.Server.Listen).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)
	go s.limiter.sweep(ctx, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
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
	logrus.Info("Shutting down web server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	// Push ingestion, authenticated by the token in the path
	ingest := s.router.Group("/", s.rateLimit())
	{
		ingest.POST("/heartbeat/:token", s.heartbeat)
		ingest.GET("/heartbeat/:token", s.heartbeat)
		ingest.POST("/webhook/:token/fail", s.webhookFail)
		ingest.POST("/webhook/:token/recover", s.webhookRecover)
		ingest.POST("/metric/:token", s.metric)
	}

	// Pairing: accept is secret-gated and unpair is URL-gated
	pair := s.router.Group("/peers/pair")
	{
		pair.POST("/initiate", s.requireToken(), s.initiatePairing)
		pair.POST("/complete", s.requireToken(), s.completePairing)
		pair.POST("/accept", s.acceptPairing)
		pair.POST("/unpair", s.remoteUnpair)
	}

	s.router.GET("/events/stream", s.requireToken(), s.streamEvents)
	s.router.GET("/ws", s.requireToken(), s.handleWebSocket)

	api := s.router.Group("/api", s.requireToken())
	{
		api.GET("/health", s.healthCheck)
		api.GET("/build", s.getBuildInfo)
		api.GET("/stats", s.getStats)

		api.GET("/services", s.getServices)
		api.POST("/services", s.createService)
		api.GET("/services/:id", s.getService)
		api.PUT("/services/:id", s.updateService)
		api.DELETE("/services/:id", s.deleteService)
		api.POST("/services/:id/pause", s.pauseService)
		api.POST("/services/:id/resume", s.resumeService)

		api.GET("/services/:id/dependencies", s.getDependencies)
		api.POST("/services/:id/dependencies", s.addDependency)
		api.DELETE("/services/:id/dependencies/:dependencyId", s.removeDependency)

		api.GET("/services/:id/mute-windows", s.getMuteWindows)
		api.POST("/services/:id/mute-windows", s.createMuteWindow)
		api.DELETE("/mute-windows/:id", s.deleteMuteWindow)

		api.GET("/monitors", s.getMonitors)
		api.POST("/monitors", s.createMonitor)
		api.GET("/monitors/:id", s.getMonitor)
		api.DELETE("/monitors/:id", s.deleteMonitor)
		api.GET("/monitors/:id/events", s.getEvents)
		api.GET("/monitors/:id/rollups", s.getRollups)

		api.GET("/alerts", s.getAlerts)
		api.POST("/alerts/:id/acknowledge", s.acknowledgeAlert)

		api.GET("/contacts", s.getContacts)
		api.POST("/contacts", s.createContact)
		api.DELETE("/contacts/:id", s.deleteContact)

		api.GET("/peers", s.getPeers)
		api.DELETE("/peers/:id", s.unpairPeer)

		api.GET("/notifications/settings", s.getNotificationSettings)
		api.POST("/notifications/test", s.sendTestNotification)

		api.GET("/workers", s.getWorkers)
		api.POST("/workers/:name/run", s.runWorker)
	}

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

// requireToken checks the bearer token when one is configured.
func (s *Server) requireToken() gin.HandlerFunc {
	expected := []byte(s.config.Server.APIToken)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"instance":  s.config.Server.InstanceName,
		"timestamp": s.engine.Clock().Now(),
		"version":   Version,
	})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.engine.Store().GetDatabaseStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
