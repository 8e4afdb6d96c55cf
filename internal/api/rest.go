// Package api provides the REST control surface for the shared timers,
// the counter/log sidecar and schedules, plus real-time updates via WebSocket.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/logger"
	"github.com/mescon/InfinityStatus/internal/metrics"
	"github.com/mescon/InfinityStatus/internal/notifier"
	"github.com/mescon/InfinityStatus/internal/services"
)

type RESTServer struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *db.Repository
	eventBus   *eventbus.EventBus
	timers     *services.TimerService
	board      *activity.Board
	scheduler  *services.SchedulerService
	notifier   *notifier.Notifier
	metrics    *metrics.MetricsService
	hub        *WebSocketHub
	limiter    *RateLimiter
	startTime  time.Time
}

// ServerDeps contains all dependencies required for the REST server.
// Repo, Scheduler, Notifier and Metrics may be nil; their routes then report 503.
type ServerDeps struct {
	Repo      *db.Repository
	EventBus  *eventbus.EventBus
	Timers    *services.TimerService
	Board     *activity.Board
	Scheduler *services.SchedulerService
	Notifier  *notifier.Notifier
	Metrics   *metrics.MetricsService
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	cfg := config.Get()

	r := gin.New()

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		// Use existing request ID from header if provided, otherwise generate one
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	// Custom recovery middleware with enhanced logging
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	}))

	r.Use(corsMiddleware(cfg.CORSOrigin))

	var bus EventSubscriber
	if deps.EventBus != nil {
		bus = deps.EventBus
	}

	s := &RESTServer{
		router:    r,
		repo:      deps.Repo,
		eventBus:  deps.EventBus,
		timers:    deps.Timers,
		board:     deps.Board,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		hub:       NewWebSocketHub(bus, cfg.CORSOrigin),
		limiter:   NewRateLimiter(ControlRate, ControlInterval, ControlBurst),
		startTime: time.Now(),
	}
	if s.metrics != nil {
		s.hub.OnClientCount = s.metrics.SetWebSocketClients
	}

	s.setupRoutes()

	return s
}

// corsMiddleware sets CORS headers. An empty origin list keeps the browser's
// same-origin policy; "*" allows everything.
func corsMiddleware(corsOrigins string) gin.HandlerFunc {
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Hub returns the websocket hub; the poller broadcasts readings through it.
func (s *RESTServer) Hub() *WebSocketHub {
	return s.hub
}

// Router exposes the gin engine, mainly for tests.
func (s *RESTServer) Router() http.Handler {
	return s.router
}

// handleRuntimeConfig returns the settings a viewer needs to render timers.
func (s *RESTServer) handleRuntimeConfig(c *gin.Context) {
	cfg := config.Get()
	c.JSON(http.StatusOK, gin.H{
		"base_path":        cfg.BasePath,
		"base_path_source": cfg.BasePathSource,
		"poll_interval_ms": cfg.PollInterval.Milliseconds(),
		"sync_mode":        s.timers.StoreName(),
		"version":          config.Version,
	})
}

func (s *RESTServer) setupRoutes() {
	basePath := config.Get().BasePath

	// Prometheus metrics endpoint at root level (standard convention, not behind base path)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	var base *gin.RouterGroup
	if basePath == "/" {
		base = s.router.Group("")
	} else {
		base = s.router.Group(basePath)
	}

	control := s.limiter.Middleware()

	api := base.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/system/info", s.handleSystemInfo)
		api.GET("/config/runtime", s.handleRuntimeConfig)

		// Timers. Specific routes come before :id routes.
		api.GET("/timers", s.listTimers)
		api.POST("/timers", control, s.createTimer)
		api.POST("/timers/synchronize", control, s.synchronizeTimers)
		api.GET("/timers/:id", s.getTimer)
		api.POST("/timers/:id/start", control, s.timerAction(actionStart))
		api.POST("/timers/:id/stop", control, s.timerAction(actionStop))
		api.POST("/timers/:id/reset", control, s.timerAction(actionReset))
		api.POST("/timers/:id/restart", control, s.timerAction(actionRestart))
		api.PUT("/timers/:id/duration", control, s.setTimerDuration)

		// Counter/log sidecar
		api.GET("/activity", s.getActivity)
		api.POST("/activity/increment", control, s.incrementCounter)
		api.POST("/activity/decrement", control, s.decrementCounter)
		api.POST("/activity/log", control, s.appendActivityLog)

		api.GET("/events", s.getEvents)

		api.GET("/schedules", s.getSchedules)
		api.POST("/schedules", control, s.addSchedule)
		api.PUT("/schedules/:id", control, s.updateSchedule)
		api.DELETE("/schedules/:id", control, s.deleteSchedule)

		api.GET("/notifications", s.getNotificationTargets)
		api.POST("/notifications/test", control, s.testNotification)

		api.GET("/logs/recent", s.handleRecentLogs)
		api.GET("/logs/download", s.handleDownloadLogs)

		api.GET("/ws", s.hub.HandleConnection)
	}

	// API-only: there are no web assets to fall back to.
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and the websocket hub.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
