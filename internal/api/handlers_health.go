package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/config"
)

// formatUptime returns a human-readable uptime string
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// checkDatabaseHealth checks database connectivity and returns status
func (s *RESTServer) checkDatabaseHealth(ctx context.Context) (gin.H, bool) {
	if s.repo == nil {
		return gin.H{"status": "disabled"}, true
	}

	dbHealth := gin.H{"status": "connected", "driver": s.repo.Driver()}
	if err := s.repo.DB.PingContext(ctx); err != nil {
		dbHealth["status"] = "error"
		dbHealth["error"] = err.Error()
		return dbHealth, false
	}
	if info, err := os.Stat(config.Get().DatabasePath); err == nil {
		dbHealth["size_bytes"] = info.Size()
	}
	return dbHealth, true
}

// handleHealth returns server health status for container orchestration.
// This endpoint must return quickly (within 5 seconds) for Docker healthchecks.
func (s *RESTServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, dbHealthy := s.checkDatabaseHealth(ctx)

	running := 0
	states := s.timers.Registry().States()
	for _, st := range states {
		if st.Running {
			running++
		}
	}

	status := "healthy"
	if !dbHealthy {
		status = "degraded"
	}

	health := gin.H{
		"status":            status,
		"version":           config.Version,
		"uptime":            formatUptime(time.Since(s.startTime)),
		"database":          dbHealth,
		"sync":              gin.H{"mode": s.timers.StoreName(), "shared": s.timers.Synced()},
		"timers":            gin.H{"total": len(states), "running": running},
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.scheduler != nil {
		health["scheduled_jobs"] = s.scheduler.ActiveJobs()
	}

	c.JSON(http.StatusOK, health)
}
