package api

import (
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/config"
)

// SystemInfo contains runtime environment information
type SystemInfo struct {
	Version     string           `json:"version"`
	Environment string           `json:"environment"` // "docker" or "native"
	OS          string           `json:"os"`
	Arch        string           `json:"arch"`
	GoVersion   string           `json:"go_version"`
	Uptime      string           `json:"uptime"`
	UptimeSecs  int64            `json:"uptime_seconds"`
	StartedAt   time.Time        `json:"started_at"`
	Config      SystemConfigInfo `json:"config"`
}

// SystemConfigInfo contains configuration details. Notification URLs are left out
// because they embed credentials.
type SystemConfigInfo struct {
	Port             string `json:"port"`
	BasePath         string `json:"base_path"`
	BasePathSource   string `json:"base_path_source"`
	LogLevel         string `json:"log_level"`
	DataDir          string `json:"data_dir"`
	DatabasePath     string `json:"database_path"`
	DatabaseDriver   string `json:"database_driver"`
	LogDir           string `json:"log_dir"`
	PollInterval     string `json:"poll_interval"`
	SyncMode         string `json:"sync_mode"`
	SyncFilePath     string `json:"sync_file_path,omitempty"`
	SyncDocumentPath string `json:"sync_document_path,omitempty"`
	TimersFile       string `json:"timers_file,omitempty"`
	RetentionDays    int    `json:"retention_days"`
	NotifyTargets    int    `json:"notify_targets"`
	MDNSEnabled      bool   `json:"mdns_enabled"`
	HomeKitEnabled   bool   `json:"homekit_enabled"`
}

// handleSystemInfo returns runtime environment information
func (s *RESTServer) handleSystemInfo(c *gin.Context) {
	cfg := config.Get()
	uptime := time.Since(s.startTime)

	environment := "native"
	if isDockerEnvironment() {
		environment = "docker"
	}

	info := SystemInfo{
		Version:     config.Version,
		Environment: environment,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Uptime:      formatUptime(uptime),
		UptimeSecs:  int64(uptime.Seconds()),
		StartedAt:   s.startTime,
		Config: SystemConfigInfo{
			Port:             cfg.Port,
			BasePath:         cfg.BasePath,
			BasePathSource:   cfg.BasePathSource,
			LogLevel:         cfg.LogLevel,
			DataDir:          cfg.DataDir,
			DatabasePath:     cfg.DatabasePath,
			DatabaseDriver:   cfg.DatabaseDriver,
			LogDir:           cfg.LogDir,
			PollInterval:     cfg.PollInterval.String(),
			SyncMode:         cfg.SyncMode,
			SyncFilePath:     cfg.SyncFilePath,
			SyncDocumentPath: cfg.SyncDocumentPath,
			TimersFile:       cfg.TimersFile,
			RetentionDays:    cfg.RetentionDays,
			NotifyTargets:    len(cfg.NotifyURLs),
			MDNSEnabled:      cfg.MDNSEnabled,
			HomeKitEnabled:   cfg.HomeKitEnabled,
		},
	}

	c.JSON(http.StatusOK, info)
}

// isDockerEnvironment checks if we're running inside a Docker container
func isDockerEnvironment() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	// Check cgroup for docker/containerd
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}

	// Podman
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	return false
}
