package api

import (
	"archive/zip"
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// recentLogLines is how many lines /logs/recent returns.
const recentLogLines = 100

func (s *RESTServer) handleDownloadLogs(c *gin.Context) {
	c.Header("Content-Disposition", "attachment; filename=infinity_status_logs.zip")
	c.Header("Content-Type", "application/zip")

	zipWriter := zip.NewWriter(c.Writer)
	defer zipWriter.Close()

	logDir := config.Get().LogDir
	err := filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		// Use .txt extension for Windows compatibility
		baseName := filepath.Base(path)
		if strings.HasSuffix(baseName, ".log") {
			baseName = strings.TrimSuffix(baseName, ".log") + ".txt"
		}
		header.Name = baseName
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		return err
	})

	if err != nil && !os.IsNotExist(err) {
		logger.Errorf("Failed to zip logs: %v", err)
	}
}

// parseLogLine splits "timestamp [LEVEL] message". ok is false for lines in another format.
func parseLogLine(line string) (entry map[string]interface{}, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[1], "[") || !strings.HasSuffix(parts[1], "]") {
		return nil, false
	}
	return map[string]interface{}{
		"timestamp": parts[0],
		"level":     strings.Trim(parts[1], "[]"),
		"message":   parts[2],
	}, true
}

func (s *RESTServer) handleRecentLogs(c *gin.Context) {
	logFile := filepath.Join(config.Get().LogDir, logger.LogFileName)

	file, err := os.Open(logFile)
	if err != nil {
		// If log file doesn't exist yet, return empty array
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, []map[string]interface{}{})
			return
		}
		respondWithError(c, http.StatusInternalServerError, "Failed to read log file", err)
		return
	}
	defer file.Close()

	// Ring of the last recentLogLines lines.
	lines := make([]string, 0, recentLogLines)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(lines) == recentLogLines {
			lines = lines[1:]
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to scan log file", err)
		return
	}

	logEntries := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if entry, ok := parseLogLine(line); ok {
			logEntries = append(logEntries, entry)
		}
	}

	c.JSON(http.StatusOK, logEntries)
}
