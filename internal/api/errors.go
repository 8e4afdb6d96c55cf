package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
	"github.com/mescon/InfinityStatus/internal/services"
)

// Standard error messages (don't leak internal details)
const (
	ErrMsgDatabaseError      = "Database error"
	ErrMsgInvalidRequest     = "Invalid request"
	ErrMsgNotFound           = "Not found"
	ErrMsgServiceUnavailable = "Service unavailable"
	ErrMsgInternalError      = "Internal server error"
	ErrMsgTimerNotFound      = "Timer not found"
	ErrMsgScheduleNotFound   = "Schedule not found"
	ErrMsgSyncUnavailable    = "Sync store unavailable"
	ErrMsgInvalidID          = "Invalid ID"
)

// respondWithError sends a JSON error response and logs the actual error
func respondWithError(c *gin.Context, status int, publicMsg string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", publicMsg, err)
	}
	c.JSON(status, gin.H{"error": publicMsg})
}

// respondDatabaseError handles database errors consistently
func respondDatabaseError(c *gin.Context, err error) {
	respondWithError(c, http.StatusInternalServerError, ErrMsgDatabaseError, err)
}

// respondBadRequest handles bad request errors, optionally exposing the error message
// Use exposeError=true only for validation errors safe to show users
func respondBadRequest(c *gin.Context, err error, exposeError bool) {
	if exposeError && err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respondWithError(c, http.StatusBadRequest, ErrMsgInvalidRequest, err)
}

// respondNotFound handles not found errors
func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{"error": resource + " not found"})
}

// respondServiceUnavailable handles service unavailable errors
func respondServiceUnavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": service + " not available"})
}

// respondServiceError maps errors from the timer and schedule services to a status code.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidDuration), errors.Is(err, domain.ErrInvalidTimerID), errors.Is(err, services.ErrInvalidSchedule):
		respondBadRequest(c, err, true)
	case errors.Is(err, services.ErrTimerNotFound):
		respondWithError(c, http.StatusNotFound, ErrMsgTimerNotFound, err)
	case errors.Is(err, services.ErrScheduleNotFound):
		respondWithError(c, http.StatusNotFound, ErrMsgScheduleNotFound, err)
	case errors.Is(err, services.ErrSyncUnavailable):
		logger.Warnf("Sync store error: %v", err)
		respondWithError(c, http.StatusBadGateway, ErrMsgSyncUnavailable, err)
	default:
		logger.Errorf("Unhandled service error: %v", err)
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, err)
	}
}
