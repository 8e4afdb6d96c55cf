package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/services"
)

func (s *RESTServer) getSchedules(c *gin.Context) {
	if s.scheduler == nil {
		respondServiceUnavailable(c, "Scheduler")
		return
	}
	schedules, err := s.scheduler.List()
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if schedules == nil {
		schedules = []services.Schedule{}
	}
	c.JSON(http.StatusOK, schedules)
}

func (s *RESTServer) addSchedule(c *gin.Context) {
	if s.scheduler == nil {
		respondServiceUnavailable(c, "Scheduler")
		return
	}
	var req struct {
		TimerID        string `json:"timer_id"`
		Action         string `json:"action" binding:"required"`
		CronExpression string `json:"cron_expression" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}
	if req.TimerID != "" && !s.timers.Registry().Exists(req.TimerID) {
		respondNotFound(c, "Timer")
		return
	}

	id, err := s.scheduler.AddSchedule(req.TimerID, req.Action, req.CronExpression)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "message": "Schedule added"})
}

func (s *RESTServer) deleteSchedule(c *gin.Context) {
	if s.scheduler == nil {
		respondServiceUnavailable(c, "Scheduler")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, ErrMsgInvalidID, err)
		return
	}

	if err := s.scheduler.DeleteSchedule(id); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Schedule deleted"})
}

func (s *RESTServer) updateSchedule(c *gin.Context) {
	if s.scheduler == nil {
		respondServiceUnavailable(c, "Scheduler")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, ErrMsgInvalidID, err)
		return
	}

	var req struct {
		CronExpression string `json:"cron_expression"`
		Enabled        *bool  `json:"enabled"` // Pointer to distinguish between false and missing
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	// A missing enabled flag keeps the current value.
	current, err := s.scheduler.Get(id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	enabled := current.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	if err := s.scheduler.UpdateSchedule(id, req.CronExpression, enabled); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Schedule updated"})
}
