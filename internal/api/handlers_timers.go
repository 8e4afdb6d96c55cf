package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/engine"
	"github.com/mescon/InfinityStatus/internal/services"
)

type timerActionKind int

const (
	actionStart timerActionKind = iota
	actionStop
	actionReset
	actionRestart
)

// requestContext tags the request context with the "api" source.
func requestContext(c *gin.Context) context.Context {
	return services.WithSource(c.Request.Context(), "api")
}

// viewOf renders a state as of now without touching the registry.
func (s *RESTServer) viewOf(st domain.TimerState) domain.TimerView {
	return domain.ViewOf(engine.Evaluate(st, s.timers.Registry().Now()))
}

func (s *RESTServer) listTimers(c *gin.Context) {
	readings := s.timers.ReadAll(requestContext(c))
	c.JSON(http.StatusOK, gin.H{
		"timers":    domain.ViewsOf(readings),
		"sync_mode": s.timers.StoreName(),
	})
}

func (s *RESTServer) getTimer(c *gin.Context) {
	r, err := s.timers.Read(requestContext(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.ViewOf(r))
}

type durationRequest struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func (s *RESTServer) createTimer(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Name string `json:"name"`
		durationRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if err := domain.ValidateTimerID(req.ID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Timer id must be non-empty and contain no spaces, slashes or underscores"})
		return
	}

	d, err := domain.DurationFromParts(req.Minutes, req.Seconds)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	st, created, err := s.timers.Create(requestContext(c), req.ID, req.Name, d)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "Timer already exists", "timer": s.viewOf(st)})
		return
	}
	c.JSON(http.StatusCreated, s.viewOf(st))
}

// timerAction returns a handler for one of the run-state operations.
func (s *RESTServer) timerAction(kind timerActionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := requestContext(c)
		id := c.Param("id")

		var (
			st  domain.TimerState
			err error
		)
		switch kind {
		case actionStart:
			st, err = s.timers.Start(ctx, id)
		case actionStop:
			st, err = s.timers.Stop(ctx, id)
		case actionReset:
			st, err = s.timers.Reset(ctx, id)
		case actionRestart:
			st, err = s.timers.Restart(ctx, id)
		}
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.viewOf(st))
	}
}

func (s *RESTServer) setTimerDuration(c *gin.Context) {
	var req durationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}
	d, err := domain.DurationFromParts(req.Minutes, req.Seconds)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	st, err := s.timers.SetDuration(requestContext(c), c.Param("id"), d)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewOf(st))
}

func (s *RESTServer) synchronizeTimers(c *gin.Context) {
	states, err := s.timers.Synchronize(requestContext(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	views := make([]domain.TimerView, 0, len(states))
	for _, st := range states {
		views = append(views, s.viewOf(st))
	}
	c.JSON(http.StatusOK, gin.H{"timers": views})
}
