package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// maxLogMessageLength bounds free-form activity log messages.
const maxLogMessageLength = 500

func (s *RESTServer) getActivity(c *gin.Context) {
	c.JSON(http.StatusOK, s.board.Snapshot())
}

func (s *RESTServer) incrementCounter(c *gin.Context) {
	snap, err := s.board.Increment(c.Request.Context())
	s.respondActivity(c, snap, err, domain.CounterChanged)
}

func (s *RESTServer) decrementCounter(c *gin.Context) {
	snap, err := s.board.Decrement(c.Request.Context())
	s.respondActivity(c, snap, err, domain.CounterChanged)
}

func (s *RESTServer) appendActivityLog(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || len(msg) > maxLogMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message must be between 1 and 500 characters"})
		return
	}

	snap, err := s.board.AppendLog(c.Request.Context(), msg)
	s.respondActivity(c, snap, err, domain.ActivityLogged)
}

func (s *RESTServer) respondActivity(c *gin.Context, snap activity.Snapshot, err error, eventType domain.EventType) {
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	data := map[string]interface{}{"count": snap.Count}
	if n := len(snap.Entries); n > 0 {
		data["message"] = snap.Entries[n-1].Message
	}
	if s.eventBus != nil {
		if perr := s.eventBus.Publish(domain.Event{
			AggregateType: "activity",
			AggregateID:   "board",
			EventType:     eventType,
			EventData:     data,
		}); perr != nil {
			logger.Errorf("Failed to publish %s: %v", eventType, perr)
		}
	}
	c.JSON(http.StatusOK, snap)
}
