package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/domain"
)

// getEvents pages through the persisted event history, newest first.
// Optional filters: timer (aggregate id) and type (event type).
func (s *RESTServer) getEvents(c *gin.Context) {
	if s.repo == nil {
		respondServiceUnavailable(c, "Event history")
		return
	}

	params := ParsePagination(c, DefaultPaginationConfig())
	filter := db.EventFilter{
		AggregateID: c.Query("timer"),
		EventType:   domain.EventType(c.Query("type")),
		Limit:       params.Limit,
		Offset:      params.Offset,
	}

	ctx := c.Request.Context()
	total, err := s.repo.CountEvents(ctx, filter)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	events, err := s.repo.ListEvents(ctx, filter)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       events,
		"pagination": NewPaginationResponse(params, total),
	})
}
