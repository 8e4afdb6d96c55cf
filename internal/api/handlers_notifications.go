package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getNotificationTargets lists configured providers. URLs carry credentials and are not returned.
func (s *RESTServer) getNotificationTargets(c *gin.Context) {
	providers := make([]string, 0)
	if s.notifier != nil {
		for _, t := range s.notifier.Targets() {
			providers = append(providers, t.Provider)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":   len(providers) > 0,
		"providers": providers,
	})
}

func (s *RESTServer) testNotification(c *gin.Context) {
	if s.notifier == nil || len(s.notifier.Targets()) == 0 {
		respondServiceUnavailable(c, "Notifications")
		return
	}
	if err := s.notifier.SendTest(); err != nil {
		respondWithError(c, http.StatusBadGateway, "Test notification failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}
