package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getStats handles GET /api/v1/stats — a read-only snapshot from SA.
func (s *Server) getStats(c *gin.Context) {
	snapshot, err := s.stats.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// getLeader handles GET /api/v1/cluster/leader.
func (s *Server) getLeader(c *gin.Context) {
	if s.schedulerElection == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no election handle configured on this server instance"})
		return
	}
	leader, err := s.schedulerElection.Leader(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": leader})
}
