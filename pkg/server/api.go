package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/n0ot/radiod/pkg/media"
	"github.com/n0ot/radiod/pkg/radio"
)

// StatsPasswordHeader carries the stats password on requests to /api/stats.
const StatsPasswordHeader = "X-Radiod-Stats-Password"

// Stats contains information about the running state of the server.
type Stats struct {
	radio.Stats
	Media          media.Stats `json:"media"`
	ActiveSessions int         `json:"active_sessions"`
}

// Stats gets stats about the server.
func (srv *Server) Stats() Stats {
	return Stats{
		Stats:          srv.Registry.Stats(),
		Media:          srv.Normalizer.Stats(),
		ActiveSessions: srv.ActiveSessions(),
	}
}

func (srv *Server) handleListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": srv.Registry.Summaries()})
}

func (srv *Server) handleChannelStatus(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Canal inválido"})
		return
	}
	status, err := srv.Registry.Snapshot(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Canal inválido"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (srv *Server) handleStats(c *gin.Context) {
	if srv.StatsPassword == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats are disabled"})
		return
	}
	given := c.GetHeader(StatsPasswordHeader)
	if given == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no password"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(given), []byte(srv.StatsPassword)) != 1 {
		time.Sleep(srv.StatsFailureDelay) // Slow down brute forcing
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}
	c.JSON(http.StatusOK, srv.Stats())
}

func (srv *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "radiod",
		"sessions": srv.ActiveSessions(),
	})
}
