package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rabbitreels/autoscaler/internal/registry"
)

func (s *Server) health(c *gin.Context) {
	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.HealthCheck(c.Request.Context()); err != nil {
			response["status"] = "degraded"
			response["database"] = "unreachable"
		} else {
			response["database"] = "ok"
			response["db_connections"] = s.deps.DB.ConnectionStats().OpenConnections
		}
	}
	if s.hub != nil {
		response["websocket_clients"] = s.hub.ClientCount()
	}

	code := http.StatusOK
	if response["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func (s *Server) ready(c *gin.Context) {
	if s.deps.Ready == nil {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}

	ready, detail := s.deps.Ready()
	response := gin.H{"ready": ready}
	for k, v := range detail {
		response[k] = v
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func (s *Server) latestSnapshot(c *gin.Context) {
	snap, err := s.deps.Snapshots.Latest(c.Request.Context())
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot published yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) snapshotHistory(c *gin.Context) {
	limit := parseLimit(c, 100)

	snaps, err := s.deps.Snapshots.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read snapshot history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

func (s *Server) listWorkers(c *gin.Context) {
	records, err := s.deps.Workers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workers"})
		return
	}

	active := 0
	for _, rec := range records {
		if rec.IsActive() {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{"workers": records, "count": len(records), "active": active})
}

func (s *Server) recentEvents(c *gin.Context) {
	limit := parseLimit(c, 50)

	events, err := s.deps.Events.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scaling events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) eventStats(c *gin.Context) {
	period := 24 * time.Hour
	if raw := c.Query("period"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
			return
		}
		period = parsed
	}

	counts, err := s.deps.Events.CountSince(c.Request.Context(), time.Now().Add(-period))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate scaling events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period.String(), "actions": counts})
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	return limit
}
