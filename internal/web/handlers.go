// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/John-MustangGT/raven-uptime/internal/config"
	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/monitoring"
)

// MonitorRequest is the body accepted by POST /api/monitors.
type MonitorRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	URL      string `json:"url" binding:"required"`
	Type     string `json:"type"`
	Interval string `json:"interval"`
	IsActive *bool  `json:"is_active"`
	N        int    `json:"n"`
	M        int    `json:"m"`
}

// MonitorPatch is the body accepted by PUT /api/monitors/:id. Absent fields
// are left unchanged.
type MonitorPatch struct {
	Name     *string `json:"name"`
	Interval *string `json:"interval"`
	IsActive *bool   `json:"is_active"`
	N        *int    `json:"n"`
	M        *int    `json:"m"`
}

// MonitorResponse adds the running statistics to a monitor.
type MonitorResponse struct {
	*database.Monitor
	IntervalText string                 `json:"interval_text"`
	Stats        *database.MonitorStats `json:"stats,omitempty"`
}

const (
	defaultCheckLimit = 100
	maxCheckLimit     = 1000
)

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   Version,
		"scheduler": s.engine.SchedulerMetrics(),
		"clients":   s.hub.count(),
	})
}

func (s *Server) monitorResponse(c *gin.Context, mon *database.Monitor) MonitorResponse {
	resp := MonitorResponse{Monitor: mon, IntervalText: mon.Interval.String()}
	if stats, err := s.store.GetStats(c.Request.Context(), mon.ID); err == nil {
		resp.Stats = stats
	}
	return resp
}

// GET /api/monitors?active=true
func (s *Server) getMonitors(c *gin.Context) {
	var filters database.MonitorFilters
	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be true or false"})
			return
		}
		filters.Active = &active
	}

	monitors, err := s.store.GetMonitors(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get monitors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get monitors"})
		return
	}

	response := make([]MonitorResponse, 0, len(monitors))
	for i := range monitors {
		response = append(response, s.monitorResponse(c, &monitors[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  response,
		"count": len(response),
	})
}

// GET /api/monitors/:id
func (s *Server) getMonitor(c *gin.Context) {
	mon, err := s.store.GetMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.monitorError(c, err, "Failed to get monitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.monitorResponse(c, mon)})
}

// POST /api/monitors
func (s *Server) createMonitor(c *gin.Context) {
	var req MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mon := &database.Monitor{
		ID:       req.ID,
		Name:     req.Name,
		URL:      req.URL,
		Type:     database.Protocol(req.Type),
		IsActive: req.IsActive == nil || *req.IsActive,
		N:        req.N,
		M:        req.M,
	}
	if req.Interval != "" {
		interval, err := time.ParseDuration(req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval: " + err.Error()})
			return
		}
		mon.Interval = interval
	}

	if req.ID != "" {
		if _, err := s.store.GetMonitor(c.Request.Context(), req.ID); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Monitor already exists"})
			return
		}
	}

	if err := s.engine.CreateMonitor(c.Request.Context(), mon); err != nil {
		s.monitorError(c, err, "Failed to create monitor")
		return
	}

	logrus.WithFields(logrus.Fields{
		"monitor": mon.Name,
		"id":      mon.ID,
	}).Info("Created monitor")
	c.JSON(http.StatusCreated, gin.H{"data": s.monitorResponse(c, mon)})
}

// PUT /api/monitors/:id
func (s *Server) updateMonitor(c *gin.Context) {
	var patch MonitorPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := monitoring.MonitorUpdate{
		Name:     patch.Name,
		IsActive: patch.IsActive,
		N:        patch.N,
		M:        patch.M,
	}
	if patch.Interval != nil {
		interval, err := time.ParseDuration(*patch.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval: " + err.Error()})
			return
		}
		update.Interval = &interval
	}

	mon, err := s.engine.UpdateMonitor(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		s.monitorError(c, err, "Failed to update monitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.monitorResponse(c, mon)})
}

// DELETE /api/monitors/:id
func (s *Server) deleteMonitor(c *gin.Context) {
	if err := s.engine.DeleteMonitor(c.Request.Context(), c.Param("id")); err != nil {
		s.monitorError(c, err, "Failed to delete monitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Monitor deleted"})
}

// GET /api/monitors/:id/checks?since=RFC3339&limit=N
func (s *Server) getMonitorChecks(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetMonitor(c.Request.Context(), id); err != nil {
		s.monitorError(c, err, "Failed to get monitor")
		return
	}

	filters := database.CheckFilters{MonitorID: id, Limit: defaultCheckLimit}
	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filters.Since = &since
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filters.Limit = min(limit, maxCheckLimit)
	}

	checks, err := s.store.GetChecks(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).WithField("monitor_id", id).Error("Failed to get checks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get checks"})
		return
	}
	if checks == nil {
		checks = []database.Check{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  checks,
		"count": len(checks),
	})
}

// GET /api/monitors/:id/stats
func (s *Server) getMonitorStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrStatsNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stats not found"})
			return
		}
		logrus.WithError(err).Error("Failed to get stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GET /api/scheduler
func (s *Server) getScheduler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.engine.SchedulerMetrics()})
}

// GET /api/scheduler/jobs
func (s *Server) getSchedulerJobs(c *gin.Context) {
	jobs := s.engine.SchedulerJobs()
	c.JSON(http.StatusOK, gin.H{
		"data":  jobs,
		"count": len(jobs),
	})
}

// POST /api/scheduler/flush
func (s *Server) flushScheduler(c *gin.Context) {
	flushed := s.engine.FlushScheduler()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler flushed",
		"flushed": flushed,
	})
}

// GET /api/database
func (s *Server) getDatabaseStats(c *gin.Context) {
	stats, err := s.store.GetDatabaseStats(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get database stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// POST /api/config/refresh re-reads the config file and re-applies its
// seed monitors.
func (s *Server) refreshConfig(c *gin.Context) {
	if s.configPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Server was started without a config file"})
		return
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to reload configuration")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.RefreshConfig(c.Request.Context(), cfg); err != nil {
		logrus.WithError(err).Error("Configuration refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration refresh failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Configuration refreshed",
		"monitors":  len(cfg.Monitors),
		"timestamp": time.Now(),
	})
}

func (s *Server) monitorError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, database.ErrMonitorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
	case errors.Is(err, monitoring.ErrInvalidMonitor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
