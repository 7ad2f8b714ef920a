// internal/web/purge_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const purgeTimeout = 60 * time.Second

func (s *Server) setupPurgeRoutes(api *gin.RouterGroup) {
	purge := api.Group("/maintenance/purge")
	{
		purge.POST("", s.purgeAll)
		purge.POST("/orphaned", s.purgeOrphanedChecks)
		purge.POST("/expired", s.purgeExpiredChecks)
	}
}

// POST /api/maintenance/purge runs both purges and reports every failure.
func (s *Server) purgeAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), purgeTimeout)
	defer cancel()

	result, err := s.engine.Maintainer().PurgeAll(ctx)
	if err != nil {
		errs := multierr.Errors(err)
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		logrus.WithError(err).Error("Failed to purge stale data")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to purge stale data",
			"errors": msgs,
			"data":   result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Stale data purged successfully",
		"data":      result,
		"timestamp": time.Now(),
	})
}

// POST /api/maintenance/purge/orphaned
func (s *Server) purgeOrphanedChecks(c *gin.Context) {
	s.runPurge(c, "orphaned", s.engine.Maintainer().PurgeOrphanedChecks)
}

// POST /api/maintenance/purge/expired
func (s *Server) purgeExpiredChecks(c *gin.Context) {
	s.runPurge(c, "expired", s.engine.Maintainer().PurgeExpiredChecks)
}

func (s *Server) runPurge(c *gin.Context, kind string, purge func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), purgeTimeout)
	defer cancel()

	deleted, err := purge(ctx)
	if err != nil {
		logrus.WithError(err).WithField("kind", kind).Error("Failed to purge checks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge " + kind + " checks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Checks purged successfully",
		"kind":      kind,
		"deleted":   deleted,
		"timestamp": time.Now(),
	})
}
