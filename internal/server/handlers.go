package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/service"
	"github.com/ifuryst/ripplecast/internal/store"
)

type rescheduleRequest struct {
	// ScheduledAt nil publishes as soon as a worker is free.
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	}
	if s.Queue != nil {
		pending := gin.H{}
		for _, p := range s.Platforms {
			n, err := s.Queue.Pending(c.Request.Context(), p)
			if err != nil {
				s.Logger.Warn("Failed to count pending jobs", zap.String("platform", string(p)), zap.Error(err))
				resp["status"] = "degraded"
				continue
			}
			pending[string(p)] = n
		}
		resp["pending_jobs"] = pending
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEnqueueJob(c *gin.Context) {
	var req service.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, created, err := s.Publications.EnqueueJob(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err, "Failed to enqueue job")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job, "created": created})
}

func (s *Server) handleCreatePublication(c *gin.Context) {
	var req service.CreatePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, created, err := s.Publications.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err, "Failed to create publication")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"publication": pub, "created": created})
}

func (s *Server) handleGetPublication(c *gin.Context) {
	pub, err := s.Publications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to get publication")
		return
	}
	c.JSON(http.StatusOK, gin.H{"publication": pub})
}

func (s *Server) handleReschedule(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, err := s.Publications.Reschedule(c.Request.Context(), c.Param("id"), req.ScheduledAt)
	if err != nil {
		s.respondError(c, err, "Failed to reschedule publication")
		return
	}
	c.JSON(http.StatusOK, gin.H{"publication": pub})
}

func (s *Server) handlePublishNow(c *gin.Context) {
	pub, err := s.Publications.PublishNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to publish")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"publication": pub})
}

func (s *Server) handleCancel(c *gin.Context) {
	pub, err := s.Publications.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to cancel publication")
		return
	}
	c.JSON(http.StatusOK, gin.H{"publication": pub})
}

func (s *Server) handleGetAudit(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	logs, err := s.Stats.GetRecentAudit(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err, "Failed to get audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": logs})
}

func (s *Server) handleListContentPublications(c *gin.Context) {
	pubs, err := s.Publications.ListByContent(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to list publications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"publications": pubs})
}

func (s *Server) handleGetContentSummary(c *gin.Context) {
	summary, err := s.Stats.GetContentSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to get content summary")
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) handleGetPlatformStats(c *gin.Context) {
	days := queryInt(c, "days", 7)
	stats, err := s.Stats.GetPlatformStats(c.Request.Context(), days)
	if err != nil {
		s.respondError(c, err, "Failed to get platform stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// respondError maps service errors onto status codes. Unexpected errors are logged and hidden.
func (s *Server) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnknownAccount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInFlight),
		errors.Is(err, service.ErrNotCancellable),
		errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
