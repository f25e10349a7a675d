package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/queue"
)

type aiEventRequest struct {
	StudentID      string             `json:"studentId" binding:"required"`
	CameraID       string             `json:"cameraId"`
	ClassSessionID string             `json:"classSessionId" binding:"required"`
	Timestamp      *time.Time         `json:"timestamp"`
	Signals        attendance.Signals `json:"signals"`
}

func (r aiEventRequest) event() attendance.Event {
	ev := attendance.Event{
		StudentID:      r.StudentID,
		CameraID:       r.CameraID,
		ClassSessionID: r.ClassSessionID,
		Signals:        r.Signals,
	}
	if r.Timestamp != nil {
		ev.Timestamp = *r.Timestamp
	}
	return ev
}

// aiEvent applies one detection synchronously.
func (h *handler) aiEvent(c *gin.Context) {
	var req aiEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	out, err := h.att.Ingest(c.Request.Context(), req.event())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":         true,
		"aiEventId":       out.EventID,
		"status":          out.Record.Status,
		"engagementScore": out.Record.EngagementScore,
		"applied":         out.Applied,
		"debounced":       out.Debounced,
	})
}

// aiEventAsync queues the detection for cmd/worker.
func (h *handler) aiEventAsync(c *gin.Context) {
	if h.queue == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion queue not configured"})
		return
	}
	var req aiEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ev := req.event()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	msg, err := queue.EventMessage(ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.queue.Publish(c.Request.Context(), msg); err != nil {
		h.logger.Error("queue publish failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type absentRequest struct {
	StudentID      string `json:"studentId" binding:"required"`
	ClassSessionID string `json:"classSessionId" binding:"required"`
}

func (h *handler) aiAbsent(c *gin.Context) {
	var req absentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	rec, created, err := h.att.MarkAbsent(c.Request.Context(), req.StudentID, req.ClassSessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "created": created, "status": rec.Status})
}

func (h *handler) aiSync(c *gin.Context) {
	roster, err := h.dir.Sync(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roster)
}
