package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/attendance"
)

func (h *handler) facultyClassrooms(c *gin.Context) {
	rooms, err := h.dir.AssignedClassrooms(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

type startSessionRequest struct {
	ClassroomID string `json:"classroomId" binding:"required"`
	SessionName string `json:"sessionName" binding:"required"`
}

func (h *handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sess, err := h.att.StartSession(c.Request.Context(), userID(c), req.ClassroomID, req.SessionName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *handler) listSessions(c *gin.Context) {
	list, err := h.att.ClassroomSessions(c.Request.Context(), userID(c), c.Query("classroomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) endSession(c *gin.Context) {
	sess, err := h.att.EndSession(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.att.DeleteSession(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func (h *handler) liveAttendance(c *gin.Context) {
	rows, err := h.att.LiveAttendance(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) classroomHistory(c *gin.Context) {
	rows, err := h.att.ClassroomHistory(c.Request.Context(), userID(c), c.Param("classroomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) pendingOD(c *gin.Context) {
	reqs, err := h.att.PendingODRequests(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

type respondODRequest struct {
	Status attendance.ODStatus `json:"status" binding:"required,oneof=approved rejected"`
}

func (h *handler) respondOD(c *gin.Context) {
	var req respondODRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	od, err := h.att.RespondToODRequest(c.Request.Context(), userID(c), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, od)
}

func (h *handler) visionStatus(c *gin.Context) {
	if h.vision == nil {
		c.JSON(http.StatusOK, gin.H{"active": false, "skipped": true})
		return
	}
	st, err := h.vision.Status(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}
