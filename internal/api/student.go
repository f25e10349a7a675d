package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/attendance"
)

func (h *handler) profile(c *gin.Context) {
	st, err := h.dir.StudentByUserID(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) eligibleFaculty(c *gin.Context) {
	list, err := h.dir.EligibleFaculty(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) summary(c *gin.Context) {
	sum, err := h.att.StudentSummary(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handler) details(c *gin.Context) {
	rows, err := h.att.StudentDetails(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) history(c *gin.Context) {
	rows, err := h.att.StudentHistory(c.Request.Context(), userID(c), attendance.HistoryFilter{
		Date:  c.Query("date"),
		Month: c.Query("month"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// daily filters by ?month=YYYY-MM, falling back to ?year=YYYY.
func (h *handler) daily(c *gin.Context) {
	period := c.Query("month")
	if period == "" {
		period = c.Query("year")
	}
	rows, err := h.att.StudentDaily(c.Request.Context(), userID(c), period)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) myOD(c *gin.Context) {
	rows, err := h.att.MyODRequests(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type submitODRequest struct {
	RequestDate        string `json:"requestDate" binding:"required,isodate"`
	RequestedFacultyID string `json:"requestedFacultyId" binding:"required"`
	Reason             string `json:"reason" binding:"required"`
}

func (h *handler) submitOD(c *gin.Context) {
	var req submitODRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	od, err := h.att.SubmitODRequest(c.Request.Context(), userID(c), attendance.ODInput{
		RequestDate:        req.RequestDate,
		RequestedFacultyID: req.RequestedFacultyID,
		Reason:             req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, od)
}
