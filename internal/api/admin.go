package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"classroom/internal/apperr"
	"classroom/internal/directory"
)

const (
	maxImageBytes = 5 << 20
	// base64 of maxImageBytes plus room for the data URL header
	maxDataURLBytes = maxImageBytes/3*4 + 256
)

type classroomRequest struct {
	Name       string `json:"name" binding:"required"`
	Department string `json:"department" binding:"required"`
	Year       int    `json:"year" binding:"required,min=1"`
}

type classroomPatchRequest struct {
	Name       *string           `json:"name"`
	Department *string           `json:"department"`
	Year       *int              `json:"year" binding:"omitempty,min=1"`
	Status     *directory.Status `json:"status" binding:"omitempty,oneof=active inactive"`
}

func (h *handler) listClassrooms(c *gin.Context) {
	rooms, err := h.dir.ListClassrooms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *handler) createClassroom(c *gin.Context) {
	var req classroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	room, err := h.dir.CreateClassroom(c.Request.Context(), directory.ClassroomInput{
		Name: req.Name, Department: req.Department, Year: req.Year,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *handler) updateClassroom(c *gin.Context) {
	var req classroomPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	room, err := h.dir.UpdateClassroom(c.Request.Context(), c.Param("id"), directory.ClassroomPatch{
		Name: req.Name, Department: req.Department, Year: req.Year, Status: req.Status,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handler) deleteClassroom(c *gin.Context) {
	if err := h.dir.DeleteClassroom(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Classroom removed"})
}

type cameraRequest struct {
	Name        string           `json:"name"`
	StreamURL   string           `json:"streamUrl"`
	ClassroomID string           `json:"classroomId"`
	Status      directory.Status `json:"status" binding:"omitempty,oneof=active inactive"`
}

func (h *handler) listCameras(c *gin.Context) {
	cams, err := h.dir.ListCameras(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cams)
}

func (h *handler) createCamera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	cam, err := h.dir.CreateCamera(c.Request.Context(), directory.CameraInput{
		Name: req.Name, StreamURL: req.StreamURL, ClassroomID: req.ClassroomID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cam)
}

func (h *handler) updateCamera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	cam, err := h.dir.UpdateCamera(c.Request.Context(), c.Param("id"), directory.CameraPatch{
		Name: req.Name, StreamURL: req.StreamURL, ClassroomID: req.ClassroomID, Status: req.Status,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cam)
}

func (h *handler) deleteCamera(c *gin.Context) {
	if err := h.dir.DeleteCamera(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Camera removed"})
}

// userRequest binds both JSON bodies and multipart forms carrying an "image" file.
type userRequest struct {
	Name           string           `json:"name" form:"name"`
	Email          string           `json:"email" form:"email" binding:"omitempty,email"`
	Password       string           `json:"password" form:"password"`
	Role           directory.Role   `json:"role" form:"role"`
	RegisterNumber string           `json:"registerNumber" form:"registerNumber"`
	Department     string           `json:"department" form:"department"`
	Year           int              `json:"year" form:"year"`
	ClassroomID    string           `json:"classroomId" form:"classroomId"`
	ClassroomIDs   []string         `json:"classroomIds" form:"classroomIds"`
	Status         directory.Status `json:"status" form:"status"`
	ImageURL       string           `json:"imageUrl" form:"imageUrl"`
	// Image is a base64 data URL; multipart requests attach a file part instead.
	Image string `json:"image" form:"-"`
}

// classrooms returns nil when the request names none.
func (r userRequest) classrooms() []string {
	if r.ClassroomIDs != nil {
		return r.ClassroomIDs
	}
	if r.ClassroomID != "" {
		return []string{r.ClassroomID}
	}
	return nil
}

// bindUser binds the request and uploads the attached image, if any.
func (h *handler) bindUser(c *gin.Context) (userRequest, bool) {
	var req userRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, err)
		return req, false
	}
	if c.ContentType() != binding.MIMEMultipartPOSTForm {
		if req.Image == "" {
			return req, true
		}
		if !strings.HasPrefix(req.Image, "data:image/") {
			h.fail(c, apperr.Invalid("image must be a data:image/... URL"))
			return req, false
		}
		if len(req.Image) > maxDataURLBytes {
			h.fail(c, apperr.Invalid("image must be at most 5MB"))
			return req, false
		}
		return h.storeImage(c, req, func(ctx context.Context, images ImageStore) (string, error) {
			return images.UploadDataURL(ctx, req.Image)
		})
	}

	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return req, true
	}
	if err != nil {
		h.badRequest(c, err)
		return req, false
	}
	f, err := fh.Open()
	if err != nil {
		h.badRequest(c, err)
		return req, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		h.fail(c, err)
		return req, false
	}
	if len(data) > maxImageBytes {
		h.fail(c, apperr.Invalid("image must be at most 5MB"))
		return req, false
	}
	return h.storeImage(c, req, func(ctx context.Context, images ImageStore) (string, error) {
		return images.UploadImage(ctx, data, fh.Filename)
	})
}

// storeImage runs upload against the image store and records the hosted URL on req.
func (h *handler) storeImage(c *gin.Context, req userRequest, upload func(context.Context, ImageStore) (string, error)) (userRequest, bool) {
	if h.images == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return req, false
	}
	url, err := upload(c.Request.Context(), h.images)
	if err != nil {
		h.logger.Error("image upload failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return req, false
	}
	req.ImageURL = url
	return req, true
}

// resync asks the vision layer to reload faces after a student photo changes.
func (h *handler) resync(c *gin.Context, role directory.Role, imageURL string) {
	if h.vision == nil || role != directory.RoleStudent || imageURL == "" {
		return
	}
	if _, err := h.vision.Resync(c.Request.Context()); err != nil {
		h.logger.Warn("vision resync failed", zap.Error(err))
	}
}

func (h *handler) listUsers(c *gin.Context) {
	users, err := h.dir.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *handler) createUser(c *gin.Context) {
	req, ok := h.bindUser(c)
	if !ok {
		return
	}
	u, err := h.dir.CreateUser(c.Request.Context(), directory.CreateUserInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Role:           req.Role,
		RegisterNumber: req.RegisterNumber,
		Department:     req.Department,
		Year:           req.Year,
		ClassroomIDs:   req.classrooms(),
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.resync(c, u.Role, req.ImageURL)
	c.JSON(http.StatusCreated, u)
}

func (h *handler) updateUser(c *gin.Context) {
	req, ok := h.bindUser(c)
	if !ok {
		return
	}
	u, err := h.dir.UpdateUser(c.Request.Context(), c.Param("id"), directory.UpdateUserInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		RegisterNumber: req.RegisterNumber,
		Department:     req.Department,
		Year:           req.Year,
		Status:         req.Status,
		ClassroomIDs:   req.classrooms(),
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.resync(c, u.Role, req.ImageURL)
	c.JSON(http.StatusOK, u)
}

// deleteUser removes the user and, for students, their attendance data.
func (h *handler) deleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	del, err := h.dir.DeleteUser(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.att.PurgeStudent(ctx, del.StudentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User removed"})
}

type recomputeRequest struct {
	ClassroomID string `json:"classroomId" binding:"required"`
	Date        string `json:"date" binding:"required,isodate"`
}

func (h *handler) recompute(c *gin.Context) {
	var req recomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	rows, err := h.att.RecomputeDay(c.Request.Context(), req.ClassroomID, req.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classroomId": req.ClassroomID, "date": req.Date, "rollups": rows})
}
