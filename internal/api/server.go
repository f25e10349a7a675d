// Package api exposes the attendance service over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/auth"
	"classroom/internal/directory"
	"classroom/internal/httpmiddleware"
	"classroom/internal/logging"
	"classroom/internal/queue"
	"classroom/internal/visionclient"
)

// ImageStore hosts uploaded student photos and returns their public URL.
type ImageStore interface {
	UploadImage(ctx context.Context, data []byte, filename string) (string, error)
	UploadDataURL(ctx context.Context, dataURL string) (string, error)
}

// Vision is the part of the vision client the API calls directly.
type Vision interface {
	Status(ctx context.Context) (*visionclient.Status, error)
	Resync(ctx context.Context) (int, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the router. Queue, Images and Vision are optional.
type Deps struct {
	Directory  *directory.Service
	Attendance *attendance.Service
	Signer     *auth.Signer
	Queue      queue.Queue
	Images     ImageStore
	Vision     Vision
	Logger     *zap.Logger

	AIAPIKey        string
	RateLimitPerMin int
	WebDir          string
	Health          map[string]HealthCheck
}

type handler struct {
	dir    *directory.Service
	att    *attendance.Service
	signer *auth.Signer
	queue  queue.Queue
	images ImageStore
	vision Vision
	logger *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	registerValidators()

	h := &handler{
		dir:    d.Directory,
		att:    d.Attendance,
		signer: d.Signer,
		queue:  d.Queue,
		images: d.Images,
		vision: d.Vision,
		logger: d.Logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(d.Logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	if d.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewIPLimiter(d.RateLimitPerMin).GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(d.Health))

	api := r.Group("/api")
	api.POST("/auth/login", h.login)
	api.POST("/auth/refresh", h.refresh)

	bearer := auth.Bearer(d.Signer)

	admin := api.Group("/admin", bearer, auth.RequireRole(string(directory.RoleAdmin)))
	admin.GET("/classrooms", h.listClassrooms)
	admin.POST("/classrooms", h.createClassroom)
	admin.PUT("/classrooms/:id", h.updateClassroom)
	admin.DELETE("/classrooms/:id", h.deleteClassroom)
	admin.GET("/cameras", h.listCameras)
	admin.POST("/cameras", h.createCamera)
	admin.PUT("/cameras/:id", h.updateCamera)
	admin.DELETE("/cameras/:id", h.deleteCamera)
	admin.GET("/users", h.listUsers)
	admin.POST("/users", h.createUser)
	admin.PUT("/users/:id", h.updateUser)
	admin.DELETE("/users/:id", h.deleteUser)
	admin.POST("/rollups/recompute", h.recompute)

	faculty := api.Group("/faculty", bearer, auth.RequireRole(string(directory.RoleFaculty)))
	faculty.GET("/classrooms", h.facultyClassrooms)
	faculty.POST("/sessions", h.startSession)
	faculty.GET("/sessions", h.listSessions)
	faculty.PUT("/sessions/:id/end", h.endSession)
	faculty.DELETE("/sessions/:id", h.deleteSession)
	faculty.GET("/sessions/:id/attendance", h.liveAttendance)
	faculty.GET("/attendance/:classroomId", h.classroomHistory)
	faculty.GET("/od-requests", h.pendingOD)
	faculty.PUT("/od-requests/:id", h.respondOD)
	faculty.GET("/vision/status", h.visionStatus)

	student := api.Group("/student", bearer, auth.RequireRole(string(directory.RoleStudent)))
	student.GET("/profile", h.profile)
	student.GET("/eligible-faculty", h.eligibleFaculty)
	student.GET("/attendance/summary", h.summary)
	student.GET("/attendance/details", h.details)
	student.GET("/attendance/history", h.history)
	student.GET("/attendance/daily", h.daily)
	student.GET("/od-requests", h.myOD)
	student.POST("/od-requests", h.submitOD)

	ai := api.Group("/ai", auth.APIKey(d.AIAPIKey))
	ai.POST("/events", h.aiEvent)
	ai.POST("/events/async", h.aiEventAsync)
	ai.POST("/absent", h.aiAbsent)
	ai.GET("/sync", h.aiSync)

	if d.WebDir != "" {
		r.StaticFile("/", filepath.Join(d.WebDir, "index.html"))
		r.Static("/static", filepath.Join(d.WebDir, "static"))
	}
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range checks {
			ok := check(c.Request.Context())
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

// userID returns the authenticated user's id. Routes using it sit behind auth.Bearer.
func userID(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.UserID
}
