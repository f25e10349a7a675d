package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/auth"
	"classroom/internal/directory"
	"classroom/internal/queue"
	"classroom/internal/visionclient"
)

const testAPIKey = "ai-secret"

type fakeImages struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeImages) UploadImage(_ context.Context, data []byte, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, filename)
	return "https://img.example/" + filename, nil
}

func (f *fakeImages) UploadDataURL(_ context.Context, dataURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, "inline")
	return "https://img.example/inline.png", nil
}

type fakeVision struct {
	mu      sync.Mutex
	resyncs int
}

func (f *fakeVision) Status(context.Context) (*visionclient.Status, error) {
	return &visionclient.Status{Active: true, KnownFaces: 3}, nil
}

func (f *fakeVision) Resync(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return 3, nil
}

type testEnv struct {
	r      *gin.Engine
	dir    *directory.Service
	att    *attendance.Service
	queue  *queue.InMemory
	images *fakeImages
	vision *fakeVision

	admin string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := directory.NewService(directory.NewMemStore(), zap.NewNop())
	att := attendance.NewService(attendance.NewMemStore(), dir, time.UTC, zap.NewNop())
	e := &testEnv{
		dir:    dir,
		att:    att,
		queue:  queue.NewInMemory(8),
		images: &fakeImages{},
		vision: &fakeVision{},
	}
	e.r = NewRouter(Deps{
		Directory:  dir,
		Attendance: att,
		Signer:     auth.NewSigner("classroom-test", "test-key", time.Hour, 24*time.Hour),
		Queue:      e.queue,
		Images:     e.images,
		Vision:     e.vision,
		Logger:     zap.NewNop(),
		AIAPIKey:   testAPIKey,
	})

	_, err := dir.CreateUser(context.Background(), directory.CreateUserInput{
		Name: "Admin", Email: "admin@college.test", Password: "admin-pw", Role: directory.RoleAdmin,
	})
	require.NoError(t, err)
	e.admin = e.login(t, "admin@college.test", "admin-pw")
	return e
}

func (e *testEnv) send(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req, token)
}

func (e *testEnv) login(t *testing.T, identifier, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"identifier": identifier, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[tokenResponse](t, w).Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seed creates a classroom, a faculty member and a student through the admin API.
func (e *testEnv) seed(t *testing.T) (room directory.Classroom, facultyToken, studentToken string, student directory.Student) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/classrooms", e.admin, gin.H{"name": "CSE 3B", "department": "CSE", "year": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room = decode[directory.Classroom](t, w)

	w = e.do(t, http.MethodPost, "/api/admin/users", e.admin, gin.H{
		"name": "Dr. Lakshmi", "email": "lakshmi@college.test", "password": "fac-pw",
		"role": "faculty", "classroomIds": []string{room.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"name": "Priya", "password": "stu-pw", "role": "student",
		"registerNumber": "22CS045", "classroomId": room.ID,
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("image", "priya.jpg")
	require.NoError(t, err)
	_, _ = part.Write([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = e.send(t, req, e.admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[directory.User](t, w)

	student, err = e.dir.StudentByUserID(context.Background(), u.ID)
	require.NoError(t, err)
	return room, e.login(t, "lakshmi@college.test", "fac-pw"), e.login(t, "22CS045", "stu-pw"), student
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"identifier": "admin@college.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"identifier": "admin@college.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "password is required")

	w = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"identifier": "admin@college.test", "password": "admin-pw"})
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode[tokenResponse](t, w)
	assert.Equal(t, directory.RoleAdmin, tokens.Role)

	w = e.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[tokenResponse](t, w).Token)

	w = e.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": tokens.Token})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access tokens cannot refresh")

	w = e.do(t, http.MethodGet, "/api/admin/classrooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, _, studentToken, _ := e.seed(t)
	w = e.do(t, http.MethodGet, "/api/admin/classrooms", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAttendanceFlow(t *testing.T) {
	e := newTestEnv(t)
	room, facultyToken, studentToken, student := e.seed(t)

	assert.Equal(t, "https://img.example/priya.jpg", student.ImageURL)
	assert.Equal(t, 1, e.vision.resyncs)

	w := e.do(t, http.MethodGet, "/api/faculty/classrooms", facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]directory.Classroom](t, w), 1)

	w = e.do(t, http.MethodPost, "/api/faculty/sessions", facultyToken, gin.H{"classroomId": room.ID, "sessionName": "Networks"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sess := decode[attendance.Session](t, w)

	event := gin.H{
		"studentId": student.ID, "cameraId": "cam-1", "classSessionId": sess.ID,
		"signals": gin.H{"yawning": true},
	}
	w = e.do(t, http.MethodPost, "/api/ai/events", "", event)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/ai/events", strings.NewReader(`{"studentId":"`+student.ID+`","cameraId":"cam-1","classSessionId":"`+sess.ID+`","signals":{"yawning":true,"phone_usage":true}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	w = e.send(t, req, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode[map[string]any](t, w)
	assert.Equal(t, float64(80), out["engagementScore"])
	assert.NotEmpty(t, out["aiEventId"])

	w = e.do(t, http.MethodGet, "/api/faculty/sessions/"+sess.ID+"/attendance", facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	live := decode[[]attendance.RecordView](t, w)
	require.Len(t, live, 1)
	assert.Equal(t, "Priya", live[0].StudentName)
	assert.Len(t, live[0].Behaviors, 2)

	w = e.do(t, http.MethodGet, "/api/faculty/sessions?classroomId="+room.ID, facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]attendance.SessionSummary](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Present)

	w = e.do(t, http.MethodPut, "/api/faculty/sessions/"+sess.ID+"/end", facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, attendance.SessionCompleted, decode[attendance.Session](t, w).Status)

	w = e.do(t, http.MethodGet, "/api/student/attendance/summary", studentToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[attendance.Summary](t, w)
	assert.Equal(t, 1, sum.Present)
	assert.Equal(t, "100.00", sum.Percentage)
	assert.Equal(t, "100.00", sum.CumulativePercentage)

	w = e.do(t, http.MethodGet, "/api/student/attendance/daily", studentToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]attendance.Daily](t, w), 1)

	w = e.do(t, http.MethodGet, "/api/student/attendance/history?month=03-2025", studentToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/faculty/attendance/"+room.ID, facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[[]attendance.DailyView](t, w)
	require.Len(t, hist, 1)
	assert.Equal(t, 100, hist[0].Percentage)

	w = e.do(t, http.MethodGet, "/api/faculty/vision/status", facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[visionclient.Status](t, w).KnownFaces)
}

func TestODWorkflow(t *testing.T) {
	e := newTestEnv(t)
	_, facultyToken, studentToken, _ := e.seed(t)

	w := e.do(t, http.MethodGet, "/api/student/eligible-faculty", studentToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fac := decode[[]directory.Faculty](t, w)
	require.Len(t, fac, 1)

	w = e.do(t, http.MethodPost, "/api/student/od-requests", studentToken, gin.H{
		"requestDate": "14/03/2025", "requestedFacultyId": fac[0].ID, "reason": "Symposium",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "requestDate must be in YYYY-MM-DD format")

	w = e.do(t, http.MethodPost, "/api/student/od-requests", studentToken, gin.H{
		"requestDate": "2025-03-14", "requestedFacultyId": fac[0].ID, "reason": "Symposium",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	od := decode[attendance.ODRequest](t, w)

	w = e.do(t, http.MethodPost, "/api/student/od-requests", studentToken, gin.H{
		"requestDate": "2025-03-14", "requestedFacultyId": fac[0].ID, "reason": "Again",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/faculty/od-requests", facultyToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[[]attendance.ODRequestView](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, "Priya", pending[0].StudentName)

	w = e.do(t, http.MethodPut, "/api/faculty/od-requests/"+od.ID, facultyToken, gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "status must be one of")

	w = e.do(t, http.MethodPut, "/api/faculty/od-requests/"+od.ID, facultyToken, gin.H{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, attendance.ODApproved, decode[attendance.ODRequest](t, w).Status)

	w = e.do(t, http.MethodGet, "/api/student/od-requests", studentToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]attendance.ODRequestView](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, "Dr. Lakshmi", mine[0].FacultyName)
}

func TestAsyncEventIsQueued(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ai/events/async",
		strings.NewReader(`{"studentId":"stu-1","classSessionId":"sess-1","signals":{"sleeping":true}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	w := e.send(t, req, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := e.queue.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		ev, err := queue.DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "sess-1", ev.ClassSessionID)
		assert.True(t, ev.Signals.Sleeping)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no message queued")
	}
}

func TestAdminValidationAndDelete(t *testing.T) {
	e := newTestEnv(t)
	room, _, _, student := e.seed(t)

	w := e.do(t, http.MethodPost, "/api/admin/classrooms", e.admin, gin.H{"name": "X", "department": "CSE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "year is required")

	w = e.do(t, http.MethodPost, "/api/admin/classrooms", e.admin, gin.H{"name": "CSE 3B", "department": "CSE", "year": 3})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPut, "/api/admin/classrooms/"+room.ID, e.admin, gin.H{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/admin/rollups/recompute", e.admin, gin.H{"classroomId": room.ID, "date": "2025-13-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPost, "/api/admin/rollups/recompute", e.admin, gin.H{"classroomId": room.ID, "date": "2025-03-10"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodDelete, "/api/admin/users/"+student.UserID, e.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodDelete, "/api/admin/users/"+student.UserID, e.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/ai/sync", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateStudentWithInlinePhoto(t *testing.T) {
	e := newTestEnv(t)
	room, _, _, _ := e.seed(t)

	w := e.do(t, http.MethodPost, "/api/admin/users", e.admin, gin.H{
		"name": "Divya", "password": "stu-pw", "role": "student", "registerNumber": "22CS046",
		"classroomId": room.ID, "image": "data:image/png;base64,iVBORw0KGgo=",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[directory.User](t, w)
	st, err := e.dir.StudentByUserID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/inline.png", st.ImageURL)
	assert.Contains(t, e.images.names, "inline")

	w = e.do(t, http.MethodPost, "/api/admin/users", e.admin, gin.H{
		"name": "Hari", "password": "stu-pw", "role": "student", "registerNumber": "22CS047",
		"classroomId": room.ID, "image": "https://elsewhere.example/hari.png",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "data:image")
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{
		Signer: auth.NewSigner("t", "k", time.Hour, time.Hour),
		Health: map[string]HealthCheck{
			"db":    func(context.Context) bool { return true },
			"redis": func(context.Context) bool { return false },
		},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["redis"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
