// Package directory manages the reference records the attendance core depends on:
// users and their student/faculty profiles, classrooms and cameras.
package directory

import (
	"context"
	"slices"
	"time"
)

// Role is the access role carried in a user's token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleFaculty || r == RoleStudent
}

// Status marks a record active or inactive.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User is a login identity.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Email          string    `json:"email,omitempty"`
	RegisterNumber string    `json:"registerNumber,omitempty"`
	PasswordHash   string    `json:"-"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Classroom groups students, cameras and sessions.
type Classroom struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Year       int       `json:"year"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Camera is a stream watched by the vision layer.
type Camera struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	StreamURL     string    `json:"streamUrl"`
	ClassroomID   string    `json:"classroomId"`
	ClassroomName string    `json:"classroomName,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Student is the profile attached to a student user. Name is read from the user.
type Student struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	RegisterNumber string    `json:"registerNumber"`
	Department     string    `json:"department"`
	Year           int       `json:"year"`
	ClassroomID    string    `json:"classroomId,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Faculty is the profile attached to a faculty user. Name is read from the user.
type Faculty struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	Department         string    `json:"department"`
	AssignedClassrooms []string  `json:"assignedClassrooms"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// AssignedTo reports whether the faculty member teaches the classroom.
func (f Faculty) AssignedTo(classroomID string) bool {
	return classroomID != "" && slices.Contains(f.AssignedClassrooms, classroomID)
}

// StudentFilter narrows ListStudents. Zero values match everything.
type StudentFilter struct {
	ClassroomID string
	WithImage   bool
}

// Roster is the snapshot the vision layer syncs before monitoring a session.
type Roster struct {
	Classrooms []Classroom `json:"classrooms"`
	Cameras    []Camera    `json:"cameras"`
	Students   []Student   `json:"students"`
	Faculty    []Faculty   `json:"faculty"`
}

// Store persists directory records. Implementations return apperr kinds:
// ErrNotFound for unknown ids and ErrDuplicate for unique violations.
type Store interface {
	CreateClassroom(ctx context.Context, c Classroom) (Classroom, error)
	GetClassroom(ctx context.Context, id string) (Classroom, error)
	ListClassrooms(ctx context.Context) ([]Classroom, error)
	UpdateClassroom(ctx context.Context, c Classroom) error
	DeleteClassroom(ctx context.Context, id string) error

	CreateCamera(ctx context.Context, c Camera) (Camera, error)
	GetCamera(ctx context.Context, id string) (Camera, error)
	ListCameras(ctx context.Context) ([]Camera, error)
	UpdateCamera(ctx context.Context, c Camera) error
	DeleteCamera(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByIdentifier(ctx context.Context, identifier string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error

	CreateStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, id string) (Student, error)
	StudentByUserID(ctx context.Context, userID string) (Student, error)
	ListStudents(ctx context.Context, f StudentFilter) ([]Student, error)
	UpdateStudent(ctx context.Context, s Student) error

	CreateFaculty(ctx context.Context, f Faculty) (Faculty, error)
	GetFaculty(ctx context.Context, id string) (Faculty, error)
	FacultyByUserID(ctx context.Context, userID string) (Faculty, error)
	ListFaculty(ctx context.Context, classroomID string) ([]Faculty, error)
	UpdateFaculty(ctx context.Context, f Faculty) error
}
