// Package attendance implements the attendance core: signal aggregation with debounce and OD
// immunity, the class session lifecycle, daily rollups and the OD request workflow.
package attendance

import (
	"context"
	"time"
)

// Status is the attendance state of a student in one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusOD      Status = "od"
)

// Attended reports whether the status counts towards attended sessions.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusOD
}

// Source records what produced a record's current status.
type Source string

const (
	SourceAI Source = "ai"
	SourceOD Source = "od"
)

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// ODStatus is the state of an OD request.
type ODStatus string

const (
	ODPending  ODStatus = "pending"
	ODApproved ODStatus = "approved"
	ODRejected ODStatus = "rejected"
)

// Signal is a behavior the vision layer can report.
type Signal string

const (
	SignalSleeping    Signal = "sleeping"
	SignalYawning     Signal = "yawning"
	SignalLaughing    Signal = "laughing"
	SignalPhoneUsage  Signal = "phone_usage"
	SignalLookingAway Signal = "looking_away"
)

// Signals carries the boolean flags of one detection event.
type Signals struct {
	Sleeping    bool `json:"sleeping"`
	Yawning     bool `json:"yawning"`
	Laughing    bool `json:"laughing"`
	PhoneUsage  bool `json:"phone_usage"`
	LookingAway bool `json:"looking_away"`
}

// Active returns the raised signals in evaluation order.
func (s Signals) Active() []Signal {
	var out []Signal
	if s.Sleeping {
		out = append(out, SignalSleeping)
	}
	if s.Yawning {
		out = append(out, SignalYawning)
	}
	if s.Laughing {
		out = append(out, SignalLaughing)
	}
	if s.PhoneUsage {
		out = append(out, SignalPhoneUsage)
	}
	if s.LookingAway {
		out = append(out, SignalLookingAway)
	}
	return out
}

// Behavior is one applied penalty.
type Behavior struct {
	SignalType Signal    `json:"signalType"`
	Timestamp  time.Time `json:"timestamp"`
	Penalty    int       `json:"penalty"`
}

// Record is the attendance of one student in one session.
type Record struct {
	ID              string     `json:"id"`
	StudentID       string     `json:"studentId"`
	ClassSessionID  string     `json:"classSessionId"`
	Status          Status     `json:"status"`
	EngagementScore int        `json:"engagementScore"`
	Behaviors       []Behavior `json:"behaviors"`
	Source          Source     `json:"source"`
	Version         int64      `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (r Record) clone() Record {
	r.Behaviors = append([]Behavior(nil), r.Behaviors...)
	return r
}

// unobserved reports whether r is a bare absence mark that no signal has reached yet.
func (r Record) unobserved() bool {
	return r.Status == StatusAbsent && r.EngagementScore == 0 && len(r.Behaviors) == 0
}

// Session is one class taught in a classroom.
type Session struct {
	ID              string        `json:"id"`
	ClassroomID     string        `json:"classroomId"`
	FacultyID       string        `json:"facultyId"`
	SessionName     string        `json:"sessionName"`
	Date            time.Time     `json:"date"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	DurationMinutes int           `json:"durationMinutes"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Daily is the rollup of one student's sessions in a classroom on one local day.
type Daily struct {
	ID               string    `json:"id"`
	StudentID        string    `json:"studentId"`
	ClassroomID      string    `json:"classroomId"`
	Date             string    `json:"date"`
	TotalSessions    int       `json:"totalSessions"`
	AttendedSessions int       `json:"attendedSessions"`
	Percentage       int       `json:"percentage"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ODRequest asks a faculty member to mark a whole day as on-duty.
type ODRequest struct {
	ID                 string    `json:"id"`
	StudentID          string    `json:"studentId"`
	RequestDate        string    `json:"requestDate"`
	RequestedFacultyID string    `json:"requestedFacultyId"`
	Reason             string    `json:"reason"`
	Status             ODStatus  `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Event is a raw detection reported by the vision layer.
type Event struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"studentId"`
	CameraID       string    `json:"cameraId"`
	ClassSessionID string    `json:"classSessionId"`
	Timestamp      time.Time `json:"timestamp"`
	Signals        Signals   `json:"signals"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SessionFilter narrows ListSessions. Results are newest first.
type SessionFilter struct {
	ClassroomID string
	Status      SessionStatus
	// From and To bound Date as [From, To); zero values are open.
	From  time.Time
	To    time.Time
	Limit int
}

// DailyFilter narrows ListDaily. DatePrefix matches "2024" or "2024-03".
type DailyFilter struct {
	StudentID   string
	ClassroomID string
	Date        string
	DatePrefix  string
}

// ODFilter narrows ListODRequests. Results are newest first.
type ODFilter struct {
	StudentID   string
	FacultyID   string
	RequestDate string
	Status      ODStatus
}

// Store persists attendance data. Implementations return apperr kinds: ErrNotFound for unknown
// ids, ErrDuplicate for unique violations and ErrConflict when UpdateRecord loses a version race.
type Store interface {
	InsertEvent(ctx context.Context, e Event) error

	GetRecord(ctx context.Context, studentID, sessionID string) (Record, error)
	// CreateRecord inserts a record with Version 1.
	CreateRecord(ctx context.Context, r Record) error
	// UpdateRecord writes r if the stored version still equals r.Version, then bumps it.
	UpdateRecord(ctx context.Context, r Record) error
	// UpsertODRecords forces an od/100/od record for the student in every given session.
	UpsertODRecords(ctx context.Context, studentID string, sessionIDs []string, at time.Time) error
	ListRecordsBySession(ctx context.Context, sessionID string) ([]Record, error)
	ListRecordsByStudent(ctx context.Context, studentID string) ([]Record, error)
	ListRecordsForSessions(ctx context.Context, sessionIDs []string) ([]Record, error)

	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// CloseSession stores s as completed and downgrades the session's AI-sourced present records
	// scoring at or below threshold, in one step. ErrConflict when the session is no longer active.
	CloseSession(ctx context.Context, s Session, threshold int) (int, error)
	// DeleteSession removes the session and its records.
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, f SessionFilter) ([]Session, error)
	SessionsByID(ctx context.Context, ids []string) ([]Session, error)

	// UpsertDaily writes d keyed by (student, classroom, date) and returns the stored row.
	UpsertDaily(ctx context.Context, d Daily) (Daily, error)
	ListDaily(ctx context.Context, f DailyFilter) ([]Daily, error)
	DeleteDaily(ctx context.Context, classroomID, date string) error

	CreateODRequest(ctx context.Context, r ODRequest) error
	GetODRequest(ctx context.Context, id string) (ODRequest, error)
	// ResolveODRequest moves a pending request to status and, in the same step, forces od records
	// for its student in sessionIDs. ErrConflict when the request is no longer pending.
	ResolveODRequest(ctx context.Context, id string, status ODStatus, at time.Time, sessionIDs []string) error
	ListODRequests(ctx context.Context, f ODFilter) ([]ODRequest, error)

	// PurgeStudent removes every record, rollup and OD request of a student.
	PurgeStudent(ctx context.Context, studentID string) error
}
