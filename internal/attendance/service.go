package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classroom/internal/directory"
)

// Directory is the subset of directory lookups the attendance core needs.
type Directory interface {
	FacultyByUserID(ctx context.Context, userID string) (directory.Faculty, error)
	Faculty(ctx context.Context, id string) (directory.Faculty, error)
	StudentByUserID(ctx context.Context, userID string) (directory.Student, error)
	Student(ctx context.Context, id string) (directory.Student, error)
	StudentsInClassroom(ctx context.Context, classroomID string) ([]directory.Student, error)
}

// Monitor starts and stops the vision layer for a session.
type Monitor interface {
	StartMonitoring(ctx context.Context, classroomID, sessionID string) error
	StopMonitoring(ctx context.Context) error
}

const defaultMaxRetries = 8

// Service coordinates attendance aggregation, sessions, rollups and OD requests.
type Service struct {
	store      Store
	dir        Directory
	policy     Policy
	loc        *time.Location
	monitor    Monitor
	logger     *zap.Logger
	now        func() time.Time
	maxRetries int
}

// Option customizes a Service.
type Option func(*Service)

// WithPolicy replaces the default scoring policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMonitor notifies the vision layer when sessions start and end.
func WithMonitor(m Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRetries bounds the optimistic update loop.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService creates a service. loc defines local day boundaries for sessions and rollups.
func NewService(store Store, dir Directory, loc *time.Location, logger *zap.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		dir:        dir,
		policy:     DefaultPolicy(),
		loc:        loc,
		logger:     logger,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the scoring policy in use.
func (s *Service) Policy() Policy { return s.policy }

// Location returns the zone used for local dates.
func (s *Service) Location() *time.Location { return s.loc }

const dateLayout = "2006-01-02"

// LocalDate formats t as YYYY-MM-DD in the service zone.
func (s *Service) LocalDate(t time.Time) string {
	return t.In(s.loc).Format(dateLayout)
}

// dayBounds returns [local midnight, next local midnight) for a YYYY-MM-DD date.
func (s *Service) dayBounds(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// monthBounds returns the local bounds of a YYYY-MM month.
func (s *Service) monthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", month, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}
