package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classroom/internal/directory"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeMonitor struct {
	mu      sync.Mutex
	started []string
	stops   int
}

func (m *fakeMonitor) StartMonitoring(_ context.Context, _, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, sessionID)
	return nil
}

func (m *fakeMonitor) StopMonitoring(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

type fixture struct {
	ctx     context.Context
	svc     *Service
	store   *MemStore
	dir     *directory.Service
	clock   *fakeClock
	monitor *fakeMonitor

	room        directory.Classroom
	facultyUser directory.User
	faculty     directory.Faculty
	studentUser directory.User
	student     directory.Student
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := directory.NewService(directory.NewMemStore(), zap.NewNop())

	room, err := dir.CreateClassroom(ctx, directory.ClassroomInput{Name: "CSE 2A", Department: "CSE", Year: 2})
	require.NoError(t, err)
	facUser, err := dir.CreateUser(ctx, directory.CreateUserInput{
		Name: "Dr. Meena", Email: "meena@college.test", Password: "pw", Role: directory.RoleFaculty,
		ClassroomIDs: []string{room.ID},
	})
	require.NoError(t, err)
	fac, err := dir.FacultyByUserID(ctx, facUser.ID)
	require.NoError(t, err)
	stuUser, err := dir.CreateUser(ctx, directory.CreateUserInput{
		Name: "Arun", Password: "pw", Role: directory.RoleStudent, RegisterNumber: "21CS001",
		ClassroomIDs: []string{room.ID},
	})
	require.NoError(t, err)
	stu, err := dir.StudentByUserID(ctx, stuUser.ID)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, ist)}
	mon := &fakeMonitor{}
	st := NewMemStore()
	opts = append([]Option{WithClock(clock.Now), WithMonitor(mon)}, opts...)
	svc := NewService(st, dir, ist, zap.NewNop(), opts...)

	return &fixture{
		ctx: ctx, svc: svc, store: st, dir: dir, clock: clock, monitor: mon,
		room: room, facultyUser: facUser, faculty: fac, studentUser: stuUser, student: stu,
	}
}

// addStudent enrolls another student in the fixture classroom.
func (f *fixture) addStudent(t *testing.T, name, regNo string) directory.Student {
	t.Helper()
	u, err := f.dir.CreateUser(f.ctx, directory.CreateUserInput{
		Name: name, Password: "pw", Role: directory.RoleStudent, RegisterNumber: regNo,
		ClassroomIDs: []string{f.room.ID},
	})
	require.NoError(t, err)
	st, err := f.dir.StudentByUserID(f.ctx, u.ID)
	require.NoError(t, err)
	return st
}

func (f *fixture) start(t *testing.T, name string) Session {
	t.Helper()
	sess, err := f.svc.StartSession(f.ctx, f.facultyUser.ID, f.room.ID, name)
	require.NoError(t, err)
	return sess
}

func (f *fixture) end(t *testing.T, sessionID string) Session {
	t.Helper()
	sess, err := f.svc.EndSession(f.ctx, f.facultyUser.ID, sessionID)
	require.NoError(t, err)
	return sess
}

func (f *fixture) ingest(t *testing.T, studentID, sessionID string, signals Signals) Outcome {
	t.Helper()
	out, err := f.svc.Ingest(f.ctx, Event{
		StudentID:      studentID,
		CameraID:       "cam-1",
		ClassSessionID: sessionID,
		Timestamp:      f.clock.Now(),
		Signals:        signals,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) record(t *testing.T, studentID, sessionID string) Record {
	t.Helper()
	rec, err := f.store.GetRecord(f.ctx, studentID, sessionID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) today() string {
	return f.svc.LocalDate(f.clock.Now())
}

// useStore points the fixture service at st, which usually wraps f.store.
func (f *fixture) useStore(st Store) {
	f.svc = NewService(st, f.dir, ist, zap.NewNop(), WithClock(f.clock.Now), WithMonitor(f.monitor))
}

// failingStore fails the named operations until they are cleared.
type failingStore struct {
	*MemStore
	mu   sync.Mutex
	fail map[string]error
}

func newFailingStore(m *MemStore) *failingStore {
	return &failingStore{MemStore: m, fail: make(map[string]error)}
}

func (s *failingStore) set(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *failingStore) err(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[op]
}

func (s *failingStore) ResolveODRequest(ctx context.Context, id string, status ODStatus, at time.Time, sessionIDs []string) error {
	if err := s.err("ResolveODRequest"); err != nil {
		return err
	}
	return s.MemStore.ResolveODRequest(ctx, id, status, at, sessionIDs)
}

func (s *failingStore) UpsertDaily(ctx context.Context, d Daily) (Daily, error) {
	if err := s.err("UpsertDaily"); err != nil {
		return Daily{}, err
	}
	return s.MemStore.UpsertDaily(ctx, d)
}

// gatedStore holds every GetODRequest caller until n of them have read the request.
type gatedStore struct {
	*MemStore
	gate sync.WaitGroup
}

func newGatedStore(m *MemStore, n int) *gatedStore {
	s := &gatedStore{MemStore: m}
	s.gate.Add(n)
	return s
}

func (s *gatedStore) GetODRequest(ctx context.Context, id string) (ODRequest, error) {
	r, err := s.MemStore.GetODRequest(ctx, id)
	s.gate.Done()
	s.gate.Wait()
	return r, err
}
