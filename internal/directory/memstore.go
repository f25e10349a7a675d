package directory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"classroom/internal/apperr"
)

// MemStore is a map-backed Store for development and tests. It enforces the same
// uniqueness rules as the Postgres schema.
type MemStore struct {
	mu         sync.RWMutex
	classrooms map[string]Classroom
	cameras    map[string]Camera
	users      map[string]User
	students   map[string]Student
	faculty    map[string]Faculty
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		classrooms: make(map[string]Classroom),
		cameras:    make(map[string]Camera),
		users:      make(map[string]User),
		students:   make(map[string]Student),
		faculty:    make(map[string]Faculty),
	}
}

func (m *MemStore) CreateClassroom(_ context.Context, c Classroom) (Classroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.classrooms {
		if strings.EqualFold(existing.Name, c.Name) {
			return Classroom{}, apperr.Duplicate("classroom %q already exists", c.Name)
		}
	}
	m.classrooms[c.ID] = c
	return c, nil
}

func (m *MemStore) GetClassroom(_ context.Context, id string) (Classroom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classrooms[id]
	if !ok {
		return Classroom{}, apperr.NotFound("classroom")
	}
	return c, nil
}

func (m *MemStore) ListClassrooms(_ context.Context) ([]Classroom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Classroom, 0, len(m.classrooms))
	for _, c := range m.classrooms {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpdateClassroom(_ context.Context, c Classroom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classrooms[c.ID]; !ok {
		return apperr.NotFound("classroom")
	}
	for id, existing := range m.classrooms {
		if id != c.ID && strings.EqualFold(existing.Name, c.Name) {
			return apperr.Duplicate("classroom %q already exists", c.Name)
		}
	}
	m.classrooms[c.ID] = c
	for id, cam := range m.cameras {
		if cam.ClassroomID == c.ID {
			cam.ClassroomName = c.Name
			m.cameras[id] = cam
		}
	}
	return nil
}

func (m *MemStore) DeleteClassroom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classrooms[id]; !ok {
		return apperr.NotFound("classroom")
	}
	delete(m.classrooms, id)
	for camID, cam := range m.cameras {
		if cam.ClassroomID == id {
			delete(m.cameras, camID)
		}
	}
	for sid, st := range m.students {
		if st.ClassroomID == id {
			st.ClassroomID = ""
			m.students[sid] = st
		}
	}
	for fid, f := range m.faculty {
		f.AssignedClassrooms = slices.DeleteFunc(f.AssignedClassrooms, func(c string) bool { return c == id })
		m.faculty[fid] = f
	}
	return nil
}

func (m *MemStore) CreateCamera(_ context.Context, c Camera) (Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[c.ID] = c
	return c, nil
}

func (m *MemStore) GetCamera(_ context.Context, id string) (Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cameras[id]
	if !ok {
		return Camera{}, apperr.NotFound("camera")
	}
	return c, nil
}

func (m *MemStore) ListCameras(_ context.Context) ([]Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpdateCamera(_ context.Context, c Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[c.ID]; !ok {
		return apperr.NotFound("camera")
	}
	m.cameras[c.ID] = c
	return nil
}

func (m *MemStore) DeleteCamera(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[id]; !ok {
		return apperr.NotFound("camera")
	}
	delete(m.cameras, id)
	return nil
}

func (m *MemStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUserUnique(u); err != nil {
		return User{}, err
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemStore) checkUserUnique(u User) error {
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if u.Email != "" && existing.Email == u.Email {
			return apperr.Duplicate("user with email %q already exists", u.Email)
		}
		if u.RegisterNumber != "" && existing.RegisterNumber == u.RegisterNumber {
			return apperr.Duplicate("user with register number %q already exists", u.RegisterNumber)
		}
	}
	return nil
}

func (m *MemStore) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, apperr.NotFound("user")
	}
	return u, nil
}

func (m *MemStore) FindUserByIdentifier(_ context.Context, identifier string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if (u.Email != "" && strings.EqualFold(u.Email, identifier)) || (u.RegisterNumber != "" && u.RegisterNumber == identifier) {
			return u, nil
		}
	}
	return User{}, apperr.NotFound("user")
}

func (m *MemStore) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return apperr.NotFound("user")
	}
	if err := m.checkUserUnique(u); err != nil {
		return err
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return apperr.NotFound("user")
	}
	delete(m.users, id)
	for sid, st := range m.students {
		if st.UserID == id {
			delete(m.students, sid)
		}
	}
	for fid, f := range m.faculty {
		if f.UserID == id {
			delete(m.faculty, fid)
		}
	}
	return nil
}

func (m *MemStore) CreateStudent(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.UserID == s.UserID {
			return Student{}, apperr.Duplicate("student profile already exists")
		}
		if existing.RegisterNumber == s.RegisterNumber {
			return Student{}, apperr.Duplicate("register number %q already exists", s.RegisterNumber)
		}
	}
	m.students[s.ID] = s
	return s, nil
}

func (m *MemStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, apperr.NotFound("student")
	}
	return m.withStudentName(s), nil
}

func (m *MemStore) StudentByUserID(_ context.Context, userID string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.UserID == userID {
			return m.withStudentName(s), nil
		}
	}
	return Student{}, apperr.NotFound("student")
}

func (m *MemStore) withStudentName(s Student) Student {
	if u, ok := m.users[s.UserID]; ok {
		s.Name = u.Name
	}
	return s
}

func (m *MemStore) ListStudents(_ context.Context, f StudentFilter) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Student, 0)
	for _, s := range m.students {
		if f.ClassroomID != "" && s.ClassroomID != f.ClassroomID {
			continue
		}
		if f.WithImage && s.ImageURL == "" {
			continue
		}
		out = append(out, m.withStudentName(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisterNumber < out[j].RegisterNumber })
	return out, nil
}

func (m *MemStore) UpdateStudent(_ context.Context, s Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[s.ID]; !ok {
		return apperr.NotFound("student")
	}
	for id, existing := range m.students {
		if id != s.ID && existing.RegisterNumber == s.RegisterNumber {
			return apperr.Duplicate("register number %q already exists", s.RegisterNumber)
		}
	}
	m.students[s.ID] = s
	return nil
}

func (m *MemStore) CreateFaculty(_ context.Context, f Faculty) (Faculty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.faculty {
		if existing.UserID == f.UserID {
			return Faculty{}, apperr.Duplicate("faculty profile already exists")
		}
	}
	m.faculty[f.ID] = f
	return f, nil
}

func (m *MemStore) GetFaculty(_ context.Context, id string) (Faculty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faculty[id]
	if !ok {
		return Faculty{}, apperr.NotFound("faculty")
	}
	return m.withFacultyName(f), nil
}

func (m *MemStore) FacultyByUserID(_ context.Context, userID string) (Faculty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.faculty {
		if f.UserID == userID {
			return m.withFacultyName(f), nil
		}
	}
	return Faculty{}, apperr.NotFound("faculty")
}

func (m *MemStore) withFacultyName(f Faculty) Faculty {
	if u, ok := m.users[f.UserID]; ok {
		f.Name = u.Name
	}
	f.AssignedClassrooms = slices.Clone(f.AssignedClassrooms)
	return f
}

func (m *MemStore) ListFaculty(_ context.Context, classroomID string) ([]Faculty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Faculty, 0)
	for _, f := range m.faculty {
		if classroomID != "" && !f.AssignedTo(classroomID) {
			continue
		}
		out = append(out, m.withFacultyName(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpdateFaculty(_ context.Context, f Faculty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.faculty[f.ID]; !ok {
		return apperr.NotFound("faculty")
	}
	m.faculty[f.ID] = f
	return nil
}

var _ Store = (*MemStore)(nil)
