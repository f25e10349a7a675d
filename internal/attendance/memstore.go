package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/internal/apperr"
)

type recordKey struct{ student, session string }

type dailyKey struct{ student, classroom, date string }

// MemStore is a map-backed Store for development and tests. It enforces the same unique keys
// and version checks as the Postgres schema.
type MemStore struct {
	mu       sync.RWMutex
	events   []Event
	records  map[recordKey]Record
	sessions map[string]Session
	daily    map[dailyKey]Daily
	od       map[string]ODRequest
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[recordKey]Record),
		sessions: make(map[string]Session),
		daily:    make(map[dailyKey]Daily),
		od:       make(map[string]ODRequest),
	}
}

func (m *MemStore) InsertEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the stored raw events.
func (m *MemStore) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

func (m *MemStore) GetRecord(_ context.Context, studentID, sessionID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey{studentID, sessionID}]
	if !ok {
		return Record{}, apperr.NotFound("attendance record")
	}
	return r.clone(), nil
}

func (m *MemStore) CreateRecord(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.ClassSessionID]; !ok {
		return apperr.NotFound("class session")
	}
	key := recordKey{r.StudentID, r.ClassSessionID}
	if _, ok := m.records[key]; ok {
		return apperr.Duplicate("attendance record already exists")
	}
	r = r.clone()
	r.Version = 1
	m.records[key] = r
	return nil
}

func (m *MemStore) UpdateRecord(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{r.StudentID, r.ClassSessionID}
	cur, ok := m.records[key]
	if !ok {
		return apperr.NotFound("attendance record")
	}
	if cur.Version != r.Version {
		return apperr.Conflict("attendance record changed concurrently")
	}
	r = r.clone()
	r.Version++
	m.records[key] = r
	return nil
}

func (m *MemStore) UpsertODRecords(_ context.Context, studentID string, sessionIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertOD(studentID, sessionIDs, at)
}

// upsertOD expects m.mu held for writing. It changes nothing when a session is unknown.
func (m *MemStore) upsertOD(studentID string, sessionIDs []string, at time.Time) error {
	for _, sid := range sessionIDs {
		if _, ok := m.sessions[sid]; !ok {
			return apperr.NotFound("class session")
		}
	}
	for _, sid := range sessionIDs {
		key := recordKey{studentID, sid}
		r, ok := m.records[key]
		if !ok {
			r = Record{ID: uuid.NewString(), StudentID: studentID, ClassSessionID: sid, CreatedAt: at}
		}
		r.Status = StatusOD
		r.EngagementScore = 100
		r.Source = SourceOD
		r.UpdatedAt = at
		r.Version++
		m.records[key] = r
	}
	return nil
}

func (m *MemStore) listRecords(match func(Record) bool) []Record {
	out := make([]Record, 0)
	for _, r := range m.records {
		if match(r) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemStore) ListRecordsBySession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRecords(func(r Record) bool { return r.ClassSessionID == sessionID }), nil
}

func (m *MemStore) ListRecordsByStudent(_ context.Context, studentID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRecords(func(r Record) bool { return r.StudentID == studentID }), nil
}

func (m *MemStore) ListRecordsForSessions(_ context.Context, sessionIDs []string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		set[id] = struct{}{}
	}
	return m.listRecords(func(r Record) bool {
		_, ok := set[r.ClassSessionID]
		return ok
	}), nil
}

func (m *MemStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return apperr.Duplicate("class session already exists")
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.NotFound("class session")
	}
	return s, nil
}

func (m *MemStore) CloseSession(_ context.Context, s Session, threshold int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return 0, apperr.NotFound("class session")
	}
	if cur.Status != SessionActive {
		return 0, apperr.Conflict("session already ended")
	}
	m.sessions[s.ID] = s
	n := 0
	for key, r := range m.records {
		if key.session != s.ID || r.Status != StatusPresent || r.Source != SourceAI || r.EngagementScore > threshold {
			continue
		}
		r.Status = StatusAbsent
		r.UpdatedAt = s.UpdatedAt
		r.Version++
		m.records[key] = r
		n++
	}
	return n, nil
}

func (m *MemStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return apperr.NotFound("class session")
	}
	delete(m.sessions, id)
	for key := range m.records {
		if key.session == id {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *MemStore) ListSessions(_ context.Context, f SessionFilter) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if f.ClassroomID != "" && s.ClassroomID != f.ClassroomID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && s.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.Date.Before(f.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) SessionsByID(_ context.Context, ids []string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) UpsertDaily(_ context.Context, d Daily) (Daily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dailyKey{d.StudentID, d.ClassroomID, d.Date}
	if cur, ok := m.daily[key]; ok {
		d.ID = cur.ID
		d.CreatedAt = cur.CreatedAt
	}
	m.daily[key] = d
	return d, nil
}

func (m *MemStore) ListDaily(_ context.Context, f DailyFilter) ([]Daily, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Daily, 0)
	for _, d := range m.daily {
		if f.StudentID != "" && d.StudentID != f.StudentID {
			continue
		}
		if f.ClassroomID != "" && d.ClassroomID != f.ClassroomID {
			continue
		}
		if f.Date != "" && d.Date != f.Date {
			continue
		}
		if f.DatePrefix != "" && !strings.HasPrefix(d.Date, f.DatePrefix) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (m *MemStore) DeleteDaily(_ context.Context, classroomID, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.daily {
		if key.classroom == classroomID && key.date == date {
			delete(m.daily, key)
		}
	}
	return nil
}

func (m *MemStore) CreateODRequest(_ context.Context, r ODRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.od {
		if existing.StudentID == r.StudentID && existing.RequestDate == r.RequestDate {
			return apperr.Duplicate("od request already exists")
		}
	}
	m.od[r.ID] = r
	return nil
}

func (m *MemStore) GetODRequest(_ context.Context, id string) (ODRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.od[id]
	if !ok {
		return ODRequest{}, apperr.NotFound("od request")
	}
	return r, nil
}

func (m *MemStore) ResolveODRequest(_ context.Context, id string, status ODStatus, at time.Time, sessionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.od[id]
	if !ok {
		return apperr.NotFound("od request")
	}
	if r.Status != ODPending {
		return apperr.Conflict("OD request already %s", r.Status)
	}
	if err := m.upsertOD(r.StudentID, sessionIDs, at); err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = at
	m.od[id] = r
	return nil
}

func (m *MemStore) ListODRequests(_ context.Context, f ODFilter) ([]ODRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ODRequest, 0)
	for _, r := range m.od {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.FacultyID != "" && r.RequestedFacultyID != f.FacultyID {
			continue
		}
		if f.RequestDate != "" && r.RequestDate != f.RequestDate {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) PurgeStudent(_ context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.records {
		if key.student == studentID {
			delete(m.records, key)
		}
	}
	for key := range m.daily {
		if key.student == studentID {
			delete(m.daily, key)
		}
	}
	for id, r := range m.od {
		if r.StudentID == studentID {
			delete(m.od, id)
		}
	}
	return nil
}

var _ Store = (*MemStore)(nil)
