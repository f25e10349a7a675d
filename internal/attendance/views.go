package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"classroom/internal/apperr"
	"classroom/internal/directory"
)

const sessionListLimit = 50

type studentCache struct {
	dir  Directory
	seen map[string]directory.Student
}

func newStudentCache(dir Directory) *studentCache {
	return &studentCache{dir: dir, seen: make(map[string]directory.Student)}
}

// get returns false for students that no longer exist.
func (c *studentCache) get(ctx context.Context, id string) (directory.Student, bool) {
	if st, ok := c.seen[id]; ok {
		return st, st.ID != ""
	}
	st, err := c.dir.Student(ctx, id)
	if err != nil {
		st = directory.Student{}
	}
	c.seen[id] = st
	return st, st.ID != ""
}

// authorizeClassroom checks the faculty member teaches the classroom.
func (s *Service) authorizeClassroom(ctx context.Context, facultyUserID, classroomID string) error {
	if classroomID == "" {
		return apperr.Invalid("classroomId is required")
	}
	fac, err := s.dir.FacultyByUserID(ctx, facultyUserID)
	if err != nil {
		return err
	}
	if !fac.AssignedTo(classroomID) {
		return apperr.Forbidden("not assigned to this classroom")
	}
	return nil
}

// SessionSummary is a session with its attendance counts. OD counts as present.
type SessionSummary struct {
	Session
	Present       int `json:"present"`
	Absent        int `json:"absent"`
	TotalStudents int `json:"totalStudents"`
}

// ClassroomSessions lists the latest sessions of a classroom, active and completed.
func (s *Service) ClassroomSessions(ctx context.Context, facultyUserID, classroomID string) ([]SessionSummary, error) {
	if err := s.authorizeClassroom(ctx, facultyUserID, classroomID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, SessionFilter{ClassroomID: classroomID, Limit: sessionListLimit})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	var records []Record
	if len(ids) > 0 {
		if records, err = s.store.ListRecordsForSessions(ctx, ids); err != nil {
			return nil, err
		}
	}
	type counts struct{ present, absent int }
	bySession := make(map[string]counts)
	for _, rec := range records {
		c := bySession[rec.ClassSessionID]
		switch {
		case rec.Status.Attended():
			c.present++
		case rec.Status == StatusAbsent:
			c.absent++
		}
		bySession[rec.ClassSessionID] = c
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		c := bySession[sess.ID]
		out = append(out, SessionSummary{Session: sess, Present: c.present, Absent: c.absent, TotalStudents: c.present + c.absent})
	}
	return out, nil
}

// RecordView is a record with the student's identity.
type RecordView struct {
	Record
	StudentName    string `json:"studentName"`
	RegisterNumber string `json:"registerNumber"`
}

// LiveAttendance returns the records of one session.
func (s *Service) LiveAttendance(ctx context.Context, facultyUserID, sessionID string) ([]RecordView, error) {
	if _, _, err := s.authorizeSession(ctx, facultyUserID, sessionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecordsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	students := newStudentCache(s.dir)
	out := make([]RecordView, 0, len(records))
	for _, rec := range records {
		v := RecordView{Record: rec}
		if st, ok := students.get(ctx, rec.StudentID); ok {
			v.StudentName, v.RegisterNumber = st.Name, st.RegisterNumber
		}
		out = append(out, v)
	}
	return out, nil
}

// DailyView is a rollup row with the student's identity.
type DailyView struct {
	Daily
	StudentName    string `json:"studentName"`
	RegisterNumber string `json:"registerNumber"`
}

// ClassroomHistory returns a classroom's rollups, newest day first and by student name within a day.
func (s *Service) ClassroomHistory(ctx context.Context, facultyUserID, classroomID string) ([]DailyView, error) {
	if err := s.authorizeClassroom(ctx, facultyUserID, classroomID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListDaily(ctx, DailyFilter{ClassroomID: classroomID})
	if err != nil {
		return nil, err
	}
	students := newStudentCache(s.dir)
	out := make([]DailyView, 0, len(rows))
	for _, d := range rows {
		v := DailyView{Daily: d}
		if st, ok := students.get(ctx, d.StudentID); ok {
			v.StudentName, v.RegisterNumber = st.Name, st.RegisterNumber
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].StudentName < out[j].StudentName
	})
	return out, nil
}

// Summary aggregates a student's attendance over completed sessions and rollups.
type Summary struct {
	Total                int    `json:"total"`
	Present              int    `json:"present"`
	Absent               int    `json:"absent"`
	OD                   int    `json:"od"`
	Percentage           string `json:"percentage"`
	CumulativePercentage string `json:"cumulativePercentage"`
	TotalSessions        int    `json:"totalSessions"`
	AttendedSessions     int    `json:"attendedSessions"`
}

func ratio(part, whole int) string {
	if whole == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", 100*float64(part)/float64(whole))
}

// RecordDetail is a record joined with its session.
type RecordDetail struct {
	Record
	Session Session `json:"session"`
}

// completedRecords returns the student's records whose session is completed, newest first.
func (s *Service) completedRecords(ctx context.Context, studentID string) ([]RecordDetail, error) {
	records, err := s.store.ListRecordsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []RecordDetail{}, nil
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ClassSessionID
	}
	sessions, err := s.store.SessionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}
	out := make([]RecordDetail, 0, len(records))
	for _, rec := range records {
		sess, ok := byID[rec.ClassSessionID]
		if !ok || sess.Status != SessionCompleted {
			continue
		}
		out = append(out, RecordDetail{Record: rec, Session: sess})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StudentSummary returns the session-level counts and cumulative rollup totals of a student.
func (s *Service) StudentSummary(ctx context.Context, studentUserID string) (Summary, error) {
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return Summary{}, err
	}
	details, err := s.completedRecords(ctx, st.ID)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	for _, d := range details {
		switch d.Status {
		case StatusPresent:
			sum.Present++
		case StatusAbsent:
			sum.Absent++
		case StatusOD:
			sum.OD++
		}
	}
	sum.Total = sum.Present + sum.Absent + sum.OD
	sum.Percentage = ratio(sum.Present+sum.OD, sum.Total)

	rows, err := s.store.ListDaily(ctx, DailyFilter{StudentID: st.ID})
	if err != nil {
		return Summary{}, err
	}
	for _, d := range rows {
		sum.TotalSessions += d.TotalSessions
		sum.AttendedSessions += d.AttendedSessions
	}
	sum.CumulativePercentage = ratio(sum.AttendedSessions, sum.TotalSessions)
	return sum, nil
}

// StudentDetails returns the student's records of completed sessions, newest first.
func (s *Service) StudentDetails(ctx context.Context, studentUserID string) ([]RecordDetail, error) {
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return nil, err
	}
	return s.completedRecords(ctx, st.ID)
}

// HistoryFilter restricts StudentHistory to a day (YYYY-MM-DD) or a month (YYYY-MM). Date wins.
type HistoryFilter struct {
	Date  string
	Month string
}

// HistoryEntry is one session in a student's history.
type HistoryEntry struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	EngagementScore int       `json:"engagementScore"`
	Source          Source    `json:"source"`
	Date            time.Time `json:"date"`
	SessionName     string    `json:"sessionName"`
	DurationMinutes *int      `json:"durationMinutes"`
}

// StudentHistory lists a student's completed sessions, optionally within a local day or month.
func (s *Service) StudentHistory(ctx context.Context, studentUserID string, f HistoryFilter) ([]HistoryEntry, error) {
	var from, to time.Time
	var err error
	switch {
	case f.Date != "":
		if from, to, err = s.dayBounds(f.Date); err != nil || !ValidDate(f.Date) {
			return nil, apperr.Invalid("date must be in YYYY-MM-DD format")
		}
	case f.Month != "":
		if from, to, err = s.monthBounds(f.Month); err != nil || len(f.Month) != len("2006-01") {
			return nil, apperr.Invalid("month must be in YYYY-MM format")
		}
	}
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return nil, err
	}
	details, err := s.completedRecords(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(details))
	for _, d := range details {
		if !from.IsZero() && (d.Session.Date.Before(from) || !d.Session.Date.Before(to)) {
			continue
		}
		var duration *int
		if d.Session.EndTime != nil {
			m := int(d.Session.EndTime.Sub(d.Session.StartTime).Round(time.Minute) / time.Minute)
			duration = &m
		}
		out = append(out, HistoryEntry{
			ID:              d.ID,
			Status:          d.Status,
			EngagementScore: d.EngagementScore,
			Source:          d.Source,
			Date:            d.Session.Date,
			SessionName:     d.Session.SessionName,
			DurationMinutes: duration,
		})
	}
	return out, nil
}

// StudentDaily returns a student's rollups, newest first. period is empty, YYYY or YYYY-MM.
func (s *Service) StudentDaily(ctx context.Context, studentUserID, period string) ([]Daily, error) {
	if period != "" && !validPeriod(period) {
		return nil, apperr.Invalid("period must be YYYY or YYYY-MM")
	}
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListDaily(ctx, DailyFilter{StudentID: st.ID, DatePrefix: period})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })
	return rows, nil
}

func validPeriod(p string) bool {
	switch len(p) {
	case 4:
		_, err := time.Parse("2006", p)
		return err == nil
	case 7:
		_, err := time.Parse("2006-01", p)
		return err == nil && strings.Count(p, "-") == 1
	}
	return false
}

// PurgeStudent removes all attendance data of a deleted student.
func (s *Service) PurgeStudent(ctx context.Context, studentID string) error {
	if studentID == "" {
		return nil
	}
	return s.store.PurgeStudent(ctx, studentID)
}
