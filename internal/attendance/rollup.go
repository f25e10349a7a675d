package attendance

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroom/internal/apperr"
)

func percentage(attended, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(attended) / float64(total)))
}

// completedSessionsOn returns the classroom's completed sessions on a local date.
func (s *Service) completedSessionsOn(ctx context.Context, classroomID, date string) ([]Session, error) {
	from, to, err := s.dayBounds(date)
	if err != nil {
		return nil, apperr.Invalid("date must be in YYYY-MM-DD format")
	}
	return s.store.ListSessions(ctx, SessionFilter{
		ClassroomID: classroomID,
		Status:      SessionCompleted,
		From:        from,
		To:          to,
	})
}

// RecomputeDay rebuilds every rollup of a classroom for a local date from scratch. Students with
// a record in the day's completed sessions or an existing rollup are included. When no completed
// sessions remain the day's rollups are deleted.
func (s *Service) RecomputeDay(ctx context.Context, classroomID, date string) ([]Daily, error) {
	if classroomID == "" {
		return nil, apperr.Invalid("classroomId is required")
	}
	sessions, err := s.completedSessionsOn(ctx, classroomID, date)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		if err := s.store.DeleteDaily(ctx, classroomID, date); err != nil {
			return nil, err
		}
		s.logger.Debug("rollups cleared", zap.String("classroom_id", classroomID), zap.String("date", date))
		return nil, nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	records, err := s.store.ListRecordsForSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	attended := make(map[string]int)
	for _, rec := range records {
		if _, ok := attended[rec.StudentID]; !ok {
			attended[rec.StudentID] = 0
		}
		if rec.Status.Attended() {
			attended[rec.StudentID]++
		}
	}
	existing, err := s.store.ListDaily(ctx, DailyFilter{ClassroomID: classroomID, Date: date})
	if err != nil {
		return nil, err
	}
	for _, d := range existing {
		if _, ok := attended[d.StudentID]; !ok {
			attended[d.StudentID] = 0
		}
	}

	students := make([]string, 0, len(attended))
	for id := range attended {
		students = append(students, id)
	}
	sort.Strings(students)

	out := make([]Daily, 0, len(students))
	for _, id := range students {
		d, err := s.upsertDaily(ctx, id, classroomID, date, len(sessions), attended[id])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	s.logger.Debug("rollups recomputed",
		zap.String("classroom_id", classroomID),
		zap.String("date", date),
		zap.Int("students", len(out)))
	return out, nil
}

// RecomputeStudentDay rebuilds one student's rollup for a classroom and local date.
func (s *Service) RecomputeStudentDay(ctx context.Context, studentID, classroomID, date string) (Daily, error) {
	if studentID == "" || classroomID == "" {
		return Daily{}, apperr.Invalid("studentId and classroomId are required")
	}
	sessions, err := s.completedSessionsOn(ctx, classroomID, date)
	if err != nil {
		return Daily{}, err
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	attended := 0
	if len(ids) > 0 {
		records, err := s.store.ListRecordsForSessions(ctx, ids)
		if err != nil {
			return Daily{}, err
		}
		for _, rec := range records {
			if rec.StudentID == studentID && rec.Status.Attended() {
				attended++
			}
		}
	}
	return s.upsertDaily(ctx, studentID, classroomID, date, len(sessions), attended)
}

func (s *Service) upsertDaily(ctx context.Context, studentID, classroomID, date string, total, attended int) (Daily, error) {
	now := s.now().UTC()
	d := Daily{
		ID:               uuid.NewString(),
		StudentID:        studentID,
		ClassroomID:      classroomID,
		Date:             date,
		TotalSessions:    total,
		AttendedSessions: attended,
		Percentage:       percentage(attended, total),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	stored, err := s.store.UpsertDaily(ctx, d)
	if err != nil {
		return Daily{}, err
	}
	RollupsRecomputed.Inc()
	return stored, nil
}
