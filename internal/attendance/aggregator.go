package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroom/internal/apperr"
)

// Outcome reports what Ingest did with one event.
type Outcome struct {
	EventID   string   `json:"aiEventId"`
	Record    Record   `json:"record"`
	Applied   []Signal `json:"applied"`
	Debounced []Signal `json:"debounced"`
	ODSkipped bool     `json:"odSkipped"`
}

// Ingest stores the raw event and applies its signals to the student's record for the session.
// The raw event is kept even when aggregation fails.
func (s *Service) Ingest(ctx context.Context, e Event) (Outcome, error) {
	if e.StudentID == "" || e.ClassSessionID == "" {
		return Outcome{}, apperr.Invalid("studentId and classSessionId are required")
	}
	now := s.now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = now
	if err := s.store.InsertEvent(ctx, e); err != nil {
		EventsIngested.WithLabelValues("failed").Inc()
		return Outcome{}, fmt.Errorf("store ai event: %w", err)
	}

	sess, err := s.store.GetSession(ctx, e.ClassSessionID)
	if err != nil {
		EventsIngested.WithLabelValues("failed").Inc()
		return Outcome{EventID: e.ID}, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		out, recompute, err := s.applyEvent(ctx, e, now)
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrDuplicate) {
			VersionConflicts.Inc()
			continue
		}
		if err != nil {
			EventsIngested.WithLabelValues("failed").Inc()
			return Outcome{EventID: e.ID}, err
		}
		out.EventID = e.ID
		s.recordMetrics(out)
		if recompute {
			if _, err := s.RecomputeStudentDay(ctx, e.StudentID, sess.ClassroomID, s.LocalDate(sess.Date)); err != nil {
				s.logger.Error("recompute rollup after late event", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
		return out, nil
	}
	EventsIngested.WithLabelValues("failed").Inc()
	return Outcome{EventID: e.ID}, apperr.Conflict("attendance record for student %s is busy, retry later", e.StudentID)
}

// applyEvent runs one read-modify-write round. It returns ErrConflict or ErrDuplicate when
// another writer got there first. The bool reports a status change on a completed session.
//
// The record is read before the session so that a record already downgraded by CloseSession is
// never paired with a stale active session.
func (s *Service) applyEvent(ctx context.Context, e Event, now time.Time) (Outcome, bool, error) {
	rec, err := s.store.GetRecord(ctx, e.StudentID, e.ClassSessionID)
	created := false
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		rec = Record{
			ID:              uuid.NewString(),
			StudentID:       e.StudentID,
			ClassSessionID:  e.ClassSessionID,
			Status:          StatusPresent,
			EngagementScore: 100,
			Source:          SourceAI,
			CreatedAt:       now,
		}
		created = true
	case err != nil:
		return Outcome{}, false, err
	}
	sess, err := s.store.GetSession(ctx, e.ClassSessionID)
	if err != nil {
		return Outcome{}, false, err
	}
	closed := sess.Status == SessionCompleted

	prev := rec.Status
	if rec.Status == StatusOD {
		return Outcome{Record: rec, ODSkipped: true}, false, nil
	}
	if rec.Status == StatusAbsent {
		// a downgraded record keeps its score; only a bare absence mark restarts at 100
		if rec.unobserved() {
			rec.EngagementScore = 100
		}
		rec.Status = StatusPresent
		rec.Source = SourceAI
	}

	applied, debounced := s.policy.Apply(&rec, e.Signals, e.Timestamp)
	if closed && s.policy.BelowThreshold(rec) {
		rec.Status = StatusAbsent
	}
	out := Outcome{Applied: applied, Debounced: debounced}
	if !created && len(applied) == 0 && prev == rec.Status {
		out.Record = rec
		return out, false, nil
	}

	rec.UpdatedAt = now
	if created {
		if err := s.store.CreateRecord(ctx, rec); err != nil {
			return Outcome{}, false, err
		}
		rec.Version = 1
	} else {
		if err := s.store.UpdateRecord(ctx, rec); err != nil {
			return Outcome{}, false, err
		}
		rec.Version++
	}
	out.Record = rec
	changed := created || prev != rec.Status
	return out, closed && changed, nil
}

func (s *Service) recordMetrics(out Outcome) {
	if out.ODSkipped {
		EventsIngested.WithLabelValues("od_skipped").Inc()
		return
	}
	EventsIngested.WithLabelValues("applied").Inc()
	for _, sig := range out.Applied {
		PenaltiesApplied.WithLabelValues(string(sig)).Inc()
	}
	for _, sig := range out.Debounced {
		PenaltiesDebounced.WithLabelValues(string(sig)).Inc()
	}
}

// MarkAbsent records a student as absent for a session unless a record already exists. It
// reports whether a record was created.
func (s *Service) MarkAbsent(ctx context.Context, studentID, sessionID string) (Record, bool, error) {
	if studentID == "" || sessionID == "" {
		return Record{}, false, apperr.Invalid("studentId and classSessionId are required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Record{}, false, err
	}
	rec, err := s.store.GetRecord(ctx, studentID, sessionID)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return Record{}, false, err
	}

	now := s.now().UTC()
	rec = Record{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		ClassSessionID:  sessionID,
		Status:          StatusAbsent,
		EngagementScore: 0,
		Source:          SourceAI,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			existing, getErr := s.store.GetRecord(ctx, studentID, sessionID)
			return existing, false, getErr
		}
		return Record{}, false, err
	}
	if sess.Status == SessionCompleted {
		if _, err := s.RecomputeStudentDay(ctx, studentID, sess.ClassroomID, s.LocalDate(sess.Date)); err != nil {
			s.logger.Error("recompute rollup after absence mark", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return rec, true, nil
}
