package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroom/internal/apperr"
	"classroom/internal/directory"
)

// StartSession opens a session in a classroom the faculty member is assigned to. Students with
// an approved OD request for the day get their od record straight away.
func (s *Service) StartSession(ctx context.Context, facultyUserID, classroomID, sessionName string) (Session, error) {
	sessionName = strings.TrimSpace(sessionName)
	if classroomID == "" || sessionName == "" {
		return Session{}, apperr.Invalid("classroomId and sessionName are required")
	}
	fac, err := s.dir.FacultyByUserID(ctx, facultyUserID)
	if err != nil {
		return Session{}, err
	}
	if !fac.AssignedTo(classroomID) {
		return Session{}, apperr.Forbidden("not assigned to this classroom")
	}

	now := s.now().UTC()
	sess := Session{
		ID:          uuid.NewString(),
		ClassroomID: classroomID,
		FacultyID:   fac.ID,
		SessionName: sessionName,
		Date:        now,
		StartTime:   now,
		Status:      SessionActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	s.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("classroom_id", classroomID),
		zap.String("faculty_id", fac.ID))

	if err := s.seedApprovedOD(ctx, sess); err != nil {
		s.logger.Error("seed od records", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if s.monitor != nil {
		if err := s.monitor.StartMonitoring(ctx, classroomID, sess.ID); err != nil {
			s.logger.Warn("vision layer did not start monitoring", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return sess, nil
}

func (s *Service) seedApprovedOD(ctx context.Context, sess Session) error {
	reqs, err := s.store.ListODRequests(ctx, ODFilter{RequestDate: s.LocalDate(sess.Date), Status: ODApproved})
	if err != nil {
		return err
	}
	for _, req := range reqs {
		st, err := s.dir.Student(ctx, req.StudentID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if st.ClassroomID != sess.ClassroomID {
			continue
		}
		if err := s.store.UpsertODRecords(ctx, st.ID, []string{sess.ID}, sess.StartTime); err != nil {
			return err
		}
	}
	return nil
}

// authorizeSession loads a session and checks the faculty member teaches its classroom.
func (s *Service) authorizeSession(ctx context.Context, facultyUserID, sessionID string) (Session, directory.Faculty, error) {
	fac, err := s.dir.FacultyByUserID(ctx, facultyUserID)
	if err != nil {
		return Session{}, directory.Faculty{}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, directory.Faculty{}, err
	}
	if !fac.AssignedTo(sess.ClassroomID) {
		return Session{}, directory.Faculty{}, apperr.Forbidden("not assigned to this classroom")
	}
	return sess, fac, nil
}

// EndSession closes an active session, downgrades low-engagement records to absent and
// recomputes the day's rollups. Ending a completed session is a conflict, but the rollups are
// recomputed first so a retry repairs a recompute that failed the first time.
func (s *Service) EndSession(ctx context.Context, facultyUserID, sessionID string) (Session, error) {
	sess, _, err := s.authorizeSession(ctx, facultyUserID, sessionID)
	if err != nil {
		return Session{}, err
	}
	date := s.LocalDate(sess.Date)
	if sess.Status == SessionCompleted {
		if _, err := s.RecomputeDay(ctx, sess.ClassroomID, date); err != nil {
			return Session{}, err
		}
		return Session{}, apperr.Conflict("session already ended")
	}

	now := s.now().UTC()
	sess.EndTime = &now
	sess.Status = SessionCompleted
	sess.DurationMinutes = int(math.Round(now.Sub(sess.StartTime).Minutes()))
	sess.UpdatedAt = now
	downgraded, err := s.store.CloseSession(ctx, sess, s.policy.Threshold())
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("session ended",
		zap.String("session_id", sess.ID),
		zap.Int("duration_minutes", sess.DurationMinutes),
		zap.Int("downgraded", downgraded))

	if s.monitor != nil {
		if err := s.monitor.StopMonitoring(ctx); err != nil {
			s.logger.Warn("vision layer did not stop monitoring", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	if _, err := s.RecomputeDay(ctx, sess.ClassroomID, date); err != nil {
		return Session{}, fmt.Errorf("session ended, recompute rollups: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session with its records and recomputes the day's rollups.
func (s *Service) DeleteSession(ctx context.Context, facultyUserID, sessionID string) error {
	sess, _, err := s.authorizeSession(ctx, facultyUserID, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	if _, err := s.RecomputeDay(ctx, sess.ClassroomID, s.LocalDate(sess.Date)); err != nil {
		return err
	}
	s.logger.Info("session deleted", zap.String("session_id", sess.ID), zap.String("classroom_id", sess.ClassroomID))
	if sess.Status == SessionActive && s.monitor != nil {
		if err := s.monitor.StopMonitoring(ctx); err != nil {
			s.logger.Warn("vision layer did not stop monitoring", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return nil
}

// Session returns one session.
func (s *Service) Session(ctx context.Context, id string) (Session, error) {
	return s.store.GetSession(ctx, id)
}
