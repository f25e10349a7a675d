package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroom/internal/apperr"
)

// ODInput is a student's OD request.
type ODInput struct {
	RequestDate        string
	RequestedFacultyID string
	Reason             string
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// SubmitODRequest files a pending OD request addressed to a faculty member of the student's
// classroom. One request per student and day.
func (s *Service) SubmitODRequest(ctx context.Context, studentUserID string, in ODInput) (ODRequest, error) {
	if !ValidDate(in.RequestDate) {
		return ODRequest{}, apperr.Invalid("requestDate must be in YYYY-MM-DD format")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" || in.RequestedFacultyID == "" {
		return ODRequest{}, apperr.Invalid("requestedFacultyId and reason are required")
	}
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return ODRequest{}, err
	}
	fac, err := s.dir.Faculty(ctx, in.RequestedFacultyID)
	if err != nil {
		return ODRequest{}, err
	}
	if !fac.AssignedTo(st.ClassroomID) {
		return ODRequest{}, apperr.Forbidden("faculty is not assigned to your classroom")
	}

	now := s.now().UTC()
	req := ODRequest{
		ID:                 uuid.NewString(),
		StudentID:          st.ID,
		RequestDate:        in.RequestDate,
		RequestedFacultyID: fac.ID,
		Reason:             in.Reason,
		Status:             ODPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateODRequest(ctx, req); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return ODRequest{}, apperr.Duplicate("OD request already submitted for %s", in.RequestDate)
		}
		return ODRequest{}, err
	}
	s.logger.Info("od request submitted", zap.String("request_id", req.ID), zap.String("student_id", st.ID))
	return req, nil
}

// RespondToODRequest approves or rejects a pending request addressed to the faculty member.
// Approval marks the student od in every session of their classroom on that day.
func (s *Service) RespondToODRequest(ctx context.Context, facultyUserID, requestID string, status ODStatus) (ODRequest, error) {
	if status != ODApproved && status != ODRejected {
		return ODRequest{}, apperr.Invalid("status must be approved or rejected")
	}
	fac, err := s.dir.FacultyByUserID(ctx, facultyUserID)
	if err != nil {
		return ODRequest{}, err
	}
	req, err := s.store.GetODRequest(ctx, requestID)
	if err != nil {
		return ODRequest{}, err
	}
	if req.RequestedFacultyID != fac.ID {
		return ODRequest{}, apperr.Forbidden("OD request is addressed to another faculty member")
	}
	if req.Status != ODPending {
		return ODRequest{}, apperr.Conflict("OD request already %s", req.Status)
	}

	var (
		classroomID string
		sessionIDs  []string
	)
	if status == ODApproved {
		if classroomID, sessionIDs, err = s.odSessions(ctx, req); err != nil {
			return ODRequest{}, err
		}
	}

	now := s.now().UTC()
	if err := s.store.ResolveODRequest(ctx, req.ID, status, now, sessionIDs); err != nil {
		return ODRequest{}, err
	}
	req.Status = status
	req.UpdatedAt = now
	s.logger.Info("od request answered",
		zap.String("request_id", req.ID),
		zap.String("status", string(status)),
		zap.Int("sessions", len(sessionIDs)))

	if len(sessionIDs) > 0 {
		if _, err := s.RecomputeStudentDay(ctx, req.StudentID, classroomID, req.RequestDate); err != nil {
			s.logger.Error("recompute rollup after od approval", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	return req, nil
}

// odSessions finds the sessions an approved request covers. Sessions started later that day
// pick the request up in StartSession.
func (s *Service) odSessions(ctx context.Context, req ODRequest) (string, []string, error) {
	st, err := s.dir.Student(ctx, req.StudentID)
	if err != nil {
		return "", nil, err
	}
	if st.ClassroomID == "" {
		s.logger.Warn("approved od for student without classroom", zap.String("student_id", st.ID))
		return "", nil, nil
	}
	from, to, err := s.dayBounds(req.RequestDate)
	if err != nil {
		return "", nil, apperr.Invalid("requestDate must be in YYYY-MM-DD format")
	}
	sessions, err := s.store.ListSessions(ctx, SessionFilter{ClassroomID: st.ClassroomID, From: from, To: to})
	if err != nil {
		return "", nil, err
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return st.ClassroomID, ids, nil
}

// ODRequestView is an OD request with the names a UI shows next to it.
type ODRequestView struct {
	ODRequest
	StudentName    string `json:"studentName,omitempty"`
	RegisterNumber string `json:"registerNumber,omitempty"`
	FacultyName    string `json:"facultyName,omitempty"`
}

// PendingODRequests lists the pending requests addressed to a faculty member.
func (s *Service) PendingODRequests(ctx context.Context, facultyUserID string) ([]ODRequestView, error) {
	fac, err := s.dir.FacultyByUserID(ctx, facultyUserID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.ListODRequests(ctx, ODFilter{FacultyID: fac.ID, Status: ODPending})
	if err != nil {
		return nil, err
	}
	students := newStudentCache(s.dir)
	out := make([]ODRequestView, 0, len(reqs))
	for _, r := range reqs {
		v := ODRequestView{ODRequest: r, FacultyName: fac.Name}
		if st, ok := students.get(ctx, r.StudentID); ok {
			v.StudentName, v.RegisterNumber = st.Name, st.RegisterNumber
		}
		out = append(out, v)
	}
	return out, nil
}

// MyODRequests lists a student's own requests, newest first.
func (s *Service) MyODRequests(ctx context.Context, studentUserID string) ([]ODRequestView, error) {
	st, err := s.dir.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.ListODRequests(ctx, ODFilter{StudentID: st.ID})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	out := make([]ODRequestView, 0, len(reqs))
	for _, r := range reqs {
		name, ok := names[r.RequestedFacultyID]
		if !ok {
			name = "Unknown"
			if fac, err := s.dir.Faculty(ctx, r.RequestedFacultyID); err == nil {
				name = fac.Name
			}
			names[r.RequestedFacultyID] = name
		}
		out = append(out, ODRequestView{ODRequest: r, StudentName: st.Name, RegisterNumber: st.RegisterNumber, FacultyName: name})
	}
	return out, nil
}
