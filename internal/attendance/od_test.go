package attendance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/apperr"
	"classroom/internal/directory"
)

func TestSubmitODRequest(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-12", RequestedFacultyID: f.faculty.ID, Reason: "Symposium",
	})
	require.NoError(t, err)
	assert.Equal(t, ODPending, req.Status)
	assert.Equal(t, f.student.ID, req.StudentID)

	cases := []struct {
		name string
		in   ODInput
		kind error
	}{
		{"bad date", ODInput{RequestDate: "12/03/2025", RequestedFacultyID: f.faculty.ID, Reason: "x"}, apperr.ErrInvalid},
		{"impossible date", ODInput{RequestDate: "2025-02-30", RequestedFacultyID: f.faculty.ID, Reason: "x"}, apperr.ErrInvalid},
		{"missing reason", ODInput{RequestDate: "2025-03-13", RequestedFacultyID: f.faculty.ID, Reason: "  "}, apperr.ErrInvalid},
		{"unknown faculty", ODInput{RequestDate: "2025-03-13", RequestedFacultyID: "nope", Reason: "x"}, apperr.ErrNotFound},
		{"duplicate day", ODInput{RequestDate: "2025-03-12", RequestedFacultyID: f.faculty.ID, Reason: "again"}, apperr.ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, tc.in)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	t.Run("faculty of another classroom", func(t *testing.T) {
		room, err := f.dir.CreateClassroom(f.ctx, directory.ClassroomInput{Name: "MECH", Department: "MECH", Year: 3})
		require.NoError(t, err)
		u, err := f.dir.CreateUser(f.ctx, directory.CreateUserInput{
			Name: "Dr. Iyer", Email: "iyer@college.test", Password: "pw", Role: directory.RoleFaculty,
			ClassroomIDs: []string{room.ID},
		})
		require.NoError(t, err)
		other, err := f.dir.FacultyByUserID(f.ctx, u.ID)
		require.NoError(t, err)
		_, err = f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{RequestDate: "2025-03-14", RequestedFacultyID: other.ID, Reason: "x"})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})
}

func TestApproveODOverwritesDaySessions(t *testing.T) {
	f := newFixture(t)

	var sessions []Session
	for i := 0; i < 3; i++ {
		sess := f.start(t, "Slot")
		sessions = append(sessions, sess)
		f.clock.Advance(time.Minute)
	}
	f.ingest(t, f.student.ID, sessions[0].ID, Signals{Sleeping: true})
	_, _, err := f.svc.MarkAbsent(f.ctx, f.student.ID, sessions[1].ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	f.end(t, sessions[0].ID)

	// a session on another day must stay untouched
	f.clock.Advance(24 * time.Hour)
	tomorrow := f.start(t, "Next day")
	f.ingest(t, f.student.ID, tomorrow.ID, Signals{})

	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Hackathon",
	})
	require.NoError(t, err)

	got, err := f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODApproved)
	require.NoError(t, err)
	assert.Equal(t, ODApproved, got.Status)

	for _, sess := range sessions {
		rec := f.record(t, f.student.ID, sess.ID)
		assert.Equal(t, StatusOD, rec.Status)
		assert.Equal(t, 100, rec.EngagementScore)
		assert.Equal(t, SourceOD, rec.Source)
	}
	assert.Equal(t, StatusPresent, f.record(t, f.student.ID, tomorrow.ID).Status)

	rows, err := f.store.ListDaily(f.ctx, DailyFilter{StudentID: f.student.ID, Date: "2025-03-10"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TotalSessions)
	assert.Equal(t, 100, rows[0].Percentage)

	t.Run("od records ignore later signals", func(t *testing.T) {
		out := f.ingest(t, f.student.ID, sessions[2].ID, Signals{Sleeping: true})
		assert.True(t, out.ODSkipped)
		assert.Equal(t, 100, f.record(t, f.student.ID, sessions[2].ID).EngagementScore)
	})

	t.Run("cannot answer twice", func(t *testing.T) {
		_, err := f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODRejected)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})
}

func TestRespondODChecks(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Sports meet",
	})
	require.NoError(t, err)

	_, err = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODPending)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	u, err := f.dir.CreateUser(f.ctx, directory.CreateUserInput{
		Name: "Dr. Sen", Email: "sen@college.test", Password: "pw", Role: directory.RoleFaculty,
		ClassroomIDs: []string{f.room.ID},
	})
	require.NoError(t, err)
	_, err = f.svc.RespondToODRequest(f.ctx, u.ID, req.ID, ODApproved)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, "missing", ODApproved)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	sess := f.start(t, "Lab")
	got, err := f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODRejected)
	require.NoError(t, err)
	assert.Equal(t, ODRejected, got.Status)
	_, err = f.store.GetRecord(f.ctx, f.student.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApprovedODAppliesToLaterSessions(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-11", RequestedFacultyID: f.faculty.ID, Reason: "Conference",
	})
	require.NoError(t, err)
	_, err = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODApproved)
	require.NoError(t, err)

	today := f.start(t, "Before the day")
	_, err = f.store.GetRecord(f.ctx, f.student.ID, today.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.clock.Set(time.Date(2025, 3, 11, 9, 0, 0, 0, ist))
	sess := f.start(t, "On the day")
	rec := f.record(t, f.student.ID, sess.ID)
	assert.Equal(t, StatusOD, rec.Status)
	assert.Equal(t, SourceOD, rec.Source)

	f.clock.Advance(time.Hour)
	f.end(t, sess.ID)
	rows, err := f.store.ListDaily(f.ctx, DailyFilter{StudentID: f.student.ID, Date: "2025-03-11"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 100, rows[0].Percentage)
}

func TestODRequestViews(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Workshop",
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-11", RequestedFacultyID: f.faculty.ID, Reason: "Workshop day 2",
	})
	require.NoError(t, err)
	_, err = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, second.ID, ODRejected)
	require.NoError(t, err)

	pending, err := f.svc.PendingODRequests(f.ctx, f.facultyUser.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Arun", pending[0].StudentName)
	assert.Equal(t, "21CS001", pending[0].RegisterNumber)

	mine, err := f.svc.MyODRequests(f.ctx, f.studentUser.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2025-03-11", mine[0].RequestDate)
	assert.Equal(t, "Dr. Meena", mine[0].FacultyName)
}

func TestFailedApprovalCanBeRetried(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t, "Lab")
	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Paper presentation",
	})
	require.NoError(t, err)

	st := newFailingStore(f.store)
	f.useStore(st)
	st.set("ResolveODRequest", errors.New("db down"))

	_, err = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODApproved)
	require.EqualError(t, err, "db down")
	stored, err := f.store.GetODRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ODPending, stored.Status)
	_, err = f.store.GetRecord(f.ctx, f.student.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	st.set("ResolveODRequest", nil)
	got, err := f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, ODApproved)
	require.NoError(t, err)
	assert.Equal(t, ODApproved, got.Status)
	assert.Equal(t, StatusOD, f.record(t, f.student.ID, sess.ID).Status)
}

func TestResolveODRequestIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t, "Lab")
	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Workshop",
	})
	require.NoError(t, err)

	err = f.store.ResolveODRequest(f.ctx, req.ID, ODApproved, f.clock.Now(), []string{sess.ID, "gone"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	stored, err := f.store.GetODRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ODPending, stored.Status)
	_, err = f.store.GetRecord(f.ctx, f.student.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentODResponsesOneWins(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t, "Lab")
	req, err := f.svc.SubmitODRequest(f.ctx, f.studentUser.ID, ODInput{
		RequestDate: "2025-03-10", RequestedFacultyID: f.faculty.ID, Reason: "Inter-college fest",
	})
	require.NoError(t, err)
	f.useStore(newGatedStore(f.store, 2))

	statuses := []ODStatus{ODApproved, ODRejected}
	errs := make([]error, len(statuses))
	var wg sync.WaitGroup
	for i, status := range statuses {
		wg.Add(1)
		go func(i int, status ODStatus) {
			defer wg.Done()
			_, errs[i] = f.svc.RespondToODRequest(f.ctx, f.facultyUser.ID, req.ID, status)
		}(i, status)
	}
	wg.Wait()

	var winner ODStatus
	for i, err := range errs {
		if err == nil {
			require.Empty(t, winner, "both responses succeeded")
			winner = statuses[i]
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	require.NotEmpty(t, winner)

	stored, err := f.store.GetODRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.Status)
	_, err = f.store.GetRecord(f.ctx, f.student.ID, sess.ID)
	if winner == ODApproved {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	}
}
