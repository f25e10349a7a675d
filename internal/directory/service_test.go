package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classroom/internal/apperr"
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	st := NewMemStore()
	return NewService(st, zap.NewNop()), st
}

func TestClassroomLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	room, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "CSE A", Department: "CSE", Year: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, room.Status)

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "CSE A", Department: "CSE", Year: 3})
		assert.ErrorIs(t, err, apperr.ErrDuplicate)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		_, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "", Department: "CSE", Year: 1})
		assert.ErrorIs(t, err, apperr.ErrInvalid)
	})

	t.Run("patch updates given fields only", func(t *testing.T) {
		inactive := StatusInactive
		year := 4
		got, err := svc.UpdateClassroom(ctx, room.ID, ClassroomPatch{Year: &year, Status: &inactive})
		require.NoError(t, err)
		assert.Equal(t, "CSE A", got.Name)
		assert.Equal(t, 4, got.Year)
		assert.Equal(t, StatusInactive, got.Status)
	})

	t.Run("camera needs existing classroom", func(t *testing.T) {
		_, err := svc.CreateCamera(ctx, CameraInput{Name: "CAM 01", StreamURL: "0", ClassroomID: "nope"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		cam, err := svc.CreateCamera(ctx, CameraInput{Name: "CAM 01", StreamURL: "0", ClassroomID: room.ID})
		require.NoError(t, err)
		assert.Equal(t, "CSE A", cam.ClassroomName)

		cam, err = svc.UpdateCamera(ctx, cam.ID, CameraPatch{Status: StatusInactive})
		require.NoError(t, err)
		assert.Equal(t, StatusInactive, cam.Status)
	})

	require.NoError(t, svc.DeleteClassroom(ctx, room.ID))
	cams, err := svc.ListCameras(ctx)
	require.NoError(t, err)
	assert.Empty(t, cams)
	assert.ErrorIs(t, svc.DeleteClassroom(ctx, room.ID), apperr.ErrNotFound)
}

func TestCreateUserProfiles(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	room, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "ECE B", Department: "ECE", Year: 1})
	require.NoError(t, err)

	stu, err := svc.CreateUser(ctx, CreateUserInput{
		Name: "Asha", Password: "pw", Role: RoleStudent, RegisterNumber: "R100",
		ClassroomIDs: []string{room.ID}, ImageURL: "https://img/asha.jpg",
	})
	require.NoError(t, err)
	assert.Empty(t, stu.Email)

	profile, err := svc.StudentByUserID(ctx, stu.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", profile.Name)
	assert.Equal(t, room.ID, profile.ClassroomID)
	assert.Equal(t, "General", profile.Department)
	assert.Equal(t, 1, profile.Year)

	fac, err := svc.CreateUser(ctx, CreateUserInput{
		Name: "Dr. Rao", Email: "Rao@Example.com", Password: "pw", Role: RoleFaculty,
		Department: "ECE", ClassroomIDs: []string{room.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "rao@example.com", fac.Email)

	fp, err := svc.FacultyByUserID(ctx, fac.ID)
	require.NoError(t, err)
	assert.True(t, fp.AssignedTo(room.ID))

	t.Run("duplicate register number rejected", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{Name: "Other", Password: "pw", Role: RoleStudent, RegisterNumber: "R100"})
		assert.ErrorIs(t, err, apperr.ErrDuplicate)
	})

	t.Run("faculty needs email", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{Name: "X", Password: "pw", Role: RoleFaculty})
		assert.ErrorIs(t, err, apperr.ErrInvalid)
	})

	t.Run("unknown classroom rejected", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{Name: "Y", Password: "pw", Role: RoleStudent, RegisterNumber: "R101", ClassroomIDs: []string{"ghost"}})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("eligible faculty for student", func(t *testing.T) {
		list, err := svc.EligibleFaculty(ctx, stu.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Dr. Rao", list[0].Name)
	})

	t.Run("sync includes only students with images", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{Name: "NoPic", Password: "pw", Role: RoleStudent, RegisterNumber: "R102", ClassroomIDs: []string{room.ID}})
		require.NoError(t, err)
		roster, err := svc.Sync(ctx)
		require.NoError(t, err)
		require.Len(t, roster.Students, 1)
		assert.Equal(t, "R100", roster.Students[0].RegisterNumber)
		assert.Len(t, roster.Faculty, 1)
		assert.Len(t, roster.Classrooms, 1)
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	u, err := svc.CreateUser(ctx, CreateUserInput{Name: "Admin", Email: "admin@school.test", Password: "topsecret", Role: RoleAdmin})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "ADMIN@school.test", "topsecret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "admin@school.test", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "nobody", "x")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.UpdateUser(ctx, u.ID, UpdateUserInput{Status: StatusInactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "admin@school.test", "topsecret")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "A", Department: "D", Year: 1})
	require.NoError(t, err)
	b, err := svc.CreateClassroom(ctx, ClassroomInput{Name: "B", Department: "D", Year: 1})
	require.NoError(t, err)

	fac, err := svc.CreateUser(ctx, CreateUserInput{Name: "F", Email: "f@x.test", Password: "pw", Role: RoleFaculty, ClassroomIDs: []string{a.ID}})
	require.NoError(t, err)

	_, err = svc.UpdateUser(ctx, fac.ID, UpdateUserInput{ClassroomIDs: []string{b.ID}, Department: "Physics"})
	require.NoError(t, err)
	fp, err := svc.FacultyByUserID(ctx, fac.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, fp.AssignedClassrooms)
	assert.Equal(t, "Physics", fp.Department)

	stu, err := svc.CreateUser(ctx, CreateUserInput{Name: "S", Password: "pw", Role: RoleStudent, RegisterNumber: "R1", ClassroomIDs: []string{a.ID}})
	require.NoError(t, err)
	sp, err := svc.StudentByUserID(ctx, stu.ID)
	require.NoError(t, err)

	deleted, err := svc.DeleteUser(ctx, stu.ID)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, deleted.StudentID)
	_, err = svc.StudentByUserID(ctx, stu.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
