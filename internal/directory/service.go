package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroom/internal/apperr"
	"classroom/internal/auth"
)

// Service validates and applies directory changes.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// ClassroomInput is the payload for creating a classroom.
type ClassroomInput struct {
	Name       string
	Department string
	Year       int
}

// ClassroomPatch updates the non-nil fields of a classroom.
type ClassroomPatch struct {
	Name       *string
	Department *string
	Year       *int
	Status     *Status
}

// CreateClassroom adds a classroom. Names are unique.
func (s *Service) CreateClassroom(ctx context.Context, in ClassroomInput) (Classroom, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Department == "" {
		return Classroom{}, apperr.Invalid("name and department are required")
	}
	if in.Year <= 0 {
		return Classroom{}, apperr.Invalid("year must be positive")
	}
	now := s.now().UTC()
	return s.store.CreateClassroom(ctx, Classroom{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Department: in.Department,
		Year:       in.Year,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// ListClassrooms returns every classroom.
func (s *Service) ListClassrooms(ctx context.Context) ([]Classroom, error) {
	return s.store.ListClassrooms(ctx)
}

// Classroom returns one classroom.
func (s *Service) Classroom(ctx context.Context, id string) (Classroom, error) {
	return s.store.GetClassroom(ctx, id)
}

// UpdateClassroom applies a patch.
func (s *Service) UpdateClassroom(ctx context.Context, id string, p ClassroomPatch) (Classroom, error) {
	c, err := s.store.GetClassroom(ctx, id)
	if err != nil {
		return Classroom{}, err
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Department != nil && *p.Department != "" {
		c.Department = *p.Department
	}
	if p.Year != nil && *p.Year > 0 {
		c.Year = *p.Year
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return Classroom{}, apperr.Invalid("invalid status %q", *p.Status)
		}
		c.Status = *p.Status
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateClassroom(ctx, c); err != nil {
		return Classroom{}, err
	}
	return c, nil
}

// DeleteClassroom removes a classroom.
func (s *Service) DeleteClassroom(ctx context.Context, id string) error {
	return s.store.DeleteClassroom(ctx, id)
}

// CameraInput is the payload for creating a camera.
type CameraInput struct {
	Name        string
	StreamURL   string
	ClassroomID string
}

// CameraPatch updates the non-empty fields of a camera.
type CameraPatch struct {
	Name        string
	StreamURL   string
	ClassroomID string
	Status      Status
}

// CreateCamera adds a camera to an existing classroom.
func (s *Service) CreateCamera(ctx context.Context, in CameraInput) (Camera, error) {
	if in.Name == "" || in.StreamURL == "" || in.ClassroomID == "" {
		return Camera{}, apperr.Invalid("name, streamUrl and classroomId are required")
	}
	room, err := s.store.GetClassroom(ctx, in.ClassroomID)
	if err != nil {
		return Camera{}, err
	}
	now := s.now().UTC()
	return s.store.CreateCamera(ctx, Camera{
		ID:            uuid.NewString(),
		Name:          in.Name,
		StreamURL:     in.StreamURL,
		ClassroomID:   room.ID,
		ClassroomName: room.Name,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// ListCameras returns every camera with its classroom name.
func (s *Service) ListCameras(ctx context.Context) ([]Camera, error) {
	return s.store.ListCameras(ctx)
}

// UpdateCamera applies a patch.
func (s *Service) UpdateCamera(ctx context.Context, id string, p CameraPatch) (Camera, error) {
	cam, err := s.store.GetCamera(ctx, id)
	if err != nil {
		return Camera{}, err
	}
	if p.Name != "" {
		cam.Name = p.Name
	}
	if p.StreamURL != "" {
		cam.StreamURL = p.StreamURL
	}
	if p.ClassroomID != "" && p.ClassroomID != cam.ClassroomID {
		room, err := s.store.GetClassroom(ctx, p.ClassroomID)
		if err != nil {
			return Camera{}, err
		}
		cam.ClassroomID, cam.ClassroomName = room.ID, room.Name
	}
	if p.Status != "" {
		if !p.Status.Valid() {
			return Camera{}, apperr.Invalid("invalid status %q", p.Status)
		}
		cam.Status = p.Status
	}
	cam.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCamera(ctx, cam); err != nil {
		return Camera{}, err
	}
	return cam, nil
}

// DeleteCamera removes a camera.
func (s *Service) DeleteCamera(ctx context.Context, id string) error {
	return s.store.DeleteCamera(ctx, id)
}

// CreateUserInput is the payload for creating a user with its profile.
type CreateUserInput struct {
	Name           string
	Email          string
	Password       string
	Role           Role
	RegisterNumber string
	Department     string
	Year           int
	ClassroomIDs   []string
	ImageURL       string
}

// UpdateUserInput patches a user and its profile. Empty fields are left unchanged;
// a non-nil ClassroomIDs replaces the assignment.
type UpdateUserInput struct {
	Name           string
	Email          string
	Password       string
	RegisterNumber string
	Department     string
	Year           int
	Status         Status
	ClassroomIDs   []string
	ImageURL       string
}

// CreateUser creates the login identity and the student or faculty profile that goes with it.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if err := validateNewUser(in); err != nil {
		return User{}, err
	}
	for _, id := range in.ClassroomIDs {
		if _, err := s.store.GetClassroom(ctx, id); err != nil {
			return User{}, err
		}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		PasswordHash: hash,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Role == RoleStudent {
		u.RegisterNumber = in.RegisterNumber
	} else {
		u.Email = strings.ToLower(strings.TrimSpace(in.Email))
	}
	u, err = s.store.CreateUser(ctx, u)
	if err != nil {
		return User{}, err
	}

	if err := s.createProfile(ctx, u, in, now); err != nil {
		if delErr := s.store.DeleteUser(ctx, u.ID); delErr != nil {
			s.logger.Error("rollback user after profile failure", zap.String("user_id", u.ID), zap.Error(delErr))
		}
		return User{}, err
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

func validateNewUser(in CreateUserInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if !in.Role.Valid() {
		return apperr.Invalid("role must be admin, faculty or student")
	}
	if in.Password == "" {
		return apperr.Invalid("password is required")
	}
	if in.Role == RoleStudent && in.RegisterNumber == "" {
		return apperr.Invalid("registerNumber is required for students")
	}
	if in.Role != RoleStudent && in.Email == "" {
		return apperr.Invalid("email is required for %s users", in.Role)
	}
	return nil
}

func (s *Service) createProfile(ctx context.Context, u User, in CreateUserInput, now time.Time) error {
	dept := in.Department
	if dept == "" {
		dept = "General"
	}
	switch u.Role {
	case RoleStudent:
		year := in.Year
		if year <= 0 {
			year = 1
		}
		st := Student{
			ID:             uuid.NewString(),
			UserID:         u.ID,
			Name:           u.Name,
			RegisterNumber: in.RegisterNumber,
			Department:     dept,
			Year:           year,
			ImageURL:       in.ImageURL,
			Status:         StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if len(in.ClassroomIDs) > 0 {
			st.ClassroomID = in.ClassroomIDs[0]
		}
		_, err := s.store.CreateStudent(ctx, st)
		return err
	case RoleFaculty:
		_, err := s.store.CreateFaculty(ctx, Faculty{
			ID:                 uuid.NewString(),
			UserID:             u.ID,
			Name:               u.Name,
			Department:         dept,
			AssignedClassrooms: append([]string(nil), in.ClassroomIDs...),
			Status:             StatusActive,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		return err
	}
	return nil
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// UpdateUser patches a user and its profile.
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	if in.Name != "" {
		u.Name = strings.TrimSpace(in.Name)
	}
	if in.Status != "" {
		if !in.Status.Valid() {
			return User{}, apperr.Invalid("invalid status %q", in.Status)
		}
		u.Status = in.Status
	}
	if u.Role == RoleStudent && in.RegisterNumber != "" {
		u.RegisterNumber = in.RegisterNumber
	}
	if u.Role != RoleStudent && in.Email != "" {
		u.Email = strings.ToLower(strings.TrimSpace(in.Email))
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	for _, cid := range in.ClassroomIDs {
		if _, err := s.store.GetClassroom(ctx, cid); err != nil {
			return User{}, err
		}
	}
	u.UpdatedAt = now
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return User{}, err
	}

	switch u.Role {
	case RoleStudent:
		st, err := s.store.StudentByUserID(ctx, u.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			break
		}
		if err != nil {
			return User{}, err
		}
		st.Name = u.Name
		if in.RegisterNumber != "" {
			st.RegisterNumber = in.RegisterNumber
		}
		if in.Department != "" {
			st.Department = in.Department
		}
		if in.Year > 0 {
			st.Year = in.Year
		}
		if len(in.ClassroomIDs) > 0 {
			st.ClassroomID = in.ClassroomIDs[0]
		}
		if in.ImageURL != "" {
			st.ImageURL = in.ImageURL
		}
		if in.Status != "" {
			st.Status = in.Status
		}
		st.UpdatedAt = now
		if err := s.store.UpdateStudent(ctx, st); err != nil {
			return User{}, err
		}
	case RoleFaculty:
		f, err := s.store.FacultyByUserID(ctx, u.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			break
		}
		if err != nil {
			return User{}, err
		}
		f.Name = u.Name
		if in.Department != "" {
			f.Department = in.Department
		}
		if in.ClassroomIDs != nil {
			f.AssignedClassrooms = append([]string(nil), in.ClassroomIDs...)
		}
		if in.Status != "" {
			f.Status = in.Status
		}
		f.UpdatedAt = now
		if err := s.store.UpdateFaculty(ctx, f); err != nil {
			return User{}, err
		}
	}
	return u, nil
}

// DeletedUser reports what DeleteUser removed. StudentID is set for student users so the
// caller can purge attendance data keyed by the profile.
type DeletedUser struct {
	User      User
	StudentID string
}

// DeleteUser removes a user and its profile.
func (s *Service) DeleteUser(ctx context.Context, id string) (DeletedUser, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return DeletedUser{}, err
	}
	out := DeletedUser{User: u}
	if u.Role == RoleStudent {
		st, err := s.store.StudentByUserID(ctx, u.ID)
		switch {
		case err == nil:
			out.StudentID = st.ID
		case !errors.Is(err, apperr.ErrNotFound):
			return DeletedUser{}, err
		}
	}
	if err := s.store.DeleteUser(ctx, u.ID); err != nil {
		return DeletedUser{}, err
	}
	s.logger.Info("user deleted", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return out, nil
}

// Authenticate checks credentials by email or register number.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (User, error) {
	if identifier == "" || password == "" {
		return User{}, apperr.Invalid("identifier and password are required")
	}
	u, err := s.store.FindUserByIdentifier(ctx, strings.TrimSpace(identifier))
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	if err != nil {
		return User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return User{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	if u.Status != StatusActive {
		return User{}, fmt.Errorf("user account is inactive: %w", apperr.ErrUnauthorized)
	}
	return u, nil
}

// User returns one user.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.store.GetUser(ctx, id)
}

// Student returns a student profile by id.
func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	return s.store.GetStudent(ctx, id)
}

// StudentByUserID returns the profile of a student user.
func (s *Service) StudentByUserID(ctx context.Context, userID string) (Student, error) {
	st, err := s.store.StudentByUserID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Student{}, apperr.NotFound("student profile")
	}
	return st, err
}

// StudentsInClassroom lists a classroom's students.
func (s *Service) StudentsInClassroom(ctx context.Context, classroomID string) ([]Student, error) {
	return s.store.ListStudents(ctx, StudentFilter{ClassroomID: classroomID})
}

// Faculty returns a faculty profile by id.
func (s *Service) Faculty(ctx context.Context, id string) (Faculty, error) {
	return s.store.GetFaculty(ctx, id)
}

// FacultyByUserID returns the profile of a faculty user.
func (s *Service) FacultyByUserID(ctx context.Context, userID string) (Faculty, error) {
	f, err := s.store.FacultyByUserID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Faculty{}, apperr.NotFound("faculty profile")
	}
	return f, err
}

// AssignedClassrooms returns the classrooms a faculty user teaches.
func (s *Service) AssignedClassrooms(ctx context.Context, userID string) ([]Classroom, error) {
	f, err := s.FacultyByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]Classroom, 0, len(f.AssignedClassrooms))
	for _, id := range f.AssignedClassrooms {
		room, err := s.store.GetClassroom(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// EligibleFaculty lists the faculty a student may address an OD request to.
func (s *Service) EligibleFaculty(ctx context.Context, studentUserID string) ([]Faculty, error) {
	st, err := s.StudentByUserID(ctx, studentUserID)
	if err != nil {
		return nil, err
	}
	if st.ClassroomID == "" {
		return nil, apperr.NotFound("student classroom assignment")
	}
	return s.store.ListFaculty(ctx, st.ClassroomID)
}

// Sync returns the roster the vision layer needs: students without a reference image are left out.
func (s *Service) Sync(ctx context.Context) (Roster, error) {
	var (
		r   Roster
		err error
	)
	if r.Classrooms, err = s.store.ListClassrooms(ctx); err != nil {
		return Roster{}, err
	}
	if r.Cameras, err = s.store.ListCameras(ctx); err != nil {
		return Roster{}, err
	}
	if r.Students, err = s.store.ListStudents(ctx, StudentFilter{WithImage: true}); err != nil {
		return Roster{}, err
	}
	if r.Faculty, err = s.store.ListFaculty(ctx, ""); err != nil {
		return Roster{}, err
	}
	return r, nil
}
