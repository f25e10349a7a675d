package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"classroom/internal/store"
)

// Repository persists directory records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repository) CreateClassroom(ctx context.Context, c Classroom) (Classroom, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classrooms (id, name, department, year, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Name, c.Department, c.Year, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Classroom{}, store.MapError(err, "classroom")
	}
	return c, nil
}

const classroomCols = `id, name, department, year, status, created_at, updated_at`

func scanClassroom(row interface{ Scan(...any) error }) (Classroom, error) {
	var c Classroom
	err := row.Scan(&c.ID, &c.Name, &c.Department, &c.Year, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) GetClassroom(ctx context.Context, id string) (Classroom, error) {
	c, err := scanClassroom(r.db.QueryRowContext(ctx, `SELECT `+classroomCols+` FROM classrooms WHERE id = $1`, id))
	if err != nil {
		return Classroom{}, store.MapError(err, "classroom")
	}
	return c, nil
}

func (r *Repository) ListClassrooms(ctx context.Context) ([]Classroom, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+classroomCols+` FROM classrooms ORDER BY name`)
	if err != nil {
		return nil, store.MapError(err, "classrooms")
	}
	defer rows.Close()
	out := []Classroom{}
	for rows.Next() {
		c, err := scanClassroom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateClassroom(ctx context.Context, c Classroom) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE classrooms SET name = $2, department = $3, year = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Name, c.Department, c.Year, c.Status, c.UpdatedAt)
	return affected(res, err, "classroom")
}

func (r *Repository) DeleteClassroom(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classrooms WHERE id = $1`, id)
	return affected(res, err, "classroom")
}

func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return store.MapError(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.MapError(sql.ErrNoRows, what)
	}
	return nil
}

func (r *Repository) CreateCamera(ctx context.Context, c Camera) (Camera, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cameras (id, name, stream_url, classroom_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Name, c.StreamURL, c.ClassroomID, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Camera{}, store.MapError(err, "camera")
	}
	return c, nil
}

const cameraSelect = `
	SELECT cam.id, cam.name, cam.stream_url, cam.classroom_id, COALESCE(cl.name, ''), cam.status, cam.created_at, cam.updated_at
	FROM cameras cam LEFT JOIN classrooms cl ON cl.id = cam.classroom_id`

func scanCamera(row interface{ Scan(...any) error }) (Camera, error) {
	var c Camera
	err := row.Scan(&c.ID, &c.Name, &c.StreamURL, &c.ClassroomID, &c.ClassroomName, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) GetCamera(ctx context.Context, id string) (Camera, error) {
	c, err := scanCamera(r.db.QueryRowContext(ctx, cameraSelect+` WHERE cam.id = $1`, id))
	if err != nil {
		return Camera{}, store.MapError(err, "camera")
	}
	return c, nil
}

func (r *Repository) ListCameras(ctx context.Context) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, cameraSelect+` ORDER BY cam.name`)
	if err != nil {
		return nil, store.MapError(err, "cameras")
	}
	defer rows.Close()
	out := []Camera{}
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateCamera(ctx context.Context, c Camera) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cameras SET name = $2, stream_url = $3, classroom_id = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Name, c.StreamURL, c.ClassroomID, c.Status, c.UpdatedAt)
	return affected(res, err, "camera")
}

func (r *Repository) DeleteCamera(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	return affected(res, err, "camera")
}

func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, email, register_number, password_hash, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.Name, u.Role, nullable(u.Email), nullable(u.RegisterNumber), u.PasswordHash, u.Status, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return User{}, store.MapError(err, "user")
	}
	return u, nil
}

const userCols = `id, name, role, COALESCE(email, ''), COALESCE(register_number, ''), password_hash, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Email, &u.RegisterNumber, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, store.MapError(err, "user")
	}
	return u, nil
}

func (r *Repository) FindUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userCols+` FROM users
		WHERE lower(email) = lower($1) OR register_number = $1
		LIMIT 1
	`, identifier))
	if err != nil {
		return User{}, store.MapError(err, "user")
	}
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, store.MapError(err, "users")
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateUser(ctx context.Context, u User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, email = $3, register_number = $4, password_hash = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, u.ID, u.Name, nullable(u.Email), nullable(u.RegisterNumber), u.PasswordHash, u.Status, u.UpdatedAt)
	return affected(res, err, "user")
}

// DeleteUser removes the user; profiles follow through ON DELETE CASCADE.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return affected(res, err, "user")
}

func (r *Repository) CreateStudent(ctx context.Context, s Student) (Student, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, user_id, register_number, department, year, classroom_id, image_url, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.UserID, s.RegisterNumber, s.Department, s.Year, nullable(s.ClassroomID), nullable(s.ImageURL), s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return Student{}, store.MapError(err, "student")
	}
	return s, nil
}

const studentSelect = `
	SELECT s.id, s.user_id, u.name, s.register_number, s.department, s.year,
	       COALESCE(s.classroom_id, ''), COALESCE(s.image_url, ''), s.status, s.created_at, s.updated_at
	FROM students s JOIN users u ON u.id = s.user_id`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.RegisterNumber, &s.Department, &s.Year, &s.ClassroomID, &s.ImageURL, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	s, err := scanStudent(r.db.QueryRowContext(ctx, studentSelect+` WHERE s.id = $1`, id))
	if err != nil {
		return Student{}, store.MapError(err, "student")
	}
	return s, nil
}

func (r *Repository) StudentByUserID(ctx context.Context, userID string) (Student, error) {
	s, err := scanStudent(r.db.QueryRowContext(ctx, studentSelect+` WHERE s.user_id = $1`, userID))
	if err != nil {
		return Student{}, store.MapError(err, "student")
	}
	return s, nil
}

func (r *Repository) ListStudents(ctx context.Context, f StudentFilter) ([]Student, error) {
	query := studentSelect
	args := []any{}
	clauses := []string{}
	if f.ClassroomID != "" {
		args = append(args, f.ClassroomID)
		clauses = append(clauses, fmt.Sprintf("s.classroom_id = $%d", len(args)))
	}
	if f.WithImage {
		clauses = append(clauses, "s.image_url IS NOT NULL AND s.image_url <> ''")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.register_number"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err, "students")
	}
	defer rows.Close()
	out := []Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateStudent(ctx context.Context, s Student) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET register_number = $2, department = $3, year = $4, classroom_id = $5,
		       image_url = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, s.ID, s.RegisterNumber, s.Department, s.Year, nullable(s.ClassroomID), nullable(s.ImageURL), s.Status, s.UpdatedAt)
	return affected(res, err, "student")
}

func (r *Repository) CreateFaculty(ctx context.Context, f Faculty) (Faculty, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Faculty{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO faculty (id, user_id, department, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, f.ID, f.UserID, f.Department, f.Status, f.CreatedAt, f.UpdatedAt); err != nil {
		return Faculty{}, store.MapError(err, "faculty")
	}
	if err := replaceAssignments(ctx, tx, f.ID, f.AssignedClassrooms); err != nil {
		return Faculty{}, err
	}
	if err := tx.Commit(); err != nil {
		return Faculty{}, err
	}
	return f, nil
}

func replaceAssignments(ctx context.Context, tx *sql.Tx, facultyID string, classroomIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM faculty_classrooms WHERE faculty_id = $1`, facultyID); err != nil {
		return store.MapError(err, "faculty classrooms")
	}
	for _, cid := range classroomIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO faculty_classrooms (faculty_id, classroom_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, facultyID, cid); err != nil {
			return store.MapError(err, "faculty classrooms")
		}
	}
	return nil
}

const facultySelect = `
	SELECT f.id, f.user_id, u.name, f.department, f.status, f.created_at, f.updated_at,
	       COALESCE((SELECT string_agg(fc.classroom_id, ',' ORDER BY fc.classroom_id)
	                 FROM faculty_classrooms fc WHERE fc.faculty_id = f.id), '')
	FROM faculty f JOIN users u ON u.id = f.user_id`

func scanFaculty(row interface{ Scan(...any) error }) (Faculty, error) {
	var (
		f     Faculty
		rooms string
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Department, &f.Status, &f.CreatedAt, &f.UpdatedAt, &rooms); err != nil {
		return Faculty{}, err
	}
	f.AssignedClassrooms = []string{}
	if rooms != "" {
		f.AssignedClassrooms = strings.Split(rooms, ",")
	}
	return f, nil
}

func (r *Repository) GetFaculty(ctx context.Context, id string) (Faculty, error) {
	f, err := scanFaculty(r.db.QueryRowContext(ctx, facultySelect+` WHERE f.id = $1`, id))
	if err != nil {
		return Faculty{}, store.MapError(err, "faculty")
	}
	return f, nil
}

func (r *Repository) FacultyByUserID(ctx context.Context, userID string) (Faculty, error) {
	f, err := scanFaculty(r.db.QueryRowContext(ctx, facultySelect+` WHERE f.user_id = $1`, userID))
	if err != nil {
		return Faculty{}, store.MapError(err, "faculty")
	}
	return f, nil
}

func (r *Repository) ListFaculty(ctx context.Context, classroomID string) ([]Faculty, error) {
	query := facultySelect
	args := []any{}
	if classroomID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM faculty_classrooms fc WHERE fc.faculty_id = f.id AND fc.classroom_id = $1)`
		args = append(args, classroomID)
	}
	query += ` ORDER BY u.name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err, "faculty")
	}
	defer rows.Close()
	out := []Faculty{}
	for rows.Next() {
		f, err := scanFaculty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateFaculty(ctx context.Context, f Faculty) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE faculty SET department = $2, status = $3, updated_at = $4 WHERE id = $1
	`, f.ID, f.Department, f.Status, f.UpdatedAt)
	if err := affected(res, err, "faculty"); err != nil {
		return err
	}
	if err := replaceAssignments(ctx, tx, f.ID, f.AssignedClassrooms); err != nil {
		return err
	}
	return tx.Commit()
}

var _ Store = (*Repository)(nil)
