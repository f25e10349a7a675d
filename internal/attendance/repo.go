package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"classroom/internal/apperr"
	"classroom/internal/store"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface{ Scan(...any) error }

// where accumulates numbered placeholders for dynamic filters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (r *Repository) InsertEvent(ctx context.Context, e Event) error {
	signals, err := json.Marshal(e.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ai_events (id, student_id, camera_id, class_session_id, occurred_at, signals, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.StudentID, e.CameraID, e.ClassSessionID, e.Timestamp, signals, e.CreatedAt)
	return store.MapError(err, "ai event")
}

const recordCols = `id, student_id, class_session_id, status, engagement_score, behaviors, source, version, created_at, updated_at`

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		behaviors []byte
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassSessionID, &rec.Status, &rec.EngagementScore,
		&behaviors, &rec.Source, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(behaviors, &rec.Behaviors); err != nil {
		return Record{}, fmt.Errorf("decode behaviors: %w", err)
	}
	return rec, nil
}

func encodeBehaviors(b []Behavior) ([]byte, error) {
	if b == nil {
		b = []Behavior{}
	}
	return json.Marshal(b)
}

func (r *Repository) GetRecord(ctx context.Context, studentID, sessionID string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE student_id = $1 AND class_session_id = $2
	`, studentID, sessionID))
	if err != nil {
		return Record{}, store.MapError(err, "attendance record")
	}
	return rec, nil
}

func (r *Repository) CreateRecord(ctx context.Context, rec Record) error {
	behaviors, err := encodeBehaviors(rec.Behaviors)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_session_id, status, engagement_score, behaviors, source, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8,$9)
	`, rec.ID, rec.StudentID, rec.ClassSessionID, rec.Status, rec.EngagementScore, behaviors, rec.Source, rec.CreatedAt, rec.UpdatedAt)
	return store.MapError(err, "attendance record")
}

func (r *Repository) UpdateRecord(ctx context.Context, rec Record) error {
	behaviors, err := encodeBehaviors(rec.Behaviors)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $3, engagement_score = $4, behaviors = $5, source = $6, version = version + 1, updated_at = $7
		WHERE student_id = $1 AND class_session_id = $2 AND version = $8
	`, rec.StudentID, rec.ClassSessionID, rec.Status, rec.EngagementScore, behaviors, rec.Source, rec.UpdatedAt, rec.Version)
	if err != nil {
		return store.MapError(err, "attendance record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetRecord(ctx, rec.StudentID, rec.ClassSessionID); err != nil {
			return err
		}
		return apperr.Conflict("attendance record changed concurrently")
	}
	return nil
}

// UpsertODRecords runs in one transaction so an approval marks every session or none.
func (r *Repository) UpsertODRecords(ctx context.Context, studentID string, sessionIDs []string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertOD(ctx, tx, studentID, sessionIDs, at); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertOD(ctx context.Context, tx *sql.Tx, studentID string, sessionIDs []string, at time.Time) error {
	for _, sid := range sessionIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, student_id, class_session_id, status, engagement_score, behaviors, source, version, created_at, updated_at)
			VALUES ($1,$2,$3,'od',100,'[]'::jsonb,'od',1,$4,$4)
			ON CONFLICT (student_id, class_session_id) DO UPDATE SET
				status = 'od',
				engagement_score = 100,
				source = 'od',
				version = attendance_records.version + 1,
				updated_at = EXCLUDED.updated_at
		`, uuid.NewString(), studentID, sid, at)
		if err != nil {
			return store.MapError(err, "attendance record")
		}
	}
	return nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err, "attendance records")
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) ListRecordsBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.queryRecords(ctx, `SELECT `+recordCols+` FROM attendance_records WHERE class_session_id = $1 ORDER BY created_at`, sessionID)
}

func (r *Repository) ListRecordsByStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.queryRecords(ctx, `SELECT `+recordCols+` FROM attendance_records WHERE student_id = $1 ORDER BY created_at`, studentID)
}

func (r *Repository) ListRecordsForSessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	if len(sessionIDs) == 0 {
		return []Record{}, nil
	}
	return r.queryRecords(ctx, `SELECT `+recordCols+` FROM attendance_records WHERE class_session_id = ANY($1) ORDER BY created_at`, sessionIDs)
}

const sessionCols = `id, classroom_id, faculty_id, session_name, date, start_time, end_time, duration_minutes, status, created_at, updated_at`

func scanSession(row scanner) (Session, error) {
	var (
		s   Session
		end sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ClassroomID, &s.FacultyID, &s.SessionName, &s.Date, &s.StartTime, &end,
		&s.DurationMinutes, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	return s, nil
}

func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_sessions (id, classroom_id, faculty_id, session_name, date, start_time, end_time, duration_minutes, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, s.ID, s.ClassroomID, s.FacultyID, s.SessionName, s.Date, s.StartTime, s.EndTime, s.DurationMinutes, s.Status, s.CreatedAt, s.UpdatedAt)
	return store.MapError(err, "class session")
}

func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM class_sessions WHERE id = $1`, id))
	if err != nil {
		return Session{}, store.MapError(err, "class session")
	}
	return s, nil
}

// CloseSession completes the session and applies the engagement threshold in one transaction.
func (r *Repository) CloseSession(ctx context.Context, s Session, threshold int) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE class_sessions
		SET end_time = $2, duration_minutes = $3, status = $4, updated_at = $5
		WHERE id = $1 AND status = 'active'
	`, s.ID, s.EndTime, s.DurationMinutes, s.Status, s.UpdatedAt)
	if err != nil {
		return 0, store.MapError(err, "class session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := r.GetSession(ctx, s.ID); err != nil {
			return 0, err
		}
		return 0, apperr.Conflict("session already ended")
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'absent', version = version + 1, updated_at = $2
		WHERE class_session_id = $1 AND status = 'present' AND source = 'ai' AND engagement_score <= $3
	`, s.ID, s.UpdatedAt, threshold)
	if err != nil {
		return 0, store.MapError(err, "attendance records")
	}
	downgraded, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(downgraded), nil
}

// DeleteSession removes the session; records follow through ON DELETE CASCADE.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM class_sessions WHERE id = $1`, id)
	return rowsAffected(res, err, "class session")
}

func rowsAffected(res sql.Result, err error, what string) error {
	if err != nil {
		return store.MapError(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(what)
	}
	return nil
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err, "class sessions")
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	var w where
	if f.ClassroomID != "" {
		w.add("classroom_id = ?", f.ClassroomID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		w.add("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("date < ?", f.To)
	}
	query := `SELECT ` + sessionCols + ` FROM class_sessions` + w.String() + ` ORDER BY date DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return r.querySessions(ctx, query, w.args...)
}

func (r *Repository) SessionsByID(ctx context.Context, ids []string) ([]Session, error) {
	if len(ids) == 0 {
		return []Session{}, nil
	}
	return r.querySessions(ctx, `SELECT `+sessionCols+` FROM class_sessions WHERE id = ANY($1)`, ids)
}

const dailyCols = `id, student_id, classroom_id, date, total_sessions, attended_sessions, percentage, created_at, updated_at`

func scanDaily(row scanner) (Daily, error) {
	var d Daily
	err := row.Scan(&d.ID, &d.StudentID, &d.ClassroomID, &d.Date, &d.TotalSessions, &d.AttendedSessions, &d.Percentage, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) UpsertDaily(ctx context.Context, d Daily) (Daily, error) {
	stored, err := scanDaily(r.db.QueryRowContext(ctx, `
		INSERT INTO daily_attendance (id, student_id, classroom_id, date, total_sessions, attended_sessions, percentage, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (student_id, classroom_id, date) DO UPDATE SET
			total_sessions = EXCLUDED.total_sessions,
			attended_sessions = EXCLUDED.attended_sessions,
			percentage = EXCLUDED.percentage,
			updated_at = EXCLUDED.updated_at
		RETURNING `+dailyCols,
		d.ID, d.StudentID, d.ClassroomID, d.Date, d.TotalSessions, d.AttendedSessions, d.Percentage, d.CreatedAt, d.UpdatedAt))
	if err != nil {
		return Daily{}, store.MapError(err, "daily attendance")
	}
	return stored, nil
}

func (r *Repository) ListDaily(ctx context.Context, f DailyFilter) ([]Daily, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = ?", f.StudentID)
	}
	if f.ClassroomID != "" {
		w.add("classroom_id = ?", f.ClassroomID)
	}
	if f.Date != "" {
		w.add("date = ?", f.Date)
	}
	if f.DatePrefix != "" {
		w.add("date LIKE ?", f.DatePrefix+"%")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+dailyCols+` FROM daily_attendance`+w.String()+` ORDER BY date DESC, student_id`, w.args...)
	if err != nil {
		return nil, store.MapError(err, "daily attendance")
	}
	defer rows.Close()
	out := []Daily{}
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteDaily(ctx context.Context, classroomID, date string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM daily_attendance WHERE classroom_id = $1 AND date = $2`, classroomID, date)
	return store.MapError(err, "daily attendance")
}

const odCols = `id, student_id, request_date, requested_faculty_id, reason, status, created_at, updated_at`

func scanOD(row scanner) (ODRequest, error) {
	var o ODRequest
	err := row.Scan(&o.ID, &o.StudentID, &o.RequestDate, &o.RequestedFacultyID, &o.Reason, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) CreateODRequest(ctx context.Context, o ODRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO od_requests (id, student_id, request_date, requested_faculty_id, reason, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, o.ID, o.StudentID, o.RequestDate, o.RequestedFacultyID, o.Reason, o.Status, o.CreatedAt, o.UpdatedAt)
	return store.MapError(err, "od request")
}

func (r *Repository) GetODRequest(ctx context.Context, id string) (ODRequest, error) {
	o, err := scanOD(r.db.QueryRowContext(ctx, `SELECT `+odCols+` FROM od_requests WHERE id = $1`, id))
	if err != nil {
		return ODRequest{}, store.MapError(err, "od request")
	}
	return o, nil
}

// ResolveODRequest answers a pending request and writes its od records in one transaction.
func (r *Repository) ResolveODRequest(ctx context.Context, id string, status ODStatus, at time.Time, sessionIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var studentID string
	err = tx.QueryRowContext(ctx, `
		UPDATE od_requests SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING student_id
	`, id, status, at).Scan(&studentID)
	if errors.Is(err, sql.ErrNoRows) {
		cur, err := r.GetODRequest(ctx, id)
		if err != nil {
			return err
		}
		return apperr.Conflict("OD request already %s", cur.Status)
	}
	if err != nil {
		return store.MapError(err, "od request")
	}
	if err := upsertOD(ctx, tx, studentID, sessionIDs, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) ListODRequests(ctx context.Context, f ODFilter) ([]ODRequest, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = ?", f.StudentID)
	}
	if f.FacultyID != "" {
		w.add("requested_faculty_id = ?", f.FacultyID)
	}
	if f.RequestDate != "" {
		w.add("request_date = ?", f.RequestDate)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+odCols+` FROM od_requests`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, store.MapError(err, "od requests")
	}
	defer rows.Close()
	out := []ODRequest{}
	for rows.Next() {
		o, err := scanOD(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) PurgeStudent(ctx context.Context, studentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM attendance_records WHERE student_id = $1`,
		`DELETE FROM daily_attendance WHERE student_id = $1`,
		`DELETE FROM od_requests WHERE student_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, studentID); err != nil {
			return store.MapError(err, "student attendance")
		}
	}
	return tx.Commit()
}

var _ Store = (*Repository)(nil)
