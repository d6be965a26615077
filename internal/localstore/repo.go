package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is a locally queued scan awaiting export. The id is minted
// on the device and is the correlation key the server echoes back once the
// record is durably inserted remotely.
type AttendanceRecord struct {
	ID          string
	CenterID    string
	Code        string
	StudentID   string
	StudentName string
	CreatedAt   time.Time
}

// Student is one row of the locally mirrored roster.
type Student struct {
	StudentID    string
	StudentCode  string
	StudentName  string
	StudentGroup string
	PhoneNumber  string
	ParentPhone1 string
	ParentPhone2 string
	CreatedAt    time.Time
}

// Center is one row of the locally mirrored center list.
type Center struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Repository persists attendance records, students and centers in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SaveAttendanceRecord inserts a queued record, minting an id and timestamp
// when absent. Re-saving an existing id is a no-op, not an error.
func (r *Repository) SaveAttendanceRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	if rec.CenterID == "" {
		return AttendanceRecord{}, errors.New("center id required")
	}
	if rec.Code == "" {
		return AttendanceRecord{}, errors.New("code required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, center_id, code, student_id, student_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.CenterID, rec.Code, rec.StudentID, rec.StudentName, toMillis(rec.CreatedAt))
	if err != nil {
		return AttendanceRecord{}, fmt.Errorf("save attendance record: %w", err)
	}
	return rec, nil
}

// SetRecordStudent fills the denormalized student fields on a queued record.
// It only applies once: a record that already carries a student id is left alone.
func (r *Repository) SetRecordStudent(ctx context.Context, id, studentID, studentName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET student_id = ?, student_name = ?
		WHERE id = ? AND student_id = ''
	`, studentID, studentName, id)
	if err != nil {
		return fmt.Errorf("set record student: %w", err)
	}
	return nil
}

// ListAttendanceRecords returns all queued records, newest first.
func (r *Repository) ListAttendanceRecords(ctx context.Context) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, center_id, code, student_id, student_name, created_at
		FROM attendance_records
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AttendanceRecord
	for rows.Next() {
		var rec AttendanceRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.CenterID, &rec.Code, &rec.StudentID, &rec.StudentName, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = fromMillis(createdAt)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountAttendanceRecords returns the number of queued records.
func (r *Repository) CountAttendanceRecords(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records`).Scan(&count)
	return count, err
}

// RecentAttendanceRecord returns the newest queued record for the given
// center and code within the provided window, or nil when none exists.
func (r *Repository) RecentAttendanceRecord(ctx context.Context, centerID, code string, window time.Duration) (*AttendanceRecord, error) {
	cutoff := toMillis(time.Now().UTC().Add(-window))
	row := r.db.QueryRowContext(ctx, `
		SELECT id, center_id, code, student_id, student_name, created_at
		FROM attendance_records
		WHERE center_id = ? AND code = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`, centerID, code, cutoff)
	var rec AttendanceRecord
	var createdAt int64
	if err := row.Scan(&rec.ID, &rec.CenterID, &rec.Code, &rec.StudentID, &rec.StudentName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	return &rec, nil
}

// DeleteAttendanceRecords removes exactly the records whose id is in ids.
// Ids not present locally are ignored.
func (r *Repository) DeleteAttendanceRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete attendance records: %w", err)
	}
	return nil
}

// ReplaceAllStudents clears the students table and inserts the given rows in
// one transaction, so readers never observe a half-empty roster. A row that
// fails to insert is logged and skipped; the rest still commit. Returns the
// number of rows saved.
func (r *Repository) ReplaceAllStudents(ctx context.Context, students []Student) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace students: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return 0, fmt.Errorf("clear students: %w", err)
	}

	saved := 0
	for _, s := range students {
		createdAt := s.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO students (student_id, student_code, student_name, student_group, phone_number, parent_phone1, parent_phone2, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.StudentID, s.StudentCode, s.StudentName, s.StudentGroup, s.PhoneNumber, s.ParentPhone1, s.ParentPhone2, toMillis(createdAt))
		if err != nil {
			log.Printf("skipping student %s: %v", s.StudentID, err)
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace students: %w", err)
	}
	return saved, nil
}

// ReplaceAllCenters clears the centers table and inserts the given rows, with
// the same transactional and per-row semantics as ReplaceAllStudents.
func (r *Repository) ReplaceAllCenters(ctx context.Context, centers []Center) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace centers: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM centers`); err != nil {
		return 0, fmt.Errorf("clear centers: %w", err)
	}

	saved := 0
	for _, c := range centers {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO centers (id, name, created_at) VALUES (?, ?, ?)
		`, c.ID, c.Name, toMillis(createdAt)); err != nil {
			log.Printf("skipping center %s: %v", c.ID, err)
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace centers: %w", err)
	}
	return saved, nil
}

// UpsertStudent creates or updates a single roster row. Used when the server
// returns a fresh student snapshot outside a full import (attach-code flow).
func (r *Repository) UpsertStudent(ctx context.Context, s Student) error {
	if s.StudentID == "" {
		return errors.New("student id required")
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (student_id, student_code, student_name, student_group, phone_number, parent_phone1, parent_phone2, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			student_code = excluded.student_code,
			student_name = excluded.student_name,
			student_group = excluded.student_group,
			phone_number = excluded.phone_number,
			parent_phone1 = excluded.parent_phone1,
			parent_phone2 = excluded.parent_phone2
	`, s.StudentID, s.StudentCode, s.StudentName, s.StudentGroup, s.PhoneNumber, s.ParentPhone1, s.ParentPhone2, toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// FindStudentByCode returns the student with the given scan code, or nil.
func (r *Repository) FindStudentByCode(ctx context.Context, code string) (*Student, error) {
	return r.findStudent(ctx, `student_code = ?`, code)
}

// FindStudentByPhone returns the student with the given phone number, or nil.
func (r *Repository) FindStudentByPhone(ctx context.Context, phone string) (*Student, error) {
	return r.findStudent(ctx, `phone_number = ?`, phone)
}

// FindStudentByID returns the student with the given remote id, or nil.
func (r *Repository) FindStudentByID(ctx context.Context, id string) (*Student, error) {
	return r.findStudent(ctx, `student_id = ?`, id)
}

func (r *Repository) findStudent(ctx context.Context, where string, arg any) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, student_code, student_name, student_group, phone_number, parent_phone1, parent_phone2, created_at
		FROM students WHERE `+where+` LIMIT 1
	`, arg)
	var s Student
	var createdAt int64
	if err := row.Scan(&s.StudentID, &s.StudentCode, &s.StudentName, &s.StudentGroup, &s.PhoneNumber, &s.ParentPhone1, &s.ParentPhone2, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}

// CountStudents returns the size of the mirrored roster.
func (r *Repository) CountStudents(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&count)
	return count, err
}

// FindCenterByID returns the center with the given id, or nil.
func (r *Repository) FindCenterByID(ctx context.Context, id string) (*Center, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM centers WHERE id = ?
	`, id)
	var c Center
	var createdAt int64
	if err := row.Scan(&c.ID, &c.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// ListCenters returns all centers ordered by name.
func (r *Repository) ListCenters(ctx context.Context) ([]Center, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM centers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Center
	for rows.Next() {
		var c Center
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Name, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(createdAt)
		res = append(res, c)
	}
	return res, rows.Err()
}
