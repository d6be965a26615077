package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/localstore"
	"github.com/zorosafi2003/CenterPhoneApp/internal/session"
)

// ErrUnknownCenter means the scan named a center that is not in the local
// mirror. Center ids are server-controlled; the client never invents one.
var ErrUnknownCenter = errors.New("unknown center")

// Result describes the outcome of processing one scan.
type Result struct {
	Record localstore.AttendanceRecord
	// Student is the resolved roster row, nil when the code matched nobody.
	Student *localstore.Student
	// Duplicate is true when the scan matched a record already queued within
	// the dedup window and no new record was created.
	Duplicate bool
}

// Service turns raw scanned payloads into queued attendance records.
type Service struct {
	repo        *localstore.Repository
	client      *api.Client
	sess        *session.Manager
	dedupWindow time.Duration
}

// NewService creates a scan service. A non-positive window defaults to 5 minutes.
func NewService(repo *localstore.Repository, client *api.Client, sess *session.Manager, dedupWindow time.Duration) *Service {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &Service{repo: repo, client: client, sess: sess, dedupWindow: dedupWindow}
}

// parseCode extracts the scan-matchable code from a raw barcode/QR payload.
// Payloads may carry extra segments ("CODE|NAME|CENTER"); only the first is
// the code.
func parseCode(payload string) string {
	code := payload
	if idx := strings.IndexAny(payload, "|;,"); idx >= 0 {
		code = payload[:idx]
	}
	return strings.TrimSpace(code)
}

// Process records a scan at the given center. The student is resolved from
// the local roster by code; resolution failure is not an error, the record is
// queued anyway and the server matches it by code during export. Persistence
// failure is fatal to the scan and propagates: a scan that cannot be queued
// is lost and the caller must tell the user.
func (s *Service) Process(ctx context.Context, centerID, payload string) (Result, error) {
	code := parseCode(payload)
	if code == "" {
		return Result{}, errors.New("empty scan payload")
	}

	center, err := s.repo.FindCenterByID(ctx, centerID)
	if err != nil {
		return Result{}, fmt.Errorf("look up center: %w", err)
	}
	if center == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCenter, centerID)
	}

	if recent, err := s.repo.RecentAttendanceRecord(ctx, centerID, code, s.dedupWindow); err != nil {
		return Result{}, fmt.Errorf("dedup lookup: %w", err)
	} else if recent != nil {
		return Result{Record: *recent, Duplicate: true}, nil
	}

	student, err := s.repo.FindStudentByCode(ctx, code)
	if err != nil {
		// Roster lookup failure only costs the denormalized fields.
		log.Printf("student lookup for code %s failed: %v", code, err)
		student = nil
	}

	rec := localstore.AttendanceRecord{
		CenterID: centerID,
		Code:     code,
	}
	if student != nil {
		rec.StudentID = student.StudentID
		rec.StudentName = student.StudentName
	}

	saved, err := s.repo.SaveAttendanceRecord(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	return Result{Record: saved, Student: student}, nil
}

// ManualAdd queues an attendance record for a student identified by phone
// number instead of a scanned code. The local mirror is tried first, then the
// remote by-phone lookup.
func (s *Service) ManualAdd(ctx context.Context, centerID, phone string) (Result, error) {
	center, err := s.repo.FindCenterByID(ctx, centerID)
	if err != nil {
		return Result{}, fmt.Errorf("look up center: %w", err)
	}
	if center == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCenter, centerID)
	}

	student, err := s.repo.FindStudentByPhone(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("local phone lookup: %w", err)
	}
	if student == nil {
		remote, err := s.client.StudentByPhone(ctx, s.sess.Token(), phone)
		if err != nil {
			if s.sess.HandleAuthError(err) {
				return Result{}, err
			}
			return Result{}, fmt.Errorf("remote phone lookup: %w", err)
		}
		if remote == nil {
			return Result{}, fmt.Errorf("no student with phone %s", phone)
		}
		student = &localstore.Student{
			StudentID:    remote.ID,
			StudentCode:  remote.Code,
			StudentName:  remote.FullName,
			StudentGroup: remote.GroupName,
			PhoneNumber:  remote.PhoneNumber,
			ParentPhone1: remote.ParentPhone1,
			ParentPhone2: remote.ParentPhone2,
		}
		if err := s.repo.UpsertStudent(ctx, *student); err != nil {
			log.Printf("cache remote student failed: %v", err)
		}
	}

	code := student.StudentCode
	if code == "" {
		// A student with no card yet still gets an attendance record; the
		// phone number is the only scannable identity available.
		code = phone
	}

	if recent, err := s.repo.RecentAttendanceRecord(ctx, centerID, code, s.dedupWindow); err != nil {
		return Result{}, fmt.Errorf("dedup lookup: %w", err)
	} else if recent != nil {
		return Result{Record: *recent, Student: student, Duplicate: true}, nil
	}

	saved, err := s.repo.SaveAttendanceRecord(ctx, localstore.AttendanceRecord{
		CenterID:    centerID,
		Code:        code,
		StudentID:   student.StudentID,
		StudentName: student.StudentName,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Record: saved, Student: student}, nil
}

// AttachCard binds a scanned card code to a student on the server and
// refreshes the local roster row so later scans resolve offline.
func (s *Service) AttachCard(ctx context.Context, studentID, payload string) (*localstore.Student, error) {
	code := parseCode(payload)
	if code == "" {
		return nil, errors.New("empty card payload")
	}

	remote, err := s.client.AttachStudentCode(ctx, s.sess.Token(), studentID, code)
	if err != nil {
		if s.sess.HandleAuthError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("attach code: %w", err)
	}

	student := localstore.Student{
		StudentID:    remote.ID,
		StudentCode:  remote.Code,
		StudentName:  remote.FullName,
		StudentGroup: remote.GroupName,
		PhoneNumber:  remote.PhoneNumber,
		ParentPhone1: remote.ParentPhone1,
		ParentPhone2: remote.ParentPhone2,
	}
	if err := s.repo.UpsertStudent(ctx, student); err != nil {
		return nil, fmt.Errorf("refresh local student: %w", err)
	}

	// Scans of this card queued before the attach can now be resolved.
	recs, err := s.repo.ListAttendanceRecords(ctx)
	if err != nil {
		log.Printf("backfill lookup failed: %v", err)
		return &student, nil
	}
	for _, rec := range recs {
		if rec.Code != student.StudentCode || rec.StudentID != "" {
			continue
		}
		if err := s.repo.SetRecordStudent(ctx, rec.ID, student.StudentID, student.StudentName); err != nil {
			log.Printf("backfill record %s failed: %v", rec.ID, err)
		}
	}
	return &student, nil
}
