package absence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/student"
)

type Kind string

const (
	StudentExcused   Kind = "student_excused"
	StudentUnexcused Kind = "student_unexcused"
	TeacherCancelled Kind = "teacher_cancelled"
)

func (k Kind) IsValid() bool {
	return k == StudentExcused || k == StudentUnexcused || k == TeacherCancelled
}

var (
	ErrNotFound = core.NewNotFoundError("absence")

	errUnknownEnrollment = core.NewFieldError("enrollment_id", errors.New("enrollment not found"))
	errNoLesson          = core.NewFieldError("lesson_date", errors.New("there is no lesson of this enrollment on that date"))
	errAlreadyRecorded   = core.NewFieldError("lesson_date", errors.New("an absence is already recorded for this lesson"))
)

// Absence is a missed lesson. some absences earn the student a credit on their ledger.
type Absence struct {
	ID            string      `json:"id" db:"id"`
	EnrollmentID  string      `json:"enrollment_id" db:"enrollment_id"`
	StudentID     string      `json:"student_id" db:"student_id"`
	LessonDate    core.Date   `json:"lesson_date" db:"lesson_date"`
	Kind          Kind        `json:"kind" db:"kind"`
	Reason        string      `json:"reason" db:"reason"`
	ReportedAt    time.Time   `json:"reported_at" db:"reported_at"` // UTC
	CreditEntryID null.String `json:"credit_entry_id" db:"credit_entry_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"` // UTC
}

type NewAbsence struct {
	EnrollmentID string    `json:"enrollment_id" validate:"required,uuid"`
	LessonDate   core.Date `json:"lesson_date" validate:"required"`
	Kind         Kind      `json:"kind" validate:"enum"`
	Reason       string    `json:"reason" validate:"max=255"`
	ReportedAt   time.Time `json:"reported_at"` // defaults to now
}

func (na *NewAbsence) Validate(validate *validator.Validate) error {
	na.Reason = core.CleanString(na.Reason)
	return validate.Struct(na)
}

type QueryFilter struct {
	StudentID    string    `query:"student_id"`
	EnrollmentID string    `query:"enrollment_id"`
	From         core.Date `query:"from"`
	To           core.Date `query:"to"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.EnrollmentID = core.CleanString(qf.EnrollmentID)
}

// Matches reports whether a passes the filter; used by stores that can't filter themselves.
func (qf *QueryFilter) Matches(a Absence) bool {
	if qf == nil {
		return true
	}
	if qf.StudentID != "" && a.StudentID != qf.StudentID {
		return false
	}
	if qf.EnrollmentID != "" && a.EnrollmentID != qf.EnrollmentID {
		return false
	}
	if !qf.From.IsZero() && a.LessonDate.Before(qf.From) {
		return false
	}
	return qf.To.IsZero() || !a.LessonDate.After(qf.To)
}

type Repository interface {
	CreateAbsence(ctx context.Context, a Absence, exec ...core.DBExecutor) (Absence, error)
	GetAbsence(ctx context.Context, id string, exec ...core.DBExecutor) (Absence, error)
	// LessonAbsence returns the absence recorded for an enrollment's lesson.
	LessonAbsence(ctx context.Context, enrollmentID string, lessonDate core.Date, exec ...core.DBExecutor) (Absence, error)
	// QueryAbsences returns absences by lesson date.
	QueryAbsences(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Absence, error)
	DeleteAbsence(ctx context.Context, id string, exec ...core.DBExecutor) error
}

// CreditPolicy decides which absences earn a credit.
type CreditPolicy struct {
	// Notice is how long before the lesson an excused absence must be reported to be credited.
	Notice time.Duration
	// Location is where lessons take place; lesson times are wall clock times there.
	Location *time.Location
}

// Credits reports whether an absence of kind, reported at reportedAt, for a lesson starting at lessonStart is credited.
func (p CreditPolicy) Credits(kind Kind, reportedAt, lessonStart time.Time) bool {
	switch kind {
	case TeacherCancelled:
		return true
	case StudentExcused:
		return !reportedAt.After(lessonStart.Add(-p.Notice))
	}
	return false
}

type Service struct {
	db          core.Transactor
	repo        Repository
	enrollments enrollment.Repository
	courses     course.Repository
	students    student.Repository
	pricing     *pricing.EnrollmentPricing
	ledger      *billing.LedgerService
	policy      CreditPolicy
}

func NewService(
	db core.Transactor,
	repo Repository,
	enrollments enrollment.Repository,
	courses course.Repository,
	students student.Repository,
	enrPricing *pricing.EnrollmentPricing,
	ledger *billing.LedgerService,
	policy CreditPolicy,
) *Service {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &Service{
		db:          db,
		repo:        repo,
		enrollments: enrollments,
		courses:     courses,
		students:    students,
		pricing:     enrPricing,
		ledger:      ledger,
		policy:      policy,
	}
}

// Record registers a missed lesson; credited absences add a credit worth the lesson's price to the student's ledger.
func (svc *Service) Record(ctx context.Context, na NewAbsence) (Absence, error) {
	reportedAt := na.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = core.NowFunc()
	}

	var abs Absence
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		enr, err := svc.enrollments.GetEnrollment(ctx, na.EnrollmentID, exec)
		if err != nil {
			if core.IsNotFound(err) {
				return errUnknownEnrollment
			}
			return err
		}
		st, err := svc.students.LockStudent(ctx, enr.StudentID, exec)
		if err != nil {
			return err
		}
		crs, err := svc.courses.GetCourse(ctx, enr.CourseID, exec)
		if err != nil {
			return err
		}
		if !enr.Covers(na.LessonDate) || !crs.Schedule.Occurs(na.LessonDate) {
			return errNoLesson
		}

		if _, err := svc.repo.LessonAbsence(ctx, enr.ID, na.LessonDate, exec); err == nil {
			return errAlreadyRecorded
		} else if !core.IsNotFound(err) {
			return err
		}

		abs = Absence{
			EnrollmentID: enr.ID,
			StudentID:    enr.StudentID,
			LessonDate:   na.LessonDate,
			Kind:         na.Kind,
			Reason:       na.Reason,
			ReportedAt:   reportedAt.UTC(),
			CreatedAt:    core.NowFunc().UTC(),
		}

		lessonStart := na.LessonDate.At(int(crs.Schedule.Start), svc.policy.Location)
		if svc.policy.Credits(na.Kind, reportedAt, lessonStart) {
			quote, err := svc.pricing.Quote(ctx, enr, st, crs.CourseTypeID, na.LessonDate, exec)
			if err != nil {
				return errors.Wrap(err, "pricing the missed lesson")
			}
			if quote.Price.IsPositive() {
				entry, err := svc.ledger.AddAbsenceCredit(ctx, billing.AbsenceCredit{
					StudentID:   enr.StudentID,
					Amount:      quote.Price,
					Description: fmt.Sprintf("%s lesson of %s missed (%s)", crs.Name, na.LessonDate, na.Kind),
					LessonDate:  na.LessonDate,
				}, exec)
				if err != nil {
					return err
				}
				abs.CreditEntryID = null.StringFrom(entry.ID)
			}
		}

		abs, err = svc.repo.CreateAbsence(ctx, abs, exec)
		return err
	})
	return abs, err
}

func (svc *Service) Get(ctx context.Context, id string) (Absence, error) {
	return svc.repo.GetAbsence(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Absence, error) {
	return svc.repo.QueryAbsences(ctx, filter)
}

// Delete removes an absence recorded by mistake; its credit, if any, is reversed.
func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		abs, err := svc.repo.GetAbsence(ctx, id, exec)
		if err != nil {
			return err
		}
		if abs.CreditEntryID.Valid {
			entry, err := svc.ledger.GetEntry(ctx, abs.CreditEntryID.String, exec)
			if err != nil {
				return err
			}
			if entry.IsReversed() {
				return svc.repo.DeleteAbsence(ctx, abs.ID, exec)
			}
			if _, err := svc.ledger.ReverseEntry(ctx, abs.CreditEntryID.String, "absence deleted", exec); err != nil {
				return errors.Wrap(err, "reversing absence credit")
			}
		}
		return svc.repo.DeleteAbsence(ctx, abs.ID, exec)
	})
}
