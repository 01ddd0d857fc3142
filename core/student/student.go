package student

import (
	"context"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
)

var (
	ErrNotFound = core.NewNotFoundError("student")

	errBirthDateInFuture = errors.New("birth date cannot be in the future")
)

type Student struct {
	ID            string        `json:"id" db:"id"`
	FirstName     string        `json:"first_name" db:"first_name"`
	LastName      string        `json:"last_name" db:"last_name"`
	Email         string        `json:"email" db:"email"`
	Phone         string        `json:"phone" db:"phone"`
	BirthDate     core.NullDate `json:"birth_date" db:"birth_date"`
	GuardianName  string        `json:"guardian_name" db:"guardian_name"`
	GuardianEmail string        `json:"guardian_email" db:"guardian_email"`
	IsActive      bool          `json:"is_active" db:"is_active"`
	Notes         string        `json:"notes" db:"notes"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"` // UTC
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"` // UTC
}

func (s Student) FullName() string {
	return core.CleanString(s.FirstName + " " + s.LastName)
}

// AgeOn returns the student's age in full years on date; ok is false when the birth date is unknown.
func (s Student) AgeOn(date core.Date) (age int, ok bool) {
	if !s.BirthDate.Valid {
		return 0, false
	}
	bd := s.BirthDate.Date
	age = date.Year() - bd.Year()
	if date.Month() < bd.Month() || (date.Month() == bd.Month() && date.Day() < bd.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// BillingAddress is where invoices are sent: the guardian's email when set.
func (s Student) BillingAddress() mail.Address {
	if s.GuardianEmail != "" {
		return mail.Address{Name: s.GuardianName, Address: s.GuardianEmail}
	}
	return mail.Address{Name: s.FullName(), Address: s.Email}
}

type NewStudent struct {
	FirstName     string        `json:"first_name" validate:"required,notblank"`
	LastName      string        `json:"last_name" validate:"required,notblank"`
	Email         string        `json:"email" validate:"omitempty,email"`
	Phone         string        `json:"phone" validate:"omitempty,max=32"`
	BirthDate     core.NullDate `json:"birth_date"`
	GuardianName  string        `json:"guardian_name"`
	GuardianEmail string        `json:"guardian_email" validate:"omitempty,email"`
	Notes         string        `json:"notes"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.FirstName = core.CleanString(ns.FirstName)
	ns.LastName = core.CleanString(ns.LastName)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.Phone = core.CleanString(ns.Phone)
	ns.GuardianName = core.CleanString(ns.GuardianName)
	ns.GuardianEmail = core.CleanString(ns.GuardianEmail, true /* lower */)
	if err := validate.Struct(ns); err != nil {
		return err
	}
	return validateBirthDate(ns.BirthDate)
}

// UpdateStudent defines what information may be provided to modify an existing Student.
// empty fields keep their current value.
type UpdateStudent struct {
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Email         string        `json:"email" validate:"omitempty,email"`
	Phone         string        `json:"phone" validate:"omitempty,max=32"`
	BirthDate     core.NullDate `json:"birth_date"`
	GuardianName  string        `json:"guardian_name"`
	GuardianEmail string        `json:"guardian_email" validate:"omitempty,email"`
	IsActive      *bool         `json:"is_active"`
	Notes         *string       `json:"notes"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	us.FirstName = core.CleanString(us.FirstName)
	us.LastName = core.CleanString(us.LastName)
	us.Email = core.CleanString(us.Email, true /* lower */)
	us.Phone = core.CleanString(us.Phone)
	us.GuardianName = core.CleanString(us.GuardianName)
	us.GuardianEmail = core.CleanString(us.GuardianEmail, true /* lower */)
	if err := validate.Struct(us); err != nil {
		return err
	}
	return validateBirthDate(us.BirthDate)
}

func (us UpdateStudent) apply(s Student) Student {
	if us.FirstName != "" {
		s.FirstName = us.FirstName
	}
	if us.LastName != "" {
		s.LastName = us.LastName
	}
	if us.Email != "" {
		s.Email = us.Email
	}
	if us.Phone != "" {
		s.Phone = us.Phone
	}
	if us.BirthDate.Valid {
		s.BirthDate = us.BirthDate
	}
	if us.GuardianName != "" {
		s.GuardianName = us.GuardianName
	}
	if us.GuardianEmail != "" {
		s.GuardianEmail = us.GuardianEmail
	}
	if us.IsActive != nil {
		s.IsActive = *us.IsActive
	}
	if us.Notes != nil {
		s.Notes = *us.Notes
	}
	return s
}

func validateBirthDate(bd core.NullDate) error {
	if bd.Valid && bd.Date.After(core.Today()) {
		return core.NewFieldError("birth_date", errBirthDateInFuture)
	}
	return nil
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields maps the API ordering fields to DB columns.
var OrderingFields = map[string]string{
	"first_name": "first_name",
	"last_name":  "last_name",
	"email":      "email",
	"birth_date": "birth_date",
	"is_active":  "is_active",
	"created_at": "created_at",
}

type Repository interface {
	CreateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
	GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
	// LockStudent returns the student & locks its row until the end of the transaction exec belongs to.
	// Operations on a student's enrollments, invoices & ledger serialize on this lock.
	LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
	// QueryStudents applies AND operation on available QueryFilter fields.
	// QueryFilter.Search does a case-insensitive match on the names or the emails.
	QueryStudents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Student, error)
	UpdateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	now := core.NowFunc().UTC()
	s := Student{
		FirstName:     ns.FirstName,
		LastName:      ns.LastName,
		Email:         ns.Email,
		Phone:         ns.Phone,
		BirthDate:     ns.BirthDate,
		GuardianName:  ns.GuardianName,
		GuardianEmail: ns.GuardianEmail,
		IsActive:      true,
		Notes:         ns.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return svc.repo.CreateStudent(ctx, s)
}

func (svc *Service) Get(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, core.CleanOrdering(ordering, OrderingFields))
}

func (svc *Service) Update(ctx context.Context, s Student, us UpdateStudent) (Student, error) {
	s = us.apply(s)
	s.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateStudent(ctx, s)
}

// Deactivate marks the student inactive. Students are never deleted: invoices & ledger entries reference them.
func (svc *Service) Deactivate(ctx context.Context, s Student) (Student, error) {
	s.IsActive = false
	s.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateStudent(ctx, s)
}
